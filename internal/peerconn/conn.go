package peerconn

import (
	"net"

	"github.com/torrentlabs/gorrent/internal/logger"
	"github.com/torrentlabs/gorrent/internal/peerprotocol"
)

// Conn is a post-handshake peer connection: a framed reader and a queued
// writer sharing one socket, each running in its own goroutine.
type Conn struct {
	conn   net.Conn
	id     [20]byte
	reader *Reader
	writer *Writer
	log    logger.Logger
	doneC  chan struct{}
}

// New wraps an already-handshaken net.Conn.
func New(conn net.Conn, id [20]byte, l logger.Logger) *Conn {
	return &Conn{
		conn:   conn,
		id:     id,
		reader: newReader(conn, l),
		writer: newWriter(conn, l),
		log:    l,
		doneC:  make(chan struct{}),
	}
}

// ID returns the remote peer-id learned at handshake time.
func (c *Conn) ID() [20]byte { return c.id }

// String renders the remote address, for logging.
func (c *Conn) String() string { return c.conn.RemoteAddr().String() }

// Messages returns the stream of decoded peer messages, in wire order.
// Closed when the connection terminates; check Err() afterward.
func (c *Conn) Messages() <-chan interface{} { return c.reader.Messages() }

// Send queues msg for the write goroutine. Returns false if the connection
// has already terminated.
func (c *Conn) Send(msg peerprotocol.Message) bool { return c.writer.Send(msg) }

// Err reports the error, if any, that terminated the connection. A protocol
// violation (framing, bad payload length) is distinguished from a plain
// socket close via IsBenignCloseError.
func (c *Conn) Err() error {
	if err := c.reader.Err(); err != nil {
		return err
	}
	return c.writer.Err()
}

// Close tears down both goroutines and the socket, and blocks until they
// have exited.
func (c *Conn) Close() {
	c.reader.stop()
	c.writer.stop()
	c.conn.Close()
	<-c.doneC
}

// Run drives the reader and writer goroutines until either exits, then
// closes the socket and waits for the other to finish. It returns when the
// connection has fully terminated.
func (c *Conn) Run() {
	defer close(c.doneC)

	readerDone := make(chan struct{})
	go func() {
		c.reader.Run()
		close(readerDone)
	}()

	writerDone := make(chan struct{})
	go func() {
		c.writer.Run()
		close(writerDone)
	}()

	select {
	case <-readerDone:
		c.writer.stop()
		c.conn.Close()
		<-writerDone
	case <-writerDone:
		c.reader.stop()
		c.conn.Close()
		<-readerDone
	}
}
