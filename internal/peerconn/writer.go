package peerconn

import (
	"bytes"
	"encoding/binary"
	"net"
	"time"

	"github.com/torrentlabs/gorrent/internal/logger"
	"github.com/torrentlabs/gorrent/internal/peerprotocol"
)

// keepAlivePeriod is both how often we send a keep-alive, whether or not
// other messages were written in between, and (doubled) the peer idle-dead
// threshold.
const keepAlivePeriod = ReadTimeout / 2

// Writer serializes outbound messages onto the socket, interleaving a
// keep-alive every keepAlivePeriod.
type Writer struct {
	conn   net.Conn
	queueC chan peerprotocol.Message
	log    logger.Logger
	stopC  chan struct{}
	doneC  chan struct{}
	err    error
}

func newWriter(conn net.Conn, l logger.Logger) *Writer {
	return &Writer{
		conn:   conn,
		queueC: make(chan peerprotocol.Message),
		log:    l,
		stopC:  make(chan struct{}),
		doneC:  make(chan struct{}),
	}
}

// Send enqueues msg for writing. Returns false if the writer has already
// stopped.
func (w *Writer) Send(msg peerprotocol.Message) bool {
	select {
	case w.queueC <- msg:
		return true
	case <-w.doneC:
		return false
	}
}

func (w *Writer) stop() { close(w.stopC) }

// Err returns the error that caused Run to return, if any.
func (w *Writer) Err() error { return w.err }

// Run writes queued messages and periodic keep-alives until stop() is
// called or a write fails.
func (w *Writer) Run() {
	defer close(w.doneC)

	ticker := time.NewTicker(keepAlivePeriod)
	defer ticker.Stop()

	var queue []peerprotocol.Message
	for {
		if len(queue) == 0 {
			select {
			case msg := <-w.queueC:
				queue = append(queue, msg)
				continue
			case <-ticker.C:
				if err := w.writeKeepAlive(); err != nil {
					w.err = err
					return
				}
				continue
			case <-w.stopC:
				return
			}
		}
		select {
		case msg := <-w.queueC:
			queue = append(queue, msg)
		case <-ticker.C:
			if err := w.writeKeepAlive(); err != nil {
				w.err = err
				return
			}
		case <-w.stopC:
			return
		default:
			msg := queue[0]
			queue = queue[1:]
			if err := w.writeMessage(msg); err != nil {
				w.err = err
				return
			}
		}
	}
}

func (w *Writer) writeMessage(msg peerprotocol.Message) error {
	payload, err := msg.MarshalBinary()
	if err != nil {
		return err
	}
	buf := bytes.NewBuffer(make([]byte, 0, 4+1+len(payload)))
	header := struct {
		Length uint32
		ID     peerprotocol.MessageID
	}{
		Length: uint32(1 + len(payload)),
		ID:     msg.ID(),
	}
	if err := binary.Write(buf, binary.BigEndian, &header); err != nil {
		return err
	}
	buf.Write(payload)
	_, err = w.conn.Write(buf.Bytes())
	return err
}

func (w *Writer) writeKeepAlive() error {
	_, err := w.conn.Write([]byte{0, 0, 0, 0})
	return err
}
