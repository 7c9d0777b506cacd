// Package peerconn implements the framed read/write halves of a peer
// connection, after the handshake has already completed.
package peerconn

import (
	"bufio"
	"encoding/binary"
	"errors"
	"io"
	"net"
	"time"

	"github.com/torrentlabs/gorrent/internal/logger"
	"github.com/torrentlabs/gorrent/internal/peerprotocol"
)

// ReadTimeout bounds how long we wait for the next frame before declaring
// the peer idle-dead; the write side sends keep-alives at half this period
// (keepAlivePeriod).
const ReadTimeout = 120 * time.Second

var errPayloadLength = errors.New("peerconn: invalid payload length")

// Reader decodes the peer's byte stream into peerprotocol messages,
// delivered on Messages() in strict receive order.
type Reader struct {
	conn     net.Conn
	buf      *bufio.Reader
	log      logger.Logger
	messages chan interface{}
	stopC    chan struct{}
	doneC    chan struct{}
	err      error
}

// maxFrameSize is big enough to buffer a whole piece frame (4-byte length +
// 1-byte id + 8-byte index/begin + a 16KiB block) without reallocating.
const maxFrameSize = 4 + 1 + 8 + 16*1024

func newReader(conn net.Conn, l logger.Logger) *Reader {
	return &Reader{
		conn:     conn,
		buf:      bufio.NewReaderSize(conn, maxFrameSize),
		log:      l,
		messages: make(chan interface{}),
		stopC:    make(chan struct{}),
		doneC:    make(chan struct{}),
	}
}

// Messages returns the channel of decoded messages; closed when Run returns.
func (r *Reader) Messages() <-chan interface{} { return r.messages }

func (r *Reader) stop() { close(r.stopC) }

// Run decodes frames until the connection is closed, stop() is called, or a
// protocol violation occurs.
func (r *Reader) Run() {
	defer close(r.doneC)
	defer close(r.messages)

	var err error
	defer func() {
		r.err = err
	}()

	first := true
	for {
		if err = r.conn.SetReadDeadline(time.Now().Add(ReadTimeout)); err != nil {
			return
		}

		var length uint32
		if err = binary.Read(r.buf, binary.BigEndian, &length); err != nil {
			return
		}
		if length == 0 {
			continue // keep-alive
		}

		var id peerprotocol.MessageID
		if err = binary.Read(r.buf, binary.BigEndian, &id); err != nil {
			return
		}
		payloadLen := length - 1

		var msg interface{}
		switch id {
		case peerprotocol.Choke:
			err = expectLength(payloadLen, 0)
			msg = peerprotocol.ChokeMessage{}
		case peerprotocol.Unchoke:
			err = expectLength(payloadLen, 0)
			msg = peerprotocol.UnchokeMessage{}
		case peerprotocol.Interested:
			err = expectLength(payloadLen, 0)
			msg = peerprotocol.InterestedMessage{}
		case peerprotocol.NotInterested:
			err = expectLength(payloadLen, 0)
			msg = peerprotocol.NotInterestedMessage{}
		case peerprotocol.Have:
			err = expectLength(payloadLen, 4)
			if err == nil {
				var hm peerprotocol.HaveMessage
				err = binary.Read(r.buf, binary.BigEndian, &hm)
				msg = hm
			}
		case peerprotocol.Bitfield:
			if !first {
				// Still accepted per the wire-protocol spec: a later
				// bitfield is a full replacement, not a protocol error.
				r.log.Warning("received bitfield after data-plane messages")
			}
			var bm peerprotocol.BitfieldMessage
			bm.Data = make([]byte, payloadLen)
			_, err = io.ReadFull(r.buf, bm.Data)
			msg = bm
		case peerprotocol.Request:
			err = expectLength(payloadLen, 12)
			if err == nil {
				var rm peerprotocol.RequestMessage
				err = binary.Read(r.buf, binary.BigEndian, &rm)
				msg = rm
			}
		case peerprotocol.Cancel:
			err = expectLength(payloadLen, 12)
			if err == nil {
				var cm peerprotocol.CancelMessage
				err = binary.Read(r.buf, binary.BigEndian, &cm.RequestMessage)
				msg = cm
			}
		case peerprotocol.Piece:
			if payloadLen < 8 {
				err = errPayloadLength
				break
			}
			var pm peerprotocol.PieceMessage
			if err = binary.Read(r.buf, binary.BigEndian, &pm.Index); err != nil {
				break
			}
			if err = binary.Read(r.buf, binary.BigEndian, &pm.Begin); err != nil {
				break
			}
			pm.Block = make([]byte, payloadLen-8)
			_, err = io.ReadFull(r.buf, pm.Block)
			msg = pm
		case peerprotocol.Port:
			err = expectLength(payloadLen, 2)
			if err == nil {
				var p struct{ Port uint16 }
				err = binary.Read(r.buf, binary.BigEndian, &p)
				msg = peerprotocol.PortMessage{Port: p.Port}
			}
		default:
			// Unknown message id: consume and discard the payload so the
			// framing stays in sync, but never fail the session for it.
			_, err = io.CopyN(io.Discard, r.buf, int64(payloadLen))
			if err == nil {
				continue
			}
		}
		if err != nil {
			return
		}
		first = false
		r.emit(msg)
	}
}

func (r *Reader) emit(msg interface{}) {
	select {
	case r.messages <- msg:
	case <-r.stopC:
	}
}

func expectLength(got, want uint32) error {
	if got != want {
		return errPayloadLength
	}
	return nil
}

// IsBenignCloseError reports whether err merely reflects an ordinary socket
// close rather than a protocol violation.
func IsBenignCloseError(err error) bool {
	if err == nil || err == io.EOF || err == io.ErrUnexpectedEOF {
		return true
	}
	_, ok := err.(*net.OpError)
	return ok
}

// Err returns the error that caused Run to return. A peer closing the
// connection yields io.EOF and a closed socket yields a *net.OpError; use
// IsBenignCloseError to tell those apart from a protocol violation.
func (r *Reader) Err() error { return r.err }
