package peerprotocol

import (
	"bytes"
	"encoding"
	"encoding/binary"
)

// Message is anything that can appear after the length prefix and id byte
// of a frame.
type Message interface {
	encoding.BinaryMarshaler
	ID() MessageID
}

type emptyMessage struct{}

func (emptyMessage) MarshalBinary() ([]byte, error) { return []byte{}, nil }

type ChokeMessage struct{ emptyMessage }
type UnchokeMessage struct{ emptyMessage }
type InterestedMessage struct{ emptyMessage }
type NotInterestedMessage struct{ emptyMessage }

func (ChokeMessage) ID() MessageID         { return Choke }
func (UnchokeMessage) ID() MessageID       { return Unchoke }
func (InterestedMessage) ID() MessageID    { return Interested }
func (NotInterestedMessage) ID() MessageID { return NotInterested }

// HaveMessage announces that the sender now has a complete, verified piece.
type HaveMessage struct {
	Index uint32
}

func (HaveMessage) ID() MessageID { return Have }

func (m HaveMessage) MarshalBinary() ([]byte, error) {
	buf := bytes.NewBuffer(make([]byte, 0, 4))
	err := binary.Write(buf, binary.BigEndian, m)
	return buf.Bytes(), err
}

// BitfieldMessage carries the sender's full availability bitfield.
type BitfieldMessage struct {
	Data []byte
}

func (BitfieldMessage) ID() MessageID { return Bitfield }

func (m BitfieldMessage) MarshalBinary() ([]byte, error) {
	return m.Data, nil
}

// RequestMessage asks for a single block of a piece.
type RequestMessage struct {
	Index, Begin, Length uint32
}

func (RequestMessage) ID() MessageID { return Request }

func (m RequestMessage) MarshalBinary() ([]byte, error) {
	buf := bytes.NewBuffer(make([]byte, 0, 12))
	err := binary.Write(buf, binary.BigEndian, m)
	return buf.Bytes(), err
}

// CancelMessage withdraws a previously sent RequestMessage.
type CancelMessage struct{ RequestMessage }

func (CancelMessage) ID() MessageID { return Cancel }

// PieceMessage is the header of a piece frame; Block holds the payload
// bytes that follow Index and Begin on the wire.
type PieceMessage struct {
	Index, Begin uint32
	Block        []byte
}

func (PieceMessage) ID() MessageID { return Piece }

func (m PieceMessage) MarshalBinary() ([]byte, error) {
	buf := bytes.NewBuffer(make([]byte, 0, 8+len(m.Block)))
	if err := binary.Write(buf, binary.BigEndian, m.Index); err != nil {
		return nil, err
	}
	if err := binary.Write(buf, binary.BigEndian, m.Begin); err != nil {
		return nil, err
	}
	buf.Write(m.Block)
	return buf.Bytes(), nil
}

// PortMessage advertises a DHT listen port. The engine does not run a DHT
// node; PortMessage is only accepted and parsed because BEP3-speaking peers
// send it unconditionally, and unknown-but-recognized ids must not fail the
// session.
type PortMessage struct {
	Port uint16
}

func (PortMessage) ID() MessageID { return Port }

func (m PortMessage) MarshalBinary() ([]byte, error) {
	buf := bytes.NewBuffer(make([]byte, 0, 2))
	err := binary.Write(buf, binary.BigEndian, m)
	return buf.Bytes(), err
}
