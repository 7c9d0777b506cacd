// Package btconn implements the BitTorrent handshake and outbound dial: the
// 68-byte exchange that establishes a peer connection's info-hash identity
// before any framed message is sent.
package btconn

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
)

var (
	errInvalidProtocol = errors.New("btconn: invalid protocol string")
	errInfoHashMismatch = errors.New("btconn: info hash mismatch")

	// ErrOwnConnection is returned when a peer's handshake reports our own
	// peer-id, meaning we dialed ourselves.
	ErrOwnConnection = errors.New("btconn: connected to self")
)

var pstr = [19]byte{'B', 'i', 't', 'T', 'o', 'r', 'r', 'e', 'n', 't', ' ', 'p', 'r', 'o', 't', 'o', 'c', 'o', 'l'}

// reserved is the 8-byte extension-flags field. The engine never negotiates
// the fast extension or the extension protocol, so it is always zero.
var reserved [8]byte

func writeHandshake(w io.Writer, infoHash, peerID [20]byte) error {
	h := struct {
		Pstrlen  byte
		Pstr     [19]byte
		Reserved [8]byte
		InfoHash [20]byte
		PeerID   [20]byte
	}{
		Pstrlen:  byte(len(pstr)),
		Pstr:     pstr,
		Reserved: reserved,
		InfoHash: infoHash,
		PeerID:   peerID,
	}
	return binary.Write(w, binary.BigEndian, h)
}

func readHandshake(r io.Reader) (infoHash, peerID [20]byte, err error) {
	var pstrLen byte
	if err = binary.Read(r, binary.BigEndian, &pstrLen); err != nil {
		return
	}
	if pstrLen != byte(len(pstr)) {
		err = errInvalidProtocol
		return
	}
	gotPstr := make([]byte, pstrLen)
	if _, err = io.ReadFull(r, gotPstr); err != nil {
		return
	}
	if !bytes.Equal(gotPstr, pstr[:]) {
		err = errInvalidProtocol
		return
	}
	var gotReserved [8]byte
	if _, err = io.ReadFull(r, gotReserved[:]); err != nil {
		return
	}
	if _, err = io.ReadFull(r, infoHash[:]); err != nil {
		return
	}
	_, err = io.ReadFull(r, peerID[:])
	return
}
