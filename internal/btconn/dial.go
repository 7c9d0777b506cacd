package btconn

import (
	"bytes"
	"context"
	"net"
	"time"
)

// Dial performs an outbound TCP connect followed by the BitTorrent
// handshake, under a single deadline covering both. It returns the open
// connection (positioned right after the handshake bytes) and the peer's
// reported peer-id, or an error if anything in the exchange fails.
func Dial(ctx context.Context, addr net.Addr, timeout time.Duration, infoHash, ourID [20]byte) (conn net.Conn, peerID [20]byte, err error) {
	dialCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	dialer := net.Dialer{}
	conn, err = dialer.DialContext(dialCtx, addr.Network(), addr.String())
	if err != nil {
		return
	}
	defer func() {
		if err != nil {
			conn.Close()
		}
	}()

	// The handshake runs under the same deadline the connect did, so both
	// together fit within timeout.
	deadline, _ := dialCtx.Deadline()
	if err = conn.SetDeadline(deadline); err != nil {
		return
	}

	out := bytes.NewBuffer(make([]byte, 0, 68))
	if err = writeHandshake(out, infoHash, ourID); err != nil {
		return
	}
	if _, err = conn.Write(out.Bytes()); err != nil {
		return
	}

	var gotInfoHash [20]byte
	gotInfoHash, peerID, err = readHandshake(conn)
	if err != nil {
		return
	}
	if gotInfoHash != infoHash {
		err = errInfoHashMismatch
		return
	}
	if peerID == ourID {
		err = ErrOwnConnection
		return
	}

	// Clear the handshake deadline; framing-level deadlines take over from
	// here.
	err = conn.SetDeadline(time.Time{})
	return
}
