package btconn

import (
	"bytes"
	"context"
	"net"
	"testing"
	"time"
)

// serveOneHandshake accepts a single connection on l, reads the client's
// handshake, and replies with a handshake carrying replyInfoHash/replyPeerID.
func serveOneHandshake(t *testing.T, l net.Listener, replyInfoHash, replyPeerID [20]byte) {
	t.Helper()
	go func() {
		conn, err := l.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		if _, _, err := readHandshake(conn); err != nil {
			return
		}
		out := bytes.NewBuffer(make([]byte, 0, 68))
		writeHandshake(out, replyInfoHash, replyPeerID)
		conn.Write(out.Bytes())
	}()
}

func TestDialRejectsInfoHashMismatch(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer l.Close()

	wantInfoHash := [20]byte{1}
	wrongInfoHash := [20]byte{2}
	serverPeerID := [20]byte{9}
	serveOneHandshake(t, l, wrongInfoHash, serverPeerID)

	ourID := [20]byte{3}
	_, _, err = Dial(context.Background(), l.Addr(), 2*time.Second, wantInfoHash, ourID)
	if err != errInfoHashMismatch {
		t.Fatalf("err = %v, want errInfoHashMismatch", err)
	}
}

func TestDialRejectsSelfConnection(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer l.Close()

	infoHash := [20]byte{1}
	ourID := [20]byte{7}
	serveOneHandshake(t, l, infoHash, ourID) // server echoes our own peer id

	_, _, err = Dial(context.Background(), l.Addr(), 2*time.Second, infoHash, ourID)
	if err != ErrOwnConnection {
		t.Fatalf("err = %v, want ErrOwnConnection", err)
	}
}

func TestDialSucceedsAndReturnsPeerID(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer l.Close()

	infoHash := [20]byte{1}
	ourID := [20]byte{7}
	serverPeerID := [20]byte{8}
	serveOneHandshake(t, l, infoHash, serverPeerID)

	conn, peerID, err := Dial(context.Background(), l.Addr(), 2*time.Second, infoHash, ourID)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	if peerID != serverPeerID {
		t.Fatalf("peerID = %x, want %x", peerID, serverPeerID)
	}
}
