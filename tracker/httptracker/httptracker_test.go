package httptracker

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/torrentlabs/gorrent/tracker"
)

func TestAnnounceDecodesCompactPeers(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// interval 900, one compact peer 127.0.0.1:6881
		w.Write([]byte("d8:intervali900e5:peers6:\x7f\x00\x00\x01\x1a\xe1e"))
	}))
	defer srv.Close()

	tr, err := New(srv.URL, 5*time.Second)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := tr.Announce(context.Background(), tracker.AnnounceRequest{NumWant: 30})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Interval != 900*time.Second {
		t.Fatalf("interval = %s, want 900s", resp.Interval)
	}
	if len(resp.Peers) != 1 || resp.Peers[0].Port != 6881 {
		t.Fatalf("peers = %v, want one peer on port 6881", resp.Peers)
	}
}

func TestAnnounceSurfacesFailureReason(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("d14:failure reason13:banned cliente"))
	}))
	defer srv.Close()

	tr, err := New(srv.URL, 5*time.Second)
	if err != nil {
		t.Fatal(err)
	}
	_, err = tr.Announce(context.Background(), tracker.AnnounceRequest{})
	if err == nil {
		t.Fatal("expected failure-reason error")
	}
	if err.Error() != "banned client" {
		t.Fatalf("err = %q, want %q", err.Error(), "banned client")
	}
}

func TestDecodePeersDictionaryForm(t *testing.T) {
	raw := []byte("ld2:ip9:127.0.0.14:porti6881eee")
	peers, err := decodePeers(raw)
	if err != nil {
		t.Fatal(err)
	}
	if len(peers) != 1 || peers[0].Port != 6881 || peers[0].IP.String() != "127.0.0.1" {
		t.Fatalf("peers = %v", peers)
	}
}
