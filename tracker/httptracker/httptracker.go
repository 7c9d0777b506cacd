// Package httptracker implements tracker.Tracker over BEP3 HTTP announce
// requests, with both the compact and dictionary peer-list encodings.
package httptracker

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/torrentlabs/gorrent/internal/logger"
	"github.com/torrentlabs/gorrent/tracker"
	"github.com/zeebo/bencode"
)

// HTTPTracker announces over plain HTTP(S) GET requests.
type HTTPTracker struct {
	url       *url.URL
	log       logger.Logger
	http      *http.Client
	trackerID string
}

var _ tracker.Tracker = (*HTTPTracker)(nil)

// New returns an HTTPTracker for the given announce URL. timeout bounds the
// whole announce round-trip.
func New(rawURL string, timeout time.Duration) (*HTTPTracker, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, err
	}
	return &HTTPTracker{
		url: u,
		log: logger.New("tracker " + u.Host),
		http: &http.Client{
			Timeout: timeout,
		},
	}, nil
}

type announceResponse struct {
	FailureReason  string             `bencode:"failure reason,omitempty"`
	WarningMessage string             `bencode:"warning message,omitempty"`
	Interval       int32              `bencode:"interval"`
	MinInterval    int32              `bencode:"min interval,omitempty"`
	TrackerID      string             `bencode:"tracker id,omitempty"`
	Complete       int32              `bencode:"complete,omitempty"`
	Incomplete     int32              `bencode:"incomplete,omitempty"`
	Peers          bencode.RawMessage `bencode:"peers,omitempty"`
}

// Announce performs one BEP3 HTTP(S) announce round-trip.
func (t *HTTPTracker) Announce(ctx context.Context, req tracker.AnnounceRequest) (*tracker.AnnounceResponse, error) {
	q := t.url.Query()
	q.Set("info_hash", string(req.InfoHash[:]))
	q.Set("peer_id", string(req.PeerID[:]))
	q.Set("port", strconv.FormatUint(uint64(req.Port), 10))
	q.Set("uploaded", strconv.FormatInt(req.Uploaded, 10))
	q.Set("downloaded", strconv.FormatInt(req.Downloaded, 10))
	q.Set("left", strconv.FormatInt(req.Left, 10))
	q.Set("compact", "1")
	q.Set("numwant", strconv.Itoa(req.NumWant))
	if req.Event != tracker.EventNone {
		q.Set("event", req.Event.String())
	}
	if t.trackerID != "" {
		q.Set("trackerid", t.trackerID)
	}

	u := *t.url
	u.RawQuery = q.Encode()
	t.log.Debugf("announcing to %q", u.String())

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}

	resp, err := t.http.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("httptracker: status %d: %q", resp.StatusCode, string(body))
	}

	var ar announceResponse
	if err := bencode.DecodeBytes(body, &ar); err != nil {
		return nil, err
	}
	if ar.WarningMessage != "" {
		t.log.Warning(ar.WarningMessage)
	}
	if ar.FailureReason != "" {
		return nil, tracker.Error(ar.FailureReason)
	}
	if ar.TrackerID != "" {
		t.trackerID = ar.TrackerID
	}

	peers, err := decodePeers(ar.Peers)
	if err != nil {
		return nil, err
	}

	return &tracker.AnnounceResponse{
		Interval: time.Duration(ar.Interval) * time.Second,
		Leechers: ar.Incomplete,
		Seeders:  ar.Complete,
		Peers:    peers,
	}, nil
}

// decodePeers accepts either BEP23's compact byte-string form or the older
// list-of-dictionaries form.
func decodePeers(raw bencode.RawMessage) ([]*net.TCPAddr, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	if raw[0] == 'l' {
		var dicts []struct {
			IP   string `bencode:"ip"`
			Port uint16 `bencode:"port"`
		}
		if err := bencode.DecodeBytes(raw, &dicts); err != nil {
			return nil, err
		}
		peers := make([]*net.TCPAddr, len(dicts))
		for i, d := range dicts {
			peers[i] = &net.TCPAddr{IP: net.ParseIP(d.IP), Port: int(d.Port)}
		}
		return peers, nil
	}
	var compact []byte
	if err := bencode.DecodeBytes(raw, &compact); err != nil {
		return nil, err
	}
	return tracker.DecodePeersCompact(compact)
}
