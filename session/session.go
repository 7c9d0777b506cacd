package session

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/juju/ratelimit"
	"github.com/torrentlabs/gorrent/internal/bitfield"
	"github.com/torrentlabs/gorrent/internal/btconn"
	"github.com/torrentlabs/gorrent/internal/logger"
	"github.com/torrentlabs/gorrent/internal/peerconn"
	"github.com/torrentlabs/gorrent/internal/peerprotocol"
)

// RequestWindow is the default per-session pipelining budget W.
const RequestWindow = 12

// errShortBitfield is returned by dispatch when a peer's bitfield message
// carries fewer bytes than its advertised piece count requires.
var errShortBitfield = errors.New("session: bitfield payload shorter than piece count requires")

// DialTimeout bounds TCP connect plus handshake.
const DialTimeout = 10 * time.Second

// Session is one peer connection: the handshake, the framed codec, and the
// choke/interest/bitfield/inflight state machine described in the data
// model. It is created on successful connect and destroyed on close.
type Session struct {
	Addr   net.Addr
	PeerID [20]byte

	conn *peerconn.Conn
	log  logger.Logger

	mu             sync.Mutex
	weAreChoked    bool // peer is choking us
	weInterested   bool // we are interested in peer
	peerChoked     bool // we are choking peer
	peerInterested bool // peer is interested in us
	bitfield       *bitfield.Bitfield
	inflight       int
	lastActivity   time.Time
	throughput     throughput
	limiter        *ratelimit.Bucket

	events chan Event
}

// Dial performs the outbound connect+handshake and, on success, returns a
// running Session. numPieces sizes the session's availability bitfield.
func Dial(ctx context.Context, addr net.Addr, infoHash, ourID [20]byte, numPieces uint32) (*Session, error) {
	conn, peerID, err := btconn.Dial(ctx, addr, DialTimeout, infoHash, ourID)
	if err != nil {
		return nil, err
	}
	log := logger.New("peer " + addr.String())
	s := &Session{
		Addr:         addr,
		PeerID:       peerID,
		conn:         peerconn.New(conn, peerID, log),
		log:          log,
		weAreChoked:  true,
		peerChoked:   true,
		bitfield:     bitfield.New(numPieces),
		lastActivity: time.Now(),
		throughput:   newThroughput(),
		events:       make(chan Event, 64),
	}
	return s, nil
}

// NewUnconnected builds a Session with no live connection, for callers that
// need to exercise scheduling or bookkeeping against a Session without
// paying for a TCP handshake. Every Send* method degrades to updating local
// state only, skipping the wire write, so the scheduler's decision paths
// (Schedule, updateInterest, Maintain's cancel/strike bookkeeping) run
// unmodified against it. Run still requires a real conn; Close is a no-op.
func NewUnconnected(numPieces uint32) *Session {
	return &Session{
		weAreChoked:  true,
		peerChoked:   true,
		bitfield:     bitfield.New(numPieces),
		lastActivity: time.Now(),
		throughput:   newThroughput(),
		events:       make(chan Event, 64),
	}
}

// NewUnconnectedWithBitfield is NewUnconnected for a peer that has already
// unchoked us and advertised have, for driving the scheduler's dispatch
// decisions (rarest-first ordering, endgame duplication) against known
// availability without a live handshake.
func NewUnconnectedWithBitfield(numPieces uint32, have ...uint32) *Session {
	bf := bitfield.New(numPieces)
	for _, i := range have {
		bf.Set(i)
	}
	return &Session{
		weAreChoked:  false,
		peerChoked:   true,
		bitfield:     bf,
		lastActivity: time.Now(),
		throughput:   newThroughput(),
		events:       make(chan Event, 64),
	}
}

// SetLimiter installs a token-bucket download-rate limiter. b may be nil to
// disable limiting. Must be called before Run.
func (s *Session) SetLimiter(b *ratelimit.Bucket) {
	s.mu.Lock()
	s.limiter = b
	s.mu.Unlock()
}

// Events returns the session's typed event stream. Exactly one of
// CloseEvent/ErrorEvent is delivered last, then the channel is closed.
func (s *Session) Events() <-chan Event { return s.events }

// Run drives the connection and translates its message stream into events.
// It blocks until the connection terminates.
func (s *Session) Run() {
	go s.conn.Run()
	defer close(s.events)

	for raw := range s.conn.Messages() {
		s.mu.Lock()
		s.lastActivity = time.Now()
		s.mu.Unlock()
		if err := s.dispatch(raw); err != nil {
			s.conn.Close()
			s.emit(ErrorEvent{baseEvent{s}, err})
			return
		}
	}

	if err := s.conn.Err(); err != nil && !peerconn.IsBenignCloseError(err) {
		s.emit(ErrorEvent{baseEvent{s}, err})
	} else {
		s.emit(CloseEvent{baseEvent{s}})
	}
}

// dispatch translates one decoded wire message into session-state mutation
// plus an emitted event. A non-nil return is a protocol violation that
// fails this session only: Run closes the connection and emits ErrorEvent
// instead of letting the caller continue reading from a peer that has
// already broken the framing contract.
func (s *Session) dispatch(raw interface{}) error {
	switch m := raw.(type) {
	case peerprotocol.ChokeMessage:
		s.mu.Lock()
		s.weAreChoked = true
		s.mu.Unlock()
		s.emit(ChokeEvent{baseEvent{s}})
	case peerprotocol.UnchokeMessage:
		s.mu.Lock()
		s.weAreChoked = false
		s.mu.Unlock()
		s.emit(UnchokeEvent{baseEvent{s}})
	case peerprotocol.InterestedMessage:
		s.mu.Lock()
		s.peerInterested = true
		s.mu.Unlock()
		s.emit(InterestedEvent{baseEvent{s}})
	case peerprotocol.NotInterestedMessage:
		s.mu.Lock()
		s.peerInterested = false
		s.mu.Unlock()
		s.emit(NotInterestedEvent{baseEvent{s}})
	case peerprotocol.HaveMessage:
		s.mu.Lock()
		if m.Index < s.bitfield.Len() {
			s.bitfield.Set(m.Index)
		}
		s.mu.Unlock()
		s.emit(HaveEvent{baseEvent{s}, m.Index})
	case peerprotocol.BitfieldMessage:
		s.mu.Lock()
		want := bitfield.NumBytes(s.bitfield.Len())
		if len(m.Data) < want {
			s.mu.Unlock()
			return errShortBitfield
		}
		bf := bitfield.NewBytes(append([]byte(nil), m.Data...), s.bitfield.Len())
		s.bitfield = bf
		s.mu.Unlock()
		s.emit(BitfieldEvent{baseEvent{s}, m.Data, s.bitfield.Len()})
	case peerprotocol.RequestMessage:
		s.emit(RequestEvent{baseEvent{s}, m.Index, m.Begin, m.Length})
	case peerprotocol.CancelMessage:
		s.emit(CancelEvent{baseEvent{s}, m.Index, m.Begin, m.Length})
	case peerprotocol.PieceMessage:
		s.mu.Lock()
		if s.inflight > 0 {
			s.inflight--
		}
		s.throughput.markDownload(len(m.Block))
		limiter := s.limiter
		s.mu.Unlock()
		if limiter != nil {
			limiter.Wait(int64(len(m.Block)))
		}
		s.emit(PieceEvent{baseEvent{s}, m.Index, m.Begin, m.Block})
	case peerprotocol.PortMessage:
		// Accepted and discarded: the engine never runs a DHT node.
	}
	return nil
}

func (s *Session) emit(e Event) {
	select {
	case s.events <- e:
	default:
		// The scheduler is the sole consumer and normally keeps up with a
		// single session's event rate; if the buffer is full, fall back to
		// a blocking send, which holds the read loop until the consumer
		// takes the event.
		s.events <- e
	}
}

// Bitfield returns a snapshot copy of the peer's advertised availability.
func (s *Session) Bitfield() *bitfield.Bitfield {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bitfield.Copy()
}

// WeAreChoked reports whether the peer is currently choking us.
func (s *Session) WeAreChoked() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.weAreChoked
}

// WeInterested reports whether we last told the peer we are interested.
func (s *Session) WeInterested() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.weInterested
}

// Inflight returns the number of outstanding BlockRequests this session
// owns.
func (s *Session) Inflight() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inflight
}

// IdleSince returns the duration since the last byte was received.
func (s *Session) IdleSince() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return time.Since(s.lastActivity)
}

// SendInterested/SendNotInterested set our half of the interest state and
// notify the peer. A Session built by NewUnconnected has no conn to notify;
// the state change is still recorded so WeInterested reflects it.
func (s *Session) SendInterested() {
	s.mu.Lock()
	s.weInterested = true
	s.mu.Unlock()
	if s.conn != nil {
		s.conn.Send(peerprotocol.InterestedMessage{})
	}
}

func (s *Session) SendNotInterested() {
	s.mu.Lock()
	s.weInterested = false
	s.mu.Unlock()
	if s.conn != nil {
		s.conn.Send(peerprotocol.NotInterestedMessage{})
	}
}

// SendHave announces a newly completed, verified piece.
func (s *Session) SendHave(index uint32) {
	if s.conn != nil {
		s.conn.Send(peerprotocol.HaveMessage{Index: index})
	}
}

// SendBitfield announces our full availability. Defined for symmetry with
// the wire protocol and unused by this download-only engine today, since
// an all-zero bitfield carries no information to a peer we never seed to;
// kept cheap to retain in case seeding is ever added.
func (s *Session) SendBitfield(data []byte) {
	if s.conn != nil {
		s.conn.Send(peerprotocol.BitfieldMessage{Data: data})
	}
}

// SendRequest issues a block request and increments the inflight counter.
// Returns false if the connection has already terminated.
func (s *Session) SendRequest(index, begin, length uint32) bool {
	s.mu.Lock()
	s.inflight++
	s.mu.Unlock()
	if s.conn == nil {
		return true
	}
	if ok := s.conn.Send(peerprotocol.RequestMessage{Index: index, Begin: begin, Length: length}); !ok {
		s.mu.Lock()
		s.inflight--
		s.mu.Unlock()
		return false
	}
	return true
}

// SendCancel withdraws a previously sent request and decrements the
// inflight counter. Callers must only call this for requests they know are
// still outstanding on this session.
func (s *Session) SendCancel(index, begin, length uint32) {
	s.mu.Lock()
	if s.inflight > 0 {
		s.inflight--
	}
	s.mu.Unlock()
	if s.conn != nil {
		s.conn.Send(peerprotocol.CancelMessage{RequestMessage: peerprotocol.RequestMessage{
			Index: index, Begin: begin, Length: length,
		}})
	}
}

// ResetInflight zeroes the inflight counter without sending any wire
// message, for the choke case: once a peer chokes us it will never answer
// pending requests, so the scheduler drops them locally.
func (s *Session) ResetInflight() {
	s.mu.Lock()
	s.inflight = 0
	s.mu.Unlock()
}

// Close terminates the session's socket and both its goroutines. A no-op
// on a Session built by NewUnconnected, which has neither.
func (s *Session) Close() {
	if s.conn != nil {
		s.conn.Close()
	}
}
