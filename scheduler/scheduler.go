// Package scheduler implements rarest-first piece selection with per-peer
// pipelining, endgame duplication, and request timeouts, on top of a
// store.Store and a set of live session.Sessions.
package scheduler

import (
	"sync"
	"time"

	"github.com/google/btree"
	"github.com/torrentlabs/gorrent/internal/logger"
	"github.com/torrentlabs/gorrent/internal/piece"
	"github.com/torrentlabs/gorrent/session"
	"github.com/torrentlabs/gorrent/store"
)

const (
	blockSize = piece.BlockSize

	// RequestTimeout is how long a BlockRequest may remain outstanding
	// before the maintenance pass reclaims it.
	RequestTimeout = 30 * time.Second
	// MaintenanceInterval is how often expired requests are collected.
	MaintenanceInterval = 5 * time.Second
	// EndgameThreshold is the global remaining-block count at or below
	// which endgame duplication latches on for the rest of the run.
	EndgameThreshold = 20
	// snubEvictThreshold is the number of request timeouts a session may
	// accrue in total (a delivered block does not reset the count) before
	// the scheduler reports it as worth evicting.
	snubEvictThreshold = 3
)

// sessionState is the scheduler's bookkeeping for one live session: a
// strike counter for repeated request timeouts, and the mutex that serializes
// Schedule against itself for this session. Schedule is invoked both from
// the session's own event-loop goroutine and from scheduleAll on the
// store-event-loop goroutine; without this lock two concurrent calls could
// each observe Inflight() < window and both issue a request, pushing the
// peer's in-flight count past the pipelining budget.
type sessionState struct {
	strikes int
	schedMu sync.Mutex
}

// Scheduler owns the request tables and availability counts described in
// the data model. All mutation happens under mu, giving the "a single
// inbound event's mutation is indivisible" guarantee regardless of how many
// goroutines call in.
type Scheduler struct {
	store     *store.Store
	window    int
	log       logger.Logger

	mu           sync.Mutex
	availability []uint32
	order        *btree.BTree
	pieces       map[uint32]*pieceState // incomplete pieces only
	sessions     map[*session.Session]*sessionState
	endgame      bool

	evicted chan *session.Session
}

// New creates a Scheduler for a store whose piece count is fixed at
// st.NumPieces().
func New(st *store.Store, window int) *Scheduler {
	s := &Scheduler{
		store:        st,
		window:       window,
		log:          logger.New("scheduler"),
		availability: make([]uint32, st.NumPieces()),
		order:        btree.New(32),
		pieces:       make(map[uint32]*pieceState),
		sessions:     make(map[*session.Session]*sessionState),
		evicted:      make(chan *session.Session, 8),
	}
	for i := uint32(0); i < st.NumPieces(); i++ {
		if st.Completed(i) {
			continue
		}
		s.pieces[i] = newPieceState(st.Piece(i).Length)
		s.order.ReplaceOrInsert(pieceItem{availability: 0, index: i})
	}
	return s
}

// Evicted reports sessions the scheduler judges worth disconnecting, e.g.
// for repeated request timeouts. The orchestrator decides whether to act on
// it; eviction policy itself is the orchestrator's concern.
func (s *Scheduler) Evicted() <-chan *session.Session { return s.evicted }

// AddSession registers a newly connected session for scheduling.
func (s *Scheduler) AddSession(sess *session.Session) {
	s.mu.Lock()
	s.sessions[sess] = &sessionState{}
	s.mu.Unlock()
}

// RemoveSession drops a session's bookkeeping and returns its outstanding
// requests to the needed set.
func (s *Scheduler) RemoveSession(sess *session.Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.releaseSessionRequests(sess)
	s.withdrawAvailability(sess)
	delete(s.sessions, sess)
}

func (s *Scheduler) releaseSessionRequests(sess *session.Session) {
	for _, ps := range s.pieces {
		for begin, bs := range ps.requested {
			if _, ok := bs.deadlines[sess]; !ok {
				continue
			}
			delete(bs.deadlines, sess)
			if len(bs.deadlines) == 0 {
				delete(ps.requested, begin)
				ps.needed[begin] = true
			}
		}
	}
}

// withdrawAvailability decrements AvailabilityMap for every piece sess had
// advertised. Called with mu held.
func (s *Scheduler) withdrawAvailability(sess *session.Session) {
	bf := sess.Bitfield()
	for i := uint32(0); i < bf.Len(); i++ {
		if bf.Test(i) {
			s.decAvailability(i)
		}
	}
}

func (s *Scheduler) incAvailability(index uint32) {
	old := s.availability[index]
	s.availability[index] = old + 1
	if _, incomplete := s.pieces[index]; incomplete {
		s.order.Delete(pieceItem{availability: old, index: index})
		s.order.ReplaceOrInsert(pieceItem{availability: old + 1, index: index})
	}
}

func (s *Scheduler) decAvailability(index uint32) {
	old := s.availability[index]
	if old == 0 {
		return
	}
	s.availability[index] = old - 1
	if _, incomplete := s.pieces[index]; incomplete {
		s.order.Delete(pieceItem{availability: old, index: index})
		s.order.ReplaceOrInsert(pieceItem{availability: old - 1, index: index})
	}
}
