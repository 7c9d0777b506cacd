package scheduler

import (
	"time"

	"github.com/google/btree"
	"github.com/torrentlabs/gorrent/internal/bitfield"
	"github.com/torrentlabs/gorrent/session"
)

// Schedule tries to bring sess's inflight count up to the pipelining
// window, picking candidate blocks in rarest-first piece order and
// ascending offset order within a piece. Safe to call whenever sess may
// have become usable: on unchoke, on a block arriving, on a timeout sweep,
// or after a piece completes or hash-fails.
//
// Schedule runs on both the session's own event-loop goroutine and the
// store-event-loop goroutine (via scheduleAll), so the whole
// check-then-send loop is serialized per session: otherwise two concurrent
// callers could each observe Inflight() below the window and both issue a
// request, pushing the peer past its pipelining budget.
func (s *Scheduler) Schedule(sess *session.Session) {
	st := s.sessionStateFor(sess)
	if st == nil {
		return
	}
	st.schedMu.Lock()
	defer st.schedMu.Unlock()

	if sess.WeAreChoked() {
		return
	}
	bf := sess.Bitfield()

	for sess.Inflight() < s.window {
		index, begin, length, ok := s.pickBlock(sess, bf)
		if !ok {
			return
		}
		if !sess.SendRequest(index, begin, length) {
			return // session died mid-scheduling
		}
	}
}

func (s *Scheduler) sessionStateFor(sess *session.Session) *sessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessions[sess]
}

// scheduleAll re-runs Schedule for every currently tracked session, used
// after a global state change (piece completion, hash failure) that could
// make previously-exhausted sessions useful again.
func (s *Scheduler) scheduleAll() {
	s.mu.Lock()
	sessions := make([]*session.Session, 0, len(s.sessions))
	for sess := range s.sessions {
		sessions = append(sessions, sess)
	}
	s.mu.Unlock()
	for _, sess := range sessions {
		s.Schedule(sess)
	}
}

// pickBlock selects, and immediately books, the next (piece, begin) to
// request from sess: a needed block in the rarest piece sess can serve, or
// — once endgame has latched on — a block already requested to some other
// session but not yet to sess.
func (s *Scheduler) pickBlock(sess *session.Session, bf *bitfield.Bitfield) (index, begin, length uint32, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	endgame := s.endgame
	s.order.Ascend(func(item btree.Item) bool {
		pi := item.(pieceItem)
		if pi.index >= bf.Len() || !bf.Test(pi.index) {
			return true
		}
		ps, exists := s.pieces[pi.index]
		if !exists {
			return true
		}
		if b, found := firstNeeded(ps); found {
			s.bookRequest(ps, b, sess)
			index, begin, length, ok = pi.index, b, min32(blockSize, ps.length-b), true
			return false
		}
		if endgame {
			if b, found := firstDuplicateCandidate(ps, sess); found {
				s.bookRequest(ps, b, sess)
				index, begin, length, ok = pi.index, b, min32(blockSize, ps.length-b), true
				return false
			}
		}
		return true
	})
	if ok {
		s.checkEndgame()
	}
	return
}

// bookRequest records sess as holding (implicit piece, begin), moving begin
// from needed to requested on first request. Called with mu held.
func (s *Scheduler) bookRequest(ps *pieceState, begin uint32, sess *session.Session) {
	bs, exists := ps.requested[begin]
	if !exists {
		bs = &blockState{deadlines: make(map[*session.Session]time.Time)}
		ps.requested[begin] = bs
		delete(ps.needed, begin)
	}
	bs.deadlines[sess] = time.Now().Add(RequestTimeout)
}

// checkEndgame latches endgame mode on, permanently, once the global count
// of remaining blocks drops to the threshold. Called with mu held.
func (s *Scheduler) checkEndgame() {
	if s.endgame {
		return
	}
	if s.remainingBlocks() <= EndgameThreshold {
		s.endgame = true
		s.log.Info("endgame mode latched on")
	}
}

func firstNeeded(ps *pieceState) (uint32, bool) {
	for begin := uint32(0); begin < ps.length; begin += blockSize {
		if ps.needed[begin] {
			return begin, true
		}
	}
	return 0, false
}

func firstDuplicateCandidate(ps *pieceState, sess *session.Session) (uint32, bool) {
	for begin := uint32(0); begin < ps.length; begin += blockSize {
		bs, ok := ps.requested[begin]
		if !ok {
			continue
		}
		if _, already := bs.deadlines[sess]; already {
			continue
		}
		return begin, true
	}
	return 0, false
}

func (s *Scheduler) remainingBlocks() int {
	total := 0
	for _, ps := range s.pieces {
		total += ps.remaining()
	}
	return total
}
