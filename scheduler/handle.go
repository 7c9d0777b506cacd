package scheduler

import (
	"time"

	"github.com/torrentlabs/gorrent/session"
	"github.com/torrentlabs/gorrent/store"
)

// HandleSessionEvent folds one event from a session into the scheduler's
// state and re-runs scheduling for the sessions it could affect. It is safe
// to call concurrently for different sessions; every change to the
// scheduler's own tables runs under mu.
func (s *Scheduler) HandleSessionEvent(sess *session.Session, ev session.Event) {
	switch e := ev.(type) {
	case session.BitfieldEvent:
		s.mu.Lock()
		for i := uint32(0); i < e.Length; i++ {
			if testBit(e.Bitfield, i) {
				s.incAvailability(i)
			}
		}
		s.mu.Unlock()
		s.updateInterest(sess)
		s.Schedule(sess)
	case session.HaveEvent:
		s.mu.Lock()
		if e.Index < uint32(len(s.availability)) {
			s.incAvailability(e.Index)
		}
		s.mu.Unlock()
		s.updateInterest(sess)
		s.Schedule(sess)
	case session.UnchokeEvent:
		s.Schedule(sess)
	case session.ChokeEvent:
		s.mu.Lock()
		s.releaseSessionRequests(sess)
		s.mu.Unlock()
		sess.ResetInflight()
	case session.PieceEvent:
		s.handlePiece(sess, e)
	case session.CloseEvent, session.ErrorEvent:
		s.RemoveSession(sess)
	}
}

func testBit(data []byte, i uint32) bool {
	byteIdx := i / 8
	if int(byteIdx) >= len(data) {
		return false
	}
	return data[byteIdx]&(1<<(7-i%8)) != 0
}

func (s *Scheduler) handlePiece(sess *session.Session, e session.PieceEvent) {
	s.mu.Lock()
	ps, ok := s.pieces[e.Index]
	if ok {
		if bs, ok := ps.requested[e.Begin]; ok {
			// First arrival for this block: cancel every other session
			// still holding the duplicate (endgame) request.
			for other := range bs.deadlines {
				if other != sess {
					other.SendCancel(e.Index, e.Begin, uint32(len(e.Block)))
				}
			}
			delete(ps.requested, e.Begin)
		}
	}
	s.mu.Unlock()

	if err := s.store.AddBlock(e.Index, e.Begin, e.Block); err != nil {
		s.log.Errorf("rejecting block (%d, %d): %s", e.Index, e.Begin, err)
	}
	s.updateInterest(sess)
	s.Schedule(sess)
}

// updateInterest recomputes whether we still want anything sess has to
// offer and tells the peer only when that flips, mirroring the teacher's
// updateInterestedState: a compliant peer (rain included) only unchokes
// downloaders that have declared interest, so this is load-bearing for
// ever getting unchoked against a real swarm, not just a bookkeeping nicety.
func (s *Scheduler) updateInterest(sess *session.Session) {
	bf := sess.Bitfield()

	s.mu.Lock()
	interested := false
	for index := range s.pieces {
		if index < bf.Len() && bf.Test(index) {
			interested = true
			break
		}
	}
	s.mu.Unlock()

	if interested == sess.WeInterested() {
		return
	}
	if interested {
		sess.SendInterested()
	} else {
		sess.SendNotInterested()
	}
}

// updateInterestAll recomputes interest for every tracked session, used
// after a global change to the needed-piece set (a piece completing,
// hash-failing, or failing to write) that could make a session we'd lost
// interest in newly useful again, or vice versa.
func (s *Scheduler) updateInterestAll() {
	s.mu.Lock()
	sessions := make([]*session.Session, 0, len(s.sessions))
	for sess := range s.sessions {
		sessions = append(sessions, sess)
	}
	s.mu.Unlock()
	for _, sess := range sessions {
		s.updateInterest(sess)
	}
}

// HandleStoreEvent folds a completion/failure event from the store into the
// scheduler's piece tables.
func (s *Scheduler) HandleStoreEvent(ev store.Event) {
	switch e := ev.(type) {
	case store.PieceCompletedEvent:
		s.mu.Lock()
		delete(s.pieces, e.Index)
		s.order.Delete(pieceItem{availability: s.availability[e.Index], index: e.Index})
		sessions := make([]*session.Session, 0, len(s.sessions))
		for sess := range s.sessions {
			sessions = append(sessions, sess)
		}
		s.mu.Unlock()
		for _, sess := range sessions {
			sess.SendHave(e.Index)
		}
		s.updateInterestAll()
		s.scheduleAll()
	case store.HashFailedEvent:
		s.mu.Lock()
		if ps, ok := s.pieces[e.Index]; ok {
			ps.reset()
		}
		s.mu.Unlock()
		s.updateInterestAll()
		s.scheduleAll()
	case store.PieceWriteFailedEvent:
		s.mu.Lock()
		if ps, ok := s.pieces[e.Index]; ok {
			ps.reset()
		}
		s.mu.Unlock()
		s.updateInterestAll()
		s.scheduleAll()
	}
}

// Maintain collects expired requests; call periodically (every
// MaintenanceInterval).
func (s *Scheduler) Maintain() {
	now := time.Now()
	type expired struct {
		sess         *session.Session
		index, begin uint32
		length       uint32
	}
	var toCancel []expired

	s.mu.Lock()
	for index, ps := range s.pieces {
		for begin, bs := range ps.requested {
			length := min32(blockSize, ps.length-begin)
			for sess, deadline := range bs.deadlines {
				if now.After(deadline) {
					toCancel = append(toCancel, expired{sess, index, begin, length})
					delete(bs.deadlines, sess)
				}
			}
			if len(bs.deadlines) == 0 {
				delete(ps.requested, begin)
				ps.needed[begin] = true
			}
		}
	}
	s.mu.Unlock()

	strikeCounts := make(map[*session.Session]int)
	for _, ex := range toCancel {
		ex.sess.SendCancel(ex.index, ex.begin, ex.length)
		strikeCounts[ex.sess]++
	}

	s.mu.Lock()
	for sess, n := range strikeCounts {
		st, ok := s.sessions[sess]
		if !ok {
			continue
		}
		st.strikes += n
	}
	var toEvict []*session.Session
	for sess, st := range s.sessions {
		if st.strikes >= snubEvictThreshold {
			toEvict = append(toEvict, sess)
			st.strikes = 0
		}
	}
	s.mu.Unlock()

	for _, sess := range toEvict {
		select {
		case s.evicted <- sess:
		default:
		}
	}
	if len(toCancel) > 0 {
		s.scheduleAll()
	}
}

func min32(a, b uint32) uint32 {
	if a < b {
		return a
	}
	return b
}
