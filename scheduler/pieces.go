package scheduler

import (
	"time"

	"github.com/google/btree"
	"github.com/torrentlabs/gorrent/session"
)

// pieceItem orders pieces in the rarest-first btree: ascending by
// availability, ties broken by ascending index for determinism.
type pieceItem struct {
	availability uint32
	index        uint32
}

func (a pieceItem) Less(than btree.Item) bool {
	b := than.(pieceItem)
	if a.availability != b.availability {
		return a.availability < b.availability
	}
	return a.index < b.index
}

// blockState tracks one outstanding request for a single (piece, begin):
// every session currently holding that request, and when each was issued.
// Holding more than one session is only possible in endgame.
type blockState struct {
	deadlines map[*session.Session]time.Time
}

// pieceState is the scheduler's view of one incomplete piece: which block
// offsets still need a first request, and which are already requested.
type pieceState struct {
	length    uint32
	needed    map[uint32]bool // begin -> true
	requested map[uint32]*blockState
}

func newPieceState(length uint32) *pieceState {
	needed := make(map[uint32]bool)
	for begin := uint32(0); begin < length; begin += blockSize {
		needed[begin] = true
	}
	return &pieceState{length: length, needed: needed, requested: make(map[uint32]*blockState)}
}

// remaining is the count of blocks not yet delivered: needed plus uniquely
// requested. Used for the global endgame threshold.
func (p *pieceState) remaining() int {
	return len(p.needed) + len(p.requested)
}

// reset restores every block of the piece to needed, discarding both
// in-flight requests and anything already marked needed, then rebuilding
// the full set from length. Used on hash-failure: by the time a piece's
// last block has arrived, every block has already been moved out of
// needed and out of requested (handlePiece deletes each block's
// blockState the moment it arrives), so folding the two maps together is
// not enough — the only source of truth for "every block of this piece"
// is length itself.
func (p *pieceState) reset() {
	p.needed = make(map[uint32]bool)
	for begin := uint32(0); begin < p.length; begin += blockSize {
		p.needed[begin] = true
	}
	p.requested = make(map[uint32]*blockState)
}
