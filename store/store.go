package store

import (
	"crypto/sha1" // nolint: gosec
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/rcrowley/go-metrics"
	"github.com/torrentlabs/gorrent/internal/logger"
	"github.com/torrentlabs/gorrent/internal/piece"
)

var (
	errPieceIndex   = errors.New("store: piece index out of range")
	errBlockOffset  = errors.New("store: block offset is not block-aligned or out of range")
	errBlockLength  = errors.New("store: block length does not match expected length")
)

// pieceBuffer is the in-memory accumulation area for one piece, created
// lazily on first block receipt and destroyed on verification (success or
// failure).
type pieceBuffer struct {
	data     []byte
	received map[uint32]bool // by block begin offset
}

// Store owns the output file, the CompletionSet, and every in-flight
// PieceBuffer. All addBlock and completion work is serialized by mu, giving
// the single-writer guarantee the engine's concurrency model requires.
type Store struct {
	path        string
	file        *os.File
	pieces      []piece.Descriptor
	pieceLength uint32
	totalLength uint64

	mu        sync.Mutex
	completed map[uint32]bool
	buffers   map[uint32]*pieceBuffer

	events chan Event
	log    logger.Logger

	writesPerSecond      metrics.Meter
	writeBytesPerSecond  metrics.Meter
}

// Open initializes the output file at path within dir for a torrent with
// the given total length, nominal piece length, and ordered piece hashes.
// If fullFileCheck is true and a same-sized file already exists, every
// piece is hashed up front and matching pieces are seeded into the
// completion set; otherwise the file is truncated/extended to totalLength.
func Open(dir, name string, totalLength uint64, pieceLength uint32, hashes [][20]byte, fullFileCheck bool) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("store: creating directory: %w", err)
	}
	path := filepath.Join(dir, name)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("store: opening output file: %w", err)
	}
	applyReadAheadHint(f)

	s := &Store{
		path:                path,
		file:                f,
		pieces:              piece.Descriptors(totalLength, pieceLength, hashes),
		pieceLength:         pieceLength,
		totalLength:         totalLength,
		completed:           make(map[uint32]bool),
		buffers:             make(map[uint32]*pieceBuffer),
		events:              make(chan Event, 16),
		log:                 logger.New("store"),
		writesPerSecond:     metrics.NewMeter(),
		writeBytesPerSecond: metrics.NewMeter(),
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("store: stat: %w", err)
	}

	if fullFileCheck && uint64(info.Size()) == totalLength {
		s.scanExisting()
	} else if err := f.Truncate(int64(totalLength)); err != nil {
		f.Close()
		return nil, fmt.Errorf("store: truncating output file: %w", err)
	}

	return s, nil
}

// scanExisting hashes every piece already on disk and marks matches
// complete. A piece whose bytes can't be read is treated as absent, per the
// engine's read-failure policy for the full-file check.
func (s *Store) scanExisting() {
	for _, d := range s.pieces {
		buf := make([]byte, d.Length)
		off := int64(d.Index) * int64(s.pieceLength)
		if _, err := s.file.ReadAt(buf, off); err != nil {
			continue
		}
		sum := sha1.Sum(buf) // nolint: gosec
		if sum == d.Hash {
			s.completed[d.Index] = true
		}
	}
}

// Events returns the stream of completion/failure notifications.
func (s *Store) Events() <-chan Event { return s.events }

// NumPieces returns the number of pieces derived from the torrent's shape.
func (s *Store) NumPieces() uint32 { return uint32(len(s.pieces)) }

// Piece returns the descriptor for index.
func (s *Store) Piece(index uint32) piece.Descriptor { return s.pieces[index] }

// IsComplete reports whether every piece has been verified.
func (s *Store) IsComplete() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.completed) == len(s.pieces)
}

// Completed reports whether a specific piece is in the completion set.
func (s *Store) Completed(index uint32) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.completed[index]
}

// Downloaded returns the number of bytes of verified piece data, the
// "downloaded" counter the orchestrator reports to the tracker.
func (s *Store) Downloaded() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for idx := range s.completed {
		n += int64(s.pieces[idx].Length)
	}
	return n
}

// AddBlock ingests one block of piece data, per the addBlock contract:
// duplicate and post-completion blocks are silently discarded; malformed
// ones are rejected; a piece whose last block just arrived is verified and,
// on success, durably written before its completion event is emitted.
func (s *Store) AddBlock(index, begin uint32, data []byte) error {
	if index >= uint32(len(s.pieces)) {
		return errPieceIndex
	}
	d := s.pieces[index]
	if begin%piece.BlockSize != 0 || begin >= d.Length {
		return errBlockOffset
	}
	if uint32(len(data)) != d.BlockLength(begin) {
		return errBlockLength
	}

	s.mu.Lock()
	if s.completed[index] {
		s.mu.Unlock()
		return nil
	}
	buf, ok := s.buffers[index]
	if !ok {
		buf = &pieceBuffer{data: make([]byte, d.Length), received: make(map[uint32]bool)}
		s.buffers[index] = buf
	}
	if buf.received[begin] {
		s.mu.Unlock()
		return nil
	}
	copy(buf.data[begin:], data)
	buf.received[begin] = true
	complete := uint32(len(buf.received)) == d.NumBlocks()
	s.mu.Unlock()

	if complete {
		s.completePiece(index, d, buf)
	}
	return nil
}

// completePiece runs the verify-then-write routine for a piece whose last
// block just arrived. It is always called with index's buffer already
// fully received.
func (s *Store) completePiece(index uint32, d piece.Descriptor, buf *pieceBuffer) {
	sum := sha1.Sum(buf.data) // nolint: gosec
	if sum != d.Hash {
		s.mu.Lock()
		delete(s.buffers, index)
		s.mu.Unlock()
		s.emit(HashFailedEvent{Index: index})
		return
	}

	off := int64(index) * int64(s.pieceLength)
	if _, err := s.file.WriteAt(buf.data, off); err != nil {
		s.mu.Lock()
		delete(s.buffers, index)
		s.mu.Unlock()
		s.emit(PieceWriteFailedEvent{Index: index, Err: err})
		return
	}
	if err := s.file.Sync(); err != nil {
		s.mu.Lock()
		delete(s.buffers, index)
		s.mu.Unlock()
		s.emit(PieceWriteFailedEvent{Index: index, Err: err})
		return
	}
	s.writesPerSecond.Mark(1)
	s.writeBytesPerSecond.Mark(int64(len(buf.data)))

	s.mu.Lock()
	delete(s.buffers, index)
	s.completed[index] = true
	done := len(s.completed) == len(s.pieces)
	s.mu.Unlock()

	s.emit(PieceCompletedEvent{Index: index})
	if done {
		s.emit(DownloadCompleteEvent{})
	}
}

func (s *Store) emit(e Event) { s.events <- e }

// Close flushes and closes the output file. Verified pieces remain on disk;
// any in-flight piece buffer is simply dropped, since it is not yet durable
// and will be re-downloaded on the next run.
func (s *Store) Close() error {
	return s.file.Close()
}
