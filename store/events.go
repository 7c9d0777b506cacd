// Package store implements the Piece Store: the single writer to the
// output file and sole authority for piece verification.
package store

// Event is the sealed set of outcomes a Store reports after ingesting
// blocks.
type Event interface{ event() }

// PieceCompletedEvent: a piece was verified and durably written.
type PieceCompletedEvent struct{ Index uint32 }

// HashFailedEvent: a piece's assembled buffer did not match its expected
// hash; its block state has been reset and nothing was written.
type HashFailedEvent struct{ Index uint32 }

// PieceWriteFailedEvent: the verified buffer could not be written to disk.
// The buffer is discarded so the piece is re-downloaded.
type PieceWriteFailedEvent struct {
	Index uint32
	Err   error
}

// DownloadCompleteEvent: every piece is now in the completion set.
type DownloadCompleteEvent struct{}

func (PieceCompletedEvent) event()    {}
func (HashFailedEvent) event()        {}
func (PieceWriteFailedEvent) event()  {}
func (DownloadCompleteEvent) event()  {}
