// Package piece derives the per-piece and per-block layout of a torrent from
// its metainfo, and provides the pure arithmetic the store and scheduler
// both need to agree on block boundaries.
package piece

// BlockSize is the conventional block length used for pipelined requests.
const BlockSize = 16 * 1024

// Descriptor is the immutable, derived shape of a single piece: its index,
// its actual byte length (the last piece may be shorter than the nominal
// piece length), and the expected SHA-1 hash from the metainfo.
type Descriptor struct {
	Index  uint32
	Length uint32
	Hash   [20]byte
}

// NumBlocks returns the number of blocks the piece is divided into.
func (d Descriptor) NumBlocks() uint32 {
	return (d.Length + BlockSize - 1) / BlockSize
}

// BlockLength returns the length of the block starting at begin, per
// length = min(blockSize, pieceLength - begin). Panics if begin is not a
// valid block-aligned offset within the piece.
func (d Descriptor) BlockLength(begin uint32) uint32 {
	if begin%BlockSize != 0 || begin >= d.Length {
		panic("piece: invalid block offset")
	}
	remaining := d.Length - begin
	if remaining > BlockSize {
		return BlockSize
	}
	return remaining
}

// Descriptors derives the full ordered slice of piece descriptors from a
// torrent's total length, nominal piece length and the ordered hash list.
func Descriptors(totalLength uint64, pieceLength uint32, hashes [][20]byte) []Descriptor {
	n := len(hashes)
	out := make([]Descriptor, n)
	for i := 0; i < n; i++ {
		length := pieceLength
		if i == n-1 {
			last := totalLength - uint64(pieceLength)*uint64(n-1)
			length = uint32(last)
		}
		out[i] = Descriptor{Index: uint32(i), Length: length, Hash: hashes[i]}
	}
	return out
}

// NumPieces returns ⌈totalLength / pieceLength⌉, the canonical piece count
// for a given torrent shape.
func NumPieces(totalLength uint64, pieceLength uint32) uint32 {
	if totalLength == 0 {
		return 0
	}
	return uint32((totalLength + uint64(pieceLength) - 1) / uint64(pieceLength))
}
