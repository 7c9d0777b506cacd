// Package metainfo decodes a .torrent file into the immutable TorrentMeta
// the swarm engine is built around. This is the external collaborator named
// in the engine's scope: the engine only ever consumes a *TorrentMeta, never
// a bencode dictionary directly.
package metainfo

import (
	"crypto/sha1" // nolint: gosec
	"errors"
	"io"

	"github.com/zeebo/bencode"
)

var (
	errInvalidPieceData = errors.New("metainfo: piece hash list is not a multiple of 20 bytes")
	errMultiFile         = errors.New("metainfo: multi-file torrents are not supported")
)

// TorrentMeta is the immutable, parsed shape of a single-file .torrent,
// shared read-only by every engine component once built.
type TorrentMeta struct {
	Announce    string
	Name        string
	Length      uint64
	PieceLength uint32
	Hashes      [][20]byte
	InfoHash    [20]byte
}

// New parses a bencoded .torrent stream into a TorrentMeta.
func New(r io.Reader) (*TorrentMeta, error) {
	var raw struct {
		Announce string             `bencode:"announce"`
		Info     bencode.RawMessage `bencode:"info"`
	}
	if err := bencode.NewDecoder(r).Decode(&raw); err != nil {
		return nil, err
	}
	if len(raw.Info) == 0 {
		return nil, errors.New("metainfo: no info dict in torrent file")
	}

	var info struct {
		PieceLength uint32 `bencode:"piece length"`
		Pieces      []byte `bencode:"pieces"`
		Name        string `bencode:"name"`
		Length      int64  `bencode:"length"`
		Files       []struct{} `bencode:"files"`
	}
	if err := bencode.DecodeBytes(raw.Info, &info); err != nil {
		return nil, err
	}
	if len(info.Files) != 0 {
		return nil, errMultiFile
	}
	if len(info.Pieces)%sha1.Size != 0 {
		return nil, errInvalidPieceData
	}

	numPieces := len(info.Pieces) / sha1.Size
	hashes := make([][20]byte, numPieces)
	for i := 0; i < numPieces; i++ {
		copy(hashes[i][:], info.Pieces[i*sha1.Size:(i+1)*sha1.Size])
	}

	hash := sha1.New() // nolint: gosec
	if _, err := hash.Write(raw.Info); err != nil {
		return nil, err
	}
	var infoHash [20]byte
	copy(infoHash[:], hash.Sum(nil))

	return &TorrentMeta{
		Announce:    raw.Announce,
		Name:        info.Name,
		Length:      uint64(info.Length),
		PieceLength: info.PieceLength,
		Hashes:      hashes,
		InfoHash:    infoHash,
	}, nil
}
