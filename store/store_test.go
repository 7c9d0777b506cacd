package store

import (
	"crypto/sha1" // nolint: gosec
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/torrentlabs/gorrent/internal/piece"
)

func onePieceFixture(t *testing.T) (data []byte, hash [20]byte) {
	t.Helper()
	data = make([]byte, piece.BlockSize+100)
	for i := range data {
		data[i] = byte(i)
	}
	hash = sha1.Sum(data) // nolint: gosec
	return data, hash
}

func TestAddBlockCompletesAndVerifiesPiece(t *testing.T) {
	data, hash := onePieceFixture(t)
	s, err := Open(t.TempDir(), "out.bin", uint64(len(data)), uint32(len(data)), [][20]byte{hash}, false)
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.AddBlock(0, 0, data[:piece.BlockSize]))
	require.False(t, s.Completed(0))

	require.NoError(t, s.AddBlock(0, piece.BlockSize, data[piece.BlockSize:]))

	ev := <-s.Events()
	_, ok := ev.(PieceCompletedEvent)
	require.True(t, ok, "expected PieceCompletedEvent, got %T", ev)

	ev = <-s.Events()
	_, ok = ev.(DownloadCompleteEvent)
	require.True(t, ok, "expected DownloadCompleteEvent, got %T", ev)

	require.True(t, s.Completed(0))
	require.True(t, s.IsComplete())
	require.Equal(t, int64(len(data)), s.Downloaded())
}

func TestAddBlockHashMismatchThenRecovery(t *testing.T) {
	data, hash := onePieceFixture(t)
	s, err := Open(t.TempDir(), "out.bin", uint64(len(data)), uint32(len(data)), [][20]byte{hash}, false)
	require.NoError(t, err)
	defer s.Close()

	corrupt := append([]byte(nil), data...)
	corrupt[0] ^= 0xff
	require.NoError(t, s.AddBlock(0, 0, corrupt[:piece.BlockSize]))
	require.NoError(t, s.AddBlock(0, piece.BlockSize, corrupt[piece.BlockSize:]))

	ev := <-s.Events()
	_, ok := ev.(HashFailedEvent)
	require.True(t, ok, "expected HashFailedEvent, got %T", ev)
	require.False(t, s.Completed(0))

	require.NoError(t, s.AddBlock(0, 0, data[:piece.BlockSize]))
	require.NoError(t, s.AddBlock(0, piece.BlockSize, data[piece.BlockSize:]))

	ev = <-s.Events()
	_, ok = ev.(PieceCompletedEvent)
	require.True(t, ok, "expected PieceCompletedEvent after recovery, got %T", ev)
	require.True(t, s.Completed(0))
}

func TestAddBlockDuplicateAndPostCompletionAreSilentlyDiscarded(t *testing.T) {
	data, hash := onePieceFixture(t)
	s, err := Open(t.TempDir(), "out.bin", uint64(len(data)), uint32(len(data)), [][20]byte{hash}, false)
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.AddBlock(0, 0, data[:piece.BlockSize]))
	require.NoError(t, s.AddBlock(0, 0, data[:piece.BlockSize])) // duplicate
	require.NoError(t, s.AddBlock(0, piece.BlockSize, data[piece.BlockSize:]))
	<-s.Events() // PieceCompletedEvent
	<-s.Events() // DownloadCompleteEvent

	require.NoError(t, s.AddBlock(0, 0, data[:piece.BlockSize])) // post-completion
	select {
	case ev := <-s.Events():
		t.Fatalf("unexpected event after post-completion AddBlock: %#v", ev)
	default:
	}
}

func TestAddBlockRejectsMalformedOffsetsAndLengths(t *testing.T) {
	data, hash := onePieceFixture(t)
	s, err := Open(t.TempDir(), "out.bin", uint64(len(data)), uint32(len(data)), [][20]byte{hash}, false)
	require.NoError(t, err)
	defer s.Close()

	require.ErrorIs(t, s.AddBlock(5, 0, data[:piece.BlockSize]), errPieceIndex)
	require.ErrorIs(t, s.AddBlock(0, 1, data[:piece.BlockSize]), errBlockOffset)
	require.ErrorIs(t, s.AddBlock(0, 0, data[:piece.BlockSize-1]), errBlockLength)
}

func TestOpenResumesFromCompleteFileWithFullFileCheck(t *testing.T) {
	data, hash := onePieceFixture(t)
	dir := t.TempDir()

	s, err := Open(dir, "out.bin", uint64(len(data)), uint32(len(data)), [][20]byte{hash}, false)
	require.NoError(t, err)
	require.NoError(t, s.AddBlock(0, 0, data[:piece.BlockSize]))
	require.NoError(t, s.AddBlock(0, piece.BlockSize, data[piece.BlockSize:]))
	<-s.Events()
	<-s.Events()
	require.NoError(t, s.Close())

	s2, err := Open(dir, "out.bin", uint64(len(data)), uint32(len(data)), [][20]byte{hash}, true)
	require.NoError(t, err)
	defer s2.Close()
	require.True(t, s2.Completed(0))
	require.True(t, s2.IsComplete())
}
