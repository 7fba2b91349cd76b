package log

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSegment(t *testing.T) {
	dir, err := os.MkdirTemp("", "segment-test")
	require.NoError(t, err)
	defer os.RemoveAll(dir)

	want := &Record{Value: []byte("transfer 1000001 -> 1000003")}

	c := Config{}
	c.Segment.MaxStoreBytes = 1024
	numEntries := 3
	c.Segment.MaxIndexBytes = entryWidth * uint64(numEntries)

	baseOffset := uint64(16)
	s, err := newSegment(dir, baseOffset, c)
	require.NoError(t, err)
	require.Equal(t, uint64(16), s.nextOffset)
	require.False(t, s.IsMaxed())

	for i := 0; i < numEntries; i++ {
		offset, err := s.Append(want)
		require.NoError(t, err)
		require.Equal(t, baseOffset+uint64(i), offset)

		got, err := s.Read(offset)
		require.NoError(t, err)
		require.Equal(t, want.Value, got.Value)
		require.Equal(t, offset, got.Offset)
	}

	// the index is full
	require.True(t, s.IsMaxed())
	require.NoError(t, s.Close())

	// reopening with a small store limit loads the persisted state
	c.Segment.MaxStoreBytes = uint64(len(want.Value) * numEntries)
	c.Segment.MaxIndexBytes = 1024
	s, err = newSegment(dir, baseOffset, c)
	require.NoError(t, err)
	require.Equal(t, baseOffset+uint64(numEntries), s.nextOffset)
	require.True(t, s.IsMaxed())

	require.NoError(t, s.Remove())
	_, err = os.Stat(s.store.Name())
	require.True(t, os.IsNotExist(err))
}
