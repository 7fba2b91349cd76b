package log

import (
	"io"
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

var (
	recordValue = []byte(`{"transactionId":1}`)
	appendWidth = uint64(len(recordValue)) + lenWidth
)

func TestStoreAppendRead(t *testing.T) {
	f, err := os.CreateTemp("", "store_append_read_test")
	require.NoError(t, err)
	defer os.Remove(f.Name())

	s, err := newStore(f)
	require.NoError(t, err)

	numRecords := 5
	testAppend(t, s, numRecords)
	testRead(t, s, numRecords)

	// a store rebuilt from the same file sees the earlier records
	s, err = newStore(f)
	require.NoError(t, err)
	testRead(t, s, numRecords)

	_, err = s.ReadAt(s.size + 10)
	require.Equal(t, io.EOF, err)
}

func TestStoreClose(t *testing.T) {
	f, err := os.CreateTemp("", "store_close_test")
	require.NoError(t, err)
	defer os.Remove(f.Name())

	s, err := newStore(f)
	require.NoError(t, err)
	_, _, err = s.Append(recordValue)
	require.NoError(t, err)

	before, err := os.Stat(f.Name())
	require.NoError(t, err)

	require.NoError(t, s.Close())

	after, err := os.Stat(f.Name())
	require.NoError(t, err)
	require.True(t, after.Size() > before.Size())
}

func testAppend(t *testing.T, s *store, numAppends int) {
	t.Helper()
	for i := 1; i <= numAppends; i++ {
		n, pos, err := s.Append(recordValue)
		require.NoError(t, err)
		require.Equal(t, appendWidth*uint64(i), pos+n)
	}
}

func testRead(t *testing.T, s *store, numReads int) {
	t.Helper()

	var pos uint64
	for i := 1; i <= numReads; i++ {
		read, err := s.ReadAt(pos)
		require.NoError(t, err)
		require.Equal(t, recordValue, read)
		pos += appendWidth
	}
}
