package log

import (
	"io"
	"os"

	"github.com/tysontate/gommap"
)

var (
	// an index entry is the record's offset relative to the segment's base offset
	// followed by the record's position in the store file
	offWidth   uint64 = 4
	posWidth   uint64 = 8
	entryWidth        = offWidth + posWidth
)

// index maps record offsets to store positions through a memory-mapped file
type index struct {
	file *os.File
	mmap gommap.MMap
	// where the next entry is written
	size uint64
}

func newIndex(f *os.File, c Config) (*index, error) {
	idx := &index{file: f}

	fi, err := os.Stat(f.Name())
	if err != nil {
		return nil, err
	}
	idx.size = uint64(fi.Size())

	// a mapped file can't grow, so grow it to its max size up front
	if err = os.Truncate(f.Name(), int64(c.Segment.MaxIndexBytes)); err != nil {
		return nil, err
	}

	idx.mmap, err = gommap.Map(
		idx.file.Fd(),
		gommap.PROT_READ|gommap.PROT_WRITE,
		gommap.MAP_SHARED,
	)
	if err != nil {
		return nil, err
	}

	return idx, nil
}

// Read returns the entry at the relative offset in, or the last entry when in is -1
func (i *index) Read(in int64) (out uint32, pos uint64, err error) {
	if i.size == 0 {
		return 0, 0, io.EOF
	}

	var rel uint32
	if in == -1 {
		rel = uint32((i.size / entryWidth) - 1)
	} else {
		rel = uint32(in)
	}

	at := uint64(rel) * entryWidth
	if i.size < at+entryWidth {
		return 0, 0, io.EOF
	}

	out = enc.Uint32(i.mmap[at : at+offWidth])
	pos = enc.Uint64(i.mmap[at+offWidth : at+entryWidth])
	return out, pos, nil
}

// Write appends an entry, returning io.EOF once the mapped file is full
func (i *index) Write(off uint32, pos uint64) error {
	if uint64(len(i.mmap)) < i.size+entryWidth {
		return io.EOF
	}

	enc.PutUint32(i.mmap[i.size:i.size+offWidth], off)
	enc.PutUint64(i.mmap[i.size+offWidth:i.size+entryWidth], pos)
	i.size += entryWidth
	return nil
}

func (i *index) Name() string {
	return i.file.Name()
}

// Close syncs the mapping, then shrinks the file back to the entries it holds
// so a restart finds the last entry at the end of the file
func (i *index) Close() error {
	if err := i.mmap.Sync(gommap.MS_SYNC); err != nil {
		return err
	}
	if err := i.file.Sync(); err != nil {
		return err
	}
	if err := i.file.Truncate(int64(i.size)); err != nil {
		return err
	}
	return i.file.Close()
}
