// Package log is an append-only journal split into segments. The ledger writes
// one record per transaction row so that downstream consumers can follow
// completed transfers in order without querying the database.
package log

import (
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
)

type Log struct {
	mu sync.RWMutex

	Dir    string
	Config Config

	activeSegment *segment
	// ordered oldest to newest
	segments []*segment
}

// NewLog opens the journal in dir, loading any segments already there
func NewLog(dir string, c Config) (*Log, error) {
	c = c.withDefaults()
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}
	l := &Log{
		Dir:    dir,
		Config: c,
	}
	return l, l.setup()
}

func (l *Log) setup() error {
	files, err := os.ReadDir(l.Dir)
	if err != nil {
		return err
	}

	seen := make(map[uint64]bool)
	var baseOffsets []uint64
	for _, file := range files {
		name := file.Name()
		if ext := filepath.Ext(name); ext != ".store" && ext != ".index" {
			continue
		}
		off, err := strconv.ParseUint(strings.TrimSuffix(name, filepath.Ext(name)), 10, 64)
		if err != nil || seen[off] {
			continue
		}
		seen[off] = true
		baseOffsets = append(baseOffsets, off)
	}
	sort.Slice(baseOffsets, func(i, j int) bool {
		return baseOffsets[i] < baseOffsets[j]
	})

	for _, off := range baseOffsets {
		if err = l.newSegment(off); err != nil {
			return err
		}
	}
	if l.segments == nil {
		return l.newSegment(l.Config.Segment.InitialOffset)
	}
	return nil
}

// Append adds the record to the active segment and returns its offset
func (l *Log) Append(record *Record) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	off, err := l.activeSegment.Append(record)
	if err != nil {
		return 0, err
	}
	if l.activeSegment.IsMaxed() {
		err = l.newSegment(off + 1)
	}
	return off, err
}

// Read returns the record at offset or ErrOffsetOutOfRange
func (l *Log) Read(offset uint64) (*Record, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var s *segment
	for _, segment := range l.segments {
		if segment.baseOffset <= offset && offset < segment.nextOffset {
			s = segment
			break
		}
	}
	if s == nil {
		return nil, ErrOffsetOutOfRange{Offset: offset}
	}
	return s.Read(offset)
}

func (l *Log) LowestOffset() (uint64, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.segments[0].baseOffset, nil
}

// Truncate removes every segment whose records are all at or below lowest.
// The active segment is always kept.
func (l *Log) Truncate(lowest uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	var segments []*segment
	for _, s := range l.segments {
		if s != l.activeSegment && s.nextOffset <= lowest+1 {
			if err := s.Remove(); err != nil {
				return err
			}
			continue
		}
		segments = append(segments, s)
	}
	l.segments = segments
	return nil
}

func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, segment := range l.segments {
		if err := segment.Close(); err != nil {
			return err
		}
	}
	return nil
}

func (l *Log) newSegment(off uint64) error {
	s, err := newSegment(l.Dir, off, l.Config)
	if err != nil {
		return err
	}
	l.segments = append(l.segments, s)
	l.activeSegment = s
	return nil
}
