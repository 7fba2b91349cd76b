// Package notify tells the notification collaborator about recorded
// transactions by writing them to a local journal it can follow.
package notify

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/gogo/protobuf/proto"

	"bankledger/internal/log"
	"bankledger/transaction"
)

// Notifier is told about every ledger row once it is committed
type Notifier interface {
	Notify(ctx context.Context, t *transaction.Transaction) error
}

// Discard drops every notification
var Discard Notifier = discard{}

type discard struct{}

func (discard) Notify(context.Context, *transaction.Transaction) error { return nil }

var _ Notifier = (*Journal)(nil)

// Journal appends an Event per transaction to a commit log
type Journal struct {
	log *log.Log

	mu     sync.RWMutex
	closed bool
}

var ErrClosed = errors.New("journal closed")

func NewJournal(dir string, c log.Config) (*Journal, error) {
	l, err := log.NewLog(dir, c)
	if err != nil {
		return nil, fmt.Errorf("opening journal: %w", err)
	}
	return &Journal{log: l}, nil
}

func (j *Journal) Notify(ctx context.Context, t *transaction.Transaction) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := j.Append(NewEvent(t))
	return err
}

// Append writes the event and returns its offset
func (j *Journal) Append(e *Event) (uint64, error) {
	b, err := proto.Marshal(e)
	if err != nil {
		return 0, err
	}

	j.mu.RLock()
	defer j.mu.RUnlock()
	if j.closed {
		return 0, ErrClosed
	}
	return j.log.Append(&log.Record{Value: b})
}

// Read returns the event at offset; past the end it returns log.ErrOffsetOutOfRange
func (j *Journal) Read(offset uint64) (*Event, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	if j.closed {
		return nil, ErrClosed
	}

	record, err := j.log.Read(offset)
	if err != nil {
		return nil, err
	}
	e := &Event{}
	if err = proto.Unmarshal(record.Value, e); err != nil {
		return nil, fmt.Errorf("decoding event %d: %w", offset, err)
	}
	return e, nil
}

// Since returns the events from offset to the end of the journal and the
// offset to resume from
func (j *Journal) Since(offset uint64) ([]*Event, uint64, error) {
	var events []*Event
	for {
		e, err := j.Read(offset)
		if _, ok := err.(log.ErrOffsetOutOfRange); ok {
			return events, offset, nil
		}
		if err != nil {
			return events, offset, err
		}
		events = append(events, e)
		offset++
	}
}

// Truncate drops the segments holding only events before offset, once the
// collaborator has consumed them. Reading a dropped event returns
// log.ErrOffsetOutOfRange.
func (j *Journal) Truncate(offset uint64) error {
	j.mu.RLock()
	defer j.mu.RUnlock()
	if j.closed {
		return ErrClosed
	}
	if offset == 0 {
		return nil
	}
	return j.log.Truncate(offset - 1)
}

// Oldest is the offset of the first event still kept
func (j *Journal) Oldest() (uint64, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	if j.closed {
		return 0, ErrClosed
	}
	return j.log.LowestOffset()
}

func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return nil
	}
	j.closed = true
	return j.log.Close()
}
