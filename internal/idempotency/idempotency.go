// Package idempotency keeps a repeated request from being processed twice.
// The first request holding a key runs; later ones with the same key get the
// first outcome back, or ErrDuplicateInFlight while it is still running.
package idempotency

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"bankledger/transaction"
)

var (
	ErrDuplicateInFlight = errors.New("a request with this idempotency key is already in flight")
	// ErrClaimLost is returned by Finish when the claim expired or was taken
	// over before the request finished
	ErrClaimLost = errors.New("idempotency claim lost")
)

// how long finished outcomes are kept
const DefaultTTL = 24 * time.Hour

// Outcome is what a finished request produced. Code names the error the request
// ended with and is empty on success. Request identifies what was asked for so
// a key reused for a different request can be told apart from a replay; the
// guards store it but never compare it.
type Outcome struct {
	Transaction *transaction.Transaction `json:"transaction,omitempty"`
	Code        string                   `json:"code,omitempty"`
	Request     string                   `json:"request,omitempty"`
}

// Claim is held by the one request allowed to run under Key
type Claim struct {
	Key   string
	Token string
}

func newClaim(key string) Claim {
	return Claim{Key: key, Token: uuid.New().String()}
}

// Guard hands out one claim per key. A claim expires after the hold given to
// Begin, so hold must cover the longest the request can run.
type Guard interface {
	// Begin claims key for hold. When a request with key already finished its
	// outcome is returned and nothing is claimed.
	Begin(ctx context.Context, key string, hold time.Duration) (Claim, *Outcome, error)
	// Finish stores the outcome and releases the claim. The first outcome
	// stored for a key is kept.
	Finish(ctx context.Context, c Claim, o Outcome) error
	// Abort releases the claim without storing anything so the key can be retried
	Abort(ctx context.Context, c Claim) error
}

var _ Guard = (*Memory)(nil)

type memoryClaim struct {
	token   string
	expires time.Time
}

type memoryOutcome struct {
	Outcome
	expires time.Time
}

// Memory is a Guard for a single process. Outcomes are dropped after TTL.
type Memory struct {
	TTL time.Duration
	Now func() time.Time

	mu       sync.Mutex
	done     map[string]memoryOutcome
	inFlight map[string]memoryClaim
}

func NewMemory() *Memory {
	return &Memory{
		TTL:      DefaultTTL,
		Now:      time.Now,
		done:     make(map[string]memoryOutcome),
		inFlight: make(map[string]memoryClaim),
	}
}

func (m *Memory) Begin(_ context.Context, key string, hold time.Duration) (Claim, *Outcome, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.Now()
	if o, ok := m.done[key]; ok {
		if now.Before(o.expires) {
			out := o.Outcome
			return Claim{}, &out, nil
		}
		delete(m.done, key)
	}
	if c, ok := m.inFlight[key]; ok && (c.expires.IsZero() || now.Before(c.expires)) {
		return Claim{}, nil, ErrDuplicateInFlight
	}

	c := newClaim(key)
	held := memoryClaim{token: c.Token}
	if hold > 0 {
		held.expires = now.Add(hold)
	}
	m.inFlight[key] = held
	return c, nil, nil
}

func (m *Memory) Finish(_ context.Context, c Claim, o Outcome) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.Now()
	for key, done := range m.done {
		if !now.Before(done.expires) {
			delete(m.done, key)
		}
	}
	if _, ok := m.done[c.Key]; !ok {
		m.done[c.Key] = memoryOutcome{Outcome: o, expires: now.Add(m.TTL)}
	}
	if !m.release(c) {
		return ErrClaimLost
	}
	return nil
}

func (m *Memory) Abort(_ context.Context, c Claim) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.release(c)
	return nil
}

// release drops the claim if it is still c's; the caller holds mu
func (m *Memory) release(c Claim) bool {
	held, ok := m.inFlight[c.Key]
	if !ok || held.token != c.Token {
		return false
	}
	delete(m.inFlight, c.Key)
	return true
}
