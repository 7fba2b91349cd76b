package transfer

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"bankledger/account"
	"bankledger/transaction"
)

var _ Store = (*MemoryStore)(nil)

// MemoryStore keeps accounts and the ledger in memory. A unit holds the lock
// of every account it reads until it ends, and its writes are staged and
// applied together on commit.
type MemoryStore struct {
	// guards accounts, ledger and nextID
	mu       sync.Mutex
	accounts map[int64]*account.Account
	locks    map[int64]chan struct{}
	ledger   []*transaction.Transaction
	nextID   int64

	// Now stamps recorded rows
	Now func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		accounts: make(map[int64]*account.Account),
		locks:    make(map[int64]chan struct{}),
		nextID:   1,
		Now:      func() time.Time { return time.Now().UTC() },
	}
}

// AddAccount stores a copy of a
func (s *MemoryStore) AddAccount(a account.Account) error {
	if err := a.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.accounts[a.No]; ok {
		return fmt.Errorf("account %d already exists", a.No)
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = s.Now()
	}
	s.accounts[a.No] = &a
	s.locks[a.No] = make(chan struct{}, 1)
	return nil
}

func (s *MemoryStore) Account(no int64) (*account.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[no]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrAccountNotFound, no)
	}
	cp := *a
	return &cp, nil
}

func (s *MemoryStore) SetActive(no int64, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[no]
	if !ok {
		return fmt.Errorf("%w: %d", ErrAccountNotFound, no)
	}
	a.Active = active
	return nil
}

// Transactions returns the ledger oldest first
func (s *MemoryStore) Transactions() []transaction.Transaction {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows := make([]transaction.Transaction, len(s.ledger))
	for i, t := range s.ledger {
		rows[i] = *t
	}
	return rows
}

func (s *MemoryStore) TotalBalance() decimal.Decimal {
	s.mu.Lock()
	defer s.mu.Unlock()
	total := decimal.Zero
	for _, a := range s.accounts {
		total = total.Add(a.Balance)
	}
	return total
}

func (s *MemoryStore) WithTx(ctx context.Context, fn func(Tx) error) error {
	tx := &memoryTx{
		store:    s,
		held:     make(map[int64]chan struct{}),
		balances: make(map[int64]decimal.Decimal),
	}
	defer tx.release()

	if err := fn(tx); err != nil {
		return err
	}
	tx.commit()
	return nil
}

type memoryTx struct {
	store    *MemoryStore
	held     map[int64]chan struct{}
	balances map[int64]decimal.Decimal
	rows     []*transaction.Transaction
}

func (tx *memoryTx) LockAccount(ctx context.Context, no int64) (*account.Account, error) {
	tx.store.mu.Lock()
	lock, ok := tx.store.locks[no]
	tx.store.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrAccountNotFound, no)
	}

	if _, ok := tx.held[no]; !ok {
		select {
		case lock <- struct{}{}:
			tx.held[no] = lock
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	a, err := tx.store.Account(no)
	if err != nil {
		return nil, err
	}
	if b, ok := tx.balances[no]; ok {
		a.Balance = b
	}
	return a, nil
}

func (tx *memoryTx) UpdateBalance(_ context.Context, no int64, balance decimal.Decimal) error {
	if _, ok := tx.held[no]; !ok {
		return fmt.Errorf("account %d is not locked by this transaction", no)
	}
	if balance.IsNegative() {
		return fmt.Errorf("account %d: %w", no, account.ErrNegativeBalance)
	}
	tx.balances[no] = balance
	return nil
}

func (tx *memoryTx) RecordTransaction(_ context.Context, t *transaction.Transaction) error {
	if !t.Status.Valid() {
		return fmt.Errorf("invalid transaction status %q", t.Status)
	}
	if !t.Amount.IsPositive() {
		return fmt.Errorf("recording transaction: %w", ErrInvalidAmount)
	}
	tx.rows = append(tx.rows, t)
	return nil
}

func (tx *memoryTx) commit() {
	s := tx.store
	s.mu.Lock()
	defer s.mu.Unlock()

	for no, balance := range tx.balances {
		s.accounts[no].Balance = balance
	}
	now := s.Now()
	for _, t := range tx.rows {
		t.ID = s.nextID
		t.CreatedAt = now
		s.nextID++
		cp := *t
		s.ledger = append(s.ledger, &cp)
	}
}

// release unlocks in descending order, the reverse of how transfers lock
func (tx *memoryTx) release() {
	held := make([]int64, 0, len(tx.held))
	for no := range tx.held {
		held = append(held, no)
	}
	sort.Slice(held, func(i, j int) bool { return held[i] > held[j] })
	for _, no := range held {
		<-tx.held[no]
	}
}
