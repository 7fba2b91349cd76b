package transfer_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"bankledger/account"
	"bankledger/internal/idempotency"
	"bankledger/transaction"
	"bankledger/transfer"
)

func money(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// seeded holds the demo accounts: 1000001 (10000.00), 1000002 (5000.00), 1000003 (15000.00)
func seeded(t *testing.T) *transfer.MemoryStore {
	t.Helper()
	s := transfer.NewMemoryStore()
	for _, a := range []account.Account{
		{No: 1000001, UserID: 1, Type: account.Savings, Balance: money("10000.00"), Active: true},
		{No: 1000002, UserID: 2, Type: account.Checking, Balance: money("5000.00"), Active: true},
		{No: 1000003, UserID: 3, Type: account.Savings, Balance: money("15000.00"), Active: true},
	} {
		require.NoError(t, s.AddAccount(a))
	}
	return s
}

func newEngine(t *testing.T, c transfer.Config) *transfer.Engine {
	t.Helper()
	if c.RetryBackoff == 0 {
		c.RetryBackoff = time.Millisecond
	}
	e, err := transfer.NewEngine(c)
	require.NoError(t, err)
	return e
}

func requireBalance(t *testing.T, s *transfer.MemoryStore, no int64, want string) {
	t.Helper()
	a, err := s.Account(no)
	require.NoError(t, err)
	require.True(t, money(want).Equal(a.Balance), "account %d: want %s, got %s", no, want, a.Balance)
}

func TestTransfer(t *testing.T) {
	for scenario, fn := range map[string]func(t *testing.T, s *transfer.MemoryStore, e *transfer.Engine){
		"moves money and records a success row":        testSuccess,
		"conserves the total balance":                  testConservation,
		"rejects invalid amounts without a row":        testInvalidAmount,
		"rejects a transfer to the same account":       testSameAccount,
		"unknown account records nothing":              testNotFound,
		"insufficient funds records a failed row":      testInsufficientFunds,
		"inactive account records a failed row":        testInactive,
		"exact balance may be transferred":             testExactBalance,
		"concurrent overdraw succeeds exactly once":    testConcurrentOverdraw,
		"reverse transfers run concurrently":           testReverseTransfers,
		"many concurrent transfers conserve the total": testManyConcurrent,
	} {
		t.Run(scenario, func(t *testing.T) {
			s := seeded(t)
			fn(t, s, newEngine(t, transfer.Config{Store: s}))
		})
	}
}

func testSuccess(t *testing.T, s *transfer.MemoryStore, e *transfer.Engine) {
	row, err := e.Do(context.Background(), 1000001, 1000003, money("500.00"), "rent")
	require.NoError(t, err)

	requireBalance(t, s, 1000001, "9500.00")
	requireBalance(t, s, 1000003, "15500.00")

	require.NotZero(t, row.ID)
	require.False(t, row.CreatedAt.IsZero())
	require.Equal(t, int64(1000001), row.FromAccount)
	require.Equal(t, int64(1000003), row.ToAccount)
	require.Equal(t, "9500.00", row.SenderBal.StringFixed(2))
	require.Equal(t, "15500.00", row.ReceiverBal.StringFixed(2))
	require.Equal(t, "500.00", row.Amount.StringFixed(2))
	require.Equal(t, transaction.Success, row.Status)
	require.Equal(t, "rent", row.Description)

	ledger := s.Transactions()
	require.Len(t, ledger, 1)
	require.Equal(t, row.ID, ledger[0].ID)
}

func testConservation(t *testing.T, s *transfer.MemoryStore, e *transfer.Engine) {
	before := s.TotalBalance()
	ctx := context.Background()

	_, err := e.Do(ctx, 1000001, 1000002, money("1234.56"), "")
	require.NoError(t, err)
	_, err = e.Do(ctx, 1000003, 1000001, money("0.01"), "")
	require.NoError(t, err)
	_, err = e.Do(ctx, 1000002, 1000003, money("6234.56"), "")
	require.NoError(t, err)

	require.True(t, before.Equal(s.TotalBalance()))
	requireBalance(t, s, 1000001, "8765.45")
	requireBalance(t, s, 1000002, "0.00")
	requireBalance(t, s, 1000003, "21234.55")
}

func testInvalidAmount(t *testing.T, s *transfer.MemoryStore, e *transfer.Engine) {
	for _, amount := range []string{"0", "0.00", "-1.00", "10.005"} {
		row, err := e.Do(context.Background(), 1000001, 1000003, money(amount), "")
		require.ErrorIs(t, err, transfer.ErrInvalidAmount, amount)
		require.Nil(t, row)
	}
	requireBalance(t, s, 1000001, "10000.00")
	require.Empty(t, s.Transactions())
}

func testSameAccount(t *testing.T, s *transfer.MemoryStore, e *transfer.Engine) {
	row, err := e.Do(context.Background(), 1000001, 1000001, money("10.00"), "")
	require.ErrorIs(t, err, transfer.ErrSameAccount)
	require.Nil(t, row)
	requireBalance(t, s, 1000001, "10000.00")
	require.Empty(t, s.Transactions())
}

func testNotFound(t *testing.T, s *transfer.MemoryStore, e *transfer.Engine) {
	ctx := context.Background()

	_, err := e.Do(ctx, 1000001, 999, money("10.00"), "")
	require.ErrorIs(t, err, transfer.ErrAccountNotFound)
	_, err = e.Do(ctx, 999, 1000001, money("10.00"), "")
	require.ErrorIs(t, err, transfer.ErrAccountNotFound)

	requireBalance(t, s, 1000001, "10000.00")
	require.Empty(t, s.Transactions())
}

func testInsufficientFunds(t *testing.T, s *transfer.MemoryStore, e *transfer.Engine) {
	row, err := e.Do(context.Background(), 1000002, 1000001, money("5000.01"), "too much")
	require.ErrorIs(t, err, transfer.ErrInsufficientFunds)
	require.False(t, transfer.IsRetriable(err))

	requireBalance(t, s, 1000002, "5000.00")
	requireBalance(t, s, 1000001, "10000.00")

	require.NotNil(t, row)
	require.Equal(t, transaction.Failed, row.Status)
	require.Equal(t, "5000.00", row.SenderBal.StringFixed(2))
	require.Equal(t, "10000.00", row.ReceiverBal.StringFixed(2))
	require.Len(t, s.Transactions(), 1)
}

func testInactive(t *testing.T, s *transfer.MemoryStore, e *transfer.Engine) {
	ctx := context.Background()
	require.NoError(t, s.SetActive(1000003, false))

	row, err := e.Do(ctx, 1000001, 1000003, money("10.00"), "")
	require.ErrorIs(t, err, transfer.ErrAccountInactive)
	require.Equal(t, transaction.Failed, row.Status)

	// the inactive check comes before the balance check
	row, err = e.Do(ctx, 1000003, 1000001, money("99999.00"), "")
	require.ErrorIs(t, err, transfer.ErrAccountInactive)
	require.Equal(t, transaction.Failed, row.Status)

	requireBalance(t, s, 1000001, "10000.00")
	requireBalance(t, s, 1000003, "15000.00")
	require.Len(t, s.Transactions(), 2)
}

func testExactBalance(t *testing.T, s *transfer.MemoryStore, e *transfer.Engine) {
	_, err := e.Do(context.Background(), 1000002, 1000001, money("5000.00"), "")
	require.NoError(t, err)
	requireBalance(t, s, 1000002, "0.00")
	requireBalance(t, s, 1000001, "15000.00")
}

func testConcurrentOverdraw(t *testing.T, s *transfer.MemoryStore, e *transfer.Engine) {
	var (
		wg           sync.WaitGroup
		successes    int32
		insufficient int32
	)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := e.Do(context.Background(), 1000001, 1000003, money("7000.00"), "")
			switch {
			case err == nil:
				atomic.AddInt32(&successes, 1)
			case errors.Is(err, transfer.ErrInsufficientFunds):
				atomic.AddInt32(&insufficient, 1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	require.Equal(t, int32(1), successes)
	require.Equal(t, int32(1), insufficient)
	requireBalance(t, s, 1000001, "3000.00")
	requireBalance(t, s, 1000003, "22000.00")
	require.Len(t, s.Transactions(), 2)
}

func testReverseTransfers(t *testing.T, s *transfer.MemoryStore, e *transfer.Engine) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			if _, err := e.Do(ctx, 1000001, 1000003, money("1.00"), ""); err != nil {
				t.Errorf("1000001 -> 1000003: %v", err)
			}
		}()
		go func() {
			defer wg.Done()
			if _, err := e.Do(ctx, 1000003, 1000001, money("1.00"), ""); err != nil {
				t.Errorf("1000003 -> 1000001: %v", err)
			}
		}()
	}
	wg.Wait()

	requireBalance(t, s, 1000001, "10000.00")
	requireBalance(t, s, 1000003, "15000.00")
	require.Len(t, s.Transactions(), 100)
}

func testManyConcurrent(t *testing.T, s *transfer.MemoryStore, e *transfer.Engine) {
	before := s.TotalBalance()
	accounts := []int64{1000001, 1000002, 1000003}

	var wg sync.WaitGroup
	for i := 0; i < 90; i++ {
		from, to := accounts[i%3], accounts[(i+1)%3]
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := e.Do(context.Background(), from, to, money("250.00"), "")
			if err != nil && !errors.Is(err, transfer.ErrInsufficientFunds) {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	require.True(t, before.Equal(s.TotalBalance()))
	ledger := s.Transactions()
	require.Len(t, ledger, 90)
	for i, row := range ledger {
		require.Equal(t, int64(i+1), row.ID)
	}
}

// flakyStore reports a conflict for the first failures units
type flakyStore struct {
	transfer.Store
	failures int32
	calls    int32
}

func (f *flakyStore) WithTx(ctx context.Context, fn func(transfer.Tx) error) error {
	if atomic.AddInt32(&f.calls, 1) <= f.failures {
		return transfer.ErrConcurrentModification
	}
	return f.Store.WithTx(ctx, fn)
}

func TestTransferRetries(t *testing.T) {
	s := seeded(t)
	flaky := &flakyStore{Store: s, failures: 2}
	e := newEngine(t, transfer.Config{Store: flaky})

	row, err := e.Do(context.Background(), 1000001, 1000003, money("500.00"), "")
	require.NoError(t, err)
	require.Equal(t, transaction.Success, row.Status)
	require.Equal(t, int32(3), flaky.calls)
	require.Len(t, s.Transactions(), 1)
}

func TestTransferRetriesExhausted(t *testing.T) {
	s := seeded(t)
	flaky := &flakyStore{Store: s, failures: 100}
	e := newEngine(t, transfer.Config{Store: flaky, MaxRetries: 2})

	row, err := e.Do(context.Background(), 1000001, 1000003, money("500.00"), "")
	require.ErrorIs(t, err, transfer.ErrConcurrentModification)
	require.True(t, transfer.IsRetriable(err))
	require.Nil(t, row)
	require.Equal(t, int32(3), flaky.calls)

	requireBalance(t, s, 1000001, "10000.00")
	require.Empty(t, s.Transactions())
}

func TestTransferCanceledBetweenRetries(t *testing.T) {
	s := seeded(t)
	flaky := &flakyStore{Store: s, failures: 100}
	e := newEngine(t, transfer.Config{Store: flaky, RetryBackoff: time.Hour})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := e.Do(ctx, 1000001, 1000003, money("500.00"), "")
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Equal(t, int32(1), flaky.calls)
}

func TestTransferWaitsForLockUntilCanceled(t *testing.T) {
	s := seeded(t)
	e := newEngine(t, transfer.Config{Store: s})

	held := make(chan struct{})
	done := make(chan struct{})
	go func() {
		_ = s.WithTx(context.Background(), func(tx transfer.Tx) error {
			_, err := tx.LockAccount(context.Background(), 1000001)
			close(held)
			if err != nil {
				return err
			}
			<-done
			return nil
		})
	}()
	<-held
	defer close(done)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := e.Do(ctx, 1000001, 1000003, money("500.00"), "")
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Empty(t, s.Transactions())
}

type recordingNotifier struct {
	mu   sync.Mutex
	rows []*transaction.Transaction
	err  error
}

func (n *recordingNotifier) Notify(_ context.Context, t *transaction.Transaction) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.rows = append(n.rows, t)
	return n.err
}

func TestTransferNotifies(t *testing.T) {
	s := seeded(t)
	n := &recordingNotifier{}
	e := newEngine(t, transfer.Config{Store: s, Notifier: n})
	ctx := context.Background()

	ok, err := e.Do(ctx, 1000001, 1000003, money("500.00"), "")
	require.NoError(t, err)
	failed, err := e.Do(ctx, 1000002, 1000003, money("9000.00"), "")
	require.ErrorIs(t, err, transfer.ErrInsufficientFunds)
	_, err = e.Do(ctx, 1000002, 1000002, money("1.00"), "")
	require.ErrorIs(t, err, transfer.ErrSameAccount)

	require.Len(t, n.rows, 2)
	require.Equal(t, ok.ID, n.rows[0].ID)
	require.Equal(t, failed.ID, n.rows[1].ID)
}

func TestTransferIgnoresNotifierErrors(t *testing.T) {
	s := seeded(t)
	e := newEngine(t, transfer.Config{Store: s, Notifier: &recordingNotifier{err: errors.New("collaborator down")}})

	row, err := e.Do(context.Background(), 1000001, 1000003, money("500.00"), "")
	require.NoError(t, err)
	require.Equal(t, transaction.Success, row.Status)
	requireBalance(t, s, 1000001, "9500.00")
}

func TestTransferIdempotency(t *testing.T) {
	s := seeded(t)
	guard := idempotency.NewMemory()
	e := newEngine(t, transfer.Config{Store: s, Guard: guard})
	ctx := context.Background()

	req := transfer.Request{From: 1000001, To: 1000003, Amount: money("500.00"), IdempotencyKey: "pay-1"}
	first, err := e.Transfer(ctx, req)
	require.NoError(t, err)
	again, err := e.Transfer(ctx, req)
	require.NoError(t, err)
	require.Equal(t, first.ID, again.ID)
	requireBalance(t, s, 1000001, "9500.00")
	require.Len(t, s.Transactions(), 1)

	// rejections are replayed with their error
	req = transfer.Request{From: 1000002, To: 1000003, Amount: money("9000.00"), IdempotencyKey: "pay-2"}
	failed, err := e.Transfer(ctx, req)
	require.ErrorIs(t, err, transfer.ErrInsufficientFunds)
	again, err = e.Transfer(ctx, req)
	require.ErrorIs(t, err, transfer.ErrInsufficientFunds)
	require.Equal(t, failed.ID, again.ID)
	require.Len(t, s.Transactions(), 2)

	// unknown accounts leave the key free for a corrected retry
	req = transfer.Request{From: 1000002, To: 999, Amount: money("1.00"), IdempotencyKey: "pay-3"}
	_, err = e.Transfer(ctx, req)
	require.ErrorIs(t, err, transfer.ErrAccountNotFound)
	_, o, err := guard.Begin(ctx, "pay-3", time.Minute)
	require.NoError(t, err)
	require.Nil(t, o)

	// the key is now claimed, as if by a request still running
	_, err = e.Transfer(ctx, req)
	require.ErrorIs(t, err, transfer.ErrDuplicateInFlight)
}

func TestTransferIdempotencyKeyReused(t *testing.T) {
	s := seeded(t)
	e := newEngine(t, transfer.Config{Store: s, Guard: idempotency.NewMemory()})
	ctx := context.Background()

	req := transfer.Request{From: 1000001, To: 1000003, Amount: money("500.00"), IdempotencyKey: "pay-1"}
	_, err := e.Transfer(ctx, req)
	require.NoError(t, err)

	req.Amount = money("900.00")
	row, err := e.Transfer(ctx, req)
	require.ErrorIs(t, err, transfer.ErrIdempotencyKeyReused)
	require.Nil(t, row)

	req.Amount = money("500.00")
	req.To = 1000002
	_, err = e.Transfer(ctx, req)
	require.ErrorIs(t, err, transfer.ErrIdempotencyKeyReused)

	requireBalance(t, s, 1000001, "9500.00")
	require.Len(t, s.Transactions(), 1)
}

// blockingStore holds the first unit open until release is closed
type blockingStore struct {
	transfer.Store
	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

func (b *blockingStore) WithTx(ctx context.Context, fn func(transfer.Tx) error) error {
	first := false
	b.once.Do(func() { first = true })
	if first {
		close(b.entered)
		<-b.release
	}
	return b.Store.WithTx(ctx, fn)
}

func TestTransferIdempotencyClaimOutlivesSlowTransfer(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	s := seeded(t)
	store := &blockingStore{Store: s, entered: make(chan struct{}), release: make(chan struct{})}
	e := newEngine(t, transfer.Config{Store: store, Guard: idempotency.NewRedis(client)})
	ctx := context.Background()
	req := transfer.Request{From: 1000001, To: 1000003, Amount: money("500.00"), IdempotencyKey: "k1"}

	firstErr := make(chan error, 1)
	go func() {
		_, err := e.Transfer(ctx, req)
		firstErr <- err
	}()
	<-store.entered

	// longer than the guard's minimum claim, shorter than a transfer may take
	mr.FastForward(idempotency.DefaultLockTimeout + time.Second)
	_, err := e.Transfer(ctx, req)
	require.ErrorIs(t, err, transfer.ErrDuplicateInFlight)

	close(store.release)
	require.NoError(t, <-firstErr)

	again, err := e.Transfer(ctx, req)
	require.NoError(t, err)
	require.Equal(t, transaction.Success, again.Status)
	requireBalance(t, s, 1000001, "9500.00")
	require.Len(t, s.Transactions(), 1)
}

func TestTransferAttemptTimeoutIsRetried(t *testing.T) {
	s := seeded(t)
	e := newEngine(t, transfer.Config{Store: s, MaxRetries: 1, AttemptTimeout: 20 * time.Millisecond})

	held := make(chan struct{})
	done := make(chan struct{})
	go func() {
		_ = s.WithTx(context.Background(), func(tx transfer.Tx) error {
			_, err := tx.LockAccount(context.Background(), 1000003)
			close(held)
			if err != nil {
				return err
			}
			<-done
			return nil
		})
	}()
	<-held
	defer close(done)

	_, err := e.Do(context.Background(), 1000001, 1000003, money("500.00"), "")
	require.ErrorIs(t, err, transfer.ErrConcurrentModification)
	require.Empty(t, s.Transactions())
	requireBalance(t, s, 1000001, "10000.00")
}

func TestMaxDuration(t *testing.T) {
	e := newEngine(t, transfer.Config{
		Store:          transfer.NewMemoryStore(),
		RetryBackoff:   50 * time.Millisecond,
		AttemptTimeout: 5 * time.Second,
	})
	// 4 attempts of 5s plus 50+100+150ms between them
	require.Equal(t, 20*time.Second+300*time.Millisecond, e.MaxDuration())
	require.Greater(t, e.MaxDuration(), idempotency.DefaultLockTimeout)
}

func TestNewEngine(t *testing.T) {
	_, err := transfer.NewEngine(transfer.Config{})
	require.Error(t, err)

	e, err := transfer.NewEngine(transfer.Config{Store: transfer.NewMemoryStore()})
	require.NoError(t, err)
	require.Equal(t, transfer.DefaultMaxRetries, e.MaxRetries)
	require.Equal(t, transfer.DefaultRetryBackoff, e.RetryBackoff)
	require.Equal(t, transfer.DefaultAttemptTimeout, e.AttemptTimeout)
	require.NotNil(t, e.Notifier)

	e, err = transfer.NewEngine(transfer.Config{Store: transfer.NewMemoryStore(), MaxRetries: -1})
	require.NoError(t, err)
	require.Zero(t, e.MaxRetries)
}

func TestCode(t *testing.T) {
	require.Equal(t, "", transfer.Code(nil))
	require.Equal(t, "insufficient_funds", transfer.Code(transfer.ErrInsufficientFunds))
	require.Equal(t, "account_inactive", transfer.Code(errors.Join(errors.New("x"), transfer.ErrAccountInactive)))
	require.Equal(t, "", transfer.Code(transfer.ErrConcurrentModification))
}
