package ledger

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/baharkarakas/bank-ledger/internal/models"
	repo "github.com/baharkarakas/bank-ledger/internal/repository"
	"github.com/baharkarakas/bank-ledger/internal/repository/badgerstore"
	"github.com/baharkarakas/bank-ledger/internal/repository/memory"
)

// inspectable is what the tests need beyond repo.Store to check state.
type inspectable interface {
	repo.Store
	balance(t *testing.T, id string) (decimal.Decimal, bool)
	events(t *testing.T, id string) []models.TransactionEvent
}

type memStore struct{ *memory.Store }

func (m memStore) balance(_ *testing.T, id string) (decimal.Decimal, bool) {
	b, ok := m.Balance(id)
	return b.Balance, ok
}

func (m memStore) events(_ *testing.T, id string) []models.TransactionEvent {
	var out []models.TransactionEvent
	for _, e := range m.Events() {
		if e.AccountID == id {
			out = append(out, e)
		}
	}
	return out
}

type badgerTestStore struct{ *badgerstore.Store }

func (b badgerTestStore) balance(t *testing.T, id string) (decimal.Decimal, bool) {
	bal, ok, err := b.Balance(id)
	require.NoError(t, err)
	return bal.Balance, ok
}

func (b badgerTestStore) events(t *testing.T, id string) []models.TransactionEvent {
	evs, err := b.Events(id)
	require.NoError(t, err)
	return evs
}

var stores = map[string]func(t *testing.T) inspectable{
	"memory": func(t *testing.T) inspectable { return memStore{memory.NewStore()} },
	"badger": func(t *testing.T) inspectable {
		s, err := badgerstore.Open("")
		require.NoError(t, err)
		t.Cleanup(func() { _ = s.Close() })
		return badgerTestStore{s}
	},
}

func quiet() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func usd(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func forEachStore(t *testing.T, fn func(t *testing.T, s inspectable, e *Engine)) {
	for name, open := range stores {
		t.Run(name, func(t *testing.T) {
			s := open(t)
			fn(t, s, NewEngine(s, WithLogger(quiet())))
		})
	}
}

func TestLoad(t *testing.T) {
	forEachStore(t, func(t *testing.T, s inspectable, e *Engine) {
		ctx := context.Background()

		t.Run("creates unknown account", func(t *testing.T) {
			res, err := e.Load(ctx, "new", "m1", usd("100"))
			require.NoError(t, err)
			assert.Equal(t, Approved, res.Outcome)
			assert.True(t, res.Balance.Equal(usd("100")))

			bal, ok := s.balance(t, "new")
			require.True(t, ok)
			assert.True(t, bal.Equal(usd("100")))

			evs := s.events(t, "new")
			require.Len(t, evs, 1)
			assert.Equal(t, models.TxnCredit, evs[0].Type)
			assert.Equal(t, "m1", evs[0].TrackingID)
			assert.True(t, evs[0].Succeeded)
			assert.True(t, evs[0].RequestedAmount.Equal(usd("100")))
			assert.True(t, evs[0].ResultingBalance.Equal(usd("100")))
		})

		t.Run("adds to existing balance", func(t *testing.T) {
			res, err := e.Load(ctx, "new", "m2", usd("0.50"))
			require.NoError(t, err)
			assert.True(t, res.Balance.Equal(usd("100.50")))
			assert.Len(t, s.events(t, "new"), 2)
		})

		t.Run("rejects non-positive amounts", func(t *testing.T) {
			for _, amt := range []string{"0", "-1"} {
				_, err := e.Load(ctx, "neg", "m", usd(amt))
				var f *Fault
				require.ErrorAs(t, err, &f)
				assert.ErrorIs(t, err, ErrInvalidAmount)
				assert.Equal(t, "load", f.Op)
			}
			_, ok := s.balance(t, "neg")
			assert.False(t, ok)
			assert.Empty(t, s.events(t, "neg"))
		})
	})
}

func TestAuthorize(t *testing.T) {
	forEachStore(t, func(t *testing.T, s inspectable, e *Engine) {
		ctx := context.Background()
		_, err := e.Load(ctx, "a", "seed", usd("100"))
		require.NoError(t, err)

		t.Run("debits when funds suffice", func(t *testing.T) {
			res, err := e.Authorize(ctx, "a", "d1", usd("30"))
			require.NoError(t, err)
			assert.Equal(t, Approved, res.Outcome)
			assert.True(t, res.Balance.Equal(usd("70")))
			assert.True(t, res.Event.Succeeded)
		})

		t.Run("declines above balance and records it", func(t *testing.T) {
			res, err := e.Authorize(ctx, "a", "d2", usd("70.01"))
			require.NoError(t, err)
			assert.Equal(t, Declined, res.Outcome)
			assert.True(t, res.Balance.Equal(usd("70")))

			bal, _ := s.balance(t, "a")
			assert.True(t, bal.Equal(usd("70")))

			evs := s.events(t, "a")
			last := evs[len(evs)-1]
			assert.False(t, last.Succeeded)
			assert.Equal(t, "d2", last.TrackingID)
			assert.True(t, last.ResultingBalance.Equal(usd("70")))
			assert.True(t, last.RequestedAmount.Equal(usd("70.01")))
		})

		t.Run("exact balance drains to zero", func(t *testing.T) {
			res, err := e.Authorize(ctx, "a", "d3", usd("70"))
			require.NoError(t, err)
			assert.Equal(t, Approved, res.Outcome)
			assert.True(t, res.Balance.IsZero())
		})

		t.Run("unknown account is a fault with no event", func(t *testing.T) {
			_, err := e.Authorize(ctx, "ghost", "d4", usd("1"))
			var f *Fault
			require.ErrorAs(t, err, &f)
			assert.ErrorIs(t, err, ErrAccountNotFound)
			assert.Equal(t, "ghost", f.AccountID)
			_, ok := s.balance(t, "ghost")
			assert.False(t, ok)
			assert.Empty(t, s.events(t, "ghost"))
		})

		t.Run("rejects non-positive amounts", func(t *testing.T) {
			_, err := e.Authorize(ctx, "a", "d5", decimal.Zero)
			assert.ErrorIs(t, err, ErrInvalidAmount)
		})
	})
}

func TestScenarioLoadDebitDecline(t *testing.T) {
	forEachStore(t, func(t *testing.T, s inspectable, e *Engine) {
		ctx := context.Background()

		res, err := e.Load(ctx, "u1", "t1", usd("100"))
		require.NoError(t, err)
		assert.Equal(t, "100.00", res.Balance.StringFixed(2))

		res, err = e.Authorize(ctx, "u1", "t2", usd("30"))
		require.NoError(t, err)
		assert.Equal(t, Approved, res.Outcome)
		assert.Equal(t, "70.00", res.Balance.StringFixed(2))

		res, err = e.Authorize(ctx, "u1", "t3", usd("70.5"))
		require.NoError(t, err)
		assert.Equal(t, Declined, res.Outcome)
		assert.Equal(t, "70.00", res.Balance.StringFixed(2))

		evs := s.events(t, "u1")
		require.Len(t, evs, 3)
		assert.Equal(t, []string{"t1", "t2", "t3"}, []string{evs[0].TrackingID, evs[1].TrackingID, evs[2].TrackingID})
		assert.Equal(t, []bool{true, true, false}, []bool{evs[0].Succeeded, evs[1].Succeeded, evs[2].Succeeded})
	})
}

func TestConcurrentUpdatesAreNotLost(t *testing.T) {
	forEachStore(t, func(t *testing.T, s inspectable, e *Engine) {
		ctx := context.Background()
		const n = 50

		// first credit races too: the account does not exist yet
		var wg sync.WaitGroup
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, err := e.Load(ctx, "hot", fmt.Sprintf("l%d", i), usd("2"))
				assert.NoError(t, err)
			}(i)
		}
		wg.Wait()
		bal, ok := s.balance(t, "hot")
		require.True(t, ok)
		assert.True(t, bal.Equal(usd("100")), "got %s", bal)

		// 3 per debit: 33 approve, the rest decline
		var (
			mu       sync.Mutex
			approved int
		)
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				res, err := e.Authorize(ctx, "hot", fmt.Sprintf("d%d", i), usd("3"))
				assert.NoError(t, err)
				if res.Outcome == Approved {
					mu.Lock()
					approved++
					mu.Unlock()
				}
			}(i)
		}
		wg.Wait()
		assert.Equal(t, 33, approved)
		bal, _ = s.balance(t, "hot")
		assert.True(t, bal.Equal(usd("1")), "got %s", bal)
		assert.Len(t, s.events(t, "hot"), 2*n)
	})
}

func TestAccountsAreIndependent(t *testing.T) {
	forEachStore(t, func(t *testing.T, s inspectable, e *Engine) {
		ctx := context.Background()
		accounts := []string{"x", "x/y", "z"}

		var wg sync.WaitGroup
		for _, id := range accounts {
			for i := 0; i < 20; i++ {
				wg.Add(1)
				go func(id string, i int) {
					defer wg.Done()
					_, err := e.Load(ctx, id, fmt.Sprintf("%s-%d", id, i), usd("1.25"))
					assert.NoError(t, err)
				}(id, i)
			}
		}
		wg.Wait()

		for _, id := range accounts {
			bal, ok := s.balance(t, id)
			require.True(t, ok)
			assert.True(t, bal.Equal(usd("25")), "%s: got %s", id, bal)
			assert.Len(t, s.events(t, id), 20)
		}
	})
}

type op struct {
	credit bool
	amount decimal.Decimal
	id     string
}

// mixedOps returns a seeding credit followed by n-1 credits and debits.
func mixedOps(n int) []op {
	ops := []op{{credit: true, amount: usd("1000"), id: "seed"}}
	for i := 1; i < n; i++ {
		amt := decimal.NewFromInt(int64(i%7 + 1)).Add(usd("0.25"))
		ops = append(ops, op{credit: i%3 == 0, amount: amt, id: fmt.Sprintf("op%d", i)})
	}
	return ops
}

func apply(ctx context.Context, e *Engine, account string, o op) (Result, error) {
	if o.credit {
		return e.Load(ctx, account, o.id, o.amount)
	}
	return e.Authorize(ctx, account, o.id, o.amount)
}

// runOps applies ops[0] first, then the rest either in order or
// concurrently after a shuffle.
func runOps(t *testing.T, e *Engine, account string, ops []op, concurrent bool) {
	ctx := context.Background()
	_, err := apply(ctx, e, account, ops[0])
	require.NoError(t, err)
	rest := append([]op(nil), ops[1:]...)
	if !concurrent {
		for _, o := range rest {
			_, err := apply(ctx, e, account, o)
			require.NoError(t, err)
		}
		return
	}
	rand.New(rand.NewSource(7)).Shuffle(len(rest), func(i, j int) { rest[i], rest[j] = rest[j], rest[i] })
	var wg sync.WaitGroup
	for _, o := range rest {
		wg.Add(1)
		go func(o op) {
			defer wg.Done()
			_, err := apply(ctx, e, account, o)
			assert.NoError(t, err)
		}(o)
	}
	wg.Wait()
}

func TestInterleavingsAgreeOnFinalBalance(t *testing.T) {
	const n = 40
	ops := mixedOps(n)
	want := decimal.Zero
	for _, o := range ops {
		if o.credit {
			want = want.Add(o.amount)
		} else {
			want = want.Sub(o.amount)
		}
	}

	for name, open := range stores {
		t.Run(name, func(t *testing.T) {
			ordered, shuffled := open(t), open(t)
			runOps(t, NewEngine(ordered, WithLogger(quiet())), "acct", ops, false)
			runOps(t, NewEngine(shuffled, WithLogger(quiet())), "acct", ops, true)

			a, ok := ordered.balance(t, "acct")
			require.True(t, ok)
			b, ok := shuffled.balance(t, "acct")
			require.True(t, ok)
			assert.True(t, a.Equal(b), "ordered %s, shuffled %s", a, b)
			assert.True(t, a.Equal(want), "got %s, want %s", a, want)

			for _, s := range []inspectable{ordered, shuffled} {
				evs := s.events(t, "acct")
				assert.Len(t, evs, n)
				for _, ev := range evs {
					assert.True(t, ev.Succeeded, "unexpected decline %s", ev.TrackingID)
				}
			}
		})
	}
}

// With declines possible, the log must still read as one sequential
// history: every event follows from the balance before it.
func TestConcurrentHistoryIsSequential(t *testing.T) {
	forEachStore(t, func(t *testing.T, s inspectable, e *Engine) {
		ops := mixedOps(60)
		ops[0].amount = usd("20")
		runOps(t, e, "tight", ops, true)

		evs := s.events(t, "tight")
		require.Len(t, evs, len(ops))
		running := decimal.Zero
		declines := 0
		for _, ev := range evs {
			switch {
			case ev.Type == models.TxnCredit:
				running = running.Add(ev.RequestedAmount)
			case ev.Succeeded:
				require.False(t, running.LessThan(ev.RequestedAmount), "overdraft at %s", ev.TrackingID)
				running = running.Sub(ev.RequestedAmount)
			default:
				require.True(t, running.LessThan(ev.RequestedAmount), "wrong decline at %s", ev.TrackingID)
				declines++
			}
			require.True(t, ev.ResultingBalance.Equal(running), "%s: event says %s, history says %s", ev.TrackingID, ev.ResultingBalance, running)
		}
		bal, _ := s.balance(t, "tight")
		assert.True(t, bal.Equal(running))
		assert.Positive(t, declines)
	})
}

func TestCallerCancellationDoesNotAbortUnit(t *testing.T) {
	forEachStore(t, func(t *testing.T, s inspectable, e *Engine) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		res, err := e.Load(ctx, "c", "m1", usd("5"))
		require.NoError(t, err)
		assert.True(t, res.Balance.Equal(usd("5")))
		bal, ok := s.balance(t, "c")
		require.True(t, ok)
		assert.True(t, bal.Equal(usd("5")))
	})
}

// faultyStore wraps a memory store and fails chosen steps of a unit.
type faultyStore struct {
	*memory.Store
	failGet, failUpsert, failAppend bool
}

var errInjected = errors.New("injected storage failure")

func (f *faultyStore) WithAccount(ctx context.Context, id string, fn func(repo.Accounts, repo.Events) error) error {
	return f.Store.WithAccount(ctx, id, func(a repo.Accounts, ev repo.Events) error {
		return fn(faultyAccounts{a, f}, faultyEvents{ev, f})
	})
}

type faultyAccounts struct {
	repo.Accounts
	f *faultyStore
}

func (a faultyAccounts) Get(ctx context.Context, id string) (models.AccountBalance, bool, error) {
	if a.f.failGet {
		return models.AccountBalance{}, false, errInjected
	}
	return a.Accounts.Get(ctx, id)
}

func (a faultyAccounts) Upsert(ctx context.Context, b models.AccountBalance) error {
	if a.f.failUpsert {
		return errInjected
	}
	return a.Accounts.Upsert(ctx, b)
}

type faultyEvents struct {
	repo.Events
	f *faultyStore
}

func (e faultyEvents) Append(ctx context.Context, ev models.TransactionEvent) error {
	if e.f.failAppend {
		return errInjected
	}
	return e.Events.Append(ctx, ev)
}

func TestStorageFaults(t *testing.T) {
	ctx := context.Background()
	newStore := func(t *testing.T) (*faultyStore, *Engine) {
		fs := &faultyStore{Store: memory.NewStore()}
		e := NewEngine(fs, WithLogger(quiet()))
		_, err := e.Load(ctx, "a", "seed", usd("10"))
		require.NoError(t, err)
		return fs, e
	}

	t.Run("read failure", func(t *testing.T) {
		fs, e := newStore(t)
		fs.failGet = true
		_, err := e.Load(ctx, "a", "m", usd("1"))
		var f *Fault
		require.ErrorAs(t, err, &f)
		assert.ErrorIs(t, err, errInjected)
	})

	t.Run("upsert failure leaves no partial state", func(t *testing.T) {
		fs, e := newStore(t)
		fs.failUpsert = true
		_, err := e.Authorize(ctx, "a", "m", usd("1"))
		assert.ErrorIs(t, err, errInjected)
		b, _ := fs.Balance("a")
		assert.True(t, b.Balance.Equal(usd("10")))
		assert.Len(t, fs.Events(), 1)
	})

	t.Run("append failure rolls back the balance", func(t *testing.T) {
		fs, e := newStore(t)
		fs.failAppend = true
		_, err := e.Load(ctx, "a", "m", usd("1"))
		assert.ErrorIs(t, err, errInjected)
		b, _ := fs.Balance("a")
		assert.True(t, b.Balance.Equal(usd("10")))
		assert.Len(t, fs.Events(), 1)
	})

	t.Run("declined append failure is a fault", func(t *testing.T) {
		fs, e := newStore(t)
		fs.failAppend = true
		res, err := e.Authorize(ctx, "a", "m", usd("50"))
		var f *Fault
		require.ErrorAs(t, err, &f)
		assert.Equal(t, "authorize", f.Op)
		assert.NotEqual(t, Declined, res.Outcome)
		assert.Len(t, fs.Events(), 1)
	})
}

// slowStore holds every unit for a fixed delay before running it.
type slowStore struct {
	repo.Store
	delay time.Duration
}

func (s slowStore) WithAccount(ctx context.Context, id string, fn func(repo.Accounts, repo.Events) error) error {
	select {
	case <-time.After(s.delay):
	case <-ctx.Done():
		return ctx.Err()
	}
	return s.Store.WithAccount(ctx, id, fn)
}

func TestEngineTimeout(t *testing.T) {
	e := NewEngine(slowStore{memory.NewStore(), 200 * time.Millisecond},
		WithLogger(quiet()), WithTimeout(10*time.Millisecond))
	_, err := e.Load(context.Background(), "a", "m", usd("1"))
	var f *Fault
	require.ErrorAs(t, err, &f)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
