package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/baharkarakas/bank-ledger/internal/metrics"
	"github.com/baharkarakas/bank-ledger/internal/models"
	repo "github.com/baharkarakas/bank-ledger/internal/repository"
)

const DefaultTimeout = 5 * time.Second

type Outcome string

const (
	Approved Outcome = "APPROVED"
	Declined Outcome = "DECLINED"
)

// Result is the non-fault outcome of Load/Authorize. On Declined, Balance
// is the unchanged balance at the time of the attempt.
type Result struct {
	Outcome Outcome
	Balance decimal.Decimal
	Event   models.TransactionEvent
}

type Engine struct {
	store   repo.Store
	log     *slog.Logger
	timeout time.Duration
}

type Option func(*Engine)

func WithLogger(l *slog.Logger) Option { return func(e *Engine) { e.log = l } }

// WithTimeout bounds each atomic unit, independent of the caller's deadline.
func WithTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.timeout = d
		}
	}
}

func NewEngine(store repo.Store, opts ...Option) *Engine {
	e := &Engine{store: store, log: slog.Default(), timeout: DefaultTimeout}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Load credits amount (USD) to the account, creating it on first use.
func (e *Engine) Load(ctx context.Context, accountID, trackingID string, amount decimal.Decimal) (Result, error) {
	start := time.Now()
	res, err := e.load(ctx, accountID, trackingID, amount)
	e.observe(models.TxnCredit, res, err, start)
	return res, err
}

// Authorize debits amount (USD) from an existing account. Insufficient
// funds is reported as a Declined result with a nil error; the declined
// attempt is still recorded in the event log.
func (e *Engine) Authorize(ctx context.Context, accountID, trackingID string, amount decimal.Decimal) (Result, error) {
	start := time.Now()
	res, err := e.authorize(ctx, accountID, trackingID, amount)
	e.observe(models.TxnDebit, res, err, start)
	return res, err
}

func (e *Engine) load(ctx context.Context, accountID, trackingID string, amount decimal.Decimal) (Result, error) {
	if !amount.IsPositive() {
		return Result{}, fault("load", accountID, ErrInvalidAmount)
	}
	ctx, cancel := e.unitContext(ctx)
	defer cancel()

	var res Result
	err := e.store.WithAccount(ctx, accountID, func(accts repo.Accounts, events repo.Events) error {
		cur, ok, err := accts.Get(ctx, accountID)
		if err != nil {
			return fmt.Errorf("get balance: %w", err)
		}
		newBal := amount
		if ok {
			newBal = cur.Balance.Add(amount)
		}
		if err := accts.Upsert(ctx, models.AccountBalance{AccountID: accountID, Balance: newBal, UpdatedAt: time.Now().UTC()}); err != nil {
			return fmt.Errorf("upsert balance: %w", err)
		}
		ev := models.NewEvent(accountID, trackingID, models.TxnCredit, amount, newBal, true)
		if err := events.Append(ctx, ev); err != nil {
			return fmt.Errorf("append event: %w", err)
		}
		res = Result{Outcome: Approved, Balance: newBal, Event: ev}
		return nil
	})
	if err != nil {
		e.log.Error("load failed", "account_id", accountID, "tracking_id", trackingID, "amount", amount.String(), "err", err)
		return Result{}, fault("load", accountID, err)
	}
	return res, nil
}

func (e *Engine) authorize(ctx context.Context, accountID, trackingID string, amount decimal.Decimal) (Result, error) {
	if !amount.IsPositive() {
		return Result{}, fault("authorize", accountID, ErrInvalidAmount)
	}
	ctx, cancel := e.unitContext(ctx)
	defer cancel()

	var res Result
	err := e.store.WithAccount(ctx, accountID, func(accts repo.Accounts, events repo.Events) error {
		cur, ok, err := accts.Get(ctx, accountID)
		if err != nil {
			return fmt.Errorf("get balance: %w", err)
		}
		// debits never create accounts
		if !ok {
			return ErrAccountNotFound
		}

		if cur.Balance.LessThan(amount) {
			ev := models.NewEvent(accountID, trackingID, models.TxnDebit, amount, cur.Balance, false)
			if err := events.Append(ctx, ev); err != nil {
				return fmt.Errorf("append declined event: %w", err)
			}
			res = Result{Outcome: Declined, Balance: cur.Balance, Event: ev}
			return nil
		}

		newBal := cur.Balance.Sub(amount)
		if err := accts.Upsert(ctx, models.AccountBalance{AccountID: accountID, Balance: newBal, UpdatedAt: time.Now().UTC()}); err != nil {
			return fmt.Errorf("upsert balance: %w", err)
		}
		ev := models.NewEvent(accountID, trackingID, models.TxnDebit, amount, newBal, true)
		if err := events.Append(ctx, ev); err != nil {
			return fmt.Errorf("append event: %w", err)
		}
		res = Result{Outcome: Approved, Balance: newBal, Event: ev}
		return nil
	})
	if err != nil {
		e.log.Error("authorization failed", "account_id", accountID, "tracking_id", trackingID, "amount", amount.String(), "err", err)
		return Result{}, fault("authorize", accountID, err)
	}
	if res.Outcome == Declined {
		e.log.Warn("authorization declined",
			"account_id", accountID,
			"tracking_id", trackingID,
			"balance", res.Balance.StringFixed(2),
			"amount", amount.String(),
		)
	}
	return res, nil
}

// unitContext detaches the unit from caller cancellation so a started
// operation always finishes (or fails) on its own timeout.
func (e *Engine) unitContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), e.timeout)
}

func (e *Engine) observe(typ models.TransactionType, res Result, err error, start time.Time) {
	outcome := "fault"
	switch {
	case err == nil && res.Outcome == Approved:
		outcome = "approved"
	case err == nil && res.Outcome == Declined:
		outcome = "declined"
	case errors.Is(err, ErrAccountNotFound):
		outcome = "unknown_account"
	}
	metrics.LedgerOperations.WithLabelValues(string(typ), outcome).Inc()
	metrics.LedgerDuration.WithLabelValues(string(typ)).Observe(time.Since(start).Seconds())
}
