package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/baharkarakas/bank-ledger/internal/models"
	repo "github.com/baharkarakas/bank-ledger/internal/repository"
)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

type Store struct{ pool *pgxpool.Pool }

func NewStore(pool *pgxpool.Pool) *Store { return &Store{pool: pool} }

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// WithAccount runs fn inside one transaction holding a transaction-scoped
// advisory lock on the account. The advisory lock also covers accounts
// that have no row yet, which FOR UPDATE alone cannot.
func (s *Store) WithAccount(ctx context.Context, accountID string, fn func(repo.Accounts, repo.Events) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   pgx.ReadCommitted,
		AccessMode: pgx.ReadWrite,
	})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, accountID); err != nil {
		_ = tx.Rollback(ctx)
		return fmt.Errorf("lock account: %w", err)
	}
	if err := fn(&accountsRepo{q: tx}, &eventsRepo{q: tx}); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Balance reads the committed balance outside any unit.
func (s *Store) Balance(ctx context.Context, accountID string) (decimal.Decimal, bool, error) {
	b, ok, err := (&accountsRepo{q: s.pool}).Get(ctx, accountID)
	return b.Balance, ok, err
}

// ListEvents returns an account's events, oldest first.
func (s *Store) ListEvents(ctx context.Context, accountID string, limit int) ([]models.TransactionEvent, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT event_id, account_id, tracking_id, transaction_type,
		        requested_amount::text, resulting_balance::text, succeeded, created_at
		   FROM ledger_events
		  WHERE account_id=$1
		  ORDER BY seq ASC
		  LIMIT $2`,
		accountID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.TransactionEvent
	for rows.Next() {
		var (
			e                  models.TransactionEvent
			typ, req, resulted string
		)
		if err := rows.Scan(&e.EventID, &e.AccountID, &e.TrackingID, &typ, &req, &resulted, &e.Succeeded, &e.Timestamp); err != nil {
			return nil, err
		}
		e.Type = models.TransactionType(typ)
		if e.RequestedAmount, err = decimal.NewFromString(req); err != nil {
			return nil, err
		}
		if e.ResultingBalance, err = decimal.NewFromString(resulted); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
