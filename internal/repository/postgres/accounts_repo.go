package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/baharkarakas/bank-ledger/internal/models"
)

type accountsRepo struct{ q querier }

// Get locks the row for the rest of the transaction.
func (r *accountsRepo) Get(ctx context.Context, accountID string) (models.AccountBalance, bool, error) {
	var (
		b   models.AccountBalance
		raw string
	)
	err := r.q.QueryRow(ctx,
		`SELECT account_id, balance::text, updated_at
		   FROM account_balances
		  WHERE account_id=$1
		  FOR UPDATE`,
		accountID,
	).Scan(&b.AccountID, &raw, &b.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.AccountBalance{}, false, nil
	}
	if err != nil {
		return models.AccountBalance{}, false, err
	}
	if b.Balance, err = decimal.NewFromString(raw); err != nil {
		return models.AccountBalance{}, false, fmt.Errorf("parse balance %q: %w", raw, err)
	}
	return b, true, nil
}

func (r *accountsRepo) Upsert(ctx context.Context, b models.AccountBalance) error {
	_, err := r.q.Exec(ctx,
		`INSERT INTO account_balances(account_id, balance, updated_at)
		 VALUES($1, $2::numeric, $3)
		 ON CONFLICT (account_id) DO UPDATE
		    SET balance = EXCLUDED.balance,
		        updated_at = EXCLUDED.updated_at`,
		b.AccountID, b.Balance.String(), b.UpdatedAt,
	)
	return err
}
