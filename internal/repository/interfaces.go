package repository

import (
	"context"

	"github.com/baharkarakas/bank-ledger/internal/models"
)

// Accounts is the keyed balance store. Get reports ok=false for an unknown account.
type Accounts interface {
	Get(ctx context.Context, accountID string) (b models.AccountBalance, ok bool, err error)
	Upsert(ctx context.Context, b models.AccountBalance) error
}

// Events is the append-only audit log.
type Events interface {
	Append(ctx context.Context, e models.TransactionEvent) error
}

// Store hands out Accounts/Events bound to one atomic unit.
//
// WithAccount runs fn serialized against every other unit on the same
// accountID; units on different accounts run independently. Writes made
// through the handed-out repositories commit only if fn returns nil.
type Store interface {
	WithAccount(ctx context.Context, accountID string, fn func(Accounts, Events) error) error
	Close() error
}
