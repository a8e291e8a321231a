package ledger

import (
	"errors"
	"fmt"
)

var (
	ErrAccountNotFound = errors.New("account not found")
	ErrInvalidAmount   = errors.New("amount must be > 0")
)

// Fault is an internal failure of a ledger operation: storage errors,
// unknown accounts on debit, invalid input that slipped past the caller.
// A declined authorization is not a Fault.
type Fault struct {
	Op        string
	AccountID string
	Err       error
}

func (f *Fault) Error() string {
	return fmt.Sprintf("ledger %s for account %q: %v", f.Op, f.AccountID, f.Err)
}

func (f *Fault) Unwrap() error { return f.Err }

func fault(op, accountID string, err error) error {
	return &Fault{Op: op, AccountID: accountID, Err: err}
}
