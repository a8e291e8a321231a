// Package memory is a process-local Store used for tests and the
// STORAGE_DRIVER=memory mode.
package memory

import (
	"context"
	"sync"

	"github.com/baharkarakas/bank-ledger/internal/models"
	repo "github.com/baharkarakas/bank-ledger/internal/repository"
	"github.com/baharkarakas/bank-ledger/internal/repository/keylock"
)

type Store struct {
	locks *keylock.Map

	mu       sync.RWMutex // guards accounts, events
	accounts map[string]models.AccountBalance
	events   []models.TransactionEvent
}

func NewStore() *Store {
	return &Store{
		locks:    keylock.New(),
		accounts: map[string]models.AccountBalance{},
	}
}

func (s *Store) WithAccount(ctx context.Context, accountID string, fn func(repo.Accounts, repo.Events) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	unlock := s.locks.Lock(accountID)
	defer unlock()

	u := &unit{store: s, accounts: map[string]models.AccountBalance{}}
	if err := fn(u, (*unitEvents)(u)); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	for id, b := range u.accounts {
		s.accounts[id] = b
	}
	s.events = append(s.events, u.events...)
	s.mu.Unlock()
	return nil
}

func (s *Store) Close() error { return nil }

// Balance returns the committed balance of an account.
func (s *Store) Balance(accountID string) (models.AccountBalance, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.accounts[accountID]
	return b, ok
}

// Events returns a copy of the committed event log in append order.
func (s *Store) Events() []models.TransactionEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.TransactionEvent, len(s.events))
	copy(out, s.events)
	return out
}

// unit stages writes until WithAccount commits them.
type unit struct {
	store    *Store
	accounts map[string]models.AccountBalance
	events   []models.TransactionEvent
}

func (u *unit) Get(ctx context.Context, accountID string) (models.AccountBalance, bool, error) {
	if err := ctx.Err(); err != nil {
		return models.AccountBalance{}, false, err
	}
	if b, ok := u.accounts[accountID]; ok {
		return b, true, nil
	}
	b, ok := u.store.Balance(accountID)
	return b, ok, nil
}

func (u *unit) Upsert(ctx context.Context, b models.AccountBalance) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	u.accounts[b.AccountID] = b
	return nil
}

type unitEvents unit

func (u *unitEvents) Append(ctx context.Context, e models.TransactionEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := e.Validate(); err != nil {
		return err
	}
	u.events = append(u.events, e)
	return nil
}

