// Package badgerstore is an embedded Store on BadgerDB.
package badgerstore

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v3"
	"github.com/google/uuid"

	"github.com/baharkarakas/bank-ledger/internal/models"
	repo "github.com/baharkarakas/bank-ledger/internal/repository"
	"github.com/baharkarakas/bank-ledger/internal/repository/keylock"
)

const defaultMaxRetries = 5

type Store struct {
	db         *badger.DB
	locks      *keylock.Map
	maxRetries int
}

// Open opens (or creates) the database at path. An empty path keeps
// everything in memory.
func Open(path string) (*Store, error) {
	opts := badger.DefaultOptions(path)
	if path == "" {
		opts = opts.WithInMemory(true)
	}
	opts.Logger = nil // disable internal logging
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("opening badger db: %w", err)
	}
	return &Store{db: db, locks: keylock.New(), maxRetries: defaultMaxRetries}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// WithAccount runs fn in one read-write badger transaction. The per-account
// lock serializes units inside this process; a commit conflict re-runs fn
// from scratch against fresh reads.
func (s *Store) WithAccount(ctx context.Context, accountID string, fn func(repo.Accounts, repo.Events) error) error {
	unlock := s.locks.Lock(accountID)
	defer unlock()

	var err error
	for attempt := 0; attempt < s.maxRetries; attempt++ {
		if err = ctx.Err(); err != nil {
			return err
		}
		txn := s.db.NewTransaction(true)
		u := &unit{txn: txn}
		if err = fn(u, u); err != nil {
			txn.Discard()
			return err
		}
		err = txn.Commit()
		txn.Discard()
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
	}
	return fmt.Errorf("commit after %d attempts: %w", s.maxRetries, err)
}

// Balance reads the committed balance outside any unit.
func (s *Store) Balance(accountID string) (models.AccountBalance, bool, error) {
	var (
		b  models.AccountBalance
		ok bool
	)
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		b, ok, err = getAccount(txn, accountID)
		return err
	})
	return b, ok, err
}

// Events returns the committed events of one account in append order.
func (s *Store) Events(accountID string) ([]models.TransactionEvent, error) {
	var out []models.TransactionEvent
	prefix := eventPrefix(accountID)
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var e models.TransactionEvent
			if err := it.Item().Value(func(v []byte) error { return json.Unmarshal(v, &e) }); err != nil {
				return err
			}
			out = append(out, e)
		}
		return nil
	})
	return out, err
}

func accountKey(id string) []byte { return []byte("acct/" + id) }

// Event keys carry the account id hex-encoded so that no id can be a key
// prefix of another (ids are opaque and may contain "/").
func eventPrefix(accountID string) []byte {
	return []byte("evt/" + hex.EncodeToString([]byte(accountID)) + "/")
}

// key format: evt/<hex account>/<append seq>
func eventKey(accountID string, seq uint64) []byte {
	return fmt.Appendf(eventPrefix(accountID), "%020d", seq)
}

func seqKey(accountID string) []byte {
	return []byte("seq/" + hex.EncodeToString([]byte(accountID)))
}

func eventIDKey(id uuid.UUID) []byte { return []byte("evid/" + id.String()) }

// nextSeq bumps the account's event counter inside txn.
func nextSeq(txn *badger.Txn, accountID string) (uint64, error) {
	var seq uint64
	item, err := txn.Get(seqKey(accountID))
	switch {
	case errors.Is(err, badger.ErrKeyNotFound):
	case err != nil:
		return 0, err
	default:
		if err := item.Value(func(v []byte) error {
			if len(v) != 8 {
				return fmt.Errorf("corrupt event sequence for %q", accountID)
			}
			seq = binary.BigEndian.Uint64(v)
			return nil
		}); err != nil {
			return 0, err
		}
	}
	seq++
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], seq)
	return seq, txn.Set(seqKey(accountID), buf[:])
}

func getAccount(txn *badger.Txn, id string) (models.AccountBalance, bool, error) {
	var b models.AccountBalance
	item, err := txn.Get(accountKey(id))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return b, false, nil
	}
	if err != nil {
		return b, false, err
	}
	if err := item.Value(func(v []byte) error { return json.Unmarshal(v, &b) }); err != nil {
		return b, false, fmt.Errorf("decode account %q: %w", id, err)
	}
	return b, true, nil
}

type unit struct{ txn *badger.Txn }

func (u *unit) Get(ctx context.Context, accountID string) (models.AccountBalance, bool, error) {
	if err := ctx.Err(); err != nil {
		return models.AccountBalance{}, false, err
	}
	return getAccount(u.txn, accountID)
}

func (u *unit) Upsert(ctx context.Context, b models.AccountBalance) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	val, err := json.Marshal(b)
	if err != nil {
		return err
	}
	return u.txn.Set(accountKey(b.AccountID), val)
}

func (u *unit) Append(ctx context.Context, e models.TransactionEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := e.Validate(); err != nil {
		return err
	}
	val, err := json.Marshal(e)
	if err != nil {
		return err
	}
	// append-only: an event id is written once
	idKey := eventIDKey(e.EventID)
	if _, err := u.txn.Get(idKey); err == nil {
		return fmt.Errorf("event %s already appended", e.EventID)
	} else if !errors.Is(err, badger.ErrKeyNotFound) {
		return err
	}
	seq, err := nextSeq(u.txn, e.AccountID)
	if err != nil {
		return err
	}
	key := eventKey(e.AccountID, seq)
	if err := u.txn.Set(key, val); err != nil {
		return err
	}
	return u.txn.Set(idKey, key)
}
