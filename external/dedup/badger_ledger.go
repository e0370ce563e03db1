package dedup

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
)

const (
	keyPrefix       = "webhook:"
	maxClaimRetries = 5
)

// BadgerLedger remembers processed webhook event ids for a fixed TTL.
type BadgerLedger struct {
	db  *badger.DB
	ttl time.Duration
}

// OpenBadgerLedger opens a ledger under dir, or an in-memory one when dir
// is empty.
func OpenBadgerLedger(dir string, ttl time.Duration) (*BadgerLedger, error) {
	opts := badger.DefaultOptions(dir).WithLoggingLevel(badger.ERROR)
	if dir == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open dedup ledger: %w", err)
	}
	return NewBadgerLedger(db, ttl), nil
}

func NewBadgerLedger(db *badger.DB, ttl time.Duration) *BadgerLedger {
	return &BadgerLedger{db: db, ttl: ttl}
}

// Claim records id and reports whether this call was the first to do so.
func (l *BadgerLedger) Claim(ctx context.Context, id string) (bool, error) {
	key := []byte(keyPrefix + id)
	for attempt := 0; attempt < maxClaimRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return false, err
		}
		claimed := false
		err := l.db.Update(func(txn *badger.Txn) error {
			_, err := txn.Get(key)
			if err == nil {
				return nil
			}
			if !errors.Is(err, badger.ErrKeyNotFound) {
				return err
			}
			entry := badger.NewEntry(key, []byte(time.Now().UTC().Format(time.RFC3339Nano)))
			if l.ttl > 0 {
				entry = entry.WithTTL(l.ttl)
			}
			if err := txn.SetEntry(entry); err != nil {
				return err
			}
			claimed = true
			return nil
		})
		if errors.Is(err, badger.ErrConflict) {
			continue
		}
		if err != nil {
			return false, fmt.Errorf("failed to claim event %s: %w", id, err)
		}
		return claimed, nil
	}
	return false, fmt.Errorf("failed to claim event %s: %w", id, badger.ErrConflict)
}

// Release forgets id so a redelivery is processed again.
func (l *BadgerLedger) Release(_ context.Context, id string) error {
	err := l.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(keyPrefix + id))
	})
	if err != nil {
		return fmt.Errorf("failed to release event %s: %w", id, err)
	}
	return nil
}

func (l *BadgerLedger) Close() error {
	return l.db.Close()
}
