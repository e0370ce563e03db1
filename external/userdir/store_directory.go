package userdir

import (
	"context"
	"fmt"
	"time"

	"github.com/dgraph-io/ristretto/v2"
	"github.com/foxseedlab/circles/internal/store"
)

const usersCollection = "users"

type profile struct {
	exists      bool
	displayName string
}

// StoreDirectory reads users/{uid} documents and caches the ones it
// finds for a short TTL.
type StoreDirectory struct {
	store store.Store
	cache *ristretto.Cache[string, profile]
	ttl   time.Duration
}

func NewStoreDirectory(s store.Store, ttl time.Duration) (*StoreDirectory, error) {
	cache, err := ristretto.NewCache(&ristretto.Config[string, profile]{
		NumCounters: 100_000,
		MaxCost:     10_000,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create user cache: %w", err)
	}
	return &StoreDirectory{store: s, cache: cache, ttl: ttl}, nil
}

func (d *StoreDirectory) Exists(ctx context.Context, userID string) (bool, error) {
	p, err := d.lookup(ctx, userID)
	if err != nil {
		return false, err
	}
	return p.exists, nil
}

func (d *StoreDirectory) DisplayName(ctx context.Context, userID string) (string, bool, error) {
	p, err := d.lookup(ctx, userID)
	if err != nil {
		return "", false, err
	}
	return p.displayName, p.displayName != "", nil
}

func (d *StoreDirectory) Close() error {
	d.cache.Close()
	return nil
}

func (d *StoreDirectory) lookup(ctx context.Context, userID string) (profile, error) {
	if userID == "" {
		return profile{}, nil
	}
	if p, ok := d.cache.Get(userID); ok {
		return p, nil
	}
	doc, err := d.store.Get(ctx, store.Join(usersCollection, userID))
	if err != nil {
		return profile{}, fmt.Errorf("failed to read user %s: %w", userID, err)
	}
	if doc == nil {
		// Misses stay uncached: the user record may be written moments
		// before the transport redelivers a join.
		return profile{}, nil
	}
	p := profile{exists: true, displayName: doc.Data.String("displayName")}
	if d.ttl > 0 {
		d.cache.SetWithTTL(userID, p, 1, d.ttl)
	}
	return p, nil
}
