package dedup

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestClaim_FirstWins(t *testing.T) {
	req := require.New(t)
	l, err := OpenBadgerLedger(t.TempDir(), time.Hour)
	req.NoError(err)
	defer l.Close()
	ctx := context.Background()

	ok, err := l.Claim(ctx, "evt-1")
	req.NoError(err)
	req.True(ok)

	ok, err = l.Claim(ctx, "evt-1")
	req.NoError(err)
	req.False(ok)

	ok, err = l.Claim(ctx, "evt-2")
	req.NoError(err)
	req.True(ok)
}

func TestRelease_AllowsReclaim(t *testing.T) {
	req := require.New(t)
	l, err := OpenBadgerLedger("", time.Hour)
	req.NoError(err)
	defer l.Close()
	ctx := context.Background()

	ok, err := l.Claim(ctx, "evt-1")
	req.NoError(err)
	req.True(ok)
	req.NoError(l.Release(ctx, "evt-1"))

	ok, err = l.Claim(ctx, "evt-1")
	req.NoError(err)
	req.True(ok)

	req.NoError(l.Release(ctx, "never-claimed"))
}

func TestClaim_PersistsAcrossReopen(t *testing.T) {
	req := require.New(t)
	dir := t.TempDir()
	ctx := context.Background()

	l, err := OpenBadgerLedger(dir, time.Hour)
	req.NoError(err)
	ok, err := l.Claim(ctx, "evt-1")
	req.NoError(err)
	req.True(ok)
	req.NoError(l.Close())

	l, err = OpenBadgerLedger(dir, time.Hour)
	req.NoError(err)
	defer l.Close()
	ok, err = l.Claim(ctx, "evt-1")
	req.NoError(err)
	req.False(ok)
}

func TestClaim_ConcurrentSingleWinner(t *testing.T) {
	req := require.New(t)
	l, err := OpenBadgerLedger("", time.Hour)
	req.NoError(err)
	defer l.Close()

	var (
		wg   sync.WaitGroup
		wins atomic.Int32
	)
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := l.Claim(context.Background(), "evt-race")
			if err == nil && ok {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	req.Equal(int32(1), wins.Load())
}
