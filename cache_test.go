package pipeline

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func waitForFinished[K comparable, V any, O any](t *testing.T, c *Cache[K, V, O], key K) EntrySnapshot[K, V, O] {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if snap, ok := c.Get(key); ok && snap.Finished() {
			return snap
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("entry never finished")
	return EntrySnapshot[K, V, O]{}
}

func TestCacheSetRunsOperationOnce(t *testing.T) {
	var calls int32
	var mu sync.Mutex
	op := Operation[string, int, int]{
		ID: "double",
		Publish: func(ctx context.Context, job JobID, key string, value int) (int, error) {
			mu.Lock()
			calls++
			mu.Unlock()
			return value * 2, nil
		},
		PP: func(key string, value int) string { return key },
	}
	c := NewCache(op, nil)
	c.Set(context.Background(), "k", 21, 0)

	snap := waitForFinished(t, c, "k")
	assert.Equal(t, 42, snap.Outcome.Value)
	assert.True(t, snap.Outcome.IsOk())
	mu.Lock()
	assert.Equal(t, int32(1), calls)
	mu.Unlock()
}

func TestCacheSetWhileRunningQueuesPendingWhenNotAutoCancel(t *testing.T) {
	release := make(chan struct{})
	var runs []int
	var mu sync.Mutex
	op := Operation[string, int, int]{
		ID: "slow",
		Publish: func(ctx context.Context, job JobID, key string, value int) (int, error) {
			if value == 1 {
				<-release
			}
			mu.Lock()
			runs = append(runs, value)
			mu.Unlock()
			return value, nil
		},
		PP: func(key string, value int) string { return key },
	}
	c := NewCache(op, nil)
	c.Set(context.Background(), "k", 1, 0)
	time.Sleep(20 * time.Millisecond) // ensure first run is in flight
	c.Set(context.Background(), "k", 2, 0)

	close(release)
	waitForFinished(t, c, "k")
	time.Sleep(20 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, runs, 2)
	assert.Equal(t, 1, runs[0])
	assert.Equal(t, 2, runs[1])
}

func TestCacheAutoCancelSupersedesInFlightRun(t *testing.T) {
	started := make(chan int, 4)
	op := Operation[string, int, int]{
		ID:         "cancelable",
		AutoCancel: true,
		Publish: func(ctx context.Context, job JobID, key string, value int) (int, error) {
			started <- value
			if value == 1 {
				<-ctx.Done()
				return 0, ctx.Err()
			}
			return value, nil
		},
		PP: func(key string, value int) string { return key },
	}
	c := NewCache(op, nil)
	c.Set(context.Background(), "k", 1, 0)
	<-started
	c.Set(context.Background(), "k", 2, 0)
	<-started

	snap := waitForFinished(t, c, "k")
	assert.True(t, snap.Outcome.IsOk())
	assert.Equal(t, 2, snap.Outcome.Value)
}

func TestCacheErrorOutcomeRecorded(t *testing.T) {
	op := Operation[string, int, int]{
		ID: "failing",
		Publish: func(ctx context.Context, job JobID, key string, value int) (int, error) {
			return 0, assertErr{}
		},
		PP: func(key string, value int) string { return key },
	}
	c := NewCache(op, nil)
	c.Set(context.Background(), "k", 1, 0)
	snap := waitForFinished(t, c, "k")
	assert.False(t, snap.Outcome.IsOk())
	assert.Equal(t, Msg("boom"), snap.Outcome.Err)
}

type assertErr struct{}

func (assertErr) Error() string { return "boom" }

func TestCacheBootstrapSeedsWithoutRunning(t *testing.T) {
	op := Operation[string, int, int]{
		ID: "seeded",
		Publish: func(ctx context.Context, job JobID, key string, value int) (int, error) {
			t.Fatal("Publish should not run on Bootstrap")
			return 0, nil
		},
		PP: func(key string, value int) string { return key },
	}
	c := NewCache(op, nil)
	c.Bootstrap([]EntrySnapshot[string, int, int]{
		{Key: "k", Value: 7, Build: 1, Phase: phaseFinished, Outcome: Outcome[int]{Value: 14}},
	})
	snap, ok := c.Get("k")
	require.True(t, ok)
	assert.True(t, snap.Finished())
	assert.Equal(t, 14, snap.Outcome.Value)
}

func TestCacheWriteThroughCalledOnTransitions(t *testing.T) {
	var snapshots []EntrySnapshot[string, int, int]
	var mu sync.Mutex
	op := Operation[string, int, int]{
		ID: "wt",
		Publish: func(ctx context.Context, job JobID, key string, value int) (int, error) {
			return value, nil
		},
		PP: func(key string, value int) string { return key },
	}
	wt := func(e EntrySnapshot[string, int, int]) {
		mu.Lock()
		snapshots = append(snapshots, e)
		mu.Unlock()
	}
	c := NewCache(op, wt)
	c.Set(context.Background(), "k", 5, 0)
	waitForFinished(t, c, "k")
	time.Sleep(10 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	require.GreaterOrEqual(t, len(snapshots), 2)
	assert.NotEmpty(t, snapshots[0].KeyDigest)
}
