package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/sensorstream/metric"
)

type item struct {
	key string
	seq int
}

func keyOf(i item) string { return i.key }

func TestNewPool(t *testing.T) {
	noop := func(context.Context, item) error { return nil }

	pool, err := NewPool(4, 16, keyOf, noop)
	require.NoError(t, err)
	assert.Len(t, pool.shards, 4)
	assert.Equal(t, 16, pool.queueSize)

	pool, err = NewPool(0, 0, keyOf, noop)
	require.NoError(t, err)
	assert.Len(t, pool.shards, 8)
	assert.Equal(t, 256, pool.queueSize)

	_, err = NewPool[item](4, 16, keyOf, nil)
	assert.ErrorIs(t, err, ErrNilProcessor)

	_, err = NewPool[item](4, 16, nil, noop)
	assert.ErrorIs(t, err, ErrNilProcessor)
}

func TestPool_Lifecycle(t *testing.T) {
	pool, err := NewPool(2, 4, keyOf, func(context.Context, item) error { return nil })
	require.NoError(t, err)

	assert.ErrorIs(t, pool.Submit(context.Background(), item{key: "a"}), ErrPoolNotStarted)

	require.NoError(t, pool.Start(context.Background()))
	assert.ErrorIs(t, pool.Start(context.Background()), ErrPoolAlreadyStarted)

	require.NoError(t, pool.Stop(time.Second))
	require.NoError(t, pool.Stop(time.Second), "second stop is a no-op")

	assert.ErrorIs(t, pool.Submit(context.Background(), item{key: "a"}), ErrPoolStopped)
}

func TestPool_PerKeyOrdering(t *testing.T) {
	var mu sync.Mutex
	seen := make(map[string][]int)

	pool, err := NewPool(4, 8, keyOf, func(_ context.Context, it item) error {
		mu.Lock()
		seen[it.key] = append(seen[it.key], it.seq)
		mu.Unlock()
		return nil
	})
	require.NoError(t, err)
	require.NoError(t, pool.Start(context.Background()))

	keys := []string{"sensor-1", "sensor-2", "sensor-3", "sensor-4", "sensor-5"}
	const perKey = 50

	var wg sync.WaitGroup
	for _, k := range keys {
		wg.Add(1)
		go func(k string) {
			defer wg.Done()
			for i := 0; i < perKey; i++ {
				assert.NoError(t, pool.Submit(context.Background(), item{key: k, seq: i}))
			}
		}(k)
	}
	wg.Wait()
	require.NoError(t, pool.Stop(5*time.Second))

	for _, k := range keys {
		require.Len(t, seen[k], perKey, k)
		for i, s := range seen[k] {
			assert.Equal(t, i, s, "key %s out of order", k)
		}
	}
}

func TestPool_SameKeyNeverConcurrent(t *testing.T) {
	var active, maxActive atomic.Int32

	pool, err := NewPool(4, 4, keyOf, func(context.Context, item) error {
		n := active.Add(1)
		for {
			m := maxActive.Load()
			if n <= m || maxActive.CompareAndSwap(m, n) {
				break
			}
		}
		time.Sleep(time.Millisecond)
		active.Add(-1)
		return nil
	})
	require.NoError(t, err)
	require.NoError(t, pool.Start(context.Background()))

	for i := 0; i < 20; i++ {
		require.NoError(t, pool.Submit(context.Background(), item{key: "only", seq: i}))
	}
	require.NoError(t, pool.Stop(5*time.Second))

	assert.Equal(t, int32(1), maxActive.Load())
}

func TestPool_SubmitBlocksWhenFull(t *testing.T) {
	release := make(chan struct{})
	var processed atomic.Int32

	pool, err := NewPool(1, 1, keyOf, func(context.Context, item) error {
		<-release
		processed.Add(1)
		return nil
	})
	require.NoError(t, err)
	require.NoError(t, pool.Start(context.Background()))

	// one item in the processor, one in the queue
	require.NoError(t, pool.Submit(context.Background(), item{key: "k", seq: 0}))
	require.Eventually(t, func() bool { return pool.Stats().QueueDepth == 0 }, time.Second, time.Millisecond)
	require.NoError(t, pool.Submit(context.Background(), item{key: "k", seq: 1}))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err = pool.Submit(ctx, item{key: "k", seq: 2})
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	blocked := make(chan error, 1)
	go func() { blocked <- pool.Submit(context.Background(), item{key: "k", seq: 3}) }()

	select {
	case <-blocked:
		t.Fatal("submit returned while the queue was full")
	case <-time.After(20 * time.Millisecond):
	}

	close(release)
	require.NoError(t, <-blocked)
	require.NoError(t, pool.Stop(time.Second))

	assert.Equal(t, int32(3), processed.Load())
	assert.GreaterOrEqual(t, pool.Stats().Waited, int64(2))
}

func TestPool_StopDrainsQueue(t *testing.T) {
	var processed atomic.Int32

	ctx, cancel := context.WithCancel(context.Background())
	pool, err := NewPool(2, 100, keyOf, func(ctx context.Context, _ item) error {
		time.Sleep(time.Millisecond)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		processed.Add(1)
		return nil
	})
	require.NoError(t, err)
	require.NoError(t, pool.Start(ctx))

	for i := 0; i < 50; i++ {
		require.NoError(t, pool.Submit(context.Background(), item{key: fmt.Sprint(i % 3), seq: i}))
	}
	cancel()

	require.NoError(t, pool.Stop(5*time.Second))
	assert.Equal(t, int32(50), processed.Load())
}

func TestPool_StopReleasesBlockedSubmitters(t *testing.T) {
	release := make(chan struct{})
	pool, err := NewPool(1, 1, keyOf, func(context.Context, item) error {
		<-release
		return nil
	})
	require.NoError(t, err)
	require.NoError(t, pool.Start(context.Background()))

	require.NoError(t, pool.Submit(context.Background(), item{key: "k"}))
	require.Eventually(t, func() bool { return pool.Stats().QueueDepth == 0 }, time.Second, time.Millisecond)
	require.NoError(t, pool.Submit(context.Background(), item{key: "k"}))

	blocked := make(chan error, 1)
	go func() { blocked <- pool.Submit(context.Background(), item{key: "k"}) }()
	time.Sleep(10 * time.Millisecond)

	stopped := make(chan error, 1)
	go func() { stopped <- pool.Stop(time.Second) }()

	assert.ErrorIs(t, <-blocked, ErrPoolStopped)
	close(release)
	assert.NoError(t, <-stopped)
}

func TestPool_StopTimeout(t *testing.T) {
	release := make(chan struct{})
	defer close(release)

	pool, err := NewPool(1, 1, keyOf, func(context.Context, item) error {
		<-release
		return nil
	})
	require.NoError(t, err)
	require.NoError(t, pool.Start(context.Background()))
	require.NoError(t, pool.Submit(context.Background(), item{key: "k"}))

	assert.ErrorIs(t, pool.Stop(10*time.Millisecond), ErrStopTimeout)
}

func TestPool_Metrics(t *testing.T) {
	registry := metric.NewMetricsRegistry()

	pool, err := NewPool(2, 8, keyOf, func(_ context.Context, it item) error {
		if it.seq%2 == 1 {
			return errors.New("boom")
		}
		return nil
	}, WithMetricsRegistry[item](registry, "pipeline"))
	require.NoError(t, err)
	require.NotNil(t, pool.metrics)
	require.NoError(t, pool.Start(context.Background()))

	for i := 0; i < 4; i++ {
		require.NoError(t, pool.Submit(context.Background(), item{key: "a", seq: i}))
	}
	require.NoError(t, pool.Stop(time.Second))

	assert.Equal(t, 4.0, testutil.ToFloat64(pool.metrics.submitted))
	assert.Equal(t, 4.0, testutil.ToFloat64(pool.metrics.processed))
	assert.Equal(t, 2.0, testutil.ToFloat64(pool.metrics.failed))

	stats := pool.Stats()
	assert.Equal(t, int64(4), stats.Submitted)
	assert.Equal(t, int64(2), stats.Failed)

	_, err = NewPool(2, 8, keyOf, func(context.Context, item) error { return nil },
		WithMetricsRegistry[item](registry, "pipeline"))
	assert.Error(t, err, "duplicate registration")
}
