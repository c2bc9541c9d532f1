package buffer

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/sensorstream/metric"
)

func TestCircularBuffer_BasicOperations(t *testing.T) {
	buf, err := NewCircularBuffer[string](3)
	require.NoError(t, err)

	assert.Equal(t, 0, buf.Size())
	assert.Empty(t, buf.Items())

	require.NoError(t, buf.Write("a"))
	require.NoError(t, buf.Write("b"))
	require.NoError(t, buf.Write("c"))

	assert.Equal(t, 3, buf.Size())
	assert.Equal(t, []string{"a", "b", "c"}, buf.Items())
}

func TestCircularBuffer_EvictsOldestFirst(t *testing.T) {
	var evicted []int
	buf, err := NewCircularBuffer[int](3, WithDropCallback[int](func(i int) {
		evicted = append(evicted, i)
	}))
	require.NoError(t, err)

	for i := 1; i <= 5; i++ {
		require.NoError(t, buf.Write(i))
	}

	assert.Equal(t, []int{3, 4, 5}, buf.Items())
	assert.Equal(t, []int{1, 2}, evicted)
}

func TestCircularBuffer_DropCallbackMayReadRing(t *testing.T) {
	var buf Buffer[int]
	var sizes []int
	buf, err := NewCircularBuffer[int](2, WithDropCallback[int](func(int) {
		sizes = append(sizes, buf.Size())
	}))
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		require.NoError(t, buf.Write(i))
	}
	assert.Equal(t, []int{2}, sizes, "callback runs after the write completes")
}

func TestCircularBuffer_RecentIsNewestFirst(t *testing.T) {
	buf, err := NewCircularBuffer[int](4)
	require.NoError(t, err)

	assert.Empty(t, buf.Recent(3))

	for i := 1; i <= 6; i++ {
		require.NoError(t, buf.Write(i))
	}

	assert.Equal(t, []int{6, 5, 4, 3}, buf.Recent(0))
	assert.Equal(t, []int{6, 5}, buf.Recent(2))
	assert.Equal(t, []int{6, 5, 4, 3}, buf.Recent(100))
	assert.Equal(t, 4, buf.Size(), "Recent must not drain")
}

func TestCircularBuffer_CapacityFloor(t *testing.T) {
	buf, err := NewCircularBuffer[int](0)
	require.NoError(t, err)

	require.NoError(t, buf.Write(1))
	require.NoError(t, buf.Write(2))
	assert.Equal(t, []int{2}, buf.Items())
}

func TestCircularBuffer_Concurrent(t *testing.T) {
	var drops atomic.Int64
	buf, err := NewCircularBuffer[int](50, WithDropCallback[int](func(int) { drops.Add(1) }))
	require.NoError(t, err)

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				_ = buf.Write(i)
				_ = buf.Recent(5)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 50, buf.Size())
	assert.Equal(t, int64(1550), drops.Load())
}

func TestCircularBuffer_Metrics(t *testing.T) {
	registry := metric.NewMetricsRegistry()
	buf, err := NewCircularBuffer[int](2, WithMetrics[int](registry, "alert_log"))
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		require.NoError(t, buf.Write(i))
	}

	m := buf.(*circularBuffer[int]).metrics
	require.NotNil(t, m)
	assert.Equal(t, 3.0, testutil.ToFloat64(m.appended))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.evicted))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.length))

	_, err = NewCircularBuffer[int](2, WithMetrics[int](registry, "alert_log"))
	assert.Error(t, err, "duplicate prefix must fail registration")
}
