package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

func TestLimiter_InitialBurstIsCapacity(t *testing.T) {
	l := New(Config{Capacity: 3, Refill: 1, Interval: time.Second})

	start := time.Now()
	for i := 0; i < 3; i++ {
		l.Acquire()
	}
	assert.Less(t, time.Since(start), 100*time.Millisecond, "容量内的请求不应等待")
}

func TestLimiter_BlocksUntilRefill(t *testing.T) {
	l := New(Config{Capacity: 1, Refill: 1, Interval: 150 * time.Millisecond})

	l.Acquire()
	start := time.Now()
	l.Acquire()
	assert.GreaterOrEqual(t, time.Since(start), 100*time.Millisecond, "第二个 token 需要等待补充")
}

func TestLimiter_WaitHonorsContext(t *testing.T) {
	l := New(Config{Capacity: 1, Refill: 1, Interval: time.Hour})
	l.Acquire()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.Error(t, l.Wait(ctx))
}

func TestLimiter_ConcurrentAcquireNeverDrops(t *testing.T) {
	l := New(Config{Capacity: 5, Refill: 5, Interval: 50 * time.Millisecond})

	var (
		wg  sync.WaitGroup
		mu  sync.Mutex
		got int
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			l.Acquire()
			mu.Lock()
			got++
			mu.Unlock()
		}()
	}
	wg.Wait()
	assert.Equal(t, 10, got)
}

func TestNew_InvalidConfigFallsBackToDefault(t *testing.T) {
	l := New(Config{})
	assert.Equal(t, DefaultConfig(), l.Config())

	var nilLimiter *Limiter
	assert.NoError(t, nilLimiter.Wait(context.Background()))
}

func TestNew_RateNeverRoundsToInfinite(t *testing.T) {
	// Interval/Refill 整除为 0 的配置仍必须是有限速率。
	l := New(Config{Capacity: 1, Refill: 10, Interval: 5 * time.Nanosecond})
	assert.NotEqual(t, rate.Inf, l.lim.Limit())
	assert.InDelta(t, 2e9, float64(l.lim.Limit()), 1)

	l = New(Config{Capacity: 1, Refill: 3, Interval: time.Second})
	assert.InDelta(t, 3, float64(l.lim.Limit()), 1e-9)
}
