package govern

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/scrapex/contact-crawler/internal/scrape"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestAdmitRejectsOverConcurrencyLimit(t *testing.T) {
	t.Parallel()

	g := New(Config{MaxConcurrentJobs: 5}, newFakeClock(), zap.NewNop())
	for i := 0; i < 5; i++ {
		require.NoError(t, g.Admit("caller-a"))
		require.NoError(t, g.Register(fmt.Sprintf("job-%d", i), "caller-a"))
	}
	err := g.Admit("caller-a")
	require.ErrorIs(t, err, scrape.ErrResourceExhausted)

	// A different caller still has its own budget.
	require.NoError(t, g.Admit("caller-b"))
}

func TestReleaseFreesSlot(t *testing.T) {
	t.Parallel()

	g := New(Config{MaxConcurrentJobs: 1}, newFakeClock(), zap.NewNop())
	require.NoError(t, g.Register("job-1", "caller-a"))
	require.ErrorIs(t, g.Admit("caller-a"), scrape.ErrResourceExhausted)

	g.Release("job-1")
	require.NoError(t, g.Admit("caller-a"))
	require.Equal(t, 0, g.Active("caller-a"))
}

func TestTimedOut(t *testing.T) {
	t.Parallel()

	clk := newFakeClock()
	g := New(Config{JobTimeout: 30 * time.Minute}, clk, zap.NewNop())
	require.NoError(t, g.Register("job-1", "caller-a"))

	require.False(t, g.TimedOut("job-1"))
	clk.Advance(31 * time.Minute)
	require.True(t, g.TimedOut("job-1"))
	require.False(t, g.TimedOut("unknown"))
}

func TestClampBatchSize(t *testing.T) {
	t.Parallel()

	g := New(Config{MaxBatchSize: 50}, newFakeClock(), zap.NewNop())
	require.Equal(t, 50, g.ClampBatchSize(0))
	require.Equal(t, 50, g.ClampBatchSize(200))
	require.Equal(t, 10, g.ClampBatchSize(10))
}

func TestClampWorkers(t *testing.T) {
	t.Parallel()

	g := New(Config{MaxConcurrentJobs: 5}, newFakeClock(), zap.NewNop())
	require.Equal(t, 1, g.ClampWorkers(0))
	require.Equal(t, 5, g.ClampWorkers(12))
	require.Equal(t, 3, g.ClampWorkers(3))
}

func TestAdmitRejectsOverMemoryBudget(t *testing.T) {
	t.Parallel()

	g := New(Config{MemoryBudgetBytes: 1000, MemoryHighWater: 0.85}, newFakeClock(), zap.NewNop())
	g.readMem = func() uint64 { return 900 }
	require.ErrorIs(t, g.Admit("caller-a"), scrape.ErrResourceExhausted)

	g.readMem = func() uint64 { return 800 }
	require.NoError(t, g.Admit("caller-a"))
}

func TestWatchSweepsExpiredJobs(t *testing.T) {
	t.Parallel()

	clk := newFakeClock()
	g := New(Config{
		JobTimeout:    time.Minute,
		SweepInterval: 5 * time.Millisecond,
	}, clk, zap.NewNop())
	require.NoError(t, g.Register("job-1", "caller-a"))
	require.NoError(t, g.Register("job-2", "caller-a"))
	clk.Advance(2 * time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	timedOut := make(map[string]bool)
	done := make(chan struct{})
	go func() {
		defer close(done)
		g.Watch(ctx, func(jobID string) {
			mu.Lock()
			timedOut[jobID] = true
			if len(timedOut) == 2 {
				cancel()
			}
			mu.Unlock()
		})
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("watchdog did not sweep in time")
	}
	require.True(t, timedOut["job-1"])
	require.True(t, timedOut["job-2"])
	require.Equal(t, 0, g.Active("caller-a"))

	// The verdict must survive the sweep so a checkpoint after it still
	// sees the timeout.
	require.True(t, g.TimedOut("job-1"))
	require.True(t, g.TimedOut("job-2"))
}

func TestTimedOutPersistsAfterSweep(t *testing.T) {
	t.Parallel()

	clk := newFakeClock()
	g := New(Config{MaxConcurrentJobs: 1, JobTimeout: time.Minute}, clk, zap.NewNop())
	require.NoError(t, g.Register("job-1", "caller-a"))
	clk.Advance(2 * time.Minute)

	require.Equal(t, []string{"job-1"}, g.sweep())

	// The slot is force-released, but the job stays timed out until it
	// is released, and a later sweep does not report it again.
	require.Equal(t, 0, g.Active("caller-a"))
	require.NoError(t, g.Admit("caller-a"))
	require.True(t, g.TimedOut("job-1"))
	require.Empty(t, g.sweep())

	g.Release("job-1")
	require.False(t, g.TimedOut("job-1"))
}

func TestReleaseReportsMemoryDelta(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zap.DebugLevel)
	g := New(Config{}, newFakeClock(), zap.New(core))
	mem := uint64(1 << 20)
	g.readMem = func() uint64 { return mem }

	require.NoError(t, g.Register("job-1", "caller-a"))
	mem = 5 << 20
	g.Release("job-1")

	entries := logs.FilterMessage("job released").All()
	require.Len(t, entries, 1)
	require.EqualValues(t, int64(4<<20), entries[0].ContextMap()["memory_delta_bytes"])
}
