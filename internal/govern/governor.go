// Package govern enforces per-caller concurrency, batch sizing, job
// wall-clock, and memory limits for scrape jobs.
package govern

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/scrapex/contact-crawler/internal/scrape"
)

const (
	defaultMaxConcurrentJobs = 5
	defaultMaxBatchSize      = 50
	defaultJobTimeout        = 30 * time.Minute
	defaultMemoryHighWater   = 0.85
	defaultSweepInterval     = 30 * time.Second
)

// Clock supplies the current time so deadline checks are testable.
type Clock interface {
	Now() time.Time
}

// Config tunes the governor. Zero values fall back to defaults.
type Config struct {
	MaxConcurrentJobs int
	MaxBatchSize      int
	JobTimeout        time.Duration
	MemoryBudgetBytes uint64
	MemoryHighWater   float64
	SweepInterval     time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxConcurrentJobs <= 0 {
		c.MaxConcurrentJobs = defaultMaxConcurrentJobs
	}
	if c.MaxBatchSize <= 0 {
		c.MaxBatchSize = defaultMaxBatchSize
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = defaultJobTimeout
	}
	if c.MemoryHighWater <= 0 || c.MemoryHighWater > 1 {
		c.MemoryHighWater = defaultMemoryHighWater
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = defaultSweepInterval
	}
	return c
}

type entry struct {
	callerID  string
	startedAt time.Time
	memStart  uint64

	// expired is set by the watchdog sweep. The entry stays in the
	// ledger so TimedOut keeps reporting the job until Release, but it
	// no longer counts against the caller's concurrency budget.
	expired bool
}

// Governor tracks running jobs in a lock-guarded ledger and refuses
// admission when a caller is over its concurrency budget or the process
// is over its memory high-water mark.
type Governor struct {
	cfg    Config
	clock  Clock
	logger *zap.Logger

	mu     sync.Mutex
	ledger map[string]entry

	// readMem is swapped out in tests.
	readMem func() uint64
}

// New creates a Governor.
func New(cfg Config, clock Clock, logger *zap.Logger) *Governor {
	return &Governor{
		cfg:    cfg.withDefaults(),
		clock:  clock,
		logger: logger,
		ledger: make(map[string]entry),
		readMem: func() uint64 {
			var ms runtime.MemStats
			runtime.ReadMemStats(&ms)
			return ms.HeapAlloc
		},
	}
}

// Admit checks whether callerID may start another job. It does not
// reserve a slot; call Register once the job is created.
func (g *Governor) Admit(callerID string) error {
	if g.overMemoryBudget() {
		return fmt.Errorf("memory high-water exceeded: %w", scrape.ErrResourceExhausted)
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.activeLocked(callerID) >= g.cfg.MaxConcurrentJobs {
		return fmt.Errorf("caller %s at concurrency limit %d: %w",
			callerID, g.cfg.MaxConcurrentJobs, scrape.ErrResourceExhausted)
	}
	return nil
}

// Register records a running job in the ledger. It fails if the caller
// has reached its concurrency limit since Admit was called.
func (g *Governor) Register(jobID, callerID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.activeLocked(callerID) >= g.cfg.MaxConcurrentJobs {
		return fmt.Errorf("caller %s at concurrency limit %d: %w",
			callerID, g.cfg.MaxConcurrentJobs, scrape.ErrResourceExhausted)
	}
	g.ledger[jobID] = entry{
		callerID:  callerID,
		startedAt: g.clock.Now(),
		memStart:  g.readMem(),
	}
	return nil
}

// Release removes a finished job from the ledger and reports how much
// heap the process gained while it ran. Releasing an unknown job is a
// no-op.
func (g *Governor) Release(jobID string) {
	g.mu.Lock()
	e, ok := g.ledger[jobID]
	delete(g.ledger, jobID)
	g.mu.Unlock()
	if !ok {
		return
	}
	g.logger.Debug("job released",
		zap.String("job_id", jobID),
		zap.Int64("memory_delta_bytes", int64(g.readMem())-int64(e.memStart)))
}

// TimedOut reports whether the job has exceeded its wall-clock budget.
// A job the watchdog already swept stays timed out until Release.
// Unknown jobs are not timed out.
func (g *Governor) TimedOut(jobID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	e, ok := g.ledger[jobID]
	if !ok {
		return false
	}
	return e.expired || g.clock.Now().Sub(e.startedAt) > g.cfg.JobTimeout
}

// Active returns the number of running jobs for callerID.
func (g *Governor) Active(callerID string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.activeLocked(callerID)
}

func (g *Governor) activeLocked(callerID string) int {
	n := 0
	for _, e := range g.ledger {
		if e.callerID == callerID && !e.expired {
			n++
		}
	}
	return n
}

// ClampBatchSize bounds a requested batch size to [1, MaxBatchSize].
func (g *Governor) ClampBatchSize(requested int) int {
	if requested <= 0 {
		return g.cfg.MaxBatchSize
	}
	if requested > g.cfg.MaxBatchSize {
		return g.cfg.MaxBatchSize
	}
	return requested
}

// ClampWorkers bounds a requested worker count to [1, MaxConcurrentJobs].
func (g *Governor) ClampWorkers(requested int) int {
	if requested <= 0 {
		return 1
	}
	if requested > g.cfg.MaxConcurrentJobs {
		return g.cfg.MaxConcurrentJobs
	}
	return requested
}

func (g *Governor) overMemoryBudget() bool {
	if g.cfg.MemoryBudgetBytes == 0 {
		return false
	}
	used := g.readMem()
	limit := uint64(float64(g.cfg.MemoryBudgetBytes) * g.cfg.MemoryHighWater)
	if used <= limit {
		return false
	}
	g.logger.Warn("memory high-water exceeded",
		zap.Uint64("used_bytes", used),
		zap.Uint64("limit_bytes", limit))
	return true
}

// Watch runs the watchdog loop until ctx is canceled. On each tick it
// sweeps the ledger, expiring jobs past their wall-clock budget: the
// concurrency slot is freed immediately, while TimedOut keeps reporting
// the job until it is released, so the orchestrator fails it at its
// next checkpoint. Newly expired jobs are reported through onTimeout.
func (g *Governor) Watch(ctx context.Context, onTimeout func(jobID string)) {
	ticker := time.NewTicker(g.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, jobID := range g.sweep() {
				g.logger.Warn("job exceeded wall-clock budget", zap.String("job_id", jobID))
				if onTimeout != nil {
					onTimeout(jobID)
				}
			}
		}
	}
}

func (g *Governor) sweep() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	now := g.clock.Now()
	var expired []string
	for jobID, e := range g.ledger {
		if e.expired || now.Sub(e.startedAt) <= g.cfg.JobTimeout {
			continue
		}
		e.expired = true
		g.ledger[jobID] = e
		expired = append(expired, jobID)
	}
	return expired
}
