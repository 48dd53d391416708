package batch

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/scrapex/contact-crawler/internal/extract"
	"github.com/scrapex/contact-crawler/internal/govern"
	"github.com/scrapex/contact-crawler/internal/notify"
	"github.com/scrapex/contact-crawler/internal/scrape"
	"github.com/scrapex/contact-crawler/internal/storage"
	"github.com/scrapex/contact-crawler/internal/storage/memory"
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
	c.now = c.now.Add(time.Millisecond)
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type stubScraper struct {
	mu        sync.Mutex
	calls     int32
	inFlight  int32
	maxFlight int32
	failURLs  map[string]bool
	blockURLs map[string]bool
}

func (s *stubScraper) Scrape(_ context.Context, rawURL string) scrape.ExtractionResult {
	atomic.AddInt32(&s.calls, 1)
	cur := atomic.AddInt32(&s.inFlight, 1)
	defer atomic.AddInt32(&s.inFlight, -1)
	s.mu.Lock()
	if cur > s.maxFlight {
		s.maxFlight = cur
	}
	s.mu.Unlock()
	time.Sleep(time.Millisecond)

	switch {
	case s.failURLs[rawURL]:
		return scrape.ExtractionResult{SiteURL: rawURL, Status: scrape.StatusError, Reason: "connection refused"}
	case s.blockURLs[rawURL]:
		return scrape.ExtractionResult{
			SiteURL:        rawURL,
			Strategy:       scrape.StrategyBlocked,
			Status:         scrape.StatusBlocked,
			ManualRequired: true,
		}
	default:
		return scrape.ExtractionResult{
			SiteURL:  rawURL,
			Strategy: scrape.StrategyDirect,
			Status:   scrape.StatusSuccess,
			Fields:   extract.Fields{Phones: []string{"(609) 555-0101"}},
		}
	}
}

type stubCrawler struct {
	listings []scrape.ListingRecord
	err      error
}

func (c *stubCrawler) Crawl(_ context.Context, _ string, _ int) ([]scrape.ListingRecord, error) {
	return c.listings, c.err
}

// countingSink wraps a memory store and counts AppendChunk calls.
type countingSink struct {
	*memory.Store
	appendCalls int32
}

func (s *countingSink) AppendChunk(ctx context.Context, jobID string, meta storage.DocumentMeta, businesses []scrape.BusinessRecord) error {
	atomic.AddInt32(&s.appendCalls, 1)
	return s.Store.AppendChunk(ctx, jobID, meta, businesses)
}

type fixture struct {
	orch     *Orchestrator
	scraper  *stubScraper
	store    *memory.Store
	sink     *countingSink
	notifier *notify.MemoryNotifier
	governor *govern.Governor
	clk      *fakeClock
}

func newFixture(t *testing.T, crawler Crawler, govCfg govern.Config) *fixture {
	t.Helper()
	clk := newFakeClock()
	store := memory.New()
	sink := &countingSink{Store: store}
	scraper := &stubScraper{failURLs: map[string]bool{}, blockURLs: map[string]bool{}}
	notifier := notify.NewMemoryNotifier()
	governor := govern.New(govCfg, clk, zap.NewNop())
	orch := New(scraper, crawler, governor, store, store, sink, notifier, clk,
		Config{ChunkCooldown: time.Millisecond}, zap.NewNop())
	return &fixture{
		orch:     orch,
		scraper:  scraper,
		store:    store,
		sink:     sink,
		notifier: notifier,
		governor: governor,
		clk:      clk,
	}
}

func createJob(t *testing.T, f *fixture, job scrape.Job) scrape.Job {
	t.Helper()
	if job.Status == "" {
		job.Status = scrape.JobStatusPending
	}
	job.CreatedAt = time.Now().UTC()
	require.NoError(t, f.store.CreateJob(context.Background(), job))
	require.NoError(t, f.governor.Register(job.ID, job.CallerID))
	return job
}

func urlList(n int) []string {
	urls := make([]string, n)
	for i := range urls {
		urls[i] = fmt.Sprintf("https://biz%03d.example.net", i)
	}
	return urls
}

func TestRunChunksAndPersistsIncrementally(t *testing.T) {
	t.Parallel()

	f := newFixture(t, &stubCrawler{}, govern.Config{MaxBatchSize: 50, MaxConcurrentJobs: 5})
	job := createJob(t, f, scrape.Job{
		ID:       "job-1",
		CallerID: "caller-a",
		Target:   scrape.TargetSingleURL,
		Params:   scrape.JobParams{URLs: urlList(120), BatchSize: 50, WorkerCount: 5},
	})

	require.NoError(t, f.orch.Run(context.Background(), job))

	// 120 listings at batch size 50 means three chunk writes.
	require.EqualValues(t, 3, atomic.LoadInt32(&f.sink.appendCalls))
	require.EqualValues(t, 120, atomic.LoadInt32(&f.scraper.calls))

	got, err := f.store.GetJob(context.Background(), "job-1")
	require.NoError(t, err)
	require.Equal(t, scrape.JobStatusCompleted, got.Status)
	require.Equal(t, 120, got.Counts.Found)
	require.Equal(t, 120, got.Counts.Processed)
	require.Equal(t, got.Counts.Processed, got.Counts.Succeeded+got.Counts.Failed)

	doc, err := f.sink.Load(context.Background(), "job-1")
	require.NoError(t, err)
	require.Len(t, doc.Businesses, 120)
	require.NotNil(t, doc.Summary)
	require.Equal(t, 120, doc.Summary.TotalProcessed)
}

func TestRunBoundsWorkerPool(t *testing.T) {
	t.Parallel()

	f := newFixture(t, &stubCrawler{}, govern.Config{MaxBatchSize: 50, MaxConcurrentJobs: 3})
	job := createJob(t, f, scrape.Job{
		ID:       "job-1",
		CallerID: "caller-a",
		Target:   scrape.TargetSingleURL,
		Params:   scrape.JobParams{URLs: urlList(30), WorkerCount: 10},
	})

	require.NoError(t, f.orch.Run(context.Background(), job))
	require.LessOrEqual(t, f.scraper.maxFlight, int32(3))
}

func TestRunCountsPerRecordFailures(t *testing.T) {
	t.Parallel()

	f := newFixture(t, &stubCrawler{}, govern.Config{})
	f.scraper.failURLs["https://biz001.example.net"] = true
	f.scraper.blockURLs["https://biz002.example.net"] = true
	job := createJob(t, f, scrape.Job{
		ID:       "job-1",
		CallerID: "caller-a",
		Target:   scrape.TargetSingleURL,
		Params:   scrape.JobParams{URLs: urlList(10)},
	})

	require.NoError(t, f.orch.Run(context.Background(), job))

	got, err := f.store.GetJob(context.Background(), "job-1")
	require.NoError(t, err)
	require.Equal(t, scrape.JobStatusCompleted, got.Status)
	require.Equal(t, 10, got.Counts.Processed)
	require.Equal(t, 8, got.Counts.Succeeded)
	require.Equal(t, 2, got.Counts.Failed)

	doc, err := f.sink.Load(context.Background(), "job-1")
	require.NoError(t, err)
	blocked := 0
	for _, rec := range doc.Businesses {
		if rec.ManualRequired {
			blocked++
		}
	}
	require.Equal(t, 1, blocked)
}

func TestRunDirectoryWorkflow(t *testing.T) {
	t.Parallel()

	crawler := &stubCrawler{listings: []scrape.ListingRecord{
		{SourceDirectoryURL: "https://chamber.example.com/directory", BusinessName: "Acme", SiteURL: "https://acme.example.net"},
		{SourceDirectoryURL: "https://chamber.example.com/directory", BusinessName: "Beta", SiteURL: "https://beta.example.net"},
	}}
	f := newFixture(t, crawler, govern.Config{})
	job := createJob(t, f, scrape.Job{
		ID:       "job-1",
		CallerID: "caller-a",
		Target:   scrape.TargetDirectoryURL,
		Params: scrape.JobParams{
			DirectoryURL: "https://chamber.example.com/directory",
			MaxPages:     3,
		},
	})

	require.NoError(t, f.orch.Run(context.Background(), job))

	got, err := f.store.GetJob(context.Background(), "job-1")
	require.NoError(t, err)
	require.Equal(t, 2, got.Counts.Found)

	doc, err := f.sink.Load(context.Background(), "job-1")
	require.NoError(t, err)
	require.Equal(t, "https://chamber.example.com/directory", doc.DirectoryURL)
	require.Len(t, doc.Businesses, 2)
	require.Equal(t, "Acme", doc.Businesses[0].BusinessName)
}

func TestRunDirectoryCrawlFailureFailsJob(t *testing.T) {
	t.Parallel()

	crawler := &stubCrawler{err: fmt.Errorf("directory unreachable")}
	f := newFixture(t, crawler, govern.Config{})
	job := createJob(t, f, scrape.Job{
		ID:       "job-1",
		CallerID: "caller-a",
		Target:   scrape.TargetDirectoryURL,
		Params:   scrape.JobParams{DirectoryURL: "https://chamber.example.com/directory"},
	})

	require.Error(t, f.orch.Run(context.Background(), job))

	got, err := f.store.GetJob(context.Background(), "job-1")
	require.NoError(t, err)
	require.Equal(t, scrape.JobStatusFailed, got.Status)
	require.Contains(t, got.ErrorText, "directory unreachable")
}

func TestRunRespectsMaxBusinesses(t *testing.T) {
	t.Parallel()

	listings := make([]scrape.ListingRecord, 20)
	for i := range listings {
		listings[i] = scrape.ListingRecord{SiteURL: fmt.Sprintf("https://biz%02d.example.net", i)}
	}
	f := newFixture(t, &stubCrawler{listings: listings}, govern.Config{})
	job := createJob(t, f, scrape.Job{
		ID:       "job-1",
		CallerID: "caller-a",
		Target:   scrape.TargetDirectoryURL,
		Params: scrape.JobParams{
			DirectoryURL:  "https://chamber.example.com/directory",
			MaxBusinesses: 5,
		},
	})

	require.NoError(t, f.orch.Run(context.Background(), job))

	got, err := f.store.GetJob(context.Background(), "job-1")
	require.NoError(t, err)
	require.Equal(t, 5, got.Counts.Processed)
}

func TestRunTimedOutJobFails(t *testing.T) {
	t.Parallel()

	f := newFixture(t, &stubCrawler{}, govern.Config{JobTimeout: time.Nanosecond})
	job := createJob(t, f, scrape.Job{
		ID:       "job-1",
		CallerID: "caller-a",
		Target:   scrape.TargetSingleURL,
		Params:   scrape.JobParams{URLs: urlList(4)},
	})

	err := f.orch.Run(context.Background(), job)
	require.ErrorIs(t, err, scrape.ErrJobTimeout)

	got, getErr := f.store.GetJob(context.Background(), "job-1")
	require.NoError(t, getErr)
	require.Equal(t, scrape.JobStatusFailed, got.Status)
}

func TestRunFailsJobSweptByWatchdog(t *testing.T) {
	t.Parallel()

	f := newFixture(t, &stubCrawler{}, govern.Config{
		JobTimeout:    time.Minute,
		SweepInterval: time.Millisecond,
	})
	job := createJob(t, f, scrape.Job{
		ID:       "job-1",
		CallerID: "caller-a",
		Target:   scrape.TargetSingleURL,
		Params:   scrape.JobParams{URLs: urlList(4)},
	})

	// Push the job past its budget and let the watchdog sweep it before
	// the orchestrator reaches its first checkpoint.
	f.clk.Advance(2 * time.Minute)
	watchCtx, stopWatch := context.WithCancel(context.Background())
	defer stopWatch()
	swept := make(chan string, 1)
	go f.governor.Watch(watchCtx, func(jobID string) { swept <- jobID })
	select {
	case jobID := <-swept:
		require.Equal(t, "job-1", jobID)
	case <-time.After(2 * time.Second):
		t.Fatal("watchdog did not sweep in time")
	}
	stopWatch()

	err := f.orch.Run(context.Background(), job)
	require.ErrorIs(t, err, scrape.ErrJobTimeout)

	got, getErr := f.store.GetJob(context.Background(), "job-1")
	require.NoError(t, getErr)
	require.Equal(t, scrape.JobStatusFailed, got.Status)
	require.Zero(t, atomic.LoadInt32(&f.scraper.calls))
}

// flakySink fails every AppendChunk call after the first.
type flakySink struct {
	*memory.Store
	calls int32
}

func (s *flakySink) AppendChunk(ctx context.Context, jobID string, meta storage.DocumentMeta, businesses []scrape.BusinessRecord) error {
	if atomic.AddInt32(&s.calls, 1) > 1 {
		return fmt.Errorf("append chunk: disk full")
	}
	return s.Store.AppendChunk(ctx, jobID, meta, businesses)
}

func TestRunFailedJobReportsElapsedDuration(t *testing.T) {
	t.Parallel()

	clk := newFakeClock()
	store := memory.New()
	sink := &flakySink{Store: store}
	scraper := &stubScraper{failURLs: map[string]bool{}, blockURLs: map[string]bool{}}
	governor := govern.New(govern.Config{MaxBatchSize: 2}, clk, zap.NewNop())
	orch := New(scraper, &stubCrawler{}, governor, store, store, sink,
		notify.NewMemoryNotifier(), clk, Config{ChunkCooldown: time.Millisecond}, zap.NewNop())

	job := scrape.Job{
		ID:        "job-1",
		CallerID:  "caller-a",
		Target:    scrape.TargetSingleURL,
		Params:    scrape.JobParams{URLs: urlList(4), BatchSize: 2},
		Status:    scrape.JobStatusPending,
		CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, store.CreateJob(context.Background(), job))
	require.NoError(t, governor.Register(job.ID, job.CallerID))

	require.Error(t, orch.Run(context.Background(), job))

	// The first chunk persisted, so the partial document is finalized
	// with the real elapsed time, not zero.
	doc, err := store.Load(context.Background(), "job-1")
	require.NoError(t, err)
	require.NotNil(t, doc.Summary)
	require.Equal(t, scrape.JobStatusFailed, doc.Summary.Status)
	require.Greater(t, doc.Summary.DurationSeconds, 0.0)
	require.Len(t, doc.Businesses, 2)
}

func TestRunReleasesGovernorSlot(t *testing.T) {
	t.Parallel()

	f := newFixture(t, &stubCrawler{}, govern.Config{})
	job := createJob(t, f, scrape.Job{
		ID:       "job-1",
		CallerID: "caller-a",
		Target:   scrape.TargetSingleURL,
		Params:   scrape.JobParams{URLs: urlList(1)},
	})
	require.Equal(t, 1, f.governor.Active("caller-a"))

	require.NoError(t, f.orch.Run(context.Background(), job))
	require.Equal(t, 0, f.governor.Active("caller-a"))
}

func TestRunPublishesCompletionEvent(t *testing.T) {
	t.Parallel()

	f := newFixture(t, &stubCrawler{}, govern.Config{})
	job := createJob(t, f, scrape.Job{
		ID:       "job-1",
		CallerID: "caller-a",
		Target:   scrape.TargetSingleURL,
		Params:   scrape.JobParams{URLs: urlList(2)},
	})

	require.NoError(t, f.orch.Run(context.Background(), job))

	events := f.notifier.Events()
	require.Len(t, events, 1)
	require.Equal(t, "job-1", events[0].JobID)
	require.Equal(t, scrape.JobStatusCompleted, events[0].Status)
	require.Len(t, events[0].Businesses, 2)
	require.Equal(t, "(609) 555-0101", events[0].Businesses[0].PrimaryPhone)
}
