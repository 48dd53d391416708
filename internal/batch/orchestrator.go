// Package batch runs scrape jobs: it resolves targets, fans work out to
// a bounded pool in sequential chunks, persists results incrementally,
// and drives the job lifecycle to a terminal state.
package batch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/scrapex/contact-crawler/internal/govern"
	"github.com/scrapex/contact-crawler/internal/notify"
	"github.com/scrapex/contact-crawler/internal/scrape"
	"github.com/scrapex/contact-crawler/internal/storage"
)

const defaultChunkCooldown = 2 * time.Second

// Scraper turns one site URL into an extraction result.
type Scraper interface {
	Scrape(ctx context.Context, rawURL string) scrape.ExtractionResult
}

// Crawler discovers business listings in a directory.
type Crawler interface {
	Crawl(ctx context.Context, directoryURL string, maxPages int) ([]scrape.ListingRecord, error)
}

// Clock supplies the current time.
type Clock interface {
	Now() time.Time
}

// Config tunes orchestration pacing.
type Config struct {
	// ChunkCooldown is the pause between chunks, giving target sites
	// breathing room. Zero means the default.
	ChunkCooldown time.Duration
}

// Orchestrator executes jobs end to end.
type Orchestrator struct {
	scraper    Scraper
	crawler    Crawler
	governor   *govern.Governor
	jobs       storage.JobStore
	businesses storage.BusinessStore
	sink       storage.ResultSink
	notifier   notify.Notifier
	clock      Clock
	logger     *zap.Logger
	cooldown   time.Duration
}

// New creates an Orchestrator.
func New(
	scraper Scraper,
	crawler Crawler,
	governor *govern.Governor,
	jobs storage.JobStore,
	businesses storage.BusinessStore,
	sink storage.ResultSink,
	notifier notify.Notifier,
	clock Clock,
	cfg Config,
	logger *zap.Logger,
) *Orchestrator {
	cooldown := cfg.ChunkCooldown
	if cooldown <= 0 {
		cooldown = defaultChunkCooldown
	}
	return &Orchestrator{
		scraper:    scraper,
		crawler:    crawler,
		governor:   governor,
		jobs:       jobs,
		businesses: businesses,
		sink:       sink,
		notifier:   notifier,
		clock:      clock,
		logger:     logger,
		cooldown:   cooldown,
	}
}

// Run executes a registered job to completion. Per-record failures are
// counted, not fatal; only setup failures (directory unreachable,
// persistence broken) or a timeout fail the job. The governor slot is
// always released.
func (o *Orchestrator) Run(ctx context.Context, job scrape.Job) error {
	defer o.governor.Release(job.ID)

	startedAt := o.clock.Now()
	if err := o.markRunning(ctx, job.ID, startedAt); err != nil {
		return err
	}

	listings, err := o.resolveTargets(ctx, job)
	if err != nil {
		o.failJob(ctx, job, scrape.JobCounts{}, startedAt, err)
		return err
	}

	counts := scrape.JobCounts{Found: len(listings)}
	if err := o.jobs.UpdateJob(ctx, job.ID, storage.JobUpdate{Counts: &counts}); err != nil {
		o.failJob(ctx, job, counts, startedAt, err)
		return fmt.Errorf("record found count: %w", err)
	}

	meta := storage.DocumentMeta{
		DirectoryURL: job.Params.DirectoryURL,
		StartedAt:    startedAt,
	}
	batchSize := o.governor.ClampBatchSize(job.Params.BatchSize)
	workers := o.governor.ClampWorkers(job.Params.WorkerCount)
	var runErr error

	for start := 0; start < len(listings); start += batchSize {
		if err := ctx.Err(); err != nil {
			runErr = err
			break
		}
		if o.governor.TimedOut(job.ID) {
			runErr = fmt.Errorf("job %s: %w", job.ID, scrape.ErrJobTimeout)
			break
		}
		end := start + batchSize
		if end > len(listings) {
			end = len(listings)
		}
		chunk := listings[start:end]
		o.logger.Info("processing chunk",
			zap.String("job_id", job.ID),
			zap.Int("offset", start),
			zap.Int("size", len(chunk)))

		records := o.scrapeChunk(ctx, chunk, workers)
		for _, rec := range records {
			counts.Processed++
			if rec.Status == scrape.StatusSuccess {
				counts.Succeeded++
			} else {
				counts.Failed++
			}
		}

		if err := o.persistChunk(ctx, job.ID, meta, records, counts); err != nil {
			runErr = err
			break
		}

		if end < len(listings) {
			if err := o.sleep(ctx, o.cooldown); err != nil {
				runErr = err
				break
			}
		}
	}

	if runErr != nil {
		o.failJob(ctx, job, counts, startedAt, runErr)
		return runErr
	}
	return o.completeJob(ctx, job, counts, startedAt)
}

func (o *Orchestrator) markRunning(ctx context.Context, jobID string, startedAt time.Time) error {
	running := scrape.JobStatusRunning
	err := o.jobs.UpdateJob(ctx, jobID, storage.JobUpdate{
		Status:    &running,
		StartedAt: &startedAt,
	})
	if err != nil {
		return fmt.Errorf("mark job running: %w", err)
	}
	return nil
}

// resolveTargets produces the listing set a job will scrape: either the
// caller-supplied URLs or a directory crawl, capped by MaxBusinesses.
func (o *Orchestrator) resolveTargets(ctx context.Context, job scrape.Job) ([]scrape.ListingRecord, error) {
	var listings []scrape.ListingRecord
	switch job.Target {
	case scrape.TargetDirectoryURL:
		found, err := o.crawler.Crawl(ctx, job.Params.DirectoryURL, job.Params.MaxPages)
		if err != nil {
			return nil, fmt.Errorf("crawl directory %s: %w", job.Params.DirectoryURL, err)
		}
		listings = found
	case scrape.TargetSingleURL:
		for _, rawURL := range job.Params.URLs {
			listings = append(listings, scrape.ListingRecord{SiteURL: rawURL})
		}
	default:
		return nil, fmt.Errorf("unknown job target %q", job.Target)
	}
	if limit := job.Params.MaxBusinesses; limit > 0 && len(listings) > limit {
		listings = listings[:limit]
	}
	return listings, nil
}

// scrapeChunk fans the chunk out to a bounded worker pool and returns
// one record per listing, in listing order.
func (o *Orchestrator) scrapeChunk(ctx context.Context, chunk []scrape.ListingRecord, workers int) []scrape.BusinessRecord {
	records := make([]scrape.BusinessRecord, len(chunk))
	sem := make(chan struct{}, workers)
	var wg sync.WaitGroup
	for i, listing := range chunk {
		wg.Add(1)
		go func(i int, listing scrape.ListingRecord) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			result := o.scraper.Scrape(ctx, listing.SiteURL)
			records[i] = scrape.MergeBusiness(listing, result)
		}(i, listing)
	}
	wg.Wait()
	return records
}

func (o *Orchestrator) persistChunk(
	ctx context.Context,
	jobID string,
	meta storage.DocumentMeta,
	records []scrape.BusinessRecord,
	counts scrape.JobCounts,
) error {
	if err := o.businesses.SaveBusinesses(ctx, jobID, records); err != nil {
		return fmt.Errorf("save businesses: %w", err)
	}
	if err := o.sink.AppendChunk(ctx, jobID, meta, records); err != nil {
		return fmt.Errorf("append result chunk: %w", err)
	}
	if err := o.jobs.UpdateJob(ctx, jobID, storage.JobUpdate{Counts: &counts}); err != nil {
		return fmt.Errorf("update job counts: %w", err)
	}
	return nil
}

func (o *Orchestrator) completeJob(ctx context.Context, job scrape.Job, counts scrape.JobCounts, startedAt time.Time) error {
	completedAt := o.clock.Now()
	status := scrape.JobStatusCompleted
	summary := newSummary(status, counts, completedAt.Sub(startedAt))

	if err := o.jobs.UpdateJob(ctx, job.ID, storage.JobUpdate{
		Status:      &status,
		Counts:      &counts,
		CompletedAt: &completedAt,
	}); err != nil {
		return fmt.Errorf("mark job completed: %w", err)
	}
	if err := o.sink.Finalize(ctx, job.ID, summary); err != nil {
		return fmt.Errorf("finalize result document: %w", err)
	}

	job.Status = status
	job.Counts = counts
	job.CompletedAt = &completedAt
	o.notifyCompletion(ctx, job, summary)

	o.logger.Info("job completed",
		zap.String("job_id", job.ID),
		zap.Int("found", counts.Found),
		zap.Int("succeeded", counts.Succeeded),
		zap.Int("failed", counts.Failed))
	return nil
}

// failJob moves the job to failed, keeping whatever partial results
// were already persisted.
func (o *Orchestrator) failJob(ctx context.Context, job scrape.Job, counts scrape.JobCounts, startedAt time.Time, cause error) {
	completedAt := o.clock.Now()
	status := scrape.JobStatusFailed
	errText := cause.Error()
	if err := o.jobs.UpdateJob(ctx, job.ID, storage.JobUpdate{
		Status:      &status,
		Counts:      &counts,
		ErrorText:   &errText,
		CompletedAt: &completedAt,
	}); err != nil {
		o.logger.Error("mark job failed", zap.String("job_id", job.ID), zap.Error(err))
	}

	summary := newSummary(status, counts, completedAt.Sub(startedAt))
	if counts.Processed > 0 {
		if err := o.sink.Finalize(ctx, job.ID, summary); err != nil {
			o.logger.Warn("finalize partial result document",
				zap.String("job_id", job.ID), zap.Error(err))
		}
	}

	job.Status = status
	job.Counts = counts
	job.CompletedAt = &completedAt
	o.notifyCompletion(ctx, job, summary)

	o.logger.Warn("job failed",
		zap.String("job_id", job.ID),
		zap.Int("processed", counts.Processed),
		zap.Error(cause))
}

func (o *Orchestrator) notifyCompletion(ctx context.Context, job scrape.Job, summary scrape.Summary) {
	if o.notifier == nil {
		return
	}
	records, err := o.loadRecords(ctx, job.ID)
	if err != nil {
		o.logger.Warn("load records for notification",
			zap.String("job_id", job.ID), zap.Error(err))
	}
	event := notify.NewCompletionEvent(job, summary, records)
	if err := o.notifier.NotifyCompletion(ctx, event); err != nil {
		o.logger.Warn("publish completion event",
			zap.String("job_id", job.ID), zap.Error(err))
	}
}

func (o *Orchestrator) loadRecords(ctx context.Context, jobID string) ([]scrape.BusinessRecord, error) {
	doc, err := o.sink.Load(ctx, jobID)
	if err != nil {
		return nil, err
	}
	return doc.Businesses, nil
}

func (o *Orchestrator) sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func newSummary(status scrape.JobStatus, counts scrape.JobCounts, elapsed time.Duration) scrape.Summary {
	rate := 0.0
	if counts.Processed > 0 {
		rate = float64(counts.Succeeded) / float64(counts.Processed)
	}
	return scrape.Summary{
		Status:          status,
		TotalFound:      counts.Found,
		TotalProcessed:  counts.Processed,
		Successful:      counts.Succeeded,
		Failed:          counts.Failed,
		SuccessRate:     rate,
		DurationSeconds: elapsed.Seconds(),
	}
}
