// Package storage defines the persistence interfaces for jobs and
// business records. Implementations live in subpackages so the
// application is independent of any one backend.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/scrapex/contact-crawler/internal/scrape"
)

// ErrNotFound is returned when a job or document does not exist.
var ErrNotFound = errors.New("not found")

// JobUpdate carries the mutable subset of a job. Nil fields are left
// unchanged.
type JobUpdate struct {
	Status      *scrape.JobStatus
	Counts      *scrape.JobCounts
	ErrorText   *string
	StartedAt   *time.Time
	CompletedAt *time.Time
}

// JobStore persists job metadata.
type JobStore interface {
	CreateJob(ctx context.Context, job scrape.Job) error
	GetJob(ctx context.Context, jobID string) (scrape.Job, error)
	UpdateJob(ctx context.Context, jobID string, update JobUpdate) error
}

// BusinessStore persists extracted business records as they are produced.
type BusinessStore interface {
	SaveBusinesses(ctx context.Context, jobID string, records []scrape.BusinessRecord) error
}

// DocumentMeta seeds a result document on its first write.
type DocumentMeta struct {
	DirectoryURL string
	StartedAt    time.Time
}

// ResultSink owns the externally visible result document for a job. The
// document grows incrementally: one AppendChunk call per completed
// chunk, then Finalize attaches the summary. A crash between chunks
// must leave the records written so far readable.
type ResultSink interface {
	AppendChunk(ctx context.Context, jobID string, meta DocumentMeta, businesses []scrape.BusinessRecord) error
	Finalize(ctx context.Context, jobID string, summary scrape.Summary) error
	Load(ctx context.Context, jobID string) (scrape.ResultDocument, error)
}
