// Package memory provides in-memory stores for development and testing.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/scrapex/contact-crawler/internal/scrape"
	"github.com/scrapex/contact-crawler/internal/storage"
)

// Store keeps jobs, business records, and result documents in maps.
type Store struct {
	mu         sync.RWMutex
	jobs       map[string]scrape.Job
	businesses map[string][]scrape.BusinessRecord
	documents  map[string]scrape.ResultDocument
}

// New constructs an empty Store.
func New() *Store {
	return &Store{
		jobs:       make(map[string]scrape.Job),
		businesses: make(map[string][]scrape.BusinessRecord),
		documents:  make(map[string]scrape.ResultDocument),
	}
}

// CreateJob stores a new job. Duplicate IDs are rejected.
func (s *Store) CreateJob(_ context.Context, job scrape.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[job.ID]; exists {
		return fmt.Errorf("job %s already exists", job.ID)
	}
	s.jobs[job.ID] = job
	return nil
}

// GetJob fetches a job by ID.
func (s *Store) GetJob(_ context.Context, jobID string) (scrape.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return scrape.Job{}, fmt.Errorf("job %s: %w", jobID, storage.ErrNotFound)
	}
	return job, nil
}

// UpdateJob applies the non-nil fields of update to a stored job.
func (s *Store) UpdateJob(_ context.Context, jobID string, update storage.JobUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return fmt.Errorf("job %s: %w", jobID, storage.ErrNotFound)
	}
	if update.Status != nil {
		job.Status = *update.Status
	}
	if update.Counts != nil {
		job.Counts = *update.Counts
	}
	if update.ErrorText != nil {
		job.ErrorText = *update.ErrorText
	}
	if update.StartedAt != nil {
		job.StartedAt = update.StartedAt
	}
	if update.CompletedAt != nil {
		job.CompletedAt = update.CompletedAt
	}
	s.jobs[jobID] = job
	return nil
}

// SaveBusinesses appends records for a job.
func (s *Store) SaveBusinesses(_ context.Context, jobID string, records []scrape.BusinessRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.businesses[jobID] = append(s.businesses[jobID], records...)
	return nil
}

// ListBusinesses returns a copy of the records saved for a job.
func (s *Store) ListBusinesses(_ context.Context, jobID string) ([]scrape.BusinessRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	records := s.businesses[jobID]
	out := make([]scrape.BusinessRecord, len(records))
	copy(out, records)
	return out, nil
}

// AppendChunk grows the result document for a job, creating it on first
// write.
func (s *Store) AppendChunk(_ context.Context, jobID string, meta storage.DocumentMeta, businesses []scrape.BusinessRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.documents[jobID]
	if !ok {
		doc = scrape.ResultDocument{
			DirectoryURL: meta.DirectoryURL,
			StartedAt:    meta.StartedAt,
		}
	}
	doc.Businesses = append(doc.Businesses, businesses...)
	s.documents[jobID] = doc
	return nil
}

// Finalize attaches the summary to a job's result document.
func (s *Store) Finalize(_ context.Context, jobID string, summary scrape.Summary) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.documents[jobID]
	if !ok {
		return fmt.Errorf("result document for job %s: %w", jobID, storage.ErrNotFound)
	}
	doc.Summary = &summary
	s.documents[jobID] = doc
	return nil
}

// Load returns the result document for a job.
func (s *Store) Load(_ context.Context, jobID string) (scrape.ResultDocument, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.documents[jobID]
	if !ok {
		return scrape.ResultDocument{}, fmt.Errorf("result document for job %s: %w", jobID, storage.ErrNotFound)
	}
	out := doc
	out.Businesses = make([]scrape.BusinessRecord, len(doc.Businesses))
	copy(out.Businesses, doc.Businesses)
	return out, nil
}
