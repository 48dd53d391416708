// Package notify publishes job completion events for downstream
// collaborators. The payload carries the primary phone per business so
// consumers can dial without re-reading the result document.
package notify

import (
	"context"
	"time"

	"github.com/scrapex/contact-crawler/internal/scrape"
)

// ContactedBusiness is one business in a completion event.
type ContactedBusiness struct {
	BusinessName   string `json:"business_name,omitempty"`
	SiteURL        string `json:"site_url"`
	PrimaryPhone   string `json:"primary_phone,omitempty"`
	ManualRequired bool   `json:"manual_required,omitempty"`
}

// CompletionEvent is published once per finished job.
type CompletionEvent struct {
	JobID       string              `json:"job_id"`
	CallerID    string              `json:"caller_id"`
	Status      scrape.JobStatus    `json:"status"`
	CompletedAt time.Time           `json:"completed_at"`
	Summary     scrape.Summary      `json:"summary"`
	Businesses  []ContactedBusiness `json:"businesses,omitempty"`
}

// Notifier delivers completion events.
type Notifier interface {
	NotifyCompletion(ctx context.Context, event CompletionEvent) error
}

// NewCompletionEvent builds the event payload from a finished job and
// its records.
func NewCompletionEvent(job scrape.Job, summary scrape.Summary, records []scrape.BusinessRecord) CompletionEvent {
	event := CompletionEvent{
		JobID:    job.ID,
		CallerID: job.CallerID,
		Status:   job.Status,
		Summary:  summary,
	}
	if job.CompletedAt != nil {
		event.CompletedAt = *job.CompletedAt
	}
	for _, rec := range records {
		event.Businesses = append(event.Businesses, ContactedBusiness{
			BusinessName:   rec.BusinessName,
			SiteURL:        rec.SiteURL,
			PrimaryPhone:   rec.PrimaryPhone(),
			ManualRequired: rec.ManualRequired,
		})
	}
	return event
}
