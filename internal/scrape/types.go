// Package scrape defines the core types shared across subsystems and the
// strategy ladder that turns a site URL into an ExtractionResult.
package scrape

import (
	"time"

	"github.com/scrapex/contact-crawler/internal/extract"
)

// FetchStrategy identifies which rung of the ladder produced a result.
type FetchStrategy string

// Strategy values recorded on extraction results.
const (
	StrategyDirect   FetchStrategy = "direct"
	StrategyRendered FetchStrategy = "rendered"
	// StrategyBlocked marks results where no technique produced usable
	// signal and manual verification is required.
	StrategyBlocked FetchStrategy = "blocked"
)

// Status is the outcome tag of an extraction attempt.
type Status string

// Extraction statuses. Blocked is deliberately distinct from a success
// with empty fields: only blocked results warrant manual escalation.
const (
	StatusSuccess Status = "success"
	StatusBlocked Status = "blocked"
	StatusError   Status = "error"
)

// Page is a fetched document before extraction.
type Page struct {
	URL        string
	FinalURL   string
	StatusCode int
	Body       []byte
	Rendered   bool
}

// ListingRecord is one entry discovered in a business directory. Immutable
// once emitted; SiteURL is the natural dedup key within one crawl.
type ListingRecord struct {
	SourceDirectoryURL string `json:"source_directory_url,omitempty"`
	BusinessName       string `json:"business_name,omitempty"`
	SiteURL            string `json:"site_url,omitempty"`
	Phone              string `json:"phone,omitempty"`
	Address            string `json:"address,omitempty"`
	Category           string `json:"category,omitempty"`
}

// ExtractionResult is produced once per attempted site.
type ExtractionResult struct {
	SiteURL        string         `json:"site_url"`
	FetchedAt      time.Time      `json:"fetched_at"`
	Strategy       FetchStrategy  `json:"strategy_used"`
	Status         Status         `json:"status"`
	Fields         extract.Fields `json:"fields"`
	ManualRequired bool           `json:"manual_required,omitempty"`
	Reason         string         `json:"reason,omitempty"`
}

// BusinessRecord merges a directory listing with its extraction result.
// This is the externally visible unit of output.
type BusinessRecord struct {
	SourceDirectoryURL string            `json:"source_directory_url,omitempty"`
	BusinessName       string            `json:"business_name,omitempty"`
	SiteURL            string            `json:"site_url"`
	Category           string            `json:"category,omitempty"`
	ListingPhone       string            `json:"listing_phone,omitempty"`
	ListingAddress     string            `json:"listing_address,omitempty"`
	FetchedAt          time.Time         `json:"fetched_at"`
	Strategy           FetchStrategy     `json:"strategy_used"`
	Status             Status            `json:"status"`
	Phones             []string          `json:"phones,omitempty"`
	Emails             []string          `json:"emails,omitempty"`
	Addresses          []string          `json:"addresses,omitempty"`
	Social             map[string]string `json:"social,omitempty"`
	Description        string            `json:"description,omitempty"`
	ManualRequired     bool              `json:"manual_required,omitempty"`
	Reason             string            `json:"reason,omitempty"`
}

// PrimaryPhone returns the contact number downstream callers should dial:
// the first element of the priority-ordered phone list, or "" if none.
func (b BusinessRecord) PrimaryPhone() string {
	if len(b.Phones) == 0 {
		return ""
	}
	return b.Phones[0]
}

// MergeBusiness combines a listing with its extraction result. The
// extracted business name wins over the listing name when present.
func MergeBusiness(listing ListingRecord, result ExtractionResult) BusinessRecord {
	name := result.Fields.Name
	if name == "" {
		name = listing.BusinessName
	}
	siteURL := result.SiteURL
	if siteURL == "" {
		siteURL = listing.SiteURL
	}
	return BusinessRecord{
		SourceDirectoryURL: listing.SourceDirectoryURL,
		BusinessName:       name,
		SiteURL:            siteURL,
		Category:           listing.Category,
		ListingPhone:       listing.Phone,
		ListingAddress:     listing.Address,
		FetchedAt:          result.FetchedAt,
		Strategy:           result.Strategy,
		Status:             result.Status,
		Phones:             result.Fields.Phones,
		Emails:             result.Fields.Emails,
		Addresses:          result.Fields.Addresses,
		Social:             result.Fields.Social,
		Description:        result.Fields.Description,
		ManualRequired:     result.ManualRequired,
		Reason:             result.Reason,
	}
}

// JobStatus is the lifecycle state of a scrape job.
type JobStatus string

// Job lifecycle values. Completed and Failed are terminal.
const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

// Terminal reports whether the status ends the job lifecycle.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// JobTarget distinguishes the two submission workflows.
type JobTarget string

// Job targets.
const (
	TargetSingleURL    JobTarget = "single-url"
	TargetDirectoryURL JobTarget = "directory-url"
)

// JobCounts tracks per-job progress. Processed == Succeeded + Failed holds
// at every observation point after the job starts.
type JobCounts struct {
	Found     int `json:"found"`
	Processed int `json:"processed"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
}

// JobParams captures the caller-supplied knobs for a job. Batch size and
// worker count are requests; the resource governor clamps them.
type JobParams struct {
	URLs          []string `json:"urls,omitempty"`
	DirectoryURL  string   `json:"directory_url,omitempty"`
	MaxBusinesses int      `json:"max_businesses,omitempty"`
	MaxPages      int      `json:"max_pages,omitempty"`
	BatchSize     int      `json:"batch_size,omitempty"`
	WorkerCount   int      `json:"worker_count,omitempty"`
}

// Job is the persisted metadata for one submission. Mutated only by the
// batch orchestrator once running.
type Job struct {
	ID          string     `json:"job_id"`
	CallerID    string     `json:"caller_id"`
	Target      JobTarget  `json:"target"`
	Params      JobParams  `json:"params"`
	Status      JobStatus  `json:"status"`
	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Counts      JobCounts  `json:"counts"`
	ErrorText   string     `json:"error,omitempty"`
}

// Summary is attached to the persisted output when a job finishes.
type Summary struct {
	Status          JobStatus `json:"status"`
	TotalFound      int       `json:"total_found"`
	TotalProcessed  int       `json:"total_processed"`
	Successful      int       `json:"successful"`
	Failed          int       `json:"failed"`
	SuccessRate     float64   `json:"success_rate"`
	DurationSeconds float64   `json:"duration_seconds"`
}

// ResultDocument is the externally visible JSON output of a job. It grows
// by one chunk per incremental write; Summary is set on completion.
type ResultDocument struct {
	DirectoryURL string           `json:"directory_url,omitempty"`
	StartedAt    time.Time        `json:"started_at"`
	Businesses   []BusinessRecord `json:"businesses"`
	Summary      *Summary         `json:"summary,omitempty"`
}
