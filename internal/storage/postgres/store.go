// Package postgres provides Postgres-backed persistence for jobs and
// business records.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/scrapex/contact-crawler/internal/scrape"
	"github.com/scrapex/contact-crawler/internal/storage"
)

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// Store persists jobs and business records in Postgres.
type Store struct {
	pool pool
}

// New connects a pool and returns a Store.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Store{pool: p}, nil
}

// NewWithPool constructs a Store from an existing pool (primarily for
// testing).
func NewWithPool(p pool) (*Store, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &Store{pool: p}, nil
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// CreateJob inserts a job row.
func (s *Store) CreateJob(ctx context.Context, job scrape.Job) error {
	if job.ID == "" {
		return fmt.Errorf("job id is required")
	}
	params, err := json.Marshal(job.Params)
	if err != nil {
		return fmt.Errorf("marshal job params: %w", err)
	}
	const query = `
INSERT INTO scrape_jobs (
	id, caller_id, target, params, status, created_at,
	found, processed, succeeded, failed, error_text
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`
	_, err = s.pool.Exec(ctx, query,
		job.ID, job.CallerID, string(job.Target), params, string(job.Status),
		job.CreatedAt, job.Counts.Found, job.Counts.Processed,
		job.Counts.Succeeded, job.Counts.Failed, job.ErrorText)
	if err != nil {
		return fmt.Errorf("insert job %s: %w", job.ID, err)
	}
	return nil
}

// GetJob fetches a job row by ID.
func (s *Store) GetJob(ctx context.Context, jobID string) (scrape.Job, error) {
	const query = `
SELECT id, caller_id, target, params, status, created_at, started_at, completed_at,
	found, processed, succeeded, failed, error_text
FROM scrape_jobs WHERE id = $1`
	var (
		job    scrape.Job
		params []byte
		target string
		status string
	)
	err := s.pool.QueryRow(ctx, query, jobID).Scan(
		&job.ID, &job.CallerID, &target, &params, &status,
		&job.CreatedAt, &job.StartedAt, &job.CompletedAt,
		&job.Counts.Found, &job.Counts.Processed,
		&job.Counts.Succeeded, &job.Counts.Failed, &job.ErrorText)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return scrape.Job{}, fmt.Errorf("job %s: %w", jobID, storage.ErrNotFound)
		}
		return scrape.Job{}, fmt.Errorf("select job %s: %w", jobID, err)
	}
	job.Target = scrape.JobTarget(target)
	job.Status = scrape.JobStatus(status)
	if len(params) > 0 {
		if err := json.Unmarshal(params, &job.Params); err != nil {
			return scrape.Job{}, fmt.Errorf("decode job params: %w", err)
		}
	}
	return job, nil
}

// UpdateJob applies the non-nil fields of update to a job row.
func (s *Store) UpdateJob(ctx context.Context, jobID string, update storage.JobUpdate) error {
	set := make([]string, 0, 8)
	args := make([]any, 0, 9)
	add := func(column string, value any) {
		args = append(args, value)
		set = append(set, fmt.Sprintf("%s = $%d", column, len(args)))
	}
	if update.Status != nil {
		add("status", string(*update.Status))
	}
	if update.Counts != nil {
		add("found", update.Counts.Found)
		add("processed", update.Counts.Processed)
		add("succeeded", update.Counts.Succeeded)
		add("failed", update.Counts.Failed)
	}
	if update.ErrorText != nil {
		add("error_text", *update.ErrorText)
	}
	if update.StartedAt != nil {
		add("started_at", *update.StartedAt)
	}
	if update.CompletedAt != nil {
		add("completed_at", *update.CompletedAt)
	}
	if len(set) == 0 {
		return nil
	}
	args = append(args, jobID)
	query := fmt.Sprintf("UPDATE scrape_jobs SET %s WHERE id = $%d",
		strings.Join(set, ", "), len(args))
	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update job %s: %w", jobID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("job %s: %w", jobID, storage.ErrNotFound)
	}
	return nil
}

// SaveBusinesses inserts one row per record. Rows for the same site in
// the same job are overwritten rather than duplicated.
func (s *Store) SaveBusinesses(ctx context.Context, jobID string, records []scrape.BusinessRecord) error {
	const query = `
INSERT INTO scrape_businesses (job_id, site_url, record, created_at)
VALUES ($1, $2, $3, $4)
ON CONFLICT (job_id, site_url) DO UPDATE SET record = EXCLUDED.record`
	for _, rec := range records {
		data, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("marshal business record: %w", err)
		}
		if _, err := s.pool.Exec(ctx, query, jobID, rec.SiteURL, data, time.Now().UTC()); err != nil {
			return fmt.Errorf("insert business %s for job %s: %w", rec.SiteURL, jobID, err)
		}
	}
	return nil
}
