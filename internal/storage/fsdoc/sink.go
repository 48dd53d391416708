// Package fsdoc implements a filesystem ResultSink. Each job owns one
// JSON document that grows by read-modify-write per chunk, so partial
// results survive a crash mid-job.
package fsdoc

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/scrapex/contact-crawler/internal/scrape"
	"github.com/scrapex/contact-crawler/internal/storage"
)

var safeJobID = regexp.MustCompile(`^[a-zA-Z0-9._\-]+$`)

// Config captures the parameters for the filesystem sink.
type Config struct {
	// BaseDir is the directory holding one <job-id>.json per job.
	BaseDir string `mapstructure:"base_dir"`
}

// Sink writes result documents under a base directory.
type Sink struct {
	baseDir string
}

// New creates the sink and verifies the base directory is usable.
func New(cfg Config) (*Sink, error) {
	if strings.TrimSpace(cfg.BaseDir) == "" {
		return nil, fmt.Errorf("base directory is required")
	}
	info, err := os.Stat(cfg.BaseDir)
	switch {
	case os.IsNotExist(err):
		if mkErr := os.MkdirAll(cfg.BaseDir, 0o750); mkErr != nil {
			return nil, fmt.Errorf("create base directory: %w", mkErr)
		}
	case err != nil:
		return nil, fmt.Errorf("stat base directory: %w", err)
	case !info.IsDir():
		return nil, fmt.Errorf("base directory path is not a directory")
	}
	return &Sink{baseDir: cfg.BaseDir}, nil
}

// AppendChunk loads the job's document, appends the chunk, and writes
// the document back atomically. The first chunk creates the document.
func (s *Sink) AppendChunk(_ context.Context, jobID string, meta storage.DocumentMeta, businesses []scrape.BusinessRecord) error {
	path, err := s.documentPath(jobID)
	if err != nil {
		return err
	}
	doc, err := readDocument(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return err
		}
		doc = scrape.ResultDocument{
			DirectoryURL: meta.DirectoryURL,
			StartedAt:    meta.StartedAt,
		}
	}
	doc.Businesses = append(doc.Businesses, businesses...)
	return writeDocument(path, doc)
}

// Finalize attaches the summary to the job's document.
func (s *Sink) Finalize(_ context.Context, jobID string, summary scrape.Summary) error {
	path, err := s.documentPath(jobID)
	if err != nil {
		return err
	}
	doc, err := readDocument(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("result document for job %s: %w", jobID, storage.ErrNotFound)
		}
		return err
	}
	doc.Summary = &summary
	return writeDocument(path, doc)
}

// Load reads the job's document.
func (s *Sink) Load(_ context.Context, jobID string) (scrape.ResultDocument, error) {
	path, err := s.documentPath(jobID)
	if err != nil {
		return scrape.ResultDocument{}, err
	}
	doc, err := readDocument(path)
	if err != nil {
		if os.IsNotExist(err) {
			return scrape.ResultDocument{}, fmt.Errorf("result document for job %s: %w", jobID, storage.ErrNotFound)
		}
		return scrape.ResultDocument{}, err
	}
	return doc, nil
}

func (s *Sink) documentPath(jobID string) (string, error) {
	if !safeJobID.MatchString(jobID) {
		return "", fmt.Errorf("invalid job id %q", jobID)
	}
	return filepath.Join(s.baseDir, jobID+".json"), nil
}

func readDocument(path string) (scrape.ResultDocument, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return scrape.ResultDocument{}, err
	}
	var doc scrape.ResultDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return scrape.ResultDocument{}, fmt.Errorf("decode result document %s: %w", path, err)
	}
	return doc, nil
}

// writeDocument writes to a temp file and renames it into place so
// readers never observe a half-written document.
func writeDocument(path string, doc scrape.ResultDocument) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode result document: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o640); err != nil {
		return fmt.Errorf("write result document: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("replace result document: %w", err)
	}
	return nil
}
