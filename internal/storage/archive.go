package storage

import (
	"context"

	"go.uber.org/zap"

	"github.com/scrapex/contact-crawler/internal/scrape"
)

// Archiver uploads a finished result document to long-term storage.
type Archiver interface {
	ArchiveResult(ctx context.Context, jobID string, doc scrape.ResultDocument) (string, error)
}

// archivingSink decorates a ResultSink so finalized documents are also
// archived. Archive failures are logged, not propagated: the local
// document is the source of truth.
type archivingSink struct {
	ResultSink
	archiver Archiver
	logger   *zap.Logger
}

// WithArchive wraps sink so every finalized document is handed to
// archiver.
func WithArchive(sink ResultSink, archiver Archiver, logger *zap.Logger) ResultSink {
	return &archivingSink{ResultSink: sink, archiver: archiver, logger: logger}
}

func (s *archivingSink) Finalize(ctx context.Context, jobID string, summary scrape.Summary) error {
	if err := s.ResultSink.Finalize(ctx, jobID, summary); err != nil {
		return err
	}
	doc, err := s.ResultSink.Load(ctx, jobID)
	if err != nil {
		s.logger.Warn("load document for archive", zap.String("job_id", jobID), zap.Error(err))
		return nil
	}
	uri, err := s.archiver.ArchiveResult(ctx, jobID, doc)
	if err != nil {
		s.logger.Warn("archive result document", zap.String("job_id", jobID), zap.Error(err))
		return nil
	}
	s.logger.Info("result document archived",
		zap.String("job_id", jobID), zap.String("uri", uri))
	return nil
}
