package scrape

import (
	"bytes"
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/scrapex/contact-crawler/internal/extract"
)

// Strategy is one rung of the fetch ladder. Implementations fetch a page
// exactly once per call; retry policy belongs to the caller.
type Strategy interface {
	Name() FetchStrategy
	Fetch(ctx context.Context, rawURL string) (Page, error)
}

// Ladder tries strategies in order, stopping at the first one whose page
// yields a high-confidence signal (a valid phone number). Adding a rung is
// a matter of appending a Strategy; the loop never changes.
type Ladder struct {
	strategies []Strategy
	logger     *zap.Logger
}

// NewLadder builds a Ladder over the given strategies, tried in order.
func NewLadder(logger *zap.Logger, strategies ...Strategy) *Ladder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ladder{strategies: strategies, logger: logger}
}

// Scrape fetches url through the ladder and extracts contact fields.
// It never returns an error: the outcome is encoded in the result's
// Status so callers can distinguish "no public phone" from "extraction
// was denied". Each strategy is attempted at most once.
func (l *Ladder) Scrape(ctx context.Context, rawURL string) ExtractionResult {
	result := ExtractionResult{
		SiteURL:   rawURL,
		FetchedAt: time.Now().UTC(),
	}

	var (
		blocked    bool
		fetched    bool
		lastErr    error
		bestFields extract.Fields
	)

	for _, strategy := range l.strategies {
		if ctx.Err() != nil {
			lastErr = ctx.Err()
			break
		}
		FetchesTotal.WithLabelValues(string(strategy.Name())).Inc()

		page, err := strategy.Fetch(ctx, rawURL)
		if err != nil {
			FetchErrorsTotal.WithLabelValues(string(strategy.Name())).Inc()
			if isBlockedErr(err) {
				blocked = true
			}
			lastErr = fetchError(strategy.Name(), rawURL, err)
			l.logger.Debug("strategy fetch failed",
				zap.String("strategy", string(strategy.Name())),
				zap.String("url", rawURL),
				zap.Error(err),
			)
			continue
		}
		if BlockedHTTPStatus(page.StatusCode) || looksForbidden(page.Body) {
			blocked = true
			continue
		}
		fetched = true

		fields := extract.Extract(page.Body, false)
		if fieldCount(fields) > fieldCount(bestFields) {
			bestFields = fields
		}
		if fields.HasPhone() {
			result.Strategy = strategy.Name()
			result.Status = StatusSuccess
			result.Fields = fields
			ExtractionsTotal.WithLabelValues(string(StatusSuccess)).Inc()
			return result
		}
	}

	result.Fields = bestFields

	switch {
	case blocked:
		result.Status = StatusBlocked
		result.Strategy = StrategyBlocked
		result.ManualRequired = true
		result.Reason = "website has bot protection; manual verification required"
		BlockedTotal.Inc()
	case !fetched && lastErr != nil:
		result.Status = StatusError
		result.Strategy = StrategyBlocked
		result.Reason = lastErr.Error()
	default:
		// Every rung ran and returned markup, but nothing produced a
		// phone number. Treated as requiring manual follow-up rather
		// than a silent empty success.
		result.Status = StatusBlocked
		result.Strategy = StrategyBlocked
		result.ManualRequired = true
		result.Reason = ErrNoSignal.Error()
	}
	ExtractionsTotal.WithLabelValues(string(result.Status)).Inc()
	return result
}

// FetchPage walks the ladder until one strategy returns usable markup,
// without requiring extraction signal. Used by the directory crawler,
// which has its own notion of "usable" (listing count).
func (l *Ladder) FetchPage(ctx context.Context, rawURL string) (Page, FetchStrategy, error) {
	var lastErr error
	for _, strategy := range l.strategies {
		FetchesTotal.WithLabelValues(string(strategy.Name())).Inc()
		page, err := strategy.Fetch(ctx, rawURL)
		if err != nil {
			FetchErrorsTotal.WithLabelValues(string(strategy.Name())).Inc()
			lastErr = fetchError(strategy.Name(), rawURL, err)
			continue
		}
		if BlockedHTTPStatus(page.StatusCode) || looksForbidden(page.Body) {
			lastErr = fetchError(strategy.Name(), rawURL, ErrBlocked)
			continue
		}
		return page, strategy.Name(), nil
	}
	if lastErr == nil {
		lastErr = ErrNoSignal
	}
	return Page{}, StrategyBlocked, lastErr
}

// looksForbidden detects rendered access-denial pages that come back with
// a 200 status but an interstitial body.
func looksForbidden(body []byte) bool {
	if len(body) == 0 {
		return false
	}
	lower := bytes.ToLower(body)
	return bytes.Contains(lower, []byte("403")) && bytes.Contains(lower, []byte("forbidden"))
}

func isBlockedErr(err error) bool {
	return errors.Is(err, ErrBlocked)
}

func fieldCount(f extract.Fields) int {
	n := len(f.Phones) + len(f.Emails) + len(f.Addresses) + len(f.Social)
	if f.Name != "" {
		n++
	}
	if f.Description != "" {
		n++
	}
	return n
}
