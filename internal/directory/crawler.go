// Package directory discovers business listings across paginated
// directory result sets (chambers of commerce, associations, tourism
// sites) and emits deduplicated ListingRecords.
package directory

import (
	"context"
	"fmt"
	"net/url"

	"go.uber.org/zap"

	"github.com/scrapex/contact-crawler/internal/scrape"
)

const (
	// defaultMaxListings bounds memory on pathologically large
	// directories. A safety valve, not a correctness guarantee.
	defaultMaxListings = 500

	// minStructuredListings is the threshold below which the link-scan
	// fallback runs in addition to structured container extraction.
	minStructuredListings = 5

	// maxPaginationLinks caps pagination candidates per page.
	maxPaginationLinks = 20
)

// PageFetcher obtains directory pages. The strategy ladder satisfies this
// with its FetchPage method, so a JS-heavy directory falls through to a
// rendered fetch automatically.
type PageFetcher interface {
	FetchPage(ctx context.Context, rawURL string) (scrape.Page, scrape.FetchStrategy, error)
}

// Config tunes the crawler's caps.
type Config struct {
	MaxListings int
}

// Crawler walks one directory, page by page.
type Crawler struct {
	fetcher     PageFetcher
	logger      *zap.Logger
	maxListings int
}

// New constructs a Crawler.
func New(fetcher PageFetcher, cfg Config, logger *zap.Logger) *Crawler {
	if cfg.MaxListings <= 0 {
		cfg.MaxListings = defaultMaxListings
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Crawler{
		fetcher:     fetcher,
		logger:      logger,
		maxListings: cfg.MaxListings,
	}
}

// Crawl fetches up to maxPages pages of the directory starting at
// directoryURL and returns the deduplicated listings. Listings are
// deduplicated by resolved absolute site URL across all pages of one
// crawl; re-running on unchanged pages yields the identical set. An
// unreachable first page is a job-level error; later page failures only
// truncate the result.
func (c *Crawler) Crawl(ctx context.Context, directoryURL string, maxPages int) ([]scrape.ListingRecord, error) {
	if maxPages <= 0 {
		maxPages = 1
	}
	base, err := url.Parse(directoryURL)
	if err != nil {
		return nil, fmt.Errorf("parse directory url: %w", err)
	}

	page, strategy, err := c.fetcher.FetchPage(ctx, directoryURL)
	if err != nil {
		return nil, fmt.Errorf("fetch directory %s: %w", directoryURL, err)
	}
	c.logger.Info("directory page fetched",
		zap.String("url", directoryURL),
		zap.String("strategy", string(strategy)),
	)

	seen := make(map[string]struct{})
	var listings []scrape.ListingRecord

	parsed := parseListingPage(page.Body, base, directoryURL)
	listings = appendDeduped(listings, parsed.listings, seen, c.maxListings)

	pagesFetched := 1
	for _, pageURL := range parsed.pagination {
		if pagesFetched >= maxPages || len(listings) >= c.maxListings {
			break
		}
		if err := ctx.Err(); err != nil {
			return listings, err
		}
		next, _, err := c.fetcher.FetchPage(ctx, pageURL)
		if err != nil {
			c.logger.Warn("directory page fetch failed",
				zap.String("url", pageURL),
				zap.Error(err),
			)
			continue
		}
		pagesFetched++
		nextParsed := parseListingPage(next.Body, base, directoryURL)
		listings = appendDeduped(listings, nextParsed.listings, seen, c.maxListings)
	}

	c.logger.Info("directory crawl complete",
		zap.String("url", directoryURL),
		zap.Int("pages", pagesFetched),
		zap.Int("listings", len(listings)),
	)
	return listings, nil
}

func appendDeduped(
	dst []scrape.ListingRecord,
	src []scrape.ListingRecord,
	seen map[string]struct{},
	limit int,
) []scrape.ListingRecord {
	for _, rec := range src {
		if len(dst) >= limit {
			break
		}
		if rec.SiteURL == "" {
			continue
		}
		if _, dup := seen[rec.SiteURL]; dup {
			continue
		}
		seen[rec.SiteURL] = struct{}{}
		dst = append(dst, rec)
	}
	return dst
}
