package scrape

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"
)

// DirectConfig controls the plain-HTTP rung of the ladder.
type DirectConfig struct {
	UserAgent string
	Timeout   time.Duration
	// Parallelism bounds concurrent requests per domain glob.
	Parallelism int
	// DomainDelay spaces requests to the same domain.
	DomainDelay time.Duration
}

// DirectStrategy fetches pages over plain HTTP using a Colly collector
// with a realistic identification header set. It is the cheap first rung:
// one attempt, short timeout, no retries.
type DirectStrategy struct {
	baseCollector *colly.Collector
	logger        *zap.Logger
}

// NewDirectStrategy constructs a configured direct fetcher.
func NewDirectStrategy(cfg DirectConfig, logger *zap.Logger) (*DirectStrategy, error) {
	if cfg.UserAgent == "" {
		cfg.UserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.Parallelism <= 0 {
		cfg.Parallelism = 4
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	base := colly.NewCollector(
		colly.Async(true),
		colly.UserAgent(cfg.UserAgent),
	)
	base.AllowURLRevisit = true
	base.WithTransport(&http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		MaxIdleConns:          128,
		MaxIdleConnsPerHost:   32,
		IdleConnTimeout:       30 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: cfg.Timeout,
		ForceAttemptHTTP2:     true,
	})
	base.SetRequestTimeout(cfg.Timeout)

	if err := base.Limit(&colly.LimitRule{
		DomainGlob:  "*",
		Parallelism: cfg.Parallelism,
		Delay:       cfg.DomainDelay,
	}); err != nil {
		return nil, err
	}

	return &DirectStrategy{baseCollector: base, logger: logger}, nil
}

// Name reports the strategy tag recorded on results.
func (s *DirectStrategy) Name() FetchStrategy {
	return StrategyDirect
}

type directResult struct {
	page Page
	err  error
}

// Fetch retrieves rawURL once. A 403/429 response surfaces as ErrBlocked
// so the ladder can distinguish denial from absence.
func (s *DirectStrategy) Fetch(ctx context.Context, rawURL string) (Page, error) {
	collector := s.baseCollector.Clone()
	resultCh := make(chan directResult, 1)
	var once sync.Once
	send := func(res directResult) {
		once.Do(func() { resultCh <- res })
	}

	collector.OnRequest(func(r *colly.Request) {
		r.Headers.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
		r.Headers.Set("Accept-Language", "en-US,en;q=0.9")
	})

	collector.OnResponse(func(r *colly.Response) {
		send(directResult{page: Page{
			URL:        rawURL,
			FinalURL:   r.Request.URL.String(),
			StatusCode: r.StatusCode,
			Body:       append([]byte{}, r.Body...),
		}})
	})

	collector.OnError(func(r *colly.Response, err error) {
		if r != nil && BlockedHTTPStatus(r.StatusCode) {
			send(directResult{page: Page{
				URL:        rawURL,
				StatusCode: r.StatusCode,
			}, err: ErrBlocked})
			return
		}
		if err == nil {
			err = errors.New("unknown fetch error")
		}
		send(directResult{err: err})
	})

	if err := collector.Visit(rawURL); err != nil {
		return Page{}, err
	}
	collector.Wait()

	select {
	case res := <-resultCh:
		if err := ctx.Err(); err != nil {
			return Page{}, err
		}
		return res.page, res.err
	default:
		return Page{}, errors.New("fetch produced no result")
	}
}
