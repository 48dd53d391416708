package scrape

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// ErrRenderingDisabled indicates the rendered rung has been disabled via
// configuration; the ladder is built without it in that case.
var ErrRenderingDisabled = errors.New("rendered fetching disabled")

// RenderedConfig controls the headless-browser rung of the ladder.
type RenderedConfig struct {
	UserAgent string
	// NavTimeout bounds the whole navigate-and-extract task.
	NavTimeout time.Duration
	// SettleDelay is the fixed wait after the document is ready, giving
	// dynamic content a chance to populate.
	SettleDelay time.Duration
	// MaxParallel bounds concurrent browser tabs.
	MaxParallel int
	// DomainQPS throttles rendered fetches per host; zero disables.
	DomainQPS float64
}

// RenderedStrategy fetches pages through headless Chrome via chromedp.
// It is the expensive second rung, used when a direct fetch yields no
// signal or is refused.
type RenderedStrategy struct {
	allocatorCancel context.CancelFunc
	browserCtx      context.Context
	browserCancel   context.CancelFunc
	logger          *zap.Logger
	sem             chan struct{}
	navTimeout      time.Duration
	settleDelay     time.Duration
	domainQPS       float64
	domainLimiters  sync.Map
	userAgent       string
}

// NewRenderedStrategy launches a shared headless browser and returns the
// strategy. Callers must Close it on shutdown.
func NewRenderedStrategy(cfg RenderedConfig, logger *zap.Logger) (*RenderedStrategy, error) {
	if cfg.MaxParallel <= 0 {
		return nil, ErrRenderingDisabled
	}
	if cfg.NavTimeout <= 0 {
		cfg.NavTimeout = 25 * time.Second
	}
	if cfg.SettleDelay <= 0 {
		cfg.SettleDelay = 3 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	opts := chromedp.DefaultExecAllocatorOptions[:]
	opts = append(opts,
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.UserAgent(cfg.UserAgent),
	)
	allocatorCtx, allocatorCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	browserCtx, browserCancel := chromedp.NewContext(allocatorCtx)
	if err := chromedp.Run(browserCtx); err != nil {
		allocatorCancel()
		browserCancel()
		return nil, fmt.Errorf("browser warmup: %w", err)
	}

	return &RenderedStrategy{
		allocatorCancel: allocatorCancel,
		browserCtx:      browserCtx,
		browserCancel:   browserCancel,
		logger:          logger,
		sem:             make(chan struct{}, cfg.MaxParallel),
		navTimeout:      cfg.NavTimeout,
		settleDelay:     cfg.SettleDelay,
		domainQPS:       cfg.DomainQPS,
		userAgent:       cfg.UserAgent,
	}, nil
}

// Name reports the strategy tag recorded on results.
func (s *RenderedStrategy) Name() FetchStrategy {
	return StrategyRendered
}

// Close tears down the browser and allocator contexts.
func (s *RenderedStrategy) Close() error {
	if s == nil {
		return nil
	}
	s.browserCancel()
	s.allocatorCancel()
	return nil
}

// Fetch renders rawURL in a fresh tab and returns the DOM snapshot. A
// document response of 403/429 surfaces as ErrBlocked.
func (s *RenderedStrategy) Fetch(ctx context.Context, rawURL string) (Page, error) {
	if s == nil {
		return Page{}, ErrRenderingDisabled
	}

	release, err := s.acquireSlot(ctx)
	if err != nil {
		return Page{}, err
	}
	defer release()

	if err := s.waitDomainBudget(ctx, rawURL); err != nil {
		return Page{}, fmt.Errorf("render rate limit: %w", err)
	}

	tabCtx, cancelTab := chromedp.NewContext(s.browserCtx)
	defer cancelTab()

	taskCtx, cancelTask := context.WithTimeout(tabCtx, s.navTimeout)
	defer cancelTask()

	stopForward := forwardCancel(ctx, cancelTask)
	defer stopForward()

	meta := &documentMeta{}
	s.recordDocumentResponse(tabCtx, meta)

	var html string
	tasks := chromedp.Tasks{
		network.Enable(),
		emulation.SetUserAgentOverride(s.userAgent),
		chromedp.Navigate(rawURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(s.settleDelay),
		chromedp.Evaluate(`window.scrollTo(0, document.body.scrollHeight)`, nil),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	}
	if err := chromedp.Run(taskCtx, tasks); err != nil {
		return Page{}, fmt.Errorf("render: %w", err)
	}

	page := Page{
		URL:        rawURL,
		FinalURL:   meta.finalURL(rawURL),
		StatusCode: meta.status(),
		Body:       []byte(html),
		Rendered:   true,
	}
	if BlockedHTTPStatus(page.StatusCode) {
		return page, ErrBlocked
	}
	return page, nil
}

func (s *RenderedStrategy) acquireSlot(ctx context.Context) (func(), error) {
	select {
	case s.sem <- struct{}{}:
		return func() { <-s.sem }, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("acquire render slot: %w", ctx.Err())
	}
}

func (s *RenderedStrategy) waitDomainBudget(ctx context.Context, rawURL string) error {
	if s.domainQPS <= 0 {
		return nil
	}
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("parse render url: %w", err)
	}
	host := strings.ToLower(parsed.Host)
	val, _ := s.domainLimiters.LoadOrStore(host, rate.NewLimiter(rate.Limit(s.domainQPS), 1))
	limiter, ok := val.(*rate.Limiter)
	if !ok {
		return fmt.Errorf("unexpected limiter type %T", val)
	}
	return limiter.Wait(ctx)
}

type documentMeta struct {
	once       sync.Once
	statusCode int
	url        string
}

func (m *documentMeta) finalURL(raw string) string {
	if m.url == "" {
		return raw
	}
	return m.url
}

func (m *documentMeta) status() int {
	if m.statusCode == 0 {
		return 200
	}
	return m.statusCode
}

func (s *RenderedStrategy) recordDocumentResponse(tabCtx context.Context, meta *documentMeta) {
	chromedp.ListenTarget(tabCtx, func(ev interface{}) {
		resp, ok := ev.(*network.EventResponseReceived)
		if !ok || resp.Type != network.ResourceTypeDocument {
			return
		}
		meta.once.Do(func() {
			meta.statusCode = int(resp.Response.Status)
			meta.url = resp.Response.URL
		})
	})
}

// forwardCancel propagates cancellation from the caller's context into the
// chromedp task context, which otherwise only observes its own deadline.
func forwardCancel(parent context.Context, cancel context.CancelFunc) func() {
	done := make(chan struct{})
	go func() {
		select {
		case <-parent.Done():
			cancel()
		case <-done:
		}
	}()
	return func() { close(done) }
}
