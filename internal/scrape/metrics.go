package scrape

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// FetchesTotal counts fetch attempts by strategy rung.
	FetchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "contactcrawler_fetches_total",
		Help: "Fetch attempts by strategy.",
	}, []string{"strategy"})

	// FetchErrorsTotal counts fetch attempts that returned an error.
	FetchErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "contactcrawler_fetch_errors_total",
		Help: "Failed fetch attempts by strategy.",
	}, []string{"strategy"})

	// BlockedTotal counts extraction attempts that ended blocked.
	BlockedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "contactcrawler_blocked_total",
		Help: "Extraction attempts denied by anti-automation defenses.",
	})

	// ExtractionsTotal counts completed extractions by status.
	ExtractionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "contactcrawler_extractions_total",
		Help: "Completed extraction attempts by status.",
	}, []string{"status"})
)
