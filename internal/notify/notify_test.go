package notify

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/scrapex/contact-crawler/internal/scrape"
)

func TestNewCompletionEventCarriesPrimaryPhones(t *testing.T) {
	t.Parallel()

	done := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	job := scrape.Job{
		ID:          "job-1",
		CallerID:    "caller-a",
		Status:      scrape.JobStatusCompleted,
		CompletedAt: &done,
	}
	records := []scrape.BusinessRecord{
		{
			BusinessName: "Acme Plumbing",
			SiteURL:      "https://acme.example.net",
			Phones:       []string{"(609) 555-0101", "(609) 555-0102"},
		},
		{
			BusinessName:   "Beta Roofing",
			SiteURL:        "https://beta.example.net",
			ManualRequired: true,
		},
	}
	summary := scrape.Summary{Status: scrape.JobStatusCompleted, TotalProcessed: 2, Successful: 1, Failed: 1}

	event := NewCompletionEvent(job, summary, records)
	require.Equal(t, "job-1", event.JobID)
	require.Equal(t, done, event.CompletedAt)
	require.Len(t, event.Businesses, 2)
	require.Equal(t, "(609) 555-0101", event.Businesses[0].PrimaryPhone)
	require.Empty(t, event.Businesses[1].PrimaryPhone)
	require.True(t, event.Businesses[1].ManualRequired)
}

func TestMemoryNotifierRecordsCopies(t *testing.T) {
	t.Parallel()

	n := NewMemoryNotifier()
	require.NoError(t, n.NotifyCompletion(context.Background(), CompletionEvent{JobID: "job-1"}))
	require.NoError(t, n.NotifyCompletion(context.Background(), CompletionEvent{JobID: "job-2"}))

	events := n.Events()
	require.Len(t, events, 2)

	events[0].JobID = "mutated"
	require.Equal(t, "job-1", n.Events()[0].JobID)
}
