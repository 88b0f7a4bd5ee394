package events

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/maltedev/price-scraper/internal/models"
)

type searchPublisher interface {
	PublishSearchCompleted(ctx context.Context, search Search) error
}

// Recorder records searches in the background so a response is never held
// up by the history write.
type Recorder struct {
	publisher searchPublisher
	timeout   time.Duration
	logger    *slog.Logger
	wg        sync.WaitGroup
}

func NewRecorder(publisher searchPublisher, timeout time.Duration, logger *slog.Logger) *Recorder {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Recorder{
		publisher: publisher,
		timeout:   timeout,
		logger:    logger.With("component", "recorder"),
	}
}

// Record schedules the write and returns immediately. The write outlives
// ctx's cancellation but keeps its values.
func (r *Recorder) Record(ctx context.Context, q models.Query, provider string, listings []models.PriceListing) {
	snapshot := make([]models.PriceListing, len(listings))
	copy(snapshot, listings)

	search := Search{
		Query:    q,
		Provider: provider,
		Listings: snapshot,
		At:       time.Now(),
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()

		wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
		defer cancel()

		if err := r.publisher.PublishSearchCompleted(wctx, search); err != nil {
			r.logger.Warn("failed to record search", "query", q.String(), "error", err)
		}
	}()
}

// Wait blocks until every scheduled write has finished.
func (r *Recorder) Wait() {
	r.wg.Wait()
}
