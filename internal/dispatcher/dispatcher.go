package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/maltedev/price-scraper/internal/collector"
	"github.com/maltedev/price-scraper/internal/models"
	"golang.org/x/sync/errgroup"
)

var (
	ErrCollectorTimeout = errors.New("collector timed out")
	ErrCollectorPanic   = errors.New("collector panicked")
)

type Config struct {
	// Timeout bounds each collector independently.
	Timeout time.Duration
	// Concurrency caps collectors running at once. Zero runs all of them.
	Concurrency int
}

func DefaultConfig() Config {
	return Config{
		Timeout:     20 * time.Second,
		Concurrency: 0,
	}
}

// Outcome is what one collector produced for one query.
type Outcome struct {
	Store    string
	Listings []models.PriceListing
	Err      error
	Elapsed  time.Duration
}

type Dispatcher struct {
	collectors []collector.Collector
	cfg        Config
	logger     *slog.Logger
}

func New(collectors []collector.Collector, cfg Config, logger *slog.Logger) *Dispatcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultConfig().Timeout
	}
	return &Dispatcher{
		collectors: collectors,
		cfg:        cfg,
		logger:     logger.With("component", "dispatcher"),
	}
}

// Stores returns the display names of the configured collectors.
func (d *Dispatcher) Stores() []string {
	names := make([]string, 0, len(d.collectors))
	for _, c := range d.collectors {
		names = append(names, c.Name())
	}
	return names
}

// Search runs every collector and returns the merged, ranked listings.
// It never fails: collectors that error, panic or time out contribute
// nothing. The result is never nil.
func (d *Dispatcher) Search(ctx context.Context, q models.Query) []models.PriceListing {
	outcomes := d.Collect(ctx, q)

	merged := make([]models.PriceListing, 0)
	for _, o := range outcomes {
		if o.Err != nil {
			d.logger.Warn("collector failed",
				"store", o.Store,
				"query", q.String(),
				"elapsed", o.Elapsed,
				"error", o.Err)
			continue
		}
		for _, l := range o.Listings {
			if !l.IsValid() {
				d.logger.Debug("dropping invalid listing", "store", o.Store, "price", l.Price)
				continue
			}
			merged = append(merged, l)
		}
	}

	d.logger.Info("search completed",
		"query", q.String(),
		"collectors", len(outcomes),
		"listings", len(merged))

	return Rank(merged)
}

// Collect runs every collector and returns one outcome per collector, in
// collector order, once all of them have finished or timed out.
func (d *Dispatcher) Collect(ctx context.Context, q models.Query) []Outcome {
	outcomes := make([]Outcome, len(d.collectors))

	var g errgroup.Group
	limit := d.cfg.Concurrency
	if limit <= 0 {
		limit = len(d.collectors)
	}
	if limit > 0 {
		g.SetLimit(limit)
	}

	for i, c := range d.collectors {
		g.Go(func() error {
			outcomes[i] = d.run(ctx, c, q)
			return nil
		})
	}
	_ = g.Wait()

	return outcomes
}

type result struct {
	listings []models.PriceListing
	err      error
}

// run invokes one collector under its own deadline. A collector that
// ignores its context is abandoned once the deadline passes; its session
// is still released by the collector itself when it eventually returns.
func (d *Dispatcher) run(ctx context.Context, c collector.Collector, q models.Query) Outcome {
	start := time.Now()
	cctx, cancel := context.WithTimeout(ctx, d.cfg.Timeout)
	defer cancel()

	done := make(chan result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- result{err: fmt.Errorf("%w: %v", ErrCollectorPanic, r)}
			}
		}()
		listings, err := c.Collect(cctx, q)
		done <- result{listings: listings, err: err}
	}()

	out := Outcome{Store: c.Name()}
	select {
	case r := <-done:
		out.Listings, out.Err = r.listings, r.err
		if out.Err != nil && errors.Is(cctx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			out.Err = fmt.Errorf("%w after %s: %w", ErrCollectorTimeout, d.cfg.Timeout, out.Err)
		}
	case <-cctx.Done():
		if ctx.Err() != nil {
			out.Err = ctx.Err()
		} else {
			out.Err = fmt.Errorf("%w after %s", ErrCollectorTimeout, d.cfg.Timeout)
		}
	}
	out.Elapsed = time.Since(start)
	return out
}
