package collector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/maltedev/price-scraper/internal/browser"
	"github.com/maltedev/price-scraper/internal/models"
	"github.com/maltedev/price-scraper/internal/parser"
	"github.com/maltedev/price-scraper/internal/ratelimit"
)

// Collector retrieves normalized offers from exactly one retail source.
// A returned error means the whole source contributed nothing; individual
// bad listings are dropped silently.
type Collector interface {
	Name() string
	BuildURL(q models.Query) string
	Collect(ctx context.Context, q models.Query) ([]models.PriceListing, error)
}

type Options struct {
	MaxListings int
	RenderWait  time.Duration
}

func DefaultOptions() Options {
	return Options{
		MaxListings: 3,
		RenderWait:  10 * time.Second,
	}
}

// StoreCollector is the single collection routine shared by every
// retailer; the Retailer value supplies the per-store differences.
type StoreCollector struct {
	retailer  Retailer
	launcher  browser.Launcher
	limiter   ratelimit.RateLimiter
	extractor *parser.ListingExtractor
	wait      time.Duration
	logger    *slog.Logger
}

var _ Collector = (*StoreCollector)(nil)

func New(r Retailer, launcher browser.Launcher, limiter ratelimit.RateLimiter, opts Options, logger *slog.Logger) (*StoreCollector, error) {
	if launcher == nil {
		return nil, fmt.Errorf("store %s: no session launcher", r.Key)
	}

	extractor, err := parser.NewListingExtractor(r.Selectors, r.BaseURL, opts.MaxListings)
	if err != nil {
		return nil, fmt.Errorf("store %s: %w", r.Key, err)
	}

	return &StoreCollector{
		retailer:  r,
		launcher:  launcher,
		limiter:   limiter,
		extractor: extractor,
		wait:      opts.RenderWait,
		logger:    logger.With("component", "collector", "store", r.Name),
	}, nil
}

func (c *StoreCollector) Name() string {
	return c.retailer.Name
}

func (c *StoreCollector) BuildURL(q models.Query) string {
	return c.retailer.BuildURL(q.String())
}

func (c *StoreCollector) Collect(ctx context.Context, q models.Query) ([]models.PriceListing, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx, c.retailer.Key); err != nil {
			return nil, fmt.Errorf("rate limit wait: %w", err)
		}
	}

	session, err := c.launcher.Launch(ctx)
	if err != nil {
		if !errors.Is(err, browser.ErrLaunch) {
			err = fmt.Errorf("%w: %w", browser.ErrLaunch, err)
		}
		return nil, err
	}
	defer func() {
		if err := session.Close(); err != nil {
			c.logger.Warn("failed to release session", "error", err)
		}
	}()

	searchURL := c.BuildURL(q)
	c.logger.Debug("rendering search page", "url", searchURL)

	html, err := session.Render(ctx, browser.RenderRequest{
		URL:           searchURL,
		ReadySelector: c.retailer.Selectors.Ready,
		Wait:          c.wait,
	})
	if err != nil {
		return nil, err
	}

	raws, err := c.extractor.Extract(html)
	if err != nil {
		return nil, fmt.Errorf("failed to extract listings: %w", err)
	}

	listings := make([]models.PriceListing, 0, len(raws))
	for _, raw := range raws {
		price, err := parser.NormalizePrice(raw.PriceText)
		if err != nil {
			c.logger.Debug("dropping listing", "title", raw.Title, "price_text", raw.PriceText, "error", err)
			continue
		}
		listings = append(listings, c.toListing(raw, price))
	}

	c.logger.Info("collected listings", "query", q.String(), "candidates", len(raws), "count", len(listings))
	return listings, nil
}

func (c *StoreCollector) toListing(raw models.RawListing, price float64) models.PriceListing {
	unit := raw.UnitText
	if unit == "" {
		unit = c.retailer.Unit
	}
	return models.PriceListing{
		Store:      c.retailer.Name,
		Price:      price,
		Unit:       unit,
		Distance:   c.retailer.Distance,
		Icon:       c.retailer.Icon,
		ProductURL: raw.Link,
	}
}

// Deps carries what Build needs to turn retailer keys into collectors.
type Deps struct {
	Browser browser.Launcher
	HTTP    browser.Launcher
	Limiter ratelimit.RateLimiter
	Options Options
	Logger  *slog.Logger
}

// Build returns one collector per key, in the order given.
func Build(keys []string, deps Deps) ([]Collector, error) {
	seen := make(map[string]bool, len(keys))
	collectors := make([]Collector, 0, len(keys))

	for _, key := range keys {
		r, err := LookupRetailer(key)
		if err != nil {
			return nil, err
		}
		if seen[r.Key] {
			return nil, fmt.Errorf("store %q listed twice", r.Key)
		}
		seen[r.Key] = true

		launcher := deps.Browser
		if r.Engine == EngineHTTP {
			launcher = deps.HTTP
		}

		c, err := New(r, launcher, deps.Limiter, deps.Options, deps.Logger)
		if err != nil {
			return nil, err
		}
		collectors = append(collectors, c)
	}

	return collectors, nil
}
