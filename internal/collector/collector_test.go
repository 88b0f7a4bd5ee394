package collector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/maltedev/price-scraper/internal/browser"
	"github.com/maltedev/price-scraper/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSession struct {
	html      string
	renderErr error
	panicMsg  string
	closes    *atomic.Int32
	lastReq   *browser.RenderRequest
}

func (s *fakeSession) Render(ctx context.Context, req browser.RenderRequest) (string, error) {
	*s.lastReq = req
	if s.panicMsg != "" {
		panic(s.panicMsg)
	}
	if s.renderErr != nil {
		return "", s.renderErr
	}
	return s.html, nil
}

func (s *fakeSession) Close() error {
	s.closes.Add(1)
	return nil
}

type fakeLauncher struct {
	session   *fakeSession
	launchErr error
	launches  atomic.Int32
	closes    atomic.Int32
	lastReq   browser.RenderRequest
}

func (l *fakeLauncher) Launch(ctx context.Context) (browser.Session, error) {
	l.launches.Add(1)
	if l.launchErr != nil {
		return nil, l.launchErr
	}
	s := *l.session
	s.closes = &l.closes
	s.lastReq = &l.lastReq
	return &s, nil
}

func walmartTile(title, price, href string) string {
	return fmt.Sprintf(`<div data-testid="product-stack-tile"><a href="%s"><span data-automation="product-title">%s</span></a>`+
		`<span data-automation="item-price">%s</span></div>`, href, title, price)
}

func walmartPage(tiles ...string) string {
	return `<html><body><div data-testid="item-stack">` + strings.Join(tiles, "") + `</div></body></html>`
}

func newWalmart(t *testing.T, l browser.Launcher) *StoreCollector {
	t.Helper()
	r, err := LookupRetailer("walmart")
	require.NoError(t, err)
	c, err := New(r, l, nil, DefaultOptions(), slog.Default())
	require.NoError(t, err)
	return c
}

func TestStoreCollector_Collect(t *testing.T) {
	ctx := context.Background()

	t.Run("normalizes listings and applies retailer defaults", func(t *testing.T) {
		l := &fakeLauncher{session: &fakeSession{html: walmartPage(
			walmartTile("Natrel Milk 4L", "$5.99", "/en/ip/natrel/1"),
			walmartTile("Great Value Milk 4L", "$4.79", "/en/ip/gv/2"),
		)}}
		c := newWalmart(t, l)

		listings, err := c.Collect(ctx, models.Query("milk"))
		require.NoError(t, err)
		require.Len(t, listings, 2)

		assert.Equal(t, models.PriceListing{
			Store:      "Walmart",
			Price:      5.99,
			Unit:       "each",
			Distance:   "Local",
			Icon:       "🏪",
			ProductURL: "https://www.walmart.ca/en/ip/natrel/1",
		}, listings[0])
		assert.Equal(t, 4.79, listings[1].Price)

		assert.Equal(t, "https://www.walmart.ca/search?q=milk", l.lastReq.URL)
		assert.Equal(t, "div[data-testid='item-stack']", l.lastReq.ReadySelector)
		assert.Equal(t, 10*time.Second, l.lastReq.Wait)
		assert.Equal(t, int32(1), l.closes.Load())
	})

	t.Run("drops listings with unparsable prices", func(t *testing.T) {
		l := &fakeLauncher{session: &fakeSession{html: walmartPage(
			walmartTile("Sample", "Free", "/ip/1"),
			walmartTile("Bread", "$2.49", "/ip/2"),
			walmartTile("Ranged", "$1.99 - $3.99", "/ip/3"),
		)}}
		c := newWalmart(t, l)

		listings, err := c.Collect(ctx, models.Query("bread"))
		require.NoError(t, err)
		require.Len(t, listings, 1)
		assert.Equal(t, 2.49, listings[0].Price)
	})

	t.Run("caps listings per collector", func(t *testing.T) {
		var tiles []string
		for i := 0; i < 10; i++ {
			tiles = append(tiles, walmartTile(fmt.Sprintf("Item %d", i), "$1.00", fmt.Sprintf("/ip/%d", i)))
		}
		l := &fakeLauncher{session: &fakeSession{html: walmartPage(tiles...)}}
		c := newWalmart(t, l)

		listings, err := c.Collect(ctx, models.Query("item"))
		require.NoError(t, err)
		assert.Len(t, listings, 3)
	})

	t.Run("wait timeout fails the collector and releases the session", func(t *testing.T) {
		l := &fakeLauncher{session: &fakeSession{renderErr: fmt.Errorf("%w: marker", browser.ErrWaitTimeout)}}
		c := newWalmart(t, l)

		listings, err := c.Collect(ctx, models.Query("milk"))
		assert.ErrorIs(t, err, browser.ErrWaitTimeout)
		assert.Empty(t, listings)
		assert.Equal(t, int32(1), l.closes.Load())
	})

	t.Run("launch failure is reported as resource acquisition failure", func(t *testing.T) {
		l := &fakeLauncher{launchErr: errors.New("chromium not installed")}
		c := newWalmart(t, l)

		_, err := c.Collect(ctx, models.Query("milk"))
		assert.ErrorIs(t, err, browser.ErrLaunch)
		assert.Equal(t, int32(0), l.closes.Load())
	})

	t.Run("session is released when rendering panics", func(t *testing.T) {
		l := &fakeLauncher{session: &fakeSession{panicMsg: "driver crashed"}}
		c := newWalmart(t, l)

		assert.Panics(t, func() {
			_, _ = c.Collect(ctx, models.Query("milk"))
		})
		assert.Equal(t, int32(1), l.closes.Load())
	})

	t.Run("one release per invocation across repeated calls", func(t *testing.T) {
		l := &fakeLauncher{session: &fakeSession{html: walmartPage(walmartTile("Milk", "$4.99", "/ip/1"))}}
		c := newWalmart(t, l)

		for i := 0; i < 5; i++ {
			_, err := c.Collect(ctx, models.Query("milk"))
			require.NoError(t, err)
		}
		assert.Equal(t, int32(5), l.launches.Load())
		assert.Equal(t, int32(5), l.closes.Load())
	})
}

type blockingLimiter struct{}

func (blockingLimiter) Wait(ctx context.Context, store string) error {
	<-ctx.Done()
	return ctx.Err()
}

func TestStoreCollector_RateLimitRespectsContext(t *testing.T) {
	l := &fakeLauncher{session: &fakeSession{}}
	r, err := LookupRetailer("walmart")
	require.NoError(t, err)
	c, err := New(r, l, blockingLimiter{}, DefaultOptions(), slog.Default())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err = c.Collect(ctx, models.Query("milk"))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, int32(0), l.launches.Load())
}

func TestBuild(t *testing.T) {
	browserLauncher := &fakeLauncher{session: &fakeSession{}}
	httpLauncher := &fakeLauncher{session: &fakeSession{}}
	deps := Deps{
		Browser: browserLauncher,
		HTTP:    httpLauncher,
		Options: DefaultOptions(),
		Logger:  slog.Default(),
	}

	t.Run("keeps configured order", func(t *testing.T) {
		collectors, err := Build([]string{"metro", "Walmart", " loblaws "}, deps)
		require.NoError(t, err)
		require.Len(t, collectors, 3)
		assert.Equal(t, "Metro", collectors[0].Name())
		assert.Equal(t, "Walmart", collectors[1].Name())
		assert.Equal(t, "Loblaws", collectors[2].Name())
	})

	t.Run("picks the launcher by engine", func(t *testing.T) {
		collectors, err := Build([]string{"walmart", "metro"}, deps)
		require.NoError(t, err)
		assert.Same(t, browserLauncher, collectors[0].(*StoreCollector).launcher)
		assert.Same(t, httpLauncher, collectors[1].(*StoreCollector).launcher)
	})

	t.Run("rejects unknown stores", func(t *testing.T) {
		_, err := Build([]string{"walmart", "costco"}, deps)
		assert.ErrorIs(t, err, ErrUnknownStore)
	})

	t.Run("rejects duplicates", func(t *testing.T) {
		_, err := Build([]string{"walmart", "walmart"}, deps)
		assert.Error(t, err)
	})

	t.Run("empty list builds nothing", func(t *testing.T) {
		collectors, err := Build(nil, deps)
		require.NoError(t, err)
		assert.Empty(t, collectors)
	})
}

func TestRetailer_BuildURL(t *testing.T) {
	r, err := LookupRetailer("walmart")
	require.NoError(t, err)

	tests := []struct {
		query    string
		expected string
	}{
		{"milk", "https://www.walmart.ca/search?q=milk"},
		{"whole milk", "https://www.walmart.ca/search?q=whole+milk"},
		{"ben & jerry's", "https://www.walmart.ca/search?q=ben+%26+jerry%27s"},
	}

	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			assert.Equal(t, tt.expected, r.BuildURL(tt.query))
		})
	}
}

func TestRetailers_AreComplete(t *testing.T) {
	for _, r := range Retailers() {
		t.Run(r.Key, func(t *testing.T) {
			assert.NotEmpty(t, r.Name)
			assert.NotEmpty(t, r.Icon)
			assert.NotEmpty(t, r.Unit)
			assert.NotEmpty(t, r.Distance)
			assert.Contains(t, r.SearchURL, "%s")
			assert.NotEmpty(t, r.Selectors.Ready)
			assert.NotEmpty(t, r.Selectors.Item)
			assert.NotEmpty(t, r.Selectors.Title)
			assert.NotEmpty(t, r.Selectors.Price)
			assert.Contains(t, []Engine{EngineBrowser, EngineHTTP}, r.Engine)
		})
	}
}
