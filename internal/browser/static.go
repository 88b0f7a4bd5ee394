package browser

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
)

// maxBodySize caps how much of a search page is read.
const maxBodySize = 8 << 20

// StaticLauncher hands out sessions backed by a plain HTTP client, for
// retailers whose results are rendered server-side.
type StaticLauncher struct {
	opts    *Options
	timeout time.Duration
}

var _ Launcher = (*StaticLauncher)(nil)

func NewStaticLauncher(opts *Options) *StaticLauncher {
	if opts == nil {
		opts = DefaultOptions()
	}
	return &StaticLauncher{
		opts:    opts,
		timeout: opts.Timeout,
	}
}

func (l *StaticLauncher) Launch(ctx context.Context) (Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLaunch, err)
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	s := &staticSession{
		client: &http.Client{
			Transport: transport,
			Timeout:   l.timeout,
		},
		transport: transport,
		opts:      l.opts,
	}
	s.releaser = newReleaser(ctx, s.shutdown)
	return s, nil
}

type staticSession struct {
	*releaser
	client    *http.Client
	transport *http.Transport
	opts      *Options
}

func (s *staticSession) Render(ctx context.Context, req RenderRequest) (string, error) {
	if req.Wait > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Wait)
		defer cancel()
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, req.URL, nil)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrNavigation, err)
	}
	httpReq.Header.Set("User-Agent", s.opts.UserAgent)
	if s.opts.AcceptLanguage != "" {
		httpReq.Header.Set("Accept-Language", s.opts.AcceptLanguage)
	}
	for k, v := range s.opts.ExtraHeaders {
		httpReq.Header.Set(k, v)
	}

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %w", ErrNavigation, req.URL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: HTTP %d for %s", ErrNavigation, resp.StatusCode, req.URL)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return "", fmt.Errorf("%w: reading body: %w", ErrNavigation, err)
	}
	html := string(body)

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrNavigation, err)
	}
	if doc.Find(req.ReadySelector).Length() == 0 {
		return "", fmt.Errorf("%w: %q not found", ErrWaitTimeout, req.ReadySelector)
	}

	return html, nil
}

func (s *staticSession) shutdown() error {
	s.transport.CloseIdleConnections()
	return nil
}
