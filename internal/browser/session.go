package browser

import (
	"context"
	"errors"
	"sync"
	"time"
)

var (
	ErrLaunch      = errors.New("failed to acquire scrape session")
	ErrNavigation  = errors.New("navigation failed")
	ErrWaitTimeout = errors.New("results never rendered")
)

// RenderRequest is one navigation within a session.
type RenderRequest struct {
	URL string
	// ReadySelector must match before the page counts as rendered.
	ReadySelector string
	// Wait bounds how long to wait for ReadySelector.
	Wait time.Duration
}

// Session owns one external scraping resource for a single collector
// invocation. Close must be called exactly once by the owner; further
// calls are no-ops.
type Session interface {
	Render(ctx context.Context, req RenderRequest) (string, error)
	Close() error
}

// Launcher acquires a fresh Session. Sessions are never shared or pooled.
type Launcher interface {
	Launch(ctx context.Context) (Session, error)
}

// releaser runs a release function at most once, either when the owner
// closes the session or when the session context is cancelled first.
type releaser struct {
	once    sync.Once
	release func() error
	err     error
	stop    func() bool
}

func newReleaser(ctx context.Context, release func() error) *releaser {
	r := &releaser{release: release}
	r.stop = context.AfterFunc(ctx, func() {
		_ = r.releaseOnce()
	})
	return r
}

// Close must be called by the goroutine that created the releaser.
func (r *releaser) Close() error {
	r.stop()
	return r.releaseOnce()
}

func (r *releaser) releaseOnce() error {
	r.once.Do(func() {
		r.err = r.release()
	})
	return r.err
}
