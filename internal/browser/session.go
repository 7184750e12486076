// Package browser owns the Chrome process and tab lifecycle and provides the
// CDP-backed implementation of the harvest page primitives.
package browser

import (
	"context"
	"fmt"
	"sync"

	"github.com/chromedp/chromedp"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jofern/favsweep/internal/config"
)

// Session represents one browser tab.
type Session struct {
	id     string
	ctx    context.Context
	cancel context.CancelFunc
	logger *zap.Logger
	cfg    config.BrowserConfig

	onClose func()

	mu       sync.Mutex
	isClosed bool
}

func newSession(ctx context.Context, cancel context.CancelFunc, cfg config.BrowserConfig, logger *zap.Logger) *Session {
	id := uuid.New().String()
	return &Session{
		id:     id,
		ctx:    ctx,
		cancel: cancel,
		logger: logger.With(zap.String("session_id", id)),
		cfg:    cfg,
	}
}

// ID returns the unique identifier for the session.
func (s *Session) ID() string {
	return s.id
}

// Context returns the session's lifecycle (chromedp) context.
func (s *Session) Context() context.Context {
	return s.ctx
}

// Navigate loads a URL in the tab, waits for the document body, then waits
// out the configured post-load pause so late-rendering content can appear.
func (s *Session) Navigate(ctx context.Context, targetURL string) error {
	s.logger.Info("Navigating", zap.String("url", targetURL))

	navCtx, cancel := context.WithTimeout(ctx, s.cfg.NavTimeout)
	defer cancel()

	err := s.runActions(navCtx,
		chromedp.Navigate(targetURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
	)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("navigation to '%s' failed: %w", targetURL, err)
	}

	if s.cfg.PostLoadWait > 0 {
		if err := s.runActions(ctx, chromedp.Sleep(s.cfg.PostLoadWait)); err != nil {
			return err
		}
	}
	return nil
}

// Close terminates the tab. Safe to call more than once.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.isClosed {
		s.mu.Unlock()
		return nil
	}
	s.isClosed = true
	s.mu.Unlock()

	s.logger.Debug("Closing browser session.")
	s.cancel()

	if s.onClose != nil {
		s.onClose()
	}
	return nil
}

// runActions executes chromedp actions, ensuring they respect both the
// session lifetime (s.ctx) and the incoming call context (ctx).
func (s *Session) runActions(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := CombineContext(s.ctx, ctx)
	defer cancel()

	return chromedp.Run(runCtx, actions...)
}

// CombineContext creates a context that is canceled when either parent is.
// chromedp requires actions to run on a context derived from the session's,
// so the call deadline is folded in rather than passed directly.
func CombineContext(parentCtx, secondaryCtx context.Context) (context.Context, context.CancelFunc) {
	combinedCtx, cancel := context.WithCancel(parentCtx)

	go func() {
		select {
		case <-secondaryCtx.Done():
			cancel()
		case <-combinedCtx.Done():
		}
	}()

	return combinedCtx, cancel
}
