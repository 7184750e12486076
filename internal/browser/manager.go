package browser

import (
	"context"
	"fmt"
	"sync"

	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/jofern/favsweep/internal/config"
)

// Manager owns the Chrome exec allocator and tracks the sessions created from
// it. Allocation is deferred until the first session is requested.
type Manager struct {
	logger *zap.Logger
	cfg    config.BrowserConfig

	initOnce    sync.Once
	allocCtx    context.Context
	allocCancel context.CancelFunc

	mu       sync.Mutex
	sessions map[string]*Session
	closed   bool
	wg       sync.WaitGroup
}

// NewManager creates a browser manager. The Chrome process is not started
// until NewSession is first called.
func NewManager(cfg config.BrowserConfig, logger *zap.Logger) *Manager {
	return &Manager{
		logger:   logger.Named("browser_manager"),
		cfg:      cfg,
		sessions: make(map[string]*Session),
	}
}

// initialize builds the exec allocator with the configured options.
func (m *Manager) initialize() {
	m.initOnce.Do(func() {
		opts := append(
			chromedp.DefaultExecAllocatorOptions[:],
			chromedp.WindowSize(m.cfg.WindowWidth, m.cfg.WindowHeight),
		)
		if !m.cfg.Headless {
			opts = append(opts, chromedp.Flag("headless", false))
		}
		if m.cfg.UserAgent != "" {
			opts = append(opts, chromedp.UserAgent(m.cfg.UserAgent))
		}

		m.allocCtx, m.allocCancel = chromedp.NewExecAllocator(context.Background(), opts...)
		m.logger.Info("Browser allocator initialized.",
			zap.Bool("headless", m.cfg.Headless),
			zap.Int("width", m.cfg.WindowWidth),
			zap.Int("height", m.cfg.WindowHeight))
	})
}

// NewSession opens a new tab and registers it with the manager. The target is
// created eagerly so launch failures surface here rather than mid-harvest.
func (m *Manager) NewSession(ctx context.Context) (*Session, error) {
	m.initialize()

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, fmt.Errorf("browser manager is shutting down")
	}
	m.mu.Unlock()

	tabCtx, tabCancel := chromedp.NewContext(m.allocCtx)
	s := newSession(tabCtx, tabCancel, m.cfg, m.logger)

	startCtx, startCancel := CombineContext(tabCtx, ctx)
	err := chromedp.Run(startCtx)
	startCancel()
	if err != nil {
		tabCancel()
		return nil, fmt.Errorf("failed to start browser target: %w", err)
	}

	m.mu.Lock()
	m.sessions[s.ID()] = s
	m.mu.Unlock()
	m.wg.Add(1)

	s.onClose = func() {
		m.mu.Lock()
		delete(m.sessions, s.ID())
		m.mu.Unlock()
		m.wg.Done()
	}

	m.logger.Debug("Session created.", zap.String("session_id", s.ID()))
	return s, nil
}

// Close shuts down all open sessions and tears down the allocator, waiting
// for session teardown until ctx expires.
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	open := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		open = append(open, s)
	}
	m.mu.Unlock()

	for _, s := range open {
		_ = s.Close()
	}

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		m.logger.Warn("Gave up waiting for sessions to close.", zap.Error(ctx.Err()))
	}

	if m.allocCancel != nil {
		m.allocCancel()
	}
	m.logger.Debug("Browser manager closed.")
	return nil
}
