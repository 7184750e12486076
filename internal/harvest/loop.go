package harvest

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Loop drives one harvest run against a single page. All mutable run state
// (phase, counters, the subscription handle) lives on the struct; a Loop is
// single-use and not safe for concurrent Runs.
type Loop struct {
	page    Page
	opts    Options
	logger  *zap.Logger
	limiter *rate.Limiter

	state   state
	idle    int // consecutive cycles with zero actions
	actions int
	cycles  int
}

// New creates a loop over the given page. Unset options take defaults.
func New(page Page, opts Options, logger *zap.Logger) *Loop {
	opts = opts.withDefaults()
	return &Loop{
		page:   page,
		opts:   opts,
		logger: logger.Named("loop"),
		// The limiter spaces actions; the first action of a run is never
		// delayed, later ones wait out ActionDelay each.
		limiter: rate.NewLimiter(rate.Every(opts.ActionDelay), 1),
	}
}

// Run executes the full scan-act-grow-wait cycle to completion. The idle-cycle
// threshold is the sole termination signal; a canceled context is the only
// error path out. The returned Summary is valid in both cases.
func (l *Loop) Run(ctx context.Context) (Summary, error) {
	start := time.Now()

	l.setState(stateScanning)
	if _, err := l.scanAndAct(ctx); err != nil {
		return l.summarize(start, ReasonCanceled), err
	}

	for l.state != stateDone {
		l.cycles++

		acted, err := l.cycle(ctx)
		if err != nil {
			return l.summarize(start, ReasonCanceled), err
		}

		if acted > 0 {
			l.idle = 0
		} else {
			l.idle++
			l.logger.Debug("unproductive cycle",
				zap.Int("idle_cycles", l.idle),
				zap.Int("threshold", l.opts.MaxIdleCycles))
		}

		if l.idle >= l.opts.MaxIdleCycles {
			l.setState(stateDone)
		}
	}

	sum := l.summarize(start, ReasonExhausted)
	l.logger.Info("harvest complete",
		zap.Int("actions", sum.Actions),
		zap.Int("cycles", sum.Cycles),
		zap.Duration("duration", sum.Duration))
	return sum, nil
}

// cycle performs one grow-wait-scan round and returns the number of actions it
// produced. When the region has no room left to grow it degenerates to a
// single re-scan, so a fully revealed page still burns down the idle counter.
func (l *Loop) cycle(ctx context.Context) (int, error) {
	pos, err := l.page.Position(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
		l.logger.Warn("could not read scroll position", zap.Error(err))
		// Treat an unreadable position as a region that cannot grow.
		pos = Position{}
	}

	if pos.AtEnd() {
		l.setState(stateScanning)
		return l.scanAndAct(ctx)
	}

	l.setState(stateGrowing)
	moved, err := l.attemptGrowth(ctx)
	if err != nil {
		return 0, err
	}
	if !moved {
		l.logger.Debug("scroll position did not advance")
	}

	l.setState(stateWaiting)
	acted, err := l.waitForChange(ctx)
	if err != nil {
		return acted, err
	}

	// The wait phase produced no action; re-scan once before judging the
	// cycle, in case content arrived without a qualifying notification.
	if acted == 0 {
		l.setState(stateScanning)
		return l.scanAndAct(ctx)
	}
	return acted, nil
}

// scanAndAct queries the page for actionable items and acts on each visible
// one, spacing actions with the rate limiter. Per-item failures are logged and
// skipped; only context cancellation propagates. Returns the count acted on.
func (l *Loop) scanAndAct(ctx context.Context) (int, error) {
	items, err := l.page.Scan(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
		l.logger.Warn("scan failed", zap.Error(err))
		return 0, nil
	}

	acted := 0
	for _, item := range items {
		if !item.Visible {
			continue
		}
		if err := l.limiter.Wait(ctx); err != nil {
			return acted, err
		}
		if err := l.page.Activate(ctx, item); err != nil {
			if ctx.Err() != nil {
				return acted, ctx.Err()
			}
			l.logger.Warn("action failed, skipping item",
				zap.Int("ordinal", item.Ordinal),
				zap.Error(err))
			continue
		}
		acted++
		l.actions++
	}

	if acted > 0 {
		l.logger.Info("acted on items", zap.Int("count", acted), zap.Int("total", l.actions))
	}
	return acted, nil
}

// attemptGrowth scrolls toward the end of the region, pausing between tries,
// until the position stabilizes or the attempt budget runs out. Reports
// whether any movement occurred.
func (l *Loop) attemptGrowth(ctx context.Context) (bool, error) {
	last, err := l.page.Position(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		l.logger.Warn("could not read scroll position before growth", zap.Error(err))
		return false, nil
	}

	moved := false
	for attempt := 0; attempt < l.opts.GrowthAttempts; attempt++ {
		if err := l.page.ScrollToEnd(ctx); err != nil {
			if ctx.Err() != nil {
				return moved, ctx.Err()
			}
			l.logger.Warn("scroll failed", zap.Error(err))
			return moved, nil
		}
		if err := sleepCtx(ctx, l.opts.GrowthPause); err != nil {
			return moved, err
		}

		cur, err := l.page.Position(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return moved, ctx.Err()
			}
			l.logger.Warn("could not read scroll position", zap.Error(err))
			return moved, nil
		}
		if cur.Offset <= last.Offset {
			// Stuck: no movement since the previous attempt.
			return moved, nil
		}
		moved = true
		last = cur
		if cur.AtEnd() {
			return moved, nil
		}
	}
	return moved, nil
}

// waitForChange blocks on the structural-change subscription until either a
// qualifying change arrives or the timeout elapses. On a change it waits out
// the settle delay and re-scans, returning the actions that produced. The
// subscription is torn down before returning, whichever side fulfills first.
func (l *Loop) waitForChange(ctx context.Context) (int, error) {
	changes, cancel, err := l.page.Subscribe(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
		l.logger.Warn("change subscription failed, falling back to timeout", zap.Error(err))
		if err := sleepCtx(ctx, l.opts.ChangeTimeout); err != nil {
			return 0, err
		}
		return 0, nil
	}
	defer cancel()

	timer := time.NewTimer(l.opts.ChangeTimeout)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	case <-timer.C:
		l.logger.Debug("no structural change before timeout",
			zap.Duration("timeout", l.opts.ChangeTimeout))
		return 0, nil
	case ch, ok := <-changes:
		if !ok {
			return 0, nil
		}
		l.logger.Debug("structural change observed", zap.Int("added", ch.Added))
		if err := sleepCtx(ctx, l.opts.SettleDelay); err != nil {
			return 0, err
		}
		l.setState(stateScanning)
		return l.scanAndAct(ctx)
	}
}

func (l *Loop) setState(s state) {
	if l.state == s {
		return
	}
	l.logger.Debug("phase change",
		zap.Stringer("from", l.state),
		zap.Stringer("to", s))
	l.state = s
}

func (l *Loop) summarize(start time.Time, reason Reason) Summary {
	return Summary{
		Actions:  l.actions,
		Cycles:   l.cycles,
		Reason:   reason,
		Duration: time.Since(start),
	}
}

// sleepCtx pauses for d, waking early if ctx is canceled.
func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
