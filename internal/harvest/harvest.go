// Package harvest implements the scan-act-grow-wait cycle that sweeps a
// dynamically growing collection page for actionable items. The package is
// browser-agnostic: all page side effects go through the Page interface, and
// the loop itself only sequences phases and decides when to stop.
package harvest

import (
	"context"
	"time"
)

// Item is a handle to one actionable element rendered on the page: an element
// that is still in its "unfilled" state and therefore eligible for the action.
// Ordinal is the identity the page assigned to the element at scan time and
// stays valid across later mutations.
type Item struct {
	Ordinal int
	Visible bool
}

// Position describes the scroll state of the growable region. Offset is the
// bottom edge of the viewport within the region, Limit the region's total
// scrollable extent.
type Position struct {
	Offset float64
	Limit  float64
}

// scrollEndEpsilon absorbs fractional viewport heights reported by browsers.
const scrollEndEpsilon = 4.0

// AtEnd reports whether the region has no room left to scroll.
func (p Position) AtEnd() bool {
	return p.Offset >= p.Limit-scrollEndEpsilon
}

// Change is one structural-change notification from the watched region.
// Added counts the qualifying element nodes the mutation introduced.
type Change struct {
	Added int
}

// Page exposes the primitives the loop needs from a live document: element
// query, action, scroll, and a structural-change subscription. Implementations
// must support the strictly sequential call pattern of the loop; they do not
// need to be safe for concurrent use.
type Page interface {
	// Scan returns the currently rendered actionable items in document order.
	Scan(ctx context.Context) ([]Item, error)

	// Activate performs the action (click) on a single item. A failure is a
	// per-item condition; the loop logs it and moves on.
	Activate(ctx context.Context, item Item) error

	// Position reports the current scroll offset and bound of the region.
	Position(ctx context.Context) (Position, error)

	// ScrollToEnd issues one growth attempt toward the end of the region.
	ScrollToEnd(ctx context.Context) error

	// Subscribe opens the structural-change feed. The returned cancel func
	// tears the subscription down; the loop holds at most one subscription
	// at a time and always cancels it before the next cycle.
	Subscribe(ctx context.Context) (<-chan Change, func(), error)
}

// Options tunes the loop. The zero value is usable; unset fields fall back to
// the defaults below.
type Options struct {
	// ActionDelay spaces consecutive actions so the host page is not
	// overwhelmed.
	ActionDelay time.Duration

	// GrowthAttempts bounds the scroll tries within one growth phase;
	// GrowthPause separates them.
	GrowthAttempts int
	GrowthPause    time.Duration

	// ChangeTimeout caps the wait for a structural-change notification.
	// SettleDelay is the pause between a notification and the re-scan, giving
	// the page time to finish rendering the new content.
	ChangeTimeout time.Duration
	SettleDelay   time.Duration

	// MaxIdleCycles is the number of consecutive unproductive cycles after
	// which the run terminates. This is a tunable policy, not a proven
	// exhaustion detector: on very slow hosts a larger value trades run time
	// for fewer premature stops.
	MaxIdleCycles int
}

const (
	defaultActionDelay    = 350 * time.Millisecond
	defaultGrowthAttempts = 4
	defaultGrowthPause    = 600 * time.Millisecond
	defaultChangeTimeout  = 8 * time.Second
	defaultSettleDelay    = 750 * time.Millisecond
	defaultMaxIdleCycles  = 3
)

func (o Options) withDefaults() Options {
	if o.ActionDelay <= 0 {
		o.ActionDelay = defaultActionDelay
	}
	if o.GrowthAttempts <= 0 {
		o.GrowthAttempts = defaultGrowthAttempts
	}
	if o.GrowthPause <= 0 {
		o.GrowthPause = defaultGrowthPause
	}
	if o.ChangeTimeout <= 0 {
		o.ChangeTimeout = defaultChangeTimeout
	}
	if o.SettleDelay <= 0 {
		o.SettleDelay = defaultSettleDelay
	}
	if o.MaxIdleCycles <= 0 {
		o.MaxIdleCycles = defaultMaxIdleCycles
	}
	return o
}

// Reason records why a run ended.
type Reason string

const (
	// ReasonExhausted means the idle-cycle threshold was reached: the page
	// stopped producing actionable items.
	ReasonExhausted Reason = "exhausted"
	// ReasonCanceled means the run's context was canceled.
	ReasonCanceled Reason = "canceled"
)

// Summary is the final accounting of one run.
type Summary struct {
	Actions  int           `json:"actions"`
	Cycles   int           `json:"cycles"`
	Reason   Reason        `json:"reason"`
	Duration time.Duration `json:"duration"`
}

// state tracks the loop's phase.
type state int

const (
	stateInit state = iota
	stateScanning
	stateGrowing
	stateWaiting
	stateDone
)

func (s state) String() string {
	switch s {
	case stateInit:
		return "init"
	case stateScanning:
		return "scanning"
	case stateGrowing:
		return "growing"
	case stateWaiting:
		return "waiting"
	case stateDone:
		return "done"
	default:
		return "unknown"
	}
}
