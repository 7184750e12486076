package harvest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fastOptions keeps the loop's pauses short enough for tests.
func fastOptions() Options {
	return Options{
		ActionDelay:    time.Millisecond,
		GrowthAttempts: 4,
		GrowthPause:    time.Millisecond,
		ChangeTimeout:  20 * time.Millisecond,
		SettleDelay:    time.Millisecond,
		MaxIdleCycles:  3,
	}
}

// scriptedPage simulates an infinite-scroll page. It starts with one rendered
// batch of items; each time the loop scrolls to the end and subscribes, the
// next pending batch is revealed and announced as a structural change.
type scriptedPage struct {
	mu sync.Mutex

	revealed  []int
	pending   [][]int
	filled    map[int]bool
	invisible map[int]bool

	offset float64
	limit  float64

	frozen       bool // ScrollToEnd has no effect
	failActivate bool

	scans       int
	activations int
	subscribes  int
	cancels     int
}

func newScriptedPage(first []int, pending ...[]int) *scriptedPage {
	p := &scriptedPage{
		revealed:  append([]int(nil), first...),
		pending:   pending,
		filled:    make(map[int]bool),
		invisible: make(map[int]bool),
	}
	if len(pending) > 0 {
		p.offset = 100
		p.limit = 1000
	}
	return p
}

func (p *scriptedPage) Scan(ctx context.Context) ([]Item, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.scans++
	var items []Item
	for _, ord := range p.revealed {
		if p.filled[ord] {
			continue
		}
		items = append(items, Item{Ordinal: ord, Visible: !p.invisible[ord]})
	}
	return items, nil
}

func (p *scriptedPage) Activate(ctx context.Context, item Item) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.activations++
	if p.failActivate {
		return errors.New("element not clickable")
	}
	p.filled[item.Ordinal] = true
	return nil
}

func (p *scriptedPage) Position(ctx context.Context) (Position, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Position{Offset: p.offset, Limit: p.limit}, nil
}

func (p *scriptedPage) ScrollToEnd(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.frozen {
		p.offset = p.limit
	}
	return nil
}

func (p *scriptedPage) Subscribe(ctx context.Context) (<-chan Change, func(), error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.subscribes++

	ch := make(chan Change, 1)
	if len(p.pending) > 0 && p.offset >= p.limit {
		batch := p.pending[0]
		p.pending = p.pending[1:]
		p.revealed = append(p.revealed, batch...)
		p.limit += 1000
		ch <- Change{Added: len(batch)}
	}
	cancel := func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		p.cancels++
	}
	return ch, cancel, nil
}

func TestRunEmptyPageTerminatesAtThreshold(t *testing.T) {
	page := newScriptedPage(nil)
	loop := New(page, fastOptions(), zap.NewNop())

	sum, err := loop.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 0, sum.Actions)
	assert.Equal(t, ReasonExhausted, sum.Reason)
	// A page that never yields burns the idle budget exactly once.
	assert.Equal(t, fastOptions().MaxIdleCycles, sum.Cycles)
	// Every cycle re-scanned, plus the initial scan.
	assert.Equal(t, 1+sum.Cycles, page.scans)
}

func TestRunTerminatesWhenScrollNeverAdvances(t *testing.T) {
	// Room to scroll but a page that ignores the scroll and never notifies:
	// every cycle is unproductive and the run ends at the threshold.
	page := newScriptedPage(nil, []int{1})
	page.pending = nil
	page.frozen = true

	opts := fastOptions()
	loop := New(page, opts, zap.NewNop())

	sum, err := loop.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 0, sum.Actions)
	assert.Equal(t, ReasonExhausted, sum.Reason)
	assert.Equal(t, opts.MaxIdleCycles, sum.Cycles)
	assert.Equal(t, page.subscribes, page.cancels)
}

func TestRunActsOnEveryVisibleItem(t *testing.T) {
	page := newScriptedPage([]int{1, 2, 3, 4})
	page.invisible[3] = true
	loop := New(page, fastOptions(), zap.NewNop())

	sum, err := loop.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 3, sum.Actions)
	assert.Equal(t, ReasonExhausted, sum.Reason)
	assert.True(t, page.filled[1])
	assert.True(t, page.filled[2])
	assert.False(t, page.filled[3], "hidden items must not be activated")
	assert.True(t, page.filled[4])
}

func TestRunHarvestsRevealedBatches(t *testing.T) {
	page := newScriptedPage([]int{1, 2, 3}, []int{4, 5}, []int{6})
	opts := fastOptions()
	loop := New(page, opts, zap.NewNop())

	sum, err := loop.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 6, sum.Actions, "all items across every batch should be acted on")
	assert.Equal(t, ReasonExhausted, sum.Reason)
	for ord := 1; ord <= 6; ord++ {
		assert.True(t, page.filled[ord], "ordinal %d", ord)
	}
	// Two productive cycles reveal the pending batches, then the idle budget.
	assert.Equal(t, 2+opts.MaxIdleCycles, sum.Cycles)
	assert.Equal(t, page.subscribes, page.cancels, "every subscription must be torn down")
}

func TestRunActionFailuresAreSkipped(t *testing.T) {
	page := newScriptedPage([]int{1, 2})
	page.failActivate = true
	loop := New(page, fastOptions(), zap.NewNop())

	sum, err := loop.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 0, sum.Actions)
	assert.Equal(t, ReasonExhausted, sum.Reason)
	assert.Greater(t, page.activations, 0, "the loop should have tried the items")
}

func TestRunStopsOnContextCancellation(t *testing.T) {
	page := newScriptedPage(nil, []int{1}) // room to grow, so the loop waits
	opts := fastOptions()
	opts.ChangeTimeout = time.Second
	// Suppress the batch reveal so the wait phase actually blocks.
	page.pending = nil

	loop := New(page, opts, zap.NewNop())

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	sum, err := loop.Run(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, ReasonCanceled, sum.Reason)
	assert.Equal(t, page.subscribes, page.cancels, "cancellation must still tear down the subscription")
}

func TestRunIdleCounterResetsOnProgress(t *testing.T) {
	// One empty batch between two productive ones: the reveal of an empty
	// batch still counts as progress only if it yields actions, so the idle
	// counter must reset on batch two and run the full budget afterwards.
	page := newScriptedPage([]int{1}, []int{2})
	opts := fastOptions()
	loop := New(page, opts, zap.NewNop())

	sum, err := loop.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, sum.Actions)
	assert.Equal(t, 1+opts.MaxIdleCycles, sum.Cycles)
}
