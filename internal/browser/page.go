package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/chromedp/cdproto/cdp"
	cdppage "github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/jofern/favsweep/internal/config"
	"github.com/jofern/favsweep/internal/harvest"
)

// Page implements harvest.Page against a live browser tab. One Page per
// session; the harvest loop calls it strictly sequentially, but the binding
// listener delivers mutation events from chromedp's event goroutine, so the
// subscription slot is mutex-guarded.
type Page struct {
	session  *Session
	logger   *zap.Logger
	selector string
	dryRun   bool

	mu        sync.Mutex
	installed bool
	sub       chan harvest.Change
}

var _ harvest.Page = (*Page)(nil)

// NewPage wraps a session with the harvest page primitives.
func NewPage(s *Session, sweep config.SweepConfig, logger *zap.Logger) *Page {
	return &Page{
		session:  s,
		logger:   logger.Named("page"),
		selector: actionableSelector(sweep.ItemSelector, sweep.FilledClass, sweep.DryRun),
		dryRun:   sweep.DryRun,
	}
}

type scanItem struct {
	Ordinal int  `json:"ordinal"`
	Visible bool `json:"visible"`
}

// Scan queries the document for actionable items, stamping each with a stable
// id on first sight.
func (p *Page) Scan(ctx context.Context) ([]harvest.Item, error) {
	var raw []scanItem
	if err := p.session.runActions(ctx, chromedp.Evaluate(scanScript(p.selector), &raw)); err != nil {
		return nil, fmt.Errorf("scan evaluation failed: %w", err)
	}

	items := make([]harvest.Item, 0, len(raw))
	for _, it := range raw {
		items = append(items, harvest.Item{Ordinal: it.Ordinal, Visible: it.Visible})
	}
	return items, nil
}

// Activate clicks the item, or in dry-run mode only marks it as counted. A
// CDP mouse click is preferred; elements that move during render fall back to
// a synthetic click.
func (p *Page) Activate(ctx context.Context, item harvest.Item) error {
	if p.dryRun {
		var marked bool
		if err := p.session.runActions(ctx, chromedp.Evaluate(markSeenScript(item.Ordinal), &marked)); err != nil {
			return fmt.Errorf("could not mark item %d: %w", item.Ordinal, err)
		}
		if !marked {
			return fmt.Errorf("item %d no longer present", item.Ordinal)
		}
		return nil
	}

	sel := itemSelectorFor(item.Ordinal)
	var nodes []*cdp.Node
	if err := p.session.runActions(ctx, chromedp.Nodes(sel, &nodes, chromedp.ByQuery, chromedp.AtLeast(0))); err != nil {
		return fmt.Errorf("could not resolve item %d: %w", item.Ordinal, err)
	}
	if len(nodes) == 0 {
		return fmt.Errorf("item %d no longer present", item.Ordinal)
	}

	if err := p.session.runActions(ctx, chromedp.MouseClickNode(nodes[0])); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		p.logger.Debug("mouse click failed, trying synthetic click",
			zap.Int("ordinal", item.Ordinal), zap.Error(err))

		var clicked bool
		if jsErr := p.session.runActions(ctx, chromedp.Evaluate(clickScript(item.Ordinal), &clicked)); jsErr != nil || !clicked {
			return fmt.Errorf("click failed for item %d: %w", item.Ordinal, err)
		}
	}
	return nil
}

type scrollPosition struct {
	Offset float64 `json:"offset"`
	Limit  float64 `json:"limit"`
}

// Position reports the current scroll offset and document extent.
func (p *Page) Position(ctx context.Context) (harvest.Position, error) {
	var pos scrollPosition
	if err := p.session.runActions(ctx, chromedp.Evaluate(positionScript, &pos)); err != nil {
		return harvest.Position{}, fmt.Errorf("could not read scroll position: %w", err)
	}
	return harvest.Position{Offset: pos.Offset, Limit: pos.Limit}, nil
}

// ScrollToEnd issues one growth attempt toward the bottom of the document.
func (p *Page) ScrollToEnd(ctx context.Context) error {
	if err := p.session.runActions(ctx, chromedp.Evaluate(scrollToEndScript, nil)); err != nil {
		return fmt.Errorf("scroll failed: %w", err)
	}
	return nil
}

// Subscribe opens the structural-change feed. The observer and its CDP
// binding are installed once per tab; each Subscribe call claims the single
// subscription slot and the returned cancel releases it. Events arriving with
// no claimed slot are dropped.
func (p *Page) Subscribe(ctx context.Context) (<-chan harvest.Change, func(), error) {
	if err := p.install(ctx); err != nil {
		return nil, nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.sub != nil {
		return nil, nil, fmt.Errorf("a change subscription is already active")
	}

	ch := make(chan harvest.Change, 1)
	p.sub = ch
	cancel := func() {
		p.mu.Lock()
		if p.sub == ch {
			p.sub = nil
		}
		p.mu.Unlock()
	}
	return ch, cancel, nil
}

// install wires the mutation observer: a CDP binding for the notifications, a
// persistent script so new documents re-install the observer, an immediate
// evaluation for the already-loaded document, and the target listener that
// forwards binding calls into the subscription slot.
func (p *Page) install(ctx context.Context) error {
	p.mu.Lock()
	if p.installed {
		p.mu.Unlock()
		return nil
	}
	p.mu.Unlock()

	err := p.session.runActions(ctx,
		runtime.AddBinding(changeBinding),
		chromedp.ActionFunc(func(c context.Context) error {
			_, err := cdppage.AddScriptToEvaluateOnNewDocument(observerScript()).Do(c)
			return err
		}),
		chromedp.Evaluate(observerScript(), nil),
	)
	if err != nil {
		return fmt.Errorf("failed to install change observer: %w", err)
	}

	chromedp.ListenTarget(p.session.Context(), func(ev interface{}) {
		bc, ok := ev.(*runtime.EventBindingCalled)
		if !ok || bc.Name != changeBinding {
			return
		}

		var payload struct {
			Added int `json:"added"`
		}
		if err := json.Unmarshal([]byte(bc.Payload), &payload); err != nil {
			p.logger.Warn("could not decode change notification",
				zap.Error(err), zap.String("payload", bc.Payload))
			return
		}

		p.mu.Lock()
		sub := p.sub
		p.mu.Unlock()
		if sub == nil {
			return
		}
		select {
		case sub <- harvest.Change{Added: payload.Added}:
		default:
			// The slot already holds an undelivered change.
		}
	})

	p.mu.Lock()
	p.installed = true
	p.mu.Unlock()
	return nil
}
