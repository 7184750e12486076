package cmd

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/jofern/favsweep/internal/browser"
	"github.com/jofern/favsweep/internal/config"
	"github.com/jofern/favsweep/internal/harvest"
	"github.com/jofern/favsweep/internal/observability"
	"github.com/jofern/favsweep/internal/report"
)

func newSweepCmd() *cobra.Command {
	sweepCmd := &cobra.Command{
		Use:   "sweep [targets...]",
		Short: "Sweep one or more collection pages, favoriting every item they reveal",
		Long: `Sweep opens each target page in a browser tab and repeatedly scans for
unfilled favorite icons, clicks them, scrolls to trigger further loading, and
waits for the page to render new content. A run ends once the page has gone a
configurable number of cycles without yielding anything new.`,
		Args: cobra.MinimumNArgs(1),
		PreRunE: func(cmd *cobra.Command, args []string) error {
			flags := cmd.Flags()
			bindings := map[string]string{
				"sweep.item_selector":   "selector",
				"sweep.filled_class":    "filled-class",
				"sweep.action_delay":    "delay",
				"sweep.change_timeout":  "change-timeout",
				"sweep.max_idle_cycles": "max-idle-cycles",
				"sweep.concurrency":     "concurrency",
				"sweep.dry_run":         "dry-run",
				"sweep.output":          "output",
				"browser.user_agent":    "user-agent",
			}
			for key, flag := range bindings {
				if err := viper.BindPFlag(key, flags.Lookup(flag)); err != nil {
					return fmt.Errorf("failed to bind flag %q: %w", flag, err)
				}
			}
			return nil
		},
		RunE: runSweep,
	}

	flags := sweepCmd.Flags()
	flags.String("selector", ".favorite-icon", "CSS selector matching the actionable elements")
	flags.String("filled-class", "filled", "class the page adds to an element once it is favorited")
	flags.Duration("delay", 350*time.Millisecond, "minimum delay between consecutive clicks")
	flags.Duration("change-timeout", 8*time.Second, "how long to wait for the page to render new content")
	flags.Int("max-idle-cycles", 3, "consecutive unproductive cycles before a run ends")
	flags.Int("concurrency", 1, "how many targets to sweep in parallel")
	flags.Bool("dry-run", false, "mark items instead of clicking them")
	flags.StringP("output", "o", "", "write a JSON run report to this path")
	flags.String("user-agent", "", "override the browser user agent")
	flags.Bool("headed", false, "run the browser with a visible window")

	return sweepCmd
}

func runSweep(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	logger := observability.GetLogger()

	cfg, err := config.NewConfigFromViper(viper.GetViper())
	if err != nil {
		return err
	}
	if headed, _ := cmd.Flags().GetBool("headed"); headed {
		cfg.Browser.Headless = false
	}

	targets := make([]string, 0, len(args))
	for _, arg := range args {
		targets = append(targets, normalizeTarget(arg))
	}

	sweepID := uuid.New().String()
	logger.Info("Starting sweep",
		zap.String("sweep_id", sweepID),
		zap.Strings("targets", targets),
		zap.Bool("dry_run", cfg.Sweep.DryRun),
		zap.Int("concurrency", cfg.Sweep.Concurrency))

	manager := browser.NewManager(cfg.Browser, logger)
	defer func() {
		// Detached from the run context so shutdown still happens after a
		// signal; bounded so a wedged browser cannot hang the process.
		closeCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if cerr := manager.Close(closeCtx); cerr != nil {
			logger.Warn("Browser shutdown incomplete", zap.Error(cerr))
		}
	}()

	rep := &report.Report{
		SweepID:   sweepID,
		StartedAt: time.Now().UTC(),
		DryRun:    cfg.Sweep.DryRun,
		Targets:   make([]report.Target, len(targets)),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.Sweep.Concurrency)
	for i, target := range targets {
		g.Go(func() error {
			summary, serr := sweepTarget(gctx, manager, cfg, target)
			rep.Targets[i] = report.Target{URL: target, Summary: summary}
			if serr != nil {
				rep.Targets[i].Error = serr.Error()
				if errors.Is(serr, context.Canceled) {
					return serr
				}
				// A bad target is not fatal to the others.
				logger.Error("Target sweep failed", zap.String("url", target), zap.Error(serr))
			}
			return nil
		})
	}
	waitErr := g.Wait()
	rep.Finalize()

	if cfg.Sweep.Output != "" {
		if werr := report.Write(cfg.Sweep.Output, rep); werr != nil {
			logger.Error("Failed to write run report", zap.String("path", cfg.Sweep.Output), zap.Error(werr))
			if waitErr == nil {
				waitErr = werr
			}
		} else {
			logger.Info("Run report written", zap.String("path", cfg.Sweep.Output))
		}
	}

	logger.Info("Sweep finished",
		zap.String("sweep_id", sweepID),
		zap.Int("targets", len(targets)),
		zap.Int("total_actions", rep.TotalActions))
	fmt.Printf("\nSweep complete: %d action(s) across %d target(s).\n", rep.TotalActions, len(targets))

	return waitErr
}

// sweepTarget opens one tab, navigates it to the target, and runs the harvest
// loop to completion.
func sweepTarget(ctx context.Context, manager *browser.Manager, cfg *config.Config, target string) (harvest.Summary, error) {
	logger := observability.GetLogger().With(zap.String("url", target))

	session, err := manager.NewSession(ctx)
	if err != nil {
		return harvest.Summary{}, fmt.Errorf("failed to open session: %w", err)
	}
	defer session.Close()

	if err := session.Navigate(ctx, target); err != nil {
		return harvest.Summary{}, fmt.Errorf("failed to navigate: %w", err)
	}

	page := browser.NewPage(session, cfg.Sweep, logger)
	loop := harvest.New(page, harvest.Options{
		ActionDelay:    cfg.Sweep.ActionDelay,
		GrowthAttempts: cfg.Sweep.GrowthAttempts,
		GrowthPause:    cfg.Sweep.GrowthPause,
		ChangeTimeout:  cfg.Sweep.ChangeTimeout,
		SettleDelay:    cfg.Sweep.SettleDelay,
		MaxIdleCycles:  cfg.Sweep.MaxIdleCycles,
	}, logger)

	return loop.Run(ctx)
}

// normalizeTarget defaults bare hostnames to https.
func normalizeTarget(target string) string {
	if strings.Contains(target, "://") {
		return target
	}
	return "https://" + target
}
