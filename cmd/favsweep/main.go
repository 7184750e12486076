package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"

	"github.com/jofern/favsweep/cmd"
	"github.com/jofern/favsweep/internal/observability"
)

func main() {
	defer handlePanic()

	// First Ctrl-C cancels the context for a graceful wind-down; a second
	// one kills the process via the restored default handler.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err := cmd.Execute(ctx)
	observability.Sync()

	if err != nil {
		if errors.Is(err, context.Canceled) {
			os.Exit(130)
		}
		os.Exit(1)
	}
}

func handlePanic() {
	if r := recover(); r != nil {
		fmt.Fprintf(os.Stderr, "panic: %v\n%s\n", r, debug.Stack())
		observability.Sync()
		os.Exit(2)
	}
}
