// Command holocore-memoryd is a thin process entrypoint over the
// coordinator: resolve config, open the store, run the background
// sweeper, and sit until asked to stop. Not a mandated surface (§6: "No
// CLI surface is mandated; the CLI is an external collaborator") — an
// in-process caller can construct a coordinator.Coordinator directly.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"holocore.dev/memory/config"
	"holocore.dev/memory/internal/coordinator"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	defaults := config.FromEnv()

	cfg := defaults
	fs := flag.NewFlagSet("holocore-memoryd", flag.ContinueOnError)
	fs.SetOutput(stderr)

	fs.StringVar(&cfg.StoreRoot, "store-root", defaults.StoreRoot, "persistence root directory")
	fs.StringVar(&cfg.LogLevel, "log-level", defaults.LogLevel, "log level: debug|info|warn|error")
	fs.IntVar(&cfg.SummaryDim, "summary-dim", defaults.SummaryDim, "summary vector width")
	fs.StringVar(&cfg.SweepInterval, "sweep-interval", defaults.SweepInterval, "background maintenance sweep interval")
	dryRun := fs.Bool("dry-run", false, "print effective config and exit")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	if err := config.Validate(cfg); err != nil {
		_, _ = fmt.Fprintf(stderr, "invalid config: %v\n", err)
		return 2
	}

	if err := printConfig(stdout, cfg); err != nil {
		_, _ = fmt.Fprintf(stderr, "config encode failed: %v\n", err)
		return 1
	}
	if *dryRun {
		return 0
	}

	logger := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: logLevel(cfg.LogLevel)}))

	c, err := coordinator.New(cfg, logger)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "coordinator init failed: %v\n", err)
		return 2
	}
	defer c.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	c.StartSweeper(ctx)

	_, _ = fmt.Fprintln(stdout, "holocore-memoryd running")
	<-ctx.Done()
	c.StopSweeper()
	_, _ = fmt.Fprintln(stdout, "holocore-memoryd stopped")
	return 0
}

func printConfig(w io.Writer, cfg config.Config) error {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	return enc.Encode(cfg)
}

func logLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
