package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/mailkit/mdedup/cmd"
	"github.com/mailkit/mdedup/config"
	"github.com/mailkit/mdedup/hash"
	"github.com/mailkit/mdedup/imap"
	"github.com/mailkit/mdedup/progress"
	"github.com/mailkit/mdedup/runner"
	"github.com/mailkit/mdedup/source"
	"github.com/mailkit/mdedup/stats"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "mdedup MAIL_SOURCE...",
		Short: "Deduplicate mail boxes content",
		Long: `Finds duplicate messages across mbox files, maildirs and imap:// folders,
confirms them within size and content-diff thresholds, and applies a
deterministic selection strategy to decide which copy survives.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(cmd, args)
			if err != nil {
				return err
			}

			logger, cleanup, err := setupLogger(cfg)
			if err != nil {
				return err
			}
			defer func() {
				_ = cleanup()
			}()

			slog.SetDefault(logger)
			logger.Info("starting mdedup",
				"sources", cfg.Sources,
				"strategy", cfg.Strategy,
				"action", cfg.Action,
				"dryRun", cfg.DryRun,
			)

			return run(cfg, logger)
		},
	}
	rootCmd.AddCommand(cmd.BoxStatsCmd)

	if err := config.RegisterFlags(rootCmd); err != nil {
		fmt.Fprintf(os.Stderr, "failed to register CLI flags: %v\n", err)
		os.Exit(1)
	}

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	started := time.Now()

	r, err := runner.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("runner.New: %w", err)
	}

	printer := progress.New(cfg.LogLevel)
	printer.Phase("Load mail sources")
	if err := addSources(cfg, r, logger); err != nil {
		return err
	}

	r.SubscribeStats("progress", printer.Subscriber)
	reporter := stats.NewReporter(r, logger)

	printer.Phase("Deduplicate")
	result, runErr := r.Run(ctx)

	if cfg.HashOnly {
		printFingerprints(cfg, result)
	}

	printer.Summary(reporter.Summary(), time.Since(started))
	return runErr
}

func addSources(cfg config.Config, r *runner.Runner, logger *slog.Logger) error {
	opts := source.Options{Format: cfg.InputFormat, TimeSource: cfg.TimeSource}
	for _, path := range cfg.Sources {
		if imap.IsURL(path) {
			fetcher, err := imap.New(path, imap.Options{
				Password:   cfg.IMAPPass,
				TimeSource: cfg.TimeSource,
			}, logger)
			if err != nil {
				return err
			}
			r.AddSource(fetcher)
			continue
		}

		src, err := source.Open(path, opts, logger)
		if err != nil {
			return err
		}
		r.AddSource(src)
	}
	return nil
}

// printFingerprints renders the hash-only output: the canonical headers of
// every message followed by its fingerprint.
func printFingerprints(cfg config.Config, result *runner.Result) {
	for _, f := range result.Fingerprints {
		c := hash.Canonicalize(f.Message, cfg.HashHeaders)
		fmt.Print(c.Pretty())
		fmt.Printf("Hash: %s\n\n", f.Fingerprint)
	}
}

func setupLogger(cfg config.Config) (*slog.Logger, func() error, error) {
	level := new(slog.LevelVar)
	level.Set(slog.LevelInfo)

	switch cfg.LogLevel {
	case "debug":
		level.Set(slog.LevelDebug)
	case "info":
		level.Set(slog.LevelInfo)
	case "warn":
		level.Set(slog.LevelWarn)
	case "error":
		level.Set(slog.LevelError)
	}

	opts := &slog.HandlerOptions{Level: level}
	cleanup := func() error { return nil }

	if cfg.LogDir != "" {
		if err := os.MkdirAll(cfg.LogDir, 0o755); err != nil {
			return nil, cleanup, err
		}

		logFilePath := filepath.Join(cfg.LogDir, fmt.Sprintf("mdedup-%s.log", time.Now().Format("20060102T150405")))
		file, err := os.OpenFile(logFilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, cleanup, err
		}

		handler := slog.NewTextHandler(io.MultiWriter(os.Stdout, file), opts)
		cleanup = func() error {
			return file.Close()
		}
		return slog.New(handler), cleanup, nil
	}

	handler := slog.NewTextHandler(os.Stdout, opts)
	return slog.New(handler), cleanup, nil
}
