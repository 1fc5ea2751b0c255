package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/GoCodeAlone/missioncontrol/boundary"
	"github.com/GoCodeAlone/missioncontrol/config"
)

func runBoundary(args []string) error {
	fs := flag.NewFlagSet("boundary", flag.ContinueOnError)
	common := addCommonFlags(fs)
	root := fs.String("root", "", "Repository root to scan (overrides boundary.root)")
	apiDir := fs.String("api-dir", "", "API directory relative to the root (overrides boundary.api_dir)")
	watch := fs.Bool("watch", false, "Keep running and re-check whenever the API directory changes")
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), `Usage: mcctl boundary check [options]

Scans the API layer for imports and calls that must go through the service
layer. Exits non-zero when a violation is found.

Options:
`)
		fs.PrintDefaults()
	}

	sub, err := parseSub(fs, args, "check")
	if err != nil {
		return err
	}
	if sub != "check" {
		fs.Usage()
		return fmt.Errorf("unknown boundary subcommand: %s", sub)
	}

	cfg, logger, err := common.load(func(c *config.Config) {
		if *root != "" {
			c.Boundary.Root = *root
		}
		if *apiDir != "" {
			c.Boundary.APIDir = *apiDir
		}
	})
	if err != nil {
		return err
	}

	checker, err := newChecker(cfg.Boundary, logger)
	if err != nil {
		return err
	}

	if *watch {
		return watchBoundary(checker, logger)
	}

	report, err := checker.Check(context.Background())
	if err != nil {
		return err
	}
	printReport(report)
	return report.Err()
}

// buildRules returns the preset rules followed by the configured ones.
func buildRules(b config.BoundaryConfig) ([]boundary.Rule, error) {
	var rules []boundary.Rule
	if b.Preset == config.PresetOpenClaw {
		rules = append(rules, boundary.OpenClawRules()...)
	}
	for _, r := range b.ForbiddenImports {
		rules = append(rules, boundary.ForbiddenImport{Module: r.Module, Advice: r.Hint})
	}
	for _, r := range b.SafeWrappers {
		rules = append(rules, boundary.NewSafeWrapper(r.Unsafe, r.Safe, r.Hint))
	}
	for i, r := range b.GoImports {
		rule, err := boundary.NewGoImport(r.Forbidden, r.Hint)
		if err != nil {
			return nil, fmt.Errorf("boundary.go_imports[%d]: %w", i, err)
		}
		rules = append(rules, rule)
	}
	if len(rules) == 0 {
		return nil, errors.New("no boundary rules configured (set boundary.preset or add rules)")
	}
	return rules, nil
}

func newChecker(b config.BoundaryConfig, logger *slog.Logger) (*boundary.Checker, error) {
	rules, err := buildRules(b)
	if err != nil {
		return nil, err
	}
	return &boundary.Checker{
		Root:       b.Root,
		APIDir:     b.APIDir,
		Extensions: b.Extensions,
		Rules:      rules,
		Workers:    b.Workers,
		Logger:     logger,
	}, nil
}

func printReport(report *boundary.Report) {
	if report.OK() {
		fmt.Fprintf(stdout, "boundary: ok (%d files checked)\n", report.Files)
		return
	}
	for _, v := range report.Violations {
		fmt.Fprintf(stdout, "%s: %s\n", v, v.Rule)
	}
	fmt.Fprintf(stdout, "boundary: %d violations in %d files checked\n", len(report.Violations), report.Files)
}

func watchBoundary(checker *boundary.Checker, logger *slog.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	w := boundary.NewWatcher(checker, func(r *boundary.Report) {
		printReport(r)
		if err := r.Err(); err != nil {
			fmt.Fprintln(stdout, err)
		}
	}, boundary.WithWatchLogger(logger))
	if err := w.Start(ctx); err != nil {
		return err
	}
	logger.Info("watching for changes", "root", checker.Root, "api_dir", checker.APIDir)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Info("shutting down")
	cancel()
	return w.Stop()
}
