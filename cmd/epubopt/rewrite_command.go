package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"epubopt/internal/archivelock"
	"epubopt/internal/history"
	"epubopt/internal/logging"
	"epubopt/internal/optimize"
	"epubopt/internal/pipeline"
)

type rewriteOptions struct {
	verbose      bool
	skipOptimize bool
}

func runRewrite(cmd *cobra.Command, ctx *commandContext, opts rewriteOptions, args []string) error {
	if len(args) == 0 {
		_ = cmd.Usage()
		return errors.New("no input files; pass one or more .epub archives")
	}
	paths, err := validateInputs(args)
	if err != nil {
		return err
	}

	cfg, err := ctx.ensureConfig()
	if err != nil {
		return err
	}
	logger, err := ctx.ensureLogger()
	if err != nil {
		return err
	}

	p := pipeline.New(cfg, logger, pipeline.Options{SkipOptimize: opts.skipOptimize})
	if cfg.History.Enabled {
		store, err := history.Open(cmd.Context(), cfg.History.Path)
		if err != nil {
			logging.WarnWithContext(logger, "run history unavailable", "history_open_failed",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "set history.enabled = false to silence this warning"),
				logging.String(logging.FieldImpact, "this run will not appear in `epubopt history`"),
			)
		} else {
			defer store.Close()
			p.WithRecorder(store)
		}
	}

	out := cmd.OutOrStdout()
	errOut := cmd.ErrOrStderr()
	var (
		failures    int
		totalBefore int64
		totalSaved  int64
	)
	for _, path := range paths {
		result, err := rewriteOne(cmd.Context(), cfg.LockDir(), p, path)
		if result.Replaced() {
			totalBefore += result.OriginalSize
			totalSaved += result.BytesSaved
			fmt.Fprintln(out, formatSavings(path, result.BytesSaved, result.OriginalSize))
			if opts.verbose {
				fmt.Fprintln(out, renderFileTable(result.Report))
			}
		}
		if err == nil {
			continue
		}
		if errors.Is(err, context.Canceled) {
			return err
		}
		failures++
		fmt.Fprintln(errOut, describeFailure(path, err))
	}

	if len(paths) > 1 && totalBefore > 0 {
		fmt.Fprintln(out, formatSavings("total", totalSaved, totalBefore))
	}
	if failures > 0 {
		return fmt.Errorf("%d of %d archive(s) failed", failures, len(paths))
	}
	return nil
}

func rewriteOne(ctx context.Context, lockDir string, p *pipeline.Pipeline, path string) (pipeline.Result, error) {
	lock, err := archivelock.Acquire(lockDir, path)
	if err != nil {
		return pipeline.Result{}, err
	}
	defer func() { _ = lock.Release() }()
	return p.Run(ctx, path)
}

// validateInputs rejects the whole batch before any archive is touched.
func validateInputs(args []string) ([]string, error) {
	paths := make([]string, 0, len(args))
	for _, arg := range args {
		path := strings.TrimSpace(arg)
		if !strings.EqualFold(filepath.Ext(path), ".epub") {
			return nil, fmt.Errorf("%s: not an .epub file", arg)
		}
		info, err := os.Stat(path)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("%s: no such file", arg)
			}
			return nil, fmt.Errorf("%s: %w", arg, err)
		}
		if !info.Mode().IsRegular() {
			return nil, fmt.Errorf("%s: not a regular file", arg)
		}
		paths = append(paths, path)
	}
	return paths, nil
}

func describeFailure(path string, err error) string {
	var partial *optimize.PartialError
	if errors.As(err, &partial) {
		var lines []string
		for _, ce := range partial.Errors {
			lines = append(lines, fmt.Sprintf("%s: optimize [%s]: %v", path, ce.Class, ce.Err))
		}
		return strings.Join(lines, "\n")
	}
	return fmt.Sprintf("%s: %v", path, err)
}

func renderFileTable(report optimize.Report) string {
	files := report.Files()
	if len(files) == 0 {
		return "  (no optimizable resources)"
	}
	rows := make([][]string, 0, len(files))
	for _, f := range files {
		note := ""
		if f.Reverted {
			note = "reverted"
		}
		rows = append(rows, []string{
			f.Path,
			f.Class.Label(),
			formatBytes(f.Before),
			formatBytes(f.After),
			formatDelta(f.Saved()),
			note,
		})
	}
	return renderTable(
		[]string{"File", "Class", "Before", "After", "Saved", "Note"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignRight, alignRight, alignRight, alignLeft},
	)
}

