package optimize

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"epubopt/internal/classify"
	"epubopt/internal/config"
	"epubopt/internal/deps"
	"epubopt/internal/fileutil"
	"epubopt/internal/logging"
	"epubopt/internal/services"
)

// Dispatcher runs one optimizer job per bucket concurrently.
type Dispatcher struct {
	tools     map[classify.Class]Tool
	disabled  map[classify.Class]bool
	runner    Runner
	timeout   time.Duration
	batchSize int
	guard     bool
	logger    *slog.Logger
}

// New builds a dispatcher from configuration.
func New(cfg *config.Config, logger *slog.Logger) *Dispatcher {
	disabled := map[classify.Class]bool{}
	for _, name := range cfg.Optimizers.DisabledClasses {
		if class, err := classify.Parse(name); err == nil {
			disabled[class] = true
		}
	}
	grace := time.Duration(cfg.Workflow.KillGraceSeconds) * time.Second
	return &Dispatcher{
		tools:     ToolsFromConfig(cfg),
		disabled:  disabled,
		runner:    ExecRunner(grace),
		timeout:   time.Duration(cfg.Workflow.WorkerTimeoutSeconds) * time.Second,
		batchSize: cfg.Workflow.MaxBatchFiles,
		guard:     cfg.Workflow.RegressionGuard,
		logger:    logging.NewComponentLogger(logger, "optimize"),
	}
}

// WithRunner replaces the process runner, primarily for tests.
func (d *Dispatcher) WithRunner(r Runner) {
	if r != nil {
		d.runner = r
	}
}

// Run optimizes every bucket in place and blocks until all jobs finish.
// scratchDir holds regression-guard backups and must not be part of the
// repacked tree. The returned error is nil or a *PartialError; the report is
// complete either way.
func (d *Dispatcher) Run(ctx context.Context, scratchDir string, buckets classify.Buckets) (Report, error) {
	classes := buckets.Ordered()
	results := make([]ClassResult, len(classes))

	var wg sync.WaitGroup
	for i, class := range classes {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = d.runJob(ctx, class, buckets[class], filepath.Join(scratchDir, string(class)))
		}()
	}
	wg.Wait()

	report := Report{Classes: results}
	var failures []*ClassError
	for _, result := range results {
		if result.Status != StatusFailed {
			continue
		}
		var ce *ClassError
		if !errors.As(result.Err, &ce) {
			ce = &ClassError{Class: result.Class, Err: result.Err}
		}
		failures = append(failures, ce)
	}
	if len(failures) > 0 {
		return report, &PartialError{Errors: failures}
	}
	return report, nil
}

func (d *Dispatcher) runJob(ctx context.Context, class classify.Class, paths []string, backupDir string) ClassResult {
	ctx = services.WithClass(ctx, string(class))
	logger := logging.WithContext(ctx, d.logger)
	started := time.Now()

	result := ClassResult{Class: class, Status: StatusOK, Files: make([]FileResult, len(paths))}
	for i, path := range paths {
		result.Files[i] = FileResult{Path: path, Class: class, Before: -1}
	}
	fail := func(marker error, message string, err error) ClassResult {
		result.Status = StatusFailed
		result.Err = &ClassError{Class: class, Err: services.Wrap(marker, "optimize", string(class), message, err)}
		result.Duration = time.Since(started)
		d.settleSizes(&result)
		logging.WarnWithContext(logger, "optimizer job failed", "optimizer_failed",
			logging.Int("files", len(paths)),
			logging.Error(result.Err),
			logging.String(logging.FieldErrorHint, "run `epubopt check` to verify optimizer installation"),
			logging.String(logging.FieldImpact, "files in this class keep their original bytes"),
		)
		return result
	}

	if err := d.measureBefore(&result); err != nil {
		return fail(services.ErrResource, "measure input sizes", err)
	}

	if d.disabled[class] {
		result.Status = StatusDisabled
		d.settleSizes(&result)
		logger.Info("optimizer disabled by configuration", logging.Int("files", len(paths)))
		return result
	}

	tool, ok := d.tools[class]
	if !ok {
		return fail(services.ErrConfiguration, "no optimizer configured", nil)
	}
	if status := deps.Check(string(class), tool.Binary); !status.Available {
		return fail(services.ErrNotFound, status.Detail, nil)
	}

	var backups []string
	if d.guard {
		var err error
		if backups, err = backupFiles(paths, backupDir); err != nil {
			return fail(services.ErrResource, "back up inputs", err)
		}
	}

	jobCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	var runErr error
	offset := 0
	for _, batch := range chunk(paths, d.batchSize) {
		for _, inv := range tool.Plan(batch) {
			result.Invocations++
			logger.Debug("running optimizer", logging.String("command", inv.Name), logging.Int("files", len(inv.Args)))
			if runErr = d.runner(jobCtx, inv); runErr != nil {
				break
			}
		}
		if runErr != nil {
			if d.guard {
				// The process may have left any file of this batch half-written.
				d.restoreRange(&result, backups, offset, offset+len(batch), logger)
			}
			break
		}
		offset += len(batch)
	}

	if d.guard {
		d.applyGuard(&result, backups, logger)
	}

	if runErr != nil {
		marker := services.ErrExternalTool
		if errors.Is(runErr, services.ErrTimeout) {
			marker = services.ErrTimeout
		}
		return fail(marker, "optimizer invocation failed", runErr)
	}

	d.settleSizes(&result)
	result.Duration = time.Since(started)
	logger.Info("optimizer job finished",
		logging.Int("files", len(paths)),
		logging.Int64("bytes_saved", result.Saved()),
		logging.Int("reverted", result.Reverted()),
		logging.Int("invocations", result.Invocations),
		logging.Duration("duration", result.Duration),
	)
	return result
}

func (d *Dispatcher) measureBefore(result *ClassResult) error {
	for i := range result.Files {
		info, err := os.Stat(result.Files[i].Path)
		if err != nil {
			return err
		}
		result.Files[i].Before = info.Size()
	}
	return nil
}

// settleSizes records the current size of every file. Missing files count
// as zero bytes.
func (d *Dispatcher) settleSizes(result *ClassResult) {
	for i := range result.Files {
		f := &result.Files[i]
		if f.Before < 0 {
			f.Before, f.After = 0, 0
			if info, err := os.Stat(f.Path); err == nil {
				f.Before, f.After = info.Size(), info.Size()
			}
			continue
		}
		if info, err := os.Stat(f.Path); err == nil {
			f.After = info.Size()
		} else {
			f.After = 0
		}
	}
}

// applyGuard restores every file the optimizer deleted, emptied, or grew.
func (d *Dispatcher) applyGuard(result *ClassResult, backups []string, logger *slog.Logger) {
	for i := range result.Files {
		f := &result.Files[i]
		if f.Reverted {
			continue
		}
		info, err := os.Stat(f.Path)
		regressed := err != nil || !info.Mode().IsRegular() || info.Size() > f.Before || (info.Size() == 0 && f.Before > 0)
		if !regressed {
			continue
		}
		d.restore(f, backups[i], logger)
	}
}

func (d *Dispatcher) restoreRange(result *ClassResult, backups []string, start, end int, logger *slog.Logger) {
	for i := start; i < end && i < len(result.Files); i++ {
		d.restore(&result.Files[i], backups[i], logger)
	}
}

func (d *Dispatcher) restore(f *FileResult, backup string, logger *slog.Logger) {
	_ = os.RemoveAll(f.Path)
	if err := fileutil.CopyFile(backup, f.Path); err != nil {
		logging.ErrorWithContext(logger, "failed to restore original file", "guard_restore_failed",
			logging.String("path", f.Path),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check free space in the temp root"),
		)
		return
	}
	f.Reverted = true
	logger.Debug("restored original bytes", logging.String("path", f.Path))
}

// backupFiles copies each path into dir under its index and returns the
// backup paths in input order.
func backupFiles(paths []string, dir string) ([]string, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, err
	}
	backups := make([]string, len(paths))
	for i, path := range paths {
		backups[i] = filepath.Join(dir, strconv.Itoa(i))
		if err := fileutil.CopyFile(path, backups[i]); err != nil {
			return nil, fmt.Errorf("back up %s: %w", path, err)
		}
	}
	return backups, nil
}
