package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"epubopt/internal/classify"
	"epubopt/internal/config"
	"epubopt/internal/epub"
	"epubopt/internal/history"
	"epubopt/internal/logging"
	"epubopt/internal/optimize"
	"epubopt/internal/services"
	"epubopt/internal/workspace"
)

// Recorder receives every finished run. *history.Store satisfies it.
type Recorder interface {
	Record(ctx context.Context, entry history.Entry) error
}

// Options adjusts a single pipeline.
type Options struct {
	// SkipOptimize extracts and repacks without running any optimizer.
	SkipOptimize bool
}

// Pipeline rewrites archives using one configuration.
type Pipeline struct {
	cfg        *config.Config
	logger     *slog.Logger
	opts       Options
	workspaces *workspace.Manager
	dispatcher *optimize.Dispatcher
	recorder   Recorder
	newRunID   func() string
}

// New constructs a pipeline. Callers that run several archives should reuse it.
func New(cfg *config.Config, logger *slog.Logger, opts Options) *Pipeline {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Pipeline{
		cfg:        cfg,
		logger:     logging.NewComponentLogger(logger, "pipeline"),
		opts:       opts,
		workspaces: workspace.NewManager(cfg.Paths.TempRoot, logger),
		dispatcher: optimize.New(cfg, logger),
		newRunID:   uuid.NewString,
	}
}

// WithRecorder attaches a run ledger. A nil recorder disables recording.
func (p *Pipeline) WithRecorder(r Recorder) *Pipeline {
	p.recorder = r
	return p
}

// Dispatcher exposes the optimizer dispatcher so callers can swap its runner.
func (p *Pipeline) Dispatcher() *optimize.Dispatcher {
	return p.dispatcher
}

// Run rewrites the archive at archivePath in place. On success the returned
// error is nil; when some optimizer classes failed the archive is still
// rewritten and the error is an *optimize.PartialError. Any other error means
// the original archive is unchanged.
func (p *Pipeline) Run(ctx context.Context, archivePath string) (Result, error) {
	runID := p.newRunID()
	ctx = services.WithArchive(ctx, archivePath)
	ctx = services.WithRequestID(ctx, runID)

	r := &run{
		pipeline: p,
		logger:   logging.WithContext(ctx, p.logger),
		result: Result{
			RunID:     runID,
			Archive:   archivePath,
			State:     StateIdle,
			StartedAt: time.Now(),
		},
	}
	err := r.execute(ctx)
	r.transition(StateReleased)
	r.result.FinishedAt = time.Now()
	p.record(ctx, r.logger, r.result, err)
	return r.result, err
}

type run struct {
	pipeline *Pipeline
	logger   *slog.Logger
	result   Result
}

func (r *run) execute(ctx context.Context) error {
	p := r.pipeline

	info, err := os.Stat(r.result.Archive)
	if err != nil {
		return r.fail(services.Wrap(services.ErrNotFound, "validate", "stat archive", r.result.Archive, err))
	}
	if !info.Mode().IsRegular() {
		return r.fail(services.Wrap(services.ErrValidation, "validate", "stat archive", "not a regular file", nil))
	}
	r.result.OriginalSize = info.Size()

	var ws *workspace.Workspace
	if err := r.stage(ctx, "workspace", func(stageCtx context.Context) error {
		var acquireErr error
		ws, acquireErr = p.workspaces.Acquire(stageCtx)
		return acquireErr
	}); err != nil {
		return r.fail(err)
	}
	r.transition(StateWorkspaceAcquired)
	defer func() { _ = ws.Release() }()

	if err := r.stage(ctx, "extract", func(stageCtx context.Context) error {
		report, extractErr := epub.Extract(stageCtx, r.result.Archive, ws.ContentDir(), r.logger)
		r.result.SkippedEntries = report.Skipped
		return extractErr
	}); err != nil {
		return r.fail(err)
	}
	r.transition(StateExtracted)

	var partial *optimize.PartialError
	if p.opts.SkipOptimize {
		r.result.OptimizeSkipped = true
		r.logger.Info("optimization skipped", logging.String(logging.FieldEventType, "optimize_skipped"))
	} else if err := r.stage(ctx, "optimize", func(stageCtx context.Context) error {
		buckets, classifyErr := classify.Classify(ws.ContentDir())
		if classifyErr != nil {
			return services.Wrap(services.ErrResource, "optimize", "classify", ws.ContentDir(), classifyErr)
		}
		report, dispatchErr := p.dispatcher.Run(stageCtx, ws.ScratchDir(), buckets)
		r.result.Report = relativeReport(report, ws.ContentDir())
		if errors.As(dispatchErr, &partial) {
			return nil
		}
		return dispatchErr
	}); err != nil {
		return r.fail(err)
	}
	if err := ctx.Err(); err != nil {
		return r.fail(err)
	}
	r.transition(StateOptimized)

	var pending *epub.PendingArchive
	if err := r.stage(ctx, "repack", func(stageCtx context.Context) error {
		var prepareErr error
		pending, prepareErr = epub.Prepare(stageCtx, ws.ContentDir(), r.result.Archive, epub.WriteOptions{
			CompressionLevel: p.cfg.Archive.CompressionLevel,
			Verify:           p.cfg.Archive.Verify,
		})
		return prepareErr
	}); err != nil {
		return r.fail(err)
	}
	r.transition(StateRepacked)
	r.result.NewSize = pending.Size()

	if err := r.stage(ctx, "replace", pending.Commit); err != nil {
		return r.fail(err)
	}
	r.transition(StateReplaced)
	r.result.BytesSaved = r.result.OriginalSize - r.result.NewSize

	if partial != nil {
		return partial
	}
	return nil
}

// stage runs fn with stage-scoped logging.
func (r *run) stage(ctx context.Context, name string, fn func(context.Context) error) error {
	stageCtx := services.WithStage(ctx, name)
	logger := logging.WithContext(stageCtx, r.logger)
	started := time.Now()

	logger.Debug("stage started", logging.String(logging.FieldEventType, "stage_start"))
	if err := fn(stageCtx); err != nil {
		logger.Error("stage failed",
			logging.String(logging.FieldEventType, "stage_failure"),
			logging.String("failure_kind", services.FailureKind(err)),
			logging.Duration("duration", time.Since(started)),
			logging.Error(err),
		)
		return err
	}
	logger.Debug("stage completed",
		logging.String(logging.FieldEventType, "stage_complete"),
		logging.Duration("duration", time.Since(started)),
	)
	return nil
}

func (r *run) transition(to State) {
	from := r.result.State
	if !CanTransition(from, to) {
		r.logger.Error("illegal pipeline transition",
			logging.String("from", string(from)),
			logging.String("to", string(to)),
		)
	}
	r.result.State = to
	r.result.Transitions = append(r.result.Transitions, Transition{From: from, To: to, At: time.Now()})
	r.logger.Debug("pipeline state changed",
		logging.String(logging.FieldEventType, "state_transition"),
		logging.String("from", string(from)),
		logging.String("to", string(to)),
	)
}

func (r *run) fail(err error) error {
	r.transition(StateFailed)
	return err
}

// relativeReport rewrites per-file paths as archive entry names, since the
// workspace they point into is gone once Run returns.
func relativeReport(report optimize.Report, root string) optimize.Report {
	for i := range report.Classes {
		for j := range report.Classes[i].Files {
			f := &report.Classes[i].Files[j]
			if rel, err := filepath.Rel(root, f.Path); err == nil {
				f.Path = filepath.ToSlash(rel)
			}
		}
	}
	return report
}

func (p *Pipeline) record(ctx context.Context, logger *slog.Logger, result Result, runErr error) {
	if p.recorder == nil {
		return
	}
	entry := history.Entry{
		RunID:          result.RunID,
		ArchivePath:    result.Archive,
		Status:         history.StatusOK,
		StartedAt:      result.StartedAt,
		FinishedAt:     result.FinishedAt,
		OriginalSize:   result.OriginalSize,
		NewSize:        result.NewSize,
		BytesSaved:     result.BytesSaved,
		SkippedEntries: len(result.SkippedEntries),
	}
	for _, class := range result.Report.Classes {
		entry.Files += len(class.Files)
		entry.Reverted += class.Reverted()
	}

	var partial *optimize.PartialError
	switch {
	case runErr == nil:
	case errors.As(runErr, &partial) && result.Replaced():
		entry.Status = history.StatusPartial
		for _, class := range partial.FailedClasses() {
			entry.FailedClasses = append(entry.FailedClasses, string(class))
		}
		entry.ErrorMessage = runErr.Error()
	default:
		entry.Status = history.StatusFailed
		entry.ErrorMessage = strings.TrimSpace(runErr.Error())
	}

	// Recording must outlive a cancelled run.
	recordCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := p.recorder.Record(recordCtx, entry); err != nil {
		logging.WarnWithContext(logger, "failed to record run history", "history_record_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check history.path or disable history in config"),
			logging.String(logging.FieldImpact, fmt.Sprintf("run %s missing from `epubopt history`", result.RunID)),
		)
	}
}
