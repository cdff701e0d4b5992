package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/bull/mediarag/internal/tracking"
)

// ExecFunc runs one stage for one document. The dispatcher substitutes a
// pool-routed executor; the default runs the stage inline.
type ExecFunc func(ctx context.Context, stage Stage, pc *Context) error

// Runner drives the stage chain for a single document and reports the
// outcome to the task-status store. Stages run strictly in order; the first
// error aborts the rest of the chain and is surfaced verbatim as the task
// failure detail.
type Runner struct {
	stages  []Stage
	tracker *tracking.Store
	logger  *slog.Logger
}

// NewRunner builds a runner. tracker may be nil when status tracking is not
// wanted (tests, one-shot runs).
func NewRunner(stages []Stage, tracker *tracking.Store, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{stages: stages, tracker: tracker, logger: logger}
}

// Stages returns the configured chain, in execution order.
func (r *Runner) Stages() []Stage { return r.stages }

// Run executes the chain inline.
func (r *Runner) Run(ctx context.Context, pc *Context) error {
	return r.RunWith(ctx, pc, func(ctx context.Context, stage Stage, pc *Context) error {
		return stage.Run(ctx, pc)
	})
}

// RunWith executes the chain through exec, updating the task status around
// it.
func (r *Runner) RunWith(ctx context.Context, pc *Context, exec ExecFunc) error {
	if r.tracker != nil {
		if err := r.tracker.SetRunning(pc.DocumentID); err != nil {
			r.logger.Warn("cannot mark task running", "document_id", pc.DocumentID, "error", err)
		}
	}

	for _, stage := range r.stages {
		start := time.Now()
		r.logger.Info("running stage",
			"stage", stage.Name(), "document_id", pc.DocumentID, "queue", string(stage.Queue()))
		if err := exec(ctx, stage, pc); err != nil {
			wrapped := fmt.Errorf("stage %s: %w", stage.Name(), err)
			r.logger.Error("stage failed, aborting chain",
				"stage", stage.Name(), "document_id", pc.DocumentID, "error", err)
			if r.tracker != nil {
				if terr := r.tracker.Fail(pc.DocumentID, wrapped.Error()); terr != nil {
					r.logger.Warn("cannot record task failure", "document_id", pc.DocumentID, "error", terr)
				}
			}
			return wrapped
		}
		r.logger.Debug("stage complete",
			"stage", stage.Name(), "document_id", pc.DocumentID, "elapsed", time.Since(start))
	}

	if r.tracker != nil {
		if err := r.tracker.Complete(pc.DocumentID, r.result(pc)); err != nil {
			r.logger.Warn("cannot record task completion", "document_id", pc.DocumentID, "error", err)
		}
	}
	r.logger.Info("pipeline complete",
		"document_id", pc.DocumentID, "chunks", len(pc.Chunks), "artifact", pc.ArtifactPath)
	return nil
}

func (r *Runner) result(pc *Context) map[string]any {
	result := map[string]any{
		"document_id":   pc.DocumentID,
		"media_type":    string(pc.MediaType),
		"artifact_path": pc.ArtifactPath,
		"total_chunks":  len(pc.Chunks),
	}
	for key, value := range pc.Metrics {
		result[key] = value
	}
	return result
}
