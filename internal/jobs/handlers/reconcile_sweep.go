package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/questline/questline-bot/internal/errors"
	"github.com/questline/questline-bot/internal/jobs"
	"github.com/questline/questline-bot/internal/reconcile"
)

// Sweeper runs one full reconciliation pass.
type Sweeper interface {
	FullSweep(ctx context.Context, cfg reconcile.SweepConfig) (*reconcile.SweepReport, error)
}

// DriftReporter surfaces findings that need operator attention.
type DriftReporter interface {
	Handle(ctx context.Context, err error) (string, bool)
}

// ReconcileSweepHandler runs the periodic full reconciliation sweep.
type ReconcileSweepHandler struct {
	engine Sweeper
	drift  DriftReporter
	log    *slog.Logger
}

func NewReconcileSweepHandler(engine Sweeper, drift DriftReporter, log *slog.Logger) *ReconcileSweepHandler {
	return &ReconcileSweepHandler{engine: engine, drift: drift, log: log}
}

func (h *ReconcileSweepHandler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var payload jobs.ReconcileSweepPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		if h.log != nil {
			h.log.ErrorContext(ctx, "reconcile sweep: failed to decode payload",
				slog.String("task_type", t.Type()), slog.String("error", err.Error()))
		}
		return err
	}

	report, err := h.engine.FullSweep(ctx, reconcile.SweepConfig{
		BatchSize: payload.BatchSize,
		UserPause: payload.UserPause,
	})
	if err != nil {
		return err
	}

	if h.log != nil {
		h.log.InfoContext(ctx, "reconcile sweep finished",
			slog.Int("users_checked", report.UsersChecked),
			slog.Int("users_with_issues", report.UsersWithIssues),
			slog.Int("auto_corrected", report.AutoCorrected),
			slog.Int("needs_review", report.NeedsReview),
			slog.Bool("interrupted", report.Interrupted),
			slog.Duration("duration", report.Duration),
		)
	}

	// Findings the engine refuses to auto-correct get escalated instead of
	// sitting in a log line nobody watches.
	if report.NeedsReview > 0 && h.drift != nil {
		h.drift.Handle(ctx, errors.NewDriftError(fmt.Sprintf(
			"reconciliation sweep left %d findings needing review across %d users",
			report.NeedsReview, report.UsersWithIssues,
		)))
	}

	return nil
}
