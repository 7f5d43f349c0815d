package reconcile

import (
	"context"
	"log/slog"
	"time"

	"github.com/questline/questline-bot/pkg/metrics"
)

// SweepConfig paces a full reconciliation pass so it never competes with
// live traffic for long.
type SweepConfig struct {
	BatchSize int
	UserPause time.Duration
}

// FullSweep repairs every user, paging ids in batches and pausing between
// users. The sweep stops at a context deadline and reports how far it got;
// a later run resumes from scratch, which is safe because repairs are
// idempotent.
func (e *Engine) FullSweep(ctx context.Context, cfg SweepConfig) (*SweepReport, error) {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}

	started := time.Now()
	report := &SweepReport{}
	var afterID int64

	for {
		ids, err := e.users.IDs(ctx, e.uow.DB(), afterID, cfg.BatchSize)
		if err != nil {
			return report, err
		}
		if len(ids) == 0 {
			break
		}

		for _, id := range ids {
			if ctx.Err() != nil {
				report.Interrupted = true
				return e.finishSweep(started, report), ctx.Err()
			}

			userReport, err := e.RepairUser(ctx, id)
			if err != nil {
				// One stuck user must not kill the sweep.
				e.log.Error("sweep: user repair failed",
					slog.Int64("user_id", id),
					slog.Any("error", err),
				)
				continue
			}

			report.UsersChecked++
			if !userReport.Clean() {
				report.UsersWithIssues++
				report.AutoCorrected += userReport.AutoCorrected
				report.NeedsReview += userReport.NeedsReview
			}

			if cfg.UserPause > 0 {
				select {
				case <-time.After(cfg.UserPause):
				case <-ctx.Done():
					report.Interrupted = true
					return e.finishSweep(started, report), ctx.Err()
				}
			}
		}

		afterID = ids[len(ids)-1]
	}

	return e.finishSweep(started, report), nil
}

func (e *Engine) finishSweep(started time.Time, report *SweepReport) *SweepReport {
	report.Duration = time.Since(started)
	metrics.RecordSweep(report.Duration, report.UsersWithIssues)

	e.log.Info("reconciliation sweep finished",
		slog.Int("users_checked", report.UsersChecked),
		slog.Int("users_with_issues", report.UsersWithIssues),
		slog.Int("auto_corrected", report.AutoCorrected),
		slog.Int("needs_review", report.NeedsReview),
		slog.Duration("duration", report.Duration),
		slog.Bool("interrupted", report.Interrupted),
	)

	return report
}
