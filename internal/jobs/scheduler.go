package jobs

import (
	"context"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
)

const (
	defaultSweepSchedule  = "0 3 * * *"
	accessExpireSchedule  = "*/10 * * * *"
	idemCleanupSchedule   = "30 * * * *"
	defaultSweepBatchSize = 100
	defaultSweepUserPause = 50 * time.Millisecond
)

type Scheduler interface {
	RegisterTasks() error
	Run()
	Shutdown()
}

// SweepSettings carries the reconciliation sweep tunables the scheduler
// embeds into each enqueued task.
type SweepSettings struct {
	Schedule  string
	BatchSize int
	UserPause time.Duration
}

type scheduler struct {
	asynqScheduler *asynq.Scheduler
	sweep          SweepSettings
	log            *slog.Logger
}

func NewScheduler(redisOpt asynq.RedisConnOpt, sweep SweepSettings, log *slog.Logger) Scheduler {
	if sweep.Schedule == "" {
		sweep.Schedule = defaultSweepSchedule
	}
	if sweep.BatchSize <= 0 {
		sweep.BatchSize = defaultSweepBatchSize
	}
	if sweep.UserPause <= 0 {
		sweep.UserPause = defaultSweepUserPause
	}

	return &scheduler{
		asynqScheduler: asynq.NewScheduler(redisOpt, nil),
		sweep:          sweep,
		log:            log,
	}
}

func (s *scheduler) RegisterTasks() error {
	sweepTask, err := NewReconcileSweepTask(s.sweep.BatchSize, s.sweep.UserPause)
	if err != nil {
		return err
	}
	if _, err := s.asynqScheduler.Register(s.sweep.Schedule, sweepTask); err != nil {
		return err
	}

	expireTask, err := NewAccessExpireTask()
	if err != nil {
		return err
	}
	if _, err := s.asynqScheduler.Register(accessExpireSchedule, expireTask); err != nil {
		return err
	}

	cleanupTask, err := NewIdempotencyCleanupTask()
	if err != nil {
		return err
	}
	if _, err := s.asynqScheduler.Register(idemCleanupSchedule, cleanupTask); err != nil {
		return err
	}

	if s.log != nil {
		s.log.InfoContext(context.Background(), "scheduler: registered periodic tasks",
			slog.String("sweep_schedule", s.sweep.Schedule))
	}

	return nil
}

func (s *scheduler) Run() {
	if s.log != nil {
		s.log.InfoContext(context.Background(), "scheduler: starting")
	}

	go func() {
		if err := s.asynqScheduler.Run(); err != nil && s.log != nil {
			s.log.ErrorContext(context.Background(), "scheduler: run failed", "error", err)
		}
	}()
}

func (s *scheduler) Shutdown() {
	if s.log != nil {
		s.log.InfoContext(context.Background(), "scheduler: shutting down")
	}

	s.asynqScheduler.Shutdown()
}
