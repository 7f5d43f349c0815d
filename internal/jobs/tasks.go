package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
)

const (
	TaskTypeReconcileSweep     = "reconcile:sweep"
	TaskTypeAccessExpire       = "access:expire"
	TaskTypeIdempotencyCleanup = "idempotency:cleanup"
)

const (
	QueueCritical = "critical"
	QueueDefault  = "default"
	QueueLow      = "low"
)

type ReconcileSweepPayload struct {
	BatchSize int           `json:"batch_size"`
	UserPause time.Duration `json:"user_pause"`
}

type AccessExpirePayload struct{}

type IdempotencyCleanupPayload struct{}

func NewReconcileSweepTask(batchSize int, userPause time.Duration) (*asynq.Task, error) {
	payload, err := json.Marshal(ReconcileSweepPayload{BatchSize: batchSize, UserPause: userPause})
	if err != nil {
		return nil, err
	}

	return asynq.NewTask(TaskTypeReconcileSweep, payload, asynq.Queue(QueueLow)), nil
}

func NewAccessExpireTask() (*asynq.Task, error) {
	payload, err := json.Marshal(AccessExpirePayload{})
	if err != nil {
		return nil, err
	}

	return asynq.NewTask(TaskTypeAccessExpire, payload, asynq.Queue(QueueDefault)), nil
}

func NewIdempotencyCleanupTask() (*asynq.Task, error) {
	payload, err := json.Marshal(IdempotencyCleanupPayload{})
	if err != nil {
		return nil, err
	}

	return asynq.NewTask(TaskTypeIdempotencyCleanup, payload, asynq.Queue(QueueLow)), nil
}
