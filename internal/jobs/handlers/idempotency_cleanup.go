package handlers

import (
	"context"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/questline/questline-bot/internal/idempotency"
)

// IdempotencyCleanupHandler removes stale idempotency records.
type IdempotencyCleanupHandler struct {
	cleaner *idempotency.Cleaner
	log     *slog.Logger
}

func NewIdempotencyCleanupHandler(cleaner *idempotency.Cleaner, log *slog.Logger) *IdempotencyCleanupHandler {
	return &IdempotencyCleanupHandler{cleaner: cleaner, log: log}
}

func (h *IdempotencyCleanupHandler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	h.cleaner.Cleanup(ctx)

	if h.log != nil {
		h.log.InfoContext(ctx, "idempotency cleanup completed", slog.String("task_type", t.Type()))
	}

	return nil
}
