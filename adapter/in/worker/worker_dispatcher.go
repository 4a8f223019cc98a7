package worker

import (
	"context"

	"mail_worker/pkg/logger"
)

type jobFunc func(ctx context.Context, msg *Message) error

// Handler routes pool messages to their processor by job type.
type Handler struct {
	routes map[JobType]jobFunc
}

func NewHandler(sp *SyncProcessor) *Handler {
	return &Handler{routes: map[JobType]jobFunc{
		JobMailSync:    sp.ProcessSync,
		JobMailSyncAll: sp.ProcessSyncAll,
	}}
}

// Process runs msg. Unknown job types are dropped since no retry can fix them.
func (h *Handler) Process(ctx context.Context, msg *Message) error {
	fn, ok := h.routes[msg.Type]
	if !ok {
		logger.WithField("job_id", msg.ID).Warn("[Handler.Process] dropping unknown job type %q", msg.Type)
		return nil
	}
	logger.Debug("[Handler.Process] %s (%s)", msg.Type, msg.ID)
	return fn(ctx, msg)
}
