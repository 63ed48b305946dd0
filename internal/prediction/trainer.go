package prediction

import (
	"context"
	"errors"
	"log/slog"
)

// Trainer runs training jobs off the request path. Requests queue through
// Enqueue; the single worker trains them in order. Stopping the worker
// cancels the in-flight run between epochs, leaving the active model
// version untouched.
type Trainer struct {
	svc    *Service
	queue  chan TrainRequest
	logger *slog.Logger
}

// NewTrainer builds a trainer with the given queue capacity.
func NewTrainer(svc *Service, queueSize int, logger *slog.Logger) *Trainer {
	if queueSize < 1 {
		queueSize = 1
	}
	return &Trainer{
		svc:    svc,
		queue:  make(chan TrainRequest, queueSize),
		logger: logger,
	}
}

// ErrQueueFull is returned when the training backlog is at capacity.
var ErrQueueFull = errors.New("training queue is full")

// Enqueue submits a training request without blocking.
func (t *Trainer) Enqueue(req TrainRequest) error {
	select {
	case t.queue <- req:
		return nil
	default:
		return ErrQueueFull
	}
}

// Run processes queued requests until ctx is cancelled.
func (t *Trainer) Run(ctx context.Context) error {
	t.logger.InfoContext(ctx, "model trainer started", "queue_capacity", cap(t.queue))
	for {
		select {
		case <-ctx.Done():
			t.logger.InfoContext(ctx, "model trainer stopping")
			return ctx.Err()
		case req := <-t.queue:
			if _, err := t.svc.Train(ctx, req); err != nil {
				if errors.Is(err, context.Canceled) {
					return err
				}
				t.logger.ErrorContext(ctx, "queued training run failed",
					"model_type", req.ModelType,
					"error", err.Error(),
				)
			}
		}
	}
}
