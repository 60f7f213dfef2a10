// Package notify delivers committed task transitions to the notification collaborator.
package notify

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/riverqueue/river"

	"github.com/campfire/backend/internal/jobs"
	"github.com/campfire/backend/internal/metrics"
	"github.com/campfire/backend/internal/webhook"
)

const target = "notify"

// Poster is the outbound call the worker makes. *webhook.Client implements it.
type Poster interface {
	Enabled() bool
	Post(ctx context.Context, body, out any) error
}

// Event is the body posted for each transition.
type Event struct {
	Type string `json:"type"`
	jobs.NotifyTransitionArgs
}

type Worker struct {
	river.WorkerDefaults[jobs.NotifyTransitionArgs]
	poster Poster
	logger *slog.Logger
}

func NewWorker(poster Poster, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{poster: poster, logger: logger}
}

// Work posts the event. Delivery failures never touch the task; a 4xx answer
// cancels the job, anything else is retried by River.
func (w *Worker) Work(ctx context.Context, job *river.Job[jobs.NotifyTransitionArgs]) error {
	args := job.Args
	if !w.poster.Enabled() {
		w.logger.Debug("notification dropped, no webhook configured", "task_id", args.TaskID, "to", args.To)
		return nil
	}

	err := w.poster.Post(ctx, Event{Type: "task.transition", NotifyTransitionArgs: args}, nil)
	switch {
	case err == nil:
		metrics.WebhookDeliveries.WithLabelValues(target, metrics.ResultOK).Inc()
		return nil
	case webhook.IsPermanent(err):
		metrics.WebhookDeliveries.WithLabelValues(target, metrics.ResultRejected).Inc()
		w.logger.Warn("notification rejected", "task_id", args.TaskID, "to", args.To, "error", err)
		return river.JobCancel(err)
	default:
		metrics.WebhookDeliveries.WithLabelValues(target, metrics.ResultError).Inc()
		return fmt.Errorf("deliver transition %s of task %s: %w", args.To, args.TaskID, err)
	}
}
