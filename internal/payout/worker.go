// Package payout hands cashouts in processing to the payment collaborator and
// records its answer.
package payout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/riverqueue/river"

	"github.com/campfire/backend/internal/jobs"
	"github.com/campfire/backend/internal/metrics"
	"github.com/campfire/backend/internal/models"
	"github.com/campfire/backend/internal/services"
	"github.com/campfire/backend/internal/webhook"
)

const target = "payout"

// Recorder stores the collaborator's answer. *services.CashoutService implements it.
type Recorder interface {
	CompletePayout(ctx context.Context, id uuid.UUID, paid bool) (*models.CashoutRequest, error)
}

type Poster interface {
	Post(ctx context.Context, body, out any) error
}

// Request is the body sent to the payment collaborator.
type Request struct {
	CashoutID    uuid.UUID `json:"cashout_id"`
	ContractorID uuid.UUID `json:"contractor_id"`
	Amount       int64     `json:"amount"`
}

// Response is the collaborator's answer. Status is "paid" or "rejected".
type Response struct {
	Status string `json:"status"`
	Reason string `json:"reason,omitempty"`
}

type Worker struct {
	river.WorkerDefaults[jobs.PayoutArgs]
	recorder Recorder
	poster   Poster
	logger   *slog.Logger
}

func NewWorker(recorder Recorder, poster Poster, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{recorder: recorder, poster: poster, logger: logger}
}

// Work asks for the payment. Network errors and 5xx answers are retried; a 4xx
// answer or an explicit rejection reverses the cashout.
func (w *Worker) Work(ctx context.Context, job *river.Job[jobs.PayoutArgs]) error {
	args := job.Args

	var resp Response
	err := w.poster.Post(ctx, Request{
		CashoutID:    args.CashoutID,
		ContractorID: args.ContractorID,
		Amount:       args.Amount,
	}, &resp)
	switch {
	case webhook.IsPermanent(err):
		metrics.WebhookDeliveries.WithLabelValues(target, metrics.ResultRejected).Inc()
		return w.record(ctx, args.CashoutID, false, err.Error())
	case err != nil:
		metrics.WebhookDeliveries.WithLabelValues(target, metrics.ResultError).Inc()
		return fmt.Errorf("payout for cashout %s: %w", args.CashoutID, err)
	}
	metrics.WebhookDeliveries.WithLabelValues(target, metrics.ResultOK).Inc()

	switch resp.Status {
	case "paid":
		return w.record(ctx, args.CashoutID, true, "")
	case "rejected":
		return w.record(ctx, args.CashoutID, false, resp.Reason)
	default:
		return fmt.Errorf("payout for cashout %s: unknown status %q", args.CashoutID, resp.Status)
	}
}

func (w *Worker) record(ctx context.Context, id uuid.UUID, paid bool, reason string) error {
	_, err := w.recorder.CompletePayout(ctx, id, paid)
	if errors.Is(err, services.ErrInvalidTransition) {
		// An admin resolved the request while the payment was in flight.
		w.logger.Warn("payout answer ignored, cashout already resolved", "cashout_id", id, "paid", paid)
		return nil
	}
	if err != nil {
		return fmt.Errorf("record payout for cashout %s: %w", id, err)
	}
	w.logger.Info("payout recorded", "cashout_id", id, "paid", paid, "reason", reason)
	return nil
}
