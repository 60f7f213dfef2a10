package ledger

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/riverqueue/river"

	"github.com/campfire/backend/internal/jobs"
)

type stubReconciler struct {
	checked, violations int
	err                 error
	calls               int
}

func (s *stubReconciler) ReconcileAll(context.Context) (int, int, error) {
	s.calls++
	return s.checked, s.violations, s.err
}

func TestReconcileWorker(t *testing.T) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	job := &river.Job[jobs.ReconcileLedgerArgs]{}

	ok := &stubReconciler{checked: 3, violations: 1}
	if err := NewReconcileWorker(ok, log).Work(context.Background(), job); err != nil {
		t.Errorf("violations must not fail the job: %v", err)
	}
	if ok.calls != 1 {
		t.Errorf("calls = %d", ok.calls)
	}

	boom := errors.New("pool closed")
	failing := &stubReconciler{err: boom}
	if err := NewReconcileWorker(failing, log).Work(context.Background(), job); !errors.Is(err, boom) {
		t.Errorf("err = %v, want %v", err, boom)
	}
}
