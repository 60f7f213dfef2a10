package payout

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/riverqueue/river"

	"github.com/campfire/backend/internal/jobs"
	"github.com/campfire/backend/internal/models"
	"github.com/campfire/backend/internal/services"
	"github.com/campfire/backend/internal/webhook"
)

// ---------------------------------------------------------------------------
// Mock recorder
// ---------------------------------------------------------------------------

type mockRecorder struct {
	mu    sync.Mutex
	calls []bool
	err   error
}

func (m *mockRecorder) CompletePayout(_ context.Context, id uuid.UUID, paid bool) (*models.CashoutRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, paid)
	if m.err != nil {
		return nil, m.err
	}
	return &models.CashoutRequest{ID: id}, nil
}

func newWorker(t *testing.T, h http.HandlerFunc, rec *mockRecorder) *Worker {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewWorker(rec, webhook.New(srv.URL, time.Second), slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func payoutJob() *river.Job[jobs.PayoutArgs] {
	return &river.Job[jobs.PayoutArgs]{Args: jobs.PayoutArgs{CashoutID: uuid.New(), ContractorID: uuid.New(), Amount: 75}}
}

func answer(status string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req Request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Amount != 75 {
			http.Error(w, "bad body", http.StatusBadRequest)
			return
		}
		_ = json.NewEncoder(w).Encode(Response{Status: status})
	}
}

// ---------------------------------------------------------------------------
// Tests
// ---------------------------------------------------------------------------

func TestWork_Paid(t *testing.T) {
	rec := &mockRecorder{}
	if err := newWorker(t, answer("paid"), rec).Work(context.Background(), payoutJob()); err != nil {
		t.Fatalf("Work: %v", err)
	}
	if len(rec.calls) != 1 || !rec.calls[0] {
		t.Errorf("calls = %v, want [true]", rec.calls)
	}
}

func TestWork_Rejected(t *testing.T) {
	rec := &mockRecorder{}
	if err := newWorker(t, answer("rejected"), rec).Work(context.Background(), payoutJob()); err != nil {
		t.Fatalf("Work: %v", err)
	}
	if len(rec.calls) != 1 || rec.calls[0] {
		t.Errorf("calls = %v, want [false]", rec.calls)
	}
}

func TestWork_ClientErrorReverses(t *testing.T) {
	rec := &mockRecorder{}
	w := newWorker(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "account closed", http.StatusUnprocessableEntity)
	}, rec)
	if err := w.Work(context.Background(), payoutJob()); err != nil {
		t.Fatalf("Work: %v", err)
	}
	if len(rec.calls) != 1 || rec.calls[0] {
		t.Errorf("calls = %v, want [false]", rec.calls)
	}
}

func TestWork_ServerErrorRetries(t *testing.T) {
	rec := &mockRecorder{}
	w := newWorker(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}, rec)
	if err := w.Work(context.Background(), payoutJob()); err == nil {
		t.Fatal("expected retryable error")
	}
	if len(rec.calls) != 0 {
		t.Errorf("recorder called on retryable failure: %v", rec.calls)
	}
}

func TestWork_UnknownStatusRetries(t *testing.T) {
	rec := &mockRecorder{}
	if err := newWorker(t, answer("pending"), rec).Work(context.Background(), payoutJob()); err == nil {
		t.Fatal("expected error for unknown status")
	}
}

func TestWork_AlreadyResolvedIsIgnored(t *testing.T) {
	rec := &mockRecorder{err: fmt.Errorf("%w: cashout is rejected", services.ErrInvalidTransition)}
	if err := newWorker(t, answer("paid"), rec).Work(context.Background(), payoutJob()); err != nil {
		t.Fatalf("Work: %v", err)
	}
}
