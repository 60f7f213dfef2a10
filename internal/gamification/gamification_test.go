package gamification

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"reflect"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/riverqueue/river"

	"github.com/campfire/backend/internal/jobs"
	"github.com/campfire/backend/internal/models"
)

func intp(v int) *int { return &v }

func TestXPFor(t *testing.T) {
	tests := []struct {
		complexity *int
		want       int64
	}{
		{nil, 100},
		{intp(0), 50},
		{intp(1), 150},
		{intp(5), 350},
	}
	for _, tt := range tests {
		if got := XPFor(tt.complexity); got != tt.want {
			t.Errorf("XPFor(%v) = %d, want %d", tt.complexity, got, tt.want)
		}
	}
}

func TestLevelFor(t *testing.T) {
	tests := []struct {
		xp   int64
		want int
	}{
		{0, 1}, {249, 1}, {250, 2}, {599, 2}, {600, 3}, {9499, 9}, {9500, 10}, {50000, 10},
	}
	for _, tt := range tests {
		if got := LevelFor(tt.xp); got != tt.want {
			t.Errorf("LevelFor(%d) = %d, want %d", tt.xp, got, tt.want)
		}
	}
}

func TestLevelThresholdsIncrease(t *testing.T) {
	for i := 1; i < len(levelThresholds); i++ {
		if levelThresholds[i] <= levelThresholds[i-1] {
			t.Fatalf("threshold %d (%d) not above %d", i, levelThresholds[i], levelThresholds[i-1])
		}
	}
}

func TestCompute_Badges(t *testing.T) {
	id := uuid.New()
	var events []Event
	for i := 0; i < 10; i++ {
		events = append(events, Event{Category: "design", ComplexityLevel: intp(4), XP: XPFor(intp(4))})
	}
	p := Compute(id, events)
	if p.TasksCompleted != 10 || p.XP != 3000 || p.Level != 6 {
		t.Errorf("progress = %+v", p)
	}
	want := []string{BadgeFirstFlame, BadgeHeavyLifter, "category_specialist:design"}
	if !reflect.DeepEqual(p.Badges, want) {
		t.Errorf("badges = %v, want %v", p.Badges, want)
	}

	empty := Compute(id, nil)
	if empty.Level != 1 || len(empty.Badges) != 0 || empty.ByCategory == nil {
		t.Errorf("empty progress = %+v", empty)
	}
}

func TestCompute_SeasonedCamper(t *testing.T) {
	var events []Event
	for i := 0; i < 50; i++ {
		cat := []string{"writing", "design", "research", "data", "ops", "qa"}[i%6]
		events = append(events, Event{Category: cat, ComplexityLevel: intp(1), XP: 150})
	}
	p := Compute(uuid.New(), events)
	want := []string{BadgeFirstFlame, BadgeSeasonedCamper}
	if !reflect.DeepEqual(p.Badges, want) {
		t.Errorf("badges = %v, want %v", p.Badges, want)
	}
}

// ---------------------------------------------------------------------------
// Accumulator over an in-memory store
// ---------------------------------------------------------------------------

type stubTx struct {
	pgx.Tx
	store *memStore
	done  bool
}

func (t *stubTx) Commit(context.Context) error {
	if t.done {
		return pgx.ErrTxClosed
	}
	t.done = true
	t.store.commit()
	return nil
}

func (t *stubTx) Rollback(context.Context) error {
	if t.done {
		return pgx.ErrTxClosed
	}
	t.done = true
	t.store.rollback()
	return nil
}

type memStore struct {
	mu       sync.Mutex
	events   map[uuid.UUID]Event
	pending  []Event
	progress map[uuid.UUID]models.ContractorProgress
	staged   *models.ContractorProgress
	saveErr  error
}

func newMemStore() *memStore {
	return &memStore{events: map[uuid.UUID]Event{}, progress: map[uuid.UUID]models.ContractorProgress{}}
}

func (m *memStore) Begin(context.Context) (pgx.Tx, error) { return &stubTx{store: m}, nil }

func (m *memStore) commit() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.pending {
		m.events[e.TaskID] = e
	}
	if m.staged != nil {
		m.progress[m.staged.ContractorID] = *m.staged
	}
	m.pending, m.staged = nil, nil
}

func (m *memStore) rollback() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pending, m.staged = nil, nil
}

func (m *memStore) LockProgressTx(context.Context, pgx.Tx, uuid.UUID) error { return nil }

func (m *memStore) AddEventTx(_ context.Context, _ pgx.Tx, e Event) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.events[e.TaskID]; ok {
		return false, nil
	}
	m.pending = append(m.pending, e)
	return true, nil
}

func (m *memStore) EventsTx(_ context.Context, _ pgx.Tx, contractorID uuid.UUID) ([]Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Event
	for _, e := range m.events {
		if e.ContractorID == contractorID {
			out = append(out, e)
		}
	}
	for _, e := range m.pending {
		if e.ContractorID == contractorID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *memStore) SaveProgressTx(_ context.Context, _ pgx.Tx, p *models.ContractorProgress) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	cp := *p
	m.staged = &cp
	return nil
}

func (m *memStore) GetProgress(_ context.Context, contractorID uuid.UUID) (*models.ContractorProgress, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.progress[contractorID]
	if !ok {
		zero := Compute(contractorID, nil)
		return &zero, nil
	}
	return &p, nil
}

func newAccumulator(store Store) *Accumulator {
	return NewAccumulator(store, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestRecord_IdempotentPerTask(t *testing.T) {
	store := newMemStore()
	acc := newAccumulator(store)
	ctx := context.Background()
	contractor := uuid.New()
	args := jobs.TaskClosedArgs{TaskID: uuid.New(), ContractorID: contractor, Category: " Writing ", ComplexityLevel: intp(2)}

	added, err := acc.Record(ctx, args)
	if err != nil || !added {
		t.Fatalf("first Record = %v, %v", added, err)
	}
	added, err = acc.Record(ctx, args)
	if err != nil || added {
		t.Fatalf("redelivered Record = %v, %v", added, err)
	}

	p, err := acc.Progress(ctx, contractor)
	if err != nil {
		t.Fatal(err)
	}
	if p.XP != 200 || p.TasksCompleted != 1 || p.ByCategory["writing"] != 1 {
		t.Errorf("progress = %+v", p)
	}
	if !reflect.DeepEqual(p.Badges, []string{BadgeFirstFlame}) {
		t.Errorf("badges = %v", p.Badges)
	}
}

func TestRecord_SaveFailureRollsBack(t *testing.T) {
	store := newMemStore()
	store.saveErr = errors.New("disk full")
	acc := newAccumulator(store)
	args := jobs.TaskClosedArgs{TaskID: uuid.New(), ContractorID: uuid.New()}

	if _, err := acc.Record(context.Background(), args); err == nil {
		t.Fatal("expected error")
	}
	store.saveErr = nil
	added, err := acc.Record(context.Background(), args)
	if err != nil || !added {
		t.Fatalf("retry after failure = %v, %v", added, err)
	}
}

func TestWorker_Work(t *testing.T) {
	store := newMemStore()
	w := NewWorker(newAccumulator(store))
	contractor := uuid.New()
	for i := 0; i < 3; i++ {
		job := &river.Job[jobs.TaskClosedArgs]{Args: jobs.TaskClosedArgs{TaskID: uuid.New(), ContractorID: contractor, ComplexityLevel: intp(0)}}
		if err := w.Work(context.Background(), job); err != nil {
			t.Fatalf("Work: %v", err)
		}
	}
	p, _ := store.GetProgress(context.Background(), contractor)
	if p.XP != 150 || p.TasksCompleted != 3 {
		t.Errorf("progress = %+v", p)
	}
}
