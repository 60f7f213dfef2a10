package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/riverqueue/river"

	"github.com/campfire/backend/internal/ledger"
	"github.com/campfire/backend/internal/lifecycle"
	"github.com/campfire/backend/internal/models"
	"github.com/campfire/backend/internal/repository"
)

// ---------------------------------------------------------------------------
// memDB: an in-memory stand-in for Postgres. Transactions are serialized by
// txMu and restore a snapshot of all state on Rollback, so atomicity and the
// claim race can be asserted without a database.
// ---------------------------------------------------------------------------

type memAccount struct {
	id     uuid.UUID
	owner  uuid.UUID
	kind   models.AccountKind
	bal    models.Balance
	frozen bool
}

type memState struct {
	tasks    map[uuid.UUID]*models.Task
	history  []models.TaskHistoryEntry
	accounts map[uuid.UUID]memAccount
	txns     []models.LedgerTransaction
	cashouts map[uuid.UUID]models.CashoutRequest
	reviews  []models.Review
	txJobs   []river.JobArgs
}

func newMemState() *memState {
	return &memState{
		tasks:    map[uuid.UUID]*models.Task{},
		accounts: map[uuid.UUID]memAccount{},
		cashouts: map[uuid.UUID]models.CashoutRequest{},
	}
}

func (s *memState) clone() *memState {
	cp := newMemState()
	for k, t := range s.tasks {
		cp.tasks[k] = t.Clone()
	}
	for k, a := range s.accounts {
		cp.accounts[k] = a
	}
	for k, c := range s.cashouts {
		cp.cashouts[k] = c
	}
	cp.history = append(cp.history, s.history...)
	cp.txns = append(cp.txns, s.txns...)
	cp.reviews = append(cp.reviews, s.reviews...)
	cp.txJobs = append(cp.txJobs, s.txJobs...)
	return cp
}

type memDB struct {
	txMu sync.Mutex

	mu           sync.Mutex
	st           *memState
	users        map[uuid.UUID]models.User
	deliverables map[uuid.UUID]bool
	jobs         []river.JobArgs
	fail         map[string]error
	historySeq   int64
	// beforeClaim runs inside ClaimTx ahead of the compare-and-swap, standing
	// in for a rival transaction that commits after our read.
	beforeClaim func(st *memState, id uuid.UUID)
}

func newMemDB() *memDB {
	return &memDB{
		st:           newMemState(),
		users:        map[uuid.UUID]models.User{},
		deliverables: map[uuid.UUID]bool{},
		fail:         map[string]error{},
	}
}

// failOnce makes the next call of the named method return err.
func (db *memDB) failOnce(method string, err error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.fail[method] = err
}

// takeFail must be called with mu held.
func (db *memDB) takeFail(method string) error {
	err := db.fail[method]
	delete(db.fail, method)
	return err
}

type memTx struct {
	db    *memDB
	saved *memState
	done  bool
}

func (db *memDB) Begin(context.Context) (pgx.Tx, error) {
	db.txMu.Lock()
	db.mu.Lock()
	saved := db.st.clone()
	db.mu.Unlock()
	return &memTx{db: db, saved: saved}, nil
}

func (t *memTx) Commit(context.Context) error {
	if t.done {
		return pgx.ErrTxClosed
	}
	t.done = true
	t.db.txMu.Unlock()
	return nil
}

func (t *memTx) Rollback(context.Context) error {
	if t.done {
		return pgx.ErrTxClosed
	}
	t.done = true
	t.db.mu.Lock()
	t.db.st = t.saved
	t.db.mu.Unlock()
	t.db.txMu.Unlock()
	return nil
}

func (t *memTx) Begin(context.Context) (pgx.Tx, error) { return nil, errors.New("nested tx unsupported") }
func (t *memTx) Exec(context.Context, string, ...any) (pgconn.CommandTag, error) {
	return pgconn.NewCommandTag(""), nil
}
func (t *memTx) Query(context.Context, string, ...any) (pgx.Rows, error) { return nil, nil }
func (t *memTx) QueryRow(context.Context, string, ...any) pgx.Row        { return nil }
func (t *memTx) CopyFrom(context.Context, pgx.Identifier, []string, pgx.CopyFromSource) (int64, error) {
	return 0, nil
}
func (t *memTx) SendBatch(context.Context, *pgx.Batch) pgx.BatchResults { return nil }
func (t *memTx) LargeObjects() pgx.LargeObjects                         { return pgx.LargeObjects{} }
func (t *memTx) Prepare(context.Context, string, string) (*pgconn.StatementDescription, error) {
	return nil, nil
}
func (t *memTx) Conn() *pgx.Conn { return nil }

// --- TaskStore / TaskCreator ---

type memTasks struct{ db *memDB }

func (m memTasks) Create(_ context.Context, t *models.Task) error {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	now := time.Now()
	t.CreatedAt, t.UpdatedAt = now, now
	t.Version = 1
	m.db.st.tasks[t.ID] = t.Clone()
	return nil
}

func (m memTasks) GetTx(_ context.Context, _ pgx.Tx, id uuid.UUID) (*models.Task, error) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	t, ok := m.db.st.tasks[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return t.Clone(), nil
}

func (m memTasks) GetForUpdateTx(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.Task, error) {
	return m.GetTx(ctx, tx, id)
}

func (m memTasks) UpdateLifecycleTx(_ context.Context, _ pgx.Tx, t *models.Task, expectVersion int) error {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	if err := m.db.takeFail("UpdateLifecycleTx"); err != nil {
		return err
	}
	cur, ok := m.db.st.tasks[t.ID]
	if !ok {
		return repository.ErrNotFound
	}
	if cur.Version != expectVersion {
		return repository.ErrVersionConflict
	}
	if t.Status.HasContractor() != (t.ContractorID != nil) {
		return fmt.Errorf("check constraint tasks_contractor_matches_status violated")
	}
	t.Version = expectVersion + 1
	t.UpdatedAt = time.Now()
	m.db.st.tasks[t.ID] = t.Clone()
	return nil
}

func (m memTasks) ClaimTx(_ context.Context, _ pgx.Tx, id, contractorID uuid.UUID, level int) (*models.Task, error) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	if hook := m.db.beforeClaim; hook != nil {
		m.db.beforeClaim = nil
		hook(m.db.st, id)
	}
	cur, ok := m.db.st.tasks[id]
	if !ok || cur.Status != models.TaskStatusSubmitted || !cur.CampfireEligible || cur.ContractorID != nil || cur.MinLevel > level {
		return nil, repository.ErrNotClaimable
	}
	next := cur.Clone()
	c := contractorID
	next.Status = models.TaskStatusAssigned
	next.ContractorID = &c
	next.AssignmentCycle++
	next.Version++
	next.UpdatedAt = time.Now()
	m.db.st.tasks[id] = next
	return next.Clone(), nil
}

func (m memTasks) AppendHistoryTx(_ context.Context, _ pgx.Tx, e *models.TaskHistoryEntry) error {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	if err := m.db.takeFail("AppendHistoryTx"); err != nil {
		return err
	}
	m.db.historySeq++
	e.ID = m.db.historySeq
	e.CreatedAt = time.Now()
	m.db.st.history = append(m.db.st.history, *e)
	return nil
}

func (m memTasks) ListHistory(_ context.Context, taskID uuid.UUID) ([]models.TaskHistoryEntry, error) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	var out []models.TaskHistoryEntry
	for _, e := range m.db.st.history {
		if e.TaskID == taskID {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// --- Ledger ---

type memLedger struct{ db *memDB }

func (m memLedger) EnsureAccount(_ context.Context, _ pgx.Tx, owner uuid.UUID, kind models.AccountKind) (uuid.UUID, error) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	return m.db.ensureAccountLocked(owner, kind), nil
}

func (db *memDB) ensureAccountLocked(owner uuid.UUID, kind models.AccountKind) uuid.UUID {
	for _, a := range db.st.accounts {
		if a.owner == owner && a.kind == kind {
			return a.id
		}
	}
	a := memAccount{id: uuid.New(), owner: owner, kind: kind}
	a.bal.AccountID = a.id
	db.st.accounts[a.id] = a
	return a.id
}

func (m memLedger) LockAccounts(_ context.Context, _ pgx.Tx, ids ...uuid.UUID) error {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	for _, id := range ids {
		if _, ok := m.db.st.accounts[id]; !ok {
			return ledger.ErrAccountNotFound
		}
	}
	return nil
}

func (m memLedger) TaskHeld(_ context.Context, _ pgx.Tx, accountID, taskID uuid.UUID) (int64, error) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	var held int64
	for _, e := range m.db.st.txns {
		if e.AccountID == accountID && e.RelatedTaskID != nil && *e.RelatedTaskID == taskID {
			held += e.HeldDelta
		}
	}
	return held, nil
}

func (m memLedger) ApplyTransaction(_ context.Context, _ pgx.Tx, e ledger.Entry) (bool, error) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	for _, t := range m.db.st.txns {
		if t.IdempotencyKey == e.IdempotencyKey {
			return false, nil
		}
	}
	a, ok := m.db.st.accounts[e.AccountID]
	if !ok {
		return false, ledger.ErrAccountNotFound
	}
	if a.frozen {
		return false, ledger.ErrAccountFrozen
	}
	if a.bal.Available+e.AvailableDelta < 0 || a.bal.Held+e.HeldDelta < 0 {
		return false, ledger.ErrInsufficientFunds
	}
	a.bal.Available += e.AvailableDelta
	a.bal.Held += e.HeldDelta
	a.bal.TotalLifetime += e.LifetimeDelta
	m.db.st.accounts[e.AccountID] = a
	m.db.st.txns = append(m.db.st.txns, models.LedgerTransaction{
		ID:             uuid.New(),
		AccountID:      e.AccountID,
		Amount:         e.Amount,
		AvailableDelta: e.AvailableDelta,
		HeldDelta:      e.HeldDelta,
		LifetimeDelta:  e.LifetimeDelta,
		Reason:         e.Reason,
		RelatedTaskID:  e.TaskID,
		IdempotencyKey: e.IdempotencyKey,
		CreatedAt:      time.Now(),
	})
	return true, nil
}

// --- Identity / Attachments ---

type memIdentity struct{ db *memDB }

func (m memIdentity) GetRole(_ context.Context, id uuid.UUID) (models.Role, error) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	u, ok := m.db.users[id]
	if !ok {
		return "", repository.ErrNotFound
	}
	return u.Role, nil
}

func (m memIdentity) GetContractorLevel(_ context.Context, id uuid.UUID) (int, error) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	u, ok := m.db.users[id]
	if !ok || u.Role != models.RoleContractor {
		return 0, repository.ErrNotFound
	}
	return u.Level, nil
}

type memAttachments struct{ db *memDB }

func (m memAttachments) HasDeliverable(_ context.Context, taskID uuid.UUID) (bool, error) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	return m.db.deliverables[taskID], nil
}

// --- Enqueuer ---

type memJobs struct{ db *memDB }

func (m memJobs) InsertTx(_ context.Context, _ pgx.Tx, args river.JobArgs) error {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	if err := m.db.takeFail("InsertTx"); err != nil {
		return err
	}
	m.db.st.txJobs = append(m.db.st.txJobs, args)
	return nil
}

func (m memJobs) Insert(_ context.Context, args river.JobArgs) error {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	if err := m.db.takeFail("Insert"); err != nil {
		return err
	}
	m.db.jobs = append(m.db.jobs, args)
	return nil
}

// --- CashoutStore ---

type memCashouts struct{ db *memDB }

func (m memCashouts) CreateTx(_ context.Context, _ pgx.Tx, c *models.CashoutRequest) error {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	c.CreatedAt = time.Now()
	m.db.st.cashouts[c.ID] = *c
	return nil
}

func (m memCashouts) GetForUpdateTx(_ context.Context, _ pgx.Tx, id uuid.UUID) (*models.CashoutRequest, error) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	c, ok := m.db.st.cashouts[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &c, nil
}

func (m memCashouts) UpdateStatusTx(_ context.Context, _ pgx.Tx, c *models.CashoutRequest) error {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	if c.Status == models.CashoutCompleted || c.Status == models.CashoutRejected {
		now := time.Now()
		c.ResolvedAt = &now
	}
	m.db.st.cashouts[c.ID] = *c
	return nil
}

func (m memCashouts) ListByContractor(_ context.Context, contractorID uuid.UUID) ([]*models.CashoutRequest, error) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	var out []*models.CashoutRequest
	for _, c := range m.db.st.cashouts {
		if c.ContractorID == contractorID {
			cp := c
			out = append(out, &cp)
		}
	}
	return out, nil
}

// --- ReviewStore ---

type memReviews struct{ db *memDB }

func (m memReviews) CreateTx(_ context.Context, _ pgx.Tx, rv *models.Review) error {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	for _, r := range m.db.st.reviews {
		if r.TaskID == rv.TaskID && r.ReviewerRole == rv.ReviewerRole {
			return repository.ErrDuplicate
		}
	}
	rv.CreatedAt = time.Now()
	m.db.st.reviews = append(m.db.st.reviews, *rv)
	return nil
}

func (m memReviews) ListByTask(_ context.Context, taskID uuid.UUID) ([]models.Review, error) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	var out []models.Review
	for _, r := range m.db.st.reviews {
		if r.TaskID == taskID {
			out = append(out, r)
		}
	}
	return out, nil
}

// ---------------------------------------------------------------------------
// Fixture
// ---------------------------------------------------------------------------

type fixture struct {
	db       *memDB
	svc      *TransitionService
	claims   *ClaimCoordinator
	cashouts *CashoutService
	reviews  *ReviewService
	tasks    *TaskService

	admin, client, contractor uuid.UUID
}

func newFixture(t *testing.T, policy lifecycle.Policy) *fixture {
	t.Helper()
	db := newMemDB()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := NewTransitionService(db, memTasks{db}, memLedger{db}, memIdentity{db}, memAttachments{db}, memJobs{db}, lifecycle.New(policy), logger)
	f := &fixture{
		db:       db,
		svc:      svc,
		claims:   NewClaimCoordinator(svc),
		cashouts: NewCashoutService(db, memCashouts{db}, memLedger{db}, memIdentity{db}, memJobs{db}, true, logger),
		reviews:  NewReviewService(db, memTasks{db}, memReviews{db}, memIdentity{db}),
		tasks:    NewTaskService(memTasks{db}, memIdentity{db}, logger),
	}
	f.admin = f.addUser(models.RoleAdmin, 1)
	f.client = f.addUser(models.RoleClient, 1)
	f.contractor = f.addUser(models.RoleContractor, 2)
	return f
}

func (f *fixture) addUser(role models.Role, level int) uuid.UUID {
	id := uuid.New()
	f.db.mu.Lock()
	f.db.users[id] = models.User{ID: id, Role: role, Level: level}
	f.db.mu.Unlock()
	return id
}

// grant credits an account through a ledger row so the log and balance agree.
func (f *fixture) grant(t *testing.T, owner uuid.UUID, kind models.AccountKind, amount int64) {
	t.Helper()
	ctx := context.Background()
	tx, _ := f.db.Begin(ctx)
	l := memLedger{f.db}
	acct, _ := l.EnsureAccount(ctx, tx, owner, kind)
	if _, err := l.ApplyTransaction(ctx, tx, ledger.Entry{
		AccountID:      acct,
		Amount:         amount,
		AvailableDelta: amount,
		LifetimeDelta:  amount,
		Reason:         models.ReasonCreditsGranted,
		IdempotencyKey: "grant:" + uuid.NewString(),
	}); err != nil {
		t.Fatalf("grant: %v", err)
	}
	if err := tx.Commit(ctx); err != nil {
		t.Fatalf("grant commit: %v", err)
	}
}

// campfireTask is the 5h x 20 credit task used across scenarios.
func (f *fixture) campfireTask(t *testing.T) uuid.UUID {
	t.Helper()
	hours, rate, complexity := 5.0, int64(20), 2
	task, err := f.tasks.Submit(context.Background(), models.Actor{ID: f.client}, TaskSubmission{
		Title:            "Landing page copy",
		Category:         "Writing",
		ComplexityLevel:  &complexity,
		EstimatedHours:   &hours,
		HourlyRate:       &rate,
		CampfireEligible: true,
		MinLevel:         1,
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	return task.ID
}

func (f *fixture) balance(owner uuid.UUID, kind models.AccountKind) models.Balance {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	for _, a := range f.db.st.accounts {
		if a.owner == owner && a.kind == kind {
			return a.bal
		}
	}
	return models.Balance{}
}

func (f *fixture) task(id uuid.UUID) *models.Task {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	return f.db.st.tasks[id].Clone()
}

func (f *fixture) ledgerRows(taskID uuid.UUID, reason string) int {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	n := 0
	for _, e := range f.db.st.txns {
		if e.RelatedTaskID != nil && *e.RelatedTaskID == taskID && e.Reason == reason {
			n++
		}
	}
	return n
}

func (f *fixture) historyLen(taskID uuid.UUID) int {
	h, _ := memTasks{f.db}.ListHistory(context.Background(), taskID)
	return len(h)
}

func (f *fixture) addDeliverable(taskID uuid.UUID) {
	f.db.mu.Lock()
	f.db.deliverables[taskID] = true
	f.db.mu.Unlock()
}

// assertInvariants checks the contractor/status rule on every task and that
// every account is non-negative and equal to the sum of its log.
func (f *fixture) assertInvariants(t *testing.T) {
	t.Helper()
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	for id, task := range f.db.st.tasks {
		if task.Status.HasContractor() != (task.ContractorID != nil) {
			t.Errorf("task %s: status %s with contractor %v", id, task.Status, task.ContractorID)
		}
	}
	for id, a := range f.db.st.accounts {
		if a.bal.Available < 0 || a.bal.Held < 0 {
			t.Errorf("account %s negative: %+v", id, a.bal)
		}
		var sum models.Balance
		for _, e := range f.db.st.txns {
			if e.AccountID == id {
				sum.Available += e.AvailableDelta
				sum.Held += e.HeldDelta
				sum.TotalLifetime += e.LifetimeDelta
			}
		}
		if sum.Available != a.bal.Available || sum.Held != a.bal.Held || sum.TotalLifetime != a.bal.TotalLifetime {
			t.Errorf("account %s drifted from log: stored %+v log %+v", id, a.bal, sum)
		}
	}
}
