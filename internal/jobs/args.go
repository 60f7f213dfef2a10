package jobs

import (
	"time"

	"github.com/google/uuid"
	"github.com/riverqueue/river"
)

// Queue names. Each gets its own worker pool in the River client config.
const (
	QueueGamification = "gamification"
	QueueNotify       = "notify"
	QueuePayout       = "payout"
	QueueMaintenance  = "maintenance"
)

// TaskClosedArgs is the task-closed event for the gamification accumulator. It is
// inserted inside the transition's transaction, so it exists iff the close committed.
type TaskClosedArgs struct {
	TaskID          uuid.UUID `json:"task_id"`
	ContractorID    uuid.UUID `json:"contractor_id"`
	Category        string    `json:"category"`
	ComplexityLevel *int      `json:"complexity_level,omitempty"`
}

func (TaskClosedArgs) Kind() string { return "task_closed" }

func (TaskClosedArgs) InsertOpts() river.InsertOpts {
	return river.InsertOpts{
		Queue:      QueueGamification,
		UniqueOpts: river.UniqueOpts{ByArgs: true},
	}
}

// NotifyTransitionArgs is emitted after a transition commits.
type NotifyTransitionArgs struct {
	TaskID       uuid.UUID  `json:"task_id"`
	ActorID      uuid.UUID  `json:"actor_id"`
	ClientID     uuid.UUID  `json:"client_id"`
	ContractorID *uuid.UUID `json:"contractor_id,omitempty"`
	From         string     `json:"from"`
	To           string     `json:"to"`
	Note         string     `json:"note,omitempty"`
	OccurredAt   time.Time  `json:"occurred_at"`
}

func (NotifyTransitionArgs) Kind() string { return "notify_transition" }

func (NotifyTransitionArgs) InsertOpts() river.InsertOpts {
	return river.InsertOpts{Queue: QueueNotify, MaxAttempts: 5}
}

// PayoutArgs asks the payment collaborator to pay out a cashout in processing.
type PayoutArgs struct {
	CashoutID    uuid.UUID `json:"cashout_id"`
	ContractorID uuid.UUID `json:"contractor_id"`
	Amount       int64     `json:"amount"`
}

func (PayoutArgs) Kind() string { return "cashout_payout" }

func (PayoutArgs) InsertOpts() river.InsertOpts {
	return river.InsertOpts{
		Queue:       QueuePayout,
		MaxAttempts: 10,
		UniqueOpts:  river.UniqueOpts{ByArgs: true},
	}
}

// ReconcileLedgerArgs triggers a full balance-versus-log reconciliation.
type ReconcileLedgerArgs struct{}

func (ReconcileLedgerArgs) Kind() string { return "reconcile_ledger" }

func (ReconcileLedgerArgs) InsertOpts() river.InsertOpts {
	return river.InsertOpts{Queue: QueueMaintenance, MaxAttempts: 1}
}
