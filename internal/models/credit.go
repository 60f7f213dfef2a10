package models

import (
	"time"

	"github.com/google/uuid"
)

// AccountKind distinguishes the ledgers an owner can hold.
type AccountKind string

const (
	AccountClientCredits      AccountKind = "client_credits"
	AccountContractorEarnings AccountKind = "contractor_earnings"
	AccountPlatformRevenue    AccountKind = "platform_revenue"
)

// Ledger transaction reasons.
const (
	ReasonTaskReserved     = "task_reserved"
	ReasonTaskPaid         = "task_paid"
	ReasonTaskEarned       = "task_earned"
	ReasonPlatformFee      = "platform_fee"
	ReasonTaskCancelled    = "task_cancelled"
	ReasonTaskReleased     = "task_released"
	ReasonCreditsGranted   = "credits_granted"
	ReasonCashoutRequested = "cashout_requested"
	ReasonCashoutReversed  = "cashout_reversed"
)

type LedgerAccount struct {
	ID            uuid.UUID   `json:"id"`
	OwnerID       uuid.UUID   `json:"owner_id"`
	Kind          AccountKind `json:"kind"`
	Available     int64       `json:"available"`
	Held          int64       `json:"held"`
	TotalLifetime int64       `json:"total_lifetime"`
	Frozen        bool        `json:"frozen"`
	CreatedAt     time.Time   `json:"created_at"`
	UpdatedAt     time.Time   `json:"updated_at"`
}

// Balance is the read projection returned by GetBalance.
type Balance struct {
	AccountID     uuid.UUID `json:"account_id"`
	Available     int64     `json:"available"`
	Held          int64     `json:"held"`
	TotalLifetime int64     `json:"total_lifetime"`
}

// LedgerTransaction is an immutable ledger row. Balances are the sum of the deltas.
type LedgerTransaction struct {
	ID             uuid.UUID  `json:"id"`
	AccountID      uuid.UUID  `json:"account_id"`
	Amount         int64      `json:"amount"`
	AvailableDelta int64      `json:"available_delta"`
	HeldDelta      int64      `json:"held_delta"`
	LifetimeDelta  int64      `json:"lifetime_delta"`
	Reason         string     `json:"reason"`
	RelatedTaskID  *uuid.UUID `json:"related_task_id,omitempty"`
	IdempotencyKey string     `json:"idempotency_key"`
	CreatedAt      time.Time  `json:"created_at"`
}
