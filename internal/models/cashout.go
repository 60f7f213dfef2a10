package models

import (
	"time"

	"github.com/google/uuid"
)

type CashoutStatus string

const (
	CashoutPending    CashoutStatus = "pending"
	CashoutProcessing CashoutStatus = "processing"
	CashoutCompleted  CashoutStatus = "completed"
	CashoutRejected   CashoutStatus = "rejected"
)

type CashoutRequest struct {
	ID           uuid.UUID     `json:"id"`
	ContractorID uuid.UUID     `json:"contractor_id"`
	Amount       int64         `json:"amount"`
	Status       CashoutStatus `json:"status"`
	CreatedAt    time.Time     `json:"created_at"`
	ResolvedAt   *time.Time    `json:"resolved_at,omitempty"`
}
