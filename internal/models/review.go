package models

import (
	"time"

	"github.com/google/uuid"
)

// Review is post-closure feedback. At most one per (task, reviewer role).
type Review struct {
	ID           uuid.UUID `json:"id"`
	TaskID       uuid.UUID `json:"task_id"`
	ReviewerID   uuid.UUID `json:"reviewer_id"`
	ReviewerRole Role      `json:"reviewer_role"`
	Rating       int       `json:"rating"`
	Comment      string    `json:"comment,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// ContractorProgress is the gamification projection for one contractor.
// It lags the ledger and must not feed lifecycle or financial decisions.
type ContractorProgress struct {
	ContractorID   uuid.UUID      `json:"contractor_id"`
	XP             int64          `json:"xp"`
	Level          int            `json:"level"`
	TasksCompleted int            `json:"tasks_completed"`
	ByCategory     map[string]int `json:"by_category"`
	Badges         []string       `json:"badges"`
	UpdatedAt      time.Time      `json:"updated_at"`
}
