package models

import (
	"time"

	"github.com/google/uuid"
)

// TaskStatus is a lifecycle state of a task.
type TaskStatus string

const (
	TaskStatusSubmitted  TaskStatus = "submitted"
	TaskStatusAssigned   TaskStatus = "assigned"
	TaskStatusInProgress TaskStatus = "in_progress"
	TaskStatusReview     TaskStatus = "review"
	TaskStatusRevision   TaskStatus = "revision"
	TaskStatusApproved   TaskStatus = "approved"
	TaskStatusClosed     TaskStatus = "closed"
	TaskStatusCancelled  TaskStatus = "cancelled"
)

// Valid reports whether s is a known status.
func (s TaskStatus) Valid() bool {
	switch s {
	case TaskStatusSubmitted, TaskStatusAssigned, TaskStatusInProgress, TaskStatusReview,
		TaskStatusRevision, TaskStatusApproved, TaskStatusClosed, TaskStatusCancelled:
		return true
	}
	return false
}

// HasContractor reports whether a task in status s must carry a contractor.
func (s TaskStatus) HasContractor() bool {
	switch s {
	case TaskStatusAssigned, TaskStatusInProgress, TaskStatusReview,
		TaskStatusRevision, TaskStatusApproved, TaskStatusClosed:
		return true
	}
	return false
}

// Task priority values.
const (
	PriorityLow    = "low"
	PriorityNormal = "normal"
	PriorityHigh   = "high"
	PriorityUrgent = "urgent"
)

type Task struct {
	ID               uuid.UUID  `json:"id"`
	Title            string     `json:"title"`
	Category         string     `json:"category"`
	Status           TaskStatus `json:"status"`
	ClientID         uuid.UUID  `json:"client_id"`
	ContractorID     *uuid.UUID `json:"contractor_id,omitempty"`
	Priority         string     `json:"priority"`
	ComplexityLevel  *int       `json:"complexity_level,omitempty"` // 0 = AI-assist tier
	EstimatedHours   *float64   `json:"estimated_hours,omitempty"`
	HourlyRate       *int64     `json:"hourly_rate,omitempty"`
	CampfireEligible bool       `json:"campfire_eligible"`
	MinLevel         int        `json:"min_level"`
	Deadline         *time.Time `json:"deadline,omitempty"`
	AssignmentCycle  int        `json:"assignment_cycle"`
	Version          int        `json:"version"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// Clone returns a deep copy so callers can mutate the result without aliasing.
func (t *Task) Clone() *Task {
	cp := *t
	if t.ContractorID != nil {
		id := *t.ContractorID
		cp.ContractorID = &id
	}
	if t.ComplexityLevel != nil {
		v := *t.ComplexityLevel
		cp.ComplexityLevel = &v
	}
	if t.EstimatedHours != nil {
		v := *t.EstimatedHours
		cp.EstimatedHours = &v
	}
	if t.HourlyRate != nil {
		v := *t.HourlyRate
		cp.HourlyRate = &v
	}
	if t.Deadline != nil {
		v := *t.Deadline
		cp.Deadline = &v
	}
	return &cp
}

// TaskHistoryEntry is one committed status transition. Append-only.
type TaskHistoryEntry struct {
	ID         int64      `json:"id"`
	TaskID     uuid.UUID  `json:"task_id"`
	FromStatus TaskStatus `json:"from_status"`
	ToStatus   TaskStatus `json:"to_status"`
	ActorID    uuid.UUID  `json:"actor_id"`
	Note       string     `json:"note,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}
