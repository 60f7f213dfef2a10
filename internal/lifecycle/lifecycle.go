// Package lifecycle is the task state machine. It is pure: given a task snapshot and a
// request it returns the next status and the ledger effects that must accompany it, or
// a rejection. It performs no I/O.
package lifecycle

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/campfire/backend/internal/models"
)

var (
	// ErrInvalidTransition covers both a wrong current state and a wrong role.
	ErrInvalidTransition = errors.New("invalid transition")
	// ErrPricingOutOfRange marks hours/rate whose reservation overflows.
	ErrPricingOutOfRange = errors.New("task pricing out of range")
	// ErrLevelTooLow is returned on a claim by a contractor below the task's min_level.
	ErrLevelTooLow = errors.New("contractor level below task minimum")
)

// Policy holds business rules the engine does not own.
type Policy struct {
	// PlatformFeeBPS is the platform's cut of task_earned in basis points. 0 pays the
	// contractor the full reserved amount.
	PlatformFeeBPS int
}

// Snapshot is the task as loaded inside the caller's transaction, plus the amount the
// ledger currently holds against it.
type Snapshot struct {
	Task     *models.Task
	Reserved int64
}

// Request describes the attempted transition. Fields resolved from collaborators
// (roles, levels, deliverables) are filled in by the caller before Decide.
type Request struct {
	Actor models.Actor
	Path  Path
	To    models.TaskStatus
	Note  string

	// Admin assignment payload.
	ContractorID   *uuid.UUID
	ContractorRole models.Role

	// Claim path: the claiming contractor's level.
	ActorLevel int

	// Guard for in_progress -> review.
	HasDeliverable bool
}

// Decision is the engine's answer for an accepted request.
type Decision struct {
	From         models.TaskStatus
	Next         models.TaskStatus
	ContractorID *uuid.UUID
	Effects      []Effect
	Note         string
}

type Engine struct {
	policy Policy
}

func New(policy Policy) *Engine {
	return &Engine{policy: policy}
}

// Decide validates the request against the transition table and derives ledger effects.
func (e *Engine) Decide(snap Snapshot, req Request) (Decision, error) {
	if snap.Task == nil {
		return Decision{}, fmt.Errorf("%w: no task", ErrInvalidTransition)
	}
	t := snap.Task
	from := t.Status
	to := req.To
	if req.Path == PathClaim {
		to = models.TaskStatusAssigned
	}
	if req.Path == PathPass {
		to = models.TaskStatusSubmitted
	}

	r, ok := table[edge{req.Actor.Role, req.Path, from, to}]
	if !ok {
		return Decision{}, fmt.Errorf("%w: %s cannot move task from %s to %s via %s",
			ErrInvalidTransition, req.Actor.Role, from, to, req.Path)
	}

	d := Decision{
		From:         from,
		Next:         to,
		ContractorID: t.ContractorID,
		Note:         strings.TrimSpace(req.Note),
	}

	switch {
	case r.needsContractor:
		if req.ContractorID == nil || *req.ContractorID == uuid.Nil {
			return Decision{}, fmt.Errorf("%w: contractor_id is required", ErrInvalidTransition)
		}
		if req.ContractorRole != models.RoleContractor {
			return Decision{}, fmt.Errorf("%w: %s is not a contractor", ErrInvalidTransition, req.ContractorID)
		}
		id := *req.ContractorID
		d.ContractorID = &id
	case r.campfire:
		if !t.CampfireEligible {
			return Decision{}, fmt.Errorf("%w: task is not campfire eligible", ErrInvalidTransition)
		}
		if t.ContractorID != nil {
			return Decision{}, fmt.Errorf("%w: task already has a contractor", ErrInvalidTransition)
		}
		if req.ActorLevel < t.MinLevel {
			return Decision{}, fmt.Errorf("%w: level %d, need %d", ErrLevelTooLow, req.ActorLevel, t.MinLevel)
		}
		id := req.Actor.ID
		d.ContractorID = &id
	}
	if r.needsNote && d.Note == "" {
		return Decision{}, fmt.Errorf("%w: a note is required", ErrInvalidTransition)
	}
	if r.needsDeliverable && !req.HasDeliverable {
		return Decision{}, fmt.Errorf("%w: no deliverable attached", ErrInvalidTransition)
	}

	if !to.HasContractor() {
		d.ContractorID = nil
	}
	if to.HasContractor() != (d.ContractorID != nil) {
		return Decision{}, fmt.Errorf("%w: contractor invariant violated for %s", ErrInvalidTransition, to)
	}

	if to == models.TaskStatusAssigned {
		if err := CheckPricing(t.EstimatedHours, t.HourlyRate); err != nil {
			return Decision{}, fmt.Errorf("%w: %w", ErrInvalidTransition, err)
		}
	}
	d.Effects = e.effectsFor(snap, req.Path, to)
	return d, nil
}
