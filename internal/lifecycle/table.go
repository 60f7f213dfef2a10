package lifecycle

import "github.com/campfire/backend/internal/models"

// Path is the entry point a transition request arrived through.
type Path int

const (
	// PathDirect is RequestTransition.
	PathDirect Path = iota
	// PathClaim is a campfire claim by an unassigned contractor.
	PathClaim
	// PathPass is the assigned contractor handing a task back to the campfire.
	PathPass
)

func (p Path) String() string {
	switch p {
	case PathClaim:
		return "claim"
	case PathPass:
		return "pass"
	default:
		return "direct"
	}
}

type edge struct {
	role models.Role
	path Path
	from models.TaskStatus
	to   models.TaskStatus
}

type rule struct {
	needsContractor  bool
	needsNote        bool
	needsDeliverable bool
	campfire         bool
}

var table = map[edge]rule{
	{models.RoleAdmin, PathDirect, models.TaskStatusSubmitted, models.TaskStatusAssigned}: {needsContractor: true},
	{models.RoleAdmin, PathDirect, models.TaskStatusReview, models.TaskStatusApproved}:    {},
	{models.RoleAdmin, PathDirect, models.TaskStatusReview, models.TaskStatusRevision}:    {needsNote: true},
	{models.RoleAdmin, PathDirect, models.TaskStatusApproved, models.TaskStatusClosed}:    {},

	{models.RoleContractor, PathDirect, models.TaskStatusAssigned, models.TaskStatusInProgress}: {},
	{models.RoleContractor, PathDirect, models.TaskStatusInProgress, models.TaskStatusReview}:   {needsDeliverable: true},
	{models.RoleContractor, PathDirect, models.TaskStatusRevision, models.TaskStatusInProgress}: {},

	{models.RoleContractor, PathClaim, models.TaskStatusSubmitted, models.TaskStatusAssigned}: {campfire: true},
	{models.RoleContractor, PathPass, models.TaskStatusAssigned, models.TaskStatusSubmitted}:  {},
}

// cancellable lists every pre-closed state an admin may cancel from.
var cancellable = []models.TaskStatus{
	models.TaskStatusSubmitted,
	models.TaskStatusAssigned,
	models.TaskStatusInProgress,
	models.TaskStatusReview,
	models.TaskStatusRevision,
	models.TaskStatusApproved,
}

func init() {
	for _, from := range cancellable {
		table[edge{models.RoleAdmin, PathDirect, from, models.TaskStatusCancelled}] = rule{}
	}
}

// Allowed reports whether the (role, path, from, to) edge exists, ignoring payload guards.
func Allowed(role models.Role, path Path, from, to models.TaskStatus) bool {
	_, ok := table[edge{role, path, from, to}]
	return ok
}

// NeedsDeliverable reports whether the edge is guarded by the attachment collaborator.
func NeedsDeliverable(role models.Role, from, to models.TaskStatus) bool {
	r, ok := table[edge{role, PathDirect, from, to}]
	return ok && r.needsDeliverable
}
