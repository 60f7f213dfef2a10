package services

import (
	"errors"
	"fmt"

	"github.com/campfire/backend/internal/database"
	"github.com/campfire/backend/internal/ledger"
	"github.com/campfire/backend/internal/lifecycle"
	"github.com/campfire/backend/internal/repository"
)

// Error taxonomy returned by the core. Callers check with errors.Is.
var (
	ErrNotFound  = errors.New("not found")
	ErrForbidden = errors.New("forbidden")
	// ErrInvalidTransition covers both a wrong current state and a wrong role.
	ErrInvalidTransition = lifecycle.ErrInvalidTransition
	// ErrInsufficientCredits is a client reservation the client's available balance cannot cover.
	ErrInsufficientCredits = errors.New("insufficient credits")
	// ErrInsufficientFunds is any other debit the account cannot cover, e.g. a cashout.
	ErrInsufficientFunds = ledger.ErrInsufficientFunds
	ErrAlreadyClaimed    = errors.New("task already claimed")
	// ErrConflict is transient. The caller may retry the same request.
	ErrConflict        = errors.New("concurrent modification, retry")
	ErrAlreadyReviewed = errors.New("task already reviewed by this role")
	// ErrIntegrity means a ledger account is frozen pending administrative review.
	ErrIntegrity = ledger.ErrIntegrity
)

// classify maps store and driver errors onto the taxonomy. Errors already in the
// taxonomy pass through unchanged.
func classify(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, repository.ErrNotFound), errors.Is(err, ledger.ErrAccountNotFound):
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	case errors.Is(err, repository.ErrVersionConflict), database.IsRetryable(err):
		return fmt.Errorf("%w: %v", ErrConflict, err)
	case errors.Is(err, repository.ErrDuplicate):
		return fmt.Errorf("%w: %v", ErrAlreadyReviewed, err)
	case errors.Is(err, ledger.ErrAccountFrozen):
		return fmt.Errorf("%w: %v", ErrIntegrity, err)
	case errors.Is(err, lifecycle.ErrLevelTooLow):
		return fmt.Errorf("%w: %v", ErrForbidden, err)
	}
	return err
}
