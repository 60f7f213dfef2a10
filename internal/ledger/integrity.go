package ledger

import (
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/campfire/backend/internal/models"
)

// Snapshot pairs the materialized balance with the balance summed from the log.
type Snapshot struct {
	AccountID uuid.UUID
	OwnerID   uuid.UUID
	Kind      models.AccountKind
	Frozen    bool
	Stored    models.Balance
	Ledger    models.Balance
}

// checkIntegrity returns a description of every broken invariant, or "".
func checkIntegrity(s *Snapshot) string {
	var problems []string
	if s.Stored.Available != s.Ledger.Available {
		problems = append(problems, fmt.Sprintf("available %d != log %d", s.Stored.Available, s.Ledger.Available))
	}
	if s.Stored.Held != s.Ledger.Held {
		problems = append(problems, fmt.Sprintf("held %d != log %d", s.Stored.Held, s.Ledger.Held))
	}
	if s.Stored.TotalLifetime != s.Ledger.TotalLifetime {
		problems = append(problems, fmt.Sprintf("total_lifetime %d != log %d", s.Stored.TotalLifetime, s.Ledger.TotalLifetime))
	}
	if s.Ledger.Available < 0 || s.Ledger.Held < 0 {
		problems = append(problems, "negative balance in log")
	}
	if s.Ledger.Available+s.Ledger.Held > s.Ledger.TotalLifetime {
		problems = append(problems, fmt.Sprintf("available+held %d exceeds total_lifetime %d",
			s.Ledger.Available+s.Ledger.Held, s.Ledger.TotalLifetime))
	}
	return strings.Join(problems, "; ")
}
