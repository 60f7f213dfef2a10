package models

import (
	"time"

	"github.com/google/uuid"
)

// PlatformAccountOwnerID owns the platform revenue ledger account.
var PlatformAccountOwnerID = uuid.MustParse("00000000-0000-0000-0000-000000000001")

// Role is the platform role of an actor.
type Role string

const (
	RoleAdmin      Role = "admin"
	RoleContractor Role = "contractor"
	RoleClient     Role = "client"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r == RoleAdmin || r == RoleContractor || r == RoleClient
}

// Actor is the authenticated caller of a core operation.
type Actor struct {
	ID   uuid.UUID `json:"id"`
	Role Role      `json:"role"`
}

// User is an identity known to the core. Credentials live with the auth provider.
type User struct {
	ID        uuid.UUID `json:"id"`
	Email     string    `json:"email"`
	Role      Role      `json:"role"`
	Level     int       `json:"level"`
	CreatedAt time.Time `json:"created_at"`
}
