package database

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
)

func TestClassifyPgErrors(t *testing.T) {
	tests := []struct {
		code      string
		retryable bool
		unique    bool
	}{
		{CodeLockNotAvailable, true, false},
		{CodeSerializationFailure, true, false},
		{CodeDeadlockDetected, true, false},
		{CodeUniqueViolation, false, true},
		{CodeCheckViolation, false, false},
	}
	for _, tt := range tests {
		err := fmt.Errorf("wrapped: %w", &pgconn.PgError{Code: tt.code})
		if got := IsRetryable(err); got != tt.retryable {
			t.Errorf("IsRetryable(%s) = %v, want %v", tt.code, got, tt.retryable)
		}
		if got := IsUniqueViolation(err); got != tt.unique {
			t.Errorf("IsUniqueViolation(%s) = %v, want %v", tt.code, got, tt.unique)
		}
	}
	if PgCode(errors.New("plain")) != "" {
		t.Error("non-pg error should have no code")
	}
}

func TestSchemaDeclaresCoreTables(t *testing.T) {
	for _, table := range []string{
		"tasks", "task_history", "ledger_accounts", "ledger_transactions",
		"ledger_integrity_incidents", "cashout_requests", "reviews", "contractor_progress",
	} {
		if !strings.Contains(schemaSQL, "CREATE TABLE IF NOT EXISTS "+table+" (") {
			t.Errorf("schema is missing table %s", table)
		}
	}
	if !strings.Contains(schemaSQL, "idempotency_key TEXT NOT NULL UNIQUE") {
		t.Error("ledger idempotency key must be unique")
	}
	if !regexp.MustCompile(`version\s+INTEGER NOT NULL DEFAULT 1,`).MatchString(schemaSQL) {
		t.Error("new tasks must start at version 1")
	}
}
