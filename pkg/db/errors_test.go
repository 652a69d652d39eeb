package db

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
)

func TestIsUniqueViolation(t *testing.T) {
	pgErr := &pgconn.PgError{Code: "23505", ConstraintName: "integrations_business_provider_key"}
	wrapped := fmt.Errorf("insert: %w", pgErr)

	if !IsUniqueViolation(wrapped, "") {
		t.Fatal("expected wrapped pg error to match")
	}
	if !IsUniqueViolation(wrapped, "integrations_business_provider_key") {
		t.Fatal("expected constraint match")
	}
	if IsUniqueViolation(wrapped, "transactions_integration_event_key") {
		t.Fatal("expected other constraint to be rejected")
	}
	if IsUniqueViolation(&pgconn.PgError{Code: "23503"}, "") {
		t.Fatal("foreign key violation is not a unique violation")
	}
	if !IsUniqueViolation(errors.New("UNIQUE constraint failed: transactions.integration_id"), "transactions_integration_event_key") {
		t.Fatal("expected sqlite unique failure to match")
	}
	if IsUniqueViolation(nil, "") || IsUniqueViolation(errors.New("boom"), "") {
		t.Fatal("unexpected match")
	}
}
