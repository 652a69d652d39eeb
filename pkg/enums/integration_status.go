package enums

import "fmt"

// IntegrationStatus maps to the integration_status enum in Postgres.
type IntegrationStatus string

const (
	IntegrationStatusLinked  IntegrationStatus = "linked"
	IntegrationStatusExpired IntegrationStatus = "expired"
	IntegrationStatusRevoked IntegrationStatus = "revoked"
)

var validIntegrationStatuses = []IntegrationStatus{
	IntegrationStatusLinked,
	IntegrationStatusExpired,
	IntegrationStatusRevoked,
}

// IsValid reports whether the value matches the canonical integration status enum.
func (s IntegrationStatus) IsValid() bool {
	for _, candidate := range validIntegrationStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// ParseIntegrationStatus converts raw strings into IntegrationStatus.
func ParseIntegrationStatus(value string) (IntegrationStatus, error) {
	for _, candidate := range validIntegrationStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid integration status %q", value)
}
