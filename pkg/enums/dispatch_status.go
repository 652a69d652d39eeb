package enums

import "fmt"

// DispatchStatus maps to the dispatch_status enum in Postgres.
type DispatchStatus string

const (
	DispatchStatusPending                 DispatchStatus = "pending"
	DispatchStatusSent                    DispatchStatus = "sent"
	DispatchStatusSkippedConsent          DispatchStatus = "skipped_consent"
	DispatchStatusSkippedFrequency        DispatchStatus = "skipped_frequency"
	DispatchStatusSkippedDisabledLocation DispatchStatus = "skipped_disabled_location"
	DispatchStatusFailed                  DispatchStatus = "failed"
)

var validDispatchStatuses = []DispatchStatus{
	DispatchStatusPending,
	DispatchStatusSent,
	DispatchStatusSkippedConsent,
	DispatchStatusSkippedFrequency,
	DispatchStatusSkippedDisabledLocation,
	DispatchStatusFailed,
}

// IsValid reports whether the value matches the canonical dispatch status enum.
func (s DispatchStatus) IsValid() bool {
	for _, candidate := range validDispatchStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transition is allowed.
func (s DispatchStatus) IsTerminal() bool {
	return s.IsValid() && s != DispatchStatusPending
}

// ParseDispatchStatus converts raw strings into DispatchStatus.
func ParseDispatchStatus(value string) (DispatchStatus, error) {
	for _, candidate := range validDispatchStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid dispatch status %q", value)
}
