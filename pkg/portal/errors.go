package portal

import (
	"errors"
	"fmt"
)

var (
	// ErrAccessDenied is the only error bearers ever see
	ErrAccessDenied = errors.New("access denied")
	// ErrNotFound is returned by stores for a missing row
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned by stores for a duplicate row
	ErrConflict = errors.New("already exists")
	// ErrInvalidInput rejects malformed requests from internal callers
	ErrInvalidInput = errors.New("invalid input")
	// ErrInvalidTransition rejects grant changes out of a terminal state
	ErrInvalidTransition = errors.New("invalid grant transition")
)

// DenialReason is the internal cause of an access denial
type DenialReason string

const (
	DenyNotFound        DenialReason = "not_found"
	DenyRevoked         DenialReason = "revoked"
	DenyExpired         DenialReason = "expired"
	DenyCapability      DenialReason = "capability"
	DenyPINRequired     DenialReason = "pin_required"
	DenyPINInvalid      DenialReason = "pin_invalid"
	DenyAccountRequired DenialReason = "account_required"
	DenyGrantInactive   DenialReason = "grant_inactive"
	DenyLookupFailed    DenialReason = "lookup_failed"
)

// DenialError carries the reason behind ErrAccessDenied
type DenialError struct {
	Reason  DenialReason
	TokenID string
	Err     error
}

func (e *DenialError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("portal access denied (%s): %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("portal access denied (%s)", e.Reason)
}

// Is matches ErrAccessDenied
func (e *DenialError) Is(target error) bool {
	return target == ErrAccessDenied
}

func (e *DenialError) Unwrap() error {
	return e.Err
}

// ReasonOf extracts the denial reason from err, or "" if err is not a denial
func ReasonOf(err error) DenialReason {
	var d *DenialError
	if errors.As(err, &d) {
		return d.Reason
	}
	return ""
}

func deny(reason DenialReason, tokenID string) error {
	return &DenialError{Reason: reason, TokenID: tokenID}
}

func invalidInput(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}
