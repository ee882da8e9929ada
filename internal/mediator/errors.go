package mediator

import (
	"errors"
	"fmt"
)

// Sentinel errors surfaced by the facade. The HTTP layer maps each to its
// status; the facade never retries on behalf of the caller.
var (
	// ErrUnknownProfile indicates the profile is not in the current
	// policy snapshot.
	ErrUnknownProfile = errors.New("unknown profile")

	// ErrBudgetExceeded indicates the request asked for more tokens
	// than the configured ceiling allows.
	ErrBudgetExceeded = errors.New("token budget exceeded")

	// ErrRetrievalUnavailable indicates every granted scope's backing
	// store failed, leaving nothing to disclose.
	ErrRetrievalUnavailable = errors.New("retrieval unavailable")
)

// Denial reasons recorded in audit entries and returned to callers.
const (
	ReasonNoScopesGranted = "no_scopes_granted"
	ReasonUnknownProfile  = "unknown_profile"
	ReasonProfileMismatch = "profile_mismatch"
	ReasonBudgetExceeded  = "budget_exceeded"
	ReasonCancelled       = "cancelled"
	ReasonSessionExpired  = "session_expired"
	ReasonSessionRevoked  = "session_revoked"
)

// DeniedError reports that a context call was refused outright, with the
// reason that also lands in the audit record. Err, when set, carries the
// underlying cause (for example ErrRetrievalUnavailable).
type DeniedError struct {
	Reason string
	Err    error
}

func (e *DeniedError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("denied: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("denied: %s", e.Reason)
}

func (e *DeniedError) Unwrap() error {
	return e.Err
}

// Denied constructs a DeniedError for the given reason.
func Denied(reason string) error {
	return &DeniedError{Reason: reason}
}

// IsDenied reports whether err is a denial and returns its reason.
func IsDenied(err error) (string, bool) {
	var d *DeniedError
	if errors.As(err, &d) {
		return d.Reason, true
	}
	return "", false
}
