package domain

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	// ErrCredentialInvalid is reported when the token exchange answers 400.
	ErrCredentialInvalid = errors.New("credential invalid")
	// ErrNotAuthenticated is returned for authenticated calls made before a
	// credential exists.
	ErrNotAuthenticated = errors.New("session not authenticated")
	// ErrSessionFailed means the renewal loop hit an unrecoverable refresh
	// error; the session will never yield a usable token again.
	ErrSessionFailed = errors.New("session failed")
	// ErrSessionClosed is returned once the host closed the session.
	ErrSessionClosed = errors.New("session closed")
	// ErrURLNotAllowed rejects any URL outside the trusted API origin.
	ErrURLNotAllowed = errors.New("url is not under the trusted api origin")
)

// IntegrationFault means the remote API answered with a status or a shape the
// client does not know how to interpret. It is never retried.
type IntegrationFault struct {
	Op     string
	Status int
	Body   string
	Reason string
}

func (e *IntegrationFault) Error() string {
	msg := fmt.Sprintf("%s: integration fault", e.Op)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Status != 0 {
		msg += fmt.Sprintf(" (status %d)", e.Status)
	}
	if e.Body != "" {
		msg += ": " + truncate(e.Body, 256)
	}
	return msg
}

// NewIntegrationFault builds an IntegrationFault for an unexpected status.
func NewIntegrationFault(op string, status int, body []byte, reason string) *IntegrationFault {
	return &IntegrationFault{Op: op, Status: status, Body: string(body), Reason: reason}
}

// NetworkFault wraps a transport-level failure (dns, connect, timeout). Reads
// may be retried on it; order submissions must not be retried blindly.
type NetworkFault struct {
	Op  string
	URL string
	Err error
}

func (e *NetworkFault) Error() string {
	return fmt.Sprintf("%s %s: network fault: %v", e.Op, e.URL, e.Err)
}

func (e *NetworkFault) Unwrap() error { return e.Err }

// ValidationFault reports locally rejected input. Nothing is sent when it is
// returned.
type ValidationFault struct {
	Field  string
	Reason string
}

func (e *ValidationFault) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// IsNetworkFault reports whether err carries a NetworkFault.
func IsNetworkFault(err error) bool {
	var nf *NetworkFault
	return errors.As(err, &nf)
}

// IsIntegrationFault reports whether err carries an IntegrationFault.
func IsIntegrationFault(err error) bool {
	var inf *IntegrationFault
	return errors.As(err, &inf)
}

// IsValidationFault reports whether err carries a ValidationFault.
func IsValidationFault(err error) bool {
	var vf *ValidationFault
	return errors.As(err, &vf)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
