package domain

import "time"

// Credential is one immutable access/refresh token snapshot. The session
// manager replaces it as a whole; nobody mutates fields in place.
type Credential struct {
	AccessToken  string
	RefreshToken string
	ExpiresIn    time.Duration
	IssuedAt     time.Time
}

// ExpiresAt is the hard expiry of the access token.
func (c Credential) ExpiresAt() time.Time {
	return c.IssuedAt.Add(c.ExpiresIn)
}

// TimeLeft returns the remaining lifetime at now (negative once expired).
func (c Credential) TimeLeft(now time.Time) time.Duration {
	return c.ExpiresAt().Sub(now)
}

// Expired reports whether the token is past its hard expiry.
func (c Credential) Expired(now time.Time) bool {
	return c.TimeLeft(now) <= 0
}

// AuthStatus is the terminal state of one authentication attempt.
type AuthStatus int

const (
	AuthError AuthStatus = iota
	AuthSuccess
	AuthMfaRequired
	AuthInvalid
)

func (s AuthStatus) String() string {
	switch s {
	case AuthSuccess:
		return "SUCCESS"
	case AuthMfaRequired:
		return "MFA_REQUIRED"
	case AuthInvalid:
		return "INVALID"
	default:
		return "ERROR"
	}
}

// AuthOutcome is produced once per authentication attempt. Credential is only
// set for AuthSuccess.
type AuthOutcome struct {
	Status     AuthStatus
	Credential *Credential
	Detail     string
}

// Err maps the outcome onto the error taxonomy. MFA is a next step, not an
// error, so it maps to nil.
func (o AuthOutcome) Err() error {
	switch o.Status {
	case AuthInvalid:
		return ErrCredentialInvalid
	case AuthError:
		return &IntegrationFault{Op: "authenticate", Reason: o.Detail}
	default:
		return nil
	}
}
