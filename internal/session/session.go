// Package session owns the brokerage credential: the password/MFA exchange
// and a background loop that renews the access token before it expires.
package session

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/betbot/robinhood/internal/domain"
	"github.com/betbot/robinhood/internal/metrics"
	"github.com/betbot/robinhood/internal/transport"
	"github.com/betbot/robinhood/pkg/logger"
)

// State is the lifecycle position of a Manager. Failed and Closed are terminal.
type State int32

const (
	StateUnauthenticated State = iota
	StateAuthenticating
	StateInvalid
	StateMfaRequired
	StateAuthenticated
	StateFailed
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUnauthenticated:
		return "unauthenticated"
	case StateAuthenticating:
		return "authenticating"
	case StateInvalid:
		return "invalid"
	case StateMfaRequired:
		return "mfa_required"
	case StateAuthenticated:
		return "authenticated"
	case StateFailed:
		return "failed"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Poster is the slice of the transport the session needs.
type Poster interface {
	Post(ctx context.Context, rawURL string, body any, auth bool) (*transport.Response, error)
}

// Options configures the token exchange. Zero durations take the defaults.
type Options struct {
	TokenURL    string
	ClientID    string
	Scope       string
	ExpiresIn   time.Duration
	DeviceToken string

	// RenewThreshold is the remaining lifetime below which the loop refreshes.
	RenewThreshold time.Duration
	CheckInterval  time.Duration

	// OnRenew is called from the loop after each successful refresh.
	OnRenew func(domain.Credential)

	now func() time.Time
}

func (o *Options) setDefaults() {
	if o.Scope == "" {
		o.Scope = "internal"
	}
	if o.ExpiresIn <= 0 {
		o.ExpiresIn = time.Hour
	}
	if o.RenewThreshold <= 0 {
		o.RenewThreshold = 60 * time.Second
	}
	if o.CheckInterval <= 0 {
		o.CheckInterval = 10 * time.Second
	}
	if o.now == nil {
		o.now = time.Now
	}
}

// Manager is safe for concurrent use. The credential is swapped as a whole
// snapshot; the renewal loop is its only writer once authenticated.
type Manager struct {
	poster Poster
	opts   Options
	log    *logrus.Entry

	cred  atomic.Pointer[domain.Credential]
	state atomic.Int32

	errMu sync.Mutex
	err   error

	loopStarted atomic.Bool
	ctx         context.Context
	cancel      context.CancelFunc
	done        chan struct{}
	doneOnce    sync.Once
	closeOnce   sync.Once
}

// New returns an unauthenticated Manager posting token grants through poster.
func New(poster Poster, opts Options) *Manager {
	opts.setDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		poster: poster,
		opts:   opts,
		log:    logger.Component("session"),
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
}

// FromToken wraps an existing bearer token. No renewal loop runs; the caller
// owns the token's lifetime.
func FromToken(poster Poster, token string, opts Options) *Manager {
	m := New(poster, opts)
	m.cred.Store(&domain.Credential{AccessToken: token, IssuedAt: m.opts.now()})
	m.setState(StateAuthenticated)
	return m
}

// Resume installs a previously issued credential and starts the renewal loop,
// which refreshes right away if the credential is already near expiry.
func (m *Manager) Resume(cred domain.Credential) error {
	if err := m.usable(); err != nil {
		return err
	}
	if cred.AccessToken == "" || cred.RefreshToken == "" {
		return errors.New("resume: credential has no access or refresh token")
	}
	c := cred
	m.cred.Store(&c)
	m.setState(StateAuthenticated)
	m.startLoop()
	return nil
}

type tokenResponse struct {
	AccessToken  string  `json:"access_token"`
	RefreshToken string  `json:"refresh_token"`
	ExpiresIn    float64 `json:"expires_in"`
	MfaRequired  bool    `json:"mfa_required"`
	MfaType      string  `json:"mfa_type"`
	Detail       string  `json:"detail"`
}

func (m *Manager) credentialFrom(tr tokenResponse) *domain.Credential {
	expires := time.Duration(tr.ExpiresIn * float64(time.Second))
	if expires <= 0 {
		expires = m.opts.ExpiresIn
	}
	return &domain.Credential{
		AccessToken:  tr.AccessToken,
		RefreshToken: tr.RefreshToken,
		ExpiresIn:    expires,
		IssuedAt:     m.opts.now(),
	}
}

// Authenticate performs one password exchange. Invalid credentials and MFA
// prompts come back as outcomes with a nil error; an unexpected status is an
// IntegrationFault. Invalid and MFA outcomes drop any credential held before.
func (m *Manager) Authenticate(ctx context.Context, username, password, mfaCode string) (domain.AuthOutcome, error) {
	if err := m.usable(); err != nil {
		return domain.AuthOutcome{Status: domain.AuthError, Detail: err.Error()}, err
	}
	prev := m.State()
	m.setState(StateAuthenticating)

	body := map[string]any{
		"username":     username,
		"password":     password,
		"grant_type":   "password",
		"scope":        m.opts.Scope,
		"client_id":    m.opts.ClientID,
		"expires_in":   int64(m.opts.ExpiresIn / time.Second),
		"device_token": m.opts.DeviceToken,
	}
	if mfaCode != "" {
		body["mfa_code"] = mfaCode
	}

	resp, err := m.poster.Post(ctx, m.opts.TokenURL, body, false)
	if err != nil {
		m.restore(prev)
		return domain.AuthOutcome{Status: domain.AuthError, Detail: err.Error()}, err
	}

	switch resp.Status {
	case http.StatusBadRequest:
		m.cred.Store(nil)
		m.setState(StateInvalid)
		m.log.WithField("username", username).Warn("credentials rejected")
		return domain.AuthOutcome{Status: domain.AuthInvalid, Detail: string(resp.Body)}, nil

	case http.StatusOK:
		var tr tokenResponse
		if err := resp.Decode(&tr); err != nil {
			m.restore(prev)
			fault := domain.NewIntegrationFault("authenticate", resp.Status, resp.Body, "malformed token response")
			return domain.AuthOutcome{Status: domain.AuthError, Detail: fault.Error()}, fault
		}
		if tr.MfaRequired {
			m.cred.Store(nil)
			m.setState(StateMfaRequired)
			m.log.WithField("mfa_type", tr.MfaType).Info("mfa code required")
			return domain.AuthOutcome{Status: domain.AuthMfaRequired, Detail: tr.MfaType}, nil
		}
		if tr.AccessToken == "" {
			m.restore(prev)
			fault := domain.NewIntegrationFault("authenticate", resp.Status, nil, "token response without access_token")
			return domain.AuthOutcome{Status: domain.AuthError, Detail: fault.Error()}, fault
		}

		cred := m.credentialFrom(tr)
		m.cred.Store(cred)
		m.setState(StateAuthenticated)
		m.log.WithField("expires_at", cred.ExpiresAt().Format(time.RFC3339)).Info("authenticated")
		m.startLoop()
		snapshot := *cred
		return domain.AuthOutcome{Status: domain.AuthSuccess, Credential: &snapshot}, nil

	default:
		m.restore(prev)
		fault := domain.NewIntegrationFault("authenticate", resp.Status, resp.Body, "unexpected status")
		return domain.AuthOutcome{Status: domain.AuthError, Detail: fault.Error()}, fault
	}
}

// restore undoes the Authenticating transition after a failed attempt.
func (m *Manager) restore(prev State) {
	m.state.CompareAndSwap(int32(StateAuthenticating), int32(prev))
}

func (m *Manager) usable() error {
	switch m.State() {
	case StateClosed:
		return domain.ErrSessionClosed
	case StateFailed:
		return domain.ErrSessionFailed
	}
	return nil
}

// AccessToken returns the current bearer token. After a failed renewal it
// returns domain.ErrSessionFailed so callers stop instead of sending a stale
// token.
func (m *Manager) AccessToken() (string, error) {
	if err := m.usable(); err != nil {
		return "", err
	}
	c := m.cred.Load()
	if c == nil || c.AccessToken == "" {
		return "", domain.ErrNotAuthenticated
	}
	return c.AccessToken, nil
}

// Credential returns a consistent snapshot of the current credential.
func (m *Manager) Credential() (domain.Credential, bool) {
	c := m.cred.Load()
	if c == nil {
		return domain.Credential{}, false
	}
	return *c, true
}

func (m *Manager) State() State {
	return State(m.state.Load())
}

func (m *Manager) setState(s State) {
	for {
		cur := m.state.Load()
		// terminal states stick
		if State(cur) == StateClosed || (State(cur) == StateFailed && s != StateClosed) {
			return
		}
		if m.state.CompareAndSwap(cur, int32(s)) {
			return
		}
	}
}

// Err returns the error that stopped the renewal loop, if any.
func (m *Manager) Err() error {
	m.errMu.Lock()
	defer m.errMu.Unlock()
	return m.err
}

// Done is closed when the renewal loop exits, or on Close if it never ran.
func (m *Manager) Done() <-chan struct{} {
	return m.done
}

// Close stops the renewal loop, cancels an in-flight refresh and waits for
// the loop to exit.
func (m *Manager) Close() {
	m.closeOnce.Do(func() {
		m.setState(StateClosed)
		m.cancel()
		if !m.loopStarted.Load() {
			m.closeDone()
		}
		<-m.done
		m.log.Debug("session closed")
	})
}

func (m *Manager) closeDone() {
	m.doneOnce.Do(func() { close(m.done) })
}

func (m *Manager) startLoop() {
	if !m.loopStarted.CompareAndSwap(false, true) {
		return
	}
	go m.renewLoop()
}

func (m *Manager) renewLoop() {
	defer m.closeDone()

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-timer.C:
		}

		cred := m.cred.Load()
		now := m.opts.now()
		if cred == nil || cred.TimeLeft(now) > m.opts.RenewThreshold {
			timer.Reset(m.opts.CheckInterval)
			continue
		}

		err := m.refresh(m.ctx, cred)
		switch {
		case err == nil:
		case m.ctx.Err() != nil:
			return
		case domain.IsNetworkFault(err) && !cred.Expired(m.opts.now()):
			// the token still works; try again on the next tick
			m.log.WithError(err).Warn("token refresh unreachable, retrying")
		default:
			m.fail(err)
			return
		}
		timer.Reset(m.opts.CheckInterval)
	}
}

func (m *Manager) refresh(ctx context.Context, cred *domain.Credential) error {
	body := map[string]any{
		"grant_type":    "refresh_token",
		"refresh_token": cred.RefreshToken,
		"scope":         m.opts.Scope,
		"client_id":     m.opts.ClientID,
		"expires_in":    int64(m.opts.ExpiresIn / time.Second),
		"device_token":  m.opts.DeviceToken,
	}
	resp, err := m.poster.Post(ctx, m.opts.TokenURL, body, false)
	if err != nil {
		return err
	}
	if resp.Status != http.StatusOK {
		return domain.NewIntegrationFault("refresh", resp.Status, resp.Body, "refresh rejected")
	}
	var tr tokenResponse
	if err := resp.Decode(&tr); err != nil || tr.AccessToken == "" {
		return domain.NewIntegrationFault("refresh", resp.Status, resp.Body, "malformed token response")
	}
	if tr.RefreshToken == "" {
		tr.RefreshToken = cred.RefreshToken
	}

	next := m.credentialFrom(tr)
	if !m.cred.CompareAndSwap(cred, next) {
		// a concurrent Authenticate installed a newer credential; keep it
		return nil
	}
	metrics.TokenRenewals.Add(1)
	m.log.WithField("expires_at", next.ExpiresAt().Format(time.RFC3339)).Info("access token renewed")
	if m.opts.OnRenew != nil {
		m.opts.OnRenew(*next)
	}
	return nil
}

func (m *Manager) fail(err error) {
	m.errMu.Lock()
	m.err = err
	m.errMu.Unlock()
	m.setState(StateFailed)
	m.log.WithError(err).Error("session renewal failed; session is no longer usable")
}
