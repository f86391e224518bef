// Package client assembles the transport, session, market data and order
// services from one Config and drives the interactive login.
package client

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/pquerna/otp/totp"
	"github.com/sirupsen/logrus"

	"github.com/betbot/robinhood/internal/domain"
	"github.com/betbot/robinhood/internal/instruments"
	"github.com/betbot/robinhood/internal/marketdata"
	"github.com/betbot/robinhood/internal/orders"
	"github.com/betbot/robinhood/internal/risk"
	"github.com/betbot/robinhood/internal/session"
	"github.com/betbot/robinhood/internal/transport"
	"github.com/betbot/robinhood/pkg/config"
	"github.com/betbot/robinhood/pkg/logger"
	"github.com/betbot/robinhood/pkg/ratelimit"
	"github.com/betbot/robinhood/pkg/secretstore"
)

const deviceTokenKey = "device_token"

// MFAPrompt asks the user for a one-time code.
type MFAPrompt func(ctx context.Context) (string, error)

// Client is the assembled brokerage client. Close releases the token store.
type Client struct {
	cfg   *config.Config
	tr    *transport.Client
	sess  *session.Manager
	store *secretstore.Store
	log   *logrus.Entry

	Resolver *instruments.Resolver
	Market   *marketdata.Service
	Orders   *orders.Service

	now     func() time.Time
	mfaCode func(secret string, t time.Time) (string, error)
}

// New builds a client from cfg. When a token store path is configured it is
// opened here and stays open until Close.
func New(cfg *config.Config) (*Client, error) {
	if cfg == nil {
		return nil, errors.New("client: nil config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	tr, err := transport.New(transport.Options{
		Origin:     cfg.API.Origin,
		APIVersion: cfg.API.APIVersion,
		Timeout:    cfg.API.Timeout,
		Limiter:    ratelimit.PerSecond(cfg.API.RequestsPerSecond),
	})
	if err != nil {
		return nil, err
	}

	c := &Client{
		cfg:     cfg,
		tr:      tr,
		log:     logger.Component("client"),
		now:     time.Now,
		mfaCode: totp.GenerateCode,
	}

	if cfg.TokenStore.Path != "" {
		key, err := secretstore.ParseKey(cfg.TokenStore.EncryptionKey)
		if err != nil {
			return nil, errors.Wrap(err, "token store key")
		}
		c.store, err = secretstore.Open(secretstore.OpenOptions{Path: cfg.TokenStore.Path, EncryptionKey: key})
		if err != nil {
			return nil, err
		}
		if err := c.fillAuthFromStore(); err != nil {
			_ = c.store.Close()
			return nil, err
		}
	}

	deviceToken, err := c.deviceToken()
	if err != nil {
		_ = c.store.Close()
		return nil, err
	}

	c.sess = session.New(tr, session.Options{
		TokenURL:       tr.URL(transport.RouteToken),
		ClientID:       cfg.Auth.ClientID,
		Scope:          cfg.Auth.Scope,
		ExpiresIn:      cfg.Auth.ExpiresIn,
		DeviceToken:    deviceToken,
		RenewThreshold: cfg.Session.RenewThreshold,
		CheckInterval:  cfg.Session.CheckInterval,
		OnRenew:        c.saveCredential,
	})
	tr.SetTokenSource(c.sess)

	c.Resolver = instruments.NewResolver(tr)
	c.Market = marketdata.New(tr, c.Resolver)
	c.Orders = orders.New(tr, c.Market, c.Resolver)
	c.Orders.SetBreaker(risk.NewCircuitBreaker(cfg.Orders.MaxConsecutiveFailures))
	return c, nil
}

// EnvPrefix namespaces the variables imported by env2badger.
const EnvPrefix = "env/"

// fillAuthFromStore takes login secrets imported into the store for any
// field the config left empty.
func (c *Client) fillAuthFromStore() error {
	for _, f := range []struct {
		key string
		dst *string
	}{
		{"RH_USERNAME", &c.cfg.Auth.Username},
		{"RH_PASSWORD", &c.cfg.Auth.Password},
		{"RH_MFA_SECRET", &c.cfg.Auth.MFASecret},
	} {
		if *f.dst != "" {
			continue
		}
		v, found, err := c.store.GetString(EnvPrefix + f.key)
		if err != nil {
			return err
		}
		if found {
			*f.dst = v
		}
	}
	return nil
}

// deviceToken prefers the configured value, then the stored one, and
// otherwise mints and stores a new one so later logins look like the same
// device.
func (c *Client) deviceToken() (string, error) {
	if c.cfg.Auth.DeviceToken != "" {
		return c.cfg.Auth.DeviceToken, nil
	}
	if c.store == nil {
		return uuid.NewString(), nil
	}
	tok, found, err := c.store.GetString(deviceTokenKey)
	if err != nil {
		return "", err
	}
	if found && tok != "" {
		return tok, nil
	}
	tok = uuid.NewString()
	if err := c.store.SetString(deviceTokenKey, tok); err != nil {
		return "", err
	}
	return tok, nil
}

func (c *Client) Session() *session.Manager { return c.sess }

func (c *Client) Transport() *transport.Client { return c.tr }

func (c *Client) credentialKey() string {
	return "credential:" + strings.ToLower(c.cfg.Auth.Username)
}

func (c *Client) saveCredential(cred domain.Credential) {
	if c.store == nil {
		return
	}
	if err := c.store.SetJSON(c.credentialKey(), cred); err != nil {
		c.log.WithError(err).Warn("could not persist credential")
	}
}

// bearer is a fixed token used to check a stored credential before the
// session takes it over.
type bearer string

func (b bearer) AccessToken() (string, error) { return string(b), nil }

// resume installs a stored credential if it is still accepted by the API.
// The check runs on a side transport, so a rejected credential never reaches
// the session and cannot start its renewal loop.
func (c *Client) resume(ctx context.Context) bool {
	if c.store == nil || c.cfg.Auth.Username == "" {
		return false
	}
	var cred domain.Credential
	found, err := c.store.GetJSON(c.credentialKey(), &cred)
	if err != nil {
		c.log.WithError(err).Warn("stored credential unreadable")
		return false
	}
	if !found || cred.Expired(c.now()) || cred.AccessToken == "" {
		return false
	}
	check := marketdata.New(c.tr.WithTokenSource(bearer(cred.AccessToken)), c.Resolver)
	ok, err := check.LoggedIn(ctx)
	if err != nil || !ok {
		c.log.WithError(err).Info("stored credential rejected, logging in again")
		if err == nil {
			c.forget()
		}
		return false
	}
	if err := c.sess.Resume(cred); err != nil {
		c.log.WithError(err).Debug("stored credential not resumable")
		return false
	}
	c.log.WithField("expires_at", cred.ExpiresAt().Format(time.RFC3339)).Info("resumed stored session")
	return true
}

// Login resumes a stored session when possible and otherwise exchanges the
// configured username and password. An MFA challenge is answered from the
// TOTP secret when one is configured, else through prompt. With neither, the
// MfaRequired outcome is returned as is.
func (c *Client) Login(ctx context.Context, prompt MFAPrompt) (domain.AuthOutcome, error) {
	if c.resume(ctx) {
		cred, _ := c.sess.Credential()
		return domain.AuthOutcome{Status: domain.AuthSuccess, Credential: &cred}, nil
	}

	user, pass := c.cfg.Auth.Username, c.cfg.Auth.Password
	if user == "" || pass == "" {
		return domain.AuthOutcome{Status: domain.AuthError}, &domain.ValidationFault{Field: "auth", Reason: "username and password are required"}
	}

	out, err := c.sess.Authenticate(ctx, user, pass, "")
	if err != nil || out.Status != domain.AuthMfaRequired {
		return c.finish(out, err)
	}

	var code string
	switch {
	case c.cfg.Auth.MFASecret != "":
		code, err = c.mfaCode(c.cfg.Auth.MFASecret, c.now())
		if err != nil {
			return domain.AuthOutcome{Status: domain.AuthError}, errors.Wrap(err, "generate mfa code")
		}
	case prompt != nil:
		code, err = prompt(ctx)
		if err != nil {
			return domain.AuthOutcome{Status: domain.AuthError}, errors.Wrap(err, "read mfa code")
		}
	default:
		return out, nil
	}
	return c.finish(c.sess.Authenticate(ctx, user, pass, strings.TrimSpace(code)))
}

func (c *Client) finish(out domain.AuthOutcome, err error) (domain.AuthOutcome, error) {
	if err == nil && out.Status == domain.AuthSuccess && out.Credential != nil {
		c.saveCredential(*out.Credential)
	}
	return out, err
}

// Logout forgets the stored credential. The in-memory session stays usable
// until Close.
func (c *Client) Logout() error {
	if c.store == nil {
		return nil
	}
	return c.store.Delete(c.credentialKey())
}

func (c *Client) forget() {
	if err := c.Logout(); err != nil {
		c.log.WithError(err).Warn("could not drop rejected credential")
	}
}

// Close stops the renewal loop and closes the token store.
func (c *Client) Close() error {
	c.sess.Close()
	return c.store.Close()
}
