// Package transport is the only place that talks HTTP to the brokerage API.
// It pins every request to one trusted origin, dresses it with the headers
// the web client sends, and decodes compressed bodies.
package transport

import (
	"bytes"
	"compress/flate"
	"compress/gzip"
	"compress/zlib"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/betbot/robinhood/internal/domain"
	"github.com/betbot/robinhood/internal/metrics"
	"github.com/betbot/robinhood/pkg/logger"
	"github.com/betbot/robinhood/pkg/ratelimit"
)

const (
	DefaultOrigin     = "https://api.robinhood.com"
	DefaultAPIVersion = "1.280.0"

	userAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10.14; rv:68.0) Gecko/20100101 Firefox/68.0"
	webOrigin = "https://robinhood.com"
)

// TokenSource yields the bearer token for authenticated requests. It returns
// domain.ErrNotAuthenticated when no credential exists yet.
type TokenSource interface {
	AccessToken() (string, error)
}

// Getter is the read half of the transport; paginated listings depend only on it.
type Getter interface {
	Get(ctx context.Context, rawURL string, query url.Values, auth bool) (*Response, error)
}

// Response is a fully read, decompressed HTTP response.
type Response struct {
	Status int
	Body   []byte
	Header http.Header
}

// Decode unmarshals the JSON body into out.
func (r *Response) Decode(out any) error {
	if err := json.Unmarshal(r.Body, out); err != nil {
		return errors.Wrapf(err, "decode %d response", r.Status)
	}
	return nil
}

// Options configures New. Empty fields take the brokerage defaults.
type Options struct {
	Origin     string
	APIVersion string
	Timeout    time.Duration
	Limiter    ratelimit.RateLimiter // nil means unlimited
}

// Client issues allowlisted requests against one origin.
type Client struct {
	origin     *url.URL
	apiVersion string
	rc         *resty.Client
	limiter    ratelimit.RateLimiter
	log        *logrus.Entry

	mu     sync.RWMutex
	tokens TokenSource
}

// New builds a Client without a token source; see SetTokenSource.
func New(opts Options) (*Client, error) {
	if opts.Origin == "" {
		opts.Origin = DefaultOrigin
	}
	if opts.APIVersion == "" {
		opts.APIVersion = DefaultAPIVersion
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.Limiter == nil {
		opts.Limiter = ratelimit.Unlimited{}
	}

	origin, err := url.Parse(strings.TrimSuffix(opts.Origin, "/"))
	if err != nil {
		return nil, errors.Wrapf(err, "parse origin %q", opts.Origin)
	}
	if origin.Scheme == "" || origin.Host == "" {
		return nil, errors.Errorf("origin %q must be an absolute url", opts.Origin)
	}

	// Accept-Encoding is set by hand, so net/http leaves compressed bodies
	// alone and the raw body is decoded in readBody.
	rc := resty.New().
		SetTimeout(opts.Timeout).
		SetRetryCount(0).
		SetDoNotParseResponse(true).
		SetRedirectPolicy(resty.DomainCheckRedirectPolicy(origin.Hostname()))

	return &Client{
		origin:     origin,
		apiVersion: opts.APIVersion,
		rc:         rc,
		limiter:    opts.Limiter,
		log:        logger.Component("transport"),
	}, nil
}

// SetTokenSource installs the source consulted by authenticated requests.
func (c *Client) SetTokenSource(ts TokenSource) {
	c.mu.Lock()
	c.tokens = ts
	c.mu.Unlock()
}

// WithTokenSource returns a Client sharing c's connection pool and limiter
// whose authenticated requests use ts instead.
func (c *Client) WithTokenSource(ts TokenSource) *Client {
	return &Client{
		origin:     c.origin,
		apiVersion: c.apiVersion,
		rc:         c.rc,
		limiter:    c.limiter,
		log:        c.log,
		tokens:     ts,
	}
}

// Origin returns the trusted origin without a trailing slash.
func (c *Client) Origin() string {
	return c.origin.String()
}

// URL joins route onto the origin, e.g. URL("/quotes/") on the default
// origin is "https://api.robinhood.com/quotes/".
func (c *Client) URL(route string) string {
	return c.origin.String() + "/" + strings.TrimPrefix(route, "/")
}

// Get issues a GET. Query values already present in rawURL are kept unless
// query sets the same key.
func (c *Client) Get(ctx context.Context, rawURL string, query url.Values, auth bool) (*Response, error) {
	u, err := c.resolve(rawURL)
	if err != nil {
		return nil, err
	}
	merged := u.Query()
	for k, vs := range query {
		merged[k] = vs
	}
	u.RawQuery = merged.Encode()

	req, err := c.newRequest(ctx, auth)
	if err != nil {
		return nil, err
	}
	return c.do(req, http.MethodGet, u.String())
}

// Post sends body as JSON.
func (c *Client) Post(ctx context.Context, rawURL string, body any, auth bool) (*Response, error) {
	u, err := c.resolve(rawURL)
	if err != nil {
		return nil, err
	}
	req, err := c.newRequest(ctx, auth)
	if err != nil {
		return nil, err
	}
	req.SetHeader("Content-Type", "application/json")
	if body != nil {
		req.SetBody(body)
	}
	return c.do(req, http.MethodPost, u.String())
}

// Allowed reports whether rawURL sits under the trusted origin.
func (c *Client) Allowed(rawURL string) bool {
	_, err := c.resolve(rawURL)
	return err == nil
}

// resolve turns rawURL into an absolute URL and rejects anything off-origin.
// Relative routes are resolved against the origin.
func (c *Client) resolve(rawURL string) (*url.URL, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, errors.Wrapf(domain.ErrURLNotAllowed, "%q: %v", rawURL, err)
	}
	if u.Scheme == "" && u.Host == "" {
		u, err = url.Parse(c.URL(rawURL))
		if err != nil {
			return nil, errors.Wrapf(domain.ErrURLNotAllowed, "%q: %v", rawURL, err)
		}
	}
	if !strings.EqualFold(u.Scheme, c.origin.Scheme) ||
		!strings.EqualFold(u.Host, c.origin.Host) ||
		u.User != nil ||
		!strings.HasPrefix(u.Path, c.origin.Path+"/") {
		return nil, errors.Wrapf(domain.ErrURLNotAllowed, "%q", rawURL)
	}
	return u, nil
}

func (c *Client) newRequest(ctx context.Context, auth bool) (*resty.Request, error) {
	r := c.rc.R().SetContext(ctx)
	r.SetHeader("User-Agent", userAgent)
	r.SetHeader("Accept", "*/*")
	r.SetHeader("Accept-Language", "en-US,en;q=0.5")
	r.SetHeader("Accept-Encoding", "gzip, deflate")
	r.SetHeader("Referer", webOrigin+"/")
	r.SetHeader("X-Robinhood-API-Version", c.apiVersion)
	r.SetHeader("Origin", webOrigin)

	if !auth {
		return r, nil
	}
	c.mu.RLock()
	ts := c.tokens
	c.mu.RUnlock()
	if ts == nil {
		return r, nil
	}
	token, err := ts.AccessToken()
	switch {
	case errors.Is(err, domain.ErrNotAuthenticated):
		// public routes work without a bearer
	case err != nil:
		return nil, err
	case token != "":
		r.SetAuthToken(token)
	}
	return r, nil
}

func (c *Client) do(req *resty.Request, method, target string) (*Response, error) {
	if err := c.limiter.Wait(req.Context()); err != nil {
		return nil, &domain.NetworkFault{Op: method, URL: target, Err: err}
	}

	start := time.Now()
	metrics.HTTPRequests.Add(1)
	resp, err := req.Execute(method, target)
	if resp != nil && resp.RawBody() != nil {
		defer resp.RawBody().Close()
	}
	if err != nil {
		metrics.HTTPNetworkFaults.Add(1)
		c.log.WithFields(logrus.Fields{"method": method, "url": stripQuery(target)}).WithError(err).Debug("request failed")
		return nil, &domain.NetworkFault{Op: method, URL: stripQuery(target), Err: err}
	}

	body, err := readBody(resp.RawBody(), resp.Header().Get("Content-Encoding"))
	if err != nil {
		return nil, &domain.NetworkFault{Op: method, URL: stripQuery(target), Err: err}
	}

	c.log.WithFields(logrus.Fields{
		"method":  method,
		"url":     stripQuery(target),
		"status":  resp.StatusCode(),
		"elapsed": time.Since(start).Round(time.Millisecond),
	}).Debug("request done")

	return &Response{Status: resp.StatusCode(), Body: body, Header: resp.Header()}, nil
}

func readBody(r io.Reader, encoding string) ([]byte, error) {
	if r == nil {
		return nil, nil
	}
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.Wrap(err, "read body")
	}
	if len(raw) == 0 {
		return raw, nil
	}

	switch strings.ToLower(strings.TrimSpace(encoding)) {
	case "gzip", "x-gzip":
		zr, err := gzip.NewReader(bytes.NewReader(raw))
		if err != nil {
			return nil, errors.Wrap(err, "gzip body")
		}
		defer zr.Close()
		out, err := io.ReadAll(zr)
		return out, errors.Wrap(err, "gzip body")
	case "deflate":
		// servers disagree on whether deflate carries the zlib wrapper
		if zr, err := zlib.NewReader(bytes.NewReader(raw)); err == nil {
			defer zr.Close()
			out, err := io.ReadAll(zr)
			return out, errors.Wrap(err, "deflate body")
		}
		fr := flate.NewReader(bytes.NewReader(raw))
		defer fr.Close()
		out, err := io.ReadAll(fr)
		return out, errors.Wrap(err, "deflate body")
	default:
		return raw, nil
	}
}

// stripQuery keeps tokens and account ids in query strings out of logs.
func stripQuery(raw string) string {
	if i := strings.IndexByte(raw, '?'); i >= 0 {
		return raw[:i]
	}
	return raw
}
