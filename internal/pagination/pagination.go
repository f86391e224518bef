// Package pagination walks "results + next URL" listings into one slice.
package pagination

import (
	"context"
	"net/http"
	"net/url"
	"time"

	"github.com/pkg/errors"

	"github.com/betbot/robinhood/internal/domain"
	"github.com/betbot/robinhood/internal/transport"
	"github.com/betbot/robinhood/pkg/logger"
)

type options struct {
	limit     int
	attempts  int
	baseDelay time.Duration
	auth      bool
}

type Option func(*options)

// WithLimit stops once n items are collected and truncates to n. n <= 0
// means no limit.
func WithLimit(n int) Option {
	return func(o *options) { o.limit = n }
}

// WithRetry retries a page GET up to attempts times on network faults,
// doubling the delay from baseDelay. Integration faults are never retried.
func WithRetry(attempts int, baseDelay time.Duration) Option {
	return func(o *options) {
		o.attempts = attempts
		o.baseDelay = baseDelay
	}
}

// Unauthenticated sends the page requests without a bearer token.
func Unauthenticated() Option {
	return func(o *options) { o.auth = false }
}

// FetchAll requests startURL and follows each page's next link until it is
// null, or until limit items are held. Items keep server order. The query
// applies to the first request only; next links carry their own.
func FetchAll[T any](ctx context.Context, getter transport.Getter, startURL string, query url.Values, opts ...Option) ([]T, error) {
	o := options{attempts: 1, auth: true}
	for _, opt := range opts {
		opt(&o)
	}
	if o.attempts < 1 {
		o.attempts = 1
	}

	log := logger.Component("pagination")
	var (
		items []T
		pages int
	)
	next := startURL
	for next != "" {
		page, err := fetchPage[T](ctx, getter, next, query, o)
		if err != nil {
			return nil, err
		}
		pages++
		query = nil

		items = append(items, page.Results...)
		if o.limit > 0 && len(items) >= o.limit {
			break
		}
		next = ""
		if page.HasNext() {
			next = *page.Next
		}
	}

	if o.limit > 0 && len(items) > o.limit {
		items = items[:o.limit]
	}
	log.WithField("url", startURL).Debugf("fetched %d item(s) over %d page(s)", len(items), pages)
	return items, nil
}

func fetchPage[T any](ctx context.Context, getter transport.Getter, pageURL string, query url.Values, o options) (*domain.Page[T], error) {
	var (
		resp *transport.Response
		err  error
	)
	delay := o.baseDelay
	for attempt := 0; attempt < o.attempts; attempt++ {
		resp, err = getter.Get(ctx, pageURL, query, o.auth)
		if err == nil || !domain.IsNetworkFault(err) || attempt == o.attempts-1 {
			break
		}
		logger.Component("pagination").WithError(err).Warnf("page request failed, retry %d/%d", attempt+1, o.attempts-1)
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
		delay *= 2
	}
	if err != nil {
		return nil, err
	}

	if resp.Status != http.StatusOK {
		return nil, domain.NewIntegrationFault("list "+stripQuery(pageURL), resp.Status, resp.Body, "unexpected status")
	}
	var page domain.Page[T]
	if err := resp.Decode(&page); err != nil {
		return nil, errors.WithStack(domain.NewIntegrationFault("list "+stripQuery(pageURL), resp.Status, resp.Body, err.Error()))
	}
	return &page, nil
}

func stripQuery(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	u.RawQuery = ""
	return u.String()
}
