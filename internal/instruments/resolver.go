// Package instruments maps instrument URLs to their records. Instrument
// identity never changes, so every successful lookup is kept for the life of
// the process.
package instruments

import (
	"context"
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/betbot/robinhood/internal/domain"
	"github.com/betbot/robinhood/internal/transport"
	"github.com/betbot/robinhood/pkg/cache"
	"github.com/betbot/robinhood/pkg/logger"
)

// Resolver is safe for concurrent use. Two callers missing on the same key
// may both fetch it; the results are identical.
type Resolver struct {
	getter  transport.Getter
	equity  *cache.InMemoryCache[string, domain.Instrument]
	options *cache.InMemoryCache[string, domain.OptionInstrument]
	log     *logrus.Entry
}

func NewResolver(getter transport.Getter) *Resolver {
	return &Resolver{
		getter:  getter,
		equity:  cache.NewPermanent[string, domain.Instrument](),
		options: cache.NewPermanent[string, domain.OptionInstrument](),
		log:     logger.Component("instruments"),
	}
}

// Resolve returns the ticker symbol of an equity instrument URL.
func (r *Resolver) Resolve(ctx context.Context, ref string) (string, error) {
	inst, err := r.Instrument(ctx, ref)
	if err != nil {
		return "", err
	}
	return inst.Symbol, nil
}

// Instrument returns the full equity instrument record for ref.
func (r *Resolver) Instrument(ctx context.Context, ref string) (domain.Instrument, error) {
	return r.equity.GetOrLoad(ref, func() (domain.Instrument, error) {
		var inst domain.Instrument
		if err := r.fetch(ctx, ref, &inst); err != nil {
			return inst, err
		}
		if inst.Symbol == "" {
			return inst, domain.NewIntegrationFault("resolve instrument", http.StatusOK, nil, "instrument without symbol: "+ref)
		}
		r.log.WithField("symbol", inst.Symbol).Debug("instrument cached")
		return inst, nil
	})
}

// OptionInstrument returns the option contract behind ref.
func (r *Resolver) OptionInstrument(ctx context.Context, ref string) (domain.OptionInstrument, error) {
	return r.options.GetOrLoad(ref, func() (domain.OptionInstrument, error) {
		var inst domain.OptionInstrument
		if err := r.fetch(ctx, ref, &inst); err != nil {
			return inst, err
		}
		if inst.ChainSymbol == "" {
			return inst, domain.NewIntegrationFault("resolve option instrument", http.StatusOK, nil, "option instrument without chain_symbol: "+ref)
		}
		return inst, nil
	})
}

// Remember seeds the cache with records obtained elsewhere, e.g. from a
// listing that already returned full instruments.
func (r *Resolver) Remember(inst domain.Instrument) {
	if inst.URL == "" || inst.Symbol == "" {
		return
	}
	r.equity.Set(inst.URL, inst, 0)
}

// Cached reports how many equity and option instruments are held.
func (r *Resolver) Cached() (equity, options int) {
	return r.equity.Size(), r.options.Size()
}

func (r *Resolver) fetch(ctx context.Context, ref string, out any) error {
	resp, err := r.getter.Get(ctx, ref, nil, true)
	if err != nil {
		return err
	}
	if resp.Status != http.StatusOK {
		return domain.NewIntegrationFault("resolve instrument", resp.Status, resp.Body, "unexpected status")
	}
	if err := resp.Decode(out); err != nil {
		return domain.NewIntegrationFault("resolve instrument", resp.Status, resp.Body, err.Error())
	}
	return nil
}
