// Package orders places, lists and cancels equity and option orders.
//
// Every placement validates its input before touching the network, and a dry
// run only reads: it resolves names and prices to describe the order, and
// never submits anything.
package orders

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/betbot/robinhood/internal/domain"
	"github.com/betbot/robinhood/internal/instruments"
	"github.com/betbot/robinhood/internal/marketdata"
	"github.com/betbot/robinhood/internal/metrics"
	"github.com/betbot/robinhood/internal/pagination"
	"github.com/betbot/robinhood/internal/risk"
	"github.com/betbot/robinhood/internal/transport"
	"github.com/betbot/robinhood/pkg/logger"
)

// Requester is the transport surface the order service needs.
type Requester interface {
	transport.Getter
	Post(ctx context.Context, rawURL string, body any, auth bool) (*transport.Response, error)
	URL(route string) string
	Allowed(rawURL string) bool
}

// EquityOrder is a limit order for whole shares.
type EquityOrder struct {
	Side     domain.Side
	Symbol   string
	Quantity decimal.Decimal
	Price    decimal.Decimal
}

// OptionOrderRequest buys to open Quantity contracts of Instrument.
type OptionOrderRequest struct {
	Instrument string
	Quantity   decimal.Decimal
	Price      decimal.Decimal
}

// Result of a placement. Preview is set for dry runs; Placed and Status for
// live submissions.
type Result struct {
	DryRun  bool
	Preview string
	Placed  bool
	Status  int
	RefID   string
}

// Filter narrows an order listing. Zero values disable a filter.
type Filter struct {
	Days   int    // only orders updated within the last Days days
	Symbol string // equity: instrument of the symbol; option: chain symbol
	Last   int    // the Last most recent orders
}

// Service places, lists and cancels equity and option orders.
type Service struct {
	tr       Requester
	market   *marketdata.Service
	resolver *instruments.Resolver
	breaker  *risk.CircuitBreaker
	log      *logrus.Entry

	now      func() time.Time
	newRefID func() string
}

// New returns a Service without a circuit breaker; see SetBreaker.
func New(tr Requester, market *marketdata.Service, resolver *instruments.Resolver) *Service {
	return &Service{
		tr:       tr,
		market:   market,
		resolver: resolver,
		log:      logger.Component("orders"),
		now:      time.Now,
		newRefID: uuid.NewString,
	}
}

// SetBreaker installs a breaker consulted before every live submission.
// Dry runs ignore it.
func (s *Service) SetBreaker(cb *risk.CircuitBreaker) {
	s.breaker = cb
}

var hundred = decimal.NewFromInt(100)

func validateQuantity(q decimal.Decimal) error {
	if !q.IsPositive() {
		return &domain.ValidationFault{Field: "quantity", Reason: "must be greater than zero"}
	}
	if !q.IsInteger() {
		return &domain.ValidationFault{Field: "quantity", Reason: "must be a whole number"}
	}
	return nil
}

func validatePrice(p decimal.Decimal) error {
	if !p.IsPositive() {
		return &domain.ValidationFault{Field: "price", Reason: "must be greater than zero"}
	}
	return nil
}

func (o EquityOrder) validate() (domain.Side, string, error) {
	side, ok := domain.ParseSide(string(o.Side))
	if !ok {
		return "", "", &domain.ValidationFault{Field: "side", Reason: fmt.Sprintf("%q is not buy or sell", o.Side)}
	}
	sym, err := marketdata.NormalizeSymbol(o.Symbol)
	if err != nil {
		return "", "", err
	}
	if err := validateQuantity(o.Quantity); err != nil {
		return "", "", err
	}
	if err := validatePrice(o.Price); err != nil {
		return "", "", err
	}
	return side, sym, nil
}

// PlaceEquityOrder validates o, then either describes it (dryRun) or submits
// a good-for-day limit order to the user's only account.
func (s *Service) PlaceEquityOrder(ctx context.Context, o EquityOrder, dryRun bool) (Result, error) {
	side, sym, err := o.validate()
	if err != nil {
		return Result{DryRun: dryRun}, err
	}

	if dryRun {
		inst, err := s.market.InstrumentForSymbol(ctx, sym)
		if err != nil {
			return Result{DryRun: true}, err
		}
		preview := fmt.Sprintf("You are placing an order to %s %s shares of %s (%s) with a limit price of %s",
			side, o.Quantity.String(), inst.DisplayName(), sym, o.Price.String())
		return Result{DryRun: true, Preview: preview}, nil
	}

	if err := s.breaker.Allow(); err != nil {
		return Result{}, err
	}
	account, err := s.market.Account(ctx)
	if err != nil {
		return Result{}, err
	}
	quote, err := s.market.Quote(ctx, sym)
	if err != nil {
		return Result{}, err
	}

	payload := map[string]any{
		"time_in_force": "gfd",
		"side":          string(side),
		"price":         o.Price.String(),
		"type":          "limit",
		"trigger":       "immediate",
		"quantity":      o.Quantity.String(),
		"account":       account.URL,
		"instrument":    quote.Instrument,
		"symbol":        sym,
	}
	return s.submit(ctx, transport.RouteOrders, payload, "", logrus.Fields{"symbol": sym, "side": side})
}

// PlaceOptionOrder validates req, then either describes the contract and its
// total cost (dryRun) or submits a single-leg buy-to-open debit limit order.
// A new ref_id is generated for every live submission.
func (s *Service) PlaceOptionOrder(ctx context.Context, req OptionOrderRequest, dryRun bool) (Result, error) {
	if req.Instrument == "" || !s.tr.Allowed(req.Instrument) {
		return Result{DryRun: dryRun}, &domain.ValidationFault{Field: "instrument", Reason: "must be an option instrument url under the api origin"}
	}
	if err := validateQuantity(req.Quantity); err != nil {
		return Result{DryRun: dryRun}, err
	}
	if err := validatePrice(req.Price); err != nil {
		return Result{DryRun: dryRun}, err
	}

	if dryRun {
		opt, err := s.resolver.OptionInstrument(ctx, req.Instrument)
		if err != nil {
			return Result{DryRun: true}, err
		}
		inst, err := s.market.InstrumentForSymbol(ctx, opt.ChainSymbol)
		if err != nil {
			return Result{DryRun: true}, err
		}
		total := req.Quantity.Mul(req.Price).Mul(hundred)
		preview := fmt.Sprintf("You are placing an order to buy %s contracts of the $%s %s %s for %s (%s) with a limit price of %s\nTotal cost: $%s",
			req.Quantity.String(), opt.StrikePrice.StringFixed(4), opt.ExpirationDate, opt.Type,
			inst.DisplayName(), opt.ChainSymbol, req.Price.String(), total.StringFixed(2))
		return Result{DryRun: true, Preview: preview}, nil
	}

	if err := s.breaker.Allow(); err != nil {
		return Result{}, err
	}
	account, err := s.market.Account(ctx)
	if err != nil {
		return Result{}, err
	}

	refID := s.newRefID()
	payload := map[string]any{
		"quantity":      req.Quantity.String(),
		"direction":     "debit",
		"price":         req.Price.String(),
		"type":          "limit",
		"account":       account.URL,
		"time_in_force": "gfd",
		"trigger":       "immediate",
		"legs": []map[string]any{{
			"side":            string(domain.SideBuy),
			"option":          req.Instrument,
			"position_effect": "open",
			"ratio_quantity":  "1",
		}},
		"override_day_trade_checks": false,
		"override_dtbp_checks":      false,
		"ref_id":                    refID,
	}
	return s.submit(ctx, transport.RouteOptionOrders, payload, refID, logrus.Fields{"ref_id": refID})
}

// submit posts an order exactly once. Network faults are returned as-is and
// never retried; the caller decides whether resubmitting is safe.
func (s *Service) submit(ctx context.Context, route string, payload map[string]any, refID string, fields logrus.Fields) (Result, error) {
	resp, err := s.tr.Post(ctx, s.tr.URL(route), payload, true)
	if err != nil {
		s.breaker.OnFailure()
		return Result{RefID: refID}, err
	}
	res := Result{Placed: resp.Status == http.StatusCreated, Status: resp.Status, RefID: refID}
	log := s.log.WithFields(fields).WithField("status", resp.Status)
	if res.Placed {
		s.breaker.OnSuccess()
		metrics.OrdersSubmitted.Add(1)
		log.Info("order submitted")
	} else {
		s.breaker.OnFailure()
		metrics.OrdersRejected.Add(1)
		log.Warnf("order not accepted: %s", strings.TrimSpace(string(resp.Body)))
	}
	return res, nil
}

func (f Filter) validate() error {
	if f.Days < 0 {
		return &domain.ValidationFault{Field: "days", Reason: "must not be negative"}
	}
	if f.Last < 0 {
		return &domain.ValidationFault{Field: "last", Reason: "must not be negative"}
	}
	return nil
}

func (s *Service) baseQuery(f Filter) url.Values {
	q := url.Values{}
	if f.Days > 0 {
		since := s.now().Add(-time.Duration(f.Days) * 24 * time.Hour).UTC()
		q.Set("updated_at[gte]", since.Format(time.RFC3339))
	}
	return q
}

// ListEquityOrders returns equity orders newest first, with symbols filled
// in where the instrument lookup succeeds.
func (s *Service) ListEquityOrders(ctx context.Context, f Filter) ([]domain.Order, error) {
	if err := f.validate(); err != nil {
		return nil, err
	}
	q := s.baseQuery(f)
	if f.Symbol != "" {
		quote, err := s.market.Quote(ctx, f.Symbol)
		if err != nil {
			return nil, err
		}
		q.Set("instrument", quote.Instrument)
	}

	orders, err := pagination.FetchAll[domain.Order](ctx, s.tr, s.tr.URL(transport.RouteOrders), q,
		pagination.WithLimit(f.Last), pagination.WithRetry(3, 200*time.Millisecond))
	if err != nil {
		return nil, err
	}
	for i := range orders {
		if orders[i].Instrument == "" {
			continue
		}
		sym, err := s.resolver.Resolve(ctx, orders[i].Instrument)
		if err != nil {
			s.log.WithError(err).WithField("order", orders[i].ID).Warn("symbol lookup failed")
			continue
		}
		orders[i].Symbol = sym
	}
	return orders, nil
}

// ListOptionOrders returns option orders newest first.
func (s *Service) ListOptionOrders(ctx context.Context, f Filter) ([]domain.OptionOrder, error) {
	if err := f.validate(); err != nil {
		return nil, err
	}
	q := s.baseQuery(f)
	if f.Symbol != "" {
		sym, err := marketdata.NormalizeSymbol(f.Symbol)
		if err != nil {
			return nil, err
		}
		q.Set("chain_symbol", sym)
	}
	return pagination.FetchAll[domain.OptionOrder](ctx, s.tr, s.tr.URL(transport.RouteOptionOrders), q,
		pagination.WithLimit(f.Last), pagination.WithRetry(3, 200*time.Millisecond))
}

// ListOrders returns either kind as one ordered sequence.
func (s *Service) ListOrders(ctx context.Context, kind domain.OrderKind, f Filter) ([]domain.Listed, error) {
	switch kind {
	case domain.KindEquity:
		orders, err := s.ListEquityOrders(ctx, f)
		if err != nil {
			return nil, err
		}
		out := make([]domain.Listed, len(orders))
		for i := range orders {
			out[i] = &orders[i]
		}
		return out, nil
	case domain.KindOption:
		orders, err := s.ListOptionOrders(ctx, f)
		if err != nil {
			return nil, err
		}
		out := make([]domain.Listed, len(orders))
		for i := range orders {
			out[i] = &orders[i]
		}
		return out, nil
	default:
		return nil, invalidKind(kind)
	}
}

func invalidKind(kind domain.OrderKind) error {
	return &domain.ValidationFault{Field: "kind", Reason: fmt.Sprintf("%q is not equity or option", kind)}
}

func routeFor(kind domain.OrderKind) (string, error) {
	switch kind {
	case domain.KindEquity:
		return transport.RouteOrders, nil
	case domain.KindOption:
		return transport.RouteOptionOrders, nil
	}
	return "", invalidKind(kind)
}

func validateID(id string) error {
	if id == "" || strings.ContainsAny(id, "/?#.") {
		return &domain.ValidationFault{Field: "id", Reason: "invalid order id"}
	}
	return nil
}

// GetOrder fetches one order by id.
func (s *Service) GetOrder(ctx context.Context, kind domain.OrderKind, id string) (domain.Listed, error) {
	route, err := routeFor(kind)
	if err != nil {
		return nil, err
	}
	if err := validateID(id); err != nil {
		return nil, err
	}
	resp, err := s.tr.Get(ctx, s.tr.URL(route+id+"/"), nil, true)
	if err != nil {
		return nil, err
	}
	if resp.Status != http.StatusOK {
		return nil, domain.NewIntegrationFault("get order", resp.Status, resp.Body, "unexpected status")
	}

	var out domain.Listed
	switch kind {
	case domain.KindEquity:
		var o domain.Order
		err = resp.Decode(&o)
		if err == nil && o.Instrument != "" {
			if sym, rerr := s.resolver.Resolve(ctx, o.Instrument); rerr == nil {
				o.Symbol = sym
			}
		}
		out = &o
	default:
		var o domain.OptionOrder
		err = resp.Decode(&o)
		out = &o
	}
	if err != nil {
		return nil, domain.NewIntegrationFault("get order", resp.Status, resp.Body, err.Error())
	}
	return out, nil
}

// CancelOrder asks the server to cancel one order. It reports true only for
// a 200 answer.
func (s *Service) CancelOrder(ctx context.Context, kind domain.OrderKind, id string) (bool, error) {
	route, err := routeFor(kind)
	if err != nil {
		return false, err
	}
	if err := validateID(id); err != nil {
		return false, err
	}
	resp, err := s.tr.Post(ctx, s.tr.URL(route+id+"/cancel/"), map[string]any{}, true)
	if err != nil {
		return false, err
	}
	log := s.log.WithFields(logrus.Fields{"kind": kind, "order": id, "status": resp.Status})
	if resp.Status != http.StatusOK {
		log.Warn("cancel not accepted")
		return false, nil
	}
	metrics.OrdersCancelled.Add(1)
	log.Info("order cancelled")
	return true, nil
}

// CancelAll cancels every order of kind that still exposes a cancel link.
// Each cancellation stands alone: failures are logged and skipped, and the
// count covers confirmed cancellations only.
func (s *Service) CancelAll(ctx context.Context, kind domain.OrderKind) (int, error) {
	orders, err := s.ListOrders(ctx, kind, Filter{})
	if err != nil {
		return 0, err
	}

	cancelled := 0
	for _, o := range orders {
		if !o.Cancelable() {
			continue
		}
		if err := ctx.Err(); err != nil {
			return cancelled, err
		}
		ok, err := s.CancelOrder(ctx, kind, o.OrderID())
		if err != nil {
			s.log.WithError(err).WithField("order", o.OrderID()).Warn("cancel failed, continuing")
			continue
		}
		if ok {
			cancelled++
		}
	}
	s.log.WithField("kind", kind).Infof("cancelled %d open order(s)", cancelled)
	return cancelled, nil
}
