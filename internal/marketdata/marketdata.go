// Package marketdata wraps the read-only brokerage routes: profile, accounts,
// quotes, fundamentals, option chains and the like.
package marketdata

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/betbot/robinhood/internal/domain"
	"github.com/betbot/robinhood/internal/instruments"
	"github.com/betbot/robinhood/internal/pagination"
	"github.com/betbot/robinhood/internal/transport"
	"github.com/betbot/robinhood/pkg/logger"
)

// Requester is the transport surface market data needs.
type Requester interface {
	transport.Getter
	URL(route string) string
}

type Service struct {
	tr       Requester
	resolver *instruments.Resolver
	log      *logrus.Entry

	retries    int
	retryDelay time.Duration
}

func New(tr Requester, resolver *instruments.Resolver) *Service {
	return &Service{
		tr:         tr,
		resolver:   resolver,
		log:        logger.Component("marketdata"),
		retries:    3,
		retryDelay: 200 * time.Millisecond,
	}
}

// NormalizeSymbol upper-cases a ticker and rejects anything that could
// escape the route it is appended to.
func NormalizeSymbol(symbol string) (string, error) {
	s := strings.ToUpper(strings.TrimSpace(symbol))
	if s == "" {
		return "", &domain.ValidationFault{Field: "symbol", Reason: "must not be empty"}
	}
	for _, r := range s {
		if !(r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || r == '.' || r == '-') {
			return "", &domain.ValidationFault{Field: "symbol", Reason: "unexpected character in " + strconv.Quote(symbol)}
		}
	}
	return s, nil
}

func (s *Service) getJSON(ctx context.Context, op, rawURL string, query url.Values, out any) error {
	resp, err := s.tr.Get(ctx, rawURL, query, true)
	if err != nil {
		return err
	}
	if resp.Status != http.StatusOK {
		return domain.NewIntegrationFault(op, resp.Status, resp.Body, "unexpected status")
	}
	if err := resp.Decode(out); err != nil {
		return domain.NewIntegrationFault(op, resp.Status, resp.Body, err.Error())
	}
	return nil
}

func (s *Service) listAll(opts ...pagination.Option) []pagination.Option {
	return append([]pagination.Option{pagination.WithRetry(s.retries, s.retryDelay)}, opts...)
}

// User returns the authenticated user's profile.
func (s *Service) User(ctx context.Context) (domain.User, error) {
	var u domain.User
	err := s.getJSON(ctx, "user", s.tr.URL(transport.RouteUser), nil, &u)
	return u, err
}

// LoggedIn reports whether the current token is accepted by the user route.
func (s *Service) LoggedIn(ctx context.Context) (bool, error) {
	resp, err := s.tr.Get(ctx, s.tr.URL(transport.RouteUser), nil, true)
	if err != nil {
		return false, err
	}
	return resp.Status == http.StatusOK, nil
}

func (s *Service) Accounts(ctx context.Context) ([]domain.Account, error) {
	return pagination.FetchAll[domain.Account](ctx, s.tr, s.tr.URL(transport.RouteAccounts), nil, s.listAll()...)
}

// Account returns the user's only account. Anything other than exactly one
// account is an IntegrationFault.
func (s *Service) Account(ctx context.Context) (domain.Account, error) {
	accounts, err := s.Accounts(ctx)
	if err != nil {
		return domain.Account{}, err
	}
	if len(accounts) != 1 {
		return domain.Account{}, domain.NewIntegrationFault("account", http.StatusOK, nil,
			"expected exactly one account, got "+strconv.Itoa(len(accounts)))
	}
	if accounts[0].URL == "" {
		return domain.Account{}, domain.NewIntegrationFault("account", http.StatusOK, nil, "account without url")
	}
	return accounts[0], nil
}

func (s *Service) Quote(ctx context.Context, symbol string) (domain.Quote, error) {
	sym, err := NormalizeSymbol(symbol)
	if err != nil {
		return domain.Quote{}, err
	}
	var q domain.Quote
	if err := s.getJSON(ctx, "quote", s.tr.URL(transport.RouteQuotes+sym+"/"), nil, &q); err != nil {
		return q, err
	}
	if q.Instrument == "" {
		return q, domain.NewIntegrationFault("quote", http.StatusOK, nil, "quote without instrument for "+sym)
	}
	return q, nil
}

// InstrumentForSymbol looks up the quote for symbol and resolves its
// instrument through the cache.
func (s *Service) InstrumentForSymbol(ctx context.Context, symbol string) (domain.Instrument, error) {
	q, err := s.Quote(ctx, symbol)
	if err != nil {
		return domain.Instrument{}, err
	}
	return s.resolver.Instrument(ctx, q.Instrument)
}

func (s *Service) Fundamentals(ctx context.Context, symbol string) (domain.Fundamentals, error) {
	sym, err := NormalizeSymbol(symbol)
	if err != nil {
		return domain.Fundamentals{}, err
	}
	var f domain.Fundamentals
	err = s.getJSON(ctx, "fundamentals", s.tr.URL(transport.RouteFundamentals+sym+"/"), nil, &f)
	return f, err
}

// HistoricalsQuery selects the bar size and window. Empty fields take the
// defaults day / year / regular.
type HistoricalsQuery struct {
	Interval string // week | day | 10minute | 5minute
	Span     string // day | week | year | 5year | all
	Bounds   string // extended | regular | trading
}

var (
	validIntervals = map[string]bool{"week": true, "day": true, "10minute": true, "5minute": true}
	validSpans     = map[string]bool{"day": true, "week": true, "year": true, "5year": true, "all": true}
	validBounds    = map[string]bool{"extended": true, "regular": true, "trading": true}
)

func (s *Service) Historicals(ctx context.Context, symbol string, q HistoricalsQuery) (domain.Historicals, error) {
	sym, err := NormalizeSymbol(symbol)
	if err != nil {
		return domain.Historicals{}, err
	}
	if q.Interval == "" {
		q.Interval = "day"
	}
	if q.Span == "" {
		q.Span = "year"
	}
	if q.Bounds == "" {
		q.Bounds = "regular"
	}
	switch {
	case !validIntervals[q.Interval]:
		return domain.Historicals{}, &domain.ValidationFault{Field: "interval", Reason: "unsupported " + q.Interval}
	case !validSpans[q.Span]:
		return domain.Historicals{}, &domain.ValidationFault{Field: "span", Reason: "unsupported " + q.Span}
	case !validBounds[q.Bounds]:
		return domain.Historicals{}, &domain.ValidationFault{Field: "bounds", Reason: "unsupported " + q.Bounds}
	}

	var h domain.Historicals
	err = s.getJSON(ctx, "historicals", s.tr.URL(transport.RouteHistoricals+sym+"/"), url.Values{
		"interval": {q.Interval},
		"span":     {q.Span},
		"bounds":   {q.Bounds},
	}, &h)
	return h, err
}

// TopMovers lists the S&P 500 movers; direction is "up" or "down".
func (s *Service) TopMovers(ctx context.Context, direction string) ([]domain.Mover, error) {
	if direction != "up" && direction != "down" {
		return nil, &domain.ValidationFault{Field: "direction", Reason: `must be "up" or "down"`}
	}
	return pagination.FetchAll[domain.Mover](ctx, s.tr, s.tr.URL(transport.RouteTopMovers),
		url.Values{"direction": {direction}}, s.listAll()...)
}

func (s *Service) News(ctx context.Context, symbol string) ([]domain.NewsItem, error) {
	sym, err := NormalizeSymbol(symbol)
	if err != nil {
		return nil, err
	}
	return pagination.FetchAll[domain.NewsItem](ctx, s.tr, s.tr.URL(transport.RouteNews+sym+"/"), nil,
		s.listAll(pagination.WithLimit(50))...)
}

func (s *Service) Earnings(ctx context.Context, symbol string) ([]domain.Earnings, error) {
	sym, err := NormalizeSymbol(symbol)
	if err != nil {
		return nil, err
	}
	return pagination.FetchAll[domain.Earnings](ctx, s.tr, s.tr.URL(transport.RouteEarnings),
		url.Values{"symbol": {sym}}, s.listAll()...)
}

// UpcomingEarnings lists companies reporting within the next days (1-21).
func (s *Service) UpcomingEarnings(ctx context.Context, days int) ([]domain.Earnings, error) {
	if days < 1 || days > 21 {
		return nil, &domain.ValidationFault{Field: "days", Reason: "must be between 1 and 21"}
	}
	return pagination.FetchAll[domain.Earnings](ctx, s.tr, s.tr.URL(transport.RouteEarnings),
		url.Values{"range": {strconv.Itoa(days) + "day"}}, s.listAll()...)
}

func (s *Service) DefaultWatchlist(ctx context.Context) ([]domain.WatchlistItem, error) {
	return pagination.FetchAll[domain.WatchlistItem](ctx, s.tr, s.tr.URL(transport.RouteDefaultWatchlist), nil, s.listAll()...)
}

// StockPositions lists nonzero equity positions of the account, with
// symbols resolved where possible.
func (s *Service) StockPositions(ctx context.Context) ([]domain.Position, error) {
	acct, err := s.Account(ctx)
	if err != nil {
		return nil, err
	}
	if acct.Positions == "" {
		return nil, domain.NewIntegrationFault("positions", http.StatusOK, nil, "account without positions url")
	}
	positions, err := pagination.FetchAll[domain.Position](ctx, s.tr, acct.Positions,
		url.Values{"nonzero": {"true"}}, s.listAll()...)
	if err != nil {
		return nil, err
	}
	for i := range positions {
		sym, err := s.resolver.Resolve(ctx, positions[i].Instrument)
		if err != nil {
			s.log.WithError(err).Warn("position symbol lookup failed")
			continue
		}
		positions[i].Symbol = sym
	}
	return positions, nil
}

func (s *Service) OptionPositions(ctx context.Context) ([]domain.OptionPosition, error) {
	return pagination.FetchAll[domain.OptionPosition](ctx, s.tr, s.tr.URL(transport.RouteOptionPositions),
		url.Values{"nonzero": {"true"}}, s.listAll()...)
}

func (s *Service) Portfolio(ctx context.Context) (domain.Portfolio, error) {
	acct, err := s.Account(ctx)
	if err != nil {
		return domain.Portfolio{}, err
	}
	if acct.Portfolio == "" {
		return domain.Portfolio{}, domain.NewIntegrationFault("portfolio", http.StatusOK, nil, "account without portfolio url")
	}
	var p domain.Portfolio
	err = s.getJSON(ctx, "portfolio", acct.Portfolio, nil, &p)
	return p, err
}

// ChainAndExpirations returns the tradable option chain id of symbol and
// its expiration dates.
func (s *Service) ChainAndExpirations(ctx context.Context, symbol string) (string, []string, error) {
	inst, err := s.InstrumentForSymbol(ctx, symbol)
	if err != nil {
		return "", nil, err
	}
	if inst.TradableChainID == "" {
		return "", nil, domain.NewIntegrationFault("option chain", http.StatusOK, nil, inst.Symbol+" has no tradable option chain")
	}
	var chain domain.OptionChain
	if err := s.getJSON(ctx, "option chain", s.tr.URL(transport.RouteOptionChains+inst.TradableChainID+"/"), nil, &chain); err != nil {
		return "", nil, err
	}
	return inst.TradableChainID, chain.ExpirationDates, nil
}

// OptionInstruments lists active, tradable contracts of one chain for a type
// ("call" or "put") and expiration date (YYYY-MM-DD).
func (s *Service) OptionInstruments(ctx context.Context, optionType, expiration, chainID string) ([]domain.OptionInstrument, error) {
	if optionType != "call" && optionType != "put" {
		return nil, &domain.ValidationFault{Field: "type", Reason: `must be "call" or "put"`}
	}
	if _, err := time.Parse("2006-01-02", expiration); err != nil {
		return nil, &domain.ValidationFault{Field: "expiration", Reason: "must be YYYY-MM-DD"}
	}
	if chainID == "" {
		return nil, &domain.ValidationFault{Field: "chain_id", Reason: "must not be empty"}
	}
	return pagination.FetchAll[domain.OptionInstrument](ctx, s.tr, s.tr.URL(transport.RouteOptionInstruments), url.Values{
		"chain_id":         {chainID},
		"expiration_dates": {expiration},
		"state":            {"active"},
		"tradability":      {"tradable"},
		"type":             {optionType},
	}, s.listAll()...)
}

// OptionQuotes fetches quotes for several option instrument URLs in one call.
func (s *Service) OptionQuotes(ctx context.Context, instrumentURLs []string) ([]domain.OptionQuote, error) {
	if len(instrumentURLs) == 0 {
		return nil, nil
	}
	var page domain.Page[domain.OptionQuote]
	err := s.getJSON(ctx, "option quotes", s.tr.URL(transport.RouteOptionQuotes),
		url.Values{"instruments": {strings.Join(instrumentURLs, ",")}}, &page)
	if err != nil {
		return nil, err
	}
	return page.Results, nil
}

func (s *Service) OptionQuote(ctx context.Context, instrumentURL string) (domain.OptionQuote, error) {
	quotes, err := s.OptionQuotes(ctx, []string{instrumentURL})
	if err != nil {
		return domain.OptionQuote{}, err
	}
	if len(quotes) == 0 {
		return domain.OptionQuote{}, domain.NewIntegrationFault("option quote", http.StatusOK, nil, "no quote for "+instrumentURL)
	}
	return quotes[0], nil
}

func (s *Service) OptionQuoteByID(ctx context.Context, id string) (domain.OptionQuote, error) {
	if id == "" || strings.ContainsAny(id, "/?#") {
		return domain.OptionQuote{}, &domain.ValidationFault{Field: "id", Reason: "invalid option instrument id"}
	}
	var q domain.OptionQuote
	err := s.getJSON(ctx, "option quote", s.tr.URL(transport.RouteOptionQuotes+id+"/"), nil, &q)
	return q, err
}

// Raw performs an authenticated GET on any URL under the API origin and
// returns the body untouched.
func (s *Service) Raw(ctx context.Context, rawURL string) (domain.RawJSON, int, error) {
	resp, err := s.tr.Get(ctx, rawURL, nil, true)
	if err != nil {
		return nil, 0, err
	}
	return domain.RawJSON(resp.Body), resp.Status, nil
}
