package marketdata

import (
	"context"
	"net/http"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/betbot/robinhood/internal/brokertest"
	"github.com/betbot/robinhood/internal/domain"
	"github.com/betbot/robinhood/internal/instruments"
	"github.com/betbot/robinhood/internal/session"
	"github.com/betbot/robinhood/internal/transport"
)

func newService(t *testing.T) (*Service, *instruments.Resolver, *brokertest.Server) {
	t.Helper()
	srv := brokertest.New()
	t.Cleanup(srv.Close)

	tr, err := transport.New(transport.Options{Origin: srv.URL})
	require.NoError(t, err)
	sess := session.FromToken(tr, "token", session.Options{})
	t.Cleanup(sess.Close)
	tr.SetTokenSource(sess)

	resolver := instruments.NewResolver(tr)
	svc := New(tr, resolver)
	svc.retryDelay = 0
	return svc, resolver, srv
}

func TestNormalizeSymbol(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "aapl", want: "AAPL"},
		{in: " brk.b ", want: "BRK.B"},
		{in: "bf-a", want: "BF-A"},
		{in: "", wantErr: true},
		{in: "   ", wantErr: true},
		{in: "AAPL/../user", wantErr: true},
		{in: "A?B", wantErr: true},
	}
	for _, tt := range tests {
		got, err := NormalizeSymbol(tt.in)
		if tt.wantErr {
			assert.True(t, domain.IsValidationFault(err), tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got)
	}
}

func TestUserAndLoggedIn(t *testing.T) {
	svc, _, srv := newService(t)

	u, err := svc.User(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "alice", u.Username)

	ok, err := svc.LoggedIn(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)

	req, _ := srv.Last(http.MethodGet, "/user/")
	assert.Equal(t, "Bearer token", req.Header.Get("Authorization"))
}

func TestAccount(t *testing.T) {
	svc, _, srv := newService(t)

	acct, err := svc.Account(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "5QR00001", acct.AccountNumber)
	assert.Equal(t, srv.URLFor("/accounts/5QR00001/"), acct.URL)

	srv.Lock()
	srv.AccountCount = 3
	srv.Unlock()
	accounts, err := svc.Accounts(context.Background())
	require.NoError(t, err)
	assert.Len(t, accounts, 3)
	_, err = svc.Account(context.Background())
	assert.True(t, domain.IsIntegrationFault(err))
}

func TestQuoteAndInstrument(t *testing.T) {
	svc, resolver, _ := newService(t)

	q, err := svc.Quote(context.Background(), "aapl")
	require.NoError(t, err)
	assert.Equal(t, "AAPL", q.Symbol)
	assert.True(t, q.LastTradePrice.Equal(decimal.RequireFromString("189.25")))

	inst, err := svc.InstrumentForSymbol(context.Background(), "SNAP")
	require.NoError(t, err)
	assert.Equal(t, "Snap Inc. Class A Common Stock", inst.DisplayName())
	assert.Equal(t, "snap-chain", inst.TradableChainID)
	equity, _ := resolver.Cached()
	assert.Equal(t, 1, equity)

	_, err = svc.Quote(context.Background(), "MSFT")
	assert.True(t, domain.IsIntegrationFault(err), "unknown symbols answer 404")
}

func TestHistoricals(t *testing.T) {
	svc, _, srv := newService(t)

	h, err := svc.Historicals(context.Background(), "aapl", HistoricalsQuery{})
	require.NoError(t, err)
	assert.Equal(t, "AAPL", h.Symbol)
	require.Len(t, h.Bars, 1)
	req, _ := srv.Last(http.MethodGet, "/quotes/historicals/AAPL/")
	assert.Equal(t, "day", req.Query.Get("interval"))
	assert.Equal(t, "year", req.Query.Get("span"))
	assert.Equal(t, "regular", req.Query.Get("bounds"))

	for _, q := range []HistoricalsQuery{{Interval: "hour"}, {Span: "month"}, {Bounds: "overnight"}} {
		_, err := svc.Historicals(context.Background(), "AAPL", q)
		assert.True(t, domain.IsValidationFault(err), "%+v", q)
	}
}

func TestListingRoutes(t *testing.T) {
	svc, _, srv := newService(t)
	ctx := context.Background()

	movers, err := svc.TopMovers(ctx, "down")
	require.NoError(t, err)
	require.Len(t, movers, 1)
	assert.Equal(t, "down", movers[0].Description)
	_, err = svc.TopMovers(ctx, "sideways")
	assert.True(t, domain.IsValidationFault(err))

	news, err := svc.News(ctx, "aapl")
	require.NoError(t, err)
	assert.Equal(t, "headline", news[0].Title)

	earnings, err := svc.Earnings(ctx, "aapl")
	require.NoError(t, err)
	assert.Equal(t, 2026, earnings[0].Year)
	req, _ := srv.Last(http.MethodGet, "/marketdata/earnings/")
	assert.Equal(t, "AAPL", req.Query.Get("symbol"))

	_, err = svc.UpcomingEarnings(ctx, 7)
	require.NoError(t, err)
	req, _ = srv.Last(http.MethodGet, "/marketdata/earnings/")
	assert.Equal(t, "7day", req.Query.Get("range"))
	for _, days := range []int{0, 22} {
		_, err = svc.UpcomingEarnings(ctx, days)
		assert.True(t, domain.IsValidationFault(err))
	}

	watch, err := svc.DefaultWatchlist(ctx)
	require.NoError(t, err)
	assert.Len(t, watch, 3, "two pages of the watchlist")
	assert.Equal(t, 2, srv.Count(http.MethodGet, "/watchlists/Default/"))
}

func TestPositionsAndPortfolio(t *testing.T) {
	svc, _, srv := newService(t)
	ctx := context.Background()

	positions, err := svc.StockPositions(ctx)
	require.NoError(t, err)
	require.Len(t, positions, 1)
	assert.Equal(t, "AAPL", positions[0].Symbol)
	req, _ := srv.Last(http.MethodGet, "/accounts/5QR00001/positions/")
	assert.Equal(t, "true", req.Query.Get("nonzero"))

	opts, err := svc.OptionPositions(ctx)
	require.NoError(t, err)
	assert.Equal(t, "SNAP", opts[0].ChainSymbol)

	p, err := svc.Portfolio(ctx)
	require.NoError(t, err)
	assert.Equal(t, "50", p.DayChange().String())
}

func TestOptionChainWalk(t *testing.T) {
	svc, _, srv := newService(t)
	ctx := context.Background()

	chainID, expirations, err := svc.ChainAndExpirations(ctx, "snap")
	require.NoError(t, err)
	assert.Equal(t, "snap-chain", chainID)
	assert.Equal(t, []string{"2026-11-20", "2026-12-18"}, expirations)

	contracts, err := svc.OptionInstruments(ctx, "call", "2026-12-18", chainID)
	require.NoError(t, err)
	require.Len(t, contracts, 1)
	assert.Equal(t, srv.OptionInstrumentURL(), contracts[0].URL)
	req, _ := srv.Last(http.MethodGet, "/options/instruments/")
	assert.Equal(t, "active", req.Query.Get("state"))
	assert.Equal(t, "tradable", req.Query.Get("tradability"))
	assert.Equal(t, "snap-chain", req.Query.Get("chain_id"))

	bad := []struct{ typ, exp, chain string }{
		{"straddle", "2026-12-18", chainID},
		{"put", "12/18/2026", chainID},
		{"put", "2026-12-18", ""},
	}
	for _, b := range bad {
		_, err := svc.OptionInstruments(ctx, b.typ, b.exp, b.chain)
		assert.True(t, domain.IsValidationFault(err), "%+v", b)
	}

	quotes, err := svc.OptionQuotes(ctx, []string{contracts[0].URL, "other"})
	require.NoError(t, err)
	require.Len(t, quotes, 2)
	req, _ = srv.Last(http.MethodGet, "/marketdata/options/")
	assert.Equal(t, contracts[0].URL+",other", req.Query.Get("instruments"))

	q, err := svc.OptionQuote(ctx, contracts[0].URL)
	require.NoError(t, err)
	assert.True(t, q.MarkPrice.Equal(decimal.RequireFromString("0.5")))

	none, err := svc.OptionQuotes(ctx, nil)
	require.NoError(t, err)
	assert.Nil(t, none)

	_, err = svc.OptionQuoteByID(ctx, "a/b")
	assert.True(t, domain.IsValidationFault(err))
}

func TestRaw(t *testing.T) {
	svc, _, srv := newService(t)

	body, status, err := svc.Raw(context.Background(), srv.URLFor("/user/"))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, status)
	assert.Contains(t, string(body), `"username":"alice"`)

	_, _, err = svc.Raw(context.Background(), "https://example.com/user/")
	assert.ErrorIs(t, err, domain.ErrURLNotAllowed)
}
