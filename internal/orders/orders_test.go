package orders

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/betbot/robinhood/internal/brokertest"
	"github.com/betbot/robinhood/internal/domain"
	"github.com/betbot/robinhood/internal/instruments"
	"github.com/betbot/robinhood/internal/marketdata"
	"github.com/betbot/robinhood/internal/risk"
	"github.com/betbot/robinhood/internal/session"
	"github.com/betbot/robinhood/internal/transport"
)

func newService(t *testing.T) (*Service, *brokertest.Server) {
	t.Helper()
	srv := brokertest.New()
	t.Cleanup(srv.Close)

	tr, err := transport.New(transport.Options{Origin: srv.URL})
	require.NoError(t, err)
	sess := session.FromToken(tr, "token", session.Options{})
	t.Cleanup(sess.Close)
	tr.SetTokenSource(sess)

	resolver := instruments.NewResolver(tr)
	return New(tr, marketdata.New(tr, resolver), resolver), srv
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestEquityDryRunPreviewsWithoutMutation(t *testing.T) {
	svc, srv := newService(t)
	order := EquityOrder{Side: domain.SideBuy, Symbol: "aapl", Quantity: dec("100"), Price: dec("167.55")}

	first, err := svc.PlaceEquityOrder(context.Background(), order, true)
	require.NoError(t, err)
	second, err := svc.PlaceEquityOrder(context.Background(), order, true)
	require.NoError(t, err)

	assert.True(t, first.DryRun)
	assert.False(t, first.Placed)
	assert.Equal(t,
		"You are placing an order to buy 100 shares of Apple Inc. Common Stock (AAPL) with a limit price of 167.55",
		first.Preview)
	assert.Equal(t, first, second)
	assert.Zero(t, srv.Mutations())
	assert.Zero(t, srv.Count(http.MethodGet, "/accounts/"))
}

func TestEquityValidationFailsBeforeNetwork(t *testing.T) {
	tests := []struct {
		name  string
		order EquityOrder
		field string
	}{
		{"bad side", EquityOrder{Side: "hold", Symbol: "AAPL", Quantity: dec("1"), Price: dec("1")}, "side"},
		{"empty symbol", EquityOrder{Side: domain.SideBuy, Symbol: " ", Quantity: dec("1"), Price: dec("1")}, "symbol"},
		{"path in symbol", EquityOrder{Side: domain.SideBuy, Symbol: "../user", Quantity: dec("1"), Price: dec("1")}, "symbol"},
		{"zero quantity", EquityOrder{Side: domain.SideSell, Symbol: "AAPL", Quantity: dec("0"), Price: dec("1")}, "quantity"},
		{"fractional quantity", EquityOrder{Side: domain.SideSell, Symbol: "AAPL", Quantity: dec("1.5"), Price: dec("1")}, "quantity"},
		{"zero price", EquityOrder{Side: domain.SideBuy, Symbol: "AAPL", Quantity: dec("1"), Price: dec("0")}, "price"},
		{"negative price", EquityOrder{Side: domain.SideBuy, Symbol: "AAPL", Quantity: dec("1"), Price: dec("-3")}, "price"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, srv := newService(t)
			for _, dry := range []bool{true, false} {
				res, err := svc.PlaceEquityOrder(context.Background(), tt.order, dry)
				var vf *domain.ValidationFault
				require.ErrorAs(t, err, &vf)
				assert.Equal(t, tt.field, vf.Field)
				assert.False(t, res.Placed)
			}
			assert.Empty(t, srv.Requests())
		})
	}
}

func TestEquityLiveSubmission(t *testing.T) {
	svc, srv := newService(t)

	res, err := svc.PlaceEquityOrder(context.Background(),
		EquityOrder{Side: "SELL", Symbol: "snap", Quantity: dec("3"), Price: dec("11.5")}, false)
	require.NoError(t, err)
	assert.True(t, res.Placed)
	assert.Equal(t, http.StatusCreated, res.Status)

	req, ok := srv.Last(http.MethodPost, "/orders/")
	require.True(t, ok)
	assert.Equal(t, map[string]any{
		"time_in_force": "gfd",
		"side":          "sell",
		"price":         "11.5",
		"type":          "limit",
		"trigger":       "immediate",
		"quantity":      "3",
		"account":       srv.URLFor("/accounts/5QR00001/"),
		"instrument":    srv.InstrumentURL("SNAP"),
		"symbol":        "SNAP",
	}, req.Body)
	assert.Equal(t, "Bearer token", req.Header.Get("Authorization"))
	assert.Equal(t, 1, srv.Mutations())
}

func TestEquityLiveRejected(t *testing.T) {
	svc, srv := newService(t)
	srv.Lock()
	srv.PlaceStatus = http.StatusBadRequest
	srv.Unlock()

	res, err := svc.PlaceEquityOrder(context.Background(),
		EquityOrder{Side: domain.SideBuy, Symbol: "AAPL", Quantity: dec("1"), Price: dec("1")}, false)
	require.NoError(t, err)
	assert.False(t, res.Placed)
	assert.Equal(t, http.StatusBadRequest, res.Status)
}

func TestLiveOrderRequiresExactlyOneAccount(t *testing.T) {
	for _, n := range []int{0, 2} {
		svc, srv := newService(t)
		srv.Lock()
		srv.AccountCount = n
		srv.Unlock()

		_, err := svc.PlaceEquityOrder(context.Background(),
			EquityOrder{Side: domain.SideBuy, Symbol: "AAPL", Quantity: dec("1"), Price: dec("1")}, false)
		assert.True(t, domain.IsIntegrationFault(err), "accounts=%d", n)

		_, err = svc.PlaceOptionOrder(context.Background(),
			OptionOrderRequest{Instrument: srv.OptionInstrumentURL(), Quantity: dec("1"), Price: dec("1")}, false)
		assert.True(t, domain.IsIntegrationFault(err), "accounts=%d", n)

		assert.Zero(t, srv.Mutations())
	}
}

func TestOptionDryRun(t *testing.T) {
	svc, srv := newService(t)
	svc.newRefID = func() string { t.Fatal("dry run must not mint a ref_id"); return "" }

	res, err := svc.PlaceOptionOrder(context.Background(),
		OptionOrderRequest{Instrument: srv.OptionInstrumentURL(), Quantity: dec("2"), Price: dec("0.55")}, true)
	require.NoError(t, err)
	assert.Equal(t,
		"You are placing an order to buy 2 contracts of the $12.5000 2026-12-18 call for Snap Inc. Class A Common Stock (SNAP) with a limit price of 0.55\nTotal cost: $110.00",
		res.Preview)
	assert.Empty(t, res.RefID)
	assert.Zero(t, srv.Mutations())
}

func TestOptionLiveFreshRefIDPerSubmission(t *testing.T) {
	svc, srv := newService(t)
	req := OptionOrderRequest{Instrument: srv.OptionInstrumentURL(), Quantity: dec("1"), Price: dec("0.40")}

	first, err := svc.PlaceOptionOrder(context.Background(), req, false)
	require.NoError(t, err)
	firstBody, _ := srv.Last(http.MethodPost, "/options/orders/")
	second, err := svc.PlaceOptionOrder(context.Background(), req, false)
	require.NoError(t, err)

	assert.True(t, first.Placed)
	assert.True(t, second.Placed)
	assert.NotEmpty(t, first.RefID)
	assert.NotEqual(t, first.RefID, second.RefID)
	assert.Equal(t, first.RefID, firstBody.Body["ref_id"])

	body := firstBody.Body
	assert.Equal(t, "debit", body["direction"])
	assert.Equal(t, "limit", body["type"])
	assert.Equal(t, "0.4", body["price"])
	assert.Equal(t, false, body["override_day_trade_checks"])
	legs, ok := body["legs"].([]any)
	require.True(t, ok)
	require.Len(t, legs, 1)
	assert.Equal(t, map[string]any{
		"side": "buy", "option": srv.OptionInstrumentURL(), "position_effect": "open", "ratio_quantity": "1",
	}, legs[0])
}

func TestOptionValidation(t *testing.T) {
	svc, srv := newService(t)
	bad := []OptionOrderRequest{
		{Instrument: "", Quantity: dec("1"), Price: dec("1")},
		{Instrument: "https://evil.example.com/options/instruments/x/", Quantity: dec("1"), Price: dec("1")},
		{Instrument: srv.OptionInstrumentURL(), Quantity: dec("0"), Price: dec("1")},
		{Instrument: srv.OptionInstrumentURL(), Quantity: dec("1"), Price: dec("0")},
	}
	for _, req := range bad {
		_, err := svc.PlaceOptionOrder(context.Background(), req, false)
		assert.True(t, domain.IsValidationFault(err), "%+v", req)
	}
	assert.Empty(t, srv.Requests())
}

func TestListEquityOrdersLastIsHeadOfFullList(t *testing.T) {
	svc, srv := newService(t)
	for _, o := range []struct {
		id, sym string
	}{
		{"s1", "SNAP"}, {"a1", "AAPL"}, {"s2", "SNAP"}, {"s3", "SNAP"}, {"a2", "AAPL"},
		{"s4", "SNAP"}, {"s5", "SNAP"}, {"s6", "SNAP"}, {"s7", "SNAP"},
	} {
		srv.AddEquityOrder(o.id, o.sym, false)
	}

	all, err := svc.ListEquityOrders(context.Background(), Filter{Symbol: "SNAP"})
	require.NoError(t, err)
	require.Len(t, all, 7)
	for _, o := range all {
		assert.Equal(t, "SNAP", o.Symbol)
	}
	pagesForAll := srv.Count(http.MethodGet, "/orders/")

	last, err := svc.ListEquityOrders(context.Background(), Filter{Symbol: "SNAP", Last: 5})
	require.NoError(t, err)
	assert.Equal(t, all[:5], last)
	assert.Equal(t, 3, srv.Count(http.MethodGet, "/orders/")-pagesForAll, "five items at two per page take three pages")

	req, ok := srv.Last(http.MethodGet, "/orders/")
	require.True(t, ok)
	assert.Equal(t, srv.InstrumentURL("SNAP"), req.Query.Get("instrument"))
}

func TestListOrdersDaysFilter(t *testing.T) {
	svc, srv := newService(t)
	svc.now = func() time.Time { return time.Date(2026, 10, 1, 13, 0, 0, 0, time.FixedZone("X", 3600)) }
	srv.AddEquityOrder("e1", "AAPL", false)

	_, err := svc.ListOrders(context.Background(), domain.KindEquity, Filter{Days: 5})
	require.NoError(t, err)
	req, _ := srv.Last(http.MethodGet, "/orders/")
	assert.Equal(t, "2026-09-26T12:00:00Z", req.Query.Get("updated_at[gte]"))

	_, err = svc.ListOrders(context.Background(), domain.KindEquity, Filter{Days: -1})
	assert.True(t, domain.IsValidationFault(err))
	_, err = svc.ListOrders(context.Background(), "crypto", Filter{})
	assert.True(t, domain.IsValidationFault(err))
}

func TestListOptionOrders(t *testing.T) {
	svc, srv := newService(t)
	srv.AddOptionOrder("o1", true)
	srv.AddOptionOrder("o2", false)
	srv.AddOptionOrder("o3", true)

	listed, err := svc.ListOrders(context.Background(), domain.KindOption, Filter{Symbol: "snap", Last: 2})
	require.NoError(t, err)
	require.Len(t, listed, 2)
	assert.Equal(t, "o1", listed[0].OrderID())
	assert.Equal(t, domain.KindOption, listed[0].Kind())
	assert.True(t, listed[0].Cancelable())
	assert.False(t, listed[1].Cancelable())

	opt := listed[0].(*domain.OptionOrder)
	assert.Equal(t, "long_call", opt.Strategy())
	require.Len(t, opt.Legs, 1)
	assert.True(t, opt.Legs[0].RatioQuantity.Equal(decimal.NewFromInt(1)))

	req, _ := srv.Last(http.MethodGet, "/options/orders/")
	assert.Equal(t, "SNAP", req.Query.Get("chain_symbol"))
}

func TestCancelAllSkipsFailures(t *testing.T) {
	svc, srv := newService(t)
	srv.AddEquityOrder("e1", "AAPL", true)
	srv.AddEquityOrder("e2", "AAPL", false)
	srv.AddEquityOrder("e3", "SNAP", true)
	srv.AddEquityOrder("e4", "SNAP", true)
	srv.AddEquityOrder("e5", "SNAP", false)
	srv.Lock()
	srv.CancelStatus["e3"] = http.StatusInternalServerError
	srv.Unlock()

	n, err := svc.CancelAll(context.Background(), domain.KindEquity)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []string{"e1", "e3", "e4"}, srv.CancelledIDs())
}

func TestCancelAllOptions(t *testing.T) {
	svc, srv := newService(t)
	srv.AddOptionOrder("o1", true)
	srv.AddOptionOrder("o2", false)

	n, err := svc.CancelAll(context.Background(), domain.KindOption)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, srv.Count(http.MethodPost, "/options/orders/o1/cancel/"))
}

func TestCancelOrder(t *testing.T) {
	svc, srv := newService(t)
	srv.Lock()
	srv.CancelStatus["gone"] = http.StatusNotFound
	srv.Unlock()

	ok, err := svc.CancelOrder(context.Background(), domain.KindEquity, "abc")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = svc.CancelOrder(context.Background(), domain.KindEquity, "gone")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = svc.CancelOrder(context.Background(), domain.KindEquity, "../accounts")
	assert.True(t, domain.IsValidationFault(err))
	_, err = svc.CancelOrder(context.Background(), "", "abc")
	assert.True(t, domain.IsValidationFault(err))
}

func TestGetOrder(t *testing.T) {
	svc, srv := newService(t)
	srv.AddEquityOrder("e1", "SNAP", true)
	srv.AddOptionOrder("o1", false)

	got, err := svc.GetOrder(context.Background(), domain.KindEquity, "e1")
	require.NoError(t, err)
	eq := got.(*domain.Order)
	assert.Equal(t, "SNAP", eq.Symbol)
	assert.Equal(t, domain.OrderStateConfirmed, eq.OrderState())
	assert.True(t, eq.Price.Equal(dec("10")))

	got, err = svc.GetOrder(context.Background(), domain.KindOption, "o1")
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStateFilled, got.OrderState())

	_, err = svc.GetOrder(context.Background(), domain.KindEquity, "missing")
	assert.True(t, domain.IsIntegrationFault(err))
}

func TestBreakerHaltsLiveSubmissions(t *testing.T) {
	svc, srv := newService(t)
	svc.SetBreaker(risk.NewCircuitBreaker(2))
	srv.Lock()
	srv.PlaceStatus = http.StatusBadRequest
	srv.Unlock()
	order := EquityOrder{Side: domain.SideBuy, Symbol: "AAPL", Quantity: dec("1"), Price: dec("1")}

	for i := 0; i < 2; i++ {
		res, err := svc.PlaceEquityOrder(context.Background(), order, false)
		require.NoError(t, err)
		assert.False(t, res.Placed)
	}
	_, err := svc.PlaceEquityOrder(context.Background(), order, false)
	assert.ErrorIs(t, err, risk.ErrCircuitBreakerOpen)
	_, err = svc.PlaceOptionOrder(context.Background(),
		OptionOrderRequest{Instrument: srv.OptionInstrumentURL(), Quantity: dec("1"), Price: dec("1")}, false)
	assert.ErrorIs(t, err, risk.ErrCircuitBreakerOpen)
	assert.Equal(t, 2, srv.Mutations())

	preview, err := svc.PlaceEquityOrder(context.Background(), order, true)
	require.NoError(t, err)
	assert.NotEmpty(t, preview.Preview, "dry runs ignore the breaker")
}
