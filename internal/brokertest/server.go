// Package brokertest runs an in-process fake of the brokerage API for tests.
package brokertest

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Request is one call the fake received.
type Request struct {
	Method string
	Path   string
	Query  url.Values
	Header http.Header
	Body   map[string]any
}

type stock struct {
	ID      string
	Symbol  string
	Name    string
	ChainID string
	Last    string
}

var stocks = []stock{
	{ID: "aapl-id", Symbol: "AAPL", Name: "Apple Inc. Common Stock", ChainID: "aapl-chain", Last: "189.2500"},
	{ID: "snap-id", Symbol: "SNAP", Name: "Snap Inc. Class A Common Stock", ChainID: "snap-chain", Last: "11.0200"},
}

// Server is safe for concurrent use. Exported fields may be changed between
// calls under Lock/Unlock.
type Server struct {
	*httptest.Server

	mu       sync.Mutex
	requests []Request

	// AccountCount is how many accounts /accounts/ returns.
	AccountCount int
	// PageSize splits listings into pages of this many items.
	PageSize int
	// PlaceStatus answers order submissions.
	PlaceStatus int
	// CancelStatus maps an order id to its cancel response; default 200.
	CancelStatus map[string]int
	// TokenHandler answers the token route; default issues a one hour token.
	TokenHandler func(body map[string]any) (int, string)

	revoked map[string]bool

	equityOrders []map[string]any
	optionOrders []map[string]any
}

func New() *Server {
	s := &Server{
		AccountCount: 1,
		PageSize:     2,
		PlaceStatus:  http.StatusCreated,
		CancelStatus: map[string]int{},
		revoked:      map[string]bool{},
	}
	s.Server = httptest.NewServer(http.HandlerFunc(s.serve))
	return s
}

func (s *Server) Lock()   { s.mu.Lock() }
func (s *Server) Unlock() { s.mu.Unlock() }

// URLFor joins a route onto the fake's origin.
func (s *Server) URLFor(route string) string {
	return s.URL + "/" + strings.TrimPrefix(route, "/")
}

func (s *Server) InstrumentURL(symbol string) string {
	for _, st := range stocks {
		if st.Symbol == symbol {
			return s.URLFor("/instruments/" + st.ID + "/")
		}
	}
	return ""
}

func (s *Server) OptionInstrumentURL() string {
	return s.URLFor("/options/instruments/snap-call/")
}

// AddEquityOrder appends an order to the listing. Orders are listed newest
// first, so the first added order is the most recent.
func (s *Server) AddEquityOrder(id, symbol string, cancelable bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	updated := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC).Add(-time.Duration(len(s.equityOrders)) * time.Hour)
	o := map[string]any{
		"id":                  id,
		"instrument":          s.InstrumentURL(symbol),
		"side":                "buy",
		"quantity":            "1.00000",
		"price":               "10.00",
		"cumulative_quantity": "0.00000",
		"state":               "confirmed",
		"type":                "limit",
		"time_in_force":       "gfd",
		"trigger":             "immediate",
		"cancel":              nil,
		"created_at":          updated.Format(time.RFC3339),
		"updated_at":          updated.Format(time.RFC3339),
	}
	if cancelable {
		o["cancel"] = s.URLFor("/orders/" + id + "/cancel/")
	} else {
		o["state"] = "filled"
	}
	s.equityOrders = append(s.equityOrders, o)
}

func (s *Server) AddOptionOrder(id string, cancelable bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o := map[string]any{
		"id":           id,
		"chain_symbol": "SNAP",
		"price":        "0.55",
		"quantity":     "1.00000",
		"state":        "queued",
		"direction":    "debit",
		"type":         "limit",
		"legs": []map[string]any{{
			"side": "buy", "option": s.OptionInstrumentURL(), "position_effect": "open", "ratio_quantity": 1,
		}},
		"opening_strategy": "long_call",
		"cancel_url":       nil,
		"updated_at":       "2026-10-01T12:00:00Z",
	}
	if cancelable {
		o["cancel_url"] = s.URLFor("/options/orders/" + id + "/cancel/")
	} else {
		o["state"] = "filled"
	}
	s.optionOrders = append(s.optionOrders, o)
}

// RevokeToken makes every request carrying token as its bearer fail with 401.
func (s *Server) RevokeToken(token string) {
	s.mu.Lock()
	s.revoked[token] = true
	s.mu.Unlock()
}

// Requests returns a copy of every request received so far.
func (s *Server) Requests() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Request, len(s.requests))
	copy(out, s.requests)
	return out
}

// Count returns how many requests matched method and path.
func (s *Server) Count(method, path string) int {
	n := 0
	for _, r := range s.Requests() {
		if r.Method == method && r.Path == path {
			n++
		}
	}
	return n
}

// Mutations counts every non-GET request other than the token route.
func (s *Server) Mutations() int {
	n := 0
	for _, r := range s.Requests() {
		if r.Method != http.MethodGet && r.Path != "/oauth2/token/" {
			n++
		}
	}
	return n
}

// Last returns the most recent request for method and path.
func (s *Server) Last(method, path string) (Request, bool) {
	reqs := s.Requests()
	for i := len(reqs) - 1; i >= 0; i-- {
		if reqs[i].Method == method && reqs[i].Path == path {
			return reqs[i], true
		}
	}
	return Request{}, false
}

func (s *Server) serve(w http.ResponseWriter, r *http.Request) {
	raw, _ := io.ReadAll(r.Body)
	var body map[string]any
	_ = json.Unmarshal(raw, &body)

	s.mu.Lock()
	s.requests = append(s.requests, Request{
		Method: r.Method,
		Path:   r.URL.Path,
		Query:  r.URL.Query(),
		Header: r.Header.Clone(),
		Body:   body,
	})
	rejected := s.revoked[strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")]
	s.mu.Unlock()

	if rejected {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"detail": "Invalid token."})
		return
	}

	path := r.URL.Path
	switch {
	case r.Method == http.MethodPost && path == "/oauth2/token/":
		s.token(w, body)
	case r.Method == http.MethodGet && path == "/user/":
		writeJSON(w, http.StatusOK, map[string]any{"id": "user-1", "username": "alice", "email": "alice@example.com"})
	case r.Method == http.MethodGet && path == "/accounts/":
		s.accounts(w)
	case r.Method == http.MethodGet && path == "/accounts/5QR00001/positions/":
		writeJSON(w, http.StatusOK, map[string]any{"results": []map[string]any{{
			"instrument": s.InstrumentURL("AAPL"), "quantity": "3.0000", "average_buy_price": "150.00",
		}}, "next": nil})
	case r.Method == http.MethodGet && path == "/accounts/5QR00001/portfolio/":
		writeJSON(w, http.StatusOK, map[string]any{"equity": "1050.00", "equity_previous_close": "1000.00"})
	case r.Method == http.MethodGet && strings.HasPrefix(path, "/quotes/historicals/"):
		sym := strings.Trim(strings.TrimPrefix(path, "/quotes/historicals/"), "/")
		writeJSON(w, http.StatusOK, map[string]any{
			"symbol": sym, "interval": r.URL.Query().Get("interval"), "span": r.URL.Query().Get("span"),
			"historicals": []map[string]any{{"begins_at": "2026-01-02T00:00:00Z", "open_price": "1.00", "close_price": "2.00"}},
		})
	case r.Method == http.MethodGet && strings.HasPrefix(path, "/quotes/"):
		s.quote(w, strings.Trim(strings.TrimPrefix(path, "/quotes/"), "/"))
	case r.Method == http.MethodGet && strings.HasPrefix(path, "/fundamentals/"):
		writeJSON(w, http.StatusOK, map[string]any{"open": "10.00", "market_cap": "1000000", "description": "d"})
	case r.Method == http.MethodGet && strings.HasPrefix(path, "/instruments/"):
		s.instrument(w, strings.Trim(strings.TrimPrefix(path, "/instruments/"), "/"))
	case r.Method == http.MethodGet && path == "/options/instruments/snap-call/":
		writeJSON(w, http.StatusOK, map[string]any{
			"url": s.OptionInstrumentURL(), "id": "snap-call", "chain_id": "snap-chain", "chain_symbol": "SNAP",
			"type": "call", "strike_price": "12.5000", "expiration_date": "2026-12-18",
		})
	case r.Method == http.MethodGet && path == "/options/instruments/":
		writeJSON(w, http.StatusOK, map[string]any{"results": []map[string]any{{
			"url": s.OptionInstrumentURL(), "id": "snap-call", "chain_symbol": "SNAP",
			"type": r.URL.Query().Get("type"), "strike_price": "12.5000", "expiration_date": r.URL.Query().Get("expiration_dates"),
		}}, "next": nil})
	case r.Method == http.MethodGet && strings.HasPrefix(path, "/options/chains/"):
		writeJSON(w, http.StatusOK, map[string]any{"id": strings.Trim(strings.TrimPrefix(path, "/options/chains/"), "/"),
			"symbol": "SNAP", "expiration_dates": []string{"2026-11-20", "2026-12-18"}})
	case r.Method == http.MethodGet && path == "/marketdata/options/":
		var results []map[string]any
		for _, inst := range strings.Split(r.URL.Query().Get("instruments"), ",") {
			if inst != "" {
				results = append(results, map[string]any{"instrument": inst, "adjusted_mark_price": "0.50"})
			}
		}
		writeJSON(w, http.StatusOK, map[string]any{"results": results})
	case r.Method == http.MethodGet && path == "/midlands/movers/sp500/":
		writeJSON(w, http.StatusOK, map[string]any{"results": []map[string]any{{"symbol": "AAPL", "description": r.URL.Query().Get("direction")}}})
	case r.Method == http.MethodGet && strings.HasPrefix(path, "/midlands/news/"):
		writeJSON(w, http.StatusOK, map[string]any{"results": []map[string]any{{"title": "headline", "source": "wire"}}, "next": nil})
	case r.Method == http.MethodGet && path == "/marketdata/earnings/":
		writeJSON(w, http.StatusOK, map[string]any{"results": []map[string]any{{"symbol": "AAPL", "year": 2026, "quarter": 3}}})
	case r.Method == http.MethodGet && path == "/watchlists/Default/":
		s.paged(w, r, []map[string]any{
			{"instrument": s.InstrumentURL("AAPL")},
			{"instrument": s.InstrumentURL("SNAP")},
			{"instrument": s.InstrumentURL("AAPL")},
		})
	case r.Method == http.MethodGet && path == "/options/positions/":
		writeJSON(w, http.StatusOK, map[string]any{"results": []map[string]any{{"chain_symbol": "SNAP", "quantity": "2.0000"}}, "next": nil})
	case r.Method == http.MethodGet && path == "/orders/":
		s.listEquity(w, r)
	case r.Method == http.MethodGet && path == "/options/orders/":
		s.mu.Lock()
		orders := append([]map[string]any(nil), s.optionOrders...)
		s.mu.Unlock()
		s.paged(w, r, filterByQuery(orders, r.URL.Query(), "chain_symbol"))
	case r.Method == http.MethodPost && path == "/orders/":
		s.place(w)
	case r.Method == http.MethodPost && path == "/options/orders/":
		s.place(w)
	case r.Method == http.MethodPost && strings.HasSuffix(path, "/cancel/"):
		s.cancel(w, path)
	case r.Method == http.MethodGet && strings.HasPrefix(path, "/orders/"):
		s.single(w, false, strings.Trim(strings.TrimPrefix(path, "/orders/"), "/"))
	case r.Method == http.MethodGet && strings.HasPrefix(path, "/options/orders/"):
		s.single(w, true, strings.Trim(strings.TrimPrefix(path, "/options/orders/"), "/"))
	default:
		writeJSON(w, http.StatusNotFound, map[string]any{"detail": "Not found."})
	}
}

func (s *Server) token(w http.ResponseWriter, body map[string]any) {
	s.mu.Lock()
	h := s.TokenHandler
	s.mu.Unlock()
	if h != nil {
		status, out := h(body)
		w.WriteHeader(status)
		_, _ = io.WriteString(w, out)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"access_token": "access-" + fmt.Sprint(body["grant_type"]), "refresh_token": "refresh-1", "expires_in": 3600,
	})
}

func (s *Server) accounts(w http.ResponseWriter) {
	s.mu.Lock()
	n := s.AccountCount
	s.mu.Unlock()
	results := make([]map[string]any, 0, n)
	for i := 0; i < n; i++ {
		num := fmt.Sprintf("5QR%05d", i+1)
		results = append(results, map[string]any{
			"url":            s.URLFor("/accounts/" + num + "/"),
			"account_number": num,
			"positions":      s.URLFor("/accounts/" + num + "/positions/"),
			"portfolio":      s.URLFor("/accounts/" + num + "/portfolio/"),
			"buying_power":   "1000.00",
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": results, "next": nil})
}

func (s *Server) quote(w http.ResponseWriter, symbol string) {
	for _, st := range stocks {
		if st.Symbol == symbol {
			writeJSON(w, http.StatusOK, map[string]any{
				"symbol": st.Symbol, "instrument": s.InstrumentURL(st.Symbol),
				"last_trade_price": st.Last, "previous_close": "10.0000", "ask_price": st.Last, "bid_price": st.Last,
			})
			return
		}
	}
	writeJSON(w, http.StatusNotFound, map[string]any{"detail": "Not found."})
}

func (s *Server) instrument(w http.ResponseWriter, id string) {
	for _, st := range stocks {
		if st.ID == id {
			writeJSON(w, http.StatusOK, map[string]any{
				"url": s.URLFor("/instruments/" + st.ID + "/"), "id": st.ID, "symbol": st.Symbol,
				"name": st.Name, "tradable_chain_id": st.ChainID, "tradeable": true,
			})
			return
		}
	}
	writeJSON(w, http.StatusNotFound, map[string]any{"detail": "Not found."})
}

func (s *Server) listEquity(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	orders := append([]map[string]any(nil), s.equityOrders...)
	s.mu.Unlock()

	orders = filterByQuery(orders, r.URL.Query(), "instrument")
	if since := r.URL.Query().Get("updated_at[gte]"); since != "" {
		cutoff, err := time.Parse(time.RFC3339, since)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]any{"detail": "bad updated_at"})
			return
		}
		var kept []map[string]any
		for _, o := range orders {
			t, _ := time.Parse(time.RFC3339, o["updated_at"].(string))
			if !t.Before(cutoff) {
				kept = append(kept, o)
			}
		}
		orders = kept
	}
	s.paged(w, r, orders)
}

func filterByQuery(orders []map[string]any, q url.Values, key string) []map[string]any {
	want := q.Get(key)
	if want == "" {
		return orders
	}
	var out []map[string]any
	for _, o := range orders {
		if o[key] == want {
			out = append(out, o)
		}
	}
	return out
}

// paged serves items with an offset cursor carried in the next link.
func (s *Server) paged(w http.ResponseWriter, r *http.Request, items []map[string]any) {
	s.mu.Lock()
	size := s.PageSize
	s.mu.Unlock()
	if size <= 0 {
		size = len(items) + 1
	}

	offset, _ := strconv.Atoi(r.URL.Query().Get("cursor"))
	end := offset + size
	if end > len(items) {
		end = len(items)
	}
	if offset > end {
		offset = end
	}
	page := map[string]any{"results": items[offset:end], "next": nil}
	if end < len(items) {
		q := r.URL.Query()
		q.Set("cursor", strconv.Itoa(end))
		page["next"] = s.URL + r.URL.Path + "?" + q.Encode()
	}
	writeJSON(w, http.StatusOK, page)
}

func (s *Server) place(w http.ResponseWriter) {
	s.mu.Lock()
	status := s.PlaceStatus
	s.mu.Unlock()
	if status == http.StatusCreated {
		writeJSON(w, status, map[string]any{"id": "new-order", "state": "unconfirmed"})
		return
	}
	writeJSON(w, status, map[string]any{"detail": "rejected"})
}

func (s *Server) cancel(w http.ResponseWriter, path string) {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	id := parts[len(parts)-2]
	s.mu.Lock()
	status, ok := s.CancelStatus[id]
	s.mu.Unlock()
	if !ok {
		status = http.StatusOK
	}
	writeJSON(w, status, map[string]any{})
}

func (s *Server) single(w http.ResponseWriter, option bool, id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	orders := s.equityOrders
	if option {
		orders = s.optionOrders
	}
	for _, o := range orders {
		if o["id"] == id {
			writeJSON(w, http.StatusOK, o)
			return
		}
	}
	writeJSON(w, http.StatusNotFound, map[string]any{"detail": "Not found."})
}

// CancelledIDs lists ids whose cancel route was called, sorted.
func (s *Server) CancelledIDs() []string {
	var ids []string
	for _, r := range s.Requests() {
		if r.Method == http.MethodPost && strings.HasSuffix(r.Path, "/cancel/") {
			parts := strings.Split(strings.Trim(r.Path, "/"), "/")
			ids = append(ids, parts[len(parts)-2])
		}
	}
	sort.Strings(ids)
	return ids
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
