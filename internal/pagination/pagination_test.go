package pagination

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/betbot/robinhood/internal/domain"
	"github.com/betbot/robinhood/internal/transport"
)

type item struct {
	ID int `json:"id"`
}

// pagedGetter serves pages of ids from memory and records each request.
type pagedGetter struct {
	pages    [][]int
	calls    []string
	failures int // network faults to return before succeeding
	raw      map[string]string
}

func pageURL(i int) string { return fmt.Sprintf("https://api.robinhood.com/orders/?cursor=%d", i) }

func (g *pagedGetter) Get(_ context.Context, rawURL string, _ url.Values, _ bool) (*transport.Response, error) {
	g.calls = append(g.calls, rawURL)
	if g.failures > 0 {
		g.failures--
		return nil, &domain.NetworkFault{Op: "GET", URL: rawURL, Err: fmt.Errorf("connection reset")}
	}
	if body, ok := g.raw[rawURL]; ok {
		return &transport.Response{Status: http.StatusOK, Body: []byte(body)}, nil
	}

	idx := 0
	if u, _ := url.Parse(rawURL); u.Query().Get("cursor") != "" {
		_, _ = fmt.Sscanf(u.Query().Get("cursor"), "%d", &idx)
	}
	var page struct {
		Results []item  `json:"results"`
		Next    *string `json:"next"`
	}
	for _, id := range g.pages[idx] {
		page.Results = append(page.Results, item{ID: id})
	}
	if idx+1 < len(g.pages) {
		next := pageURL(idx + 1)
		page.Next = &next
	}
	body, _ := json.Marshal(page)
	return &transport.Response{Status: http.StatusOK, Body: body}, nil
}

func ids(items []item) []int {
	out := make([]int, len(items))
	for i, it := range items {
		out[i] = it.ID
	}
	return out
}

func TestFetchAllUnionInServerOrder(t *testing.T) {
	g := &pagedGetter{pages: [][]int{{9, 8, 7}, {6, 5}, {4}}}

	got, err := FetchAll[item](context.Background(), g, pageURL(0), nil)
	require.NoError(t, err)
	assert.Equal(t, []int{9, 8, 7, 6, 5, 4}, ids(got))
	assert.Len(t, g.calls, 3)
}

func TestFetchAllLimitFetchesMinimum(t *testing.T) {
	tests := []struct {
		limit     int
		wantIDs   []int
		wantCalls int
	}{
		{limit: 2, wantIDs: []int{9, 8}, wantCalls: 1},
		{limit: 3, wantIDs: []int{9, 8, 7}, wantCalls: 1},
		{limit: 4, wantIDs: []int{9, 8, 7, 6}, wantCalls: 2},
		{limit: 6, wantIDs: []int{9, 8, 7, 6, 5, 4}, wantCalls: 3},
		{limit: 50, wantIDs: []int{9, 8, 7, 6, 5, 4}, wantCalls: 3},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("limit=%d", tt.limit), func(t *testing.T) {
			g := &pagedGetter{pages: [][]int{{9, 8, 7}, {6, 5}, {4}}}
			got, err := FetchAll[item](context.Background(), g, pageURL(0), nil, WithLimit(tt.limit))
			require.NoError(t, err)
			assert.Equal(t, tt.wantIDs, ids(got))
			assert.Len(t, g.calls, tt.wantCalls)
		})
	}
}

func TestFetchAllMissingResultsIsEmptyPage(t *testing.T) {
	next := "https://api.robinhood.com/orders/?cursor=1"
	g := &pagedGetter{
		pages: [][]int{nil, {1, 2}},
		raw:   map[string]string{pageURL(0): `{"next":"` + next + `"}`},
	}

	got, err := FetchAll[item](context.Background(), g, pageURL(0), nil)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2}, ids(got))
}

func TestFetchAllNonOKIsIntegrationFault(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()
	tr, err := transport.New(transport.Options{Origin: srv.URL})
	require.NoError(t, err)

	_, err = FetchAll[item](context.Background(), tr, tr.URL("/orders/"), nil)
	require.Error(t, err)
	assert.True(t, domain.IsIntegrationFault(err))
}

func TestFetchAllRetriesNetworkFaults(t *testing.T) {
	g := &pagedGetter{pages: [][]int{{1}}, failures: 2}

	got, err := FetchAll[item](context.Background(), g, pageURL(0), nil, WithRetry(3, time.Millisecond))
	require.NoError(t, err)
	assert.Equal(t, []int{1}, ids(got))
	assert.Len(t, g.calls, 3)

	g = &pagedGetter{pages: [][]int{{1}}, failures: 2}
	_, err = FetchAll[item](context.Background(), g, pageURL(0), nil)
	assert.True(t, domain.IsNetworkFault(err), "no retry without WithRetry")
	assert.Len(t, g.calls, 1)
}

func TestFetchAllRetryHonoursContext(t *testing.T) {
	g := &pagedGetter{pages: [][]int{{1}}, failures: 5}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := FetchAll[item](ctx, g, pageURL(0), nil, WithRetry(5, time.Second))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestFetchAllQueryOnlyOnFirstPage(t *testing.T) {
	var queries []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		queries = append(queries, r.URL.RawQuery)
		if r.URL.Query().Get("cursor") == "" {
			fmt.Fprintf(w, `{"results":[{"id":1}],"next":"http://%s/orders/?cursor=2"}`, r.Host)
			return
		}
		_, _ = w.Write([]byte(`{"results":[{"id":2}],"next":null}`))
	}))
	defer srv.Close()
	tr, err := transport.New(transport.Options{Origin: srv.URL})
	require.NoError(t, err)

	got, err := FetchAll[item](context.Background(), tr, tr.URL("/orders/"), url.Values{"updated_at[gte]": {"2024-01-01T00:00:00Z"}})
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2}, ids(got))
	require.Len(t, queries, 2)
	assert.Contains(t, queries[0], "updated_at")
	assert.Equal(t, "cursor=2", queries[1])
}
