package metrics

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDebugVarsExposeCounters(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s, err := StartAsync(ctx, "127.0.0.1:0")
	require.NoError(t, err)

	OrdersCancelled.Add(1)
	resp, err := http.Get("http://" + s.Addr + "/debug/vars")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var vars map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&vars))
	for _, name := range []string{"rh_http_requests", "rh_token_renewals", "rh_orders_submitted", "rh_orders_cancelled"} {
		assert.Contains(t, vars, name)
	}
	assert.GreaterOrEqual(t, vars["rh_orders_cancelled"].(float64), float64(1))
}
