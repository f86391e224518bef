// Package metrics publishes process counters through expvar.
package metrics

import "expvar"

var (
	HTTPRequests      = expvar.NewInt("rh_http_requests")
	HTTPNetworkFaults = expvar.NewInt("rh_http_network_faults")
	TokenRenewals     = expvar.NewInt("rh_token_renewals")
	OrdersSubmitted   = expvar.NewInt("rh_orders_submitted")
	OrdersRejected    = expvar.NewInt("rh_orders_rejected")
	OrdersCancelled   = expvar.NewInt("rh_orders_cancelled")
)
