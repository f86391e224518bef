package transport

// API routes, relative to the origin.
const (
	RouteToken             = "/oauth2/token/"
	RouteUser              = "/user/"
	RouteAccounts          = "/accounts/"
	RouteOrders            = "/orders/"
	RouteOptionOrders      = "/options/orders/"
	RouteOptionPositions   = "/options/positions/"
	RouteOptionQuotes      = "/marketdata/options/"
	RouteQuotes            = "/quotes/"
	RouteFundamentals      = "/fundamentals/"
	RouteHistoricals       = "/quotes/historicals/"
	RouteTopMovers         = "/midlands/movers/sp500/"
	RouteNews              = "/midlands/news/"
	RouteEarnings          = "/marketdata/earnings/"
	RouteInstruments       = "/instruments/"
	RouteOptionInstruments = "/options/instruments/"
	RouteOptionChains      = "/options/chains/"
	RouteDefaultWatchlist  = "/watchlists/Default/"
)
