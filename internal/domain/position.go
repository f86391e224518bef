package domain

import "github.com/shopspring/decimal"

// User is the authenticated user profile.
type User struct {
	ID        string `json:"id"`
	Username  string `json:"username"`
	Email     string `json:"email"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	URL       string `json:"url"`
}

// Account is one brokerage account. Order placement only supports users with
// exactly one of them.
type Account struct {
	URL           string          `json:"url"`
	AccountNumber string          `json:"account_number"`
	Type          string          `json:"type"`
	Cash          decimal.Decimal `json:"cash"`
	BuyingPower   decimal.Decimal `json:"buying_power"`
	Positions     string          `json:"positions"`
	Portfolio     string          `json:"portfolio"`
}

// Position 股票持仓
type Position struct {
	Account        string          `json:"account"`
	Instrument     string          `json:"instrument"`
	Symbol         string          `json:"-"`
	Quantity       decimal.Decimal `json:"quantity"`
	AverageBuy     decimal.Decimal `json:"average_buy_price"`
	SharesHeldBuy  decimal.Decimal `json:"shares_held_for_buys"`
	SharesHeldSell decimal.Decimal `json:"shares_held_for_sells"`
}

// OptionPosition 期权持仓
type OptionPosition struct {
	Account      string          `json:"account"`
	Option       string          `json:"option"`
	ChainSymbol  string          `json:"chain_symbol"`
	Type         string          `json:"type"`
	Quantity     decimal.Decimal `json:"quantity"`
	AveragePrice decimal.Decimal `json:"average_price"`
}

// Portfolio is the account-level valuation snapshot.
type Portfolio struct {
	Account             string          `json:"account"`
	Equity              decimal.Decimal `json:"equity"`
	ExtendedHoursEquity decimal.Decimal `json:"extended_hours_equity"`
	MarketValue         decimal.Decimal `json:"market_value"`
	EquityPreviousClose decimal.Decimal `json:"equity_previous_close"`
	WithdrawableAmount  decimal.Decimal `json:"withdrawable_amount"`
}

// DayChange is equity minus the previous close.
func (p *Portfolio) DayChange() decimal.Decimal {
	return p.Equity.Sub(p.EquityPreviousClose)
}

// WatchlistItem references one instrument on a watchlist.
type WatchlistItem struct {
	Instrument string `json:"instrument"`
	Watchlist  string `json:"watchlist"`
	URL        string `json:"url"`
}
