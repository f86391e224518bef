package domain

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// Instrument 可交易标的（股票）
type Instrument struct {
	URL             string `json:"url"`
	ID              string `json:"id"`
	Symbol          string `json:"symbol"`
	Name            string `json:"name"`
	SimpleName      string `json:"simple_name"`
	TradableChainID string `json:"tradable_chain_id"`
	Tradeable       bool   `json:"tradeable"`
}

// DisplayName prefers the full company name.
func (i *Instrument) DisplayName() string {
	if i.Name != "" {
		return i.Name
	}
	return i.SimpleName
}

// OptionInstrument 期权合约
type OptionInstrument struct {
	URL            string          `json:"url"`
	ID             string          `json:"id"`
	ChainID        string          `json:"chain_id"`
	ChainSymbol    string          `json:"chain_symbol"`
	Type           string          `json:"type"`
	StrikePrice    decimal.Decimal `json:"strike_price"`
	ExpirationDate string          `json:"expiration_date"`
	State          string          `json:"state"`
	Tradability    string          `json:"tradability"`
}

// Quote is the latest equity quote for a symbol.
type Quote struct {
	Symbol            string          `json:"symbol"`
	Instrument        string          `json:"instrument"`
	AskPrice          decimal.Decimal `json:"ask_price"`
	AskSize           int64           `json:"ask_size"`
	BidPrice          decimal.Decimal `json:"bid_price"`
	BidSize           int64           `json:"bid_size"`
	LastTradePrice    decimal.Decimal `json:"last_trade_price"`
	LastExtendedPrice decimal.Decimal `json:"last_extended_hours_trade_price"`
	PreviousClose     decimal.Decimal `json:"previous_close"`
	TradingHalted     bool            `json:"trading_halted"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

// Change is last trade minus previous close.
func (q *Quote) Change() decimal.Decimal {
	return q.LastTradePrice.Sub(q.PreviousClose)
}

// OptionQuote is market data for one option instrument.
type OptionQuote struct {
	Instrument     string          `json:"instrument"`
	AskPrice       decimal.Decimal `json:"ask_price"`
	BidPrice       decimal.Decimal `json:"bid_price"`
	MarkPrice      decimal.Decimal `json:"adjusted_mark_price"`
	LastTradePrice decimal.Decimal `json:"last_trade_price"`
	BreakEvenPrice decimal.Decimal `json:"break_even_price"`
	ImpliedVol     decimal.Decimal `json:"implied_volatility"`
	Delta          decimal.Decimal `json:"delta"`
	OpenInterest   int64           `json:"open_interest"`
	Volume         int64           `json:"volume"`
}

// Fundamentals 基本面数据
type Fundamentals struct {
	Open          decimal.Decimal `json:"open"`
	High          decimal.Decimal `json:"high"`
	Low           decimal.Decimal `json:"low"`
	Volume        decimal.Decimal `json:"volume"`
	AverageVolume decimal.Decimal `json:"average_volume"`
	High52Weeks   decimal.Decimal `json:"high_52_weeks"`
	Low52Weeks    decimal.Decimal `json:"low_52_weeks"`
	MarketCap     decimal.Decimal `json:"market_cap"`
	PERatio       decimal.Decimal `json:"pe_ratio"`
	DividendYield decimal.Decimal `json:"dividend_yield"`
	Description   string          `json:"description"`
	Sector        string          `json:"sector"`
}

// HistoricalBar is one OHLC bucket.
type HistoricalBar struct {
	BeginsAt   time.Time       `json:"begins_at"`
	OpenPrice  decimal.Decimal `json:"open_price"`
	ClosePrice decimal.Decimal `json:"close_price"`
	HighPrice  decimal.Decimal `json:"high_price"`
	LowPrice   decimal.Decimal `json:"low_price"`
	Volume     int64           `json:"volume"`
	Session    string          `json:"session"`
}

// Historicals groups the bars of one symbol.
type Historicals struct {
	Symbol   string          `json:"symbol"`
	Interval string          `json:"interval"`
	Span     string          `json:"span"`
	Bounds   string          `json:"bounds"`
	Bars     []HistoricalBar `json:"historicals"`
}

// Mover is one entry of the top movers list.
type Mover struct {
	Symbol        string        `json:"symbol"`
	Instrument    string        `json:"instrument_url"`
	Description   string        `json:"description"`
	PriceMovement PriceMovement `json:"price_movement"`
}

type PriceMovement struct {
	MarketHoursLastMovementPct decimal.Decimal `json:"market_hours_last_movement_pct"`
	MarketHoursLastPrice       decimal.Decimal `json:"market_hours_last_price"`
}

// NewsItem 新闻
type NewsItem struct {
	Title       string    `json:"title"`
	Source      string    `json:"source"`
	URL         string    `json:"url"`
	Summary     string    `json:"summary"`
	PublishedAt time.Time `json:"published_at"`
}

// Earnings is one quarterly earnings record.
type Earnings struct {
	Symbol     string          `json:"symbol"`
	Instrument string          `json:"instrument"`
	Year       int             `json:"year"`
	Quarter    int             `json:"quarter"`
	EPS        EarningsEPS     `json:"eps"`
	Report     *EarningsReport `json:"report"`
}

type EarningsEPS struct {
	Estimate decimal.Decimal `json:"estimate"`
	Actual   decimal.Decimal `json:"actual"`
}

// EarningsReport is nil until a report date is announced.
type EarningsReport struct {
	Date   string `json:"date"`
	Timing string `json:"timing"`
}

// OptionChain carries the expiration dates tradable for one chain.
type OptionChain struct {
	ID              string   `json:"id"`
	Symbol          string   `json:"symbol"`
	ExpirationDates []string `json:"expiration_dates"`
}

// RawJSON is returned by passthrough calls.
type RawJSON = json.RawMessage
