package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Side 订单方向
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// ParseSide accepts "buy"/"sell" in any case.
func ParseSide(s string) (Side, bool) {
	switch Side(strings.ToLower(strings.TrimSpace(s))) {
	case SideBuy:
		return SideBuy, true
	case SideSell:
		return SideSell, true
	}
	return "", false
}

// OrderKind selects the equity or the option order routes.
type OrderKind string

const (
	KindEquity OrderKind = "equity"
	KindOption OrderKind = "option"
)

// Valid reports whether k names a supported order kind.
func (k OrderKind) Valid() bool {
	return k == KindEquity || k == KindOption
}

// OrderState is authoritative on the remote side; the client only reports it.
type OrderState string

const (
	OrderStateQueued          OrderState = "queued"
	OrderStateUnconfirmed     OrderState = "unconfirmed"
	OrderStateConfirmed       OrderState = "confirmed"
	OrderStatePartiallyFilled OrderState = "partially_filled"
	OrderStateFilled          OrderState = "filled"
	OrderStateCancelled       OrderState = "cancelled"
	OrderStateRejected        OrderState = "rejected"
	OrderStateFailed          OrderState = "failed"
)

// Listed is what every listing of orders yields, regardless of kind.
type Listed interface {
	OrderID() string
	Kind() OrderKind
	OrderState() OrderState
	Cancelable() bool
}

// Order is an equity order as returned by the orders endpoint. Symbol is not
// part of the payload; it is filled in through the instrument resolver.
type Order struct {
	ID          string          `json:"id"`
	Symbol      string          `json:"-"`
	Instrument  string          `json:"instrument"`
	Side        Side            `json:"side"`
	Quantity    decimal.Decimal `json:"quantity"`
	Price       decimal.Decimal `json:"price"`
	AvgPrice    decimal.Decimal `json:"average_price"`
	Filled      decimal.Decimal `json:"cumulative_quantity"`
	State       OrderState      `json:"state"`
	Type        string          `json:"type"`
	TimeInForce string          `json:"time_in_force"`
	Trigger     string          `json:"trigger"`
	CancelURL   *string         `json:"cancel"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

func (o *Order) OrderID() string        { return o.ID }
func (o *Order) Kind() OrderKind        { return KindEquity }
func (o *Order) OrderState() OrderState { return o.State }

// Cancelable is true when the payload exposes a cancel link.
func (o *Order) Cancelable() bool { return o.CancelURL != nil && *o.CancelURL != "" }

// Leg is one side of an option order.
type Leg struct {
	Side           Side            `json:"side"`
	Option         string          `json:"option"`
	PositionEffect string          `json:"position_effect"`
	RatioQuantity  decimal.Decimal `json:"ratio_quantity"`
}

// OptionOrder is an option order as returned by the option orders endpoint.
type OptionOrder struct {
	ID              string          `json:"id"`
	ChainSymbol     string          `json:"chain_symbol"`
	Legs            []Leg           `json:"legs"`
	Price           decimal.Decimal `json:"price"`
	Quantity        decimal.Decimal `json:"quantity"`
	State           OrderState      `json:"state"`
	Direction       string          `json:"direction"`
	Type            string          `json:"type"`
	OpeningStrategy *string         `json:"opening_strategy"`
	ClosingStrategy *string         `json:"closing_strategy"`
	CancelURL       *string         `json:"cancel_url"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

func (o *OptionOrder) OrderID() string        { return o.ID }
func (o *OptionOrder) Kind() OrderKind        { return KindOption }
func (o *OptionOrder) OrderState() OrderState { return o.State }

// Cancelable is true when the payload exposes a cancel link.
func (o *OptionOrder) Cancelable() bool { return o.CancelURL != nil && *o.CancelURL != "" }

// Strategy returns whichever of the opening/closing strategies is set.
func (o *OptionOrder) Strategy() string {
	if o.OpeningStrategy != nil && *o.OpeningStrategy != "" {
		return *o.OpeningStrategy
	}
	if o.ClosingStrategy != nil {
		return *o.ClosingStrategy
	}
	return ""
}
