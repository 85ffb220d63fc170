// Package order tracks in-flight orders through their lifecycle
package order

import (
	"github.com/shopspring/decimal"
)

// Side is the order direction
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Type is the order type
type Type string

const (
	TypeLimit  Type = "LIMIT"
	TypeMarket Type = "MARKET"
)

// PositionAction says whether an order opens or closes a position
type PositionAction string

const (
	ActionOpen  PositionAction = "OPEN"
	ActionClose PositionAction = "CLOSE"
	ActionNone  PositionAction = "NONE"
)

// PositionSide is the side of the position an order works against
type PositionSide string

const (
	PositionLong  PositionSide = "LONG"
	PositionShort PositionSide = "SHORT"
)

// State is the order lifecycle state
type State string

const (
	StatePendingCreate   State = "PENDING_CREATE"
	StateOpen            State = "OPEN"
	StatePartiallyFilled State = "PARTIALLY_FILLED"
	StateFilled          State = "FILLED"
	StateCanceled        State = "CANCELED"
	StateFailed          State = "FAILED"
)

// IsTerminal reports whether the state admits no further transitions
func (s State) IsTerminal() bool {
	switch s {
	case StateFilled, StateCanceled, StateFailed:
		return true
	}
	return false
}

// TokenAmount is an asset-denominated amount
type TokenAmount struct {
	Token  string
	Amount decimal.Decimal
}

// Update carries a lifecycle state report from the venue
type Update struct {
	ClientOrderID   string
	ExchangeOrderID string
	TradingPair     string
	NewState        State
	UpdatedAt       int64 // venue timestamp, ms
}

// Trade carries a single fill report from the venue
type Trade struct {
	TradeID         string
	ClientOrderID   string
	ExchangeOrderID string
	TradingPair     string
	Action          PositionAction
	Fee             TokenAmount
	FillBaseAmount  decimal.Decimal
	FillQuoteAmount decimal.Decimal
	FillPrice       decimal.Decimal
	FilledAt        int64 // venue timestamp, ms
}

// InFlightOrder is an order awaiting terminal resolution
type InFlightOrder struct {
	ClientOrderID   string
	ExchangeOrderID string
	TradingPair     string
	Side            Side
	Type            Type
	Action          PositionAction
	Price           decimal.Decimal
	Amount          decimal.Decimal
	Leverage        int
	State           State
	CreatedAt       int64 // ms

	FilledBase  decimal.Decimal
	FilledQuote decimal.Decimal
	FeesPaid    map[string]decimal.Decimal

	executedTrades map[string]struct{}
	notFoundCount  int
}

// NewInFlightOrder creates a tracked order in PENDING_CREATE state
func NewInFlightOrder(clientOrderID, tradingPair string, side Side, typ Type, action PositionAction, price, amount decimal.Decimal, leverage int, createdAt int64) *InFlightOrder {
	return &InFlightOrder{
		ClientOrderID:  clientOrderID,
		TradingPair:    tradingPair,
		Side:           side,
		Type:           typ,
		Action:         action,
		Price:          price,
		Amount:         amount,
		Leverage:       leverage,
		State:          StatePendingCreate,
		CreatedAt:      createdAt,
		FeesPaid:       make(map[string]decimal.Decimal),
		executedTrades: make(map[string]struct{}),
	}
}

// IsDone reports whether the order reached a terminal state
func (o *InFlightOrder) IsDone() bool {
	return o.State.IsTerminal()
}

// AverageFillPrice is filled quote over filled base, zero before any fill
func (o *InFlightOrder) AverageFillPrice() decimal.Decimal {
	if o.FilledBase.IsZero() {
		return decimal.Zero
	}
	return o.FilledQuote.Div(o.FilledBase)
}

// PositionSide derives the hedge-mode position side the order works against
func (o *InFlightOrder) PositionSide() PositionSide {
	isBuy := o.Side == SideBuy
	isOpen := o.Action == ActionOpen
	if isBuy == isOpen {
		return PositionLong
	}
	return PositionShort
}

// snapshot returns a copy safe to hand out across goroutines
func (o *InFlightOrder) snapshot() InFlightOrder {
	cp := *o
	cp.FeesPaid = make(map[string]decimal.Decimal, len(o.FeesPaid))
	for k, v := range o.FeesPaid {
		cp.FeesPaid[k] = v
	}
	cp.executedTrades = nil
	return cp
}
