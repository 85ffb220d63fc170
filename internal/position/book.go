// Package position maintains the per-pair, per-side derivative position book
package position

import (
	"sync"

	"github.com/shopspring/decimal"

	"okx_connector/internal/core"
	"okx_connector/internal/order"
	"okx_connector/pkg/telemetry"
)

// Key identifies a position in hedge mode
type Key struct {
	TradingPair string
	Side        order.PositionSide
}

// Position is a snapshot of one side of a pair
type Position struct {
	TradingPair   string
	Side          order.PositionSide
	EntryPrice    decimal.Decimal
	Amount        decimal.Decimal // signed, negative for shorts
	UnrealizedPnl decimal.Decimal
	Leverage      decimal.Decimal
}

// Book holds the current positions. Both the poll path and the push path
// write through the same Apply primitive.
type Book struct {
	mu        sync.RWMutex
	positions map[Key]Position
	logger    core.ILogger
}

// NewBook creates an empty position book
func NewBook(logger core.ILogger) *Book {
	return &Book{
		positions: make(map[Key]Position),
		logger:    logger.WithField("component", "position_book"),
	}
}

// Apply upserts one side of a pair from a venue report. The amount is
// stored pre-signed: shorts are negative. A zero notional removes the key.
func (b *Book) Apply(tradingPair string, side order.PositionSide, entryPrice, notional, leverage, unrealizedPnl decimal.Decimal) {
	key := Key{TradingPair: tradingPair, Side: side}
	metricKey := tradingPair + ":" + string(side)

	b.mu.Lock()
	if notional.IsZero() {
		delete(b.positions, key)
		b.mu.Unlock()
		telemetry.GetGlobalMetrics().SetPositionNotional(metricKey, 0)
		b.logger.Info("Position closed", "trading_pair", tradingPair, "side", string(side))
		return
	}

	amount := notional
	if side == order.PositionShort {
		amount = notional.Neg()
	}
	b.positions[key] = Position{
		TradingPair:   tradingPair,
		Side:          side,
		EntryPrice:    entryPrice,
		Amount:        amount,
		UnrealizedPnl: unrealizedPnl,
		Leverage:      leverage,
	}
	b.mu.Unlock()

	amt, _ := amount.Float64()
	telemetry.GetGlobalMetrics().SetPositionNotional(metricKey, amt)
	b.logger.Debug("Position updated",
		"trading_pair", tradingPair,
		"side", string(side),
		"amount", amount.String(),
		"entry_price", entryPrice.String())
}

// Get returns one side of a pair
func (b *Book) Get(tradingPair string, side order.PositionSide) (Position, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	p, ok := b.positions[Key{TradingPair: tradingPair, Side: side}]
	return p, ok
}

// Snapshot returns a copy of all positions
func (b *Book) Snapshot() map[Key]Position {
	b.mu.RLock()
	defer b.mu.RUnlock()

	res := make(map[Key]Position, len(b.positions))
	for k, v := range b.positions {
		res[k] = v
	}
	return res
}

// NetExposure sums the signed amounts of both sides of a pair
func (b *Book) NetExposure(tradingPair string) decimal.Decimal {
	b.mu.RLock()
	defer b.mu.RUnlock()

	net := decimal.Zero
	for k, p := range b.positions {
		if k.TradingPair == tradingPair {
			net = net.Add(p.Amount)
		}
	}
	return net
}
