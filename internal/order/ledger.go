package order

import (
	"fmt"
	"sync"

	"okx_connector/internal/core"
	"okx_connector/pkg/telemetry"
)

// Ledger is the authoritative tracker for in-flight orders. It correlates
// client and exchange order IDs, enforces the lifecycle state machine,
// deduplicates fills by trade ID, and drops orders once they resolve.
type Ledger struct {
	mu           sync.RWMutex
	orders       map[string]*InFlightOrder // by client order ID
	byExchangeID map[string]string         // exchange order ID -> client order ID

	lostThreshold int
	logger        core.ILogger

	onTrade []func(Trade)
	onDone  []func(InFlightOrder)
}

// NewLedger creates a Ledger. lostThreshold is the number of consecutive
// status-poll misses after which an order is declared lost.
func NewLedger(lostThreshold int, logger core.ILogger) *Ledger {
	if lostThreshold <= 0 {
		lostThreshold = 3
	}
	return &Ledger{
		orders:        make(map[string]*InFlightOrder),
		byExchangeID:  make(map[string]string),
		lostThreshold: lostThreshold,
		logger:        logger.WithField("component", "order_ledger"),
	}
}

// OnTrade registers a callback fired after a fill is applied
func (l *Ledger) OnTrade(cb func(Trade)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onTrade = append(l.onTrade, cb)
}

// OnDone registers a callback fired when an order reaches a terminal state
func (l *Ledger) OnDone(cb func(InFlightOrder)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onDone = append(l.onDone, cb)
}

// StartTracking registers a new in-flight order
func (l *Ledger) StartTracking(o *InFlightOrder) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, exists := l.orders[o.ClientOrderID]; exists {
		return fmt.Errorf("order %s is already tracked", o.ClientOrderID)
	}
	l.orders[o.ClientOrderID] = o
	if o.ExchangeOrderID != "" {
		l.byExchangeID[o.ExchangeOrderID] = o.ClientOrderID
	}
	return nil
}

// Get returns a snapshot of a tracked order
func (l *Ledger) Get(clientOrderID string) (InFlightOrder, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	o, ok := l.orders[clientOrderID]
	if !ok {
		return InFlightOrder{}, false
	}
	return o.snapshot(), true
}

// GetByExchangeID returns a snapshot of a tracked order by its venue ID
func (l *Ledger) GetByExchangeID(exchangeOrderID string) (InFlightOrder, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	clID, ok := l.byExchangeID[exchangeOrderID]
	if !ok {
		return InFlightOrder{}, false
	}
	o, ok := l.orders[clID]
	if !ok {
		return InFlightOrder{}, false
	}
	return o.snapshot(), true
}

// All returns snapshots of every tracked order keyed by client order ID
func (l *Ledger) All() map[string]InFlightOrder {
	l.mu.RLock()
	defer l.mu.RUnlock()

	res := make(map[string]InFlightOrder, len(l.orders))
	for id, o := range l.orders {
		res[id] = o.snapshot()
	}
	return res
}

// Count returns the number of tracked orders
func (l *Ledger) Count() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.orders)
}

// resolve finds the tracked order for an update, preferring the client ID
func (l *Ledger) resolve(clientOrderID, exchangeOrderID string) *InFlightOrder {
	if clientOrderID != "" {
		if o, ok := l.orders[clientOrderID]; ok {
			return o
		}
	}
	if exchangeOrderID != "" {
		if clID, ok := l.byExchangeID[exchangeOrderID]; ok {
			return l.orders[clID]
		}
	}
	return nil
}

// ApplyUpdate applies a lifecycle state report. Returns true when the
// update changed the tracked order. Unknown orders and duplicate terminal
// reports are dropped.
func (l *Ledger) ApplyUpdate(u Update) bool {
	l.mu.Lock()

	o := l.resolve(u.ClientOrderID, u.ExchangeOrderID)
	if o == nil {
		l.mu.Unlock()
		l.logger.Debug("Update for untracked order dropped",
			"client_order_id", u.ClientOrderID, "exchange_order_id", u.ExchangeOrderID)
		return false
	}

	// First report from the venue completes the ID correlation.
	if o.ExchangeOrderID == "" && u.ExchangeOrderID != "" {
		o.ExchangeOrderID = u.ExchangeOrderID
		l.byExchangeID[u.ExchangeOrderID] = o.ClientOrderID
	}

	if o.State.IsTerminal() {
		l.mu.Unlock()
		return false
	}

	if u.NewState == "" || u.NewState == o.State {
		// A same-state report still resets the lost counter.
		o.notFoundCount = 0
		l.mu.Unlock()
		return false
	}

	o.State = u.NewState
	o.notFoundCount = 0

	var done *InFlightOrder
	if o.State.IsTerminal() {
		done = o
	}
	l.mu.Unlock()

	l.logger.Info("Order state changed",
		"client_order_id", o.ClientOrderID,
		"exchange_order_id", o.ExchangeOrderID,
		"trading_pair", o.TradingPair,
		"state", string(o.State))

	if done != nil {
		l.finish(done)
	}
	return true
}

// ApplyTrade applies a fill report. Duplicate trade IDs for the same
// order are silently dropped. Returns true when the fill was applied.
func (l *Ledger) ApplyTrade(t Trade) bool {
	l.mu.Lock()

	o := l.resolve(t.ClientOrderID, t.ExchangeOrderID)
	if o == nil {
		l.mu.Unlock()
		l.logger.Debug("Fill for untracked order dropped",
			"client_order_id", t.ClientOrderID, "trade_id", t.TradeID)
		return false
	}

	if _, seen := o.executedTrades[t.TradeID]; seen {
		l.mu.Unlock()
		telemetry.GetGlobalMetrics().IncTradesDeduped(o.TradingPair)
		return false
	}
	o.executedTrades[t.TradeID] = struct{}{}

	if o.ExchangeOrderID == "" && t.ExchangeOrderID != "" {
		o.ExchangeOrderID = t.ExchangeOrderID
		l.byExchangeID[t.ExchangeOrderID] = o.ClientOrderID
	}

	o.FilledBase = o.FilledBase.Add(t.FillBaseAmount)
	o.FilledQuote = o.FilledQuote.Add(t.FillQuoteAmount)
	if t.Fee.Token != "" {
		o.FeesPaid[t.Fee.Token] = o.FeesPaid[t.Fee.Token].Add(t.Fee.Amount)
	}
	o.notFoundCount = 0

	var done *InFlightOrder
	if !o.State.IsTerminal() {
		if o.FilledBase.GreaterThanOrEqual(o.Amount) {
			o.State = StateFilled
			done = o
		} else {
			o.State = StatePartiallyFilled
		}
	}

	cbs := l.onTrade
	l.mu.Unlock()

	telemetry.GetGlobalMetrics().IncTradesApplied(t.TradingPair)
	l.logger.Info("Fill applied",
		"client_order_id", t.ClientOrderID,
		"trade_id", t.TradeID,
		"trading_pair", t.TradingPair,
		"fill_base", t.FillBaseAmount.String(),
		"fill_price", t.FillPrice.String())

	for _, cb := range cbs {
		cb(t)
	}
	if done != nil {
		l.finish(done)
	}
	return true
}

// HasTrade reports whether a trade ID was already applied to an order
func (l *Ledger) HasTrade(clientOrderID, tradeID string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()

	o, ok := l.orders[clientOrderID]
	if !ok {
		return false
	}
	_, seen := o.executedTrades[tradeID]
	return seen
}

// NoteOrderNotFound records a failed status poll for an order. After the
// configured number of consecutive misses the order is declared lost and
// moved to FAILED.
func (l *Ledger) NoteOrderNotFound(clientOrderID string) {
	l.mu.Lock()

	o, ok := l.orders[clientOrderID]
	if !ok || o.State.IsTerminal() {
		l.mu.Unlock()
		return
	}

	o.notFoundCount++
	if o.notFoundCount < l.lostThreshold {
		count := o.notFoundCount
		l.mu.Unlock()
		l.logger.Warn("Order status not determined",
			"client_order_id", clientOrderID, "consecutive_misses", count)
		return
	}

	o.State = StateFailed
	l.mu.Unlock()

	l.logger.Error("Order declared lost after repeated status failures",
		"client_order_id", clientOrderID, "threshold", l.lostThreshold)
	l.finish(o)
}

// finish reports a terminal order and stops tracking it
func (l *Ledger) finish(o *InFlightOrder) {
	l.mu.Lock()
	snap := o.snapshot()
	cbs := l.onDone
	delete(l.orders, o.ClientOrderID)
	if o.ExchangeOrderID != "" {
		delete(l.byExchangeID, o.ExchangeOrderID)
	}
	l.mu.Unlock()

	metrics := telemetry.GetGlobalMetrics()
	switch snap.State {
	case StateFilled:
		metrics.IncOrdersFilled(snap.TradingPair)
	case StateCanceled:
		metrics.IncOrdersCanceled(snap.TradingPair)
	case StateFailed:
		metrics.IncOrdersFailed(snap.TradingPair)
	}

	for _, cb := range cbs {
		cb(snap)
	}
}
