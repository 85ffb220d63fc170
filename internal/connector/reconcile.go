package connector

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"okx_connector/internal/okx"
	"okx_connector/internal/order"
	"okx_connector/pkg/telemetry"
)

// statusOutcome is one order's status-poll result
type statusOutcome struct {
	clientOrderID string
	detail        okx.OrderDetail
	err           error
}

// ReconcileOnce runs one full reconciliation cycle: fan out every REST
// request concurrently, join them all, then apply trades before order
// statuses, then balances and positions. A failed request degrades only
// its own slice of state.
func (c *Connector) ReconcileOnce(ctx context.Context) {
	metrics := telemetry.GetGlobalMetrics()
	pairs := c.cfg.Trading.TradingPairs
	tracked := c.ledger.All()
	cursor := c.fillCursor.Load()

	var (
		fillsMu sync.Mutex
		fills   []okx.Fill
	)
	statuses := make([]statusOutcome, 0, len(tracked))
	var statusMu sync.Mutex

	var balanceDetails []okx.BalanceDetail
	var balanceErr error

	type positionOutcome struct {
		pair    string
		details []okx.PositionDetail
		err     error
	}
	positionOutcomes := make([]positionOutcome, len(pairs))

	var tasks []func(context.Context) error

	for _, pair := range pairs {
		pair := pair
		tasks = append(tasks, func(ctx context.Context) error {
			instID, err := c.InstrumentFor(pair)
			if err != nil {
				return err
			}
			res, err := c.client.Fills(ctx, instID, cursor)
			if err != nil {
				return err
			}
			fillsMu.Lock()
			fills = append(fills, res...)
			fillsMu.Unlock()
			return nil
		})
	}

	for clID, o := range tracked {
		clID, o := clID, o
		tasks = append(tasks, func(ctx context.Context) error {
			instID, err := c.InstrumentFor(o.TradingPair)
			if err != nil {
				statusMu.Lock()
				statuses = append(statuses, statusOutcome{clientOrderID: clID, err: err})
				statusMu.Unlock()
				return err
			}
			detail, err := c.client.OrderStatus(ctx, instID, o.ExchangeOrderID, clID)
			statusMu.Lock()
			statuses = append(statuses, statusOutcome{clientOrderID: clID, detail: detail, err: err})
			statusMu.Unlock()
			return err
		})
	}

	tasks = append(tasks, func(ctx context.Context) error {
		balanceDetails, balanceErr = c.client.Balance(ctx)
		return balanceErr
	})

	for i, pair := range pairs {
		i, pair := i, pair
		tasks = append(tasks, func(ctx context.Context) error {
			instID, err := c.InstrumentFor(pair)
			if err != nil {
				positionOutcomes[i] = positionOutcome{pair: pair, err: err}
				return err
			}
			details, err := c.client.Positions(ctx, instID)
			positionOutcomes[i] = positionOutcome{pair: pair, details: details, err: err}
			return err
		})
	}

	errs := c.pool.Gather(ctx, tasks)
	for _, err := range errs {
		if err != nil {
			metrics.IncReconcileErrors("request")
		}
	}

	// Trades strictly before order statuses: a FILLED status must find
	// its fills already booked.
	sort.Slice(fills, func(i, j int) bool { return fillTS(fills[i]) < fillTS(fills[j]) })
	for _, f := range fills {
		c.processFill(ctx, f)
	}
	c.persistCursor(ctx)

	for _, s := range statuses {
		switch {
		case s.err == nil:
			c.processOrderDetail(ctx, s.detail)
		case okx.IsTimeSyncErr(s.err):
			// Clock-skew failures say nothing about the order; re-assert
			// its last known state so the miss counter resets.
			if o, ok := c.ledger.Get(s.clientOrderID); ok {
				c.logger.Warn("Status poll hit a clock-skew error, keeping state",
					"client_order_id", s.clientOrderID, "error", s.err)
				c.ledger.ApplyUpdate(order.Update{
					ClientOrderID:   s.clientOrderID,
					ExchangeOrderID: o.ExchangeOrderID,
					NewState:        o.State,
					UpdatedAt:       time.Now().UnixMilli(),
				})
			}
		default:
			c.logger.Warn("Status poll failed",
				"client_order_id", s.clientOrderID, "error", s.err)
			c.ledger.NoteOrderNotFound(s.clientOrderID)
		}
	}

	if balanceErr == nil {
		c.applyBalances(balanceDetails, true)
	} else {
		c.logger.Warn("Balance poll failed", "error", balanceErr)
	}

	for _, outcome := range positionOutcomes {
		if outcome.err != nil {
			c.logger.Warn("Position poll failed", "trading_pair", outcome.pair, "error", outcome.err)
			continue
		}
		c.reconcilePairPositions(outcome.pair, outcome.details)
	}

	c.updateOrderGauges()
	metrics.IncReconcileCycles()
}

// fillTS parses a fill's venue timestamp, zero when malformed
func fillTS(f okx.Fill) int64 {
	ts, _ := strconv.ParseInt(f.TS, 10, 64)
	return ts
}

// reconcilePairPositions applies a pair's position poll and removes the
// sides the venue no longer reports.
func (c *Connector) reconcilePairPositions(pair string, details []okx.PositionDetail) {
	reported := make(map[order.PositionSide]bool, len(details))
	for _, p := range details {
		c.applyPositionDetail(p)
		switch p.PosSide {
		case "long":
			reported[order.PositionLong] = true
		case "short":
			reported[order.PositionShort] = true
		}
	}

	for _, side := range []order.PositionSide{order.PositionLong, order.PositionShort} {
		if reported[side] {
			continue
		}
		if _, held := c.positions.Get(pair, side); held {
			c.positions.Apply(pair, side, decimal.Zero, decimal.Zero, decimal.Zero, decimal.Zero)
		}
	}
}

// journalRetention is how far behind the persisted cursor applied-trade
// records are kept. Dedup only needs the records the fill re-fetch
// window can still re-deliver.
const journalRetention = 24 * time.Hour

// persistCursor writes the fill cursor through the journal and prunes
// trade records the cursor has moved decisively past.
func (c *Connector) persistCursor(ctx context.Context) {
	if c.journal == nil {
		return
	}
	cursor := c.fillCursor.Load()
	if cursor == 0 {
		return
	}
	if err := c.journal.SaveCursor(ctx, cursor); err != nil {
		c.logger.Warn("Cursor persist failed", "error", err)
		return
	}
	if err := c.journal.PruneBefore(ctx, cursor-journalRetention.Milliseconds()); err != nil {
		c.logger.Warn("Journal prune failed", "error", err)
	}
}

// updateOrderGauges refreshes the per-pair in-flight order gauge
func (c *Connector) updateOrderGauges() {
	counts := make(map[string]int64, len(c.cfg.Trading.TradingPairs))
	for _, pair := range c.cfg.Trading.TradingPairs {
		counts[pair] = 0
	}
	for _, o := range c.ledger.All() {
		counts[o.TradingPair]++
	}
	metrics := telemetry.GetGlobalMetrics()
	for pair, count := range counts {
		metrics.SetActiveOrders(pair, count)
	}
}

// Run drives the periodic work: the reconcile cycle, trading-rule
// refresh and the funding poll. It blocks until ctx is canceled.
func (c *Connector) Run(ctx context.Context) error {
	if err := c.RefreshTradingRules(ctx); err != nil {
		return err
	}
	if err := c.PrepareTrading(ctx); err != nil {
		return err
	}
	if c.journal != nil {
		cursor, err := c.journal.LoadCursor(ctx)
		if err != nil {
			c.logger.Warn("Cursor restore failed", "error", err)
		} else if cursor > 0 {
			c.advanceCursor(cursor)
			c.logger.Info("Fill cursor restored", "cursor", cursor)
		}
	}

	c.ReconcileOnce(ctx)

	reconcileTicker := time.NewTicker(c.cfg.ReconcileIntervalDuration())
	defer reconcileTicker.Stop()
	rulesTicker := time.NewTicker(c.cfg.RulesRefreshDuration())
	defer rulesTicker.Stop()
	fundingTicker := time.NewTicker(c.cfg.FundingPollDuration())
	defer fundingTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-reconcileTicker.C:
			c.ReconcileOnce(ctx)
		case <-rulesTicker.C:
			if err := c.RefreshTradingRules(ctx); err != nil {
				c.logger.Warn("Trading-rule refresh failed", "error", err)
			}
		case <-fundingTicker.C:
			c.pollFunding(ctx)
		}
	}
}

// pollFunding logs the latest funding settlement per pair
func (c *Connector) pollFunding(ctx context.Context) {
	for _, pair := range c.cfg.Trading.TradingPairs {
		payment, err := c.LastFundingPayment(ctx, pair)
		if err != nil {
			c.logger.Warn("Funding poll failed", "trading_pair", pair, "error", err)
			continue
		}
		if payment.IsEmpty() {
			continue
		}
		c.logger.Info("Funding payment observed",
			"trading_pair", pair,
			"timestamp", payment.Timestamp,
			"payment", payment.Payment.String())
	}
}
