// Package connector implements the trading-state synchronization core
// for the venue's perpetual swap market.
package connector

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"

	"okx_connector/internal/balance"
	"okx_connector/internal/config"
	"okx_connector/internal/core"
	"okx_connector/internal/fees"
	"okx_connector/internal/okx"
	"okx_connector/internal/order"
	"okx_connector/internal/position"
	"okx_connector/internal/store"
	"okx_connector/pkg/concurrency"
	"okx_connector/pkg/orderid"
	"okx_connector/pkg/telemetry"
)

// ErrUnspecifiedPositionAction rejects placements that do not say whether
// they open or close a position.
var ErrUnspecifiedPositionAction = errors.New("position action must be OPEN or CLOSE")

// FundingPayment is the outcome of the last funding settlement for a
// pair. The zero-data sentinel is (Timestamp 0, Rate -1, Payment -1).
type FundingPayment struct {
	Timestamp int64 // ms
	Rate      decimal.Decimal
	Payment   decimal.Decimal
}

// NoFundingPayment is the documented "no data" sentinel
func NoFundingPayment() FundingPayment {
	minusOne := decimal.NewFromInt(-1)
	return FundingPayment{Timestamp: 0, Rate: minusOne, Payment: minusOne}
}

// IsEmpty reports whether the payment is the no-data sentinel
func (f FundingPayment) IsEmpty() bool {
	return f.Timestamp == 0
}

// PlaceOrderParams describes an order to submit
type PlaceOrderParams struct {
	ClientOrderID string // generated when empty
	TradingPair   string
	Side          order.Side
	Type          order.Type
	Action        order.PositionAction
	Price         decimal.Decimal // ignored for market orders
	Amount        decimal.Decimal
}

// Connector keeps the local trading state converged with the venue. It
// owns the order ledger, the position and balance books, and drives both
// the REST reconciliation cycle and the private push stream.
type Connector struct {
	cfg       *config.Config
	client    *okx.Client
	stream    *okx.UserStream
	ledger    *order.Ledger
	positions *position.Book
	balances  *balance.Book
	feeSchema fees.Schema
	idGen     *orderid.Generator
	pool      *concurrency.WorkerPool
	journal   *store.Journal // nil disables persistence
	logger    core.ILogger

	mu         sync.RWMutex
	rules      map[string]TradingRule
	pairToInst map[string]string
	instToPair map[string]string

	fillCursor atomic.Int64
}

// New wires a Connector from its collaborators. journal may be nil.
func New(cfg *config.Config, client *okx.Client, stream *okx.UserStream, pool *concurrency.WorkerPool, journal *store.Journal, logger core.ILogger) *Connector {
	log := logger.WithField("component", "connector")
	return &Connector{
		cfg:        cfg,
		client:     client,
		stream:     stream,
		ledger:     order.NewLedger(cfg.Trading.LostOrderThreshold, logger),
		positions:  position.NewBook(logger),
		balances:   balance.NewBook(cfg.Trading.CollateralAssets, logger),
		feeSchema:  fees.DefaultSchema(),
		idGen:      orderid.NewGenerator(cfg.Venue.BrokerID),
		pool:       pool,
		journal:    journal,
		logger:     log,
		rules:      make(map[string]TradingRule),
		pairToInst: make(map[string]string),
		instToPair: make(map[string]string),
	}
}

// Ledger exposes the order ledger for callback registration
func (c *Connector) Ledger() *order.Ledger {
	return c.ledger
}

// InFlightOrders returns snapshots of all tracked orders
func (c *Connector) InFlightOrders() map[string]order.InFlightOrder {
	return c.ledger.All()
}

// Positions returns a snapshot of the position book
func (c *Connector) Positions() map[position.Key]position.Position {
	return c.positions.Snapshot()
}

// Balances returns a snapshot of the collateral balances
func (c *Connector) Balances() map[string]balance.Entry {
	return c.balances.Snapshot()
}

// CheckNetwork verifies venue reachability via the public clock
func (c *Connector) CheckNetwork(ctx context.Context) error {
	_, err := c.client.ServerTime(ctx)
	return err
}

// PlaceOrder submits an order and starts tracking it. It returns the
// client and exchange order IDs.
func (c *Connector) PlaceOrder(ctx context.Context, p PlaceOrderParams) (string, string, error) {
	if p.Action != order.ActionOpen && p.Action != order.ActionClose {
		return "", "", ErrUnspecifiedPositionAction
	}

	instID, err := c.InstrumentFor(p.TradingPair)
	if err != nil {
		return "", "", err
	}

	clientOrderID := p.ClientOrderID
	if clientOrderID == "" {
		clientOrderID = c.idGen.New(p.Side == order.SideBuy)
	}

	o := order.NewInFlightOrder(clientOrderID, p.TradingPair, p.Side, p.Type, p.Action,
		p.Price, p.Amount, c.cfg.Trading.Leverage, time.Now().UnixMilli())
	if err := c.ledger.StartTracking(o); err != nil {
		return "", "", err
	}

	req := okx.PlaceOrderRequest{
		ClOrdID:    clientOrderID,
		TdMode:     okx.TradeModeCross,
		OrdType:    strings.ToLower(string(p.Type)),
		InstID:     instID,
		Side:       strings.ToLower(string(p.Side)),
		PosSide:    strings.ToLower(string(o.PositionSide())),
		Sz:         p.Amount.String(),
		ReduceOnly: p.Action == order.ActionClose,
	}
	if p.Type == order.TypeLimit {
		req.Px = p.Price.String()
	}

	res, err := c.client.PlaceOrder(ctx, req)
	if err != nil {
		c.ledger.ApplyUpdate(order.Update{
			ClientOrderID: clientOrderID,
			NewState:      order.StateFailed,
			UpdatedAt:     time.Now().UnixMilli(),
		})
		return clientOrderID, "", fmt.Errorf("order placement rejected: %w", err)
	}

	c.ledger.ApplyUpdate(order.Update{
		ClientOrderID:   clientOrderID,
		ExchangeOrderID: res.OrdID,
		NewState:        order.StateOpen,
		UpdatedAt:       time.Now().UnixMilli(),
	})
	telemetry.GetGlobalMetrics().IncOrdersPlaced(p.TradingPair)
	c.logger.Info("Order placed",
		"client_order_id", clientOrderID,
		"exchange_order_id", res.OrdID,
		"trading_pair", p.TradingPair,
		"side", string(p.Side),
		"amount", p.Amount.String())

	return clientOrderID, res.OrdID, nil
}

// CancelOrder requests cancellation of a tracked order. An order the
// venue reports as nonexistent or already canceled counts as canceled.
func (c *Connector) CancelOrder(ctx context.Context, clientOrderID string) (bool, error) {
	o, ok := c.ledger.Get(clientOrderID)
	if !ok {
		return false, fmt.Errorf("order %s is not tracked", clientOrderID)
	}

	instID, err := c.InstrumentFor(o.TradingPair)
	if err != nil {
		return false, err
	}

	res, err := c.client.CancelOrder(ctx, instID, o.ExchangeOrderID, clientOrderID)
	if err != nil {
		return false, fmt.Errorf("cancel request failed: %w", err)
	}

	if !okx.IsCancelSuccess(res.SCode) {
		return false, fmt.Errorf("cancel rejected: ret_code <%s> - %s", res.SCode, res.SMsg)
	}

	// When the venue no longer knows the order there will be no push
	// confirmation; resolve it locally.
	if res.SCode != okx.RetCodeOK {
		c.ledger.ApplyUpdate(order.Update{
			ClientOrderID: clientOrderID,
			NewState:      order.StateCanceled,
			UpdatedAt:     time.Now().UnixMilli(),
		})
	}
	return true, nil
}

// PrepareTrading puts the account into hedge position mode and applies
// the configured leverage to every tracked pair.
func (c *Connector) PrepareTrading(ctx context.Context) error {
	if err := c.client.SetPositionMode(ctx, okx.PosModeLongShort); err != nil {
		return fmt.Errorf("failed to set position mode: %w", err)
	}

	for _, pair := range c.cfg.Trading.TradingPairs {
		instID, err := c.InstrumentFor(pair)
		if err != nil {
			return err
		}
		if err := c.client.SetLeverage(ctx, instID, c.cfg.Trading.Leverage); err != nil {
			return fmt.Errorf("failed to set leverage for %s: %w", pair, err)
		}
	}
	return nil
}

// LastTradedPrice returns the venue's last price for a pair
func (c *Connector) LastTradedPrice(ctx context.Context, tradingPair string) (decimal.Decimal, error) {
	instID, err := c.InstrumentFor(tradingPair)
	if err != nil {
		return decimal.Zero, err
	}
	last, err := c.client.LastTradedPrice(ctx, instID)
	if err != nil {
		return decimal.Zero, err
	}
	return decimal.NewFromString(last)
}

// LastFundingPayment returns the most recent funding settlement for a
// pair, or the no-data sentinel when the venue has no funding bill.
func (c *Connector) LastFundingPayment(ctx context.Context, tradingPair string) (FundingPayment, error) {
	instID, err := c.InstrumentFor(tradingPair)
	if err != nil {
		return FundingPayment{}, err
	}

	bills, err := c.client.Bills(ctx, instID, okx.BillTypeFunding)
	if err != nil {
		return FundingPayment{}, err
	}
	if len(bills) == 0 {
		return NoFundingPayment(), nil
	}

	// Bills arrive newest first.
	bill := bills[0]
	ts, err := strconv.ParseInt(bill.TS, 10, 64)
	if err != nil {
		return FundingPayment{}, fmt.Errorf("invalid bill timestamp %q: %w", bill.TS, err)
	}
	payment, err := decimal.NewFromString(bill.Pnl)
	if err != nil {
		return FundingPayment{}, fmt.Errorf("invalid bill pnl %q: %w", bill.Pnl, err)
	}

	// The bill does not carry the rate; the sentinel value marks it.
	return FundingPayment{
		Timestamp: ts,
		Rate:      decimal.NewFromInt(-1),
		Payment:   payment,
	}, nil
}

// quoteAsset returns the quote leg of a BASE-QUOTE pair
func quoteAsset(tradingPair string) string {
	parts := strings.Split(tradingPair, "-")
	if len(parts) < 2 {
		return ""
	}
	return parts[1]
}

// classifyAction derives whether a fill opened or closed a position:
// buys open longs and close shorts; sells open shorts and close longs.
func classifyAction(side, posSide string) order.PositionAction {
	isBuy := strings.EqualFold(side, "buy")
	isLong := strings.EqualFold(posSide, "long")
	if isBuy == isLong {
		return order.ActionOpen
	}
	return order.ActionClose
}

// tradeFromFill converts a venue fill record into a ledger trade. The
// quote amount is always recomputed from price and size.
func (c *Connector) tradeFromFill(f okx.Fill, o order.InFlightOrder) (order.Trade, error) {
	fillPx, err := decimal.NewFromString(f.FillPx)
	if err != nil {
		return order.Trade{}, fmt.Errorf("invalid fillPx %q: %w", f.FillPx, err)
	}
	fillSz, err := decimal.NewFromString(f.FillSz)
	if err != nil {
		return order.Trade{}, fmt.Errorf("invalid fillSz %q: %w", f.FillSz, err)
	}
	ts, err := strconv.ParseInt(f.TS, 10, 64)
	if err != nil {
		return order.Trade{}, fmt.Errorf("invalid fill ts %q: %w", f.TS, err)
	}

	action := classifyAction(f.Side, f.PosSide)
	maker := f.ExecType == "M"

	// The venue-reported fee replaces the schema percentage.
	var fee fees.Fee
	if f.Fee != "" && f.FeeCcy != "" {
		feeAmount, err := decimal.NewFromString(f.Fee)
		if err != nil {
			return order.Trade{}, fmt.Errorf("invalid fee %q: %w", f.Fee, err)
		}
		fee = fees.FlatFee(f.FeeCcy, feeAmount, maker, action)
	} else {
		fee = c.feeSchema.PerpetualFee(maker, quoteAsset(o.TradingPair), action, fillSz, fillPx)
	}

	return order.Trade{
		TradeID:         f.TradeID,
		ClientOrderID:   o.ClientOrderID,
		ExchangeOrderID: f.OrdID,
		TradingPair:     o.TradingPair,
		Action:          action,
		Fee:             order.TokenAmount{Token: fee.Token, Amount: fee.Amount},
		FillBaseAmount:  fillSz,
		FillQuoteAmount: fillPx.Mul(fillSz),
		FillPrice:       fillPx,
		FilledAt:        ts,
	}, nil
}

// processFill routes one fill record into the ledger, consulting the
// journal so restarts do not double-count.
func (c *Connector) processFill(ctx context.Context, f okx.Fill) {
	// Every parsed fill moves the history cursor, tracked or not. Trade
	// dedup makes re-delivery safe, and fills from other sessions on the
	// same account must not pin the cursor and grow the re-fetch window.
	if ts := fillTS(f); ts > 0 {
		c.advanceCursor(ts)
	}

	o, ok := c.ledger.Get(f.ClOrdID)
	if !ok {
		o, ok = c.ledger.GetByExchangeID(f.OrdID)
	}
	if !ok {
		c.logger.Debug("Fill for untracked order ignored",
			"trade_id", f.TradeID, "client_order_id", f.ClOrdID, "exchange_order_id", f.OrdID)
		return
	}

	if c.journal != nil && !c.ledger.HasTrade(o.ClientOrderID, f.TradeID) {
		applied, err := c.journal.HasTrade(ctx, o.ClientOrderID, f.TradeID)
		if err != nil {
			c.logger.Warn("Journal lookup failed", "trade_id", f.TradeID, "error", err)
		} else if applied {
			return
		}
	}

	trade, err := c.tradeFromFill(f, o)
	if err != nil {
		c.logger.Warn("Unparseable fill dropped", "trade_id", f.TradeID, "error", err)
		return
	}

	if !c.ledger.ApplyTrade(trade) {
		return
	}

	if c.journal != nil {
		if err := c.journal.RecordTrade(ctx, o.ClientOrderID, f.TradeID, trade.FilledAt); err != nil {
			c.logger.Warn("Journal write failed", "trade_id", f.TradeID, "error", err)
		}
	}
}

// processOrderDetail routes one order status record into the ledger. An
// embedded fill is booked before the state transition.
func (c *Connector) processOrderDetail(ctx context.Context, d okx.OrderDetail) {
	if d.TradeID != "" {
		c.processFill(ctx, okx.Fill{
			InstID:   d.InstID,
			TradeID:  d.TradeID,
			OrdID:    d.OrdID,
			ClOrdID:  d.ClOrdID,
			Side:     d.Side,
			PosSide:  d.PosSide,
			FillPx:   d.FillPx,
			FillSz:   d.FillSz,
			Fee:      d.FillFee,
			FeeCcy:   d.FillFeeCcy,
			ExecType: d.ExecType,
			TS:       d.FillTime,
		})
	}

	state, known := okx.OrderStateMap[d.State]
	if !known {
		c.logger.Debug("Unmapped order state ignored",
			"state", d.State, "client_order_id", d.ClOrdID)
		return
	}

	updatedAt, _ := strconv.ParseInt(d.UTime, 10, 64)
	c.ledger.ApplyUpdate(order.Update{
		ClientOrderID:   d.ClOrdID,
		ExchangeOrderID: d.OrdID,
		NewState:        state,
		UpdatedAt:       updatedAt,
	})
}

// applyPositionDetail routes one position record into the book
func (c *Connector) applyPositionDetail(p okx.PositionDetail) {
	pair, err := c.PairFor(p.InstID)
	if err != nil {
		c.logger.Debug("Position for unknown instrument ignored", "instrument", p.InstID)
		return
	}

	var side order.PositionSide
	switch strings.ToLower(p.PosSide) {
	case "long":
		side = order.PositionLong
	case "short":
		side = order.PositionShort
	default:
		c.logger.Warn("Position with unsupported posSide ignored",
			"instrument", p.InstID, "pos_side", p.PosSide)
		return
	}

	entryPrice := parseDecimalOrZero(p.AvgPx)
	notional := parseDecimalOrZero(p.NotionalUsd)
	leverage := parseDecimalOrZero(p.Lever)
	upl := parseDecimalOrZero(p.Upl)

	c.positions.Apply(pair, side, entryPrice, notional, leverage, upl)
}

// applyBalances routes a balance report into the book. The poll path
// replaces the whole book; the push path overwrites only reported assets.
func (c *Connector) applyBalances(details []okx.BalanceDetail, fullReplace bool) {
	entries := make([]balance.Entry, 0, len(details))
	for _, d := range details {
		available := d.AvailBal
		if available == "" {
			available = d.AvailEq
		}
		entries = append(entries, balance.Entry{
			Asset:     d.Ccy,
			Total:     parseDecimalOrZero(d.Eq),
			Available: parseDecimalOrZero(available),
		})
	}

	if fullReplace {
		c.balances.ReplaceAll(entries)
	} else {
		c.balances.ApplyDelta(entries)
	}
}

// advanceCursor moves the fill-history cursor forward only
func (c *Connector) advanceCursor(ts int64) {
	for {
		cur := c.fillCursor.Load()
		if ts <= cur || c.fillCursor.CompareAndSwap(cur, ts) {
			return
		}
	}
}

// parseDecimalOrZero tolerates the venue's empty numeric strings
func parseDecimalOrZero(s string) decimal.Decimal {
	if s == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}
