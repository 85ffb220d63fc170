package connector

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"okx_connector/internal/config"
	"okx_connector/internal/okx"
	"okx_connector/internal/order"
	"okx_connector/internal/store"
	"okx_connector/pkg/concurrency"
	"okx_connector/pkg/logging"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func newTestConnectorWithURL(t *testing.T, baseURL string) *Connector {
	t.Helper()
	logger := logging.GetGlobalLogger()
	cfg := config.DefaultConfig()
	cfg.Trading.TradingPairs = []string{"BTC-USDT"}

	client := okx.NewClient(baseURL, okx.NewAuth("k", "s", "p"), 1000, 2000, logger)
	pool := concurrency.NewWorkerPool(concurrency.PoolConfig{
		Name:        "test",
		MaxWorkers:  4,
		MaxCapacity: 64,
	}, logger)
	t.Cleanup(pool.Stop)

	c := New(cfg, client, nil, pool, nil, logger)
	c.seedSymbols(map[string]string{"BTC-USDT": "BTC-USDT-SWAP"})
	return c
}

func newTestConnector(t *testing.T, handler http.HandlerFunc) *Connector {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return newTestConnectorWithURL(t, server.URL)
}

// seedSymbols installs a symbol registry without a venue round trip
func (c *Connector) seedSymbols(pairToInst map[string]string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for pair, inst := range pairToInst {
		c.pairToInst[pair] = inst
		c.instToPair[inst] = pair
	}
}

func TestPlaceOrderPayloadDerivation(t *testing.T) {
	tests := []struct {
		name           string
		side           order.Side
		typ            order.Type
		action         order.PositionAction
		wantSide       string
		wantPosSide    string
		wantReduceOnly bool
		wantPx         string
	}{
		{"open long limit", order.SideBuy, order.TypeLimit, order.ActionOpen, "buy", "long", false, "50000"},
		{"close long limit", order.SideSell, order.TypeLimit, order.ActionClose, "sell", "long", true, "50000"},
		{"open short market", order.SideSell, order.TypeMarket, order.ActionOpen, "sell", "short", false, ""},
		{"close short market", order.SideBuy, order.TypeMarket, order.ActionClose, "buy", "short", true, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got okx.PlaceOrderRequest
			c := newTestConnector(t, func(w http.ResponseWriter, r *http.Request) {
				require.Equal(t, okx.PathPlaceOrder, r.URL.Path)
				require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
				fmt.Fprint(w, `{"code":"0","msg":"","data":[{"ordId":"ex-1","sCode":"0"}]}`)
			})

			clID, exID, err := c.PlaceOrder(context.Background(), PlaceOrderParams{
				TradingPair: "BTC-USDT",
				Side:        tt.side,
				Type:        tt.typ,
				Action:      tt.action,
				Price:       d("50000"),
				Amount:      d("1"),
			})
			require.NoError(t, err)
			assert.Equal(t, "ex-1", exID)

			assert.Equal(t, clID, got.ClOrdID)
			assert.Equal(t, "cross", got.TdMode)
			assert.Equal(t, "BTC-USDT-SWAP", got.InstID)
			assert.Equal(t, tt.wantSide, got.Side)
			assert.Equal(t, tt.wantPosSide, got.PosSide)
			assert.Equal(t, tt.wantReduceOnly, got.ReduceOnly)
			assert.Equal(t, tt.wantPx, got.Px, "px only on limit orders")
			assert.Equal(t, "1", got.Sz)

			o, ok := c.Ledger().Get(clID)
			require.True(t, ok)
			assert.Equal(t, order.StateOpen, o.State)
			assert.Equal(t, "ex-1", o.ExchangeOrderID)
		})
	}
}

func TestPlaceOrderRejectsUnspecifiedAction(t *testing.T) {
	c := newTestConnector(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("no request may be sent for an unspecified position action")
	})

	_, _, err := c.PlaceOrder(context.Background(), PlaceOrderParams{
		TradingPair: "BTC-USDT",
		Side:        order.SideBuy,
		Type:        order.TypeLimit,
		Action:      order.ActionNone,
		Price:       d("50000"),
		Amount:      d("1"),
	})
	assert.ErrorIs(t, err, ErrUnspecifiedPositionAction)
	assert.Zero(t, c.Ledger().Count())
}

func TestPlaceOrderVenueRejection(t *testing.T) {
	c := newTestConnector(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"code":"1","msg":"Operation failed.","data":[{"clOrdId":"c1","sCode":"51008","sMsg":"Insufficient balance"}]}`)
	})

	var failed []order.InFlightOrder
	c.Ledger().OnDone(func(o order.InFlightOrder) { failed = append(failed, o) })

	_, _, err := c.PlaceOrder(context.Background(), PlaceOrderParams{
		ClientOrderID: "c1",
		TradingPair:   "BTC-USDT",
		Side:          order.SideBuy,
		Type:          order.TypeLimit,
		Action:        order.ActionOpen,
		Price:         d("50000"),
		Amount:        d("1"),
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Insufficient balance", "venue message must survive verbatim")

	require.Len(t, failed, 1)
	assert.Equal(t, order.StateFailed, failed[0].State)
	assert.Zero(t, c.Ledger().Count())
}

func TestCancelOrderAlreadyCanceledCountsAsSuccess(t *testing.T) {
	c := newTestConnector(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, okx.PathCancelOrder, r.URL.Path)
		fmt.Fprint(w, `{"code":"0","msg":"","data":[{"ordId":"ex-1","sCode":"51401","sMsg":"Order already canceled"}]}`)
	})

	require.NoError(t, c.Ledger().StartTracking(order.NewInFlightOrder(
		"c1", "BTC-USDT", order.SideBuy, order.TypeLimit, order.ActionOpen,
		d("50000"), d("1"), 1, 0)))
	c.Ledger().ApplyUpdate(order.Update{ClientOrderID: "c1", ExchangeOrderID: "ex-1", NewState: order.StateOpen})

	ok, err := c.CancelOrder(context.Background(), "c1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Zero(t, c.Ledger().Count(), "locally resolved as canceled")
}

func TestCancelOrderRejection(t *testing.T) {
	c := newTestConnector(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"code":"0","msg":"","data":[{"ordId":"ex-1","sCode":"51503","sMsg":"Order state prohibits cancellation"}]}`)
	})

	require.NoError(t, c.Ledger().StartTracking(order.NewInFlightOrder(
		"c1", "BTC-USDT", order.SideBuy, order.TypeLimit, order.ActionOpen,
		d("50000"), d("1"), 1, 0)))

	ok, err := c.CancelOrder(context.Background(), "c1")
	require.Error(t, err)
	assert.False(t, ok)
	assert.Contains(t, err.Error(), "Order state prohibits cancellation")
	assert.Equal(t, 1, c.Ledger().Count(), "order stays tracked")
}

func TestTradeFromFillClassificationAndFee(t *testing.T) {
	c := newTestConnectorWithURL(t, "http://unused.invalid")
	o := *order.NewInFlightOrder("c1", "BTC-USDT", order.SideSell, order.TypeLimit,
		order.ActionClose, d("50000"), d("2"), 1, 0)

	// Venue-reported fee wins over the schema.
	trade, err := c.tradeFromFill(okx.Fill{
		TradeID:  "t1",
		OrdID:    "ex-1",
		ClOrdID:  "c1",
		Side:     "sell",
		PosSide:  "long",
		FillPx:   "50100",
		FillSz:   "1",
		Fee:      "-0.25",
		FeeCcy:   "USDT",
		ExecType: "M",
		TS:       "1700000000500",
	}, o)
	require.NoError(t, err)
	assert.Equal(t, order.ActionClose, trade.Action, "sell against a long closes")
	assert.Equal(t, "50100", trade.FillQuoteAmount.String(), "quote amount recomputed as px*sz")
	assert.Equal(t, "USDT", trade.Fee.Token)
	assert.Equal(t, "-0.25", trade.Fee.Amount.String())
	assert.Equal(t, int64(1700000000500), trade.FilledAt)

	// Without a reported fee the schema percentage applies.
	trade, err = c.tradeFromFill(okx.Fill{
		TradeID: "t2",
		ClOrdID: "c1",
		Side:    "sell",
		PosSide: "short",
		FillPx:  "50000",
		FillSz:  "1",
		TS:      "1700000000600",
	}, o)
	require.NoError(t, err)
	assert.Equal(t, order.ActionOpen, trade.Action, "sell opening a short")
	assert.Equal(t, "USDT", trade.Fee.Token)
	assert.Equal(t, "-25", trade.Fee.Amount.String(), "taker 0.0005 * 50000")
}

func TestStatusPollTimeSyncKeepsState(t *testing.T) {
	c := newTestConnector(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case okx.PathOrderStatus:
			fmt.Fprint(w, `{"code":"50102","msg":"Timestamp request expired","data":[]}`)
		case okx.PathFills, okx.PathPositions:
			fmt.Fprint(w, `{"code":"0","msg":"","data":[]}`)
		case okx.PathBalance:
			fmt.Fprint(w, `{"code":"0","msg":"","data":[{"details":[]}]}`)
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	})

	require.NoError(t, c.Ledger().StartTracking(order.NewInFlightOrder(
		"c1", "BTC-USDT", order.SideBuy, order.TypeLimit, order.ActionOpen,
		d("50000"), d("1"), 1, 0)))
	c.Ledger().ApplyUpdate(order.Update{ClientOrderID: "c1", ExchangeOrderID: "ex-1", NewState: order.StateOpen})

	// Many cycles of clock-skew failures never fail the order.
	for i := 0; i < 5; i++ {
		c.ReconcileOnce(context.Background())
	}

	o, ok := c.Ledger().Get("c1")
	require.True(t, ok, "order must survive clock-skew status failures")
	assert.Equal(t, order.StateOpen, o.State)
}

func TestStatusPollHardFailuresEventuallyLoseOrder(t *testing.T) {
	c := newTestConnector(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case okx.PathOrderStatus:
			fmt.Fprint(w, `{"code":"51603","msg":"Order does not exist","data":[]}`)
		case okx.PathFills, okx.PathPositions:
			fmt.Fprint(w, `{"code":"0","msg":"","data":[]}`)
		case okx.PathBalance:
			fmt.Fprint(w, `{"code":"0","msg":"","data":[{"details":[]}]}`)
		}
	})

	require.NoError(t, c.Ledger().StartTracking(order.NewInFlightOrder(
		"c1", "BTC-USDT", order.SideBuy, order.TypeLimit, order.ActionOpen,
		d("50000"), d("1"), 1, 0)))
	c.Ledger().ApplyUpdate(order.Update{ClientOrderID: "c1", ExchangeOrderID: "ex-1", NewState: order.StateOpen})

	var done []order.InFlightOrder
	c.Ledger().OnDone(func(o order.InFlightOrder) { done = append(done, o) })

	for i := 0; i < 3; i++ {
		c.ReconcileOnce(context.Background())
	}

	require.Len(t, done, 1, "three consecutive misses lose the order")
	assert.Equal(t, order.StateFailed, done[0].State)
}

func TestReconcileAppliesTradesBeforeStatuses(t *testing.T) {
	c := newTestConnector(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case okx.PathFills:
			fmt.Fprint(w, `{"code":"0","msg":"","data":[
				{"instId":"BTC-USDT-SWAP","tradeId":"t2","ordId":"ex-1","clOrdId":"c1","side":"buy","posSide":"long","fillPx":"50200","fillSz":"1","fee":"-0.2","feeCcy":"USDT","ts":"1700000000700"},
				{"instId":"BTC-USDT-SWAP","tradeId":"t1","ordId":"ex-1","clOrdId":"c1","side":"buy","posSide":"long","fillPx":"50000","fillSz":"1","fee":"-0.2","feeCcy":"USDT","ts":"1700000000500"}
			]}`)
		case okx.PathOrderStatus:
			fmt.Fprint(w, `{"code":"0","msg":"","data":[{"instId":"BTC-USDT-SWAP","ordId":"ex-1","clOrdId":"c1","state":"filled","uTime":"1700000000800"}]}`)
		case okx.PathBalance:
			fmt.Fprint(w, `{"code":"0","msg":"","data":[{"details":[{"ccy":"USDT","eq":"1000","availBal":"900"},{"ccy":"BTC","eq":"1","availBal":"1"}]}]}`)
		case okx.PathPositions:
			fmt.Fprint(w, `{"code":"0","msg":"","data":[{"instId":"BTC-USDT-SWAP","posSide":"long","avgPx":"50100","upl":"3","lever":"5","notionalUsd":"100200"}]}`)
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	})

	require.NoError(t, c.Ledger().StartTracking(order.NewInFlightOrder(
		"c1", "BTC-USDT", order.SideBuy, order.TypeLimit, order.ActionOpen,
		d("50000"), d("2"), 1, 0)))
	c.Ledger().ApplyUpdate(order.Update{ClientOrderID: "c1", ExchangeOrderID: "ex-1", NewState: order.StateOpen})

	var done []order.InFlightOrder
	c.Ledger().OnDone(func(o order.InFlightOrder) { done = append(done, o) })

	c.ReconcileOnce(context.Background())

	// The order completed through its fills, with both trades booked
	// before the FILLED status arrived.
	require.Len(t, done, 1)
	assert.Equal(t, order.StateFilled, done[0].State)
	assert.Equal(t, "2", done[0].FilledBase.String())
	assert.Equal(t, "100200", done[0].FilledQuote.String())
	assert.Equal(t, "-0.4", done[0].FeesPaid["USDT"].String())

	// Balance poll replaced the book, allow-list filtered.
	balances := c.Balances()
	require.Contains(t, balances, "USDT")
	assert.NotContains(t, balances, "BTC")
	assert.Equal(t, "1000", balances["USDT"].Total.String())

	// Position poll landed with the long sign convention.
	positions := c.Positions()
	require.Len(t, positions, 1)
	for _, p := range positions {
		assert.Equal(t, "100200", p.Amount.String())
		assert.Equal(t, "50100", p.EntryPrice.String())
	}

	// The cursor advanced to the newest fill.
	assert.Equal(t, int64(1700000000700), c.fillCursor.Load())
}

func TestReconcileRemovesVanishedPositions(t *testing.T) {
	c := newTestConnector(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case okx.PathFills, okx.PathPositions:
			fmt.Fprint(w, `{"code":"0","msg":"","data":[]}`)
		case okx.PathBalance:
			fmt.Fprint(w, `{"code":"0","msg":"","data":[{"details":[]}]}`)
		}
	})

	c.positions.Apply("BTC-USDT", order.PositionLong, d("50000"), d("1000"), d("5"), d("1"))
	require.Len(t, c.Positions(), 1)

	c.ReconcileOnce(context.Background())
	assert.Empty(t, c.Positions(), "positions absent from the poll are closed")
}

func TestFillsForUntrackedOrdersAdvanceCursor(t *testing.T) {
	c := newTestConnector(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case okx.PathFills:
			fmt.Fprint(w, `{"code":"0","msg":"","data":[
				{"instId":"BTC-USDT-SWAP","tradeId":"t9","ordId":"ex-other","clOrdId":"manual-1","side":"buy","posSide":"long","fillPx":"50000","fillSz":"1","fee":"-0.2","feeCcy":"USDT","ts":"1700000000900"}
			]}`)
		case okx.PathBalance:
			fmt.Fprint(w, `{"code":"0","msg":"","data":[{"details":[]}]}`)
		case okx.PathPositions:
			fmt.Fprint(w, `{"code":"0","msg":"","data":[]}`)
		}
	})

	c.ReconcileOnce(context.Background())

	// Fills from other sessions on the same account must not pin the
	// cursor, or every cycle re-fetches a growing history window.
	assert.Equal(t, int64(1700000000900), c.fillCursor.Load())
	assert.Empty(t, c.InFlightOrders())
}

func TestReconcilePrunesJournalBehindCursor(t *testing.T) {
	journal, err := store.NewJournal(filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = journal.Close() })

	ctx := context.Background()
	cursor := int64(1700000000900)
	staleTS := cursor - journalRetention.Milliseconds() - 1
	freshTS := cursor - 1000
	require.NoError(t, journal.RecordTrade(ctx, "c-old", "t-old", staleTS))
	require.NoError(t, journal.RecordTrade(ctx, "c-new", "t-new", freshTS))

	c := newTestConnector(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case okx.PathFills:
			fmt.Fprint(w, `{"code":"0","msg":"","data":[
				{"instId":"BTC-USDT-SWAP","tradeId":"t9","ordId":"ex-other","clOrdId":"manual-1","side":"buy","posSide":"long","fillPx":"50000","fillSz":"1","fee":"-0.2","feeCcy":"USDT","ts":"1700000000900"}
			]}`)
		case okx.PathBalance:
			fmt.Fprint(w, `{"code":"0","msg":"","data":[{"details":[]}]}`)
		case okx.PathPositions:
			fmt.Fprint(w, `{"code":"0","msg":"","data":[]}`)
		}
	})
	c.journal = journal

	c.ReconcileOnce(ctx)

	saved, err := journal.LoadCursor(ctx)
	require.NoError(t, err)
	assert.Equal(t, cursor, saved)

	stale, err := journal.HasTrade(ctx, "c-old", "t-old")
	require.NoError(t, err)
	assert.False(t, stale, "records behind the retention window are pruned")

	fresh, err := journal.HasTrade(ctx, "c-new", "t-new")
	require.NoError(t, err)
	assert.True(t, fresh, "records inside the retention window survive")
}

func TestLastFundingPaymentSentinel(t *testing.T) {
	c := newTestConnector(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, okx.PathBills, r.URL.Path)
		assert.Equal(t, "8", r.URL.Query().Get("type"))
		fmt.Fprint(w, `{"code":"0","msg":"","data":[]}`)
	})

	payment, err := c.LastFundingPayment(context.Background(), "BTC-USDT")
	require.NoError(t, err)
	assert.True(t, payment.IsEmpty())
	assert.Zero(t, payment.Timestamp)
	assert.Equal(t, "-1", payment.Rate.String())
	assert.Equal(t, "-1", payment.Payment.String())
}

func TestLastFundingPaymentFromBill(t *testing.T) {
	c := newTestConnector(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"code":"0","msg":"","data":[{"billId":"b1","type":"8","pnl":"-1.5","ts":"1700000000000"}]}`)
	})

	payment, err := c.LastFundingPayment(context.Background(), "BTC-USDT")
	require.NoError(t, err)
	assert.False(t, payment.IsEmpty())
	assert.Equal(t, int64(1700000000000), payment.Timestamp)
	assert.Equal(t, "-1.5", payment.Payment.String())
}
