package connector

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"okx_connector/internal/okx"
	"okx_connector/internal/order"
)

func TestChannelOf(t *testing.T) {
	assert.Equal(t, channelOrders, channelOf("orders"))
	assert.Equal(t, channelPositions, channelOf("positions"))
	assert.Equal(t, channelFills, channelOf("fills"))
	assert.Equal(t, channelAccount, channelOf("account"))
	assert.Equal(t, channelUnknown, channelOf("tickers"))
	assert.Equal(t, channelUnknown, channelOf(""))
}

func TestProcessStreamEventOrdersWithEmbeddedFill(t *testing.T) {
	c := newTestConnectorWithURL(t, "http://unused.invalid")

	require.NoError(t, c.Ledger().StartTracking(order.NewInFlightOrder(
		"c1", "BTC-USDT", order.SideBuy, order.TypeLimit, order.ActionOpen,
		d("50000"), d("2"), 1, 0)))

	err := c.processStreamEvent(context.Background(), okx.StreamEvent{
		Channel: okx.ChannelOrders,
		Data: json.RawMessage(`[{
			"instId":"BTC-USDT-SWAP","ordId":"ex-1","clOrdId":"c1",
			"side":"buy","posSide":"long","state":"partially_filled",
			"uTime":"1700000001000","tradeId":"t1","fillSz":"1","fillPx":"50000",
			"fillTime":"1700000001000","fillFee":"-0.1","fillFeeCcy":"USDT","execType":"T"
		}]`),
	})
	require.NoError(t, err)

	o, ok := c.Ledger().Get("c1")
	require.True(t, ok)
	assert.Equal(t, order.StatePartiallyFilled, o.State)
	assert.Equal(t, "ex-1", o.ExchangeOrderID, "push correlates the exchange ID")
	assert.Equal(t, "1", o.FilledBase.String(), "the embedded fill is booked")
	assert.Equal(t, "-0.1", o.FeesPaid["USDT"].String())
	assert.True(t, c.Ledger().HasTrade("c1", "t1"))
}

func TestProcessStreamEventFillsChannel(t *testing.T) {
	c := newTestConnectorWithURL(t, "http://unused.invalid")

	require.NoError(t, c.Ledger().StartTracking(order.NewInFlightOrder(
		"c1", "BTC-USDT", order.SideSell, order.TypeLimit, order.ActionOpen,
		d("50000"), d("1"), 1, 0)))

	var trades []order.Trade
	c.Ledger().OnTrade(func(tr order.Trade) { trades = append(trades, tr) })

	err := c.processStreamEvent(context.Background(), okx.StreamEvent{
		Channel: okx.ChannelFills,
		Data: json.RawMessage(`[{
			"instId":"BTC-USDT-SWAP","tradeId":"t9","ordId":"ex-9","clOrdId":"c1",
			"side":"sell","posSide":"short","fillPx":"50000","fillSz":"1",
			"fee":"-0.3","feeCcy":"USDT","execType":"M","ts":"1700000002000"
		}]`),
	})
	require.NoError(t, err)

	require.Len(t, trades, 1)
	assert.Equal(t, "t9", trades[0].TradeID)
	assert.Equal(t, order.ActionOpen, trades[0].Action)
	assert.Equal(t, "50000", trades[0].FillQuoteAmount.String())
	assert.Zero(t, c.Ledger().Count(), "full fill resolves the order")
}

func TestProcessStreamEventPositionsChannel(t *testing.T) {
	c := newTestConnectorWithURL(t, "http://unused.invalid")

	err := c.processStreamEvent(context.Background(), okx.StreamEvent{
		Channel: okx.ChannelPositions,
		Data: json.RawMessage(`[{
			"instId":"BTC-USDT-SWAP","posSide":"short","avgPx":"50000",
			"upl":"-2","lever":"5","notionalUsd":"500"
		}]`),
	})
	require.NoError(t, err)

	p, ok := c.positions.Get("BTC-USDT", order.PositionShort)
	require.True(t, ok)
	assert.Equal(t, "-500", p.Amount.String(), "short notional carries a negative sign")

	// A push reporting the position flat removes it.
	err = c.processStreamEvent(context.Background(), okx.StreamEvent{
		Channel: okx.ChannelPositions,
		Data: json.RawMessage(`[{
			"instId":"BTC-USDT-SWAP","posSide":"short","avgPx":"0",
			"upl":"0","lever":"5","notionalUsd":"0"
		}]`),
	})
	require.NoError(t, err)

	_, ok = c.positions.Get("BTC-USDT", order.PositionShort)
	assert.False(t, ok)
	assert.Empty(t, c.Positions())
}

func TestProcessStreamEventAccountChannelIsADelta(t *testing.T) {
	c := newTestConnectorWithURL(t, "http://unused.invalid")

	c.applyBalances([]okx.BalanceDetail{
		{Ccy: "USDT", Eq: "1000", AvailBal: "900"},
		{Ccy: "USDC", Eq: "200", AvailBal: "200"},
	}, true)

	err := c.processStreamEvent(context.Background(), okx.StreamEvent{
		Channel: okx.ChannelAccount,
		Data: json.RawMessage(`[{"details":[
			{"ccy":"USDT","eq":"800","availBal":"700"}
		]}]`),
	})
	require.NoError(t, err)

	balances := c.Balances()
	assert.Equal(t, "800", balances["USDT"].Total.String(), "pushed asset is overwritten")
	assert.Equal(t, "200", balances["USDC"].Total.String(), "unreported asset survives a push")
}

func TestProcessStreamEventUnknownChannelIsDropped(t *testing.T) {
	c := newTestConnectorWithURL(t, "http://unused.invalid")

	err := c.processStreamEvent(context.Background(), okx.StreamEvent{
		Channel: "books5",
		Data:    json.RawMessage(`[{"asks":[]}]`),
	})
	assert.NoError(t, err, "unroutable messages are dropped, not fatal")
}

func TestProcessStreamEventDecodeFailure(t *testing.T) {
	c := newTestConnectorWithURL(t, "http://unused.invalid")

	err := c.processStreamEvent(context.Background(), okx.StreamEvent{
		Channel: okx.ChannelOrders,
		Data:    json.RawMessage(`{"not":"an array"}`),
	})
	assert.Error(t, err)
}
