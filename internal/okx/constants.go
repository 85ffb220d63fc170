// Package okx speaks the venue's v5 REST and private WebSocket API
package okx

import (
	"okx_connector/internal/order"
)

// Default endpoints
const (
	DefaultRESTBaseURL  = "https://www.okx.com"
	DefaultWSPrivateURL = "wss://ws.okx.com:8443/ws/v5/private"
)

// REST paths
const (
	PathPlaceOrder      = "/api/v5/trade/order"
	PathCancelOrder     = "/api/v5/trade/cancel-order"
	PathOrderStatus     = "/api/v5/trade/order"
	PathFills           = "/api/v5/trade/fills"
	PathBalance         = "/api/v5/account/balance"
	PathPositions       = "/api/v5/account/positions"
	PathBills           = "/api/v5/account/bills"
	PathSetPositionMode = "/api/v5/account/set-position-mode"
	PathSetLeverage     = "/api/v5/account/set-leverage"
	PathInstruments     = "/api/v5/public/instruments"
	PathServerTime      = "/api/v5/public/time"
	PathTickers         = "/api/v5/market/tickers"
)

// Result codes
const (
	RetCodeOK                   = "0"
	RetCodeParamsError          = "51000"
	RetCodeCancelOrderNotExists = "51400"
	RetCodeOrderAlreadyCanceled = "51401"
	RetCodeTimestampExpired     = "50102"
	RetCodeInvalidTimestamp     = "50112"
)

// Private WebSocket channels
const (
	ChannelOrders    = "orders"
	ChannelPositions = "positions"
	ChannelFills     = "fills"
	ChannelAccount   = "account"
)

// Wire values
const (
	InstTypeSwap     = "SWAP"
	InstStateLive    = "live"
	TradeModeCross   = "cross"
	PosModeLongShort = "long_short_mode"
	BillTypeFunding  = "8"
)

// OrderStateMap maps the venue's order states to ledger states. States
// not listed here (e.g. the transient amend states) are ignored.
var OrderStateMap = map[string]order.State{
	"live":             order.StateOpen,
	"partially_filled": order.StatePartiallyFilled,
	"filled":           order.StateFilled,
	"canceled":         order.StateCanceled,
	"mmp_canceled":     order.StateCanceled,
}

// IsCancelSuccess reports whether a cancel result code counts as success.
// An order the venue no longer knows, or already canceled, is as good as
// canceled.
func IsCancelSuccess(sCode string) bool {
	switch sCode {
	case RetCodeOK, RetCodeCancelOrderNotExists, RetCodeOrderAlreadyCanceled:
		return true
	}
	return false
}
