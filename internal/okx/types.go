package okx

import "encoding/json"

// apiResponse is the envelope every v5 endpoint returns
type apiResponse struct {
	Code string          `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

// OrderResult is the per-order result of trade endpoints
type OrderResult struct {
	OrdID   string `json:"ordId"`
	ClOrdID string `json:"clOrdId"`
	SCode   string `json:"sCode"`
	SMsg    string `json:"sMsg"`
}

// Instrument is one record of the public instruments endpoint
type Instrument struct {
	InstType  string `json:"instType"`
	InstID    string `json:"instId"`
	State     string `json:"state"`
	CtVal     string `json:"ctVal"`
	CtValCcy  string `json:"ctValCcy"`
	SettleCcy string `json:"settleCcy"`
	TickSz    string `json:"tickSz"`
	LotSz     string `json:"lotSz"`
	MinSz     string `json:"minSz"`
	MaxLmtSz  string `json:"maxLmtSz"`
	MaxMktSz  string `json:"maxMktSz"`
}

// OrderDetail is an order record from the status endpoint and the orders
// channel
type OrderDetail struct {
	InstID    string `json:"instId"`
	OrdID     string `json:"ordId"`
	ClOrdID   string `json:"clOrdId"`
	Px        string `json:"px"`
	Sz        string `json:"sz"`
	Side      string `json:"side"`
	PosSide   string `json:"posSide"`
	OrdType   string `json:"ordType"`
	State     string `json:"state"`
	AccFillSz string `json:"accFillSz"`
	AvgPx     string `json:"avgPx"`
	UTime     string `json:"uTime"`
	CTime     string `json:"cTime"`

	// Per-fill fields, set on orders-channel fill events
	TradeID    string `json:"tradeId"`
	FillSz     string `json:"fillSz"`
	FillPx     string `json:"fillPx"`
	FillTime   string `json:"fillTime"`
	FillFee    string `json:"fillFee"`
	FillFeeCcy string `json:"fillFeeCcy"`
	ExecType   string `json:"execType"`
}

// Fill is a trade record from the fills endpoint and the fills channel
type Fill struct {
	InstID   string `json:"instId"`
	TradeID  string `json:"tradeId"`
	OrdID    string `json:"ordId"`
	ClOrdID  string `json:"clOrdId"`
	Side     string `json:"side"`
	PosSide  string `json:"posSide"`
	FillPx   string `json:"fillPx"`
	FillSz   string `json:"fillSz"`
	Fee      string `json:"fee"`
	FeeCcy   string `json:"feeCcy"`
	ExecType string `json:"execType"` // "M" maker, "T" taker
	TS       string `json:"ts"`
}

// BalanceDetail is one asset inside the account balance report
type BalanceDetail struct {
	Ccy      string `json:"ccy"`
	Eq       string `json:"eq"`
	AvailBal string `json:"availBal"`
	AvailEq  string `json:"availEq"`
}

// AccountBalance is the account balance report
type AccountBalance struct {
	Details []BalanceDetail `json:"details"`
}

// PositionDetail is one record of the positions endpoint and channel
type PositionDetail struct {
	InstID      string `json:"instId"`
	InstType    string `json:"instType"`
	PosSide     string `json:"posSide"`
	Pos         string `json:"pos"`
	AvgPx       string `json:"avgPx"`
	Upl         string `json:"upl"`
	Lever       string `json:"lever"`
	NotionalUsd string `json:"notionalUsd"`
}

// Bill is one record of the bills endpoint
type Bill struct {
	BillID string `json:"billId"`
	Type   string `json:"type"`
	Pnl    string `json:"pnl"`
	Sz     string `json:"sz"`
	Px     string `json:"px"`
	TS     string `json:"ts"`
}

// Ticker is one record of the market tickers endpoint
type Ticker struct {
	InstID string `json:"instId"`
	Last   string `json:"last"`
}

// ServerTime is the public time endpoint record
type ServerTime struct {
	TS string `json:"ts"`
}
