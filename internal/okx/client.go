package okx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"okx_connector/internal/core"
	pkghttp "okx_connector/pkg/http"
)

// VenueError is a business-level failure carried in the response
// envelope. The formatted code matches what the venue documentation and
// logs use.
type VenueError struct {
	Code string
	Msg  string
}

func (e *VenueError) Error() string {
	return fmt.Sprintf("ret_code <%s> - %s", e.Code, e.Msg)
}

// OrderError is a per-order failure carried in a trade endpoint result
type OrderError struct {
	SCode string
	SMsg  string
}

func (e *OrderError) Error() string {
	return fmt.Sprintf("ret_code <%s> - %s", e.SCode, e.SMsg)
}

// IsTimeSyncErr reports whether an error is caused by clock skew between
// this host and the venue. Matches expired/invalid timestamp codes and
// the parameter-error variant that mentions an invalid timestamp.
func IsTimeSyncErr(err error) bool {
	if err == nil {
		return false
	}

	code, msg := "", ""
	var ve *VenueError
	var oe *OrderError
	switch {
	case errors.As(err, &ve):
		code, msg = ve.Code, ve.Msg
	case errors.As(err, &oe):
		code, msg = oe.SCode, oe.SMsg
	default:
		text := err.Error()
		return strings.Contains(text, "ret_code <"+RetCodeTimestampExpired+">") ||
			strings.Contains(text, "ret_code <"+RetCodeInvalidTimestamp+">") ||
			(strings.Contains(text, "ret_code <"+RetCodeParamsError+">") &&
				strings.Contains(strings.ToLower(text), "invalid timestamp"))
	}

	switch code {
	case RetCodeTimestampExpired, RetCodeInvalidTimestamp:
		return true
	case RetCodeParamsError:
		return strings.Contains(strings.ToLower(msg), "invalid timestamp")
	}
	return false
}

// PlaceOrderRequest is the wire payload for order placement
type PlaceOrderRequest struct {
	ClOrdID    string `json:"clOrdId"`
	TdMode     string `json:"tdMode"`
	OrdType    string `json:"ordType"`
	InstID     string `json:"instId"`
	Side       string `json:"side"`
	PosSide    string `json:"posSide"`
	Sz         string `json:"sz"`
	ReduceOnly bool   `json:"reduceOnly"`
	Px         string `json:"px,omitempty"`
}

// Client is a typed REST client for the venue's v5 API. It layers the
// response envelope, result codes and a venue-wide rate budget over the
// resilient transport.
type Client struct {
	http    *pkghttp.Client
	limiter *rate.Limiter
	logger  core.ILogger
}

// NewClient creates a Client. rateLimit/burst bound outgoing requests per
// second across every caller.
func NewClient(baseURL string, auth *Auth, rateLimit, burst int, logger core.ILogger) *Client {
	if baseURL == "" {
		baseURL = DefaultRESTBaseURL
	}
	if rateLimit <= 0 {
		rateLimit = 10
	}
	if burst <= 0 {
		burst = rateLimit * 2
	}
	return &Client{
		http:    pkghttp.NewClient(baseURL, 10*time.Second, auth),
		limiter: rate.NewLimiter(rate.Limit(rateLimit), burst),
		logger:  logger.WithField("component", "okx_client"),
	}
}

// get performs a GET and decodes the envelope data into out
func (c *Client) get(ctx context.Context, path string, params map[string]string, signed bool, out interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	raw, err := c.http.Get(ctx, path, params, signed)
	if err != nil {
		return err
	}
	return c.decode(raw, out)
}

// post performs a signed POST and decodes the envelope data into out
func (c *Client) post(ctx context.Context, path string, body interface{}, out interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	raw, err := c.http.Post(ctx, path, body, true)
	if err != nil {
		return err
	}
	return c.decode(raw, out)
}

// decode unwraps the {code,msg,data} envelope. Trade endpoints report
// per-order failures under a non-zero top-level code while still
// carrying result data, so data is decoded before the code is judged.
func (c *Client) decode(raw []byte, out interface{}) error {
	var env apiResponse
	if err := json.Unmarshal(raw, &env); err != nil {
		return fmt.Errorf("failed to decode response envelope: %w", err)
	}

	decoded := false
	if out != nil && hasElements(env.Data) {
		if err := json.Unmarshal(env.Data, out); err == nil {
			decoded = true
		}
	}

	if env.Code != RetCodeOK && !decoded {
		return &VenueError{Code: env.Code, Msg: env.Msg}
	}
	return nil
}

// hasElements reports whether raw is a JSON array with at least one
// element
func hasElements(raw json.RawMessage) bool {
	trimmed := strings.TrimSpace(string(raw))
	return len(trimmed) > 2 && trimmed[0] == '['
}

// firstOrderResult decodes the result list of a trade endpoint and
// surfaces the first record
func firstOrderResult(results []OrderResult, envErr error) (OrderResult, error) {
	if len(results) == 0 {
		if envErr != nil {
			return OrderResult{}, envErr
		}
		return OrderResult{}, fmt.Errorf("empty trade endpoint result")
	}
	return results[0], nil
}

// PlaceOrder submits an order. A non-OK sCode is returned as an
// OrderError carrying the venue's message verbatim.
func (c *Client) PlaceOrder(ctx context.Context, req PlaceOrderRequest) (OrderResult, error) {
	var results []OrderResult
	envErr := c.post(ctx, PathPlaceOrder, req, &results)

	res, err := firstOrderResult(results, envErr)
	if err != nil {
		return OrderResult{}, err
	}
	if res.SCode != RetCodeOK {
		return res, &OrderError{SCode: res.SCode, SMsg: res.SMsg}
	}
	return res, nil
}

// CancelOrder requests cancellation by exchange order ID when known,
// else by client order ID. The caller judges the result code with
// IsCancelSuccess.
func (c *Client) CancelOrder(ctx context.Context, instID, ordID, clOrdID string) (OrderResult, error) {
	body := map[string]string{"instId": instID}
	if ordID != "" {
		body["ordId"] = ordID
	} else {
		body["clOrdId"] = clOrdID
	}

	var results []OrderResult
	envErr := c.post(ctx, PathCancelOrder, body, &results)
	return firstOrderResult(results, envErr)
}

// OrderStatus fetches one order's current state
func (c *Client) OrderStatus(ctx context.Context, instID, ordID, clOrdID string) (OrderDetail, error) {
	params := map[string]string{"instId": instID}
	if ordID != "" {
		params["ordId"] = ordID
	} else {
		params["clOrdId"] = clOrdID
	}

	var details []OrderDetail
	if err := c.get(ctx, PathOrderStatus, params, true, &details); err != nil {
		return OrderDetail{}, err
	}
	if len(details) == 0 {
		return OrderDetail{}, fmt.Errorf("order not found: instId=%s ordId=%s clOrdId=%s", instID, ordID, clOrdID)
	}
	return details[0], nil
}

// Fills fetches trade records for an instrument, newest first. beginMS
// limits the history to fills at or after the given venue timestamp.
func (c *Client) Fills(ctx context.Context, instID string, beginMS int64) ([]Fill, error) {
	params := map[string]string{
		"instType": InstTypeSwap,
		"instId":   instID,
	}
	if beginMS > 0 {
		params["begin"] = strconv.FormatInt(beginMS, 10)
	}

	var fills []Fill
	if err := c.get(ctx, PathFills, params, true, &fills); err != nil {
		return nil, err
	}
	return fills, nil
}

// Balance fetches the account balance details
func (c *Client) Balance(ctx context.Context) ([]BalanceDetail, error) {
	var accounts []AccountBalance
	if err := c.get(ctx, PathBalance, nil, true, &accounts); err != nil {
		return nil, err
	}
	if len(accounts) == 0 {
		return nil, nil
	}
	return accounts[0].Details, nil
}

// Positions fetches the open positions for an instrument
func (c *Client) Positions(ctx context.Context, instID string) ([]PositionDetail, error) {
	params := map[string]string{
		"instType": InstTypeSwap,
		"instId":   instID,
	}

	var positions []PositionDetail
	if err := c.get(ctx, PathPositions, params, true, &positions); err != nil {
		return nil, err
	}
	return positions, nil
}

// Instruments fetches every swap instrument
func (c *Client) Instruments(ctx context.Context) ([]Instrument, error) {
	params := map[string]string{"instType": InstTypeSwap}

	var instruments []Instrument
	if err := c.get(ctx, PathInstruments, params, false, &instruments); err != nil {
		return nil, err
	}
	return instruments, nil
}

// Bills fetches account bills of one type for an instrument, newest first
func (c *Client) Bills(ctx context.Context, instID, billType string) ([]Bill, error) {
	params := map[string]string{
		"instType": InstTypeSwap,
		"instId":   instID,
		"type":     billType,
	}

	var bills []Bill
	if err := c.get(ctx, PathBills, params, true, &bills); err != nil {
		return nil, err
	}
	return bills, nil
}

// SetPositionMode switches the account's position mode
func (c *Client) SetPositionMode(ctx context.Context, posMode string) error {
	body := map[string]string{"posMode": posMode}
	var results []json.RawMessage
	return c.post(ctx, PathSetPositionMode, body, &results)
}

// SetLeverage sets the leverage for an instrument under cross margin
func (c *Client) SetLeverage(ctx context.Context, instID string, leverage int) error {
	body := map[string]string{
		"instId":  instID,
		"lever":   strconv.Itoa(leverage),
		"mgnMode": TradeModeCross,
	}
	var results []json.RawMessage
	return c.post(ctx, PathSetLeverage, body, &results)
}

// LastTradedPrice fetches the last price of an instrument
func (c *Client) LastTradedPrice(ctx context.Context, instID string) (string, error) {
	params := map[string]string{
		"instType": InstTypeSwap,
		"instId":   instID,
	}

	var tickers []Ticker
	if err := c.get(ctx, PathTickers, params, false, &tickers); err != nil {
		return "", err
	}
	for _, t := range tickers {
		if t.InstID == instID {
			return t.Last, nil
		}
	}
	return "", fmt.Errorf("no ticker for %s", instID)
}

// ServerTime fetches the venue clock in ms. Used as the network check.
func (c *Client) ServerTime(ctx context.Context) (int64, error) {
	var times []ServerTime
	if err := c.get(ctx, PathServerTime, nil, false, &times); err != nil {
		return 0, err
	}
	if len(times) == 0 {
		return 0, fmt.Errorf("empty server time response")
	}
	return strconv.ParseInt(times[0].TS, 10, 64)
}
