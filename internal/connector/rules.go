package connector

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"okx_connector/internal/okx"
)

// TradingRule holds the sizing and precision constraints of one pair.
// Contract-denominated venue fields are converted to base-asset terms
// through the contract value.
type TradingRule struct {
	TradingPair            string
	InstrumentID           string
	MinOrderSize           decimal.Decimal
	MaxOrderSize           decimal.Decimal // zero means no cap
	MinPriceIncrement      decimal.Decimal
	MinBaseAmountIncrement decimal.Decimal
	CollateralToken        string
}

// pairFromInstrument maps "BTC-USDT-SWAP" to "BTC-USDT"
func pairFromInstrument(instID string) string {
	return strings.TrimSuffix(instID, "-"+okx.InstTypeSwap)
}

// instrumentValid reports whether an instrument record should yield a rule
func instrumentValid(inst okx.Instrument) bool {
	return inst.InstType == okx.InstTypeSwap && inst.State == okx.InstStateLive
}

// parseTradingRule converts one instrument record. Any missing required
// field fails the single record, never the whole refresh.
func parseTradingRule(inst okx.Instrument) (TradingRule, error) {
	ctVal, err := decimal.NewFromString(inst.CtVal)
	if err != nil {
		return TradingRule{}, fmt.Errorf("invalid ctVal %q: %w", inst.CtVal, err)
	}
	minSz, err := decimal.NewFromString(inst.MinSz)
	if err != nil {
		return TradingRule{}, fmt.Errorf("invalid minSz %q: %w", inst.MinSz, err)
	}
	tickSz, err := decimal.NewFromString(inst.TickSz)
	if err != nil {
		return TradingRule{}, fmt.Errorf("invalid tickSz %q: %w", inst.TickSz, err)
	}
	lotSz, err := decimal.NewFromString(inst.LotSz)
	if err != nil {
		return TradingRule{}, fmt.Errorf("invalid lotSz %q: %w", inst.LotSz, err)
	}
	if inst.SettleCcy == "" {
		return TradingRule{}, fmt.Errorf("missing settleCcy")
	}

	// Caps are optional; when both are present the stricter one wins.
	maxSize := decimal.Zero
	if inst.MaxLmtSz != "" {
		maxLmt, err := decimal.NewFromString(inst.MaxLmtSz)
		if err != nil {
			return TradingRule{}, fmt.Errorf("invalid maxLmtSz %q: %w", inst.MaxLmtSz, err)
		}
		maxSize = maxLmt
	}
	if inst.MaxMktSz != "" {
		maxMkt, err := decimal.NewFromString(inst.MaxMktSz)
		if err != nil {
			return TradingRule{}, fmt.Errorf("invalid maxMktSz %q: %w", inst.MaxMktSz, err)
		}
		if maxSize.IsZero() || maxMkt.LessThan(maxSize) {
			maxSize = maxMkt
		}
	}

	return TradingRule{
		TradingPair:            pairFromInstrument(inst.InstID),
		InstrumentID:           inst.InstID,
		MinOrderSize:           minSz.Mul(ctVal),
		MaxOrderSize:           maxSize.Mul(ctVal),
		MinPriceIncrement:      tickSz,
		MinBaseAmountIncrement: lotSz.Mul(ctVal),
		CollateralToken:        inst.SettleCcy,
	}, nil
}

// RefreshTradingRules rebuilds the trading rules and the symbol registry
// from the venue's instrument list. A malformed record is skipped with a
// log; it never aborts the refresh.
func (c *Connector) RefreshTradingRules(ctx context.Context) error {
	instruments, err := c.client.Instruments(ctx)
	if err != nil {
		return fmt.Errorf("failed to fetch instruments: %w", err)
	}

	rules := make(map[string]TradingRule)
	pairToInst := make(map[string]string)
	instToPair := make(map[string]string)

	for _, inst := range instruments {
		if !instrumentValid(inst) {
			continue
		}
		rule, err := parseTradingRule(inst)
		if err != nil {
			c.logger.Warn("Error parsing trading rule, skipping",
				"instrument", inst.InstID, "error", err)
			continue
		}
		rules[rule.TradingPair] = rule
		pairToInst[rule.TradingPair] = rule.InstrumentID
		instToPair[rule.InstrumentID] = rule.TradingPair
	}

	c.mu.Lock()
	c.rules = rules
	c.pairToInst = pairToInst
	c.instToPair = instToPair
	c.mu.Unlock()

	c.logger.Info("Trading rules refreshed", "count", len(rules))
	return nil
}

// TradingRules returns a copy of the current rules keyed by pair
func (c *Connector) TradingRules() map[string]TradingRule {
	c.mu.RLock()
	defer c.mu.RUnlock()

	res := make(map[string]TradingRule, len(c.rules))
	for k, v := range c.rules {
		res[k] = v
	}
	return res
}

// InstrumentFor resolves a trading pair to the venue instrument ID
func (c *Connector) InstrumentFor(tradingPair string) (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	instID, ok := c.pairToInst[tradingPair]
	if !ok {
		return "", fmt.Errorf("unknown trading pair %s", tradingPair)
	}
	return instID, nil
}

// PairFor resolves a venue instrument ID to the trading pair
func (c *Connector) PairFor(instID string) (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	pair, ok := c.instToPair[instID]
	if !ok {
		return "", fmt.Errorf("unknown instrument %s", instID)
	}
	return pair, nil
}
