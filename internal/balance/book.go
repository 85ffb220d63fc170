// Package balance maintains the collateral balance book
package balance

import (
	"sync"

	"github.com/shopspring/decimal"

	"okx_connector/internal/core"
	"okx_connector/pkg/telemetry"
)

// Entry is one asset's balance as reported by the venue
type Entry struct {
	Asset     string
	Total     decimal.Decimal
	Available decimal.Decimal
}

// Book tracks total and available balances for the configured collateral
// assets. REST polls replace the whole book; push events overwrite only
// the assets they mention.
type Book struct {
	mu        sync.RWMutex
	total     map[string]decimal.Decimal
	available map[string]decimal.Decimal
	allowed   map[string]struct{}
	logger    core.ILogger
}

// NewBook creates a Book restricted to the given collateral assets.
// An empty allow-list admits every asset.
func NewBook(collateralAssets []string, logger core.ILogger) *Book {
	allowed := make(map[string]struct{}, len(collateralAssets))
	for _, a := range collateralAssets {
		allowed[a] = struct{}{}
	}
	return &Book{
		total:     make(map[string]decimal.Decimal),
		available: make(map[string]decimal.Decimal),
		allowed:   allowed,
		logger:    logger.WithField("component", "balance_book"),
	}
}

func (b *Book) tracks(asset string) bool {
	if len(b.allowed) == 0 {
		return true
	}
	_, ok := b.allowed[asset]
	return ok
}

// ReplaceAll installs a full snapshot: assets missing from the report are
// dropped. Used by the REST poll path.
func (b *Book) ReplaceAll(entries []Entry) {
	b.mu.Lock()
	b.total = make(map[string]decimal.Decimal, len(entries))
	b.available = make(map[string]decimal.Decimal, len(entries))
	for _, e := range entries {
		if !b.tracks(e.Asset) {
			continue
		}
		b.total[e.Asset] = e.Total
		b.available[e.Asset] = e.Available
	}
	snapshot := make(map[string]float64, len(b.total))
	for asset, total := range b.total {
		snapshot[asset], _ = total.Float64()
	}
	b.mu.Unlock()

	metrics := telemetry.GetGlobalMetrics()
	for asset, total := range snapshot {
		metrics.SetBalanceTotal(asset, total)
	}
}

// ApplyDelta overwrites only the reported assets. Used by the push path,
// whose events carry per-asset snapshots, not a full account picture.
func (b *Book) ApplyDelta(entries []Entry) {
	metrics := telemetry.GetGlobalMetrics()

	b.mu.Lock()
	for _, e := range entries {
		if !b.tracks(e.Asset) {
			continue
		}
		b.total[e.Asset] = e.Total
		b.available[e.Asset] = e.Available
		total, _ := e.Total.Float64()
		metrics.SetBalanceTotal(e.Asset, total)
	}
	b.mu.Unlock()
}

// Get returns one asset's balance
func (b *Book) Get(asset string) (Entry, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	total, ok := b.total[asset]
	if !ok {
		return Entry{}, false
	}
	return Entry{
		Asset:     asset,
		Total:     total,
		Available: b.available[asset],
	}, true
}

// Snapshot returns a copy of all tracked balances keyed by asset
func (b *Book) Snapshot() map[string]Entry {
	b.mu.RLock()
	defer b.mu.RUnlock()

	res := make(map[string]Entry, len(b.total))
	for asset, total := range b.total {
		res[asset] = Entry{
			Asset:     asset,
			Total:     total,
			Available: b.available[asset],
		}
	}
	return res
}
