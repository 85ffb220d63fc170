package telemetry

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metric names
const (
	MetricOrdersPlacedTotal    = "okx_connector_orders_placed_total"
	MetricOrdersFilledTotal    = "okx_connector_orders_filled_total"
	MetricOrdersCanceledTotal  = "okx_connector_orders_canceled_total"
	MetricOrdersFailedTotal    = "okx_connector_orders_failed_total"
	MetricTradesAppliedTotal   = "okx_connector_trades_applied_total"
	MetricTradesDedupedTotal   = "okx_connector_trades_deduped_total"
	MetricReconcileCyclesTotal = "okx_connector_reconcile_cycles_total"
	MetricReconcileErrorsTotal = "okx_connector_reconcile_errors_total"
	MetricStreamDroppedTotal   = "okx_connector_stream_dropped_total"
	MetricOrdersActive         = "okx_connector_orders_active"
	MetricPositionNotional     = "okx_connector_position_notional"
	MetricBalanceTotal         = "okx_connector_balance_total"
)

// MetricsHolder holds initialized instruments
type MetricsHolder struct {
	OrdersPlacedTotal    metric.Int64Counter
	OrdersFilledTotal    metric.Int64Counter
	OrdersCanceledTotal  metric.Int64Counter
	OrdersFailedTotal    metric.Int64Counter
	TradesAppliedTotal   metric.Int64Counter
	TradesDedupedTotal   metric.Int64Counter
	ReconcileCyclesTotal metric.Int64Counter
	ReconcileErrorsTotal metric.Int64Counter
	StreamDroppedTotal   metric.Int64Counter
	OrdersActive         metric.Int64ObservableGauge
	PositionNotional     metric.Float64ObservableGauge
	BalanceTotal         metric.Float64ObservableGauge

	// State for observable gauges
	mu                  sync.RWMutex
	activeOrdersMap     map[string]int64
	positionNotionalMap map[string]float64
	balanceTotalMap     map[string]float64
}

var (
	globalMetrics *MetricsHolder
	initOnce      sync.Once
)

// GetGlobalMetrics returns the singleton metrics holder
func GetGlobalMetrics() *MetricsHolder {
	initOnce.Do(func() {
		globalMetrics = &MetricsHolder{
			activeOrdersMap:     make(map[string]int64),
			positionNotionalMap: make(map[string]float64),
			balanceTotalMap:     make(map[string]float64),
		}
		// Initialization of instruments happens in InitMetrics
	})
	return globalMetrics
}

// InitMetrics initializes instruments using the meter
func (m *MetricsHolder) InitMetrics(meter metric.Meter) error {
	var err error

	m.OrdersPlacedTotal, err = meter.Int64Counter(MetricOrdersPlacedTotal, metric.WithDescription("Total orders submitted to the venue"))
	if err != nil {
		return err
	}

	m.OrdersFilledTotal, err = meter.Int64Counter(MetricOrdersFilledTotal, metric.WithDescription("Total orders completely filled"))
	if err != nil {
		return err
	}

	m.OrdersCanceledTotal, err = meter.Int64Counter(MetricOrdersCanceledTotal, metric.WithDescription("Total orders canceled"))
	if err != nil {
		return err
	}

	m.OrdersFailedTotal, err = meter.Int64Counter(MetricOrdersFailedTotal, metric.WithDescription("Total orders that failed or were lost"))
	if err != nil {
		return err
	}

	m.TradesAppliedTotal, err = meter.Int64Counter(MetricTradesAppliedTotal, metric.WithDescription("Total fills applied to in-flight orders"))
	if err != nil {
		return err
	}

	m.TradesDedupedTotal, err = meter.Int64Counter(MetricTradesDedupedTotal, metric.WithDescription("Total duplicate fills dropped"))
	if err != nil {
		return err
	}

	m.ReconcileCyclesTotal, err = meter.Int64Counter(MetricReconcileCyclesTotal, metric.WithDescription("Total reconciliation cycles completed"))
	if err != nil {
		return err
	}

	m.ReconcileErrorsTotal, err = meter.Int64Counter(MetricReconcileErrorsTotal, metric.WithDescription("Total per-request errors inside reconciliation cycles"))
	if err != nil {
		return err
	}

	m.StreamDroppedTotal, err = meter.Int64Counter(MetricStreamDroppedTotal, metric.WithDescription("Total unroutable user-stream messages dropped"))
	if err != nil {
		return err
	}

	// Observables
	m.OrdersActive, err = meter.Int64ObservableGauge(MetricOrdersActive, metric.WithDescription("Number of currently in-flight orders"),
		metric.WithInt64Callback(func(ctx context.Context, obs metric.Int64Observer) error {
			m.mu.RLock()
			defer m.mu.RUnlock()
			for pair, val := range m.activeOrdersMap {
				obs.Observe(val, metric.WithAttributes(attribute.String("trading_pair", pair)))
			}
			return nil
		}))
	if err != nil {
		return err
	}

	m.PositionNotional, err = meter.Float64ObservableGauge(MetricPositionNotional, metric.WithDescription("Signed position notional per trading pair and side"),
		metric.WithFloat64Callback(func(ctx context.Context, obs metric.Float64Observer) error {
			m.mu.RLock()
			defer m.mu.RUnlock()
			for key, val := range m.positionNotionalMap {
				obs.Observe(val, metric.WithAttributes(attribute.String("position", key)))
			}
			return nil
		}))
	if err != nil {
		return err
	}

	m.BalanceTotal, err = meter.Float64ObservableGauge(MetricBalanceTotal, metric.WithDescription("Total collateral balance per asset"),
		metric.WithFloat64Callback(func(ctx context.Context, obs metric.Float64Observer) error {
			m.mu.RLock()
			defer m.mu.RUnlock()
			for asset, val := range m.balanceTotalMap {
				obs.Observe(val, metric.WithAttributes(attribute.String("asset", asset)))
			}
			return nil
		}))
	if err != nil {
		return err
	}

	return nil
}

// Counter helpers. Safe to call before InitMetrics (instruments are nil
// until telemetry is set up, e.g. in unit tests).

func (m *MetricsHolder) addCounter(c metric.Int64Counter, attrs ...attribute.KeyValue) {
	if c == nil {
		return
	}
	c.Add(context.Background(), 1, metric.WithAttributes(attrs...))
}

func (m *MetricsHolder) IncOrdersPlaced(tradingPair string) {
	m.addCounter(m.OrdersPlacedTotal, attribute.String("trading_pair", tradingPair))
}

func (m *MetricsHolder) IncOrdersFilled(tradingPair string) {
	m.addCounter(m.OrdersFilledTotal, attribute.String("trading_pair", tradingPair))
}

func (m *MetricsHolder) IncOrdersCanceled(tradingPair string) {
	m.addCounter(m.OrdersCanceledTotal, attribute.String("trading_pair", tradingPair))
}

func (m *MetricsHolder) IncOrdersFailed(tradingPair string) {
	m.addCounter(m.OrdersFailedTotal, attribute.String("trading_pair", tradingPair))
}

func (m *MetricsHolder) IncTradesApplied(tradingPair string) {
	m.addCounter(m.TradesAppliedTotal, attribute.String("trading_pair", tradingPair))
}

func (m *MetricsHolder) IncTradesDeduped(tradingPair string) {
	m.addCounter(m.TradesDedupedTotal, attribute.String("trading_pair", tradingPair))
}

func (m *MetricsHolder) IncReconcileCycles() {
	m.addCounter(m.ReconcileCyclesTotal)
}

func (m *MetricsHolder) IncReconcileErrors(kind string) {
	m.addCounter(m.ReconcileErrorsTotal, attribute.String("kind", kind))
}

func (m *MetricsHolder) IncStreamDropped(channel string) {
	m.addCounter(m.StreamDroppedTotal, attribute.String("channel", channel))
}

// Helpers to update observable state

func (m *MetricsHolder) SetActiveOrders(tradingPair string, count int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.activeOrdersMap[tradingPair] = count
}

func (m *MetricsHolder) SetPositionNotional(key string, notional float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if notional == 0 {
		delete(m.positionNotionalMap, key)
		return
	}
	m.positionNotionalMap[key] = notional
}

func (m *MetricsHolder) SetBalanceTotal(asset string, total float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.balanceTotalMap[asset] = total
}

func (m *MetricsHolder) GetActiveOrders() map[string]int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make(map[string]int64)
	for k, v := range m.activeOrdersMap {
		res[k] = v
	}
	return res
}

func (m *MetricsHolder) GetPositionNotionals() map[string]float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make(map[string]float64)
	for k, v := range m.positionNotionalMap {
		res[k] = v
	}
	return res
}
