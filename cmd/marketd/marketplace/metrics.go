package marketplace

import (
	"github.com/nameswap/market-core/cmd/marketd/metrics"
)

func (m *Marketplace) initMetrics() {
	m.metricAsksCreated = metrics.Meter.NewInt64Counter(metrics.Prefix + ".asks_created_total")
	m.metricBidsPlaced = metrics.Meter.NewInt64Counter(metrics.Prefix + ".bids_placed_total")
	m.metricBidsAccepted = metrics.Meter.NewInt64Counter(metrics.Prefix + ".bids_accepted_total")
	m.metricSalesSettled = metrics.Meter.NewInt64Counter(metrics.Prefix + ".sales_settled_total")
	m.metricCancellations = metrics.Meter.NewInt64Counter(metrics.Prefix + ".cooldowns_cancelled_total")
	m.metricCommandErrors = metrics.Meter.NewInt64Counter(metrics.Prefix + ".command_errors_total")
}

func (d *HookDispatcher) initMetrics() {
	d.metricDispatched = metrics.Meter.NewInt64Counter(metrics.Prefix + ".hooks_dispatched_total")
	d.metricFailed = metrics.Meter.NewInt64Counter(metrics.Prefix + ".hooks_failed_total")
}
