package oplog

import (
	"context"

	"github.com/MarkoPoloResearchLab/stakeledger/pkg/wager"
	"github.com/prometheus/client_golang/prometheus"
)

const (
	metricsNamespace = "wager"
	operationResolve = "resolve"
	outcomeWin       = "win"
	outcomeLoss      = "loss"
)

// Metrics counts operations by status and error kind, and tracks staked and
// paid amounts for committed resolutions.
type Metrics struct {
	operations  *prometheus.CounterVec
	resolutions *prometheus.CounterVec
	staked      prometheus.Counter
	paidOut     prometheus.Counter
}

// NewMetrics registers the collectors on registerer.
func NewMetrics(registerer prometheus.Registerer) (*Metrics, error) {
	metrics := &Metrics{
		operations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "operations_total",
				Help:      "Wager service operations by status and error kind",
			},
			[]string{"operation", "status", "kind"},
		),
		resolutions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "resolutions_total",
				Help:      "Committed wager resolutions by outcome",
			},
			[]string{"outcome"},
		),
		staked: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "staked_total",
				Help:      "Sum of stakes on committed resolutions",
			},
		),
		paidOut: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "paid_out_total",
				Help:      "Sum of payouts on committed resolutions",
			},
		),
	}
	for _, collector := range []prometheus.Collector{metrics.operations, metrics.resolutions, metrics.staked, metrics.paidOut} {
		if err := registerer.Register(collector); err != nil {
			return nil, err
		}
	}
	return metrics, nil
}

func (metrics *Metrics) LogOperation(_ context.Context, entry wager.OperationLog) {
	metrics.operations.WithLabelValues(entry.Operation, entry.Status, entry.Kind.String()).Inc()
	if entry.Operation != operationResolve || entry.Error != nil {
		return
	}
	outcome := outcomeLoss
	if entry.Outcome.Win {
		outcome = outcomeWin
		metrics.paidOut.Add(float64(entry.Outcome.Amount.Int64()))
	}
	metrics.resolutions.WithLabelValues(outcome).Inc()
	metrics.staked.Add(float64(entry.Stake.Int64()))
}
