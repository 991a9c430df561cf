// Package metrics provides Prometheus metrics for the metering service.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/vnmchuo/agentmeter/internal/usage"
)

// Collector holds all Prometheus metrics. Methods are nil-safe so callers
// constructed without metrics (tests) need no stub.
type Collector struct {
	UsageEvents   *prometheus.CounterVec
	TokensMetered *prometheus.CounterVec
	QuotaActions  *prometheus.CounterVec
	SweepDuration prometheus.Histogram
	SweepChecked  prometheus.Counter
	AgentsReset   prometheus.Counter
}

// New registers all metrics with reg.
func New(reg prometheus.Registerer) *Collector {
	factory := promauto.With(reg)
	return &Collector{
		UsageEvents: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "agentmeter",
				Name:      "usage_events_total",
				Help:      "Total usage events recorded",
			},
			[]string{"provider"},
		),
		TokensMetered: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "agentmeter",
				Name:      "tokens_metered_total",
				Help:      "Total tokens metered by kind",
			},
			[]string{"provider", "kind"},
		),
		QuotaActions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "agentmeter",
				Name:      "quota_actions_total",
				Help:      "Quota threshold actions applied",
			},
			[]string{"threshold"},
		),
		SweepDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "agentmeter",
				Name:      "sweep_duration_seconds",
				Help:      "Duration of the daily warning sweep",
				Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
			},
		),
		SweepChecked: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: "agentmeter",
				Name:      "sweep_agents_checked_total",
				Help:      "Agents evaluated by the daily warning sweep",
			},
		),
		AgentsReset: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: "agentmeter",
				Name:      "monthly_counters_reset_total",
				Help:      "Agents whose monthly token counter was reset",
			},
		),
	}
}

func (c *Collector) ObserveUsage(provider string, u *usage.Normalized) {
	if c == nil {
		return
	}
	c.UsageEvents.WithLabelValues(provider).Inc()
	c.TokensMetered.WithLabelValues(provider, "input").Add(float64(u.InputTokens))
	c.TokensMetered.WithLabelValues(provider, "output").Add(float64(u.OutputTokens))
	c.TokensMetered.WithLabelValues(provider, "thinking").Add(float64(u.ThinkingTokens))
	c.TokensMetered.WithLabelValues(provider, "cache_read").Add(float64(u.CacheReadTokens))
}

func (c *Collector) ObserveQuotaAction(threshold string) {
	if c == nil {
		return
	}
	c.QuotaActions.WithLabelValues(threshold).Inc()
}

func (c *Collector) ObserveSweep(duration time.Duration, checked int) {
	if c == nil {
		return
	}
	c.SweepDuration.Observe(duration.Seconds())
	c.SweepChecked.Add(float64(checked))
}

func (c *Collector) ObserveMonthlyReset(count int64) {
	if c == nil {
		return
	}
	c.AgentsReset.Add(float64(count))
}
