package adminhttp

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the runner's Prometheus counters. Each is registered
// against its own Server's registry so that creating more than one Server
// in a test process never panics on duplicate collector registration.
type Metrics struct {
	TasksClaimed    prometheus.Counter
	ClaimsLost      prometheus.Counter
	StaleSweeps     prometheus.Counter
	BudgetRejected  prometheus.Counter
	PlatformRetries prometheus.Counter
}

// NewMetrics creates and registers the runner's counters against registry.
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		TasksClaimed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "runner_tasks_claimed_total",
			Help: "Total number of tasks this runner successfully claimed.",
		}),
		ClaimsLost: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "runner_claims_lost_total",
			Help: "Total number of claim attempts lost to another runner during the race window.",
		}),
		StaleSweeps: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "runner_stale_leases_reset_total",
			Help: "Total number of stale leases reset back to unassigned.",
		}),
		BudgetRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "runner_budget_rejections_total",
			Help: "Total number of tasks skipped for insufficient local resources.",
		}),
		PlatformRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "runner_platform_retries_total",
			Help: "Total number of retried platform requests.",
		}),
	}

	registry.MustRegister(m.TasksClaimed, m.ClaimsLost, m.StaleSweeps, m.BudgetRejected, m.PlatformRetries)
	return m
}
