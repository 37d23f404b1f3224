package scheduler

import "github.com/prometheus/client_golang/prometheus"

// prometheusMetrics mirrors the Status snapshot as Prometheus collectors,
// registered only when ENABLE_METRICS is set (spec §6 "Metrics / status
// snapshot").
type prometheusMetrics struct {
	totalExecutions      prometheus.Counter
	successfulExecutions prometheus.Counter
	failedExecutions     prometheus.Counter
	activePlansCount     prometheus.Gauge
	averageExecutionTime prometheus.Gauge
}

func newPrometheusMetrics() *prometheusMetrics {
	return &prometheusMetrics{
		totalExecutions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "dca", Subsystem: "scheduler", Name: "executions_total",
			Help: "Total number of pipeline executions attempted.",
		}),
		successfulExecutions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "dca", Subsystem: "scheduler", Name: "executions_success_total",
			Help: "Total number of pipeline executions that succeeded.",
		}),
		failedExecutions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "dca", Subsystem: "scheduler", Name: "executions_failed_total",
			Help: "Total number of pipeline executions that failed after retry.",
		}),
		activePlansCount: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "dca", Subsystem: "scheduler", Name: "active_plans",
			Help: "Number of plans currently ACTIVE.",
		}),
		averageExecutionTime: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "dca", Subsystem: "scheduler", Name: "average_execution_time_ms",
			Help: "Running average pipeline execution time in milliseconds.",
		}),
	}
}

// collectors returns every collector for registration.
func (m *prometheusMetrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.totalExecutions,
		m.successfulExecutions,
		m.failedExecutions,
		m.activePlansCount,
		m.averageExecutionTime,
	}
}

// EnableMetrics turns on Prometheus export for this scheduler and registers
// its collectors with reg. Call it before Start; once metrics are enabled,
// further calls are no-ops that return nil.
func (s *Scheduler) EnableMetrics(reg *prometheus.Registry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.metrics != nil {
		return nil
	}
	m := newPrometheusMetrics()
	for _, c := range m.collectors() {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	s.metrics = m
	return nil
}
