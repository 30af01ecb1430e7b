package scheduler

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the Master's prometheus collectors, registered on
// construction so callers only need to hand the registry's HTTP handler
// to an http.Server.
type Metrics struct {
	JobsActive         prometheus.Gauge
	JobsTotal          *prometheus.CounterVec
	SlavesRegistered   prometheus.Gauge
	WatchdogInterrupts prometheus.Counter
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		JobsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "master_jobs_active",
			Help: "Number of submitted jobs whose worker has not yet been finalized.",
		}),
		JobsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "master_jobs_total",
			Help: "Count of jobs by terminal status.",
		}, []string{"status"}),
		SlavesRegistered: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "master_slaves_registered",
			Help: "Number of host-slaves currently registered with the master.",
		}),
		WatchdogInterrupts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "master_watchdog_interrupts_total",
			Help: "Count of jobs interrupted by the liveness watchdog.",
		}),
	}
	reg.MustRegister(m.JobsActive, m.JobsTotal, m.SlavesRegistered, m.WatchdogInterrupts)
	return m
}
