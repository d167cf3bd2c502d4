package engine

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// LcmcPassesTotal counts poll cycles by outcome
	LcmcPassesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lcmc_passes_total",
			Help: "Total number of poll cycles by outcome",
		},
		[]string{"outcome"},
	)

	// LcmcPassDuration tracks how long reconciliation takes
	LcmcPassDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "lcmc_pass_duration_seconds",
			Help:    "Duration of reconciliation passes",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14),
		},
	)

	// LcmcRegistryNodes tracks live registry nodes by kind
	LcmcRegistryNodes = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "lcmc_registry_nodes",
			Help: "Number of live registry nodes by kind",
		},
		[]string{"kind"},
	)

	// LcmcGraphEdges tracks the number of constraint edges
	LcmcGraphEdges = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "lcmc_graph_edges",
			Help: "Number of constraint edges after the last pass",
		},
	)

	// LcmcWarningsTotal counts reconciler warnings by kind
	LcmcWarningsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lcmc_warnings_total",
			Help: "Total number of reconciler warnings by kind",
		},
		[]string{"kind"},
	)

	// LcmcFetchErrorsTotal counts failed status queries by host
	LcmcFetchErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lcmc_fetch_errors_total",
			Help: "Total number of failed cluster status queries by host",
		},
		[]string{"host"},
	)

	// LcmcLockWaitSeconds tracks time spent waiting for the status lock
	LcmcLockWaitSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "lcmc_status_lock_wait_seconds",
			Help:    "Time spent waiting for the cluster-status lock",
			Buckets: prometheus.ExponentialBuckets(0.0001, 4, 10),
		},
		[]string{"op"},
	)
)

func init() {
	prometheus.MustRegister(LcmcPassesTotal)
	prometheus.MustRegister(LcmcPassDuration)
	prometheus.MustRegister(LcmcRegistryNodes)
	prometheus.MustRegister(LcmcGraphEdges)
	prometheus.MustRegister(LcmcWarningsTotal)
	prometheus.MustRegister(LcmcFetchErrorsTotal)
	prometheus.MustRegister(LcmcLockWaitSeconds)
}
