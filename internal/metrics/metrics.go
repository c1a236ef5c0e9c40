package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "cryptoalerts"

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	cycleDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "coordinator",
			Name:      "cycle_duration_seconds",
			Help:      "Duration of polling cycles.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
		},
	)

	cycles = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "coordinator",
			Name:      "cycles_total",
			Help:      "Polling cycles executed.",
		},
		[]string{"status"},
	)

	tenantFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "coordinator",
			Name:      "tenant_failures_total",
			Help:      "Per-tenant processing failures recovered inside a cycle.",
		},
	)

	adapterQuotes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "exchange",
			Name:      "quotes_total",
			Help:      "Quotes returned per exchange.",
		},
		[]string{"exchange"},
	)

	adapterFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "exchange",
			Name:      "failures_total",
			Help:      "Failed or partial exchange fetches.",
		},
		[]string{"exchange", "reason"},
	)

	alertsDispatched = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "alerts",
			Name:      "dispatched_total",
			Help:      "Alerts accepted by the cooldown ledger and dispatched.",
		},
		[]string{"type", "severity"},
	)

	alertsSuppressed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "alerts",
			Name:      "suppressed_total",
			Help:      "Alerts suppressed as duplicates within the cooldown window.",
		},
		[]string{"type"},
	)

	sinkDeliveries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "alerts",
			Name:      "sink_deliveries_total",
			Help:      "Delivery attempts per notification sink.",
		},
		[]string{"sink", "delivered"},
	)

	tenants = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "tenants",
			Name:      "active",
			Help:      "Active tenants per tier.",
		},
		[]string{"tier"},
	)
)

func init() {
	Registry.MustRegister(
		cycleDuration,
		cycles,
		tenantFailures,
		adapterQuotes,
		adapterFailures,
		alertsDispatched,
		alertsSuppressed,
		sinkDeliveries,
		tenants,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registered Prometheus metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// ObserveCycle records one coordinator cycle.
func ObserveCycle(d time.Duration, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	cycles.WithLabelValues(status).Inc()
	cycleDuration.Observe(d.Seconds())
}

// RecordTenantFailure counts a recovered per-tenant failure.
func RecordTenantFailure() {
	tenantFailures.Inc()
}

// RecordAdapterQuotes counts quotes produced by an exchange adapter.
func RecordAdapterQuotes(exchange string, n int) {
	adapterQuotes.WithLabelValues(exchange).Add(float64(n))
}

// RecordAdapterFailure counts a failed exchange fetch.
func RecordAdapterFailure(exchange, reason string) {
	adapterFailures.WithLabelValues(exchange, reason).Inc()
}

// RecordDispatched counts an accepted alert.
func RecordDispatched(alertType, severity string) {
	alertsDispatched.WithLabelValues(alertType, severity).Inc()
}

// RecordSuppressed counts a duplicate alert.
func RecordSuppressed(alertType string) {
	alertsSuppressed.WithLabelValues(alertType).Inc()
}

// RecordDelivery counts one sink delivery attempt.
func RecordDelivery(sink string, delivered bool) {
	label := "false"
	if delivered {
		label = "true"
	}
	sinkDeliveries.WithLabelValues(sink, label).Inc()
}

// SetTenants publishes active tenant counts per tier.
func SetTenants(byTier map[string]int) {
	tenants.Reset()
	for tier, n := range byTier {
		tenants.WithLabelValues(tier).Set(float64(n))
	}
}
