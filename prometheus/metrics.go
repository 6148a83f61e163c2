package prometheus

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Counter metrics
var (
	// Provisioning run counters
	ProvisioningStartedCounter = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "provisioning_runs_started_total",
			Help: "Total number of provisioning pipeline runs started",
		},
	)

	ProvisioningCompletedCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "provisioning_runs_completed_total",
			Help: "Total number of provisioning pipeline runs by outcome",
		},
		[]string{"outcome"}, // outcome is "active" or "failed"
	)

	// Step counter by step name and status
	StepCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "provisioning_steps_total",
			Help: "Total number of provisioning step attempts by step and status",
		},
		[]string{"step", "status"},
	)

	// Rollback counter
	RollbackCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "provisioning_rollbacks_total",
			Help: "Total number of schema rollback attempts by outcome",
		},
		[]string{"outcome"}, // outcome is "ok" or "error"
	)

	// HTTP request counter by endpoint and status
	HTTPRequestCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "provisioning_http_requests_total",
			Help: "Total number of HTTP requests by endpoint and status",
		},
		[]string{"endpoint", "method", "status"},
	)

	// Error counters
	RequestErrorCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "provisioning_request_errors_total",
			Help: "Total number of rejected or failed API requests",
		},
		[]string{"type"}, // type can be "invalid_request", "tenant_not_found", "queue_full" etc.
	)

	// Tenant operation counter
	TenantOperationCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "provisioning_tenant_operations_total",
			Help: "Total number of tenant operations",
		},
		[]string{"operation"}, // operation can be "enqueue", "status", "list", "archive", etc.
	)
)

// Histogram metrics
var (
	// Request duration
	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "provisioning_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"endpoint", "method", "status"},
	)

	// Step duration
	StepDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "provisioning_step_duration_seconds",
			Help:    "Duration of provisioning steps in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"step"},
	)

	// Database operation duration
	DBOperationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "provisioning_db_operation_duration_seconds",
			Help:    "Duration of database operations in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"}, // operation can be "query", "insert", "update", "delete"
	)
)

// Gauge metrics
var (
	// Pipelines currently executing
	InFlightRunsGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "provisioning_runs_in_flight",
			Help: "Number of provisioning pipelines currently executing",
		},
	)

	// Jobs waiting in the queue
	QueueDepthGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "provisioning_queue_depth",
			Help: "Number of provisioning jobs waiting in the queue",
		},
	)

	// System info
	InfoGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "provisioning_info",
			Help: "Information about the provisioning service",
		},
		[]string{"version"},
	)
)

func init() {
	// Register counters
	prometheus.MustRegister(ProvisioningStartedCounter)
	prometheus.MustRegister(ProvisioningCompletedCounter)
	prometheus.MustRegister(StepCounter)
	prometheus.MustRegister(RollbackCounter)
	prometheus.MustRegister(HTTPRequestCounter)
	prometheus.MustRegister(RequestErrorCounter)
	prometheus.MustRegister(TenantOperationCounter)

	// Register histograms
	prometheus.MustRegister(RequestDuration)
	prometheus.MustRegister(StepDuration)
	prometheus.MustRegister(DBOperationDuration)

	// Register gauges
	prometheus.MustRegister(InFlightRunsGauge)
	prometheus.MustRegister(QueueDepthGauge)
	prometheus.MustRegister(InfoGauge)

	// Set initial service info
	InfoGauge.With(prometheus.Labels{"version": "1.0.0"}).Set(1)
}

// GetPrometheusHandler returns an HTTP handler for the Prometheus metrics
func GetPrometheusHandler() http.Handler {
	return promhttp.Handler()
}

// TrackDBOperation measures database operation durations
func TrackDBOperation(operation string) func(time.Time) {
	startTime := time.Now()
	return func(endTime time.Time) {
		duration := time.Since(startTime).Seconds()
		DBOperationDuration.With(prometheus.Labels{
			"operation": operation,
		}).Observe(duration)
	}
}

// RecordStep records a step attempt with its outcome and duration
func RecordStep(step, status string, duration time.Duration) {
	StepCounter.With(prometheus.Labels{"step": step, "status": status}).Inc()
	StepDuration.With(prometheus.Labels{"step": step}).Observe(duration.Seconds())
}

// RecordRollback records a schema rollback attempt
func RecordRollback(ok bool) {
	outcome := "ok"
	if !ok {
		outcome = "error"
	}
	RollbackCounter.With(prometheus.Labels{"outcome": outcome}).Inc()
}

// RecordRequestError records a rejected or failed API request by type
func RecordRequestError(errorType string) {
	RequestErrorCounter.With(prometheus.Labels{"type": errorType}).Inc()
}

// RecordTenantOperation records a tenant operation
func RecordTenantOperation(operation string) {
	TenantOperationCounter.With(prometheus.Labels{"operation": operation}).Inc()
}

// MetricsMiddleware creates a middleware function that captures metrics for each request
func MetricsMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()

			// Execute the request handler
			err := next(c)

			// Record request duration
			duration := time.Since(start).Seconds()
			status := strconv.Itoa(c.Response().Status)
			endpoint := c.Path()
			method := c.Request().Method

			// Record metrics
			RequestDuration.With(prometheus.Labels{
				"endpoint": endpoint,
				"method":   method,
				"status":   status,
			}).Observe(duration)

			HTTPRequestCounter.With(prometheus.Labels{
				"endpoint": endpoint,
				"method":   method,
				"status":   status,
			}).Inc()

			return err
		}
	}
}
