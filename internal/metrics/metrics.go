// Package metrics provides Prometheus metrics for relayd.
//
// Metrics are registered on the default registry at package init and
// exposed by the API server at /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Outcome label values for CommandsTotal.
const (
	OutcomeDelivered    = "delivered"
	OutcomeNotDelivered = "not_delivered"
	OutcomeError        = "error"
)

var (
	// CommandsTotal counts relay commands by command (on/off), mode
	// (single/batch) and outcome.
	CommandsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relayd_commands_total",
		Help: "Total number of relay commands sent, by outcome",
	}, []string{"command", "mode", "outcome"})

	// CommandDuration tracks how long a command waits for the radio's
	// transmit status.
	CommandDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "relayd_command_duration_seconds",
		Help:    "Duration from sending a command to its transmit status",
		Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	})

	// SamplesTotal counts IO samples by result (applied/ignored).
	SamplesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relayd_io_samples_total",
		Help: "Total number of IO samples received from the radio",
	}, []string{"result"})

	// StatusChangesTotal counts reconciled status changes by new status.
	StatusChangesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relayd_status_changes_total",
		Help: "Total number of relay status changes applied from IO samples",
	}, []string{"status"})

	// RelaysRegistered tracks the number of relays in the registry.
	RelaysRegistered = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "relayd_relays_registered",
		Help: "Number of relays currently registered",
	})

	// TransportConnected is 1 while the link to the local radio is up.
	TransportConnected = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "relayd_transport_connected",
		Help: "Whether the link to the local XBee radio is up (1) or down (0)",
	})

	// MQTTCommandsTotal counts commands received over MQTT by result.
	MQTTCommandsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relayd_mqtt_commands_total",
		Help: "Total number of relay commands received over MQTT",
	}, []string{"result"})

	// HTTPRequestsTotal counts API requests by method, route pattern and status code.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relayd_http_requests_total",
		Help: "Total number of HTTP API requests",
	}, []string{"method", "route", "code"})

	// HTTPRequestDuration tracks API request latency by route pattern.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "relayd_http_request_duration_seconds",
		Help:    "Duration of HTTP API requests in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})

	// InfluxDBWritesTotal tracks the total number of points written to InfluxDB.
	InfluxDBWritesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "relayd_influxdb_writes_total",
		Help: "Total number of points written to InfluxDB",
	})

	// InfluxDBWriteErrors tracks the number of failed InfluxDB writes.
	InfluxDBWriteErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "relayd_influxdb_write_errors_total",
		Help: "Total number of failed writes to InfluxDB",
	})
)
