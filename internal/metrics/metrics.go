package metrics

import (
	"errors"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "trunkwatch"

// Package-level Prometheus collectors. They are registered via Register.
var (
	regOK atomic.Bool

	decoderStarts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "decoder",
			Name:      "starts_total",
			Help:      "Number of successful decoder starts.",
		},
	)
	decoderCrashes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "decoder",
			Name:      "crashes_total",
			Help:      "Number of unexpected decoder exits or failed health checks.",
		}, []string{"reason"},
	)
	decoderRestarts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "decoder",
			Name:      "restarts_total",
			Help:      "Number of automatic restarts scheduled.",
		},
	)
	decoderStops = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "decoder",
			Name:      "stops_total",
			Help:      "Number of stops (graceful or kill).",
		},
	)
	decoderStartDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "decoder",
			Name:      "start_duration_seconds",
			Help:      "Time from launch until the liveness probe succeeded.",
			Buckets:   prometheus.DefBuckets,
		},
	)
	stateTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "decoder",
			Name:      "state_transitions_total",
			Help:      "Number of transitions between decoder process states.",
		}, []string{"from", "to"},
	)
	currentState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "decoder",
			Name:      "current_state",
			Help:      "Current decoder process state (1 = active state, 0 = inactive).",
		}, []string{"state"},
	)
	decoderCPU = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "decoder",
			Name:      "cpu_percent",
			Help:      "Decoder CPU usage percent at the last sample.",
		},
	)
	decoderRSS = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "decoder",
			Name:      "rss_bytes",
			Help:      "Decoder resident memory at the last sample.",
		},
	)

	telemetryPolls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "telemetry",
			Name:      "polls_total",
			Help:      "Telemetry polls by result (ok, network, status, malformed).",
		}, []string{"result"},
	)
	telemetryFailures = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "telemetry",
			Name:      "consecutive_failures",
			Help:      "Current run of consecutive failed polls.",
		},
	)
	telemetryConnection = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "telemetry",
			Name:      "connection_state",
			Help:      "Current telemetry connection state (1 = active state, 0 = inactive).",
		}, []string{"state"},
	)
	commandsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "coordinator",
			Name:      "commands_total",
			Help:      "Operator commands by name and outcome (queued, rejected).",
		}, []string{"command", "outcome"},
	)
)

func collectors() []prometheus.Collector {
	return []prometheus.Collector{
		decoderStarts, decoderCrashes, decoderRestarts, decoderStops, decoderStartDuration,
		stateTransitions, currentState, decoderCPU, decoderRSS,
		telemetryPolls, telemetryFailures, telemetryConnection, commandsTotal,
	}
}

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	for _, c := range collectors() {
		if err := r.Register(c); err != nil {
			// already registered with this registerer: keep the existing one
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	regOK.Store(true)
	return nil
}

// Handler returns an http.Handler that serves Prometheus metrics for the DefaultGatherer.
// The caller is responsible for starting an HTTP server and wiring the route.
func Handler() http.Handler { return promhttp.Handler() }

// Below are lightweight helpers used by internal packages to record metrics.
// They no-op if Register hasn't been called.

func IncStart() {
	if regOK.Load() {
		decoderStarts.Inc()
	}
}

func IncCrash(reason string) {
	if regOK.Load() {
		decoderCrashes.WithLabelValues(reason).Inc()
	}
}

func IncRestart() {
	if regOK.Load() {
		decoderRestarts.Inc()
	}
}

func IncStop() {
	if regOK.Load() {
		decoderStops.Inc()
	}
}

func ObserveStartDuration(seconds float64) {
	if regOK.Load() {
		decoderStartDuration.Observe(seconds)
	}
}

// RecordStateTransition counts the transition and moves the current-state gauge.
func RecordStateTransition(from, to string) {
	if !regOK.Load() {
		return
	}
	stateTransitions.WithLabelValues(from, to).Inc()
	currentState.WithLabelValues(from).Set(0)
	currentState.WithLabelValues(to).Set(1)
}

func SetDecoderUsage(cpuPercent float64, rssBytes uint64) {
	if regOK.Load() {
		decoderCPU.Set(cpuPercent)
		decoderRSS.Set(float64(rssBytes))
	}
}

func IncPoll(result string) {
	if regOK.Load() {
		telemetryPolls.WithLabelValues(result).Inc()
	}
}

func SetConsecutiveFailures(n int) {
	if regOK.Load() {
		telemetryFailures.Set(float64(n))
	}
}

func SetConnectionState(from, to string) {
	if !regOK.Load() {
		return
	}
	if from != "" {
		telemetryConnection.WithLabelValues(from).Set(0)
	}
	telemetryConnection.WithLabelValues(to).Set(1)
}

func IncCommand(command, outcome string) {
	if regOK.Load() {
		commandsTotal.WithLabelValues(command, outcome).Inc()
	}
}
