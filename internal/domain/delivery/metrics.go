package delivery

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var allStates = []ConnectionState{
	StateUninitialized, StateConnecting, StateConnected, StateDisconnected, StateExhaustedRetries,
}

var allMethods = []Method{MethodSimulation, MethodSession, MethodTemplated, MethodTeam}

// Prometheus metrics for the relay
var (
	// deliveriesTotal counts send attempts by method and outcome
	deliveriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orderrelay_deliveries_total",
			Help: "Total number of delivery attempts",
		},
		[]string{"method", "result"}, // result: success|<error kind>
	)

	deliveryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "orderrelay_delivery_duration_seconds",
			Help:    "Delivery attempt duration in seconds",
			Buckets: []float64{0.01, 0.1, 0.5, 1, 5, 15, 30},
		},
		[]string{"method"},
	)

	redeliveriesEnqueued = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "orderrelay_redeliveries_enqueued_total",
			Help: "Total number of failed deliveries handed to the redelivery queue",
		},
	)

	// connectionState is 1 for the current session state and 0 for the others
	connectionState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "orderrelay_session_state",
			Help: "Current session connection state",
		},
		[]string{"state"},
	)

	activeMethod = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "orderrelay_active_method",
			Help: "Currently active delivery method",
		},
		[]string{"method"},
	)
)

func observeDelivery(o Outcome, elapsed time.Duration) {
	result := "success"
	if !o.Success {
		result = o.Error
	}
	deliveriesTotal.WithLabelValues(string(o.Method), result).Inc()
	deliveryDuration.WithLabelValues(string(o.Method)).Observe(elapsed.Seconds())
}

func observeConnectionState(s ConnectionState) {
	for _, st := range allStates {
		v := 0.0
		if st == s {
			v = 1
		}
		connectionState.WithLabelValues(string(st)).Set(v)
	}
}

func observeActiveMethod(m Method) {
	for _, am := range allMethods {
		v := 0.0
		if am == m {
			v = 1
		}
		activeMethod.WithLabelValues(string(am)).Set(v)
	}
}
