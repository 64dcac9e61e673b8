package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// SessionStates are the values the state gauge is labelled with.
var SessionStates = []string{"idle", "graph_built", "previewing"}

var (
	sessionState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "vidcap",
		Subsystem: "session",
		Name:      "state",
		Help:      "1 for the current capture session state, 0 otherwise",
	}, []string{"state"})

	sessionTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "vidcap",
		Subsystem: "session",
		Name:      "transitions_total",
		Help:      "Capture session state transitions",
	}, []string{"from", "to"})

	pipelineEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "vidcap",
		Subsystem: "session",
		Name:      "pipeline_events_total",
		Help:      "Runtime events reported by the pipeline",
	}, []string{"kind"})

	devicesAvailable = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "vidcap",
		Subsystem: "devices",
		Name:      "available",
		Help:      "Capture devices in the last enumeration",
	})
)

// SetSessionState marks state as current.
func SetSessionState(state string) {
	for _, s := range SessionStates {
		v := 0.0
		if s == state {
			v = 1
		}
		sessionState.WithLabelValues(s).Set(v)
	}
}

func IncSessionTransition(from, to string) {
	sessionTransitions.WithLabelValues(from, to).Inc()
}

// IncPipelineEvent counts a runtime event by kind.
func IncPipelineEvent(kind string) {
	pipelineEvents.WithLabelValues(kind).Inc()
}

func SetDevicesAvailable(n int) {
	devicesAvailable.Set(float64(n))
}
