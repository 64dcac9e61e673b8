package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestSetSessionState(t *testing.T) {
	SetSessionState("previewing")

	for _, s := range SessionStates {
		want := 0.0
		if s == "previewing" {
			want = 1
		}
		if got := testutil.ToFloat64(sessionState.WithLabelValues(s)); got != want {
			t.Errorf("state %s = %v, want %v", s, got, want)
		}
	}

	SetSessionState("idle")
	if got := testutil.ToFloat64(sessionState.WithLabelValues("previewing")); got != 0 {
		t.Errorf("previewing after idle = %v, want 0", got)
	}
}

func TestSessionCounters(t *testing.T) {
	tr := sessionTransitions.WithLabelValues("idle", "graph_built")
	before := testutil.ToFloat64(tr)
	IncSessionTransition("idle", "graph_built")
	if got := testutil.ToFloat64(tr) - before; got != 1 {
		t.Errorf("transition delta = %v, want 1", got)
	}

	ev := pipelineEvents.WithLabelValues("device_lost")
	before = testutil.ToFloat64(ev)
	IncPipelineEvent("device_lost")
	if got := testutil.ToFloat64(ev) - before; got != 1 {
		t.Errorf("pipeline event delta = %v, want 1", got)
	}

	SetDevicesAvailable(3)
	if got := testutil.ToFloat64(devicesAvailable); got != 3 {
		t.Errorf("devices available = %v, want 3", got)
	}
}
