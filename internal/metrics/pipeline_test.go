package metrics

import (
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestPipelineMetricsCache(t *testing.T) {
	deviceID := "test-device-1"
	DeletePipelineMetrics(deviceID)

	if m := GetPipelineMetrics(deviceID); m != nil {
		t.Error("expected nil for unknown device")
	}

	SetPipelineFPS(deviceID, 30.0)
	SetPipelineDroppedFrames(deviceID, 5)
	SetPipelineDuplicateFrames(deviceID, 2)
	SetPipelineSpeed(deviceID, 1.5)

	m := GetPipelineMetrics(deviceID)
	if m == nil {
		t.Fatal("expected non-nil metrics")
	}
	if m.FPS != 30.0 || m.DroppedFrames != 5 || m.DuplicateFrames != 2 || m.Speed != 1.5 {
		t.Errorf("metrics = %+v", *m)
	}
	if got := testutil.ToFloat64(pipelineFPS.WithLabelValues(deviceID)); got != 30.0 {
		t.Errorf("fps gauge = %v, want 30", got)
	}

	// Returned copy is independent
	m.FPS = 999
	if m2 := GetPipelineMetrics(deviceID); m2.FPS != 30.0 {
		t.Errorf("cache was modified, FPS = %v", m2.FPS)
	}

	DeletePipelineMetrics(deviceID)
	if GetPipelineMetrics(deviceID) != nil {
		t.Error("expected nil after delete")
	}
}

func TestGetAllPipelineMetrics(t *testing.T) {
	DeletePipelineMetrics("device-a")
	DeletePipelineMetrics("device-b")
	defer DeletePipelineMetrics("device-a")
	defer DeletePipelineMetrics("device-b")

	SetPipelineFPS("device-a", 25)
	SetPipelineFPS("device-b", 60)

	all := GetAllPipelineMetrics()
	if all["device-a"] == nil || all["device-a"].FPS != 25 {
		t.Errorf("device-a = %+v", all["device-a"])
	}
	if all["device-b"] == nil || all["device-b"].FPS != 60 {
		t.Errorf("device-b = %+v", all["device-b"])
	}
}

func TestPipelineMetricsConcurrentAccess(t *testing.T) {
	deviceID := "concurrent-device"
	defer DeletePipelineMetrics(deviceID)

	var wg sync.WaitGroup
	for i := range 10 {
		wg.Add(2)
		go func(v float64) {
			defer wg.Done()
			SetPipelineFPS(deviceID, v)
		}(float64(i))
		go func() {
			defer wg.Done()
			_ = GetPipelineMetrics(deviceID)
			_ = GetAllPipelineMetrics()
		}()
	}
	wg.Wait()
}

func TestFramesGrabbed(t *testing.T) {
	before := testutil.ToFloat64(framesGrabbed)
	IncFramesGrabbed()
	IncFramesGrabbed()
	if got := testutil.ToFloat64(framesGrabbed) - before; got != 2 {
		t.Errorf("frames grabbed delta = %v, want 2", got)
	}
}
