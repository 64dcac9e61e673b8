// Package metrics provides Prometheus metrics for the capture session and
// its ffmpeg pipeline.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	pipelineFPS = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "vidcap",
		Subsystem: "pipeline",
		Name:      "fps",
		Help:      "Current pipeline frame rate reported by ffmpeg",
	}, []string{"device_id"})

	pipelineDroppedFrames = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "vidcap",
		Subsystem: "pipeline",
		Name:      "dropped_frames_total",
		Help:      "Frames dropped by the running pipeline",
	}, []string{"device_id"})

	pipelineDuplicateFrames = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "vidcap",
		Subsystem: "pipeline",
		Name:      "duplicate_frames_total",
		Help:      "Frames duplicated by the running pipeline",
	}, []string{"device_id"})

	pipelineSpeed = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "vidcap",
		Subsystem: "pipeline",
		Name:      "processing_speed",
		Help:      "Pipeline processing speed multiplier",
	}, []string{"device_id"})

	framesGrabbed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "vidcap",
		Subsystem: "pipeline",
		Name:      "frames_grabbed_total",
		Help:      "Frames delivered to the sample grabber",
	})

	// Local cache for SSE exporter access.
	pipelineCache   = make(map[string]*PipelineMetrics)
	pipelineCacheMu sync.RWMutex
)

// PipelineMetrics holds current progress values for one device's pipeline.
type PipelineMetrics struct {
	FPS             float64
	DroppedFrames   float64
	DuplicateFrames float64
	Speed           float64
}

func SetPipelineFPS(deviceID string, fps float64) {
	pipelineFPS.WithLabelValues(deviceID).Set(fps)
	updateCache(deviceID, func(m *PipelineMetrics) { m.FPS = fps })
}

func SetPipelineDroppedFrames(deviceID string, count float64) {
	pipelineDroppedFrames.WithLabelValues(deviceID).Set(count)
	updateCache(deviceID, func(m *PipelineMetrics) { m.DroppedFrames = count })
}

func SetPipelineDuplicateFrames(deviceID string, count float64) {
	pipelineDuplicateFrames.WithLabelValues(deviceID).Set(count)
	updateCache(deviceID, func(m *PipelineMetrics) { m.DuplicateFrames = count })
}

func SetPipelineSpeed(deviceID string, speed float64) {
	pipelineSpeed.WithLabelValues(deviceID).Set(speed)
	updateCache(deviceID, func(m *PipelineMetrics) { m.Speed = speed })
}

// IncFramesGrabbed counts one frame reaching the sample grabber.
func IncFramesGrabbed() {
	framesGrabbed.Inc()
}

// DeletePipelineMetrics removes all progress metrics for a device.
func DeletePipelineMetrics(deviceID string) {
	pipelineFPS.DeleteLabelValues(deviceID)
	pipelineDroppedFrames.DeleteLabelValues(deviceID)
	pipelineDuplicateFrames.DeleteLabelValues(deviceID)
	pipelineSpeed.DeleteLabelValues(deviceID)

	pipelineCacheMu.Lock()
	delete(pipelineCache, deviceID)
	pipelineCacheMu.Unlock()
}

// GetPipelineMetrics returns a copy of the current values for a device.
func GetPipelineMetrics(deviceID string) *PipelineMetrics {
	pipelineCacheMu.RLock()
	defer pipelineCacheMu.RUnlock()
	if m, ok := pipelineCache[deviceID]; ok {
		dup := *m
		return &dup
	}
	return nil
}

// GetAllPipelineMetrics returns copies of the values for every device.
func GetAllPipelineMetrics() map[string]*PipelineMetrics {
	pipelineCacheMu.RLock()
	defer pipelineCacheMu.RUnlock()
	result := make(map[string]*PipelineMetrics, len(pipelineCache))
	for id, m := range pipelineCache {
		dup := *m
		result[id] = &dup
	}
	return result
}

func updateCache(deviceID string, update func(*PipelineMetrics)) {
	pipelineCacheMu.Lock()
	defer pipelineCacheMu.Unlock()
	m, ok := pipelineCache[deviceID]
	if !ok {
		m = &PipelineMetrics{}
		pipelineCache[deviceID] = m
	}
	update(m)
}
