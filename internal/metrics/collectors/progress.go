// Package collectors turns pipeline output into metrics.
package collectors

import (
	"strconv"
	"strings"
	"sync"

	"github.com/smazurov/vidcap/internal/metrics"
)

// progressKeys are the fields ffmpeg writes with -progress.
var progressKeys = map[string]bool{
	"frame": true, "fps": true, "bitrate": true, "total_size": true,
	"out_time_us": true, "out_time_ms": true, "out_time": true,
	"dup_frames": true, "drop_frames": true, "speed": true, "progress": true,
	"stream_0_0_q": true,
}

// IsProgressLine reports whether line is one key=value line of an ffmpeg
// -progress block.
func IsProgressLine(line string) bool {
	key, value, ok := strings.Cut(strings.TrimSpace(line), "=")
	return ok && progressKeys[key] && !strings.Contains(strings.TrimSpace(value), " ")
}

// Progress accumulates ffmpeg -progress blocks for one device and publishes
// each completed block.
type Progress struct {
	deviceID string

	mu   sync.Mutex
	data map[string]string
}

func NewProgress(deviceID string) *Progress {
	return &Progress{deviceID: deviceID, data: make(map[string]string)}
}

// HandleLine consumes one line of pipeline output. Lines that are not
// progress fields are ignored.
func (p *Progress) HandleLine(line string) {
	line = strings.TrimSpace(line)
	if !IsProgressLine(line) {
		return
	}
	key, value, _ := strings.Cut(line, "=")

	p.mu.Lock()
	p.data[key] = strings.TrimSpace(value)
	if key != "progress" {
		p.mu.Unlock()
		return
	}
	block := p.data
	p.data = make(map[string]string)
	p.mu.Unlock()

	p.publish(block)
}

func (p *Progress) publish(data map[string]string) {
	if fps, err := strconv.ParseFloat(data["fps"], 64); err == nil {
		metrics.SetPipelineFPS(p.deviceID, fps)
	}
	if dropped, err := strconv.ParseFloat(data["drop_frames"], 64); err == nil {
		metrics.SetPipelineDroppedFrames(p.deviceID, dropped)
	}
	if dup, err := strconv.ParseFloat(data["dup_frames"], 64); err == nil {
		metrics.SetPipelineDuplicateFrames(p.deviceID, dup)
	}
	speed := strings.TrimSuffix(data["speed"], "x")
	if v, err := strconv.ParseFloat(strings.TrimSpace(speed), 64); err == nil {
		metrics.SetPipelineSpeed(p.deviceID, v)
	}
}

// Stop removes the device's metrics.
func (p *Progress) Stop() {
	metrics.DeletePipelineMetrics(p.deviceID)
}
