package exporters

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/smazurov/vidcap/internal/events"
	"github.com/smazurov/vidcap/internal/metrics"
)

// EventPublisher is the part of the event bus the exporter needs.
type EventPublisher interface {
	Publish(ev events.Event)
}

// SSEExporter periodically publishes pipeline progress on the event bus,
// from where the SSE endpoint forwards it.
type SSEExporter struct {
	eventBus EventPublisher
	interval time.Duration
	mu       sync.Mutex
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

func NewSSEExporter(eventBus EventPublisher) *SSEExporter {
	return &SSEExporter{
		eventBus: eventBus,
		interval: 1 * time.Second,
	}
}

// Start begins the export loop. It runs until ctx ends or Stop is called.
func (s *SSEExporter) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.wg.Add(1)
	go s.run(ctx)
}

// Stop ends the loop and waits for it. Safe to call more than once.
func (s *SSEExporter) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	s.wg.Wait()
}

func (s *SSEExporter) run(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.publishMetrics()
		}
	}
}

func (s *SSEExporter) publishMetrics() {
	for deviceID, m := range metrics.GetAllPipelineMetrics() {
		s.eventBus.Publish(events.PipelineMetricsEvent{
			DeviceID:        deviceID,
			FPS:             strconv.FormatFloat(m.FPS, 'f', 2, 64),
			DroppedFrames:   strconv.FormatFloat(m.DroppedFrames, 'f', 0, 64),
			DuplicateFrames: strconv.FormatFloat(m.DuplicateFrames, 'f', 0, 64),
			Speed:           strconv.FormatFloat(m.Speed, 'f', 2, 64),
		})
	}
}
