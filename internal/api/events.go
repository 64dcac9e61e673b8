package api

import (
	"context"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/sse"

	"github.com/smazurov/vidcap/internal/events"
)

// registerSSERoutes registers the native Huma SSE endpoint.
func (s *Server) registerSSERoutes() {
	sse.Register(s.api, huma.Operation{
		OperationID: "events-stream",
		Method:      http.MethodGet,
		Path:        "/api/events",
		Summary:     "Server-Sent Events Stream",
		Description: "Real-time session notifications, device changes and pipeline metrics",
		Tags:        []string{"events"},
		Security:    withAuth(),
		Errors:      []int{401},
	}, map[string]any{
		"device-list-changed":   events.DeviceListChangedEvent{},
		"device-hotplug":        events.DeviceHotplugEvent{},
		"session-state-changed": events.SessionStateChangedEvent{},
		"pipeline-error":        events.PipelineErrorEvent{},
		"device-lost":           events.DeviceLostEvent{},
		"display-size-changed":  events.DisplaySizeChangedEvent{},
		"pipeline-metrics":      events.PipelineMetricsEvent{},
	}, func(ctx context.Context, _ *struct{}, send sse.Sender) {
		if s.eventBus == nil {
			return
		}
		eventCh := make(chan any, 32)
		unsubscribe := events.SubscribeAll(s.eventBus, eventCh)
		defer unsubscribe()

		// Current state first, so clients need no separate fetch.
		st := s.session.Status()
		deviceID := ""
		if st.Device != nil {
			deviceID = st.Device.ID
		}
		if err := send.Data(events.SessionStateChangedEvent{
			From:      string(st.State),
			To:        string(st.State),
			DeviceID:  deviceID,
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		}); err != nil {
			return
		}

		for {
			select {
			case <-ctx.Done():
				return
			case event := <-eventCh:
				if err := send.Data(event); err != nil {
					return
				}
			}
		}
	})
}
