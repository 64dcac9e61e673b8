package bridge

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/smazurov/vidcap/internal/events"
	"github.com/smazurov/vidcap/internal/pipeline"
	"github.com/smazurov/vidcap/internal/session"
	"github.com/smazurov/vidcap/pkg/linuxav/hotplug"
)

type recordingController struct {
	mu       sync.Mutex
	pipeline []pipeline.Event
	changes  []session.DeviceChange
	seen     chan struct{}
}

func newRecordingController() *recordingController {
	return &recordingController{seen: make(chan struct{}, 32)}
}

func (c *recordingController) HandlePipelineEvent(_ context.Context, ev pipeline.Event) error {
	c.mu.Lock()
	c.pipeline = append(c.pipeline, ev)
	c.mu.Unlock()
	c.seen <- struct{}{}
	return nil
}

func (c *recordingController) HandleDeviceChange(_ context.Context, ch session.DeviceChange) error {
	c.mu.Lock()
	c.changes = append(c.changes, ch)
	c.mu.Unlock()
	c.seen <- struct{}{}
	return session.ErrDeviceLost
}

func (c *recordingController) wait(t *testing.T, n int) {
	t.Helper()
	for range n {
		select {
		case <-c.seen:
		case <-time.After(2 * time.Second):
			t.Fatal("timeout waiting for controller call")
		}
	}
}

type fakeSource struct {
	events []hotplug.Event
}

func (s *fakeSource) Run(ctx context.Context, out chan<- hotplug.Event) error {
	defer close(out)
	for _, ev := range s.events {
		select {
		case out <- ev:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	<-ctx.Done()
	return ctx.Err()
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *recordingPublisher) Publish(ev events.Event) {
	p.mu.Lock()
	p.events = append(p.events, ev)
	p.mu.Unlock()
}

func TestAccept(t *testing.T) {
	tests := []struct {
		name string
		ev   hotplug.Event
		want session.DeviceChange
		ok   bool
	}{
		{
			name: "video add",
			ev:   hotplug.Event{Action: hotplug.ActionAdd, Subsystem: hotplug.SubsystemVideo4Linux, DevName: "video2"},
			want: session.DeviceChange{Action: session.DeviceArrived, Path: "/dev/video2"},
			ok:   true,
		},
		{
			name: "video remove",
			ev:   hotplug.Event{Action: hotplug.ActionRemove, Subsystem: hotplug.SubsystemVideo4Linux, DevName: "video2"},
			want: session.DeviceChange{Action: session.DeviceRemoved, Path: "/dev/video2"},
			ok:   true,
		},
		{name: "video change", ev: hotplug.Event{Action: hotplug.ActionChange, Subsystem: hotplug.SubsystemVideo4Linux}},
		{name: "usb add", ev: hotplug.Event{Action: hotplug.ActionAdd, Subsystem: hotplug.SubsystemUSB}},
		{name: "sound remove", ev: hotplug.Event{Action: hotplug.ActionRemove, Subsystem: hotplug.SubsystemSound}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Accept(tt.ev)
			if ok != tt.ok {
				t.Fatalf("Accept() ok = %v, want %v", ok, tt.ok)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("Accept() (-want +got):\n%s", diff)
			}
		})
	}
}

func TestBridgeDeliversEvents(t *testing.T) {
	ctrl := newRecordingController()
	pipelineEvents := make(chan pipeline.Event, 1)
	src := &fakeSource{events: []hotplug.Event{
		{Action: hotplug.ActionAdd, Subsystem: hotplug.SubsystemUSB, DevName: "bus/usb/001/004"},
		{Action: hotplug.ActionRemove, Subsystem: hotplug.SubsystemVideo4Linux, DevName: "video0"},
		{Action: hotplug.ActionBind, Subsystem: hotplug.SubsystemVideo4Linux, DevName: "video0"},
		{Action: hotplug.ActionAdd, Subsystem: hotplug.SubsystemVideo4Linux, DevName: "video0"},
	}}
	pub := &recordingPublisher{}

	b := New(ctrl, pipelineEvents, WithHotplug(src), WithPublisher(pub), WithSettleDelay(0))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- b.Run(ctx) }()

	pipelineEvents <- pipeline.Event{Kind: pipeline.EventErrorAbort, Code: 3, HandleID: "h1"}
	ctrl.wait(t, 3)

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run() did not return after cancel")
	}

	ctrl.mu.Lock()
	defer ctrl.mu.Unlock()
	wantChanges := []session.DeviceChange{
		{Action: session.DeviceRemoved, Path: "/dev/video0"},
		{Action: session.DeviceArrived, Path: "/dev/video0"},
	}
	if diff := cmp.Diff(wantChanges, ctrl.changes); diff != "" {
		t.Errorf("device changes (-want +got):\n%s", diff)
	}
	if len(ctrl.pipeline) != 1 || ctrl.pipeline[0].Code != 3 {
		t.Errorf("pipeline events = %+v", ctrl.pipeline)
	}

	pub.mu.Lock()
	defer pub.mu.Unlock()
	if len(pub.events) != 2 {
		t.Errorf("published %d hotplug events, want 2", len(pub.events))
	}
}

func TestBridgeWithoutHotplug(t *testing.T) {
	ctrl := newRecordingController()
	pipelineEvents := make(chan pipeline.Event)
	b := New(ctrl, pipelineEvents)

	done := make(chan error, 1)
	go func() { done <- b.Run(context.Background()) }()

	close(pipelineEvents)
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run() did not return after the event channel closed")
	}
}
