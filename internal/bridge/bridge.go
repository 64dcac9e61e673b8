// Package bridge marshals pipeline runtime events and OS device changes into
// the session controller.
package bridge

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/smazurov/vidcap/internal/events"
	"github.com/smazurov/vidcap/internal/logging"
	"github.com/smazurov/vidcap/internal/pipeline"
	"github.com/smazurov/vidcap/internal/session"
	"github.com/smazurov/vidcap/pkg/linuxav/hotplug"
)

// Controller is the part of the session controller the bridge drives.
type Controller interface {
	HandlePipelineEvent(ctx context.Context, ev pipeline.Event) error
	HandleDeviceChange(ctx context.Context, ch session.DeviceChange) error
}

// HotplugSource produces raw uevents until ctx ends, closing out when done.
type HotplugSource interface {
	Run(ctx context.Context, out chan<- hotplug.Event) error
}

// Publisher receives a DeviceHotplugEvent for every accepted OS change.
type Publisher interface {
	Publish(ev events.Event)
}

// Bridge runs the event loops. Build it with New.
type Bridge struct {
	ctrl      Controller
	pipeline  <-chan pipeline.Event
	hotplug   HotplugSource
	publisher Publisher
	settle    time.Duration
	logger    *slog.Logger
}

// Option configures a Bridge.
type Option func(*Bridge)

// WithHotplug enables OS device events from src.
func WithHotplug(src HotplugSource) Option {
	return func(b *Bridge) { b.hotplug = src }
}

func WithPublisher(p Publisher) Option {
	return func(b *Bridge) { b.publisher = p }
}

// WithSettleDelay waits d after an arrival before re-enumerating, giving
// udev time to create the /dev/v4l/by-id links stable IDs come from.
func WithSettleDelay(d time.Duration) Option {
	return func(b *Bridge) { b.settle = d }
}

func New(ctrl Controller, pipelineEvents <-chan pipeline.Event, opts ...Option) *Bridge {
	b := &Bridge{
		ctrl:     ctrl,
		pipeline: pipelineEvents,
		settle:   time.Second,
		logger:   logging.GetLogger("bridge"),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Accept converts a uevent to a controller device change. Anything outside
// the video4linux subsystem, and actions other than add and remove, are
// dropped.
func Accept(ev hotplug.Event) (session.DeviceChange, bool) {
	if ev.Subsystem != hotplug.SubsystemVideo4Linux {
		return session.DeviceChange{}, false
	}
	switch ev.Action {
	case hotplug.ActionAdd:
		return session.DeviceChange{Action: session.DeviceArrived, Path: ev.DevicePath()}, true
	case hotplug.ActionRemove:
		return session.DeviceChange{Action: session.DeviceRemoved, Path: ev.DevicePath()}, true
	default:
		return session.DeviceChange{}, false
	}
}

// Run blocks until ctx ends. A failing hotplug source is logged and the
// bridge carries on with pipeline events only.
func (b *Bridge) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		b.pipelineLoop(gctx)
		return nil
	})

	if b.hotplug != nil {
		raw := make(chan hotplug.Event, 16)
		g.Go(func() error {
			if err := b.hotplug.Run(gctx, raw); err != nil && !errors.Is(err, context.Canceled) {
				b.logger.Warn("Hotplug monitor stopped", "error", err)
			}
			return nil
		})
		g.Go(func() error {
			b.hotplugLoop(gctx, raw)
			return nil
		})
	}

	return g.Wait()
}

func (b *Bridge) pipelineLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-b.pipeline:
			if !ok {
				return
			}
			b.logger.Debug("Pipeline event", "kind", ev.Kind, "code", ev.Code, "handle", ev.HandleID)
			if err := b.ctrl.HandlePipelineEvent(ctx, ev); err != nil {
				b.logger.Warn("Pipeline event handled with error", "kind", ev.Kind, "error", err)
			}
		}
	}
}

func (b *Bridge) hotplugLoop(ctx context.Context, raw <-chan hotplug.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-raw:
			if !ok {
				return
			}
			ch, accepted := Accept(ev)
			if !accepted {
				continue
			}
			b.logger.Info("Capture device change", "action", ch.Action, "path", ch.Path)
			if b.publisher != nil {
				b.publisher.Publish(events.DeviceHotplugEvent{
					Action:     string(ch.Action),
					DevicePath: ch.Path,
					Timestamp:  time.Now().UTC().Format(time.RFC3339),
				})
			}
			if ch.Action == session.DeviceArrived && b.settle > 0 {
				select {
				case <-time.After(b.settle):
				case <-ctx.Done():
					return
				}
			}
			if err := b.ctrl.HandleDeviceChange(ctx, ch); err != nil {
				b.logger.Warn("Device change handled with error", "action", ch.Action, "error", err)
			}
		}
	}
}
