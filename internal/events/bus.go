package events

import (
	"github.com/kelindar/event"
)

// Bus wraps a kelindar/event dispatcher. Each subscriber receives events on
// its own goroutine, in publish order.
type Bus struct {
	dispatcher *event.Dispatcher
}

func New() *Bus {
	return &Bus{dispatcher: event.NewDispatcher()}
}

// Publish publishes ev to every subscriber of its concrete type.
func (b *Bus) Publish(ev Event) {
	switch e := ev.(type) {
	case DeviceListChangedEvent:
		event.Publish(b.dispatcher, e)
	case DeviceHotplugEvent:
		event.Publish(b.dispatcher, e)
	case SessionStateChangedEvent:
		event.Publish(b.dispatcher, e)
	case PipelineErrorEvent:
		event.Publish(b.dispatcher, e)
	case DeviceLostEvent:
		event.Publish(b.dispatcher, e)
	case DisplaySizeChangedEvent:
		event.Publish(b.dispatcher, e)
	case PipelineMetricsEvent:
		event.Publish(b.dispatcher, e)
	}
}

// Subscribe registers handler, whose parameter type selects the events it
// receives, and returns the unsubscribe func. Unknown handler shapes get a
// no-op unsubscribe.
//
//	unsub := bus.Subscribe(func(e DeviceLostEvent) { ... })
//	defer unsub()
func (b *Bus) Subscribe(handler any) func() {
	switch h := handler.(type) {
	case func(DeviceListChangedEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(DeviceHotplugEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(SessionStateChangedEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(PipelineErrorEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(DeviceLostEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(DisplaySizeChangedEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(PipelineMetricsEvent):
		return event.Subscribe(b.dispatcher, h)
	default:
		return func() {}
	}
}
