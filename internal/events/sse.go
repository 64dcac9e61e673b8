package events

import "github.com/kelindar/event"

// SubscribeToChannel forwards events of type T into ch for select-loop
// consumers such as SSE handlers. Events are dropped when ch is full.
func SubscribeToChannel[T Event](bus *Bus, ch chan<- any) func() {
	return event.Subscribe(bus.dispatcher, func(e T) {
		select {
		case ch <- e:
		default:
		}
	})
}

// SubscribeAll forwards every event type into ch and returns one func that
// unsubscribes them all.
func SubscribeAll(bus *Bus, ch chan<- any) func() {
	unsubs := []func(){
		SubscribeToChannel[DeviceListChangedEvent](bus, ch),
		SubscribeToChannel[DeviceHotplugEvent](bus, ch),
		SubscribeToChannel[SessionStateChangedEvent](bus, ch),
		SubscribeToChannel[PipelineErrorEvent](bus, ch),
		SubscribeToChannel[DeviceLostEvent](bus, ch),
		SubscribeToChannel[DisplaySizeChangedEvent](bus, ch),
		SubscribeToChannel[PipelineMetricsEvent](bus, ch),
	}
	return func() {
		for _, u := range unsubs {
			u()
		}
	}
}
