package session

import (
	"time"

	"github.com/smazurov/vidcap/internal/devices"
	"github.com/smazurov/vidcap/internal/events"
	"github.com/smazurov/vidcap/internal/media"
)

// DeviceLostMessage is the user-facing text raised on device loss.
const DeviceLostMessage = "Stopping Capture (Device Lost). Select New Capture Device"

// Notifier receives controller notifications. Calls happen after the
// operation that raised them has finished, so implementations may call back
// into the controller.
type Notifier interface {
	DeviceListChanged(list []devices.Descriptor)
	PipelineError(deviceID string, err *Error, recovered bool)
	DeviceLost(device devices.Descriptor, message string, recovered bool)
	StateChanged(from, to State, deviceID string)
	DisplaySizeChanged(deviceID string, size media.Size)
}

// BusNotifier publishes notifications on the event bus.
type BusNotifier struct {
	bus *events.Bus
}

func NewBusNotifier(bus *events.Bus) *BusNotifier {
	return &BusNotifier{bus: bus}
}

func timestamp() string {
	return time.Now().UTC().Format(time.RFC3339)
}

// Summaries converts descriptors to their event form.
func Summaries(list []devices.Descriptor) []events.DeviceSummary {
	out := make([]events.DeviceSummary, 0, len(list))
	for _, d := range list {
		out = append(out, events.DeviceSummary{ID: d.ID, Name: d.Name, Path: d.Path})
	}
	return out
}

func (n *BusNotifier) DeviceListChanged(list []devices.Descriptor) {
	n.bus.Publish(events.DeviceListChangedEvent{Devices: Summaries(list), Timestamp: timestamp()})
}

func (n *BusNotifier) PipelineError(deviceID string, err *Error, recovered bool) {
	n.bus.Publish(events.PipelineErrorEvent{
		Code:      err.Code,
		Message:   err.Error(),
		DeviceID:  deviceID,
		Recovered: recovered,
		Timestamp: timestamp(),
	})
}

func (n *BusNotifier) DeviceLost(d devices.Descriptor, message string, recovered bool) {
	n.bus.Publish(events.DeviceLostEvent{
		DeviceID:   d.ID,
		DeviceName: d.Name,
		Message:    message,
		Recovered:  recovered,
		Timestamp:  timestamp(),
	})
}

func (n *BusNotifier) StateChanged(from, to State, deviceID string) {
	n.bus.Publish(events.SessionStateChangedEvent{
		From:      string(from),
		To:        string(to),
		DeviceID:  deviceID,
		Timestamp: timestamp(),
	})
}

func (n *BusNotifier) DisplaySizeChanged(deviceID string, size media.Size) {
	n.bus.Publish(events.DisplaySizeChangedEvent{
		DeviceID:  deviceID,
		Width:     size.Width,
		Height:    size.Height,
		Timestamp: timestamp(),
	})
}

// Notifiers fans every notification out to each member in order.
type Notifiers []Notifier

func (ns Notifiers) DeviceListChanged(list []devices.Descriptor) {
	for _, n := range ns {
		n.DeviceListChanged(list)
	}
}

func (ns Notifiers) PipelineError(deviceID string, err *Error, recovered bool) {
	for _, n := range ns {
		n.PipelineError(deviceID, err, recovered)
	}
}

func (ns Notifiers) DeviceLost(d devices.Descriptor, message string, recovered bool) {
	for _, n := range ns {
		n.DeviceLost(d, message, recovered)
	}
}

func (ns Notifiers) StateChanged(from, to State, deviceID string) {
	for _, n := range ns {
		n.StateChanged(from, to, deviceID)
	}
}

func (ns Notifiers) DisplaySizeChanged(deviceID string, size media.Size) {
	for _, n := range ns {
		n.DisplaySizeChanged(deviceID, size)
	}
}

type nopNotifier struct{}

func (nopNotifier) DeviceListChanged([]devices.Descriptor)      {}
func (nopNotifier) PipelineError(string, *Error, bool)          {}
func (nopNotifier) DeviceLost(devices.Descriptor, string, bool) {}
func (nopNotifier) StateChanged(State, State, string)           {}
func (nopNotifier) DisplaySizeChanged(string, media.Size)       {}
