// Package pipeline turns a bound capture device into a running preview
// pipeline and reports how that pipeline ends.
package pipeline

import (
	"context"
	"errors"

	"github.com/smazurov/vidcap/internal/devices"
	"github.com/smazurov/vidcap/internal/media"
)

// EventKind classifies why a running pipeline stopped on its own.
type EventKind string

const (
	// EventComplete means the input reached its end.
	EventComplete EventKind = "complete"
	// EventUserAbort means something outside the controller interrupted the pipeline.
	EventUserAbort EventKind = "user_abort"
	// EventErrorAbort means the pipeline failed while running.
	EventErrorAbort EventKind = "error_abort"
	// EventDeviceLost means the capture device went away underneath the pipeline.
	EventDeviceLost EventKind = "device_lost"
)

// Event is a runtime notification from a running pipeline. Stops requested
// through Stop never produce one.
type Event struct {
	Kind     EventKind
	Code     int
	HandleID string
	Message  string
}

var (
	// ErrUnsupportedFormat is returned by Render and Configure when the device
	// cannot deliver the requested format.
	ErrUnsupportedFormat = errors.New("unsupported capture format")
	// ErrHandleActive is returned by Render while another pipeline exists.
	ErrHandleActive = errors.New("a pipeline is already built")
	// ErrUnknownHandle is returned for handles that were torn down.
	ErrUnknownHandle = errors.New("unknown pipeline handle")
	// ErrNotConfigurable is returned by Configure for devices without a
	// settable stream format.
	ErrNotConfigurable = errors.New("device format is not configurable")
)

// DeviceFilter is the framework's object for a bound device. It outlives
// any pipeline built from it, and its format is kept across rebuilds.
type DeviceFilter struct {
	ID     string
	Device devices.Descriptor
	Caps   devices.Capabilities

	format media.Format
}

// NewDeviceFilter returns a filter for d holding the format caps reported.
func NewDeviceFilter(id string, d devices.Descriptor, caps devices.Capabilities) *DeviceFilter {
	return &DeviceFilter{ID: id, Device: d, Caps: caps, format: caps.Format}
}

// Handle refers to a built downstream pipeline.
type Handle struct {
	ID string
}

// IsZero reports whether h refers to nothing.
func (h Handle) IsZero() bool { return h.ID == "" }

// Framework is what the session controller drives.
type Framework interface {
	// Open creates the device filter for d, with any tuner or crossbar
	// stages upstream of it.
	Open(ctx context.Context, d devices.Descriptor, caps devices.Capabilities) (*DeviceFilter, error)
	// Configure changes the capture format the device filter will use on
	// the next Render.
	Configure(df *DeviceFilter, req media.FormatRequest) error
	// CurrentFormat is the format the device filter is set to deliver.
	CurrentFormat(df *DeviceFilter) (media.Format, error)
	// Render builds the preview branch downstream of df.
	Render(ctx context.Context, df *DeviceFilter) (Handle, error)
	// Run starts the pipeline. On failure anything that started is stopped.
	Run(ctx context.Context, h Handle) error
	// Stop halts a running pipeline and waits for it. Stopping a pipeline
	// that is not running is a no-op.
	Stop(ctx context.Context, h Handle) error
	// TearDown removes everything downstream of the device filter.
	TearDown(h Handle)
	// Close releases the device filter and its upstream stages.
	Close(df *DeviceFilter)
	// Events delivers runtime notifications.
	Events() <-chan Event
}
