package events

// Event type constants for kelindar/event.
const (
	TypeDeviceListChanged uint32 = iota + 1
	TypeDeviceHotplug
	TypeSessionStateChanged
	TypePipelineError
	TypeDeviceLost
	TypeDisplaySizeChanged
	TypePipelineMetrics
)

// Event interface required by kelindar/event.
type Event interface {
	Type() uint32
}

// DeviceSummary is the device shape carried by events.
type DeviceSummary struct {
	ID   string `json:"id" example:"usb-046d_HD_Webcam-video-index0" doc:"Stable device identifier"`
	Name string `json:"name" example:"HD Webcam" doc:"Display name"`
	Path string `json:"path" example:"/dev/video0" doc:"Device node or source spec"`
}

// DeviceListChangedEvent is raised after the controller re-enumerates devices.
type DeviceListChangedEvent struct {
	Devices   []DeviceSummary `json:"devices" doc:"Current device list"`
	Timestamp string          `json:"timestamp" example:"2026-01-27T10:30:00Z" doc:"Event timestamp"`
}

func (e DeviceListChangedEvent) Type() uint32 { return TypeDeviceListChanged }

// DeviceHotplugEvent mirrors a raw OS arrival or removal in the capture category.
type DeviceHotplugEvent struct {
	Action     string `json:"action" example:"add" doc:"add or remove"`
	DevicePath string `json:"device_path" example:"/dev/video0" doc:"Device node"`
	Timestamp  string `json:"timestamp" example:"2026-01-27T10:30:00Z" doc:"Event timestamp"`
}

func (e DeviceHotplugEvent) Type() uint32 { return TypeDeviceHotplug }

// SessionStateChangedEvent reports a completed controller transition.
type SessionStateChangedEvent struct {
	From      string `json:"from" example:"graph_built" doc:"Previous state"`
	To        string `json:"to" example:"previewing" doc:"New state"`
	DeviceID  string `json:"device_id,omitempty" doc:"Active device"`
	Timestamp string `json:"timestamp" example:"2026-01-27T10:30:00Z" doc:"Event timestamp"`
}

func (e SessionStateChangedEvent) Type() uint32 { return TypeSessionStateChanged }

// PipelineErrorEvent reports a runtime abort and the recovery outcome.
type PipelineErrorEvent struct {
	Code      int    `json:"code" example:"1" doc:"Pipeline status code"`
	Message   string `json:"message" doc:"User-facing error text"`
	DeviceID  string `json:"device_id,omitempty" doc:"Active device"`
	Recovered bool   `json:"recovered" doc:"Whether preview was restarted"`
	Timestamp string `json:"timestamp" example:"2026-01-27T10:30:00Z" doc:"Event timestamp"`
}

func (e PipelineErrorEvent) Type() uint32 { return TypePipelineError }

// DeviceLostEvent reports that the active device went away.
type DeviceLostEvent struct {
	DeviceID   string `json:"device_id" doc:"Lost device"`
	DeviceName string `json:"device_name" doc:"Lost device display name"`
	Message    string `json:"message" example:"Stopping Capture (Device Lost). Select New Capture Device" doc:"User-facing text"`
	Recovered  bool   `json:"recovered" doc:"Whether the retry restarted preview"`
	Timestamp  string `json:"timestamp" example:"2026-01-27T10:30:00Z" doc:"Event timestamp"`
}

func (e DeviceLostEvent) Type() uint32 { return TypeDeviceLost }

// DisplaySizeChangedEvent tells the presentation surface to resize.
type DisplaySizeChangedEvent struct {
	DeviceID  string `json:"device_id" doc:"Active device"`
	Width     int    `json:"width" example:"640"`
	Height    int    `json:"height" example:"480"`
	Timestamp string `json:"timestamp" example:"2026-01-27T10:30:00Z" doc:"Event timestamp"`
}

func (e DisplaySizeChangedEvent) Type() uint32 { return TypeDisplaySizeChanged }

// PipelineMetricsEvent carries the running pipeline's ffmpeg progress.
type PipelineMetricsEvent struct {
	DeviceID        string `json:"device_id" doc:"Active device"`
	FPS             string `json:"fps" example:"29.97" doc:"Current frame rate"`
	DroppedFrames   string `json:"dropped_frames" example:"0" doc:"Frames dropped"`
	DuplicateFrames string `json:"duplicate_frames" example:"0" doc:"Frames duplicated"`
	Speed           string `json:"speed" example:"1.00" doc:"Processing speed multiplier"`
}

func (e PipelineMetricsEvent) Type() uint32 { return TypePipelineMetrics }
