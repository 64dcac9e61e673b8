package models

import (
	"github.com/smazurov/vidcap/internal/devices"
	"github.com/smazurov/vidcap/internal/media"
	"github.com/smazurov/vidcap/internal/session"
)

// Health check models
type HealthData struct {
	Status  string `json:"status" example:"ok" doc:"Service status"`
	Message string `json:"message" example:"API is healthy" doc:"Status message"`
}

type HealthResponse struct {
	Body HealthData
}

// Version models
type VersionData struct {
	Version   string `json:"version" example:"1.0.0" doc:"Application version"`
	GitCommit string `json:"git_commit" example:"abc123" doc:"Git commit hash"`
	BuildDate string `json:"build_date" example:"2026-01-27T10:30:00Z" doc:"Build timestamp"`
	Modified  bool   `json:"modified" doc:"Built from a dirty work tree"`
	GoVersion string `json:"go_version" example:"go1.24.11" doc:"Go toolchain version"`
	Platform  string `json:"platform" example:"linux/arm64" doc:"OS/architecture"`
}

type VersionResponse struct {
	Body VersionData
}

// Device models
type DeviceData struct {
	ID              string `json:"id" example:"usb-046d_HD_Webcam-video-index0" doc:"Stable device identifier"`
	Name            string `json:"name" example:"HD Webcam" doc:"Display name"`
	Path            string `json:"path" example:"/dev/video0" doc:"Device node or source spec"`
	Source          string `json:"source" example:"v4l2" enum:"v4l2,lavfi" doc:"Device backend"`
	CompressionInfo string `json:"compression_info,omitempty" doc:"Codec or driver summary"`
	Active          bool   `json:"active" doc:"Whether this is the session's active device"`
}

type DeviceListData struct {
	Devices []DeviceData `json:"devices" doc:"Capture devices in catalog order"`
	Count   int          `json:"count" example:"2" doc:"Number of devices"`
}

type DeviceListResponse struct {
	Body DeviceListData
}

// CapabilitiesData is devices.Capabilities with the tag set spelled out.
type CapabilitiesData struct {
	FriendlyName string       `json:"friendly_name" doc:"Device friendly name"`
	Description  string       `json:"description,omitempty" doc:"Compression description"`
	Version      string       `json:"version,omitempty" doc:"Compression or driver version"`
	Tags         []string     `json:"tags" example:"[\"stream_config\",\"streaming\"]" doc:"Capability tags found at bind time"`
	PixelFormats []string     `json:"pixel_formats,omitempty" doc:"Pixel formats the device can deliver"`
	Inputs       int          `json:"inputs" example:"1" doc:"Physical inputs"`
	Format       media.Format `json:"format" doc:"Format at bind time"`
}

// Session models
type SessionData struct {
	State        string            `json:"state" example:"previewing" enum:"idle,graph_built,previewing" doc:"Controller state"`
	Device       *DeviceData       `json:"device,omitempty" doc:"Active device"`
	StatusText   string            `json:"status_text,omitempty" example:"HD Webcam" doc:"Device status line"`
	DisplaySize  *media.Size       `json:"display_size,omitempty" doc:"Preview surface size"`
	Format       *media.Format     `json:"format,omitempty" doc:"Current capture format"`
	Capabilities *CapabilitiesData `json:"capabilities,omitempty" doc:"Active device capabilities"`
	Aborts       int               `json:"aborts" doc:"Runtime aborts seen since start"`
	LastError    string            `json:"last_error,omitempty" doc:"Most recent controller error"`
}

type SessionResponse struct {
	Body SessionData
}

type SelectDeviceData struct {
	DeviceID string `json:"device_id" minLength:"1" example:"usb-046d_HD_Webcam-video-index0" doc:"Device to make active"`
}

type SelectDeviceRequest struct {
	Body SelectDeviceData
}

type SetFormatRequest struct {
	Body media.FormatRequest
}

// Snapshot models
type SnapshotRequest struct {
	MaxWidth int  `query:"max_width" minimum:"0" maximum:"7680" example:"640" doc:"Scale down to this width, 0 keeps the frame size"`
	Quality  int  `query:"quality" minimum:"0" maximum:"100" default:"85" doc:"JPEG quality"`
	Wait     bool `query:"wait" doc:"Wait up to 2s for the next frame instead of returning the latest"`
}

type SnapshotResponse struct {
	ContentType string `header:"Content-Type"`
	Body        []byte
}

// Logging models
type LogLevelData struct {
	Module string `json:"module" minLength:"1" example:"session" doc:"Logger module"`
	Level  string `json:"level" enum:"debug,info,warn,error" doc:"New level"`
}

type LogLevelRequest struct {
	Body LogLevelData
}

type LogLevelResponse struct {
	Body LogLevelData
}

// DeviceFromDescriptor converts a registry descriptor.
func DeviceFromDescriptor(d devices.Descriptor, activeID string) DeviceData {
	return DeviceData{
		ID:              d.ID,
		Name:            d.Name,
		Path:            d.Path,
		Source:          string(d.Source),
		CompressionInfo: d.CompressionInfo,
		Active:          activeID != "" && d.ID == activeID,
	}
}

// SessionFromStatus converts a controller snapshot.
func SessionFromStatus(st session.Status) SessionData {
	out := SessionData{
		State:       string(st.State),
		StatusText:  st.StatusText,
		DisplaySize: st.DisplaySize,
		Format:      st.Format,
		Aborts:      st.Aborts,
		LastError:   st.LastError,
	}
	if st.Device != nil {
		d := DeviceFromDescriptor(*st.Device, st.Device.ID)
		out.Device = &d
	}
	if c := st.Capabilities; c != nil {
		out.Capabilities = &CapabilitiesData{
			FriendlyName: c.FriendlyName,
			Description:  c.Compression.Description,
			Version:      c.Compression.Version,
			Tags:         c.Tags.Names(),
			PixelFormats: c.PixelFormats,
			Inputs:       c.Inputs,
			Format:       c.Format,
		}
	}
	return out
}
