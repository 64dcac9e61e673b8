package devices

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"

	"github.com/smazurov/vidcap/internal/logging"
	"github.com/smazurov/vidcap/internal/media"
	"github.com/smazurov/vidcap/pkg/linuxav/v4l2"
)

// v4l2API is the slice of pkg/linuxav/v4l2 the registry uses.
type v4l2API interface {
	FindDevices() ([]v4l2.DeviceInfo, error)
	QueryCapability(path string) (v4l2.Capability, error)
	GetFormats(path string) ([]v4l2.FormatInfo, error)
	GetFormat(path string) (v4l2.PixFormat, error)
	CountInputs(path string) (int, error)
}

type sysV4L2 struct{}

func (sysV4L2) FindDevices() ([]v4l2.DeviceInfo, error)           { return v4l2.FindDevices() }
func (sysV4L2) QueryCapability(p string) (v4l2.Capability, error) { return v4l2.QueryCapability(p) }
func (sysV4L2) GetFormats(p string) ([]v4l2.FormatInfo, error)    { return v4l2.GetFormats(p) }
func (sysV4L2) GetFormat(p string) (v4l2.PixFormat, error)        { return v4l2.GetFormat(p) }
func (sysV4L2) CountInputs(p string) (int, error)                 { return v4l2.CountInputs(p) }

// V4L2Registry enumerates Video4Linux capture nodes.
type V4L2Registry struct {
	api    v4l2API
	logger *slog.Logger
}

func NewV4L2Registry() *V4L2Registry {
	return &V4L2Registry{api: sysV4L2{}, logger: logging.GetLogger("devices")}
}

func (r *V4L2Registry) Handles(s Source) bool { return s == SourceV4L2 }

func (r *V4L2Registry) EnumerateCaptureDevices(_ context.Context) ([]Descriptor, error) {
	found, err := r.api.FindDevices()
	if err != nil {
		return nil, fmt.Errorf("enumerate v4l2 devices: %w", err)
	}
	out := make([]Descriptor, 0, len(found))
	for _, d := range found {
		out = append(out, Descriptor{
			ID:     d.DeviceID,
			Name:   d.DeviceName,
			Path:   d.DevicePath,
			Source: SourceV4L2,
		})
	}
	return out, nil
}

// Bind re-resolves the descriptor by stable ID, since the node number can
// change when a device is unplugged and plugged back in, and probes its
// capabilities once.
func (r *V4L2Registry) Bind(ctx context.Context, d Descriptor) (Capabilities, error) {
	current, err := r.EnumerateCaptureDevices(ctx)
	if err != nil {
		return Capabilities{}, err
	}
	live, ok := Find(current, d.ID)
	if !ok {
		return Capabilities{}, fmt.Errorf("%w: %s", ErrNotAvailable, d.ID)
	}

	c, err := r.api.QueryCapability(live.Path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Capabilities{}, fmt.Errorf("%w: %s", ErrNotAvailable, d.ID)
		}
		return Capabilities{}, fmt.Errorf("bind %s: %w", d.ID, err)
	}

	caps := Capabilities{
		FriendlyName: c.Card,
		Compression:  CompressionInfo{Description: c.Driver, Version: c.VersionString()},
		Inputs:       1,
	}
	if c.Has(v4l2.CapTuner) {
		caps.Tags |= CapTuner
	}
	if c.Has(v4l2.CapStreaming) {
		caps.Tags |= CapStreaming
	}
	if c.Has(v4l2.CapReadWrite) {
		caps.Tags |= CapReadWrite
	}
	if c.Has(v4l2.CapAudio) {
		caps.Tags |= CapAudio
	}

	formats, err := r.api.GetFormats(live.Path)
	if err != nil {
		r.logger.Debug("Format enumeration failed", "device_id", d.ID, "error", err)
	}
	for _, f := range formats {
		caps.PixelFormats = append(caps.PixelFormats, v4l2.FFmpegPixelFormat(f.PixelFormat))
		if f.Compressed && !f.Emulated {
			caps.Tags |= CapVideoCompression
		}
	}
	if len(formats) > 0 {
		caps.Tags |= CapStreamConfig
	}

	if n, err := r.api.CountInputs(live.Path); err == nil {
		caps.Inputs = n
		if n > 1 {
			caps.Tags |= CapCrossbar
		}
	}

	if pf, err := r.api.GetFormat(live.Path); err == nil {
		pix := v4l2.FFmpegPixelFormat(pf.PixelFormat)
		caps.Format = media.Format{
			Type:        media.TypeForPixelFormat(pix),
			PixelFormat: pix,
			Width:       int32(pf.Width),
			Height:      int32(pf.Height),
		}
	} else {
		r.logger.Debug("Current format query failed", "device_id", d.ID, "error", err)
	}

	r.logger.Debug("Device bound", "device_id", d.ID, "tags", caps.Tags.String(), "format", caps.Format.PixelFormat)
	return caps, nil
}
