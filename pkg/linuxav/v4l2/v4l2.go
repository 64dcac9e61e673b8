// Package v4l2 queries Video4Linux2 capture devices without cgo.
//
// It covers what a capture session needs at bind time: the device catalog,
// driver identity, supported pixel formats, the number of routable inputs
// and the currently negotiated format.
//
//	devices, _ := v4l2.FindDevices()
//	for _, d := range devices {
//		c, _ := v4l2.QueryCapability(d.DevicePath)
//		f, _ := v4l2.GetFormat(d.DevicePath)
//		fmt.Println(d.DeviceName, c.Driver, f.Width, f.Height)
//	}
package v4l2

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
)

// ErrUnsupported is returned on platforms without V4L2 ioctl support.
var ErrUnsupported = errors.New("v4l2: unsupported platform")

// Capability flags (V4L2_CAP_*).
const (
	CapVideoCapture = 0x00000001
	CapTuner        = 0x00010000
	CapAudio        = 0x00020000
	CapReadWrite    = 0x01000000
	CapStreaming    = 0x04000000
	CapDeviceCaps   = 0x80000000
)

// Format description flags (V4L2_FMT_FLAG_*).
const (
	FmtFlagCompressed = 0x0001
	FmtFlagEmulated   = 0x0002
)

const bufTypeVideoCapture = 1

// DeviceInfo identifies one capture node.
type DeviceInfo struct {
	DevicePath string
	DeviceName string
	DeviceID   string // /dev/v4l/by-id name, or synthesised from bus info
	Caps       uint32
}

// Capability is the decoded VIDIOC_QUERYCAP result.
type Capability struct {
	Driver  string
	Card    string
	BusInfo string
	Version uint32
	Caps    uint32 // effective device caps
}

// VersionString renders the kernel-style packed version as "major.minor.patch".
func (c Capability) VersionString() string {
	return fmt.Sprintf("%d.%d.%d", c.Version>>16&0xff, c.Version>>8&0xff, c.Version&0xff)
}

// Has reports whether every bit in flag is set.
func (c Capability) Has(flag uint32) bool {
	return c.Caps&flag == flag
}

// FormatInfo describes one supported pixel format.
type FormatInfo struct {
	PixelFormat uint32
	Description string
	Compressed  bool
	Emulated    bool
}

// PixFormat is the negotiated single-planar capture format.
type PixFormat struct {
	Width        uint32
	Height       uint32
	PixelFormat  uint32
	BytesPerLine uint32
	SizeImage    uint32
}

// FourCC renders a V4L2 pixel format code as its four characters.
func FourCC(code uint32) string {
	b := []byte{byte(code), byte(code >> 8), byte(code >> 16), byte(code >> 24)}
	return strings.TrimRight(string(b), " \x00")
}

// ffmpegNames maps fourcc codes to ffmpeg's v4l2 input_format names.
var ffmpegNames = map[string]string{
	"YUYV": "yuyv422",
	"UYVY": "uyvy422",
	"MJPG": "mjpeg",
	"JPEG": "mjpeg",
	"H264": "h264",
	"HEVC": "hevc",
	"NV12": "nv12",
	"YU12": "yuv420p",
	"RGB3": "rgb24",
	"BGR3": "bgr24",
	"GREY": "gray",
	"dvsd": "dvsd",
	"MPEG": "mpegts",
}

// FFmpegPixelFormat returns ffmpeg's name for a fourcc, falling back to the
// lower-cased fourcc.
func FFmpegPixelFormat(code uint32) string {
	cc := FourCC(code)
	if name, ok := ffmpegNames[cc]; ok {
		return name
	}
	return strings.ToLower(cc)
}

func cstr(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		return string(b[:i])
	}
	return string(b)
}
