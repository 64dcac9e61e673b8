// Package media describes capture formats and the presentation size derived
// from them.
package media

import (
	"fmt"
	"strconv"
	"strings"
)

// FormatType says how a format's header should be read.
type FormatType string

const (
	// TypeVideoInfo is an uncompressed or frame-compressed raster format with
	// a width/height header.
	TypeVideoInfo FormatType = "video_info"
	// TypeStream is an interleaved or transport format (DV, MPEG-TS) whose
	// header carries no picture geometry.
	TypeStream FormatType = "stream"
)

// Format is the capture format held by a device filter. Height is signed:
// a negative value means scanlines are stored bottom-up.
type Format struct {
	Type        FormatType `json:"type" toml:"type"`
	PixelFormat string     `json:"pixel_format" toml:"pixel_format"`
	Width       int32      `json:"width" toml:"width"`
	Height      int32      `json:"height" toml:"height"`
	FPS         int        `json:"fps,omitempty" toml:"fps,omitempty"`
}

// Size is a presentation size in pixels.
type Size struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

func (s Size) String() string {
	return fmt.Sprintf("%dx%d", s.Width, s.Height)
}

// DisplaySize returns the size a preview surface should take for f. Only
// raster formats have one; ok is false for anything else.
func DisplaySize(f Format) (Size, bool) {
	if f.Type != TypeVideoInfo || f.Width <= 0 || f.Height == 0 {
		return Size{}, false
	}
	h := int(f.Height)
	if h < 0 {
		h = -h
	}
	return Size{Width: int(f.Width), Height: h}, true
}

// streamPixelFormats have no raster header even though V4L2 reports
// geometry for them.
var streamPixelFormats = map[string]bool{
	"dvsd":   true,
	"dv":     true,
	"mpegts": true,
	"mpeg":   true,
	"mpg2":   true,
}

// TypeForPixelFormat classifies a pixel format name (ffmpeg or fourcc).
func TypeForPixelFormat(pix string) FormatType {
	if streamPixelFormats[strings.ToLower(strings.TrimSpace(pix))] {
		return TypeStream
	}
	return TypeVideoInfo
}

// FormatRequest asks a device filter for a new capture format. Zero fields
// keep the current value.
type FormatRequest struct {
	PixelFormat string `json:"pixel_format,omitempty" toml:"pixel_format,omitempty" doc:"Pixel format, e.g. yuyv422 or mjpeg"`
	Width       int32  `json:"width,omitempty" toml:"width,omitempty" minimum:"0"`
	Height      int32  `json:"height,omitempty" toml:"height,omitempty" minimum:"0"`
	FPS         int    `json:"fps,omitempty" toml:"fps,omitempty" minimum:"0"`
}

// IsZero reports whether r changes nothing.
func (r FormatRequest) IsZero() bool {
	return r == FormatRequest{}
}

// Apply returns f with r's non-zero fields applied.
func (r FormatRequest) Apply(f Format) Format {
	if r.PixelFormat != "" {
		f.PixelFormat = r.PixelFormat
		f.Type = TypeForPixelFormat(r.PixelFormat)
	}
	if r.Width > 0 {
		f.Width = r.Width
	}
	if r.Height > 0 {
		f.Height = r.Height
	}
	if r.FPS > 0 {
		f.FPS = r.FPS
	}
	if f.Type == "" {
		f.Type = TypeForPixelFormat(f.PixelFormat)
	}
	return f
}

// ParseResolution parses "WxH".
func ParseResolution(s string) (width, height int32, err error) {
	w, h, ok := strings.Cut(strings.ToLower(strings.TrimSpace(s)), "x")
	if !ok {
		return 0, 0, fmt.Errorf("invalid resolution %q", s)
	}
	wi, err := strconv.ParseInt(w, 10, 32)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid width in %q: %w", s, err)
	}
	hi, err := strconv.ParseInt(h, 10, 32)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid height in %q: %w", s, err)
	}
	return int32(wi), int32(hi), nil
}
