// Package devices enumerates capture sources and binds them to the
// capabilities a capture session needs.
package devices

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/smazurov/vidcap/internal/media"
)

// ErrNotAvailable is returned by Bind when the device disappeared after it
// was enumerated, or was never there.
var ErrNotAvailable = errors.New("device not available")

// Source says how the pipeline reads a device.
type Source string

const (
	SourceV4L2  Source = "v4l2"
	SourceLavfi Source = "lavfi"
)

// Descriptor identifies one capture source in an enumeration snapshot.
type Descriptor struct {
	ID              string `json:"id" doc:"Stable device identifier"`
	Name            string `json:"name" doc:"Display name"`
	Path            string `json:"path" doc:"Device node or source spec"`
	Source          Source `json:"source"`
	CompressionInfo string `json:"compression_info,omitempty" doc:"Codec or driver summary"`
}

// Equal compares descriptors by stable identity.
func (d Descriptor) Equal(o Descriptor) bool {
	return d.ID == o.ID && d.Source == o.Source
}

// CompressionInfo is what a device reports about its encoder or driver.
type CompressionInfo struct {
	Description string `json:"description,omitempty"`
	Version     string `json:"version,omitempty"`
}

// Capabilities is the result of binding a descriptor.
type Capabilities struct {
	FriendlyName string          `json:"friendly_name"`
	Compression  CompressionInfo `json:"compression"`
	Tags         CapabilitySet   `json:"tags"`
	PixelFormats []string        `json:"pixel_formats,omitempty"`
	Inputs       int             `json:"inputs"`
	Format       media.Format    `json:"format"`
}

// StatusText is the one-line device label: "description - version" when the
// device reports both, its friendly name otherwise.
func (c Capabilities) StatusText() string {
	if c.Compression.Description != "" && c.Compression.Version != "" {
		return c.Compression.Description + " - " + c.Compression.Version
	}
	return c.FriendlyName
}

// Registry is the device catalog.
type Registry interface {
	EnumerateCaptureDevices(ctx context.Context) ([]Descriptor, error)
	Bind(ctx context.Context, d Descriptor) (Capabilities, error)
}

// Multi concatenates registries in order and routes Bind by source.
type Multi []Registry

func (m Multi) EnumerateCaptureDevices(ctx context.Context) ([]Descriptor, error) {
	var all []Descriptor
	var errs []error
	for _, r := range m {
		ds, err := r.EnumerateCaptureDevices(ctx)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		all = append(all, ds...)
	}
	if len(all) == 0 && len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return all, nil
}

func (m Multi) Bind(ctx context.Context, d Descriptor) (Capabilities, error) {
	for _, r := range m {
		if s, ok := r.(interface{ Handles(Source) bool }); ok && !s.Handles(d.Source) {
			continue
		}
		caps, err := r.Bind(ctx, d)
		if errors.Is(err, ErrNotAvailable) {
			continue
		}
		return caps, err
	}
	return Capabilities{}, fmt.Errorf("%w: %s", ErrNotAvailable, d.ID)
}

// Find returns the descriptor with id from list.
func Find(list []Descriptor, id string) (Descriptor, bool) {
	for _, d := range list {
		if d.ID == id {
			return d, true
		}
	}
	return Descriptor{}, false
}

// FindByName returns the first descriptor whose name matches, ignoring case.
func FindByName(list []Descriptor, name string) (Descriptor, bool) {
	for _, d := range list {
		if strings.EqualFold(d.Name, name) {
			return d, true
		}
	}
	return Descriptor{}, false
}
