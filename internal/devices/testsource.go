package devices

import (
	"context"
	"fmt"
	"sync"

	"github.com/smazurov/vidcap/internal/media"
)

// TestPattern configures one synthetic lavfi source.
type TestPattern struct {
	ID     string
	Name   string
	Filter string // lavfi source name, e.g. testsrc2 or smptebars
	Width  int32
	Height int32
	FPS    int
}

// DefaultTestPattern is the pattern enabled by the test_source option.
var DefaultTestPattern = TestPattern{
	ID:     "test-pattern",
	Name:   "Test Pattern",
	Filter: "testsrc2",
	Width:  1280,
	Height: 720,
	FPS:    30,
}

// TestSourceRegistry serves synthetic devices that exist on every host.
// Patterns can be unplugged and replugged to exercise device-loss paths.
type TestSourceRegistry struct {
	mu       sync.RWMutex
	patterns []TestPattern
	present  map[string]bool
}

func NewTestSourceRegistry(patterns ...TestPattern) *TestSourceRegistry {
	r := &TestSourceRegistry{patterns: patterns, present: make(map[string]bool)}
	for _, p := range patterns {
		r.present[p.ID] = true
	}
	return r
}

func (r *TestSourceRegistry) Handles(s Source) bool { return s == SourceLavfi }

// SetPresent simulates plugging or unplugging the pattern with id.
func (r *TestSourceRegistry) SetPresent(id string, present bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.present[id] = present
}

func (r *TestSourceRegistry) EnumerateCaptureDevices(_ context.Context) ([]Descriptor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Descriptor, 0, len(r.patterns))
	for _, p := range r.patterns {
		if !r.present[p.ID] {
			continue
		}
		out = append(out, Descriptor{
			ID:              p.ID,
			Name:            p.Name,
			Path:            p.spec(),
			Source:          SourceLavfi,
			CompressionInfo: "lavfi " + p.Filter,
		})
	}
	return out, nil
}

func (r *TestSourceRegistry) Bind(_ context.Context, d Descriptor) (Capabilities, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, p := range r.patterns {
		if p.ID != d.ID || !r.present[p.ID] {
			continue
		}
		return Capabilities{
			FriendlyName: p.Name,
			Compression:  CompressionInfo{Description: "lavfi " + p.Filter},
			Tags:         CapStreamConfig | CapStreaming,
			PixelFormats: []string{"rgb24"},
			Inputs:       1,
			Format: media.Format{
				Type:        media.TypeVideoInfo,
				PixelFormat: "rgb24",
				Width:       p.Width,
				Height:      p.Height,
				FPS:         p.FPS,
			},
		}, nil
	}
	return Capabilities{}, fmt.Errorf("%w: %s", ErrNotAvailable, d.ID)
}

func (p TestPattern) spec() string {
	return fmt.Sprintf("%s=size=%dx%d:rate=%d", p.Filter, p.Width, p.Height, p.FPS)
}
