package pipeline

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nfnt/resize"

	"github.com/smazurov/vidcap/internal/ffmpeg"
)

// ErrNoFrame is returned when no frame has been grabbed yet.
var ErrNoFrame = errors.New("no frame available")

// Sample is one packed rgb24 frame.
type Sample struct {
	Seq    uint64
	Time   time.Duration // since the pipeline started
	Width  int
	Height int
	Data   []byte
}

// Image converts the sample to an image.Image.
func (s Sample) Image() *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, s.Width, s.Height))
	for i, j := 0, 0; i+2 < len(s.Data) && j+3 < len(img.Pix); i, j = i+3, j+4 {
		img.Pix[j] = s.Data[i]
		img.Pix[j+1] = s.Data[i+1]
		img.Pix[j+2] = s.Data[i+2]
		img.Pix[j+3] = 0xff
	}
	return img
}

// Grabber is the in-process sink at the end of the preview branch. It keeps
// the latest frame and hands every frame to registered callbacks on the
// reading goroutine, so callbacks must not block.
type Grabber struct {
	mu        sync.RWMutex
	callbacks map[uint64]func(Sample)
	nextID    uint64
	latest    *Sample
	frames    atomic.Uint64
	onFrame   func()
}

func NewGrabber() *Grabber {
	return &Grabber{callbacks: make(map[uint64]func(Sample))}
}

// OnFrame sets a hook run once per frame, before callbacks.
func (g *Grabber) OnFrame(fn func()) {
	g.mu.Lock()
	g.onFrame = fn
	g.mu.Unlock()
}

// Register adds fn and returns the func that removes it.
func (g *Grabber) Register(fn func(Sample)) (unregister func()) {
	g.mu.Lock()
	id := g.nextID
	g.nextID++
	g.callbacks[id] = fn
	g.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			g.mu.Lock()
			delete(g.callbacks, id)
			g.mu.Unlock()
		})
	}
}

// Latest returns the most recent frame.
func (g *Grabber) Latest() (Sample, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if g.latest == nil {
		return Sample{}, false
	}
	return *g.latest, true
}

// Next waits for the next frame delivered after the call.
func (g *Grabber) Next(ctx context.Context) (Sample, error) {
	ch := make(chan Sample, 1)
	unregister := g.Register(func(s Sample) {
		select {
		case ch <- s:
		default:
		}
	})
	defer unregister()

	select {
	case s := <-ch:
		return s, nil
	case <-ctx.Done():
		return Sample{}, ctx.Err()
	}
}

// Frames is the number of frames grabbed since the last Reset.
func (g *Grabber) Frames() uint64 {
	return g.frames.Load()
}

// Reset forgets the latest frame and zeroes the frame count. The pipeline
// resets the grabber when its graph is torn down.
func (g *Grabber) Reset() {
	g.mu.Lock()
	g.latest = nil
	g.frames.Store(0)
	g.mu.Unlock()
}

// Consume reads width*height rgb24 frames from r until it ends. A short
// trailing frame is dropped.
func (g *Grabber) Consume(r io.Reader, width, height int) error {
	if width <= 0 || height <= 0 {
		return fmt.Errorf("invalid frame size %dx%d", width, height)
	}
	size := width * height * ffmpeg.BytesPerPixel
	start := time.Now()
	var seq uint64

	for {
		buf := make([]byte, size)
		if _, err := io.ReadFull(r, buf); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return nil
			}
			return err
		}
		seq++
		g.deliver(Sample{Seq: seq, Time: time.Since(start), Width: width, Height: height, Data: buf})
	}
}

func (g *Grabber) deliver(s Sample) {
	g.frames.Add(1)

	g.mu.Lock()
	g.latest = &s
	hook := g.onFrame
	cbs := make([]func(Sample), 0, len(g.callbacks))
	for _, cb := range g.callbacks {
		cbs = append(cbs, cb)
	}
	g.mu.Unlock()

	if hook != nil {
		hook()
	}
	for _, cb := range cbs {
		cb(s)
	}
}

// WriteJPEG encodes the latest frame to w. A positive maxWidth narrower
// than the frame scales it down, keeping the aspect ratio.
func (g *Grabber) WriteJPEG(w io.Writer, maxWidth, quality int) error {
	s, ok := g.Latest()
	if !ok {
		return ErrNoFrame
	}
	return encodeJPEG(w, s, maxWidth, quality)
}

// WriteNextJPEG waits for the next frame and encodes it like WriteJPEG.
func (g *Grabber) WriteNextJPEG(ctx context.Context, w io.Writer, maxWidth, quality int) error {
	s, err := g.Next(ctx)
	if err != nil {
		return err
	}
	return encodeJPEG(w, s, maxWidth, quality)
}

func encodeJPEG(w io.Writer, s Sample, maxWidth, quality int) error {
	var img image.Image = s.Image()
	if maxWidth > 0 && maxWidth < s.Width {
		img = resize.Resize(uint(maxWidth), 0, img, resize.Bilinear)
	}
	if quality <= 0 || quality > 100 {
		quality = jpeg.DefaultQuality
	}
	return jpeg.Encode(w, img, &jpeg.Options{Quality: quality})
}
