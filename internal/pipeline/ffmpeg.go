package pipeline

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/smazurov/vidcap/internal/devices"
	"github.com/smazurov/vidcap/internal/ffmpeg"
	"github.com/smazurov/vidcap/internal/graph"
	"github.com/smazurov/vidcap/internal/logging"
	"github.com/smazurov/vidcap/internal/media"
	"github.com/smazurov/vidcap/internal/metrics"
	"github.com/smazurov/vidcap/internal/metrics/collectors"
	"github.com/smazurov/vidcap/internal/process"
)

// fallbackPreview is the grabber frame size for formats with no raster
// geometry of their own.
var fallbackPreview = media.Size{Width: 640, Height: 480}

// Options configure the ffmpeg framework.
type Options struct {
	// PreviewWidth and PreviewHeight scale the grabber branch. Zero uses the
	// capture size.
	PreviewWidth  int
	PreviewHeight int
	// CaptureFile, when set, adds a file writer branch behind a smart tee.
	CaptureFile  string
	Encoder      string
	InputOptions []ffmpeg.OptionType
	LogLevel     string
	// Binary replaces the ffmpeg executable.
	Binary string
	// StartupGrace is how long Run waits for the process to fail before it
	// reports success.
	StartupGrace time.Duration
	StopTimeout  time.Duration
}

// FFmpeg realises the framework as one ffmpeg process per rendered graph.
type FFmpeg struct {
	opts      Options
	logger    *slog.Logger
	ffmpegLog *slog.Logger
	graph     *graph.Graph
	grabber   *Grabber
	events    chan Event

	mu      sync.Mutex
	filters map[string]*DeviceFilter
	built   *pipelineRun
}

type pipelineRun struct {
	handle  Handle
	device  *DeviceFilter
	command string
	size    media.Size

	// guarded by FFmpeg.mu
	running  bool
	settled  bool
	cancel   context.CancelFunc
	done     chan struct{}
	result   process.Result
	progress *collectors.Progress

	stopRequested atomic.Bool
	deviceGone    atomic.Bool
}

func NewFFmpeg(opts Options) *FFmpeg {
	if opts.StartupGrace <= 0 {
		opts.StartupGrace = 500 * time.Millisecond
	}
	if opts.StopTimeout <= 0 {
		opts.StopTimeout = 5 * time.Second
	}
	g := NewGrabber()
	g.OnFrame(metrics.IncFramesGrabbed)
	return &FFmpeg{
		opts:      opts,
		logger:    logging.GetLogger("pipeline"),
		ffmpegLog: logging.GetLogger("ffmpeg"),
		graph:     graph.New(),
		grabber:   g,
		events:    make(chan Event, 16),
		filters:   make(map[string]*DeviceFilter),
	}
}

// Grabber is the sample grabber every rendered graph ends in.
func (f *FFmpeg) Grabber() *Grabber { return f.grabber }

// Graph exposes the filter graph for inspection.
func (f *FFmpeg) Graph() *graph.Graph { return f.graph }

func (f *FFmpeg) Events() <-chan Event { return f.events }

func (f *FFmpeg) Open(_ context.Context, d devices.Descriptor, caps devices.Capabilities) (*DeviceFilter, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	id := "source:" + d.ID
	src := graph.Filter{
		ID:   id,
		Kind: graph.KindSource,
		Pins: []graph.Pin{{Name: "out", Dir: graph.Out}},
		Props: map[string]string{
			"source": string(d.Source),
			"path":   d.Path,
		},
	}
	hasUpstream := caps.Tags.Has(devices.CapCrossbar) || caps.Tags.Has(devices.CapTuner)
	if hasUpstream {
		src.Pins = append(src.Pins, graph.Pin{Name: "analog", Dir: graph.In})
	}
	if err := f.graph.AddFilter(src); err != nil {
		return nil, fmt.Errorf("open %s: %w", d.ID, err)
	}

	// Tuner feeds the crossbar, the crossbar feeds the device.
	feed := graph.Endpoint{Filter: id, Pin: "analog"}
	if caps.Tags.Has(devices.CapCrossbar) {
		xbar := graph.Filter{
			ID:    "crossbar:" + d.ID,
			Kind:  graph.KindCrossbar,
			Pins:  []graph.Pin{{Name: "video", Dir: graph.In}, {Name: "out", Dir: graph.Out}},
			Props: map[string]string{"channel": "0", "inputs": strconv.Itoa(caps.Inputs)},
		}
		if err := f.addUpstream(xbar, feed); err != nil {
			f.removeDeviceLocked(id)
			return nil, err
		}
		feed = graph.Endpoint{Filter: xbar.ID, Pin: "video"}
	}
	if caps.Tags.Has(devices.CapTuner) {
		tuner := graph.Filter{
			ID:   "tuner:" + d.ID,
			Kind: graph.KindTuner,
			Pins: []graph.Pin{{Name: "out", Dir: graph.Out}},
		}
		if err := f.addUpstream(tuner, feed); err != nil {
			f.removeDeviceLocked(id)
			return nil, err
		}
	}

	df := NewDeviceFilter(id, d, caps)
	f.filters[id] = df
	f.logger.Debug("Device filter opened", "device_id", d.ID, "upstream", f.graph.Upstream(id))
	return df, nil
}

func (f *FFmpeg) addUpstream(flt graph.Filter, to graph.Endpoint) error {
	if err := f.graph.AddFilter(flt); err != nil {
		return err
	}
	return f.graph.Connect(graph.Endpoint{Filter: flt.ID, Pin: "out"}, to)
}

func (f *FFmpeg) Configure(df *DeviceFilter, req media.FormatRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.filters[df.ID]; !ok {
		return fmt.Errorf("configure %s: %w", df.ID, graph.ErrFilterMissing)
	}
	if !df.Caps.Tags.Has(devices.CapStreamConfig) {
		return ErrNotConfigurable
	}
	next := req.Apply(df.format)
	if err := checkFormat(df, next); err != nil {
		return err
	}
	df.format = next
	f.logger.Info("Capture format configured", "device_id", df.Device.ID,
		"pixel_format", next.PixelFormat, "width", next.Width, "height", next.Height, "fps", next.FPS)
	return nil
}

func (f *FFmpeg) CurrentFormat(df *DeviceFilter) (media.Format, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.filters[df.ID]; !ok {
		return media.Format{}, fmt.Errorf("format of %s: %w", df.ID, graph.ErrFilterMissing)
	}
	return df.format, nil
}

func checkFormat(df *DeviceFilter, format media.Format) error {
	if len(df.Caps.PixelFormats) > 0 && !slices.Contains(df.Caps.PixelFormats, format.PixelFormat) {
		return fmt.Errorf("%w: %s does not offer %q", ErrUnsupportedFormat, df.Device.Name, format.PixelFormat)
	}
	return nil
}

func (f *FFmpeg) Render(_ context.Context, df *DeviceFilter) (Handle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.built != nil {
		return Handle{}, ErrHandleActive
	}
	if _, ok := f.filters[df.ID]; !ok {
		return Handle{}, fmt.Errorf("render %s: %w", df.ID, graph.ErrFilterMissing)
	}
	if err := checkFormat(df, df.format); err != nil {
		return Handle{}, err
	}

	h := Handle{ID: uuid.NewString()}
	if err := f.renderBranch(df.ID, h.ID[:8]); err != nil {
		f.removeDownstream(df.ID)
		return Handle{}, fmt.Errorf("render %s: %w", df.Device.ID, err)
	}

	size := f.previewSize(df.format)
	params, err := f.compile(df, size)
	if err == nil {
		var cmd string
		cmd, err = ffmpeg.BuildCommand(params)
		if err == nil {
			f.built = &pipelineRun{handle: h, device: df, command: f.withBinary(cmd), size: size}
		}
	}
	if err != nil {
		f.removeDownstream(df.ID)
		return Handle{}, fmt.Errorf("render %s: %w", df.Device.ID, err)
	}

	f.logger.Info("Pipeline rendered", "handle", h.ID, "device_id", df.Device.ID, "preview", size.String())
	f.logger.Debug("Pipeline command", "handle", h.ID, "command", f.built.command)
	return h, nil
}

// Command returns the ffmpeg command line compiled for h.
func (f *FFmpeg) Command(h Handle) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.built == nil || f.built.handle != h {
		return "", ErrUnknownHandle
	}
	return f.built.command, nil
}

// renderBranch adds source -> [smart tee ->] grabber -> renderer, with the
// tee's capture pin feeding a file writer.
func (f *FFmpeg) renderBranch(sourceID, prefix string) error {
	feed := graph.Endpoint{Filter: sourceID, Pin: "out"}

	if f.opts.CaptureFile != "" {
		tee := graph.Filter{
			ID:   prefix + ":tee",
			Kind: graph.KindSmartTee,
			Pins: []graph.Pin{
				{Name: "in", Dir: graph.In},
				{Name: "capture", Dir: graph.Out},
				{Name: "preview", Dir: graph.Out},
			},
		}
		writer := graph.Filter{
			ID:    prefix + ":writer",
			Kind:  graph.KindFileWriter,
			Pins:  []graph.Pin{{Name: "in", Dir: graph.In}},
			Props: map[string]string{"path": f.opts.CaptureFile, "encoder": f.opts.Encoder},
		}
		if err := f.addAndConnect(tee, feed); err != nil {
			return err
		}
		if err := f.addAndConnect(writer, graph.Endpoint{Filter: tee.ID, Pin: "capture"}); err != nil {
			return err
		}
		feed = graph.Endpoint{Filter: tee.ID, Pin: "preview"}
	}

	grabber := graph.Filter{
		ID:   prefix + ":grabber",
		Kind: graph.KindGrabber,
		Pins: []graph.Pin{{Name: "in", Dir: graph.In}, {Name: "out", Dir: graph.Out}},
	}
	renderer := graph.Filter{
		ID:   prefix + ":renderer",
		Kind: graph.KindRenderer,
		Pins: []graph.Pin{{Name: "in", Dir: graph.In}},
	}
	if err := f.addAndConnect(grabber, feed); err != nil {
		return err
	}
	return f.addAndConnect(renderer, graph.Endpoint{Filter: grabber.ID, Pin: "out"})
}

func (f *FFmpeg) addAndConnect(flt graph.Filter, from graph.Endpoint) error {
	if err := f.graph.AddFilter(flt); err != nil {
		return err
	}
	return f.graph.Connect(from, graph.Endpoint{Filter: flt.ID, Pin: "in"})
}

func (f *FFmpeg) previewSize(format media.Format) media.Size {
	if f.opts.PreviewWidth > 0 && f.opts.PreviewHeight > 0 {
		return media.Size{Width: f.opts.PreviewWidth, Height: f.opts.PreviewHeight}
	}
	if s, ok := media.DisplaySize(format); ok {
		return s
	}
	return fallbackPreview
}

// compile walks the graph from the device filter and turns it into ffmpeg
// parameters: upstream stages become input flags, sinks become outputs.
func (f *FFmpeg) compile(df *DeviceFilter, size media.Size) (*ffmpeg.Params, error) {
	in := ffmpeg.Input{Path: df.Device.Path}
	switch df.Device.Source {
	case devices.SourceLavfi:
		in.Kind = ffmpeg.InputLavfi
	case devices.SourceV4L2:
		in.Kind = ffmpeg.InputV4L2
		in.InputFormat = df.format.PixelFormat
		if df.format.Type == media.TypeVideoInfo {
			if s, ok := media.DisplaySize(df.format); ok {
				in.Width, in.Height = int32(s.Width), int32(s.Height)
			}
		}
		in.FPS = df.format.FPS
		in.Options = f.opts.InputOptions
	default:
		in.Kind = ffmpeg.InputKind(df.Device.Source)
	}

	for _, up := range f.graph.Upstream(df.ID) {
		flt, _ := f.graph.Filter(up)
		if flt.Kind == graph.KindCrossbar {
			in.Channel, _ = strconv.Atoi(flt.Props["channel"])
		}
	}

	params := &ffmpeg.Params{Input: in, LogLevel: f.opts.LogLevel, Progress: true}
	var walk func(id string)
	walk = func(id string) {
		for _, next := range f.graph.Next(id) {
			switch next.Kind {
			case graph.KindGrabber:
				params.Outputs = append(params.Outputs, ffmpeg.Output{
					Kind: ffmpeg.OutputRawPipe, Width: size.Width, Height: size.Height,
				})
			case graph.KindFileWriter:
				params.Outputs = append(params.Outputs, ffmpeg.Output{
					Kind: ffmpeg.OutputFile, Path: next.Props["path"], Encoder: next.Props["encoder"],
				})
				continue
			}
			walk(next.ID)
		}
	}
	walk(df.ID)
	return params, nil
}

func (f *FFmpeg) withBinary(cmd string) string {
	if f.opts.Binary == "" {
		return cmd
	}
	return f.opts.Binary + strings.TrimPrefix(cmd, "ffmpeg")
}

func (f *FFmpeg) Run(ctx context.Context, h Handle) error {
	f.mu.Lock()
	run := f.built
	if run == nil || run.handle != h {
		f.mu.Unlock()
		return ErrUnknownHandle
	}
	if run.running {
		f.mu.Unlock()
		return nil
	}

	proc, err := process.New("pipeline-"+h.ID[:8], run.command, f.logger)
	if err != nil {
		f.mu.Unlock()
		return fmt.Errorf("run %s: %w", h.ID, err)
	}
	proc.SetTimeouts(f.opts.StopTimeout, f.opts.StopTimeout)
	proc.SetLogParser(f.ffmpegLog, parseOutputLine)
	run.progress = collectors.NewProgress(run.device.Device.ID)
	proc.SetOutputHandler(&outputWatcher{run: run})
	size := run.size
	proc.SetStdoutConsumer(func(r io.Reader) {
		if err := f.grabber.Consume(r, size.Width, size.Height); err != nil {
			f.logger.Warn("Sample grabber stopped", "handle", h.ID, "error", err)
		}
	})

	runCtx, cancel := context.WithCancel(context.Background())
	run.running = true
	run.settled = false
	run.cancel = cancel
	run.done = make(chan struct{})
	run.stopRequested.Store(false)
	run.deviceGone.Store(false)
	done := run.done
	f.mu.Unlock()

	go func() {
		res := proc.Run(runCtx)
		f.finished(run, res)
	}()

	select {
	case <-done:
	case <-time.After(f.opts.StartupGrace):
	case <-ctx.Done():
	}

	f.mu.Lock()
	exited := !run.running
	if !exited {
		run.settled = true
	}
	res := run.result
	f.mu.Unlock()

	if !exited {
		if ctx.Err() != nil {
			_ = f.Stop(context.Background(), h)
			return ctx.Err()
		}
		f.logger.Info("Pipeline running", "handle", h.ID)
		return nil
	}
	if startupFailed(res) {
		if res.Err != nil {
			return fmt.Errorf("run %s: %w", h.ID, res.Err)
		}
		return fmt.Errorf("run %s: ffmpeg exited with code %d", h.ID, res.ExitCode)
	}
	return nil
}

func startupFailed(res process.Result) bool {
	return res.Err != nil || res.ExitCode != 0
}

func (f *FFmpeg) finished(run *pipelineRun, res process.Result) {
	f.mu.Lock()
	run.running = false
	run.result = res
	settled := run.settled
	run.cancel()
	progress := run.progress
	f.mu.Unlock()
	progress.Stop()
	close(run.done)

	if !settled && startupFailed(res) {
		f.logger.Warn("Pipeline failed to start", "handle", run.handle.ID, "exit_code", res.ExitCode, "error", res.Err)
		return
	}
	ev, ok := classify(res, run.stopRequested.Load(), run.deviceGone.Load())
	if !ok {
		return
	}
	ev.HandleID = run.handle.ID
	f.logger.Info("Pipeline ended", "handle", ev.HandleID, "kind", ev.Kind, "code", ev.Code)

	select {
	case f.events <- ev:
	default:
		f.logger.Warn("Pipeline event dropped, no reader", "handle", ev.HandleID, "kind", ev.Kind)
	}
}

// classify maps how the ffmpeg process ended to a runtime event. Stops the
// controller asked for produce none.
func classify(res process.Result, stopRequested, deviceGone bool) (Event, bool) {
	switch {
	case stopRequested || res.Cancelled:
		return Event{}, false
	case deviceGone:
		return Event{Kind: EventDeviceLost, Code: res.ExitCode, Message: "capture device disappeared"}, true
	case res.Err != nil:
		return Event{Kind: EventErrorAbort, Code: 1, Message: res.Err.Error()}, true
	case res.ExitCode == 0:
		return Event{Kind: EventComplete}, true
	case res.ExitCode == 255 || res.ExitCode == 130:
		return Event{Kind: EventUserAbort, Code: res.ExitCode, Message: "pipeline interrupted"}, true
	default:
		return Event{Kind: EventErrorAbort, Code: res.ExitCode, Message: "ffmpeg exited with code " + strconv.Itoa(res.ExitCode)}, true
	}
}

func (f *FFmpeg) Stop(ctx context.Context, h Handle) error {
	f.mu.Lock()
	run := f.built
	if run == nil || run.handle != h {
		f.mu.Unlock()
		return ErrUnknownHandle
	}
	if !run.running {
		f.mu.Unlock()
		return nil
	}
	run.stopRequested.Store(true)
	run.cancel()
	done := run.done
	f.mu.Unlock()

	select {
	case <-done:
		f.logger.Info("Pipeline stopped", "handle", h.ID)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (f *FFmpeg) TearDown(h Handle) {
	f.mu.Lock()
	run := f.built
	f.mu.Unlock()
	if run == nil || run.handle != h {
		return
	}
	if err := f.Stop(context.Background(), h); err != nil {
		f.logger.Warn("Stop before teardown failed", "handle", h.ID, "error", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.built != run {
		return
	}
	removed := f.removeDownstream(run.device.ID)
	f.built = nil
	f.grabber.Reset()
	f.logger.Info("Pipeline torn down", "handle", h.ID, "removed", removed)
}

func (f *FFmpeg) removeDownstream(id string) []string {
	removed, err := f.graph.RemoveDownstream(id)
	if err != nil {
		f.logger.Warn("Failed to remove downstream filters", "filter", id, "error", err)
	}
	return removed
}

func (f *FFmpeg) Close(df *DeviceFilter) {
	f.mu.Lock()
	run := f.built
	f.mu.Unlock()
	if run != nil && run.device == df {
		f.TearDown(run.handle)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.filters[df.ID]; !ok {
		return
	}
	f.removeDeviceLocked(df.ID)
	delete(f.filters, df.ID)
	f.logger.Debug("Device filter closed", "device_id", df.Device.ID)
}

// removeDeviceLocked drops the device filter and everything feeding it.
func (f *FFmpeg) removeDeviceLocked(id string) {
	for _, up := range f.graph.Upstream(id) {
		_ = f.graph.RemoveFilter(up)
	}
	_ = f.graph.RemoveFilter(id)
}

// outputWatcher inspects ffmpeg's output for progress blocks and for signs
// that the device vanished.
type outputWatcher struct {
	run *pipelineRun
}

func (w *outputWatcher) HandleLine(source, line string) {
	if source != "stderr" {
		return
	}
	if ffmpeg.IsDeviceGone(line) {
		w.run.deviceGone.Store(true)
	}
	w.run.progress.HandleLine(line)
}

// parseOutputLine keeps -progress fields out of the info log.
func parseOutputLine(line string) (string, string) {
	if collectors.IsProgressLine(line) {
		return "debug", line
	}
	return ffmpeg.ParseLogLevel(line)
}
