package session

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/smazurov/vidcap/internal/devices"
	"github.com/smazurov/vidcap/internal/media"
	"github.com/smazurov/vidcap/internal/pipeline"
)

var errFake = errors.New("fake failure")

type fakeRegistry struct {
	mu      sync.Mutex
	list    []devices.Descriptor
	caps    map[string]devices.Capabilities
	bindErr map[string]error
}

func newFakeRegistry(ds ...devices.Descriptor) *fakeRegistry {
	r := &fakeRegistry{caps: make(map[string]devices.Capabilities), bindErr: make(map[string]error)}
	for _, d := range ds {
		r.add(d, rasterCaps(d.Name))
	}
	return r
}

func (r *fakeRegistry) add(d devices.Descriptor, caps devices.Capabilities) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.list = append(r.list, d)
	r.caps[d.ID] = caps
}

func (r *fakeRegistry) remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, d := range r.list {
		if d.ID == id {
			r.list = append(r.list[:i], r.list[i+1:]...)
			return
		}
	}
}

func (r *fakeRegistry) EnumerateCaptureDevices(context.Context) ([]devices.Descriptor, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]devices.Descriptor(nil), r.list...), nil
}

func (r *fakeRegistry) Bind(_ context.Context, d devices.Descriptor) (devices.Capabilities, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.bindErr[d.ID]; err != nil {
		return devices.Capabilities{}, err
	}
	if _, ok := devices.Find(r.list, d.ID); !ok {
		return devices.Capabilities{}, fmt.Errorf("%w: %s", devices.ErrNotAvailable, d.ID)
	}
	return r.caps[d.ID], nil
}

func rasterCaps(name string) devices.Capabilities {
	return devices.Capabilities{
		FriendlyName: name,
		Tags:         devices.CapStreamConfig | devices.CapStreaming,
		PixelFormats: []string{"yuyv422", "mjpeg"},
		Inputs:       1,
		Format:       media.Format{Type: media.TypeVideoInfo, PixelFormat: "yuyv422", Width: 640, Height: -480, FPS: 30},
	}
}

func dev(id string) devices.Descriptor {
	return devices.Descriptor{ID: id, Name: "Camera " + id, Path: "/dev/" + id, Source: devices.SourceV4L2}
}

// fakeFramework records every call as "op:device".
type fakeFramework struct {
	mu      sync.Mutex
	calls   []string
	formats map[*pipeline.DeviceFilter]media.Format
	handles int
	current pipeline.Handle
	running bool

	renderErr    error
	runErr       error
	configureErr error
}

func newFakeFramework() *fakeFramework {
	return &fakeFramework{formats: make(map[*pipeline.DeviceFilter]media.Format)}
}

func (f *fakeFramework) record(op string, df *pipeline.DeviceFilter) {
	id := ""
	if df != nil {
		id = df.Device.ID
	}
	f.calls = append(f.calls, op+":"+id)
}

func (f *fakeFramework) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeFramework) count(op string) int {
	n := 0
	for _, c := range f.Calls() {
		if len(c) > len(op) && c[:len(op)+1] == op+":" {
			n++
		}
	}
	return n
}

func (f *fakeFramework) reset() {
	f.mu.Lock()
	f.calls = nil
	f.mu.Unlock()
}

func (f *fakeFramework) Open(_ context.Context, d devices.Descriptor, caps devices.Capabilities) (*pipeline.DeviceFilter, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	df := pipeline.NewDeviceFilter("source:"+d.ID, d, caps)
	f.formats[df] = caps.Format
	f.record("open", df)
	return df, nil
}

func (f *fakeFramework) Configure(df *pipeline.DeviceFilter, req media.FormatRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("configure", df)
	if f.configureErr != nil {
		return f.configureErr
	}
	f.formats[df] = req.Apply(f.formats[df])
	return nil
}

func (f *fakeFramework) CurrentFormat(df *pipeline.DeviceFilter) (media.Format, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	format, ok := f.formats[df]
	if !ok {
		return media.Format{}, errFake
	}
	return format, nil
}

func (f *fakeFramework) Render(_ context.Context, df *pipeline.DeviceFilter) (pipeline.Handle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("render", df)
	if f.renderErr != nil {
		return pipeline.Handle{}, f.renderErr
	}
	if !f.current.IsZero() {
		return pipeline.Handle{}, pipeline.ErrHandleActive
	}
	f.handles++
	f.current = pipeline.Handle{ID: fmt.Sprintf("h%d", f.handles)}
	return f.current, nil
}

func (f *fakeFramework) Run(_ context.Context, h pipeline.Handle) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "run:"+h.ID)
	if f.runErr != nil {
		return f.runErr
	}
	f.running = true
	return nil
}

func (f *fakeFramework) Stop(_ context.Context, h pipeline.Handle) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "stop:"+h.ID)
	f.running = false
	return nil
}

func (f *fakeFramework) TearDown(h pipeline.Handle) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "teardown:"+h.ID)
	if f.current == h {
		f.current = pipeline.Handle{}
	}
}

func (f *fakeFramework) Close(df *pipeline.DeviceFilter) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("close", df)
	delete(f.formats, df)
}

func (f *fakeFramework) Events() <-chan pipeline.Event { return nil }

func (f *fakeFramework) handle() pipeline.Handle {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.current
}

type notification struct {
	kind      string
	deviceID  string
	code      int
	recovered bool
	size      media.Size
	message   string
}

type recordingNotifier struct {
	mu    sync.Mutex
	items []notification
	hook  func(kind string)
}

func (n *recordingNotifier) add(item notification) {
	n.mu.Lock()
	n.items = append(n.items, item)
	hook := n.hook
	n.mu.Unlock()
	if hook != nil {
		hook(item.kind)
	}
}

func (n *recordingNotifier) of(kind string) []notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []notification
	for _, it := range n.items {
		if it.kind == kind {
			out = append(out, it)
		}
	}
	return out
}

func (n *recordingNotifier) DeviceListChanged(list []devices.Descriptor) {
	n.add(notification{kind: "device_list", code: len(list)})
}

func (n *recordingNotifier) PipelineError(deviceID string, err *Error, recovered bool) {
	n.add(notification{kind: "pipeline_error", deviceID: deviceID, code: err.Code, recovered: recovered, message: err.Message})
}

func (n *recordingNotifier) DeviceLost(d devices.Descriptor, message string, recovered bool) {
	n.add(notification{kind: "device_lost", deviceID: d.ID, recovered: recovered, message: message})
}

func (n *recordingNotifier) StateChanged(from, to State, deviceID string) {
	n.add(notification{kind: "state", deviceID: deviceID, message: string(from) + "->" + string(to)})
}

func (n *recordingNotifier) DisplaySizeChanged(deviceID string, size media.Size) {
	n.add(notification{kind: "display_size", deviceID: deviceID, size: size})
}

type fakeStore struct {
	mu    sync.Mutex
	saved []string
	last  media.FormatRequest
}

func (s *fakeStore) SaveDevice(deviceID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saved = append(s.saved, deviceID)
	return nil
}

func (s *fakeStore) SaveSelection(deviceID string, format media.FormatRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saved = append(s.saved, deviceID)
	s.last = format
	return nil
}
