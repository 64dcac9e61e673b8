package session

import (
	"context"
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/smazurov/vidcap/internal/devices"
	"github.com/smazurov/vidcap/internal/media"
	"github.com/smazurov/vidcap/internal/pipeline"
)

type harness struct {
	ctrl     *Controller
	registry *fakeRegistry
	fw       *fakeFramework
	notes    *recordingNotifier
	store    *fakeStore
}

func newHarness(t *testing.T, opts Options, ds ...devices.Descriptor) *harness {
	t.Helper()
	h := &harness{
		registry: newFakeRegistry(ds...),
		fw:       newFakeFramework(),
		notes:    &recordingNotifier{},
		store:    &fakeStore{},
	}
	opts.Notifier = h.notes
	opts.Store = h.store
	h.ctrl = NewController(h.registry, h.fw, opts)
	return h
}

func mustState(t *testing.T, c *Controller, want State) {
	t.Helper()
	if got := c.CurrentState(); got != want {
		t.Fatalf("state = %s, want %s", got, want)
	}
}

func TestSelectDeviceBuildsAndPreviews(t *testing.T) {
	h := newHarness(t, Options{}, dev("cam0"))
	ctx := context.Background()

	if err := h.ctrl.SelectDevice(ctx, dev("cam0")); err != nil {
		t.Fatalf("SelectDevice() error = %v", err)
	}
	mustState(t, h.ctrl, StatePreviewing)

	want := []string{"open:cam0", "render:cam0", "run:h1"}
	if diff := cmp.Diff(want, h.fw.Calls()); diff != "" {
		t.Errorf("framework calls (-want +got):\n%s", diff)
	}

	st := h.ctrl.Status()
	if st.Device == nil || st.Device.ID != "cam0" {
		t.Errorf("status device = %+v", st.Device)
	}
	if st.StatusText != "Camera cam0" {
		t.Errorf("status text = %q, want friendly name", st.StatusText)
	}
	if diff := cmp.Diff([]string{"cam0"}, h.store.saved); diff != "" {
		t.Errorf("saved selections (-want +got):\n%s", diff)
	}
}

func TestStopPreviewIdempotent(t *testing.T) {
	h := newHarness(t, Options{}, dev("cam0"))
	ctx := context.Background()

	// Safe before anything is built.
	if err := h.ctrl.StopPreview(ctx); err != nil {
		t.Fatalf("StopPreview() on idle = %v", err)
	}
	mustState(t, h.ctrl, StateIdle)

	if err := h.ctrl.SelectDevice(ctx, dev("cam0")); err != nil {
		t.Fatal(err)
	}
	for i := range 2 {
		if err := h.ctrl.StopPreview(ctx); err != nil {
			t.Fatalf("StopPreview() #%d error = %v", i+1, err)
		}
		mustState(t, h.ctrl, StateGraphBuilt)
	}
	if n := h.fw.count("stop"); n != 1 {
		t.Errorf("framework Stop called %d times, want 1", n)
	}
}

func TestStartPreview(t *testing.T) {
	h := newHarness(t, Options{}, dev("cam0"))
	ctx := context.Background()

	err := h.ctrl.StartPreview(ctx)
	if !errors.Is(err, ErrBuildFailed) {
		t.Fatalf("StartPreview() on idle = %v, want BuildFailed", err)
	}
	mustState(t, h.ctrl, StateIdle)

	if err := h.ctrl.BuildGraph(ctx, dev("cam0")); err != nil {
		t.Fatalf("BuildGraph() error = %v", err)
	}
	mustState(t, h.ctrl, StateGraphBuilt)

	for range 2 {
		if err := h.ctrl.StartPreview(ctx); err != nil {
			t.Fatalf("StartPreview() error = %v", err)
		}
	}
	mustState(t, h.ctrl, StatePreviewing)
	if n := h.fw.count("run"); n != 1 {
		t.Errorf("framework Run called %d times, want 1", n)
	}
}

func TestSelectSameDeviceDoesNotRebuild(t *testing.T) {
	h := newHarness(t, Options{}, dev("cam0"))
	ctx := context.Background()

	if err := h.ctrl.SelectDevice(ctx, dev("cam0")); err != nil {
		t.Fatal(err)
	}
	h.fw.reset()

	if err := h.ctrl.SelectDevice(ctx, dev("cam0")); err != nil {
		t.Fatalf("second SelectDevice() error = %v", err)
	}
	if calls := h.fw.Calls(); len(calls) != 0 {
		t.Errorf("framework calls = %v, want none", calls)
	}
	mustState(t, h.ctrl, StatePreviewing)
}

func TestReselectRebuildsAfterFailure(t *testing.T) {
	ctx := context.Background()

	t.Run("after failed build", func(t *testing.T) {
		h := newHarness(t, Options{}, dev("cam0"))
		h.fw.renderErr = pipeline.ErrUnsupportedFormat
		if err := h.ctrl.SelectDevice(ctx, dev("cam0")); !errors.Is(err, ErrBuildFailed) {
			t.Fatalf("first SelectDevice() = %v, want BuildFailed", err)
		}
		mustState(t, h.ctrl, StateIdle)

		h.fw.renderErr = nil
		if err := h.ctrl.SelectDevice(ctx, dev("cam0")); err != nil {
			t.Fatalf("second SelectDevice() = %v", err)
		}
		mustState(t, h.ctrl, StatePreviewing)
	})

	t.Run("after device lost", func(t *testing.T) {
		h := newHarness(t, Options{AutoResume: false}, dev("cam0"))
		if err := h.ctrl.SelectDevice(ctx, dev("cam0")); err != nil {
			t.Fatal(err)
		}
		h.registry.remove("cam0")
		err := h.ctrl.HandlePipelineEvent(ctx, pipeline.Event{Kind: pipeline.EventDeviceLost, HandleID: h.fw.handle().ID})
		if !errors.Is(err, ErrDeviceLost) {
			t.Fatalf("HandlePipelineEvent() = %v, want DeviceLost", err)
		}
		mustState(t, h.ctrl, StateIdle)

		h.registry.add(dev("cam0"), rasterCaps("Camera cam0"))
		if err := h.ctrl.HandleDeviceChange(ctx, DeviceChange{Action: DeviceArrived}); err != nil {
			t.Fatalf("HandleDeviceChange(add) = %v", err)
		}
		mustState(t, h.ctrl, StateIdle)
		h.fw.reset()

		if err := h.ctrl.SelectDeviceByID(ctx, "cam0"); err != nil {
			t.Fatalf("SelectDeviceByID(cam0) = %v", err)
		}
		mustState(t, h.ctrl, StatePreviewing)
		if got := h.fw.count("render"); got != 1 {
			t.Errorf("render calls after reselect = %d, want 1", got)
		}
	})
}

func TestSelectDeviceSequence(t *testing.T) {
	h := newHarness(t, Options{}, dev("cam0"), dev("cam1"))
	ctx := context.Background()

	if err := h.ctrl.SelectDevice(ctx, dev("cam0")); err != nil {
		t.Fatal(err)
	}
	h.fw.reset()

	if err := h.ctrl.SelectDevice(ctx, dev("cam1")); err != nil {
		t.Fatalf("SelectDevice(cam1) error = %v", err)
	}
	want := []string{"stop:h1", "teardown:h1", "close:cam0", "open:cam1", "render:cam1", "run:h2"}
	if diff := cmp.Diff(want, h.fw.Calls()); diff != "" {
		t.Errorf("framework calls (-want +got):\n%s", diff)
	}
	mustState(t, h.ctrl, StatePreviewing)
}

func TestTearDownKeepsDeviceFilter(t *testing.T) {
	h := newHarness(t, Options{}, dev("cam0"))
	ctx := context.Background()

	if err := h.ctrl.SelectDevice(ctx, dev("cam0")); err != nil {
		t.Fatal(err)
	}
	if err := h.ctrl.TearDown(ctx); err != nil {
		t.Fatal(err)
	}
	mustState(t, h.ctrl, StateIdle)
	if n := h.fw.count("close"); n != 0 {
		t.Errorf("device filter closed %d times by TearDown", n)
	}
	if st := h.ctrl.Status(); st.DisplaySize != nil {
		t.Errorf("display size after teardown = %v, want none", st.DisplaySize)
	}

	if err := h.ctrl.Rebuild(ctx); err != nil {
		t.Fatalf("Rebuild() error = %v", err)
	}
	mustState(t, h.ctrl, StatePreviewing)
	if n := h.fw.count("open"); n != 1 {
		t.Errorf("device opened %d times, want 1", n)
	}

	if err := h.ctrl.Close(ctx); err != nil {
		t.Fatal(err)
	}
	mustState(t, h.ctrl, StateIdle)
	if n := h.fw.count("close"); n != 1 {
		t.Errorf("device filter closed %d times by Close, want 1", n)
	}
	if err := h.ctrl.Rebuild(ctx); !errors.Is(err, ErrDeviceUnavailable) {
		t.Errorf("Rebuild() after Close = %v, want DeviceUnavailable", err)
	}
}

func TestBuildFailures(t *testing.T) {
	tests := []struct {
		name      string
		setup     func(h *harness)
		device    devices.Descriptor
		wantErr   error
		wantState State
	}{
		{
			name:      "render rejected",
			setup:     func(h *harness) { h.fw.renderErr = pipeline.ErrUnsupportedFormat },
			device:    dev("cam0"),
			wantErr:   ErrBuildFailed,
			wantState: StateIdle,
		},
		{
			name:      "device vanished before bind",
			setup:     func(h *harness) { h.registry.remove("cam0") },
			device:    dev("cam0"),
			wantErr:   ErrDeviceUnavailable,
			wantState: StateIdle,
		},
		{
			name:      "run fails",
			setup:     func(h *harness) { h.fw.runErr = errFake },
			device:    dev("cam0"),
			wantErr:   ErrBuildFailed,
			wantState: StateGraphBuilt,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, Options{}, dev("cam0"))
			tt.setup(h)

			err := h.ctrl.SelectDevice(context.Background(), tt.device)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("SelectDevice() = %v, want %v", err, tt.wantErr)
			}
			mustState(t, h.ctrl, tt.wantState)
			if tt.wantState == StateIdle && !h.fw.handle().IsZero() {
				t.Error("pipeline handle left behind after failed build")
			}
			if len(h.store.saved) != 0 {
				t.Errorf("failed selection was saved: %v", h.store.saved)
			}
		})
	}
}

func TestDisplaySize(t *testing.T) {
	t.Run("bottom-up raster", func(t *testing.T) {
		h := newHarness(t, Options{}, dev("cam0"))
		if err := h.ctrl.SelectDevice(context.Background(), dev("cam0")); err != nil {
			t.Fatal(err)
		}
		want := media.Size{Width: 640, Height: 480}
		if st := h.ctrl.Status(); st.DisplaySize == nil || *st.DisplaySize != want {
			t.Errorf("display size = %v, want %v", st.DisplaySize, want)
		}
		got := h.notes.of("display_size")
		if len(got) != 1 || got[0].size != want {
			t.Errorf("display size notifications = %+v", got)
		}
	})

	t.Run("interleaved format", func(t *testing.T) {
		h := newHarness(t, Options{})
		caps := rasterCaps("DV Camcorder")
		caps.Format = media.Format{Type: media.TypeStream, PixelFormat: "dvsd", Width: 720, Height: 480}
		h.registry.add(dev("dv0"), caps)

		if err := h.ctrl.SelectDevice(context.Background(), dev("dv0")); err != nil {
			t.Fatalf("SelectDevice() error = %v", err)
		}
		mustState(t, h.ctrl, StatePreviewing)
		if st := h.ctrl.Status(); st.DisplaySize != nil {
			t.Errorf("display size = %v, want none", st.DisplaySize)
		}
		if got := h.notes.of("display_size"); len(got) != 0 {
			t.Errorf("unexpected display size notifications %+v", got)
		}
	})
}

func TestStatusText(t *testing.T) {
	h := newHarness(t, Options{})
	caps := rasterCaps("Capture Card")
	caps.Compression = devices.CompressionInfo{Description: "saa7134", Version: "5.15.0"}
	h.registry.add(dev("card"), caps)

	if err := h.ctrl.SelectDevice(context.Background(), dev("card")); err != nil {
		t.Fatal(err)
	}
	if got := h.ctrl.Status().StatusText; got != "saa7134 - 5.15.0" {
		t.Errorf("status text = %q", got)
	}
}

func TestPipelineEvents(t *testing.T) {
	ctx := context.Background()

	t.Run("completion leaves graph built", func(t *testing.T) {
		for _, kind := range []pipeline.EventKind{pipeline.EventComplete, pipeline.EventUserAbort} {
			h := newHarness(t, Options{}, dev("cam0"))
			if err := h.ctrl.SelectDevice(ctx, dev("cam0")); err != nil {
				t.Fatal(err)
			}
			ev := pipeline.Event{Kind: kind, HandleID: h.fw.handle().ID}
			if err := h.ctrl.HandlePipelineEvent(ctx, ev); err != nil {
				t.Errorf("%s: HandlePipelineEvent() = %v", kind, err)
			}
			mustState(t, h.ctrl, StateGraphBuilt)
		}
	})

	t.Run("stale handle ignored", func(t *testing.T) {
		h := newHarness(t, Options{}, dev("cam0"))
		if err := h.ctrl.SelectDevice(ctx, dev("cam0")); err != nil {
			t.Fatal(err)
		}
		err := h.ctrl.HandlePipelineEvent(ctx, pipeline.Event{Kind: pipeline.EventErrorAbort, Code: 1, HandleID: "old"})
		if err != nil {
			t.Errorf("HandlePipelineEvent() = %v", err)
		}
		mustState(t, h.ctrl, StatePreviewing)
		if n := h.fw.count("render"); n != 1 {
			t.Errorf("render called %d times, want 1", n)
		}
	})

	t.Run("error abort rebuilds", func(t *testing.T) {
		h := newHarness(t, Options{}, dev("cam0"))
		if err := h.ctrl.SelectDevice(ctx, dev("cam0")); err != nil {
			t.Fatal(err)
		}
		h.fw.reset()

		err := h.ctrl.HandlePipelineEvent(ctx, pipeline.Event{Kind: pipeline.EventErrorAbort, Code: 187, HandleID: h.fw.handle().ID})
		if !errors.Is(err, ErrRuntimeAborted) {
			t.Fatalf("HandlePipelineEvent() = %v, want RuntimeAborted", err)
		}
		mustState(t, h.ctrl, StatePreviewing)

		want := []string{"stop:h1", "teardown:h1", "render:cam0", "run:h2"}
		if diff := cmp.Diff(want, h.fw.Calls()); diff != "" {
			t.Errorf("framework calls (-want +got):\n%s", diff)
		}
		got := h.notes.of("pipeline_error")
		if len(got) != 1 || got[0].code != 187 || !got[0].recovered {
			t.Errorf("pipeline error notifications = %+v", got)
		}
		if st := h.ctrl.Status(); st.Aborts != 1 || st.LastError == "" {
			t.Errorf("status = %+v", st)
		}
	})
}

func TestDeviceLost(t *testing.T) {
	ctx := context.Background()

	t.Run("retry succeeds", func(t *testing.T) {
		h := newHarness(t, Options{}, dev("cam0"))
		if err := h.ctrl.SelectDevice(ctx, dev("cam0")); err != nil {
			t.Fatal(err)
		}

		err := h.ctrl.HandlePipelineEvent(ctx, pipeline.Event{Kind: pipeline.EventDeviceLost, HandleID: h.fw.handle().ID})
		if !errors.Is(err, ErrDeviceLost) {
			t.Fatalf("HandlePipelineEvent() = %v, want DeviceLost", err)
		}
		mustState(t, h.ctrl, StatePreviewing)
		if n := h.fw.count("close"); n != 1 {
			t.Errorf("dead device filter closed %d times, want 1", n)
		}
		got := h.notes.of("device_lost")
		if len(got) != 1 || !got[0].recovered || got[0].message != DeviceLostMessage {
			t.Errorf("device lost notifications = %+v", got)
		}
	})

	t.Run("retry fails", func(t *testing.T) {
		h := newHarness(t, Options{}, dev("cam0"))
		if err := h.ctrl.SelectDevice(ctx, dev("cam0")); err != nil {
			t.Fatal(err)
		}
		h.registry.remove("cam0")

		err := h.ctrl.HandlePipelineEvent(ctx, pipeline.Event{Kind: pipeline.EventDeviceLost, HandleID: h.fw.handle().ID})
		if !errors.Is(err, ErrDeviceLost) {
			t.Fatalf("HandlePipelineEvent() = %v, want DeviceLost", err)
		}
		mustState(t, h.ctrl, StateIdle)
		got := h.notes.of("device_lost")
		if len(got) != 1 || got[0].recovered {
			t.Errorf("device lost notifications = %+v", got)
		}
	})

	t.Run("retry builds but cannot run", func(t *testing.T) {
		h := newHarness(t, Options{}, dev("cam0"))
		if err := h.ctrl.SelectDevice(ctx, dev("cam0")); err != nil {
			t.Fatal(err)
		}
		h.fw.runErr = errFake

		_ = h.ctrl.HandlePipelineEvent(ctx, pipeline.Event{Kind: pipeline.EventDeviceLost, HandleID: h.fw.handle().ID})
		mustState(t, h.ctrl, StateIdle)
	})
}

func TestHandleDeviceChange(t *testing.T) {
	ctx := context.Background()

	t.Run("removal of active device", func(t *testing.T) {
		h := newHarness(t, Options{}, dev("cam0"), dev("cam1"))
		if err := h.ctrl.SelectDevice(ctx, dev("cam0")); err != nil {
			t.Fatal(err)
		}
		h.registry.remove("cam0")

		err := h.ctrl.HandleDeviceChange(ctx, DeviceChange{Action: DeviceRemoved, Path: "/dev/cam0"})
		if !errors.Is(err, ErrDeviceLost) {
			t.Fatalf("HandleDeviceChange() = %v, want DeviceLost", err)
		}
		mustState(t, h.ctrl, StateIdle)
		if got := h.notes.of("device_list"); len(got) != 1 || got[0].code != 1 {
			t.Errorf("device list notifications = %+v", got)
		}
	})

	t.Run("removal of another device", func(t *testing.T) {
		h := newHarness(t, Options{}, dev("cam0"), dev("cam1"))
		if err := h.ctrl.SelectDevice(ctx, dev("cam0")); err != nil {
			t.Fatal(err)
		}
		h.registry.remove("cam1")

		if err := h.ctrl.HandleDeviceChange(ctx, DeviceChange{Action: DeviceRemoved}); err != nil {
			t.Fatalf("HandleDeviceChange() = %v", err)
		}
		mustState(t, h.ctrl, StatePreviewing)
	})

	for _, autoResume := range []bool{true, false} {
		name := "re-added device stays idle"
		want := StateIdle
		if autoResume {
			name = "re-added device resumes"
			want = StatePreviewing
		}
		t.Run(name, func(t *testing.T) {
			h := newHarness(t, Options{AutoResume: autoResume}, dev("cam0"))
			if err := h.ctrl.SelectDevice(ctx, dev("cam0")); err != nil {
				t.Fatal(err)
			}
			h.registry.remove("cam0")
			_ = h.ctrl.HandleDeviceChange(ctx, DeviceChange{Action: DeviceRemoved})
			mustState(t, h.ctrl, StateIdle)

			h.registry.add(dev("cam0"), rasterCaps("Camera cam0"))
			if err := h.ctrl.HandleDeviceChange(ctx, DeviceChange{Action: DeviceArrived}); err != nil {
				t.Fatalf("HandleDeviceChange(add) = %v", err)
			}
			mustState(t, h.ctrl, want)
		})
	}
}

func TestChooseInitial(t *testing.T) {
	tests := []struct {
		name      string
		devices   []devices.Descriptor
		preferred string
		wantID    string
	}{
		{"preferred present", []devices.Descriptor{dev("cam0"), dev("cam1")}, "cam1", "cam1"},
		{"preferred missing", []devices.Descriptor{dev("cam0"), dev("cam1")}, "gone", "cam0"},
		{"no preference", []devices.Descriptor{dev("cam0")}, "", "cam0"},
		{"no devices", nil, "cam0", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, Options{}, tt.devices...)
			if err := h.ctrl.ChooseInitial(context.Background(), tt.preferred); err != nil {
				t.Fatalf("ChooseInitial() error = %v", err)
			}
			st := h.ctrl.Status()
			if tt.wantID == "" {
				if st.Device != nil || st.State != StateIdle {
					t.Errorf("status = %+v, want idle with no device", st)
				}
				return
			}
			if st.Device == nil || st.Device.ID != tt.wantID || st.State != StatePreviewing {
				t.Errorf("status = %+v, want previewing %s", st, tt.wantID)
			}
		})
	}
}

func TestSelectDeviceByID(t *testing.T) {
	h := newHarness(t, Options{}, dev("cam0"))
	ctx := context.Background()

	if err := h.ctrl.SelectDeviceByID(ctx, "nope"); !errors.Is(err, ErrDeviceUnavailable) {
		t.Errorf("SelectDeviceByID(nope) = %v, want DeviceUnavailable", err)
	}
	if err := h.ctrl.SelectDeviceByID(ctx, "cam0"); err != nil {
		t.Fatalf("SelectDeviceByID(cam0) = %v", err)
	}
	mustState(t, h.ctrl, StatePreviewing)
}

func TestSetFormat(t *testing.T) {
	ctx := context.Background()

	t.Run("restores previewing with new size", func(t *testing.T) {
		h := newHarness(t, Options{}, dev("cam0"))
		if err := h.ctrl.SelectDevice(ctx, dev("cam0")); err != nil {
			t.Fatal(err)
		}
		h.fw.reset()

		req := media.FormatRequest{PixelFormat: "mjpeg", Width: 1280, Height: 720}
		if err := h.ctrl.SetFormat(ctx, req); err != nil {
			t.Fatalf("SetFormat() error = %v", err)
		}
		mustState(t, h.ctrl, StatePreviewing)

		want := []string{"stop:h1", "teardown:h1", "configure:cam0", "render:cam0", "run:h2"}
		if diff := cmp.Diff(want, h.fw.Calls()); diff != "" {
			t.Errorf("framework calls (-want +got):\n%s", diff)
		}
		if st := h.ctrl.Status(); st.DisplaySize == nil || *st.DisplaySize != (media.Size{Width: 1280, Height: 720}) {
			t.Errorf("display size = %v", st.DisplaySize)
		}
		wantSaved := media.FormatRequest{PixelFormat: "mjpeg", Width: 1280, Height: 720, FPS: 30}
		if diff := cmp.Diff(wantSaved, h.store.last); diff != "" {
			t.Errorf("saved format (-want +got):\n%s", diff)
		}
	})

	t.Run("rejected format keeps pipeline", func(t *testing.T) {
		h := newHarness(t, Options{}, dev("cam0"))
		if err := h.ctrl.SelectDevice(ctx, dev("cam0")); err != nil {
			t.Fatal(err)
		}
		h.fw.configureErr = pipeline.ErrUnsupportedFormat

		err := h.ctrl.SetFormat(ctx, media.FormatRequest{PixelFormat: "nv12"})
		if !errors.Is(err, ErrBuildFailed) || !errors.Is(err, pipeline.ErrUnsupportedFormat) {
			t.Fatalf("SetFormat() = %v", err)
		}
		mustState(t, h.ctrl, StatePreviewing)
	})

	t.Run("device without stream config", func(t *testing.T) {
		h := newHarness(t, Options{})
		caps := rasterCaps("Fixed")
		caps.Tags = devices.CapStreaming
		h.registry.add(dev("fixed"), caps)
		if err := h.ctrl.SelectDevice(ctx, dev("fixed")); err != nil {
			t.Fatal(err)
		}
		if err := h.ctrl.SetFormat(ctx, media.FormatRequest{Width: 320}); !errors.Is(err, ErrBuildFailed) {
			t.Errorf("SetFormat() = %v, want BuildFailed", err)
		}
	})

	t.Run("no active device", func(t *testing.T) {
		h := newHarness(t, Options{}, dev("cam0"))
		if err := h.ctrl.SetFormat(ctx, media.FormatRequest{Width: 320}); !errors.Is(err, ErrDeviceUnavailable) {
			t.Errorf("SetFormat() = %v, want DeviceUnavailable", err)
		}
	})
}

func TestBusyWhenContextEndsWhileQueued(t *testing.T) {
	h := newHarness(t, Options{}, dev("cam0"))

	// Occupy the slot as a running operation would.
	h.ctrl.slot <- struct{}{}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := h.ctrl.SelectDevice(ctx, dev("cam0"))
	if !errors.Is(err, ErrBusy) || !IsBusy(err) {
		t.Fatalf("SelectDevice() = %v, want Busy", err)
	}
	if KindOf(err) != KindBusy {
		t.Errorf("KindOf() = %q", KindOf(err))
	}

	<-h.ctrl.slot
	if err := h.ctrl.SelectDevice(context.Background(), dev("cam0")); err != nil {
		t.Fatalf("SelectDevice() after release = %v", err)
	}
}

func TestNotificationsDeliveredOutsideOperation(t *testing.T) {
	h := newHarness(t, Options{}, dev("cam0"))
	ctx := context.Background()

	reentered := make(chan error, 8)
	h.notes.hook = func(kind string) {
		if kind != "device_list" {
			return
		}
		// Would block forever if notifications ran while the slot is held.
		cctx, cancel := context.WithTimeout(ctx, time.Second)
		defer cancel()
		_, err := h.ctrl.ListDevices(cctx)
		reentered <- err
	}

	if err := h.ctrl.HandleDeviceChange(ctx, DeviceChange{Action: DeviceArrived}); err != nil {
		t.Fatal(err)
	}
	select {
	case err := <-reentered:
		if err != nil {
			t.Errorf("re-entrant ListDevices() = %v", err)
		}
	default:
		t.Fatal("device list notification not delivered")
	}
}

func TestRandomOperationsKeepValidState(t *testing.T) {
	h := newHarness(t, Options{AutoResume: true}, dev("cam0"), dev("cam1"))
	ctx := context.Background()
	rng := rand.New(rand.NewSource(42))
	valid := map[State]bool{StateIdle: true, StateGraphBuilt: true, StatePreviewing: true}

	ops := []func(){
		func() { _ = h.ctrl.SelectDevice(ctx, dev("cam0")) },
		func() { _ = h.ctrl.SelectDevice(ctx, dev("cam1")) },
		func() { _ = h.ctrl.StartPreview(ctx) },
		func() { _ = h.ctrl.StopPreview(ctx) },
		func() { _ = h.ctrl.TearDown(ctx) },
		func() { _ = h.ctrl.Rebuild(ctx) },
		func() {
			_ = h.ctrl.HandlePipelineEvent(ctx, pipeline.Event{Kind: pipeline.EventErrorAbort, Code: 1, HandleID: h.fw.handle().ID})
		},
		func() {
			_ = h.ctrl.HandlePipelineEvent(ctx, pipeline.Event{Kind: pipeline.EventDeviceLost, HandleID: h.fw.handle().ID})
		},
	}

	for i := range 500 {
		ops[rng.Intn(len(ops))]()
		st := h.ctrl.CurrentState()
		if !valid[st] {
			t.Fatalf("step %d: invalid state %q", i, st)
		}
		// A built state always has exactly one pipeline behind it.
		if st.Built() == h.fw.handle().IsZero() {
			t.Fatalf("step %d: state %s with handle %q", i, st, h.fw.handle().ID)
		}
	}
}
