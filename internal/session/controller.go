// Package session owns the capture session state machine: which device is
// active, whether a pipeline is built for it and whether that pipeline runs.
package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/smazurov/vidcap/internal/devices"
	"github.com/smazurov/vidcap/internal/logging"
	"github.com/smazurov/vidcap/internal/media"
	"github.com/smazurov/vidcap/internal/metrics"
	"github.com/smazurov/vidcap/internal/pipeline"
)

// SelectionStore persists the user's device and format choice.
// SaveDevice keeps the stored format when deviceID is already the stored
// device.
type SelectionStore interface {
	SaveDevice(deviceID string) error
	SaveSelection(deviceID string, format media.FormatRequest) error
}

// Options configure a Controller.
type Options struct {
	Notifier Notifier
	Store    SelectionStore
	// AutoResume restarts preview when the device lost last time comes back.
	AutoResume bool
}

// Status is a snapshot of the controller.
type Status struct {
	State        State                 `json:"state"`
	Device       *devices.Descriptor   `json:"device,omitempty"`
	StatusText   string                `json:"status_text,omitempty"`
	DisplaySize  *media.Size           `json:"display_size,omitempty"`
	Format       *media.Format         `json:"format,omitempty"`
	Capabilities *devices.Capabilities `json:"capabilities,omitempty"`
	Aborts       int                   `json:"aborts"`
	LastError    string                `json:"last_error,omitempty"`
}

// Controller sequences build, run, stop and teardown of the capture
// pipeline. Operations are serialized: a caller waits for the running one to
// finish, and gets ErrBusy if its context ends first. The controller never
// starts goroutines of its own.
type Controller struct {
	registry  devices.Registry
	framework pipeline.Framework
	notifier  Notifier
	store     SelectionStore
	opts      Options
	logger    *slog.Logger

	slot chan struct{}

	// Guarded by slot.
	state   State
	active  *devices.Descriptor
	caps    devices.Capabilities
	filter  *pipeline.DeviceFilter
	handle  pipeline.Handle
	format  *media.Format
	display *media.Size
	aborts  int
	lastErr *Error
	lostID  string
	pending []func()

	statusMu sync.RWMutex
	status   Status
}

func NewController(registry devices.Registry, framework pipeline.Framework, opts Options) *Controller {
	n := opts.Notifier
	if n == nil {
		n = nopNotifier{}
	}
	c := &Controller{
		registry:  registry,
		framework: framework,
		notifier:  n,
		store:     opts.Store,
		opts:      opts,
		logger:    logging.GetLogger("session"),
		slot:      make(chan struct{}, 1),
		state:     StateIdle,
	}
	c.status = Status{State: StateIdle}
	metrics.SetSessionState(string(StateIdle))
	return c
}

func (c *Controller) acquire(ctx context.Context) error {
	select {
	case c.slot <- struct{}{}:
		return nil
	default:
	}
	select {
	case c.slot <- struct{}{}:
		return nil
	case <-ctx.Done():
		return newError(KindBusy, "another operation is in progress", ctx.Err())
	}
}

// release publishes the status snapshot, frees the slot and then delivers
// the notifications the operation queued.
func (c *Controller) release() {
	c.syncStatus()
	pending := c.pending
	c.pending = nil
	<-c.slot
	for _, fn := range pending {
		fn()
	}
}

func (c *Controller) notify(fn func()) {
	c.pending = append(c.pending, fn)
}

func (c *Controller) activeID() string {
	if c.active == nil {
		return ""
	}
	return c.active.ID
}

func (c *Controller) setState(to State) {
	from := c.state
	if from == to {
		return
	}
	c.state = to
	c.statusMu.Lock()
	c.status.State = to
	c.statusMu.Unlock()

	metrics.SetSessionState(string(to))
	metrics.IncSessionTransition(string(from), string(to))
	c.logger.Info("Session state changed", "from", from, "to", to, "device_id", c.activeID())

	id := c.activeID()
	c.notify(func() { c.notifier.StateChanged(from, to, id) })
}

func (c *Controller) syncStatus() {
	s := Status{State: c.state, Aborts: c.aborts}
	if c.active != nil {
		d := *c.active
		s.Device = &d
	}
	if c.filter != nil {
		caps := c.caps
		s.Capabilities = &caps
		s.StatusText = caps.StatusText()
	}
	if c.format != nil {
		f := *c.format
		s.Format = &f
	}
	if c.display != nil {
		sz := *c.display
		s.DisplaySize = &sz
	}
	if c.lastErr != nil {
		s.LastError = c.lastErr.Error()
	}
	c.statusMu.Lock()
	c.status = s
	c.statusMu.Unlock()
}

// Status returns the snapshot taken when the last operation finished, with
// the current state.
func (c *Controller) Status() Status {
	c.statusMu.RLock()
	defer c.statusMu.RUnlock()
	return c.status
}

// CurrentState never blocks on a running operation.
func (c *Controller) CurrentState() State {
	c.statusMu.RLock()
	defer c.statusMu.RUnlock()
	return c.status.State
}

// ListDevices enumerates capture devices.
func (c *Controller) ListDevices(ctx context.Context) ([]devices.Descriptor, error) {
	if err := c.acquire(ctx); err != nil {
		return nil, err
	}
	defer c.release()
	return c.enumerateLocked(ctx)
}

func (c *Controller) enumerateLocked(ctx context.Context) ([]devices.Descriptor, error) {
	list, err := c.registry.EnumerateCaptureDevices(ctx)
	if err != nil {
		return nil, newError(KindDeviceUnavailable, "enumerate capture devices", err)
	}
	metrics.SetDevicesAvailable(len(list))
	return list, nil
}

// BuildGraph builds the preview pipeline for d. It is a no-op when a
// pipeline for d already exists.
func (c *Controller) BuildGraph(ctx context.Context, d devices.Descriptor) error {
	if err := c.acquire(ctx); err != nil {
		return err
	}
	defer c.release()

	if c.state.Built() {
		if c.active != nil && c.active.Equal(d) {
			return nil
		}
		return newError(KindBuildFailed, "a pipeline for "+c.activeID()+" is already built", nil)
	}
	return c.buildLocked(ctx, d)
}

func (c *Controller) buildLocked(ctx context.Context, d devices.Descriptor) error {
	if d.ID == "" {
		return newError(KindDeviceUnavailable, "no device selected", nil)
	}
	caps, err := c.registry.Bind(ctx, d)
	if err != nil {
		return newError(KindDeviceUnavailable, "bind "+d.ID, err)
	}

	if c.filter != nil && c.filter.Device.ID != d.ID {
		c.releaseLocked()
	}
	if c.filter == nil {
		df, err := c.framework.Open(ctx, d, caps)
		if err != nil {
			return newError(KindBuildFailed, "open "+d.ID, err)
		}
		c.filter = df
	}
	c.active = &d
	c.caps = caps

	h, err := c.framework.Render(ctx, c.filter)
	if err != nil {
		c.logger.Warn("Pipeline build failed", "device_id", d.ID, "error", err)
		return newError(KindBuildFailed, "render "+d.ID, err)
	}
	c.handle = h
	c.setState(StateGraphBuilt)
	c.refreshFormatLocked()
	return nil
}

// refreshFormatLocked reads the device filter's format and derives the
// display size. Formats without raster geometry leave the size unset.
func (c *Controller) refreshFormatLocked() {
	f, err := c.framework.CurrentFormat(c.filter)
	if err != nil {
		c.logger.Warn("Failed to query capture format", "device_id", c.activeID(), "error", err)
		c.format, c.display = nil, nil
		return
	}
	c.format = &f

	size, ok := media.DisplaySize(f)
	if !ok {
		c.logger.Debug("Format has no display size", "device_id", c.activeID(), "type", f.Type, "pixel_format", f.PixelFormat)
		c.display = nil
		return
	}
	if c.display != nil && *c.display == size {
		return
	}
	c.display = &size
	id := c.activeID()
	c.notify(func() { c.notifier.DisplaySizeChanged(id, size) })
}

// StartPreview runs the built pipeline. It fails with BuildFailed when no
// pipeline is built and succeeds without effect while previewing.
func (c *Controller) StartPreview(ctx context.Context) error {
	if err := c.acquire(ctx); err != nil {
		return err
	}
	defer c.release()
	return c.startLocked(ctx)
}

func (c *Controller) startLocked(ctx context.Context) error {
	switch c.state {
	case StatePreviewing:
		return nil
	case StateIdle:
		return newError(KindBuildFailed, "no pipeline built", nil)
	}
	if err := c.framework.Run(ctx, c.handle); err != nil {
		c.logger.Warn("Pipeline failed to run", "device_id", c.activeID(), "error", err)
		return newError(KindBuildFailed, "run pipeline", err)
	}
	c.setState(StatePreviewing)
	return nil
}

// StopPreview is always safe and always succeeds unless the caller gave up
// waiting for its turn.
func (c *Controller) StopPreview(ctx context.Context) error {
	if err := c.acquire(ctx); err != nil {
		return err
	}
	defer c.release()
	c.stopLocked(ctx)
	return nil
}

func (c *Controller) stopLocked(ctx context.Context) {
	if c.state != StatePreviewing {
		return
	}
	if err := c.framework.Stop(ctx, c.handle); err != nil {
		c.logger.Warn("Pipeline stop did not complete", "device_id", c.activeID(), "error", err)
	}
	c.setState(StateGraphBuilt)
}

// TearDown stops the pipeline and removes everything downstream of the
// device filter. The device filter, its settings and the active device are
// kept, so Rebuild can bring the same device back.
func (c *Controller) TearDown(ctx context.Context) error {
	if err := c.acquire(ctx); err != nil {
		return err
	}
	defer c.release()
	c.teardownLocked(ctx)
	return nil
}

func (c *Controller) teardownLocked(ctx context.Context) {
	c.stopLocked(ctx)
	if !c.handle.IsZero() {
		c.framework.TearDown(c.handle)
		c.handle = pipeline.Handle{}
	}
	c.display = nil
	c.setState(StateIdle)
}

func (c *Controller) releaseLocked() {
	if c.filter == nil {
		return
	}
	c.framework.Close(c.filter)
	c.filter = nil
	c.format = nil
}

// Close tears down and releases the device filter. The controller is Idle
// with no active device afterwards.
func (c *Controller) Close(ctx context.Context) error {
	if err := c.acquire(ctx); err != nil {
		return err
	}
	defer c.release()
	c.teardownLocked(ctx)
	c.releaseLocked()
	c.active = nil
	c.caps = devices.Capabilities{}
	return nil
}

// SelectDevice makes d the active device and previews it. Selecting the
// active device again does nothing while its pipeline is built; after a
// failed build or a lost device it builds again. On failure the controller stays in the
// last state it reached.
func (c *Controller) SelectDevice(ctx context.Context, d devices.Descriptor) error {
	if err := c.acquire(ctx); err != nil {
		return err
	}
	defer c.release()
	return c.selectLocked(ctx, d)
}

// SelectDeviceByID resolves id against a fresh enumeration and selects it.
func (c *Controller) SelectDeviceByID(ctx context.Context, id string) error {
	if err := c.acquire(ctx); err != nil {
		return err
	}
	defer c.release()

	list, err := c.enumerateLocked(ctx)
	if err != nil {
		return err
	}
	d, ok := devices.Find(list, id)
	if !ok {
		return newError(KindDeviceUnavailable, "no capture device "+id, devices.ErrNotAvailable)
	}
	return c.selectLocked(ctx, d)
}

func (c *Controller) selectLocked(ctx context.Context, d devices.Descriptor) error {
	if c.state.Built() && c.active != nil && c.active.Equal(d) {
		c.logger.Debug("Device already active", "device_id", d.ID)
		return nil
	}

	c.teardownLocked(ctx)
	c.releaseLocked()
	c.active = &d
	c.caps = devices.Capabilities{}
	c.lostID = ""
	c.lastErr = nil

	if err := c.buildLocked(ctx, d); err != nil {
		return err
	}
	if err := c.startLocked(ctx); err != nil {
		return err
	}
	c.logger.Info("Device selected", "device_id", d.ID, "name", d.Name)
	if c.store != nil {
		if err := c.store.SaveDevice(d.ID); err != nil {
			c.logger.Warn("Failed to save device selection", "device_id", d.ID, "error", err)
		}
	}
	return nil
}

func (c *Controller) saveSelection(req media.FormatRequest) {
	if c.store == nil || c.active == nil {
		return
	}
	if err := c.store.SaveSelection(c.active.ID, req); err != nil {
		c.logger.Warn("Failed to save device selection", "device_id", c.active.ID, "error", err)
	}
}

// ChooseInitial selects preferredID when it is present, the first device
// otherwise, and stays Idle when there are no devices.
func (c *Controller) ChooseInitial(ctx context.Context, preferredID string) error {
	if err := c.acquire(ctx); err != nil {
		return err
	}
	defer c.release()

	list, err := c.enumerateLocked(ctx)
	if err != nil {
		return err
	}
	if len(list) == 0 {
		c.logger.Info("No capture devices found")
		return nil
	}
	d, ok := devices.Find(list, preferredID)
	if !ok {
		if preferredID != "" {
			c.logger.Info("Preferred device not present, using first device", "preferred", preferredID, "device_id", list[0].ID)
		}
		d = list[0]
	}
	return c.selectLocked(ctx, d)
}

// Rebuild builds and starts the pipeline for the active device, from
// whatever state the controller is in.
func (c *Controller) Rebuild(ctx context.Context) error {
	if err := c.acquire(ctx); err != nil {
		return err
	}
	defer c.release()

	if c.active == nil {
		return newError(KindDeviceUnavailable, "no device selected", nil)
	}
	if c.state == StateIdle {
		if err := c.buildLocked(ctx, *c.active); err != nil {
			return err
		}
	}
	return c.startLocked(ctx)
}

// SetFormat changes the capture format of the active device. The pipeline
// is stopped and torn down first, and brought back to the state it was in.
func (c *Controller) SetFormat(ctx context.Context, req media.FormatRequest) error {
	if err := c.acquire(ctx); err != nil {
		return err
	}
	defer c.release()

	if c.active == nil || c.filter == nil {
		return newError(KindDeviceUnavailable, "no active device", nil)
	}
	if !c.caps.Tags.Has(devices.CapStreamConfig) {
		return newError(KindBuildFailed, c.active.ID+" has no configurable stream format", pipeline.ErrNotConfigurable)
	}
	if req.IsZero() {
		return nil
	}

	prev := c.state
	c.teardownLocked(ctx)

	cfgErr := c.framework.Configure(c.filter, req)
	if cfgErr != nil {
		c.logger.Warn("Format change rejected", "device_id", c.active.ID, "error", cfgErr)
	}

	// Restore the previous state, with the new format when it was accepted.
	if prev.Built() {
		if err := c.buildLocked(ctx, *c.active); err != nil {
			return err
		}
	}
	if prev == StatePreviewing {
		if err := c.startLocked(ctx); err != nil {
			return err
		}
	}
	if cfgErr != nil {
		return newError(KindBuildFailed, "configure format", cfgErr)
	}

	if f, err := c.framework.CurrentFormat(c.filter); err == nil {
		c.format = &f
		c.saveSelection(formatRequest(f))
	}
	return nil
}

func formatRequest(f media.Format) media.FormatRequest {
	h := f.Height
	if h < 0 {
		h = -h
	}
	return media.FormatRequest{PixelFormat: f.PixelFormat, Width: f.Width, Height: h, FPS: f.FPS}
}

// HandlePipelineEvent applies a runtime event from the framework. Events for
// pipelines that no longer exist are ignored. Errors returned here are
// non-fatal and already reported through the notifier.
func (c *Controller) HandlePipelineEvent(ctx context.Context, ev pipeline.Event) error {
	if err := c.acquire(ctx); err != nil {
		return err
	}
	defer c.release()

	if c.handle.IsZero() || ev.HandleID != c.handle.ID {
		c.logger.Debug("Ignoring event for stale pipeline", "handle", ev.HandleID, "kind", ev.Kind)
		return nil
	}
	metrics.IncPipelineEvent(string(ev.Kind))

	switch ev.Kind {
	case pipeline.EventComplete, pipeline.EventUserAbort:
		c.logger.Info("Pipeline stopped on its own", "device_id", c.activeID(), "kind", ev.Kind, "code", ev.Code)
		c.setState(StateGraphBuilt)
		return nil
	case pipeline.EventDeviceLost:
		return c.deviceLostLocked(ctx, ev.Code)
	default:
		return c.pipelineErrorLocked(ctx, ev)
	}
}

// pipelineErrorLocked rebuilds and restarts after a runtime failure.
func (c *Controller) pipelineErrorLocked(ctx context.Context, ev pipeline.Event) error {
	c.aborts++
	c.logger.Error("Pipeline aborted", "device_id", c.activeID(), "code", ev.Code, "message", ev.Message)

	c.teardownLocked(ctx)
	var retryErr error
	if c.active != nil {
		if retryErr = c.buildLocked(ctx, *c.active); retryErr == nil {
			retryErr = c.startLocked(ctx)
		}
	}
	recovered := retryErr == nil && c.state == StatePreviewing

	e := &Error{Kind: KindRuntimeAborted, Message: ev.Message, Code: ev.Code, Cause: retryErr}
	if e.Message == "" {
		e.Message = "pipeline aborted"
	}
	c.lastErr = e
	id := c.activeID()
	c.notify(func() { c.notifier.PipelineError(id, e, recovered) })
	return e
}

// deviceLostLocked releases the dead device and retries it once. The
// session ends up previewing or idle.
func (c *Controller) deviceLostLocked(ctx context.Context, code int) error {
	c.aborts++
	var lost devices.Descriptor
	if c.active != nil {
		lost = *c.active
	}
	c.logger.Warn(DeviceLostMessage, "device_id", lost.ID)

	c.teardownLocked(ctx)
	c.releaseLocked()
	c.lostID = lost.ID

	var retryErr error
	if lost.ID != "" {
		if retryErr = c.buildLocked(ctx, lost); retryErr == nil {
			retryErr = c.startLocked(ctx)
		}
	}
	recovered := retryErr == nil && c.state == StatePreviewing
	if !recovered && c.state.Built() {
		c.teardownLocked(ctx)
	}
	if recovered {
		c.lostID = ""
	}

	e := &Error{Kind: KindDeviceLost, Message: DeviceLostMessage, Code: code, Cause: retryErr}
	c.lastErr = e
	c.notify(func() { c.notifier.DeviceLost(lost, DeviceLostMessage, recovered) })
	return e
}

// ChangeAction is the direction of an OS device change.
type ChangeAction string

const (
	DeviceArrived ChangeAction = "add"
	DeviceRemoved ChangeAction = "remove"
)

// DeviceChange is an OS arrival or removal in the capture category.
type DeviceChange struct {
	Action ChangeAction
	Path   string
}

// HandleDeviceChange re-enumerates and raises DeviceListChanged. Losing the
// active device while a pipeline exists is handled as device loss; the
// return of the device lost last resumes the session when AutoResume is on.
func (c *Controller) HandleDeviceChange(ctx context.Context, ch DeviceChange) error {
	if err := c.acquire(ctx); err != nil {
		return err
	}
	defer c.release()

	list, err := c.enumerateLocked(ctx)
	if err != nil {
		return err
	}
	snapshot := append([]devices.Descriptor(nil), list...)
	c.notify(func() { c.notifier.DeviceListChanged(snapshot) })

	switch ch.Action {
	case DeviceRemoved:
		if c.active == nil || !c.state.Built() {
			return nil
		}
		if _, ok := devices.Find(list, c.active.ID); ok {
			return nil
		}
		return c.deviceLostLocked(ctx, 0)

	case DeviceArrived:
		if !c.opts.AutoResume || c.lostID == "" || c.state.Built() {
			return nil
		}
		d, ok := devices.Find(list, c.lostID)
		if !ok {
			return nil
		}
		c.logger.Info("Lost device is back, resuming", "device_id", d.ID)
		c.lostID = ""
		if err := c.buildLocked(ctx, d); err != nil {
			return err
		}
		if err := c.startLocked(ctx); err != nil {
			return err
		}
		c.lastErr = nil
	}
	return nil
}

// IsBusy reports whether err means the caller gave up waiting.
func IsBusy(err error) bool {
	return errors.Is(err, ErrBusy)
}
