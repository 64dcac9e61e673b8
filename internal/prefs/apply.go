package prefs

import (
	"context"
	"time"

	"github.com/smazurov/vidcap/internal/config"
	"github.com/smazurov/vidcap/internal/logging"
	"github.com/smazurov/vidcap/internal/media"
	"github.com/smazurov/vidcap/internal/session"
)

var _ session.SelectionStore = (*Store)(nil)

// applyTimeout bounds how long a file edit waits for the controller.
const applyTimeout = 30 * time.Second

// Session is the part of the controller a Selection is applied to.
type Session interface {
	Status() session.Status
	SelectDeviceByID(ctx context.Context, id string) error
	SetFormat(ctx context.Context, req media.FormatRequest) error
}

// Apply brings the session in line with sel. Only what differs is changed,
// so applying the selection the session itself just saved is a no-op.
func Apply(ctx context.Context, s Session, sel Selection) error {
	st := s.Status()
	if sel.DeviceID != "" && (st.Device == nil || st.Device.ID != sel.DeviceID || !st.State.Built()) {
		if err := s.SelectDeviceByID(ctx, sel.DeviceID); err != nil {
			return err
		}
		st = s.Status()
	}
	if sel.Format.IsZero() || st.Device == nil {
		return nil
	}
	if st.Format != nil && Matches(sel.Format, *st.Format) {
		return nil
	}
	return s.SetFormat(ctx, sel.Format)
}

// Matches reports whether every field req sets already holds in f.
func Matches(req media.FormatRequest, f media.Format) bool {
	h := f.Height
	if h < 0 {
		h = -h
	}
	switch {
	case req.PixelFormat != "" && req.PixelFormat != f.PixelFormat:
		return false
	case req.Width > 0 && req.Width != f.Width:
		return false
	case req.Height > 0 && req.Height != h:
		return false
	case req.FPS > 0 && req.FPS != f.FPS:
		return false
	}
	return true
}

// Watcher applies edits made to the preferences file while running.
type Watcher struct {
	watcher *config.Watcher[Selection]
}

// Watch starts watching store's file and applying changes to s.
func Watch(store *Store, s Session, opts ...config.WatcherOption[Selection]) (*Watcher, error) {
	logger := logging.GetLogger("prefs")
	w := config.NewConfigWatcher(store.Path(), LoadFile, logger, opts...)
	w.OnReload(func(sel Selection) {
		store.set(sel)
		ctx, cancel := context.WithTimeout(context.Background(), applyTimeout)
		defer cancel()
		if err := Apply(ctx, s, sel); err != nil {
			logger.Warn("Failed to apply edited preferences", "device_id", sel.DeviceID, "error", err)
			return
		}
		logger.Debug("Preferences applied", "device_id", sel.DeviceID)
	})
	if err := w.Start(); err != nil {
		return nil, err
	}
	return &Watcher{watcher: w}, nil
}

func (w *Watcher) Stop() error {
	return w.watcher.Stop()
}
