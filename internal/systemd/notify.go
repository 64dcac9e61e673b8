// Package systemd reports service readiness and session status to the
// service manager over sd_notify.
package systemd

import (
	"fmt"
	"log/slog"

	"github.com/coreos/go-systemd/v22/daemon"

	"github.com/smazurov/vidcap/internal/devices"
	"github.com/smazurov/vidcap/internal/logging"
	"github.com/smazurov/vidcap/internal/media"
	"github.com/smazurov/vidcap/internal/session"
)

// Notifier sends sd_notify messages. Outside a unit with NOTIFY_SOCKET
// every call is a no-op. It also implements session.Notifier, mirroring
// controller state into the unit's STATUS= line.
type Notifier struct {
	notify func(state string) (bool, error)
	logger *slog.Logger
}

func NewNotifier() *Notifier {
	return &Notifier{
		notify: func(state string) (bool, error) { return daemon.SdNotify(false, state) },
		logger: logging.GetLogger("systemd"),
	}
}

func (n *Notifier) send(state string) {
	sent, err := n.notify(state)
	if err != nil {
		n.logger.Warn("sd_notify failed", "state", state, "error", err)
		return
	}
	if sent {
		n.logger.Debug("sd_notify sent", "state", state)
	}
}

// Ready tells systemd startup has finished.
func (n *Notifier) Ready() { n.send(daemon.SdNotifyReady) }

// Stopping tells systemd shutdown has begun.
func (n *Notifier) Stopping() { n.send(daemon.SdNotifyStopping) }

// Status sets the free-form status line shown by systemctl status.
func (n *Notifier) Status(text string) { n.send("STATUS=" + text) }

func (n *Notifier) DeviceListChanged([]devices.Descriptor) {}

func (n *Notifier) PipelineError(deviceID string, err *session.Error, recovered bool) {
	if recovered {
		n.Status(fmt.Sprintf("previewing %s (recovered from error %d)", deviceID, err.Code))
		return
	}
	n.Status(fmt.Sprintf("pipeline error on %s: %s", deviceID, err.Message))
}

func (n *Notifier) DeviceLost(d devices.Descriptor, message string, recovered bool) {
	if recovered {
		return
	}
	n.Status(message + " (" + d.Name + ")")
}

func (n *Notifier) StateChanged(_, to session.State, deviceID string) {
	if deviceID == "" {
		n.Status(string(to))
		return
	}
	n.Status(string(to) + " " + deviceID)
}

func (n *Notifier) DisplaySizeChanged(string, media.Size) {}
