// Package hotplug reports kernel device arrival and removal by listening to
// netlink uevents directly, without cgo or libudev.
package hotplug

import (
	"bytes"
	"strings"
)

// Actions carried by kernel uevents.
const (
	ActionAdd    = "add"
	ActionRemove = "remove"
	ActionChange = "change"
	ActionBind   = "bind"
	ActionUnbind = "unbind"
)

// Subsystems seen by capture code.
const (
	SubsystemVideo4Linux = "video4linux"
	SubsystemUSB         = "usb"
	SubsystemSound       = "sound"
)

// Event is one parsed uevent.
type Event struct {
	Action    string
	KObj      string // /devices/... path of the kernel object
	Subsystem string
	DevType   string
	DevName   string // node name relative to /dev, e.g. "video0"
	Env       map[string]string
}

// DevicePath returns the /dev node for the event, or "" if it has none.
func (e Event) DevicePath() string {
	if e.DevName == "" {
		return ""
	}
	if strings.HasPrefix(e.DevName, "/") {
		return e.DevName
	}
	return "/dev/" + e.DevName
}

const libudevMagic = "libudev\x00"

// ParseUEvent parses "ACTION@KOBJ\0KEY=VALUE\0...". Messages re-broadcast by
// udevd carry a binary header first; it is skipped. Malformed input yields nil.
func ParseUEvent(data []byte) *Event {
	if bytes.HasPrefix(data, []byte(libudevMagic)) {
		data = skipLibudevHeader(data)
	}

	fields := bytes.Split(data, []byte{0})
	if len(fields) == 0 || len(fields[0]) == 0 {
		return nil
	}

	action, kobj, ok := strings.Cut(string(fields[0]), "@")
	if !ok || action == "" {
		return nil
	}

	ev := &Event{Action: action, KObj: kobj, Env: make(map[string]string)}
	for _, f := range fields[1:] {
		key, value, ok := strings.Cut(string(f), "=")
		if !ok || key == "" {
			continue
		}
		ev.Env[key] = value
		switch key {
		case "SUBSYSTEM":
			ev.Subsystem = value
		case "DEVTYPE":
			ev.DevType = value
		case "DEVNAME":
			ev.DevName = value
		}
	}
	return ev
}

// skipLibudevHeader returns the first NUL-separated record that looks like
// "action@path".
func skipLibudevHeader(data []byte) []byte {
	for i := 0; i < len(data)-1; i++ {
		if data[i] != 0 {
			continue
		}
		rest := data[i+1:]
		at := bytes.IndexByte(rest, '@')
		if at > 0 && at < 20 && bytes.IndexByte(rest[:at], 0) < 0 {
			return rest
		}
	}
	return nil
}
