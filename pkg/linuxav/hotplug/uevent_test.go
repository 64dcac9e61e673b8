package hotplug

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestParseUEvent(t *testing.T) {
	tests := []struct {
		name  string
		input []byte
		want  *Event
	}{
		{name: "empty", input: nil, want: nil},
		{name: "no separator", input: []byte("invalid"), want: nil},
		{name: "missing action", input: []byte("@/devices/foo"), want: nil},
		{
			name:  "video add",
			input: []byte("add@/devices/pci0000:00/usb1/1-1/video4linux/video0\x00ACTION=add\x00SUBSYSTEM=video4linux\x00DEVNAME=video0\x00MAJOR=81\x00"),
			want: &Event{
				Action:    "add",
				KObj:      "/devices/pci0000:00/usb1/1-1/video4linux/video0",
				Subsystem: "video4linux",
				DevName:   "video0",
				Env: map[string]string{
					"ACTION":    "add",
					"SUBSYSTEM": "video4linux",
					"DEVNAME":   "video0",
					"MAJOR":     "81",
				},
			},
		},
		{
			name:  "usb remove with devtype",
			input: []byte("remove@/devices/usb/1-1\x00SUBSYSTEM=usb\x00DEVTYPE=usb_device\x00PRODUCT=46d/825/12\x00"),
			want: &Event{
				Action:    "remove",
				KObj:      "/devices/usb/1-1",
				Subsystem: "usb",
				DevType:   "usb_device",
				Env: map[string]string{
					"SUBSYSTEM": "usb",
					"DEVTYPE":   "usb_device",
					"PRODUCT":   "46d/825/12",
				},
			},
		},
		{
			name:  "libudev header skipped",
			input: append([]byte("libudev\x00\xfe\xed\xca\xfe\x00"), []byte("remove@/devices/v\x00SUBSYSTEM=video4linux\x00")...),
			want: &Event{
				Action:    "remove",
				KObj:      "/devices/v",
				Subsystem: "video4linux",
				Env:       map[string]string{"SUBSYSTEM": "video4linux"},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseUEvent(tt.input)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("ParseUEvent() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestDevicePath(t *testing.T) {
	if got := (Event{DevName: "video2"}).DevicePath(); got != "/dev/video2" {
		t.Errorf("DevicePath() = %q", got)
	}
	if got := (Event{}).DevicePath(); got != "" {
		t.Errorf("DevicePath() with no node = %q", got)
	}
}
