//go:build linux && (amd64 || arm64)

package v4l2

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"unsafe"

	"golang.org/x/sys/unix"
)

const (
	sysClassDir = "/sys/class/video4linux"
	byIDDir     = "/dev/v4l/by-id"
)

// FindDevices returns every node that can capture video, ordered the way
// sysfs lists them.
func FindDevices() ([]DeviceInfo, error) {
	entries, err := os.ReadDir(sysClassDir)
	if err != nil {
		if os.IsNotExist(err) {
			return []DeviceInfo{}, nil
		}
		return nil, fmt.Errorf("failed to read %s: %w", sysClassDir, err)
	}

	devices := make([]DeviceInfo, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		path := "/dev/" + name

		c, err := QueryCapability(path)
		if err != nil || !c.Has(CapVideoCapture) {
			continue
		}

		index := readSysfsInt(filepath.Join(sysClassDir, name, "index"))
		id := stableID(name, index)
		if id == "" {
			prefix := "platform-"
			if strings.HasPrefix(c.BusInfo, "usb-") {
				prefix = ""
			}
			id = fmt.Sprintf("%s%s-video-index%d", prefix, c.BusInfo, index)
		}

		devices = append(devices, DeviceInfo{
			DevicePath: path,
			DeviceName: c.Card,
			DeviceID:   id,
			Caps:       c.Caps,
		})
	}
	return devices, nil
}

// QueryCapability runs VIDIOC_QUERYCAP on path.
func QueryCapability(path string) (Capability, error) {
	var raw v4l2Capability
	err := withDevice(path, func(fd int) error {
		return ioctl(fd, vidiocQuerycap, unsafe.Pointer(&raw))
	})
	if err != nil {
		return Capability{}, fmt.Errorf("querycap %s: %w", path, err)
	}

	caps := raw.capabilities
	if caps&CapDeviceCaps != 0 {
		caps = raw.deviceCaps
	}
	return Capability{
		Driver:  cstr(raw.driver[:]),
		Card:    cstr(raw.card[:]),
		BusInfo: cstr(raw.busInfo[:]),
		Version: raw.version,
		Caps:    caps,
	}, nil
}

// GetFormats enumerates the capture pixel formats of path.
func GetFormats(path string) ([]FormatInfo, error) {
	var formats []FormatInfo
	err := withDevice(path, func(fd int) error {
		for i := uint32(0); ; i++ {
			desc := v4l2Fmtdesc{index: i, typ: bufTypeVideoCapture}
			if err := ioctl(fd, vidiocEnumFmt, unsafe.Pointer(&desc)); err != nil {
				if errors.Is(err, unix.EINVAL) {
					return nil
				}
				return fmt.Errorf("enum format %d: %w", i, err)
			}
			formats = append(formats, FormatInfo{
				PixelFormat: desc.pixelformat,
				Description: cstr(desc.description[:]),
				Compressed:  desc.flags&FmtFlagCompressed != 0,
				Emulated:    desc.flags&FmtFlagEmulated != 0,
			})
		}
	})
	if err != nil {
		return nil, fmt.Errorf("formats %s: %w", path, err)
	}
	return formats, nil
}

// GetFormat returns the format currently negotiated on path.
func GetFormat(path string) (PixFormat, error) {
	f := v4l2Format{typ: bufTypeVideoCapture}
	err := withDevice(path, func(fd int) error {
		return ioctl(fd, vidiocGFmt, unsafe.Pointer(&f))
	})
	if err != nil {
		return PixFormat{}, fmt.Errorf("get format %s: %w", path, err)
	}
	p := f.pix()
	return PixFormat{
		Width:        p.width,
		Height:       p.height,
		PixelFormat:  p.pixelformat,
		BytesPerLine: p.bytesperline,
		SizeImage:    p.sizeimage,
	}, nil
}

// CountInputs returns how many video inputs the device can route between.
// Devices that do not implement VIDIOC_ENUMINPUT report one.
func CountInputs(path string) (int, error) {
	n := 0
	err := withDevice(path, func(fd int) error {
		for {
			in := v4l2Input{index: uint32(n)}
			if err := ioctl(fd, vidiocEnumInput, unsafe.Pointer(&in)); err != nil {
				if errors.Is(err, unix.EINVAL) || errors.Is(err, unix.ENOTTY) {
					return nil
				}
				return err
			}
			n++
		}
	})
	if err != nil {
		return 0, fmt.Errorf("enum inputs %s: %w", path, err)
	}
	if n == 0 {
		n = 1
	}
	return n, nil
}

// stableID finds the /dev/v4l/by-id link pointing at node.
func stableID(node string, index int) string {
	entries, err := os.ReadDir(byIDDir)
	if err != nil {
		return ""
	}
	suffix := fmt.Sprintf("-video-index%d", index)
	for _, e := range entries {
		if e.Type()&os.ModeSymlink == 0 || !strings.HasSuffix(e.Name(), suffix) {
			continue
		}
		target, err := os.Readlink(filepath.Join(byIDDir, e.Name()))
		if err == nil && filepath.Base(target) == node {
			return e.Name()
		}
	}
	return ""
}

func readSysfsInt(path string) int {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0
	}
	v, _ := strconv.Atoi(strings.TrimSpace(string(data)))
	return v
}
