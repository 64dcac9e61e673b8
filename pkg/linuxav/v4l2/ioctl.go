//go:build linux && (amd64 || arm64)

package v4l2

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

func ioctl(fd int, req uint, arg unsafe.Pointer) error {
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), uintptr(req), uintptr(arg))
	if errno != 0 {
		return errno
	}
	return nil
}

// withDevice opens path non-blocking for the duration of fn. Opening a
// capture node this way never starts streaming, so it is safe while another
// process is capturing from it.
func withDevice(path string, fn func(fd int) error) error {
	fd, err := unix.Open(path, unix.O_RDWR|unix.O_NONBLOCK|unix.O_CLOEXEC, 0)
	if err != nil {
		return err
	}
	defer unix.Close(fd)
	return fn(fd)
}
