//go:build linux

package hotplug

import (
	"context"
	"errors"
	"sync"

	"golang.org/x/sys/unix"
)

const kernelGroup = 1

// Monitor reads uevents from the kernel broadcast group.
type Monitor struct {
	fd int

	mu         sync.RWMutex
	subsystems map[string]bool
}

// NewMonitor opens a NETLINK_KOBJECT_UEVENT socket.
func NewMonitor() (*Monitor, error) {
	fd, err := unix.Socket(unix.AF_NETLINK, unix.SOCK_DGRAM|unix.SOCK_CLOEXEC, unix.NETLINK_KOBJECT_UEVENT)
	if err != nil {
		return nil, err
	}
	if err := unix.Bind(fd, &unix.SockaddrNetlink{Family: unix.AF_NETLINK, Groups: kernelGroup}); err != nil {
		unix.Close(fd)
		return nil, err
	}
	return &Monitor{fd: fd, subsystems: make(map[string]bool)}, nil
}

// AddSubsystemFilter restricts delivery to the named subsystems. With no
// filters every event is delivered.
func (m *Monitor) AddSubsystemFilter(subsystem string) {
	m.mu.Lock()
	m.subsystems[subsystem] = true
	m.mu.Unlock()
}

func (m *Monitor) accepts(subsystem string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.subsystems) == 0 || m.subsystems[subsystem]
}

func (m *Monitor) Close() error {
	return unix.Close(m.fd)
}

// Run delivers events to out until ctx ends or the socket fails, then closes out.
func (m *Monitor) Run(ctx context.Context, out chan<- Event) error {
	defer close(out)

	buf := make([]byte, 16<<10)
	pfd := []unix.PollFd{{Fd: int32(m.fd), Events: unix.POLLIN}}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		// Wake up periodically so cancellation is noticed.
		n, err := unix.Poll(pfd, 500)
		if err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}
			return err
		}
		if n == 0 {
			continue
		}

		size, _, err := unix.Recvfrom(m.fd, buf, unix.MSG_DONTWAIT)
		if err != nil {
			if errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EINTR) {
				continue
			}
			return err
		}

		ev := ParseUEvent(buf[:size])
		if ev == nil || !m.accepts(ev.Subsystem) {
			continue
		}

		select {
		case out <- *ev:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
