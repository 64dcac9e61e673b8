//go:build !linux

package hotplug

import (
	"context"
	"errors"
)

// ErrUnsupported is returned by NewMonitor off Linux.
var ErrUnsupported = errors.New("hotplug: netlink uevents require linux")

type Monitor struct{}

func NewMonitor() (*Monitor, error) { return nil, ErrUnsupported }

func (m *Monitor) AddSubsystemFilter(string) {}

func (m *Monitor) Close() error { return nil }

func (m *Monitor) Run(ctx context.Context, out chan<- Event) error {
	close(out)
	<-ctx.Done()
	return ctx.Err()
}
