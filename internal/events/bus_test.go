package events

import (
	"sync"
	"testing"
	"time"
)

func TestBus_PublishSubscribe(t *testing.T) {
	bus := New()
	received := make(chan DeviceLostEvent, 1)

	unsub := bus.Subscribe(func(e DeviceLostEvent) {
		received <- e
	})
	defer unsub()

	bus.Publish(DeviceLostEvent{DeviceID: "usb-cam", Message: "lost"})

	select {
	case got := <-received:
		if got.DeviceID != "usb-cam" {
			t.Errorf("DeviceID = %q, want usb-cam", got.DeviceID)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}
}

func TestBus_Unsubscribe(t *testing.T) {
	bus := New()
	received := make(chan PipelineErrorEvent, 1)

	unsub := bus.Subscribe(func(e PipelineErrorEvent) {
		received <- e
	})

	bus.Publish(PipelineErrorEvent{Code: 1})
	<-received

	unsub()

	bus.Publish(PipelineErrorEvent{Code: 2})
	select {
	case <-received:
		t.Fatal("received event after unsubscribe")
	case <-time.After(20 * time.Millisecond):
	}
}

func TestBus_TypeSafety(t *testing.T) {
	bus := New()
	stateCh := make(chan bool, 1)
	sizeCh := make(chan bool, 1)

	defer bus.Subscribe(func(SessionStateChangedEvent) { stateCh <- true })()
	defer bus.Subscribe(func(DisplaySizeChangedEvent) { sizeCh <- true })()

	bus.Publish(SessionStateChangedEvent{From: "idle", To: "graph_built"})
	<-stateCh

	select {
	case <-sizeCh:
		t.Fatal("size subscriber received a state event")
	case <-time.After(20 * time.Millisecond):
	}
}

func TestBus_UnknownHandler(t *testing.T) {
	bus := New()
	unsub := bus.Subscribe(func(string) {})
	unsub()
}

func TestBus_ConcurrentPublish(t *testing.T) {
	bus := New()
	const goroutines, perGoroutine = 8, 50
	got := make(chan struct{}, goroutines*perGoroutine)

	defer bus.Subscribe(func(DeviceHotplugEvent) { got <- struct{}{} })()

	var wg sync.WaitGroup
	for range goroutines {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range perGoroutine {
				bus.Publish(DeviceHotplugEvent{Action: "add", DevicePath: "/dev/video0"})
			}
		}()
	}
	wg.Wait()

	for range goroutines * perGoroutine {
		select {
		case <-got:
		case <-time.After(time.Second):
			t.Fatal("timeout waiting for events")
		}
	}
}

func TestSubscribeAll(t *testing.T) {
	bus := New()
	ch := make(chan any, 10)
	unsub := SubscribeAll(bus, ch)
	defer unsub()

	bus.Publish(DeviceListChangedEvent{})
	bus.Publish(DeviceLostEvent{DeviceID: "x"})

	seen := map[uint32]bool{}
	for range 2 {
		select {
		case ev := <-ch:
			seen[ev.(Event).Type()] = true
		case <-time.After(time.Second):
			t.Fatal("timeout")
		}
	}
	if !seen[TypeDeviceListChanged] || !seen[TypeDeviceLost] {
		t.Errorf("seen = %v", seen)
	}
}
