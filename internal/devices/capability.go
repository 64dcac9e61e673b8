package devices

import (
	"encoding/json"
	"strings"
)

// CapabilitySet is the set of features a device exposed when it was bound.
type CapabilitySet uint32

const (
	// CapStreamConfig means the capture format can be changed.
	CapStreamConfig CapabilitySet = 1 << iota
	// CapVideoCompression means the device emits a compressed stream.
	CapVideoCompression
	// CapTuner means a tuner sits upstream of the capture pin.
	CapTuner
	// CapCrossbar means the device routes between several physical inputs.
	CapCrossbar
	CapStreaming
	CapReadWrite
	CapAudio
)

var capabilityNames = []struct {
	cap  CapabilitySet
	name string
}{
	{CapStreamConfig, "stream_config"},
	{CapVideoCompression, "video_compression"},
	{CapTuner, "tuner"},
	{CapCrossbar, "crossbar"},
	{CapStreaming, "streaming"},
	{CapReadWrite, "read_write"},
	{CapAudio, "audio"},
}

func (s CapabilitySet) Has(c CapabilitySet) bool {
	return s&c == c
}

// Names lists the tags in a fixed order.
func (s CapabilitySet) Names() []string {
	names := []string{}
	for _, c := range capabilityNames {
		if s.Has(c.cap) {
			names = append(names, c.name)
		}
	}
	return names
}

func (s CapabilitySet) String() string {
	return strings.Join(s.Names(), ",")
}

func (s CapabilitySet) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Names())
}

func (s *CapabilitySet) UnmarshalJSON(data []byte) error {
	var names []string
	if err := json.Unmarshal(data, &names); err != nil {
		return err
	}
	*s = 0
	for _, n := range names {
		for _, c := range capabilityNames {
			if c.name == n {
				*s |= c.cap
			}
		}
	}
	return nil
}
