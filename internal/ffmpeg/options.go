package ffmpeg

import (
	"fmt"
	"strings"
)

// OptionType is an input-side ffmpeg behaviour flag.
type OptionType string

const (
	OptionGeneratePTS        OptionType = "genpts"
	OptionIgnoreDTS          OptionType = "igndts"
	OptionWallclockTimestamp OptionType = "wallclock_ts"
	OptionThreadQueue1024    OptionType = "thread_queue_1024"
	OptionThreadQueue4096    OptionType = "thread_queue_4096"
	OptionLowLatency         OptionType = "low_latency"
)

// exclusive lists option groups of which at most one may be chosen.
var exclusive = [][]OptionType{
	{OptionThreadQueue1024, OptionThreadQueue4096},
	{OptionGeneratePTS, OptionWallclockTimestamp},
}

// DefaultOptions are applied to device inputs unless configured otherwise.
func DefaultOptions() []OptionType {
	return []OptionType{OptionThreadQueue1024}
}

// ParseOptions converts configured names into options, rejecting unknown ones.
func ParseOptions(names []string) ([]OptionType, error) {
	out := make([]OptionType, 0, len(names))
	for _, n := range names {
		o := OptionType(strings.TrimSpace(n))
		switch o {
		case OptionGeneratePTS, OptionIgnoreDTS, OptionWallclockTimestamp,
			OptionThreadQueue1024, OptionThreadQueue4096, OptionLowLatency:
			out = append(out, o)
		case "":
		default:
			return nil, fmt.Errorf("unknown ffmpeg option %q", n)
		}
	}
	return out, ValidateOptions(out)
}

// ValidateOptions rejects combinations ffmpeg would misbehave with.
func ValidateOptions(opts []OptionType) error {
	set := make(map[OptionType]bool, len(opts))
	for _, o := range opts {
		set[o] = true
	}
	for _, group := range exclusive {
		var chosen []string
		for _, o := range group {
			if set[o] {
				chosen = append(chosen, string(o))
			}
		}
		if len(chosen) > 1 {
			return fmt.Errorf("options are mutually exclusive: %s", strings.Join(chosen, ", "))
		}
	}
	return nil
}

// applyInputOptions writes the flags that must precede -i.
func applyInputOptions(opts []OptionType, cmd *strings.Builder) {
	var fflags []string
	for _, o := range opts {
		switch o {
		case OptionGeneratePTS:
			fflags = append(fflags, "+genpts")
		case OptionIgnoreDTS:
			fflags = append(fflags, "+igndts")
		case OptionWallclockTimestamp:
			cmd.WriteString(" -use_wallclock_as_timestamps 1")
		case OptionThreadQueue1024:
			cmd.WriteString(" -thread_queue_size 1024")
		case OptionThreadQueue4096:
			cmd.WriteString(" -thread_queue_size 4096")
		case OptionLowLatency:
			fflags = append(fflags, "+nobuffer")
			cmd.WriteString(" -flags low_delay")
		}
	}
	if len(fflags) > 0 {
		cmd.WriteString(" -fflags " + strings.Join(fflags, ""))
	}
}
