package ffmpeg

import "strings"

// ParseLogLevel extracts the level from a line written with
// -loglevel level+info, e.g. "[error] msg" or "[v4l2 @ 0x55d...] [error] msg".
// The component prefix is kept; only the level tag is removed.
func ParseLogLevel(line string) (level, msg string) {
	if len(line) < 3 || line[0] != '[' {
		return "info", line
	}
	end := strings.Index(line, "] ")
	if end == -1 {
		return "info", line
	}

	if tag := line[1:end]; isLogLevel(tag) {
		return tag, line[end+2:]
	}

	component, rest := line[:end+2], line[end+2:]
	if len(rest) > 2 && rest[0] == '[' {
		if next := strings.Index(rest, "] "); next != -1 && isLogLevel(rest[1:next]) {
			return rest[1:next], component + rest[next+2:]
		}
	}
	return "info", line
}

func isLogLevel(s string) bool {
	switch s {
	case "quiet", "panic", "fatal", "error", "warning", "info", "verbose", "debug", "trace":
		return true
	}
	return false
}

// deviceGoneMarkers are the messages v4l2 and ffmpeg print when the capture
// node disappears underneath a running pipeline.
var deviceGoneMarkers = []string{
	"No such device",
	"ENODEV",
}

// IsDeviceGone reports whether an ffmpeg log line means the input device
// vanished or was taken away.
func IsDeviceGone(line string) bool {
	for _, m := range deviceGoneMarkers {
		if strings.Contains(line, m) {
			return true
		}
	}
	return false
}
