package ffmpeg

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Base is the ffmpeg invocation every command starts with.
func Base() string {
	return "ffmpeg -hide_banner -nostdin"
}

// RawPixelFormat is the pixel layout written to the sample grabber pipe.
const RawPixelFormat = "rgb24"

// BytesPerPixel of RawPixelFormat.
const BytesPerPixel = 3

var (
	ErrNoInput   = errors.New("ffmpeg: input path is required")
	ErrNoOutputs = errors.New("ffmpeg: at least one output is required")
)

// BuildCommand renders p as a single ffmpeg command line. The input is
// decoded once and every output maps its video stream, which is how one
// capture feeds both preview and file branches.
func BuildCommand(p *Params) (string, error) {
	if p.Input.Path == "" {
		return "", ErrNoInput
	}
	if len(p.Outputs) == 0 {
		return "", ErrNoOutputs
	}
	if err := ValidateOptions(p.Input.Options); err != nil {
		return "", err
	}

	var cmd strings.Builder
	cmd.WriteString(Base())

	level := p.LogLevel
	if level == "" {
		level = "info"
	}
	cmd.WriteString(" -loglevel level+" + level)
	if p.Progress {
		cmd.WriteString(" -progress pipe:2")
	}

	if err := writeInput(&cmd, p.Input); err != nil {
		return "", err
	}

	rawOutputs := 0
	for i, out := range p.Outputs {
		switch out.Kind {
		case OutputRawPipe:
			rawOutputs++
			if rawOutputs > 1 {
				return "", fmt.Errorf("output %d: only one raw pipe output is supported", i)
			}
			cmd.WriteString(" -map 0:v")
			writeScale(&cmd, out)
			cmd.WriteString(" -pix_fmt " + RawPixelFormat + " -f rawvideo pipe:1")
		case OutputFile:
			if out.Path == "" {
				return "", fmt.Errorf("output %d: file path is required", i)
			}
			enc := out.Encoder
			if enc == "" {
				enc = "libx264"
			}
			cmd.WriteString(" -map 0:v")
			writeScale(&cmd, out)
			cmd.WriteString(" -c:v " + enc)
			if enc == "libx264" {
				cmd.WriteString(" -preset veryfast -pix_fmt yuv420p")
			}
			cmd.WriteString(" -y " + quote(out.Path))
		default:
			return "", fmt.Errorf("output %d: unknown kind %q", i, out.Kind)
		}
	}

	return cmd.String(), nil
}

func writeInput(cmd *strings.Builder, in Input) error {
	switch in.Kind {
	case InputLavfi:
		// Pace synthetic sources to real time.
		cmd.WriteString(" -re -f lavfi -i " + quote(in.Path))
	case InputV4L2, "":
		cmd.WriteString(" -f v4l2")
		applyInputOptions(in.Options, cmd)
		if in.InputFormat != "" {
			cmd.WriteString(" -input_format " + in.InputFormat)
		}
		if in.Width > 0 && in.Height > 0 {
			fmt.Fprintf(cmd, " -video_size %dx%d", in.Width, in.Height)
		}
		if in.FPS > 0 {
			cmd.WriteString(" -framerate " + strconv.Itoa(in.FPS))
		}
		if in.Channel > 0 {
			cmd.WriteString(" -channel " + strconv.Itoa(in.Channel))
		}
		cmd.WriteString(" -i " + quote(in.Path))
	default:
		return fmt.Errorf("ffmpeg: unknown input kind %q", in.Kind)
	}
	return nil
}

func writeScale(cmd *strings.Builder, out Output) {
	if out.Width > 0 && out.Height > 0 {
		fmt.Fprintf(cmd, " -vf scale=%d:%d", out.Width, out.Height)
	}
}

// quote wraps s in double quotes when it contains characters the process
// command parser would split on.
func quote(s string) string {
	if !strings.ContainsAny(s, " '\"\\") {
		return s
	}
	return `"` + strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(s) + `"`
}
