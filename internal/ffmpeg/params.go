package ffmpeg

// InputKind selects the ffmpeg demuxer for the capture source.
type InputKind string

const (
	InputV4L2  InputKind = "v4l2"
	InputLavfi InputKind = "lavfi"
)

// Input describes the capture source of a pipeline.
type Input struct {
	Kind        InputKind
	Path        string // device node, or lavfi source spec
	InputFormat string // yuyv422, mjpeg, ... (v4l2 only)
	Width       int32
	Height      int32
	FPS         int
	Channel     int // crossbar input to select (v4l2 only, 0 = driver default)
	Options     []OptionType
}

// OutputKind is what a branch of the pipeline produces.
type OutputKind string

const (
	// OutputRawPipe writes packed rgb24 frames to stdout for the sample grabber.
	OutputRawPipe OutputKind = "raw_pipe"
	// OutputFile encodes the capture branch to a file.
	OutputFile OutputKind = "file"
)

// Output is one branch fed from the input.
type Output struct {
	Kind    OutputKind
	Width   int // scale to this size, 0 keeps the source size
	Height  int
	Path    string // OutputFile only
	Encoder string // OutputFile only, defaults to libx264
}

// Params is a complete ffmpeg invocation.
type Params struct {
	Input    Input
	Outputs  []Output
	LogLevel string // defaults to info
	// Progress writes key=value progress blocks to stderr.
	Progress bool
}
