// Package process runs one child process to completion.
//
// A Process starts the command, hands raw stdout to an optional consumer,
// parses stderr lines into log levels, and on context cancellation sends
// SIGINT, waits a grace period and then kills:
//
//	p, err := process.New("preview", "ffmpeg -i ... -f rawvideo pipe:1", logger)
//	p.SetStdoutConsumer(func(r io.Reader) { readFrames(r) })
//	res := p.Run(ctx)
//	if !res.Cancelled && res.ExitCode != 0 { ... }
package process
