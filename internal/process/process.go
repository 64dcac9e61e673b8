package process

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"github.com/smazurov/vidcap/internal/logging"
)

// OutputHandler receives each stderr line from the child, plus stdout lines
// when no stdout consumer is set.
type OutputHandler interface {
	HandleLine(source, line string)
}

// LogParser extracts a level from one line of child output.
type LogParser func(line string) (level, msg string)

// killedExitCode is reported when the child had to be SIGKILLed.
const killedExitCode = 137

// Result describes how a run ended.
type Result struct {
	ExitCode  int
	Cancelled bool  // the run was stopped through its context
	Err       error // the child could not be started
}

// Process runs a single command.
type Process struct {
	id              string
	args            []string
	logger          logging.Logger
	processLogger   logging.Logger
	logParser       LogParser
	outputHandler   OutputHandler
	stdoutConsumer  func(io.Reader)
	gracefulTimeout time.Duration
	killTimeout     time.Duration
}

// New parses command into arguments. Quotes and backslash escapes are honoured.
func New(id, command string, logger logging.Logger) (*Process, error) {
	args, err := parseCommand(command)
	if err != nil {
		return nil, err
	}
	if len(args) == 0 {
		return nil, errors.New("empty command")
	}
	return &Process{
		id:              id,
		args:            args,
		logger:          logger,
		gracefulTimeout: 5 * time.Second,
		killTimeout:     5 * time.Second,
	}, nil
}

// Args returns the parsed command line.
func (p *Process) Args() []string {
	return append([]string(nil), p.args...)
}

// SetLogParser routes child output to logger at the level parser reports.
func (p *Process) SetLogParser(logger logging.Logger, parser LogParser) {
	p.processLogger = logger
	p.logParser = parser
}

func (p *Process) SetOutputHandler(h OutputHandler) {
	p.outputHandler = h
}

// SetStdoutConsumer hands raw stdout to fn instead of line logging. Whatever
// fn leaves unread is drained so the child never blocks on a full pipe.
func (p *Process) SetStdoutConsumer(fn func(io.Reader)) {
	p.stdoutConsumer = fn
}

// SetTimeouts overrides the SIGINT grace period and the post-kill wait.
func (p *Process) SetTimeouts(graceful, kill time.Duration) {
	p.gracefulTimeout = graceful
	p.killTimeout = kill
}

// Run blocks until the child exits or ctx ends.
func (p *Process) Run(ctx context.Context) Result {
	cmd := exec.Command(p.args[0], p.args[1:]...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return Result{ExitCode: 1, Err: err}
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return Result{ExitCode: 1, Err: err}
	}
	if err := cmd.Start(); err != nil {
		p.logger.Error("Failed to start process", "id", p.id, "error", err, "command", strings.Join(p.args, " "))
		return Result{ExitCode: 1, Err: err}
	}
	p.logger.Info("Process started", "id", p.id, "pid", cmd.Process.Pid)

	outputDone := make(chan struct{}, 2)
	go func() {
		if p.stdoutConsumer != nil {
			p.stdoutConsumer(stdout)
			_, _ = io.Copy(io.Discard, stdout)
		} else {
			p.streamOutput(stdout, "stdout")
		}
		outputDone <- struct{}{}
	}()
	go func() {
		p.streamOutput(stderr, "stderr")
		outputDone <- struct{}{}
	}()

	// Wait closes the pipes, so it must not run before both readers finish.
	processDone := make(chan error, 1)
	go func() {
		<-outputDone
		<-outputDone
		processDone <- cmd.Wait()
	}()

	select {
	case <-ctx.Done():
		p.sendStopSignal(cmd)
		code := p.waitForExit(cmd, processDone)
		p.logger.Info("Process stopped", "id", p.id, "exit_code", code)
		return Result{ExitCode: code, Cancelled: true}
	case waitErr := <-processDone:
		code := exitCodeFromError(waitErr)
		p.logger.Info("Process exited", "id", p.id, "exit_code", code)
		return Result{ExitCode: code}
	}
}

func exitCodeFromError(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if code := exitErr.ExitCode(); code >= 0 {
			return code
		}
		// Killed by a signal.
		if ws, ok := exitErr.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
			return 128 + int(ws.Signal())
		}
	}
	return 1
}

func (p *Process) sendStopSignal(cmd *exec.Cmd) {
	if cmd.Process == nil {
		return
	}
	p.logger.Debug("Sending SIGINT to process", "id", p.id, "pid", cmd.Process.Pid)
	if err := cmd.Process.Signal(syscall.SIGINT); err != nil && !errors.Is(err, os.ErrProcessDone) {
		p.logger.Warn("Failed to send SIGINT", "id", p.id, "error", err)
	}
}

func (p *Process) waitForExit(cmd *exec.Cmd, processDone <-chan error) int {
	select {
	case err := <-processDone:
		return exitCodeFromError(err)
	case <-time.After(p.gracefulTimeout):
	}

	p.logger.Warn("Graceful shutdown timeout, forcing kill", "id", p.id, "timeout", p.gracefulTimeout)
	// Kill the whole group so children holding our pipes die too.
	if err := syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL); err != nil {
		if killErr := cmd.Process.Kill(); killErr != nil && !errors.Is(killErr, os.ErrProcessDone) {
			p.logger.Error("Failed to kill process", "id", p.id, "error", killErr)
		}
	}
	select {
	case <-processDone:
	case <-time.After(p.killTimeout):
		p.logger.Error("Process did not exit after kill signal", "id", p.id)
	}
	return killedExitCode
}

func (p *Process) streamOutput(r io.Reader, source string) {
	logger := p.processLogger
	if logger == nil {
		logger = p.logger
	}

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		if p.outputHandler != nil {
			p.outputHandler.HandleLine(source, line)
		}

		level, msg := "info", line
		if p.logParser != nil {
			level, msg = p.logParser(line)
		}
		switch level {
		case "panic", "fatal", "error":
			logger.Error(msg)
		case "warning":
			logger.Warn(msg)
		case "verbose", "debug", "trace":
			logger.Debug(msg)
		default:
			logger.Info(msg)
		}
	}
	if err := scanner.Err(); err != nil {
		p.logger.Warn("Error reading output", "id", p.id, "source", source, "error", err)
	}
}

// parseCommand splits command into arguments, honouring single and double
// quotes and backslash escapes.
func parseCommand(command string) ([]string, error) {
	var args []string
	var cur strings.Builder
	var quote rune
	inArg := false

	runes := []rune(strings.TrimSpace(command))
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		switch {
		case quote != 0 && r == quote:
			quote = 0
		case quote == 0 && (r == '"' || r == '\''):
			quote = r
			inArg = true
		case r == '\\' && i+1 < len(runes) && quote != '\'':
			i++
			cur.WriteRune(runes[i])
			inArg = true
		case r == ' ' && quote == 0:
			if inArg {
				args = append(args, cur.String())
				cur.Reset()
				inArg = false
			}
		default:
			cur.WriteRune(r)
			inArg = true
		}
	}
	if quote != 0 {
		return nil, fmt.Errorf("unclosed quote in command")
	}
	if inArg {
		args = append(args, cur.String())
	}
	return args, nil
}
