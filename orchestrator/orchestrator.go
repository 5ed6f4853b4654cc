// Package orchestrator runs one test process, draining both of its output
// streams into sinks while it runs, and reports its exit code.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/sourcegraph/conc"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ethereum-optimism/infra/op-testrunner/capture"
	"github.com/ethereum-optimism/infra/op-testrunner/exitcodes"
	"github.com/ethereum-optimism/infra/op-testrunner/metrics"
	"github.com/ethereum-optimism/infra/op-testrunner/process"
)

const (
	StreamStdout = "stdout"
	StreamStderr = "stderr"
)

// ExecutionResult is produced once per Run.
type ExecutionResult struct {
	ExitCode   int
	StdoutPath string
	StderrPath string
	Duration   time.Duration
}

// ProcessLaunchError reports a process that could not be started.
type ProcessLaunchError struct {
	Executable string
	Err        error
}

func (e *ProcessLaunchError) Error() string {
	return fmt.Sprintf("failed to start %s: %v", e.Executable, e.Err)
}

func (e *ProcessLaunchError) Unwrap() error {
	return e.Err
}

// Config holds configuration for creating an Orchestrator
type Config struct {
	StdoutPath   string
	StderrPath   string
	RealtimeLogs bool // mirror output lines to the logger
	StripANSI    bool // remove ANSI escape sequences from captured lines
	Log          log.Logger
}

// Orchestrator launches test processes.
type Orchestrator struct {
	cfg     Config
	log     log.Logger
	tracer  trace.Tracer
	newSink func(path, stream string, logger log.Logger) capture.LineSink
}

// New creates a new orchestrator
func New(cfg Config) (*Orchestrator, error) {
	if cfg.StdoutPath == "" || cfg.StderrPath == "" {
		return nil, errors.New("stdout and stderr paths are required")
	}
	if cfg.Log == nil {
		cfg.Log = log.New()
		cfg.Log.Error("No logger provided, using default")
	}
	return &Orchestrator{
		cfg:     cfg,
		log:     cfg.Log,
		tracer:  otel.Tracer("orchestrator"),
		newSink: capture.NewFileSink,
	}, nil
}

// Run starts the process described by spec and blocks until it exits. It
// never returns an error: a process that cannot be started yields
// exitcodes.LaunchFailure. The context is only used for tracing; the
// process is not cancelled with it.
func (o *Orchestrator) Run(ctx context.Context, spec process.Spec) ExecutionResult {
	_, span := o.tracer.Start(ctx, "run test process")
	defer span.End()

	start := time.Now()
	result := ExecutionResult{StdoutPath: o.cfg.StdoutPath, StderrPath: o.cfg.StderrPath}

	stdout := o.sink(o.cfg.StdoutPath, StreamStdout)
	stderr := o.sink(o.cfg.StderrPath, StreamStderr)
	defer func() {
		for _, s := range []capture.LineSink{stdout, stderr} {
			if err := s.Close(); err != nil {
				o.log.Warn("Failed to close output sink", "err", err)
			}
		}
	}()

	result.ExitCode = o.execute(spec, stdout, stderr)
	result.Duration = time.Since(start)

	span.SetAttributes(
		attribute.String("executable", spec.Executable),
		attribute.Int("exit_code", result.ExitCode),
	)
	if result.ExitCode != exitcodes.Success {
		span.SetStatus(codes.Error, fmt.Sprintf("exit code %d", result.ExitCode))
	}
	return result
}

func (o *Orchestrator) sink(path, stream string) capture.LineSink {
	s := o.newSink(path, stream, o.log)
	if o.cfg.StripANSI {
		s = capture.StripANSI(s)
	}
	if o.cfg.RealtimeLogs {
		s = capture.Tee(s, capture.NewLogSink(o.log, stream))
	}
	return s
}

func (o *Orchestrator) execute(spec process.Spec, stdout, stderr capture.LineSink) int {
	cmd := exec.Command(spec.Executable, spec.Args...)
	cmd.Dir = spec.Dir
	cmd.Env = spec.Environ()

	outPipe, errPipe, err := openPipes(cmd)
	if err != nil {
		return o.launchFailed(spec, err)
	}

	o.log.Info("Starting test process", "executable", spec.Executable, "dir", spec.Dir, "args", len(spec.Args))
	if err := cmd.Start(); err != nil {
		return o.launchFailed(spec, err)
	}

	// Both pipes must be read to the end before Wait closes them.
	var wg conc.WaitGroup
	wg.Go(func() { o.drain(StreamStdout, outPipe, stdout) })
	wg.Go(func() { o.drain(StreamStderr, errPipe, stderr) })
	wg.Wait()

	return o.exitCode(cmd.Wait())
}

func (o *Orchestrator) launchFailed(spec process.Spec, err error) int {
	launchErr := &ProcessLaunchError{Executable: spec.Executable, Err: err}
	o.log.Error("Test process could not be started", "err", launchErr)
	metrics.RecordLaunchFailure()
	return exitcodes.LaunchFailure
}

// openPipes connects both output streams of cmd. Nothing is left open when
// it fails.
func openPipes(cmd *exec.Cmd) (stdout, stderr io.ReadCloser, err error) {
	stdout, err = cmd.StdoutPipe()
	if err != nil {
		return nil, nil, err
	}
	stderr, err = cmd.StderrPipe()
	if err != nil {
		_ = stdout.Close()
		return nil, nil, err
	}
	return stdout, stderr, nil
}

// drain copies r into sink. If the sink panics, the rest of the stream is
// discarded so the process does not block on a full pipe.
func (o *Orchestrator) drain(stream string, r io.Reader, sink capture.LineSink) {
	defer func() {
		if p := recover(); p != nil {
			o.log.Error("Output drain panicked, discarding the rest of the stream", "stream", stream, "panic", p)
			_, _ = io.Copy(io.Discard, r)
		}
	}()
	if err := capture.Drain(r, sink); err != nil {
		o.log.Warn("Failed to read process output", "stream", stream, "err", err)
		_, _ = io.Copy(io.Discard, r)
	}
}

func (o *Orchestrator) exitCode(waitErr error) int {
	if waitErr == nil {
		return exitcodes.Success
	}
	var exitErr *exec.ExitError
	if errors.As(waitErr, &exitErr) {
		if code := exitErr.ExitCode(); code >= 0 {
			o.log.Info("Test process exited", "exitCode", code)
			return code
		}
		o.log.Error("Test process terminated abnormally", "state", exitErr.ProcessState.String())
		return exitcodes.RuntimeErr
	}
	o.log.Error("Failed waiting for test process", "err", waitErr)
	return exitcodes.RuntimeErr
}
