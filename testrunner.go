// Package testrunner runs a project's compiled JVM tests through a runner
// library resolved from Maven repositories, capturing the test process output
// and reporting its exit code.
package testrunner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/ethereum-optimism/infra/op-testrunner/classpath"
	"github.com/ethereum-optimism/infra/op-testrunner/exitcodes"
	"github.com/ethereum-optimism/infra/op-testrunner/metrics"
	"github.com/ethereum-optimism/infra/op-testrunner/orchestrator"
	"github.com/ethereum-optimism/infra/op-testrunner/process"
	"github.com/ethereum-optimism/infra/op-testrunner/resolver"
	"github.com/ethereum-optimism/infra/op-testrunner/service"
	"github.com/ethereum-optimism/optimism/op-service/cliapp"
)

// testRunner implements the cliapp.Lifecycle interface.
var _ cliapp.Lifecycle = &testRunner{}

// RunResult summarises one test run.
type RunResult struct {
	RunID              string
	Runner             resolver.Coordinate
	Libraries          int
	ResolutionDuration time.Duration
	Tests              int
	ExitCode           int
	Duration           time.Duration
	ResultFile         string
	StdoutFile         string
	StderrFile         string
}

// testRunner resolves the runner library and runs the tests once.
type testRunner struct {
	config   *Config
	version  string
	resolver resolver.Resolver
	service  *service.Service
	environ  func() ([]string, error)
	out      io.Writer
	tracer   trace.Tracer
	result   *RunResult

	running atomic.Bool

	shutdownCallback func(error) // Callback to signal application shutdown
}

// Options holds the optional collaborators of a test runner.
type Options struct {
	Resolver resolver.Resolver        // defaults to a MavenResolver
	Service  *service.Service         // healthz and metrics servers, none when nil
	Environ  func() ([]string, error) // inherited environment of the test process
	Out      io.Writer                // summary table output, os.Stdout when nil
}

func New(config *Config, version string, opts Options, shutdownCallback func(error)) (*testRunner, error) {
	if config == nil {
		return nil, errors.New("config is required")
	}
	if config.Log == nil {
		return nil, errors.New("config.Log is required")
	}

	config.Log.Debug("Creating test runner with config",
		"projectDir", config.ProjectDir,
		"runner", config.Runner,
		"tests", len(config.TestIDs),
		"localRepository", config.Repository.LocalRepository,
		"offline", config.Repository.Offline)

	if opts.Resolver == nil {
		r, err := resolver.NewMavenResolver(resolver.Config{Log: config.Log})
		if err != nil {
			return nil, fmt.Errorf("failed to create resolver: %w", err)
		}
		opts.Resolver = r
	}
	if opts.Service == nil {
		opts.Service = service.New(service.Config{})
	}
	if opts.Out == nil {
		opts.Out = os.Stdout
	}
	if shutdownCallback == nil {
		shutdownCallback = func(error) {}
	}

	return &testRunner{
		config:           config,
		version:          version,
		resolver:         opts.Resolver,
		service:          opts.Service,
		environ:          opts.Environ,
		out:              opts.Out,
		tracer:           otel.Tracer("testrunner"),
		shutdownCallback: shutdownCallback,
	}, nil
}

// Start runs the tests once, prints the summary and requests shutdown.
// Start implements the cliapp.Lifecycle interface.
func (r *testRunner) Start(ctx context.Context) (err error) {
	// A panic is a runtime error, exit code 2
	defer func() {
		if p := recover(); p != nil {
			r.config.Log.Error("Runtime error occurred", "error", p)
			err = NewRuntimeError(fmt.Errorf("panic: %v", p))
		}
	}()

	r.running.Store(true)
	r.service.Start(ctx)

	result, err := r.Run(ctx)
	r.result = result
	if result != nil {
		r.printSummary(result)
	}
	if err != nil {
		if statusErr, ok := AsExitStatusError(err); ok {
			r.config.Log.Warn("Test process did not exit cleanly", "exitCode", statusErr.Code)
		} else {
			r.config.Log.Error("Test run failed", "error", err)
		}
		return err
	}

	r.config.Log.Info("Tests completed, exiting")
	go func() {
		r.shutdownCallback(nil)
	}()
	return nil
}

// Run performs one test run. Configuration problems are returned as
// RuntimeError before any process is started; a test process that exits
// non-zero yields an ExitStatusError next to the result.
func (r *testRunner) Run(ctx context.Context) (*RunResult, error) {
	runID := uuid.New().String()
	ctx, span := r.tracer.Start(ctx, "test run", trace.WithAttributes(attribute.String("run_id", runID)))
	defer span.End()

	cfg := r.config
	log := cfg.Log.New("run_id", runID)
	start := time.Now()

	root, err := process.SingleOutputRoot(cfg.TestClassDirs)
	if err != nil {
		return nil, NewRuntimeError(err)
	}
	projectPaths, err := classpath.Project{
		TestOutputDir:  root,
		OutputDir:      cfg.ClassesDir,
		DependencyFile: cfg.ClasspathFile,
	}.Elements()
	if err != nil {
		return nil, NewRuntimeError(err)
	}

	log.Info("Resolving runner", "coordinate", cfg.Runner)
	resolveStart := time.Now()
	runnerPaths, err := r.resolver.Resolve(ctx, cfg.Runner, cfg.Repository)
	resolutionDuration := time.Since(resolveStart)
	metrics.RecordResolution(resolutionDuration, err)
	if err != nil {
		metrics.RecordErrorDetails("resolve", err)
		return nil, NewRuntimeError(err)
	}

	builder, err := process.NewBuilder(process.Config{
		RuntimeHome: cfg.RuntimeHome,
		WorkDir:     cfg.ProjectDir,
		EntryPoint:  cfg.EntryPoint,
		JVMOptions:  cfg.JVMOptions,
		Environ:     r.environ,
		Log:         log,
	})
	if err != nil {
		return nil, NewRuntimeError(err)
	}
	spec, err := builder.Build(classpath.Build(projectPaths, runnerPaths), root, cfg.ResultFile, cfg.TestIDs)
	if err != nil {
		return nil, NewRuntimeError(err)
	}

	if cfg.Timeout > 0 {
		log.Debug("Timeout is recorded but not enforced", "timeout", cfg.Timeout)
	}

	orch, err := orchestrator.New(orchestrator.Config{
		StdoutPath:   cfg.StdoutFile,
		StderrPath:   cfg.StderrFile,
		RealtimeLogs: cfg.RealtimeLogs,
		StripANSI:    cfg.StripANSI,
		Log:          log,
	})
	if err != nil {
		return nil, NewRuntimeError(err)
	}

	log.Info("Running tests", "tests", len(cfg.TestIDs), "libraries", len(runnerPaths))
	execution := orch.Run(ctx, spec)
	metrics.RecordRun(runID, execution.ExitCode, execution.Duration)

	result := &RunResult{
		RunID:              runID,
		Runner:             cfg.Runner,
		Libraries:          len(runnerPaths),
		ResolutionDuration: resolutionDuration,
		Tests:              len(cfg.TestIDs),
		ExitCode:           execution.ExitCode,
		Duration:           time.Since(start),
		ResultFile:         cfg.ResultFile,
		StdoutFile:         execution.StdoutPath,
		StderrFile:         execution.StderrPath,
	}
	span.SetAttributes(attribute.Int("exit_code", result.ExitCode))
	log.Info("Test run completed", "exitCode", result.ExitCode, "duration", result.Duration)

	if result.ExitCode != exitcodes.Success {
		return result, NewExitStatusError(result.ExitCode)
	}
	return result, nil
}

// Stop stops the test runner.
// Stop implements the cliapp.Lifecycle interface.
func (r *testRunner) Stop(ctx context.Context) error {
	if !r.running.Load() {
		r.config.Log.Debug("Test runner already stopped, nothing to do")
		return nil
	}
	r.running.Store(false)
	r.service.Shutdown()
	r.config.Log.Info("op-testrunner stopped")
	return nil
}

// Stopped returns true if the test runner is stopped.
// Stopped implements the cliapp.Lifecycle interface.
func (r *testRunner) Stopped() bool {
	return !r.running.Load()
}

// Result returns the result of the last run, or nil.
func (r *testRunner) Result() *RunResult {
	return r.result
}
