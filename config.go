package testrunner

import (
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/urfave/cli/v2"

	"github.com/ethereum-optimism/infra/op-testrunner/flags"
	"github.com/ethereum-optimism/infra/op-testrunner/process"
	"github.com/ethereum-optimism/infra/op-testrunner/resolver"
	"github.com/ethereum-optimism/infra/op-testrunner/testlist"
)

// Config holds the application configuration
type Config struct {
	ProjectDir    string   // Working directory of the test process
	TestClassDirs []string // Compiled test classes; exactly one is supported
	ClassesDir    string   // Compiled main classes
	ClasspathFile string   // Project dependency class path file, optional
	TestIDs       []string // Tests to run, in scanner order
	ResultFile    string   // Written by the test process
	StdoutFile    string
	StderrFile    string
	Timeout       time.Duration // Recorded, not enforced
	Runner        resolver.Coordinate
	EntryPoint    string
	RuntimeHome   string
	JVMOptions    []string
	Repository    resolver.RepositorySettings
	RealtimeLogs  bool // If enabled, test output is also logged in realtime
	StripANSI     bool
	Log           log.Logger
}

// NewConfig creates a new Config from cli context. The runner defaults are
// loaded once by the caller.
func NewConfig(ctx *cli.Context, log log.Logger, defaults resolver.RunnerDefaults) (*Config, error) {
	if err := flags.CheckRequired(ctx); err != nil {
		return nil, fmt.Errorf("missing required flags: %w", err)
	}

	projectDir, err := filepath.Abs(ctx.String(flags.ProjectDir.Name))
	if err != nil {
		return nil, fmt.Errorf("failed to resolve absolute path for project directory '%s': %w", ctx.String(flags.ProjectDir.Name), err)
	}
	buildDir := filepath.Join(projectDir, flags.DefaultBuildDir)

	testClassDirs := ctx.StringSlice(flags.TestClasses.Name)
	if len(testClassDirs) == 0 {
		testClassDirs = []string{filepath.Join(buildDir, "test-classes")}
	}
	for i, dir := range testClassDirs {
		if testClassDirs[i], err = absUnder(projectDir, dir); err != nil {
			return nil, err
		}
	}

	classesDir := ctx.String(flags.Classes.Name)
	if classesDir == "" {
		classesDir = filepath.Join(buildDir, "classes")
	}
	if classesDir, err = absUnder(projectDir, classesDir); err != nil {
		return nil, err
	}

	resultFile := orDefault(ctx.String(flags.ResultFile.Name), filepath.Join(buildDir, flags.DefaultResultFile))
	stdoutFile := orDefault(ctx.String(flags.StdoutFile.Name), filepath.Join(buildDir, flags.DefaultStdoutFile))
	stderrFile := orDefault(ctx.String(flags.StderrFile.Name), filepath.Join(buildDir, flags.DefaultStderrFile))
	classpathFile := ctx.String(flags.ClasspathFile.Name)
	testsFile := ctx.String(flags.TestsFile.Name)
	for _, p := range []*string{&resultFile, &stdoutFile, &stderrFile, &classpathFile, &testsFile} {
		if *p == "" {
			continue
		}
		if *p, err = absUnder(projectDir, *p); err != nil {
			return nil, err
		}
	}

	testIDs, err := testlist.Collect(testsFile, ctx.Args().Slice())
	if err != nil {
		return nil, err
	}

	timeout := ctx.Duration(flags.Timeout.Name)
	if timeout < 0 {
		return nil, fmt.Errorf("timeout cannot be negative: %s", timeout)
	}

	runner, err := defaults.RunnerCoordinate(ctx.String(flags.RunnerCoordinate.Name), ctx.String(flags.RunnerVersion.Name))
	if err != nil {
		return nil, fmt.Errorf("invalid runner coordinate: %w", err)
	}
	entryPoint := orDefault(ctx.String(flags.EntryPoint.Name), defaults.EntryPoint)
	if entryPoint == "" {
		return nil, errors.New("runner entry point is required")
	}

	runtimeHome, err := process.DetectRuntimeHome(ctx.String(flags.JavaHome.Name))
	if err != nil {
		return nil, err
	}

	repo, err := resolver.LoadSettings(ctx.String(flags.Settings.Name))
	if err != nil {
		return nil, err
	}
	if local := ctx.String(flags.LocalRepository.Name); local != "" {
		repo.LocalRepository = local
	}
	if ctx.IsSet(flags.Offline.Name) {
		repo.Offline = ctx.Bool(flags.Offline.Name)
	}
	if ctx.IsSet(flags.ForceUpdate.Name) {
		repo.ForceUpdate = ctx.Bool(flags.ForceUpdate.Name)
	}

	return &Config{
		ProjectDir:    projectDir,
		TestClassDirs: testClassDirs,
		ClassesDir:    classesDir,
		ClasspathFile: classpathFile,
		TestIDs:       testIDs,
		ResultFile:    resultFile,
		StdoutFile:    stdoutFile,
		StderrFile:    stderrFile,
		Timeout:       timeout,
		Runner:        runner,
		EntryPoint:    entryPoint,
		RuntimeHome:   runtimeHome,
		JVMOptions:    ctx.StringSlice(flags.JVMOpts.Name),
		Repository:    repo,
		RealtimeLogs:  ctx.Bool(flags.OutputRealtimeLogs.Name),
		StripANSI:     ctx.Bool(flags.StripANSI.Name),
		Log:           log,
	}, nil
}

// absUnder resolves p relative to base unless it is already absolute.
func absUnder(base, p string) (string, error) {
	if !filepath.IsAbs(p) {
		p = filepath.Join(base, p)
	}
	abs, err := filepath.Abs(p)
	if err != nil {
		return "", fmt.Errorf("failed to resolve absolute path for '%s': %w", p, err)
	}
	return abs, nil
}

func orDefault(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}
