package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/ethereum/go-ethereum/log"
	"github.com/honeycombio/otel-config-go/otelconfig"
	"github.com/urfave/cli/v2"

	tr "github.com/ethereum-optimism/infra/op-testrunner"
	"github.com/ethereum-optimism/infra/op-testrunner/exitcodes"
	"github.com/ethereum-optimism/infra/op-testrunner/flags"
	"github.com/ethereum-optimism/infra/op-testrunner/resolver"
	"github.com/ethereum-optimism/infra/op-testrunner/service"
	"github.com/ethereum-optimism/optimism/devnet-sdk/telemetry"
	"github.com/ethereum-optimism/optimism/op-service/cliapp"
	"github.com/ethereum-optimism/optimism/op-service/ctxinterrupt"
	oplog "github.com/ethereum-optimism/optimism/op-service/log"
	opmetrics "github.com/ethereum-optimism/optimism/op-service/metrics"
)

var (
	Version   = "v0.1.0"
	GitCommit = ""
	GitDate   = ""
)

// runnerDefaults is loaded once before the app runs.
var runnerDefaults resolver.RunnerDefaults

func main() {
	app := cli.NewApp()
	app.Version = fmt.Sprintf("%s-%s-%s", Version, GitCommit, GitDate)
	app.Name = "op-testrunner"
	app.Usage = "JVM test runner"
	app.ArgsUsage = "[test ids...]"
	app.Description = "op-testrunner resolves a test runner library and runs a project's compiled tests with it"
	app.Flags = cliapp.ProtectFlags(flags.Flags)
	app.Action = cliapp.LifecycleCmd(run)
	app.ExitErrHandler = func(c *cli.Context, err error) {
		var exitErr cli.ExitCoder
		if errors.As(err, &exitErr) {
			// The exit code of the test process, or a code chosen by the cli
			cli.HandleExitCoder(cli.Exit(err.Error(), exitErr.ExitCode()))
		} else if err != nil {
			if tr.IsRuntimeError(err) {
				cli.HandleExitCoder(cli.Exit(err.Error(), exitcodes.RuntimeErr))
			} else {
				cli.HandleExitCoder(cli.Exit(err.Error(), exitcodes.TestFailure))
			}
		}
	}

	var err error
	runnerDefaults, err = resolver.LoadDefaults()
	if err != nil {
		log.Crit("Failed to load runner defaults", "message", err)
	}

	// Start telemetry
	ctx, shutdown, err := telemetry.SetupOpenTelemetry(
		context.Background(),
		otelconfig.WithServiceName(app.Name),
		otelconfig.WithServiceVersion(app.Version),
	)
	if err != nil {
		log.Crit("Failed to setup open telemetry", "message", err)
	}
	defer shutdown()

	// Start CLI
	ctx = ctxinterrupt.WithSignalWaiterMain(ctx)
	err = app.RunContext(ctx, os.Args)
	if err != nil {
		log.Crit("Application failed", "message", err)
	}
}

func run(ctx *cli.Context, closeApp context.CancelCauseFunc) (cliapp.Lifecycle, error) {
	logCfg := oplog.ReadCLIConfig(ctx)
	log := oplog.NewLogger(oplog.AppOut(ctx), logCfg)
	oplog.SetGlobalLogHandler(log.Handler())
	oplog.SetupDefaults()

	cfg, err := tr.NewConfig(ctx, log, runnerDefaults)
	if err != nil {
		// Wrap in RuntimeError to signal this should exit with code 2
		return nil, tr.NewRuntimeError(fmt.Errorf("failed to create config: %w", err))
	}

	cfg.Log.Debug("Config", "config", cfg)

	svc := service.New(service.ConfigFromMetrics(opmetrics.ReadCLIConfig(ctx)))
	runner, err := tr.New(cfg, Version, tr.Options{Service: svc}, closeApp)
	if err != nil {
		return nil, tr.NewRuntimeError(fmt.Errorf("failed to create test runner: %w", err))
	}

	return runner, nil
}
