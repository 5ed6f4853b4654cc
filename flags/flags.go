package flags

import (
	"fmt"
	"time"

	"github.com/urfave/cli/v2"

	opservice "github.com/ethereum-optimism/optimism/op-service"
	opflags "github.com/ethereum-optimism/optimism/op-service/flags"
	oplog "github.com/ethereum-optimism/optimism/op-service/log"
	opmetrics "github.com/ethereum-optimism/optimism/op-service/metrics"
)

const EnvVarPrefix = "OP_TESTRUNNER"

const (
	DefaultBuildDir   = "target"
	DefaultResultFile = "test_output.txt"
	DefaultStdoutFile = "test_stdout.txt"
	DefaultStderrFile = "test_stderr.txt"
	DefaultTimeout    = 60 * time.Second
)

var (
	ProjectDir = &cli.StringFlag{
		Name:    "project-dir",
		Value:   ".",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "PROJECT_DIR"),
		Usage:   "Root directory of the compiled project; the working directory of the test process",
	}
	TestClasses = &cli.StringSliceFlag{
		Name:    "test-classes",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "TEST_CLASSES"),
		Usage:   "Compiled test classes directory. Exactly one is supported (default: <project-dir>/target/test-classes)",
	}
	Classes = &cli.StringFlag{
		Name:    "classes",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "CLASSES"),
		Usage:   "Compiled main classes directory (default: <project-dir>/target/classes)",
	}
	ClasspathFile = &cli.StringFlag{
		Name:    "classpath-file",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "CLASSPATH_FILE"),
		Usage:   "File with the project's dependency class path, as written by 'mvn dependency:build-classpath'",
	}
	TestsFile = &cli.StringFlag{
		Name:    "tests-file",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "TESTS_FILE"),
		Usage:   "File listing test ids, one per line; positional arguments are appended",
	}
	ResultFile = &cli.StringFlag{
		Name:    "result-file",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "RESULT_FILE"),
		Usage:   "File the test runner writes its results to (default: <project-dir>/target/test_output.txt)",
	}
	StdoutFile = &cli.StringFlag{
		Name:    "stdout-file",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "STDOUT_FILE"),
		Usage:   "File receiving the test process stdout (default: <project-dir>/target/test_stdout.txt)",
	}
	StderrFile = &cli.StringFlag{
		Name:    "stderr-file",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "STDERR_FILE"),
		Usage:   "File receiving the test process stderr (default: <project-dir>/target/test_stderr.txt)",
	}
	Timeout = &cli.DurationFlag{
		Name:    "timeout",
		Value:   DefaultTimeout,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "TIMEOUT"),
		Usage:   "Test suite timeout. Recorded for the run but not enforced",
	}
	RunnerVersion = &cli.StringFlag{
		Name:    "runner-version",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "RUNNER_VERSION"),
		Usage:   "Version of the runner library, overriding the bundled default",
	}
	RunnerCoordinate = &cli.StringFlag{
		Name:    "runner-coordinate",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "RUNNER_COORDINATE"),
		Usage:   "Runner library as group:artifact[:version], replacing the bundled one",
	}
	EntryPoint = &cli.StringFlag{
		Name:    "entry-point",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "ENTRY_POINT"),
		Usage:   "Main class of the runner library (default: bundled entry point)",
	}
	JavaHome = &cli.StringFlag{
		Name:    "java-home",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "JAVA_HOME"),
		Usage:   "Java installation used for the test process (default: $JAVA_HOME, then java on PATH)",
	}
	JVMOpts = &cli.StringSliceFlag{
		Name:    "jvm-opt",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "JVM_OPTS"),
		Usage:   "Extra JVM option for the test process, may be repeated",
	}
	Settings = &cli.StringFlag{
		Name:    "settings",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "SETTINGS"),
		Usage:   "TOML file with repository settings (repositories, mirrors, servers, proxies)",
	}
	LocalRepository = &cli.StringFlag{
		Name:    "local-repository",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "LOCAL_REPOSITORY"),
		Usage:   "Local repository directory, overriding the settings file (default: ~/.m2/repository)",
	}
	Offline = &cli.BoolFlag{
		Name:    "offline",
		Value:   false,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "OFFLINE"),
		Usage:   "Resolve the runner from the local repository only",
	}
	ForceUpdate = &cli.BoolFlag{
		Name:    "force-update",
		Value:   false,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "FORCE_UPDATE"),
		Usage:   "Download runner files again even when they are cached",
	}
	OutputRealtimeLogs = &cli.BoolFlag{
		Name:    "realtime-logs",
		Value:   false,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "REALTIME_LOGS"),
		Usage:   "Mirror test process output to the log as it is produced",
	}
	StripANSI = &cli.BoolFlag{
		Name:    "strip-ansi",
		Value:   false,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "STRIP_ANSI"),
		Usage:   "Remove ANSI escape sequences from captured output",
	}
)

var requiredFlags = []cli.Flag{}

var optionalFlags = []cli.Flag{
	ProjectDir,
	TestClasses,
	Classes,
	ClasspathFile,
	TestsFile,
	ResultFile,
	StdoutFile,
	StderrFile,
	Timeout,
	RunnerVersion,
	RunnerCoordinate,
	EntryPoint,
	JavaHome,
	JVMOpts,
	Settings,
	LocalRepository,
	Offline,
	ForceUpdate,
	OutputRealtimeLogs,
	StripANSI,
}
var Flags []cli.Flag

func init() {
	optionalFlags = append(optionalFlags, oplog.CLIFlags(EnvVarPrefix)...)
	optionalFlags = append(optionalFlags, opmetrics.CLIFlags(EnvVarPrefix)...)

	Flags = append(requiredFlags, optionalFlags...)
}

func CheckRequired(ctx *cli.Context) error {
	for _, f := range requiredFlags {
		if !ctx.IsSet(f.Names()[0]) {
			return fmt.Errorf("flag %s is required", f.Names()[0])
		}
	}
	return opflags.CheckRequiredXor(ctx)
}
