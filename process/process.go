// Package process describes the test process to start: which
// executable to start, where, with which environment and arguments.
package process

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/log"
)

const (
	DefaultSearchPathVar = "CLASSPATH"

	assertionsFlag      = "-ea"
	testClassDirProp    = "tmc.test_class_dir"
	resultsFileProp     = "tmc.results_file"
	runtimeBinaryDir    = "bin"
	runtimeBinaryName   = "java"
	runtimeHomeEnvVar   = "JAVA_HOME"
	windowsBinarySuffix = ".exe"
)

// Spec describes one child process. It is not modified after Build returns it.
type Spec struct {
	Executable string
	Dir        string
	Env        map[string]string
	Args       []string
}

// Environ returns the environment as KEY=VALUE entries sorted by key.
func (s Spec) Environ() []string {
	keys := make([]string, 0, len(s.Env))
	for k := range s.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+"="+s.Env[k])
	}
	return out
}

// Config holds configuration for creating a Builder
type Config struct {
	RuntimeHome   string
	WorkDir       string
	EntryPoint    string
	SearchPathVar string   // defaults to CLASSPATH
	JVMOptions    []string // inserted after the built-in runtime flags
	// Environ supplies the inherited environment, os.Environ when nil.
	Environ func() ([]string, error)
	Log     log.Logger
}

// Builder turns a resolved search path and a test selection into a Spec.
type Builder struct {
	cfg Config
}

// NewBuilder creates a new process spec builder
func NewBuilder(cfg Config) (*Builder, error) {
	if cfg.RuntimeHome == "" {
		return nil, fmt.Errorf("runtime home cannot be empty")
	}
	if cfg.EntryPoint == "" {
		return nil, fmt.Errorf("entry point cannot be empty")
	}
	if cfg.SearchPathVar == "" {
		cfg.SearchPathVar = DefaultSearchPathVar
	}
	if cfg.Environ == nil {
		cfg.Environ = func() ([]string, error) { return os.Environ(), nil }
	}
	if cfg.Log == nil {
		cfg.Log = log.New()
		cfg.Log.Error("No logger provided, using default")
	}
	return &Builder{cfg: cfg}, nil
}

// Build assembles the process spec. Test ids are passed through in order.
func (b *Builder) Build(searchPath, testOutputRoot, resultFile string, testIDs []string) (Spec, error) {
	if testOutputRoot == "" {
		return Spec{}, fmt.Errorf("test output root cannot be empty")
	}
	if resultFile == "" {
		return Spec{}, fmt.Errorf("result file cannot be empty")
	}

	args := make([]string, 0, 3+len(b.cfg.JVMOptions)+1+len(testIDs))
	args = append(args,
		assertionsFlag,
		systemProperty(testClassDirProp, testOutputRoot),
		systemProperty(resultsFileProp, resultFile),
	)
	args = append(args, b.cfg.JVMOptions...)
	args = append(args, b.cfg.EntryPoint)
	args = append(args, testIDs...)

	env := b.inheritedEnv()
	env[b.cfg.SearchPathVar] = searchPath

	spec := Spec{
		Executable: Executable(b.cfg.RuntimeHome),
		Dir:        b.cfg.WorkDir,
		Env:        env,
		Args:       args,
	}
	b.cfg.Log.Debug("Built process spec", "executable", spec.Executable, "dir", spec.Dir,
		"args", len(spec.Args), "tests", len(testIDs), "env", len(spec.Env))
	return spec, nil
}

// inheritedEnv copies the parent environment. A provider failure yields an
// empty environment.
func (b *Builder) inheritedEnv() map[string]string {
	entries, err := b.cfg.Environ()
	if err != nil {
		b.cfg.Log.Warn("Failed to copy parent environment, starting with an empty one", "err", err)
		return make(map[string]string)
	}
	env := make(map[string]string, len(entries)+1)
	for _, entry := range entries {
		key, value, ok := strings.Cut(entry, "=")
		if !ok || key == "" {
			continue
		}
		env[key] = value
	}
	return env
}

func systemProperty(name, value string) string {
	return "-D" + name + "=" + value
}

// Executable returns the runtime binary inside home.
func Executable(home string) string {
	name := runtimeBinaryName
	if runtime.GOOS == "windows" {
		name += windowsBinarySuffix
	}
	return filepath.Join(home, runtimeBinaryDir, name)
}

// DetectRuntimeHome picks the runtime installation: explicit if set, then
// $JAVA_HOME, then the installation owning the binary found on PATH.
func DetectRuntimeHome(explicit string) (string, error) {
	if explicit != "" {
		return explicit, nil
	}
	if home := os.Getenv(runtimeHomeEnvVar); home != "" {
		return home, nil
	}
	bin, err := exec.LookPath(runtimeBinaryName)
	if err != nil {
		return "", fmt.Errorf("no runtime configured: set %s or put %s on PATH: %w", runtimeHomeEnvVar, runtimeBinaryName, err)
	}
	if resolved, err := filepath.EvalSymlinks(bin); err == nil {
		bin = resolved
	}
	// <home>/bin/java
	return filepath.Dir(filepath.Dir(bin)), nil
}

// UnsupportedLayoutError reports a project that does not have exactly one test output root.
type UnsupportedLayoutError struct {
	Roots []string
}

func (e *UnsupportedLayoutError) Error() string {
	if len(e.Roots) == 0 {
		return "unsupported project layout: no test output directory"
	}
	return fmt.Sprintf("unsupported project layout: expected one test output directory, got %d (%s)",
		len(e.Roots), strings.Join(e.Roots, ", "))
}

// IsUnsupportedLayoutError checks if the error is or wraps an UnsupportedLayoutError
func IsUnsupportedLayoutError(err error) bool {
	var layoutErr *UnsupportedLayoutError
	return err != nil && errors.As(err, &layoutErr)
}

// SingleOutputRoot returns the only test output root, or an
// UnsupportedLayoutError for any other number of roots.
func SingleOutputRoot(roots []string) (string, error) {
	var nonEmpty []string
	for _, r := range roots {
		if r != "" {
			nonEmpty = append(nonEmpty, r)
		}
	}
	if len(nonEmpty) != 1 {
		return "", &UnsupportedLayoutError{Roots: nonEmpty}
	}
	return nonEmpty[0], nil
}
