package process

import (
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/ethereum/go-ethereum/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBuilder(t *testing.T, cfg Config) *Builder {
	t.Helper()
	if cfg.RuntimeHome == "" {
		cfg.RuntimeHome = "/opt/jdk"
	}
	if cfg.EntryPoint == "" {
		cfg.EntryPoint = "fi.helsinki.cs.tmc.testrunner.Main"
	}
	if cfg.Log == nil {
		cfg.Log = log.NewLogger(log.DiscardHandler())
	}
	b, err := NewBuilder(cfg)
	require.NoError(t, err)
	return b
}

func staticEnv(entries ...string) func() ([]string, error) {
	return func() ([]string, error) { return entries, nil }
}

func TestBuildArgumentOrder(t *testing.T) {
	b := newTestBuilder(t, Config{Environ: staticEnv()})

	spec, err := b.Build("/proj/classes", "/proj/target/test-classes", "/tmp/results.json",
		[]string{"pkg.FooTest.testA", "pkg.FooTest.testB", "pkg.BarTest.testC"})
	require.NoError(t, err)

	assert.Equal(t, []string{
		"-ea",
		"-Dtmc.test_class_dir=/proj/target/test-classes",
		"-Dtmc.results_file=/tmp/results.json",
		"fi.helsinki.cs.tmc.testrunner.Main",
		"pkg.FooTest.testA",
		"pkg.FooTest.testB",
		"pkg.BarTest.testC",
	}, spec.Args)
}

func TestBuildNoTests(t *testing.T) {
	b := newTestBuilder(t, Config{Environ: staticEnv()})

	spec, err := b.Build("", "/root", "/out.json", nil)
	require.NoError(t, err)
	assert.Equal(t, "fi.helsinki.cs.tmc.testrunner.Main", spec.Args[len(spec.Args)-1])
	assert.Len(t, spec.Args, 4)
}

func TestBuildJVMOptions(t *testing.T) {
	b := newTestBuilder(t, Config{Environ: staticEnv(), JVMOptions: []string{"-Xmx512m", "-Dfile.encoding=UTF-8"}})

	spec, err := b.Build("cp", "/root", "/out.json", []string{"T.t"})
	require.NoError(t, err)
	assert.Equal(t, []string{
		"-ea", "-Dtmc.test_class_dir=/root", "-Dtmc.results_file=/out.json",
		"-Xmx512m", "-Dfile.encoding=UTF-8",
		"fi.helsinki.cs.tmc.testrunner.Main", "T.t",
	}, spec.Args)
}

func TestBuildEnvironment(t *testing.T) {
	b := newTestBuilder(t, Config{
		WorkDir: "/proj",
		Environ: staticEnv("HOME=/home/u", "PATH=/usr/bin", "CLASSPATH=/stale", "EMPTY=", "=C:=C:\\", "MALFORMED", "EQ=a=b"),
	})

	searchPath := "/proj/classes" + string(os.PathListSeparator) + "/repo/a-1.0.jar"
	spec, err := b.Build(searchPath, "/root", "/out.json", nil)
	require.NoError(t, err)

	assert.Equal(t, map[string]string{
		"HOME":      "/home/u",
		"PATH":      "/usr/bin",
		"CLASSPATH": searchPath,
		"EMPTY":     "",
		"EQ":        "a=b",
	}, spec.Env)
	assert.Equal(t, "/proj", spec.Dir)
	assert.Equal(t, []string{
		"CLASSPATH=" + searchPath,
		"EMPTY=",
		"EQ=a=b",
		"HOME=/home/u",
		"PATH=/usr/bin",
	}, spec.Environ())
}

func TestBuildEnvironmentProviderFailure(t *testing.T) {
	b := newTestBuilder(t, Config{
		SearchPathVar: "LIBPATH",
		Environ:       func() ([]string, error) { return nil, errors.New("denied") },
	})

	spec, err := b.Build("/cp", "/root", "/out.json", nil)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"LIBPATH": "/cp"}, spec.Env)
}

func TestBuildDefaultEnvironment(t *testing.T) {
	t.Setenv("TESTRUNNER_INHERITED", "yes")
	b := newTestBuilder(t, Config{})

	spec, err := b.Build("/cp", "/root", "/out.json", nil)
	require.NoError(t, err)
	assert.Equal(t, "yes", spec.Env["TESTRUNNER_INHERITED"])
	assert.Equal(t, "/cp", spec.Env[DefaultSearchPathVar])
}

func TestBuildValidation(t *testing.T) {
	b := newTestBuilder(t, Config{Environ: staticEnv()})

	_, err := b.Build("/cp", "", "/out.json", nil)
	require.Error(t, err)
	_, err = b.Build("/cp", "/root", "", nil)
	require.Error(t, err)

	_, err = NewBuilder(Config{EntryPoint: "Main"})
	require.Error(t, err)
	_, err = NewBuilder(Config{RuntimeHome: "/opt/jdk"})
	require.Error(t, err)
}

func TestExecutable(t *testing.T) {
	b := newTestBuilder(t, Config{RuntimeHome: "/opt/jdk-17", Environ: staticEnv()})
	spec, err := b.Build("", "/root", "/out.json", nil)
	require.NoError(t, err)

	expected := filepath.Join("/opt/jdk-17", "bin", "java")
	if runtime.GOOS == "windows" {
		expected += ".exe"
	}
	assert.Equal(t, expected, spec.Executable)
}

func TestDetectRuntimeHome(t *testing.T) {
	home, err := DetectRuntimeHome("/explicit/jdk")
	require.NoError(t, err)
	assert.Equal(t, "/explicit/jdk", home)

	t.Setenv("JAVA_HOME", "/env/jdk")
	home, err = DetectRuntimeHome("")
	require.NoError(t, err)
	assert.Equal(t, "/env/jdk", home)
}

func TestDetectRuntimeHomeFromPath(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("uses a shell script as the runtime binary")
	}
	install := filepath.Join(t.TempDir(), "jdk")
	require.NoError(t, os.MkdirAll(filepath.Join(install, "bin"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(install, "bin", "java"), []byte("#!/bin/sh\n"), 0o755))
	linkDir := t.TempDir()
	require.NoError(t, os.Symlink(filepath.Join(install, "bin", "java"), filepath.Join(linkDir, "java")))

	t.Setenv("JAVA_HOME", "")
	t.Setenv("PATH", linkDir)

	home, err := DetectRuntimeHome("")
	require.NoError(t, err)
	expected, err := filepath.EvalSymlinks(install)
	require.NoError(t, err)
	assert.Equal(t, expected, home)

	t.Setenv("PATH", t.TempDir())
	_, err = DetectRuntimeHome("")
	require.Error(t, err)
}

func TestSingleOutputRoot(t *testing.T) {
	root, err := SingleOutputRoot([]string{"/proj/test-classes"})
	require.NoError(t, err)
	assert.Equal(t, "/proj/test-classes", root)

	_, err = SingleOutputRoot([]string{"/a", "/b"})
	require.Error(t, err)
	assert.True(t, IsUnsupportedLayoutError(err))
	assert.Contains(t, err.Error(), "got 2")

	_, err = SingleOutputRoot(nil)
	require.Error(t, err)
	assert.True(t, IsUnsupportedLayoutError(err))

	root, err = SingleOutputRoot([]string{"", "/only"})
	require.NoError(t, err)
	assert.Equal(t, "/only", root)
}
