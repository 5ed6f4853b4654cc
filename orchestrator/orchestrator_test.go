package orchestrator

import (
	"context"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethereum-optimism/infra/op-testrunner/capture"
	"github.com/ethereum-optimism/infra/op-testrunner/exitcodes"
	"github.com/ethereum-optimism/infra/op-testrunner/process"
)

type recordingHandler struct {
	mu      sync.Mutex
	records []slog.Record
}

func (h *recordingHandler) Enabled(context.Context, slog.Level) bool { return true }

func (h *recordingHandler) Handle(_ context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.records = append(h.records, r)
	return nil
}

func (h *recordingHandler) WithAttrs([]slog.Attr) slog.Handler { return h }
func (h *recordingHandler) WithGroup(string) slog.Handler      { return h }

func (h *recordingHandler) count(level slog.Level) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, r := range h.records {
		if r.Level == level {
			n++
		}
	}
	return n
}

func (h *recordingHandler) hasMessage(msg string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, r := range h.records {
		if r.Message == msg {
			return true
		}
	}
	return false
}

func skipWithoutShell(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("requires /bin/sh")
	}
}

func shellSpec(script string, env map[string]string) process.Spec {
	if env == nil {
		env = map[string]string{}
	}
	if _, ok := env["PATH"]; !ok {
		env["PATH"] = os.Getenv("PATH")
	}
	return process.Spec{
		Executable: "/bin/sh",
		Args:       []string{"-c", script},
		Env:        env,
	}
}

func newTestOrchestrator(t *testing.T, h slog.Handler, mutate func(*Config)) (*Orchestrator, Config) {
	t.Helper()
	dir := t.TempDir()
	if h == nil {
		h = log.DiscardHandler()
	}
	cfg := Config{
		StdoutPath: filepath.Join(dir, "stdout.txt"),
		StderrPath: filepath.Join(dir, "stderr.txt"),
		Log:        log.NewLogger(h),
	}
	if mutate != nil {
		mutate(&cfg)
	}
	o, err := New(cfg)
	require.NoError(t, err)
	return o, cfg
}

func readLines(t *testing.T, path string) []string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	if len(data) == 0 {
		return nil
	}
	return strings.Split(strings.TrimSuffix(string(data), "\n"), "\n")
}

func TestRunCapturesBothStreams(t *testing.T) {
	skipWithoutShell(t)
	o, cfg := newTestOrchestrator(t, nil, nil)

	res := o.Run(context.Background(), shellSpec(`
echo out1
echo err1 >&2
echo out2
echo out3
echo err2 >&2
`, nil))

	assert.Equal(t, exitcodes.Success, res.ExitCode)
	assert.Equal(t, cfg.StdoutPath, res.StdoutPath)
	assert.Equal(t, cfg.StderrPath, res.StderrPath)
	assert.Positive(t, res.Duration)
	assert.Equal(t, []string{"out1", "out2", "out3"}, readLines(t, cfg.StdoutPath))
	assert.Equal(t, []string{"err1", "err2"}, readLines(t, cfg.StderrPath))
}

func TestRunPropagatesExitCode(t *testing.T) {
	skipWithoutShell(t)
	for _, code := range []int{1, 3, 42} {
		o, _ := newTestOrchestrator(t, nil, nil)
		res := o.Run(context.Background(), shellSpec("exit "+strconv.Itoa(code), nil))
		assert.Equal(t, code, res.ExitCode)
	}
}

func TestRunMissingExecutable(t *testing.T) {
	h := &recordingHandler{}
	o, cfg := newTestOrchestrator(t, h, nil)

	res := o.Run(context.Background(), process.Spec{
		Executable: filepath.Join(t.TempDir(), "no-such-runtime", "bin", "java"),
		Args:       []string{"-ea", "Main"},
	})

	assert.Equal(t, exitcodes.LaunchFailure, res.ExitCode)
	assert.True(t, h.hasMessage("Test process could not be started"))
	// sinks were created and closed
	assert.Empty(t, readLines(t, cfg.StdoutPath))
	assert.Empty(t, readLines(t, cfg.StderrPath))
}

func TestRunMissingSinkDirectory(t *testing.T) {
	skipWithoutShell(t)
	h := &recordingHandler{}
	missing := filepath.Join(t.TempDir(), "does", "not", "exist")
	o, cfg := newTestOrchestrator(t, h, func(c *Config) {
		c.StdoutPath = filepath.Join(missing, "stdout.txt")
	})

	res := o.Run(context.Background(), shellSpec("echo lost; echo kept >&2; exit 1", nil))

	assert.Equal(t, 1, res.ExitCode)
	assert.Equal(t, 1, h.count(slog.LevelWarn))
	assert.NoFileExists(t, cfg.StdoutPath)
	assert.Equal(t, []string{"kept"}, readLines(t, cfg.StderrPath))
}

func TestRunLargeOutputOnBothStreams(t *testing.T) {
	skipWithoutShell(t)
	o, cfg := newTestOrchestrator(t, nil, nil)

	// far more than a pipe buffer on each stream
	const lines = 20000
	script := `i=0
while [ $i -lt 20000 ]; do
  echo "stdout line $i with some padding to fill the pipe buffer quickly"
  echo "stderr line $i with some padding to fill the pipe buffer quickly" >&2
  i=$((i+1))
done`

	done := make(chan ExecutionResult, 1)
	go func() { done <- o.Run(context.Background(), shellSpec(script, nil)) }()

	select {
	case res := <-done:
		assert.Equal(t, exitcodes.Success, res.ExitCode)
	case <-time.After(2 * time.Minute):
		t.Fatal("process did not finish; output streams are not drained")
	}

	out := readLines(t, cfg.StdoutPath)
	errLines := readLines(t, cfg.StderrPath)
	require.Len(t, out, lines)
	require.Len(t, errLines, lines)
	assert.Equal(t, "stdout line 19999 with some padding to fill the pipe buffer quickly", out[lines-1])
}

func TestRunTruncatesPreviousOutput(t *testing.T) {
	skipWithoutShell(t)
	o, cfg := newTestOrchestrator(t, nil, nil)
	require.NoError(t, os.WriteFile(cfg.StdoutPath, []byte("old run\n"), 0o644))

	o.Run(context.Background(), shellSpec("echo new run", nil))
	assert.Equal(t, []string{"new run"}, readLines(t, cfg.StdoutPath))
}

func TestRunPassesEnvironmentAndDirectory(t *testing.T) {
	skipWithoutShell(t)
	o, cfg := newTestOrchestrator(t, nil, nil)
	workDir := t.TempDir()
	searchPath := "/proj/classes" + string(os.PathListSeparator) + "/repo/a-1.0.jar"

	spec := shellSpec(`echo "$CLASSPATH"; pwd`, map[string]string{"CLASSPATH": searchPath})
	spec.Dir = workDir
	res := o.Run(context.Background(), spec)

	require.Equal(t, exitcodes.Success, res.ExitCode)
	out := readLines(t, cfg.StdoutPath)
	require.Len(t, out, 2)
	assert.Equal(t, searchPath, out[0])
	expectedDir, err := filepath.EvalSymlinks(workDir)
	require.NoError(t, err)
	actualDir, err := filepath.EvalSymlinks(out[1])
	require.NoError(t, err)
	assert.Equal(t, expectedDir, actualDir)
}

func TestRunAbnormalTermination(t *testing.T) {
	skipWithoutShell(t)
	o, _ := newTestOrchestrator(t, nil, nil)

	res := o.Run(context.Background(), shellSpec("kill -9 $$", nil))
	assert.Equal(t, exitcodes.RuntimeErr, res.ExitCode)
}

func TestRunStripsANSIAndMirrorsToLog(t *testing.T) {
	skipWithoutShell(t)
	h := &recordingHandler{}
	o, cfg := newTestOrchestrator(t, h, func(c *Config) {
		c.StripANSI = true
		c.RealtimeLogs = true
	})

	res := o.Run(context.Background(), shellSpec(`printf '\033[32mPASS\033[0m FooTest\n'`, nil))

	require.Equal(t, exitcodes.Success, res.ExitCode)
	assert.Equal(t, []string{"PASS FooTest"}, readLines(t, cfg.StdoutPath))
	assert.True(t, h.hasMessage("PASS FooTest"))
}

type panickingSink struct {
	closes int
}

func (p *panickingSink) ConsumeLine(string) { panic("sink exploded") }
func (p *panickingSink) Close() error {
	p.closes++
	return nil
}

func TestRunRecoversPanickingSink(t *testing.T) {
	skipWithoutShell(t)
	h := &recordingHandler{}
	o, _ := newTestOrchestrator(t, h, nil)
	sinks := map[string]*panickingSink{}
	o.newSink = func(path, stream string, _ log.Logger) capture.LineSink {
		s := &panickingSink{}
		sinks[stream] = s
		return s
	}

	script := `i=0
while [ $i -lt 5000 ]; do
  echo "line $i padding padding padding padding padding"
  i=$((i+1))
done
exit 4`
	res := o.Run(context.Background(), shellSpec(script, nil))

	assert.Equal(t, 4, res.ExitCode)
	assert.True(t, h.hasMessage("Output drain panicked, discarding the rest of the stream"))
	require.Len(t, sinks, 2)
	for stream, s := range sinks {
		assert.Equal(t, 1, s.closes, stream)
	}
}

func TestNewRequiresPaths(t *testing.T) {
	_, err := New(Config{StdoutPath: "/tmp/out"})
	require.Error(t, err)
	_, err = New(Config{StderrPath: "/tmp/err"})
	require.Error(t, err)
}

func TestOpenPipesClosesStdoutWhenStderrFails(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("relies on EPIPE from a pipe without readers")
	}
	cmd := exec.Command("true")
	cmd.Stderr = &strings.Builder{}

	stdout, stderr, err := openPipes(cmd)
	require.Error(t, err)
	assert.Nil(t, stdout)
	assert.Nil(t, stderr)

	// the read end is closed, so the child side of the pipe has no reader left
	w, ok := cmd.Stdout.(*os.File)
	require.True(t, ok)
	t.Cleanup(func() { _ = w.Close() })
	_, err = w.Write([]byte("x"))
	require.Error(t, err)
}
