// Package capture provides the line sinks that receive the output streams of
// the test process.
//
// A sink is owned by a single drain goroutine and is not safe for concurrent use.
package capture

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/acarl005/stripansi"
	"github.com/ethereum/go-ethereum/log"

	"github.com/ethereum-optimism/infra/op-testrunner/metrics"
)

// LineSink receives the lines of one output stream.
type LineSink interface {
	// ConsumeLine stores line. It never fails; write problems are handled
	// by the sink itself.
	ConsumeLine(line string)
	// Close releases the sink. Calling it more than once is allowed.
	Close() error
}

// StreamWriteError describes a sink that stopped accepting lines.
type StreamWriteError struct {
	Stream string
	Path   string
	Err    error
}

func (e *StreamWriteError) Error() string {
	return fmt.Sprintf("failed to write %s output to %s: %v", e.Stream, e.Path, e.Err)
}

func (e *StreamWriteError) Unwrap() error {
	return e.Err
}

type discard struct{}

func (discard) ConsumeLine(string) {}
func (discard) Close() error       { return nil }

// Discard drops every line.
var Discard LineSink = discard{}

// FileSink writes lines to a file that is truncated when the sink is created.
type FileSink struct {
	stream string
	path   string
	f      *os.File
	log    log.Logger
	failed bool
	closed bool
}

// NewFileSink creates or truncates path. When the file cannot be opened a
// warning is logged and Discard is returned instead.
func NewFileSink(path, stream string, logger log.Logger) LineSink {
	if logger == nil {
		logger = log.New()
	}
	f, err := os.Create(path)
	if err != nil {
		logger.Warn("Failed to open output file, discarding output", "stream", stream, "path", path, "err", err)
		metrics.RecordErrorDetails("sink_open", err)
		return Discard
	}
	return &FileSink{stream: stream, path: path, f: f, log: logger}
}

// ConsumeLine appends line and a newline. The write goes straight to the
// file, so the line is on disk when this returns.
func (s *FileSink) ConsumeLine(line string) {
	if s.failed || s.closed {
		return
	}
	if _, err := s.f.WriteString(line + "\n"); err != nil {
		s.failed = true
		werr := &StreamWriteError{Stream: s.stream, Path: s.path, Err: err}
		s.log.Warn("Output sink failed, dropping further lines", "err", werr)
		metrics.RecordSinkWriteFailure(s.stream)
	}
}

func (s *FileSink) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	return s.f.Close()
}

type ansiStripper struct {
	next LineSink
}

// StripANSI removes ANSI escape sequences before passing lines on to next.
func StripANSI(next LineSink) LineSink {
	return &ansiStripper{next: next}
}

func (s *ansiStripper) ConsumeLine(line string) {
	s.next.ConsumeLine(stripansi.Strip(line))
}

func (s *ansiStripper) Close() error {
	return s.next.Close()
}

type tee []LineSink

// Tee passes every line to each of sinks in order.
func Tee(sinks ...LineSink) LineSink {
	return tee(sinks)
}

func (t tee) ConsumeLine(line string) {
	for _, s := range t {
		s.ConsumeLine(line)
	}
}

func (t tee) Close() error {
	var errs []error
	for _, s := range t {
		errs = append(errs, s.Close())
	}
	return errors.Join(errs...)
}

type logSink struct {
	log    log.Logger
	stream string
}

// NewLogSink mirrors lines to logger as they arrive.
func NewLogSink(logger log.Logger, stream string) LineSink {
	return &logSink{log: logger, stream: stream}
}

func (s *logSink) ConsumeLine(line string) {
	s.log.Info(stripansi.Strip(line), "stream", s.stream)
}

func (s *logSink) Close() error {
	return nil
}

// Drain reads r line by line into sink until EOF. Lines may be of any length;
// a trailing "\r" is removed and a final line without newline is delivered too.
func Drain(r io.Reader, sink LineSink) error {
	br := bufio.NewReader(r)
	for {
		line, err := br.ReadString('\n')
		if len(line) > 0 {
			line = strings.TrimSuffix(line, "\n")
			line = strings.TrimSuffix(line, "\r")
			sink.ConsumeLine(line)
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
	}
}
