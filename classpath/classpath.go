// Package classpath assembles the library search path handed to the test process.
package classpath

import (
	"errors"
	"fmt"
	"os"
	"strings"
)

// Build joins the project entries followed by the runner entries with the
// platform path list separator. Entries are used verbatim.
func Build(projectPaths, runnerPaths []string) string {
	all := make([]string, 0, len(projectPaths)+len(runnerPaths))
	all = append(all, projectPaths...)
	all = append(all, runnerPaths...)
	return strings.Join(all, string(os.PathListSeparator))
}

// Project describes where a compiled project keeps its classes and where its
// own dependency class path was written.
type Project struct {
	TestOutputDir string
	OutputDir     string
	// DependencyFile holds the output of mvn dependency:build-classpath. Optional.
	DependencyFile string
}

// Elements returns the project's class path: test classes, main classes, then
// the entries listed in DependencyFile.
func (p Project) Elements() ([]string, error) {
	var elements []string
	for _, dir := range []string{p.TestOutputDir, p.OutputDir} {
		if dir != "" {
			elements = append(elements, dir)
		}
	}
	if len(elements) == 0 {
		return nil, &ClasspathUnavailableError{Err: errors.New("no project output directory configured")}
	}
	if p.DependencyFile == "" {
		return elements, nil
	}
	deps, err := ReadDependencyFile(p.DependencyFile)
	if err != nil {
		return nil, err
	}
	return append(elements, deps...), nil
}

// ReadDependencyFile reads class path entries separated by the platform path
// list separator and/or newlines. Blank entries are dropped.
func ReadDependencyFile(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &ClasspathUnavailableError{Path: path, Err: err}
	}
	fields := strings.FieldsFunc(string(data), func(r rune) bool {
		return r == os.PathListSeparator || r == '\n' || r == '\r'
	})
	var entries []string
	for _, f := range fields {
		if f = strings.TrimSpace(f); f != "" {
			entries = append(entries, f)
		}
	}
	return entries, nil
}

// ClasspathUnavailableError reports that the project's class path could not be determined.
type ClasspathUnavailableError struct {
	Path string
	Err  error
}

func (e *ClasspathUnavailableError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("project class path unavailable: %v", e.Err)
	}
	return fmt.Sprintf("project class path unavailable: failed to read %s: %v", e.Path, e.Err)
}

func (e *ClasspathUnavailableError) Unwrap() error {
	return e.Err
}

// IsClasspathUnavailableError checks if the error is or wraps a ClasspathUnavailableError
func IsClasspathUnavailableError(err error) bool {
	var cpErr *ClasspathUnavailableError
	return err != nil && errors.As(err, &cpErr)
}
