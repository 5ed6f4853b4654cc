// Package testlist reads the test ids produced by the test scanner.
package testlist

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
)

const maxLineSize = 1 << 20

// ReadFile reads test ids from path, one per line. Blank lines and lines
// starting with '#' are skipped.
func ReadFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open test list: %w", err)
	}
	defer f.Close()

	ids, err := Read(f)
	if err != nil {
		return nil, fmt.Errorf("failed to read test list %s: %w", path, err)
	}
	return ids, nil
}

// Read parses a test list from r.
func Read(r io.Reader) ([]string, error) {
	var ids []string
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		ids = append(ids, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return ids, nil
}

// Collect returns the ids listed in file, if set, followed by args. Order is
// preserved and duplicates are kept.
func Collect(file string, args []string) ([]string, error) {
	var ids []string
	if file != "" {
		fromFile, err := ReadFile(file)
		if err != nil {
			return nil, err
		}
		ids = append(ids, fromFile...)
	}
	for _, a := range args {
		if a = strings.TrimSpace(a); a != "" {
			ids = append(ids, a)
		}
	}
	return ids, nil
}
