package testlist

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRead(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected []string
	}{
		{name: "empty", input: "", expected: nil},
		{name: "one per line", input: "a.FooTest.testOne\na.FooTest.testTwo\n", expected: []string{"a.FooTest.testOne", "a.FooTest.testTwo"}},
		{name: "comments and blanks", input: "# generated\n\n  a.B.c  \n# x.Y.z\n", expected: []string{"a.B.c"}},
		{name: "no trailing newline", input: "a.B.c\r\nd.E.f", expected: []string{"a.B.c", "d.E.f"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ids, err := Read(strings.NewReader(tt.input))
			require.NoError(t, err)
			assert.Equal(t, tt.expected, ids)
		})
	}
}

func TestCollect(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tests.txt")
	require.NoError(t, os.WriteFile(path, []byte("pkg.A.one\npkg.A.two\n"), 0o644))

	ids, err := Collect(path, []string{"pkg.B.three", " ", "pkg.A.one"})
	require.NoError(t, err)
	assert.Equal(t, []string{"pkg.A.one", "pkg.A.two", "pkg.B.three", "pkg.A.one"}, ids)

	ids, err = Collect("", nil)
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestCollectMissingFile(t *testing.T) {
	_, err := Collect(filepath.Join(t.TempDir(), "missing.txt"), nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrNotExist)
}
