// This package wraps spf13's afero so file-reading code (seed example
// staging, config fixtures) can run against an in-mem fs in tests.

package afero

import (
	"os"

	"github.com/spf13/afero"
)

type File interface {
	afero.File
}

type Fs interface {
	afero.Fs
}

// NewOsFs returns the real filesystem.
func NewOsFs() Fs {
	return afero.NewOsFs()
}

// NewMemMapFs returns an in-memory filesystem for tests.
func NewMemMapFs() Fs {
	return afero.NewMemMapFs()
}

func ReadFile(fs Fs, filename string) ([]byte, error) {
	return afero.ReadFile(fs, filename)
}

func WriteFile(fs Fs, filename string, data []byte, perm os.FileMode) error {
	return afero.WriteFile(fs, filename, data, perm)
}

// Exists returns true and nil error if the given path for a file or directory
// exists.
func Exists(fs Fs, path string) (bool, error) {
	return afero.Exists(fs, path)
}
