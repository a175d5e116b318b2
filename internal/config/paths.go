package config

import (
	"fmt"
	"os"
	"path/filepath"
)

// ExecutableDir returns the directory holding the running binary, with symlinks resolved.
func ExecutableDir() (string, error) {
	exe, err := os.Executable()
	if err != nil {
		return "", fmt.Errorf("failed to get executable path: %w", err)
	}
	exe, err = filepath.EvalSymlinks(exe)
	if err != nil {
		return "", fmt.Errorf("failed to resolve executable symlinks: %w", err)
	}
	return filepath.Dir(exe), nil
}

// FindProjectRoot walks up from start until a directory containing marker is found.
func FindProjectRoot(start, marker string) (string, bool) {
	dir, err := filepath.Abs(start)
	if err != nil {
		return "", false
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, marker)); err == nil {
			return dir, true
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", false
		}
		dir = parent
	}
}

// BaseDir returns the directory relative paths are resolved against.
// Release builds use the executable directory. Development builds use the
// project root found from the working directory, falling back to the
// executable directory.
func (c *Config) BaseDir() (string, error) {
	if !c.IsRelease() && c.Paths.ProjectMarker != "" {
		if wd, err := os.Getwd(); err == nil {
			if root, ok := FindProjectRoot(wd, c.Paths.ProjectMarker); ok {
				return root, nil
			}
		}
	}
	return ExecutableDir()
}

// DataFilePath returns the absolute location of the user data document.
func (c *Config) DataFilePath() (string, error) {
	if filepath.IsAbs(c.Paths.DataFile) {
		return c.Paths.DataFile, nil
	}
	base, err := c.BaseDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(base, c.Paths.DataFile), nil
}
