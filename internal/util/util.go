package util

import (
	"io/fs"
	"os"
	"path/filepath"
)

// InitDir initializes the parent directory for the given path with the provided mode
func InitDir(path string, mode fs.FileMode) error {
	expandedDir := os.ExpandEnv(path)
	fullPath := filepath.Dir(expandedDir)
	err := os.MkdirAll(fullPath, mode)
	return err
}
