// Package testutil provides synthetic images and filesystem helpers for tests.
package testutil

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/MeKo-Tech/wmclean/internal/models"
	"github.com/MeKo-Tech/wmclean/internal/onnx"
)

// GetProjectRoot returns the project root directory by finding go.mod.
func GetProjectRoot() (string, error) {
	_, filename, _, ok := runtime.Caller(0)
	if !ok {
		return "", errors.New("failed to get caller information")
	}
	dir := filepath.Dir(filename)

	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return "", fmt.Errorf("could not find go.mod file starting from %s", filepath.Dir(filename))
}

// EnsureDir creates a directory if it doesn't exist.
func EnsureDir(path string) error {
	return os.MkdirAll(path, 0o750)
}

// LamaModelPath returns the LaMa model under <root>/assets. The test is
// skipped when the model or the ONNX Runtime library is not installed.
func LamaModelPath(t *testing.T) string {
	t.Helper()
	root, err := GetProjectRoot()
	if err != nil {
		t.Skipf("project root: %v", err)
	}
	path := models.ResolveModelPath(filepath.Join(root, models.DefaultModelsDir), models.TypeInpainting, models.LamaFP32)
	if _, err := os.Stat(path); err != nil {
		t.Skipf("LaMa model not available: %v", err)
	}
	if _, err := onnx.ResolveLibraryPath("", false); err != nil {
		t.Skipf("ONNX Runtime library not available: %v", err)
	}
	return path
}
