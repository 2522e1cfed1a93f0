// Package onnx wraps ONNX Runtime environment setup, session options and the
// float32 tensors exchanged with inpainting models.
package onnx

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sync"

	onnxrt "github.com/yalue/onnxruntime_go"
)

const (
	osLinux    = "linux"
	osDarwin   = "darwin"
	osWindows  = "windows"
	libLinux   = "libonnxruntime.so"
	libDarwin  = "libonnxruntime.dylib"
	libWindows = "onnxruntime.dll"

	// LibraryPathEnv overrides shared library discovery.
	LibraryPathEnv = "WMCLEAN_ONNXRUNTIME_LIB"
)

var envMu sync.Mutex

// getLibraryName returns the runtime library filename for the current OS.
func getLibraryName() (string, error) {
	switch runtime.GOOS {
	case osLinux:
		return libLinux, nil
	case osDarwin:
		return libDarwin, nil
	case osWindows:
		return libWindows, nil
	default:
		return "", fmt.Errorf("unsupported operating system: %s", runtime.GOOS)
	}
}

// systemLibraryPaths lists well-known install locations, GPU builds first when requested.
func systemLibraryPaths(libName string, useGPU bool) []string {
	paths := []string{
		filepath.Join("/usr/local/lib", libName),
		filepath.Join("/usr/lib", libName),
		filepath.Join("/opt/onnxruntime/cpu/lib", libName),
	}
	if useGPU {
		paths = append([]string{filepath.Join("/opt/onnxruntime/gpu/lib", libName)}, paths...)
	}
	return paths
}

// findProjectRoot walks up from the working directory looking for go.mod.
func findProjectRoot() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("failed to get current directory: %w", err)
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", errors.New("could not find project root")
		}
		dir = parent
	}
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// ResolveLibraryPath picks the ONNX Runtime shared library. Precedence is the
// explicit path, then LibraryPathEnv, then system locations, then the
// project-local onnxruntime/ directory. An explicit path that does not exist
// is an error rather than a fallthrough.
func ResolveLibraryPath(explicit string, useGPU bool) (string, error) {
	if explicit != "" {
		if !fileExists(explicit) {
			return "", fmt.Errorf("ONNX Runtime library not found at %s", explicit)
		}
		return explicit, nil
	}
	if env := os.Getenv(LibraryPathEnv); env != "" {
		if !fileExists(env) {
			return "", fmt.Errorf("ONNX Runtime library from %s not found at %s", LibraryPathEnv, env)
		}
		return env, nil
	}

	libName, err := getLibraryName()
	if err != nil {
		return "", err
	}
	for _, p := range systemLibraryPaths(libName, useGPU) {
		if fileExists(p) {
			return p, nil
		}
	}

	root, err := findProjectRoot()
	if err != nil {
		return "", err
	}
	candidates := []string{filepath.Join(root, "onnxruntime", "lib", libName)}
	if useGPU {
		candidates = append([]string{filepath.Join(root, "onnxruntime", "gpu", "lib", libName)}, candidates...)
	}
	for _, p := range candidates {
		if fileExists(p) {
			return p, nil
		}
	}
	return "", fmt.Errorf("ONNX Runtime library %s not found", libName)
}

// EnsureEnvironment resolves the shared library and initializes the process-wide
// ONNX Runtime environment once. Later calls are no-ops.
func EnsureEnvironment(libPath string, useGPU bool) error {
	envMu.Lock()
	defer envMu.Unlock()

	if onnxrt.IsInitialized() {
		return nil
	}
	path, err := ResolveLibraryPath(libPath, useGPU)
	if err != nil {
		return err
	}
	onnxrt.SetSharedLibraryPath(path)
	if err := onnxrt.InitializeEnvironment(); err != nil {
		return fmt.Errorf("init onnx: %w", err)
	}
	slog.Debug("ONNX Runtime initialized", "library", path)
	return nil
}

// ShutdownEnvironment tears down the ONNX Runtime environment. Call it only
// after every session has been destroyed.
func ShutdownEnvironment() error {
	envMu.Lock()
	defer envMu.Unlock()

	if !onnxrt.IsInitialized() {
		return nil
	}
	if err := onnxrt.DestroyEnvironment(); err != nil {
		return fmt.Errorf("destroy onnx environment: %w", err)
	}
	return nil
}
