// Package support holds the godog step definitions for the wmclean CLI and
// HTTP server scenarios.
package support

import (
	"errors"
	"fmt"
	"net/http/httptest"
	"os"
	"path/filepath"
	"time"

	"github.com/MeKo-Tech/wmclean/internal/server"
	"github.com/cucumber/godog"
)

// TestContext holds the state for one scenario.
type TestContext struct {
	// Command execution state
	LastCommand  string
	LastOutput   string
	LastStderr   string
	LastError    error
	LastExitCode int
	LastDuration time.Duration

	// Test environment
	TempDir    string
	ConfigFile string

	// Server state
	HTTPServer *httptest.Server
	Server     *server.Server

	// HTTP response state
	LastHTTPStatusCode int
	LastHTTPBody       []byte
	LastHTTPHeaders    map[string]string

	prevDir string
	prevEnv map[string]*string
}

// NewTestContext returns an empty context. Setup prepares it for a scenario.
func NewTestContext() *TestContext {
	return &TestContext{}
}

// Setup creates the scenario sandbox: a temporary directory that becomes the
// working directory and HOME, so no real config file leaks in.
func (testCtx *TestContext) Setup() error {
	tempDir, err := os.MkdirTemp("", "wmclean-test-*")
	if err != nil {
		return fmt.Errorf("failed to create temp directory: %w", err)
	}
	prevDir, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("failed to get working directory: %w", err)
	}

	*testCtx = TestContext{
		TempDir:         tempDir,
		LastHTTPHeaders: map[string]string{},
		prevDir:         prevDir,
		prevEnv:         map[string]*string{},
	}
	if err := os.Chdir(tempDir); err != nil {
		return fmt.Errorf("failed to enter temp directory: %w", err)
	}
	testCtx.setEnv("HOME", tempDir)
	testCtx.setEnv("XDG_CONFIG_HOME", filepath.Join(tempDir, ".config"))
	testCtx.setEnv("WMCLEAN_MODELS_DIR", filepath.Join(tempDir, "assets"))
	return nil
}

// setEnv sets an environment variable until Cleanup.
func (testCtx *TestContext) setEnv(name, value string) {
	if _, saved := testCtx.prevEnv[name]; !saved {
		if old, ok := os.LookupEnv(name); ok {
			testCtx.prevEnv[name] = &old
		} else {
			testCtx.prevEnv[name] = nil
		}
	}
	_ = os.Setenv(name, value)
}

// path resolves a scenario file name inside the temp directory.
func (testCtx *TestContext) path(name string) string {
	if filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(testCtx.TempDir, name)
}

// Cleanup stops the server, restores the environment and removes the temp
// directory.
func (testCtx *TestContext) Cleanup() error {
	if testCtx.TempDir == "" {
		return nil
	}
	var errs []error

	testCtx.stopServer()

	if err := os.Chdir(testCtx.prevDir); err != nil {
		errs = append(errs, fmt.Errorf("failed to restore working directory: %w", err))
	}
	for name, old := range testCtx.prevEnv {
		if old == nil {
			_ = os.Unsetenv(name)
		} else {
			_ = os.Setenv(name, *old)
		}
	}
	if err := os.RemoveAll(testCtx.TempDir); err != nil {
		errs = append(errs, fmt.Errorf("failed to remove temp directory %s: %w", testCtx.TempDir, err))
	}
	testCtx.TempDir = ""
	return errors.Join(errs...)
}

// RegisterSteps registers every step against testCtx.
func RegisterSteps(sc *godog.ScenarioContext, testCtx *TestContext) {
	RegisterCLISteps(sc, testCtx)
	RegisterServerSteps(sc, testCtx)
}
