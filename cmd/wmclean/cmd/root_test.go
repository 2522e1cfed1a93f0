package cmd

import (
	"bytes"
	"errors"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"

	"github.com/MeKo-Tech/wmclean/internal/apperr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// isolate points HOME and the working directory at a fresh temp dir so no
// real config file is picked up.
func isolate(t *testing.T) string {
	t.Helper()
	tmp := t.TempDir()
	t.Setenv("HOME", tmp)
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(tmp, ".config"))
	t.Chdir(tmp)

	old := slog.Default()
	t.Cleanup(func() { slog.SetDefault(old) })
	return tmp
}

// execute runs a fresh command tree and returns stdout, stderr and the error.
func execute(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	root := NewRootCommand()
	var stdout, stderr bytes.Buffer
	root.SetOut(&stdout)
	root.SetErr(&stderr)
	root.SetArgs(args)
	err := root.Execute()
	return stdout.String(), stderr.String(), err
}

func TestRootCommand(t *testing.T) {
	root := NewRootCommand()
	assert.Equal(t, "wmclean", root.Use)
	assert.NotEmpty(t, root.Short)
	assert.NotEmpty(t, root.Long)

	names := make([]string, 0, len(root.Commands()))
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}
	for _, expected := range []string{"remove", "batch", "serve", "models", "config", "version"} {
		assert.Contains(t, names, expected, "Expected subcommand '%s' not found", expected)
	}
}

func TestRootCommandHelp(t *testing.T) {
	isolate(t)
	out, _, err := execute(t, "--help")
	require.NoError(t, err)
	assert.Contains(t, out, "bottom-right corner")
	assert.Contains(t, out, "Available Commands:")
	assert.Contains(t, out, "Usage:")
}

func TestRootCommandVersion(t *testing.T) {
	isolate(t)
	out, _, err := execute(t, "--version")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "wmclean version dev (commit: "), out)
}

func TestRootCommandInvalidFlag(t *testing.T) {
	isolate(t)
	_, _, err := execute(t, "--no-such-flag")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown flag")
}

func TestRootCommand_BadConfigFile(t *testing.T) {
	isolate(t)
	_, _, err := execute(t, "--config", "missing.yaml", "models")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "loading configuration")
	assert.Equal(t, 2, ExitCode(err))
}

func TestRootCommand_LogsJSONToStderr(t *testing.T) {
	tmp := isolate(t)
	in := writeSample(t, tmp, "in.png")

	_, stderr, err := execute(t, "remove", in, filepath.Join(tmp, "out.png"), "--verbose")
	require.NoError(t, err)
	assert.Contains(t, stderr, `"level":"DEBUG"`)
	assert.Contains(t, stderr, `"msg":"Image processed"`)
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, 0, ExitCode(nil))
	assert.Equal(t, 1, ExitCode(errors.New("boom")))
	assert.Equal(t, 1, ExitCode(apperr.New(apperr.KindModelLoad, "load model", errors.New("missing"))))
	assert.Equal(t, 2, ExitCode(apperr.New(apperr.KindInvalidOption, "parse request", errors.New("bad"))))
	assert.Equal(t, 2, ExitCode(&configError{err: errors.New("bad key")}))
}

func TestVersionCommand(t *testing.T) {
	isolate(t)
	out, _, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "wmclean version dev")
	assert.Contains(t, out, "Commit: unknown")
}

func TestVersionCommand_IgnoresBrokenConfig(t *testing.T) {
	isolate(t)
	_, _, err := execute(t, "--config", "missing.yaml", "version")
	require.NoError(t, err)
}
