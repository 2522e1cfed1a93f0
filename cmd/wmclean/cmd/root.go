// Package cmd implements the wmclean command line.
package cmd

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/MeKo-Tech/wmclean/internal/apperr"
	"github.com/MeKo-Tech/wmclean/internal/config"
	"github.com/MeKo-Tech/wmclean/internal/models"
	"github.com/MeKo-Tech/wmclean/internal/version"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// app carries the state shared by one command tree.
type app struct {
	// Configuration loader bound to the root's persistent flags.
	loader *config.Loader
	// Configuration resolved before any subcommand runs.
	cfg *config.Config
	// Configuration file path.
	cfgFile string
}

// NewRootCommand builds a fresh command tree with its own viper instance.
// Tests execute several trees in one process.
func NewRootCommand() *cobra.Command {
	a := &app{loader: config.NewLoaderWithViper(viper.New())}

	rootCmd := &cobra.Command{
		Use:   "wmclean",
		Short: "Remove corner watermarks from images",
		Long: `wmclean removes a watermark from the bottom-right corner of an image by
reconstructing the covered pixels. Pixels outside the corner are never changed.

Two strategies are available:
- classical: boundary propagation (fast marching or isophote diffusion), no model needed
- learned:   LaMa inpainting through ONNX Runtime, 15% x 15% corner

Examples:
  wmclean remove photo.jpg photo_clean.jpg
  wmclean remove photo.jpg out.png --width-pct 25 --height-pct 10 --algorithm diffusion
  wmclean remove photo.jpg out.png --strategy learned --model assets/lama/lama_fp32.onnx
  wmclean batch ./photos --output-dir ./clean --workers 4
  wmclean serve --port 8080`,
		Version:           version.String(),
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: a.initialize,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	rootCmd.SetVersionTemplate("wmclean version {{.Version}}\n")

	// Global flags that apply to all commands
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&a.cfgFile, "config", "",
		"config file (default is search in ., $HOME, $XDG_CONFIG_HOME/wmclean, /etc/wmclean)")
	pf.BoolP("verbose", "v", false, "verbose output (equivalent to --log-level=debug)")
	pf.String("log-level", "info", "log level (debug, info, warn, error)")
	pf.String("models-dir", models.DefaultModelsDir,
		"directory containing ONNX models (can also be set via "+models.EnvModelsDir+")")

	v := a.loader.GetViper()
	_ = v.BindPFlag("verbose", pf.Lookup("verbose"))
	_ = v.BindPFlag("log_level", pf.Lookup("log-level"))
	_ = v.BindPFlag("models_dir", pf.Lookup("models-dir"))

	rootCmd.AddCommand(
		newRemoveCommand(a),
		newBatchCommand(a),
		newServeCommand(a),
		newModelsCommand(a),
		newConfigCommand(a),
		newVersionCommand(),
	)
	return rootCmd
}

// Execute runs the command line and exits non-zero on failure.
func Execute() {
	if err := NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(ExitCode(err))
	}
}

// ExitCode maps a command error to a process exit status. Configuration
// and usage mistakes return 2, everything else 1.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var cfgErr *configError
	if errors.As(err, &cfgErr) || apperr.Is(err, apperr.KindInvalidOption) {
		return 2
	}
	return 1
}

type configError struct{ err error }

func (e *configError) Error() string { return "loading configuration: " + e.err.Error() }
func (e *configError) Unwrap() error { return e.err }

// initialize loads the configuration and installs the JSON logger.
func (a *app) initialize(cmd *cobra.Command, _ []string) error {
	cfg, err := a.loader.LoadWithFile(a.cfgFile)
	if err != nil {
		return &configError{err: err}
	}
	a.cfg = cfg
	slog.SetDefault(newLogger(cmd.ErrOrStderr(), cfg))
	slog.Debug("Configuration loaded", "file", a.loader.GetConfigFileUsed())
	return nil
}

// newLogger returns a JSON logger at the configured level. Verbose wins
// over log_level.
func newLogger(w io.Writer, cfg *config.Config) *slog.Logger {
	var logLevel slog.Level
	if cfg.Verbose {
		logLevel = slog.LevelDebug
	} else {
		switch cfg.LogLevel {
		case "debug":
			logLevel = slog.LevelDebug
		case "warn":
			logLevel = slog.LevelWarn
		case "error":
			logLevel = slog.LevelError
		default:
			logLevel = slog.LevelInfo
		}
	}
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: logLevel}))
}
