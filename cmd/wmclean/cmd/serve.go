package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/MeKo-Tech/wmclean/internal/config"
	"github.com/MeKo-Tech/wmclean/internal/server"
	"github.com/MeKo-Tech/wmclean/internal/version"
	"github.com/spf13/cobra"
)

func newServeCommand(a *app) *cobra.Command {
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP server for watermark removal",
		Long: `Start an HTTP server that removes watermarks from uploaded images.

The server provides the following endpoints:
  POST /watermark/remove - multipart upload, responds with the cleaned image
  GET  /ws/remove        - websocket with per-stage progress messages
  GET  /health           - health check
  GET  /models           - known models and whether they are loaded
  GET  /metrics          - Prometheus metrics

Examples:
  wmclean serve
  wmclean serve --port 8080
  wmclean serve --host 0.0.0.0 --port 3000 --rate-limit-enabled`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runServe(cmd)
		},
	}

	f := serveCmd.Flags()
	f.String("host", "localhost", "interface to listen on")
	f.IntP("port", "p", 8080, "port to listen on")
	f.String("cors-origin", "*", "value of Access-Control-Allow-Origin")
	f.Int("max-upload-size", 50, "maximum upload size in MB")
	f.Int("timeout", 60, "per-request processing timeout in seconds")
	f.Int("shutdown-timeout", 10, "graceful shutdown timeout in seconds")
	f.Bool("rate-limit-enabled", false, "enable per-client rate limiting")
	f.Int("requests-per-minute", 60, "requests per minute per client")
	f.Int("requests-per-hour", 1000, "requests per hour per client")
	f.Int("max-requests-per-day", 10000, "requests per day per client")
	f.Int("max-data-per-day", 1024, "upload megabytes per day per client")
	return serveCmd
}

// serverSettings is the resolved server configuration.
type serverSettings struct {
	addr            string
	shutdownTimeout time.Duration
	config          server.Config
}

// serverSettingsFromFlags applies changed flags over cfg.Server.
func serverSettingsFromFlags(cmd *cobra.Command, cfg *config.Config) (serverSettings, error) {
	f := cmd.Flags()
	sc := cfg.Server

	if f.Changed("host") {
		sc.Host, _ = f.GetString("host")
	}
	if f.Changed("port") {
		sc.Port, _ = f.GetInt("port")
	}
	if f.Changed("cors-origin") {
		sc.CORSOrigin, _ = f.GetString("cors-origin")
	}
	if f.Changed("max-upload-size") {
		sc.MaxUploadMB, _ = f.GetInt("max-upload-size")
	}
	if f.Changed("timeout") {
		sc.TimeoutSec, _ = f.GetInt("timeout")
	}
	if f.Changed("shutdown-timeout") {
		sc.ShutdownTimeout, _ = f.GetInt("shutdown-timeout")
	}
	if f.Changed("rate-limit-enabled") {
		sc.RateLimit.Enabled, _ = f.GetBool("rate-limit-enabled")
	}
	if f.Changed("requests-per-minute") {
		sc.RateLimit.RequestsPerMinute, _ = f.GetInt("requests-per-minute")
	}
	if f.Changed("requests-per-hour") {
		sc.RateLimit.RequestsPerHour, _ = f.GetInt("requests-per-hour")
	}
	if f.Changed("max-requests-per-day") {
		sc.RateLimit.MaxRequestsPerDay, _ = f.GetInt("max-requests-per-day")
	}
	if f.Changed("max-data-per-day") {
		sc.RateLimit.MaxDataPerDayMB, _ = f.GetInt("max-data-per-day")
	}

	// Validate the overridden values the same way a config file is checked.
	c := *cfg
	c.Server = sc
	if err := c.Validate(); err != nil {
		return serverSettings{}, err
	}
	dc, err := c.ToDispatcherConfig()
	if err != nil {
		return serverSettings{}, err
	}

	return serverSettings{
		addr:            net.JoinHostPort(sc.Host, strconv.Itoa(sc.Port)),
		shutdownTimeout: time.Duration(sc.ShutdownTimeout) * time.Second,
		config: server.Config{
			Host:        sc.Host,
			Port:        sc.Port,
			CORSOrigin:  sc.CORSOrigin,
			MaxUploadMB: int64(sc.MaxUploadMB),
			TimeoutSec:  sc.TimeoutSec,
			ModelsDir:   cfg.ModelsDir,
			Version:     version.Version,
			RateLimit: server.RateLimitConfig{
				Enabled:           sc.RateLimit.Enabled,
				RequestsPerMinute: sc.RateLimit.RequestsPerMinute,
				RequestsPerHour:   sc.RateLimit.RequestsPerHour,
				MaxRequestsPerDay: sc.RateLimit.MaxRequestsPerDay,
				MaxDataPerDay:     int64(sc.RateLimit.MaxDataPerDayMB) * 1024 * 1024,
			},
			Dispatcher: dc,
			Defaults:   cfg.RequestOptions,
		},
	}, nil
}

func (a *app) runServe(cmd *cobra.Command) error {
	settings, err := serverSettingsFromFlags(cmd, a.cfg)
	if err != nil {
		return err
	}

	srv, err := server.NewServer(settings.config)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}
	defer func() {
		if err := srv.Close(); err != nil {
			slog.Error("Failed to close server resources", "error", err)
		}
	}()

	mux := http.NewServeMux()
	srv.SetupRoutes(mux)

	timeout := time.Duration(settings.config.TimeoutSec) * time.Second
	httpServer := &http.Server{
		Addr:              settings.addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       timeout + 10*time.Second,
		WriteTimeout:      timeout + 10*time.Second,
	}

	ln, err := net.Listen("tcp", settings.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", settings.addr, err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		slog.Info("Starting server", "address", ln.Addr().String(), "version", version.Version)
		if err := httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	slog.Info("Shutting down server", "timeout", settings.shutdownTimeout)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), settings.shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	slog.Info("Server stopped")
	return nil
}
