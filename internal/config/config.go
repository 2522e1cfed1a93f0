package config

import (
	"fmt"
	"runtime"
	"slices"
	"strconv"
	"strings"

	"github.com/MeKo-Tech/wmclean/internal/inpaint"
	"github.com/MeKo-Tech/wmclean/internal/lama"
	"github.com/MeKo-Tech/wmclean/internal/models"
	"github.com/MeKo-Tech/wmclean/internal/onnx"
	"github.com/MeKo-Tech/wmclean/internal/remover"
	"github.com/MeKo-Tech/wmclean/internal/utils"
)

const autoValue = "auto"

var validLogLevels = []string{"debug", "info", "warn", "error"}

// DefaultConfig returns a configuration with default values.
func DefaultConfig() Config {
	return Config{
		ModelsDir: models.DefaultModelsDir,
		LogLevel:  "info",
		Verbose:   false,
		Region: RegionConfig{
			WidthPct:  remover.DefaultClassicalWidthPct,
			HeightPct: remover.DefaultClassicalHeightPct,
		},
		Classical: ClassicalConfig{
			Algorithm:           string(inpaint.Fast),
			Radius:              inpaint.DefaultRadius,
			DiffusionIterations: inpaint.DefaultDiffusionIterations,
			DiffusionTolerance:  inpaint.DefaultDiffusionTolerance,
		},
		Learned: LearnedConfig{
			ModelPath:   "",
			NumThreads:  0,
			OutputRange: string(lama.RangeAuto),
		},
		Output: OutputConfig{
			JPEGQuality: utils.DefaultJPEGQuality,
		},
		Server: ServerConfig{
			Host:            "localhost",
			Port:            8080,
			CORSOrigin:      "*",
			MaxUploadMB:     50,
			TimeoutSec:      60,
			ShutdownTimeout: 10,
			RateLimit: RateLimitConfig{
				Enabled:           false,
				RequestsPerMinute: 60,
				RequestsPerHour:   1000,
				MaxRequestsPerDay: 10000,
				MaxDataPerDayMB:   1024,
			},
		},
		Batch: BatchConfig{
			Workers:         runtime.NumCPU(),
			Suffix:          "_clean",
			ContinueOnError: false,
		},
		GPU: GPUConfig{
			Enabled:     false,
			Device:      0,
			MemoryLimit: autoValue,
		},
	}
}

// Validate checks the configuration for invalid values. Region percentages
// are not checked; they are clamped when the region is built.
func (c *Config) Validate() error {
	if !slices.Contains(validLogLevels, c.LogLevel) {
		return fmt.Errorf("invalid log level: %s (must be one of: %s)", c.LogLevel, strings.Join(validLogLevels, ", "))
	}

	if _, err := inpaint.ParseAlgorithm(c.Classical.Algorithm); err != nil {
		return fmt.Errorf("invalid classical.algorithm: %w", err)
	}
	if c.Classical.Radius < 0 {
		return fmt.Errorf("invalid classical.radius: %d (must not be negative)", c.Classical.Radius)
	}
	if c.Classical.DiffusionIterations < 0 {
		return fmt.Errorf("invalid classical.diffusion_iterations: %d (must not be negative)", c.Classical.DiffusionIterations)
	}
	if c.Classical.DiffusionTolerance < 0 {
		return fmt.Errorf("invalid classical.diffusion_tolerance: %.3f (must not be negative)", c.Classical.DiffusionTolerance)
	}

	if _, err := lama.ParseOutputRange(c.Learned.OutputRange); err != nil {
		return fmt.Errorf("invalid learned.output_range: %w", err)
	}
	if c.Learned.NumThreads < 0 {
		return fmt.Errorf("invalid learned.num_threads: %d (must not be negative)", c.Learned.NumThreads)
	}

	if c.Output.JPEGQuality < 1 || c.Output.JPEGQuality > 100 {
		return fmt.Errorf("invalid output.jpeg_quality: %d (must be between 1 and 100)", c.Output.JPEGQuality)
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d (must be between 1 and 65535)", c.Server.Port)
	}
	if c.Server.MaxUploadMB <= 0 {
		return fmt.Errorf("invalid max upload size: %d (must be positive)", c.Server.MaxUploadMB)
	}
	if c.Server.TimeoutSec <= 0 {
		return fmt.Errorf("invalid timeout: %d (must be positive)", c.Server.TimeoutSec)
	}
	if c.Server.ShutdownTimeout < 0 {
		return fmt.Errorf("invalid shutdown timeout: %d (must not be negative)", c.Server.ShutdownTimeout)
	}
	rl := c.Server.RateLimit
	if rl.RequestsPerMinute < 0 || rl.RequestsPerHour < 0 || rl.MaxRequestsPerDay < 0 || rl.MaxDataPerDayMB < 0 {
		return fmt.Errorf("invalid rate limit: limits must not be negative")
	}

	if c.Batch.Workers <= 0 {
		return fmt.Errorf("invalid batch workers: %d (must be positive)", c.Batch.Workers)
	}

	if c.GPU.Device < 0 {
		return fmt.Errorf("invalid GPU device: %d (must not be negative)", c.GPU.Device)
	}
	if _, err := ParseMemoryLimit(c.GPU.MemoryLimit); err != nil {
		return fmt.Errorf("invalid GPU memory limit: %w", err)
	}

	return nil
}

// LearnedModelPath returns the configured model, or the bundled LaMa model
// under ModelsDir when none is set.
func (c *Config) LearnedModelPath() string {
	if c.Learned.ModelPath != "" {
		return c.Learned.ModelPath
	}
	return models.GetLamaModelPath(c.ModelsDir)
}

// ToDispatcherConfig converts the config to the dispatcher configuration.
func (c *Config) ToDispatcherConfig() (remover.Config, error) {
	alg, err := inpaint.ParseAlgorithm(c.Classical.Algorithm)
	if err != nil {
		return remover.Config{}, err
	}
	rng, err := lama.ParseOutputRange(c.Learned.OutputRange)
	if err != nil {
		return remover.Config{}, err
	}
	gpu, err := c.toGPUConfig()
	if err != nil {
		return remover.Config{}, err
	}

	cfg := remover.DefaultConfig()
	cfg.Classical = inpaint.Options{
		Algorithm:           alg,
		Radius:              c.Classical.Radius,
		DiffusionIterations: c.Classical.DiffusionIterations,
		DiffusionTolerance:  c.Classical.DiffusionTolerance,
	}
	cfg.Learned = lama.Config{
		ModelPath:   c.LearnedModelPath(),
		NumThreads:  c.Learned.NumThreads,
		LibraryPath: c.Learned.LibraryPath,
		GPU:         gpu,
		OutputRange: rng,
	}
	cfg.JPEGQuality = c.Output.JPEGQuality
	return cfg, nil
}

// toGPUConfig converts to onnx.GPUConfig.
func (c *Config) toGPUConfig() (onnx.GPUConfig, error) {
	limit, err := ParseMemoryLimit(c.GPU.MemoryLimit)
	if err != nil {
		return onnx.GPUConfig{}, err
	}
	cfg := onnx.DefaultGPUConfig()
	cfg.UseGPU = c.GPU.Enabled
	cfg.DeviceID = c.GPU.Device
	cfg.GPUMemLimit = limit
	return cfg, nil
}

// RequestOptions fills the region and algorithm options of a classical
// request from the configuration where opts leaves them unset. Learned
// requests are returned unchanged; their corner is fixed by the strategy.
func (c *Config) RequestOptions(strategy string, opts map[string]string) map[string]string {
	out := make(map[string]string, len(opts)+3)
	for k, v := range opts {
		out[k] = v
	}
	if name := strings.ToLower(strings.TrimSpace(strategy)); name != "" && name != remover.StrategyClassical {
		return out
	}
	setDefault := func(key, value string) {
		if strings.TrimSpace(out[key]) == "" {
			out[key] = value
		}
	}
	setDefault(remover.OptWidthPct, strconv.FormatFloat(c.Region.WidthPct, 'f', -1, 64))
	setDefault(remover.OptHeightPct, strconv.FormatFloat(c.Region.HeightPct, 'f', -1, 64))
	setDefault(remover.OptAlgorithm, c.Classical.Algorithm)
	return out
}

// ParseMemoryLimit converts a limit such as "512MB" or "2GB" to bytes.
// Empty and "auto" mean no limit and return 0.
func ParseMemoryLimit(limit string) (uint64, error) {
	s := strings.ToUpper(strings.TrimSpace(limit))
	if s == "" || s == strings.ToUpper(autoValue) {
		return 0, nil
	}

	// Longest suffix first so "MB" is not read as "B".
	units := []struct {
		suffix string
		scale  float64
	}{
		{"GB", 1 << 30},
		{"MB", 1 << 20},
		{"KB", 1 << 10},
		{"B", 1},
	}
	for _, u := range units {
		if !strings.HasSuffix(s, u.suffix) {
			continue
		}
		n, err := strconv.ParseFloat(strings.TrimSpace(strings.TrimSuffix(s, u.suffix)), 64)
		if err != nil || n < 0 {
			return 0, fmt.Errorf("invalid number in memory limit: %s", limit)
		}
		return uint64(n * u.scale), nil
	}
	return 0, fmt.Errorf("memory limit must end with one of: B, KB, MB, GB")
}
