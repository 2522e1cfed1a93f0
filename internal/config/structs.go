//nolint:lll
package config

// Config is the complete wmclean configuration. It covers every command
// (remove, batch, serve) and is loaded from a config file, WMCLEAN_*
// environment variables and command-line flags, in increasing precedence.
type Config struct {
	// Global settings
	ModelsDir string `mapstructure:"models_dir" yaml:"models_dir" json:"models_dir"`
	LogLevel  string `mapstructure:"log_level" yaml:"log_level" json:"log_level"`
	Verbose   bool   `mapstructure:"verbose" yaml:"verbose" json:"verbose"`

	// Watermark corner region
	Region RegionConfig `mapstructure:"region" yaml:"region" json:"region"`

	// Classical inpainting
	Classical ClassicalConfig `mapstructure:"classical" yaml:"classical" json:"classical"`

	// Learned inpainting
	Learned LearnedConfig `mapstructure:"learned" yaml:"learned" json:"learned"`

	// Output encoding
	Output OutputConfig `mapstructure:"output" yaml:"output" json:"output"`

	// Server configuration (for serve command)
	Server ServerConfig `mapstructure:"server" yaml:"server" json:"server"`

	// Batch processing configuration
	Batch BatchConfig `mapstructure:"batch" yaml:"batch" json:"batch"`

	// GPU configuration
	GPU GPUConfig `mapstructure:"gpu" yaml:"gpu" json:"gpu"`
}

// RegionConfig sizes the bottom-right region as percentages of the image.
// Values outside [0,100] are clamped when the region is built.
type RegionConfig struct {
	WidthPct  float64 `mapstructure:"width_pct" yaml:"width_pct" json:"width_pct"`
	HeightPct float64 `mapstructure:"height_pct" yaml:"height_pct" json:"height_pct"`
}

// ClassicalConfig contains classical inpainting settings.
type ClassicalConfig struct {
	Algorithm           string  `mapstructure:"algorithm" yaml:"algorithm" json:"algorithm"`
	Radius              int     `mapstructure:"radius" yaml:"radius" json:"radius"`
	DiffusionIterations int     `mapstructure:"diffusion_iterations" yaml:"diffusion_iterations" json:"diffusion_iterations"`
	DiffusionTolerance  float64 `mapstructure:"diffusion_tolerance" yaml:"diffusion_tolerance" json:"diffusion_tolerance"`
}

// LearnedConfig contains LaMa model settings. An empty ModelPath resolves
// the bundled model under ModelsDir.
type LearnedConfig struct {
	ModelPath   string `mapstructure:"model_path" yaml:"model_path" json:"model_path"`
	NumThreads  int    `mapstructure:"num_threads" yaml:"num_threads" json:"num_threads"`
	OutputRange string `mapstructure:"output_range" yaml:"output_range" json:"output_range"`
	LibraryPath string `mapstructure:"library_path" yaml:"library_path" json:"library_path"`
}

// OutputConfig contains image encoding settings.
type OutputConfig struct {
	JPEGQuality int `mapstructure:"jpeg_quality" yaml:"jpeg_quality" json:"jpeg_quality"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Host            string          `mapstructure:"host" yaml:"host" json:"host"`
	Port            int             `mapstructure:"port" yaml:"port" json:"port"`
	CORSOrigin      string          `mapstructure:"cors_origin" yaml:"cors_origin" json:"cors_origin"`
	MaxUploadMB     int             `mapstructure:"max_upload_mb" yaml:"max_upload_mb" json:"max_upload_mb"`
	TimeoutSec      int             `mapstructure:"timeout_sec" yaml:"timeout_sec" json:"timeout_sec"`
	ShutdownTimeout int             `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout" json:"shutdown_timeout"`
	RateLimit       RateLimitConfig `mapstructure:"rate_limit" yaml:"rate_limit" json:"rate_limit"`
}

// RateLimitConfig contains per-client request limits. Zero disables a limit.
type RateLimitConfig struct {
	Enabled           bool `mapstructure:"enabled" yaml:"enabled" json:"enabled"`
	RequestsPerMinute int  `mapstructure:"requests_per_minute" yaml:"requests_per_minute" json:"requests_per_minute"`
	RequestsPerHour   int  `mapstructure:"requests_per_hour" yaml:"requests_per_hour" json:"requests_per_hour"`
	MaxRequestsPerDay int  `mapstructure:"max_requests_per_day" yaml:"max_requests_per_day" json:"max_requests_per_day"`
	MaxDataPerDayMB   int  `mapstructure:"max_data_per_day_mb" yaml:"max_data_per_day_mb" json:"max_data_per_day_mb"`
}

// BatchConfig contains batch processing settings.
type BatchConfig struct {
	Workers         int      `mapstructure:"workers" yaml:"workers" json:"workers"`
	OutputDir       string   `mapstructure:"output_dir" yaml:"output_dir" json:"output_dir"`
	Suffix          string   `mapstructure:"suffix" yaml:"suffix" json:"suffix"`
	Recursive       bool     `mapstructure:"recursive" yaml:"recursive" json:"recursive"`
	ContinueOnError bool     `mapstructure:"continue_on_error" yaml:"continue_on_error" json:"continue_on_error"`
	Include         []string `mapstructure:"include" yaml:"include" json:"include"`
	Exclude         []string `mapstructure:"exclude" yaml:"exclude" json:"exclude"`
}

// GPUConfig contains GPU acceleration settings.
type GPUConfig struct {
	Enabled     bool   `mapstructure:"enabled" yaml:"enabled" json:"enabled"`
	Device      int    `mapstructure:"device" yaml:"device" json:"device"`
	MemoryLimit string `mapstructure:"memory_limit" yaml:"memory_limit" json:"memory_limit"`
}
