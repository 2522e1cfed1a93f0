package onnx

import (
	"fmt"
	"log/slog"
	"strconv"

	onnxrt "github.com/yalue/onnxruntime_go"
)

// GPUConfig selects CUDA execution for an inpainting session.
type GPUConfig struct {
	UseGPU                bool   // Enable the CUDA execution provider
	DeviceID              int    // CUDA device ID
	GPUMemLimit           uint64 // bytes, 0 = unlimited
	ArenaExtendStrategy   string // "kNextPowerOfTwo" or "kSameAsRequested"
	CUDNNConvAlgoSearch   string // "EXHAUSTIVE", "HEURISTIC", or "DEFAULT"
	DoCopyInDefaultStream bool
}

// DefaultGPUConfig returns a CPU-only configuration with CUDA defaults filled in.
func DefaultGPUConfig() GPUConfig {
	return GPUConfig{
		ArenaExtendStrategy:   "kNextPowerOfTwo",
		CUDNNConvAlgoSearch:   "DEFAULT",
		DoCopyInDefaultStream: true,
	}
}

// appendCUDAProvider attaches the CUDA execution provider to opts.
func appendCUDAProvider(opts *onnxrt.SessionOptions, cfg GPUConfig) error {
	cudaOpts, err := onnxrt.NewCUDAProviderOptions()
	if err != nil {
		return fmt.Errorf("create CUDA provider options: %w", err)
	}
	defer func() {
		if destroyErr := cudaOpts.Destroy(); destroyErr != nil {
			slog.Warn("failed to destroy CUDA provider options", "error", destroyErr)
		}
	}()

	if err := cudaOpts.Update(cudaSettings(cfg)); err != nil {
		return fmt.Errorf("update CUDA provider options: %w", err)
	}
	if err := opts.AppendExecutionProviderCUDA(cudaOpts); err != nil {
		return fmt.Errorf("append CUDA execution provider: %w", err)
	}
	return nil
}

// cudaSettings renders cfg as CUDA provider key/value options.
func cudaSettings(cfg GPUConfig) map[string]string {
	settings := map[string]string{
		"device_id":                 strconv.Itoa(cfg.DeviceID),
		"do_copy_in_default_stream": "0",
	}
	if cfg.DoCopyInDefaultStream {
		settings["do_copy_in_default_stream"] = "1"
	}
	if cfg.GPUMemLimit > 0 {
		settings["gpu_mem_limit"] = strconv.FormatUint(cfg.GPUMemLimit, 10)
	}
	if cfg.ArenaExtendStrategy != "" {
		settings["arena_extend_strategy"] = cfg.ArenaExtendStrategy
	}
	if cfg.CUDNNConvAlgoSearch != "" {
		settings["cudnn_conv_algo_search"] = cfg.CUDNNConvAlgoSearch
	}
	return settings
}

// NewSessionOptions builds session options with the given intra-op thread
// count (0 keeps the runtime default). When CUDA is requested but cannot be
// attached the options fall back to CPU execution and a warning is logged.
// The caller owns the returned options and must Destroy them.
func NewSessionOptions(numThreads int, gpu GPUConfig) (*onnxrt.SessionOptions, error) {
	opts, err := onnxrt.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("session options: %w", err)
	}
	if numThreads > 0 {
		if err := opts.SetIntraOpNumThreads(numThreads); err != nil {
			_ = opts.Destroy()
			return nil, fmt.Errorf("set intra-op threads: %w", err)
		}
	}
	if gpu.UseGPU {
		if err := appendCUDAProvider(opts, gpu); err != nil {
			slog.Warn("CUDA unavailable, using CPU", "device", gpu.DeviceID, "error", err)
		}
	}
	return opts, nil
}

var (
	arenaStrategies = map[string]bool{"kNextPowerOfTwo": true, "kSameAsRequested": true}
	convAlgoSearch  = map[string]bool{"EXHAUSTIVE": true, "HEURISTIC": true, "DEFAULT": true}
)

// Validate checks the CUDA settings. A CPU-only config is always valid.
func (c GPUConfig) Validate() error {
	if !c.UseGPU {
		return nil
	}
	if c.DeviceID < 0 {
		return fmt.Errorf("gpu device must be non-negative, got %d", c.DeviceID)
	}
	if c.ArenaExtendStrategy != "" && !arenaStrategies[c.ArenaExtendStrategy] {
		return fmt.Errorf("invalid arena extend strategy %q", c.ArenaExtendStrategy)
	}
	if c.CUDNNConvAlgoSearch != "" && !convAlgoSearch[c.CUDNNConvAlgoSearch] {
		return fmt.Errorf("invalid cudnn conv algo search %q", c.CUDNNConvAlgoSearch)
	}
	return nil
}
