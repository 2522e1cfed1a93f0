// Package lama runs the LaMa (large mask inpainting) ONNX model over a masked image.
package lama

import (
	"fmt"
	"strings"

	"github.com/MeKo-Tech/wmclean/internal/models"
	"github.com/MeKo-Tech/wmclean/internal/onnx"
)

const (
	// DefaultInputSize is used when the model declares dynamic spatial dims.
	DefaultInputSize = 512
	// rangeSampleSize is the side of the top-left window inspected by RangeAuto.
	rangeSampleSize = 100
	// unitRangeLimit is the largest sampled magnitude still treated as [0,1] output.
	unitRangeLimit = 2.0
)

// OutputRange describes how raw model output maps to 8-bit pixel values.
type OutputRange string

const (
	// RangeAuto inspects the output and scales by 255 when it looks like [0,1].
	RangeAuto OutputRange = "auto"
	// RangeUnit treats output as [0,1].
	RangeUnit OutputRange = "unit"
	// RangeByte treats output as [0,255].
	RangeByte OutputRange = "byte"
)

// ParseOutputRange validates s. Empty means RangeAuto.
func ParseOutputRange(s string) (OutputRange, error) {
	switch r := OutputRange(strings.ToLower(strings.TrimSpace(s))); r {
	case "":
		return RangeAuto, nil
	case RangeAuto, RangeUnit, RangeByte:
		return r, nil
	default:
		return "", fmt.Errorf("invalid output range %q (want auto, unit or byte)", s)
	}
}

// Config holds the settings for a LaMa session.
type Config struct {
	ModelPath   string
	NumThreads  int
	LibraryPath string // ONNX Runtime shared library, empty for discovery
	GPU         onnx.GPUConfig
	OutputRange OutputRange
}

// DefaultConfig returns a CPU configuration for the bundled fp32 model.
func DefaultConfig() Config {
	return Config{
		ModelPath:   models.DefaultLamaPath(),
		GPU:         onnx.DefaultGPUConfig(),
		OutputRange: RangeAuto,
	}
}
