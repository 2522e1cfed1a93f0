// Package models resolves inpainting model files on disk.
package models

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// Model file names.
const (
	LamaFP32 = "lama_fp32.onnx"
)

// Model type categories for the organized directory layout.
const (
	TypeInpainting = "inpainting"
)

// Default models directory.
const DefaultModelsDir = "assets"

// Environment variable for models directory override.
const EnvModelsDir = "WMCLEAN_MODELS_DIR"

// findProjectRoot finds the project root by looking for go.mod.
func findProjectRoot() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}
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
	return "", errors.New("could not find project root (go.mod not found)")
}

// ModelInfo contains metadata about a model.
type ModelInfo struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Description string `json:"description"`
	Filename    string `json:"filename"`
	InputSize   int    `json:"input_size"`
}

// ModelStatus is a ModelInfo resolved against a models directory.
type ModelStatus struct {
	ModelInfo
	Path    string `json:"path"`
	Present bool   `json:"present"`
	Size    int64  `json:"size_bytes,omitempty"`
}

// GetModelsDir returns the models directory.
// Priority: 1. explicit modelsDir, 2. environment variable, 3. project root + default.
func GetModelsDir(modelsDir string) string {
	if modelsDir != "" {
		return modelsDir
	}
	if envDir := os.Getenv(EnvModelsDir); envDir != "" {
		return envDir
	}
	if projectRoot, err := findProjectRoot(); err == nil {
		return filepath.Join(projectRoot, DefaultModelsDir)
	}
	return DefaultModelsDir
}

// ResolveModelPath resolves a model filename to its full path. The organized
// layout <dir>/<type>/<file> wins when it exists, otherwise <dir>/<file>.
func ResolveModelPath(modelsDir, modelType, filename string) string {
	baseDir := GetModelsDir(modelsDir)
	if modelType != "" {
		organized := filepath.Join(baseDir, modelType, filename)
		if _, err := os.Stat(organized); err == nil {
			return organized
		}
	}
	return filepath.Join(baseDir, filename)
}

// GetLamaModelPath returns the LaMa model path under modelsDir.
func GetLamaModelPath(modelsDir string) string {
	return ResolveModelPath(modelsDir, TypeInpainting, LamaFP32)
}

// DefaultLamaPath returns the LaMa model path under the default models directory.
func DefaultLamaPath() string {
	return GetLamaModelPath("")
}

// ValidateModelExists checks that a regular model file exists at modelPath.
func ValidateModelExists(modelPath string) error {
	info, err := os.Stat(modelPath)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("model file not found: %s: %w", modelPath, os.ErrNotExist)
		}
		return fmt.Errorf("stat model file %s: %w", modelPath, err)
	}
	if info.IsDir() {
		return fmt.Errorf("model path is a directory: %s", modelPath)
	}
	return nil
}

// ListAvailableModels returns the known models.
func ListAvailableModels() []ModelInfo {
	return []ModelInfo{
		{
			Name:        "lama-fp32",
			Type:        TypeInpainting,
			Description: "LaMa large mask inpainting, fp32, 512x512 input",
			Filename:    LamaFP32,
			InputSize:   512,
		},
	}
}

// ModelStatuses resolves every known model under modelsDir and reports
// whether its file is present.
func ModelStatuses(modelsDir string) []ModelStatus {
	known := ListAvailableModels()
	out := make([]ModelStatus, 0, len(known))
	for _, m := range known {
		st := ModelStatus{ModelInfo: m, Path: ResolveModelPath(modelsDir, m.Type, m.Filename)}
		if info, err := os.Stat(st.Path); err == nil && !info.IsDir() {
			st.Present = true
			st.Size = info.Size()
		}
		out = append(out, st)
	}
	return out
}
