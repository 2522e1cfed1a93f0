package batch

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/MeKo-Tech/wmclean/internal/apperr"
	"github.com/MeKo-Tech/wmclean/internal/utils"
)

// DiscoverImageFiles expands files and directories into the list of
// supported images matching the patterns. Files inside skipDir are ignored so
// a rerun does not pick up its own outputs; pass "" to disable. Paths given
// twice are returned once.
func DiscoverImageFiles(args []string, recursive bool, includePatterns, excludePatterns []string, skipDir string) ([]string, error) {
	const op = "discover images"

	if skipDir != "" {
		if abs, err := filepath.Abs(skipDir); err == nil {
			skipDir = abs
		}
	}

	var imageFiles []string
	seen := make(map[string]bool)
	add := func(path string) {
		key := filepath.Clean(path)
		if seen[key] {
			return
		}
		seen[key] = true
		imageFiles = append(imageFiles, path)
	}

	for _, arg := range args {
		info, err := os.Stat(arg)
		if err != nil {
			return nil, apperr.WithPath(apperr.KindInvalidInputPath, op, arg, fmt.Errorf("cannot access: %w", err))
		}

		if info.IsDir() {
			files, err := discoverInDirectory(arg, recursive, includePatterns, excludePatterns, skipDir)
			if err != nil {
				return nil, apperr.WithPath(apperr.KindInvalidInputPath, op, arg, err)
			}
			for _, f := range files {
				add(f)
			}
		} else if shouldIncludeFile(arg, includePatterns, excludePatterns) {
			add(arg)
		}
	}

	return imageFiles, nil
}

// discoverInDirectory walks dir in lexical order.
func discoverInDirectory(dir string, recursive bool, includePatterns, excludePatterns []string, skipDir string) ([]string, error) {
	var files []string

	walkFn := func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if d.IsDir() {
			if path == dir {
				return nil
			}
			if !recursive || isWithin(path, skipDir) {
				return filepath.SkipDir
			}
			return nil
		}

		if isWithin(filepath.Dir(path), skipDir) {
			return nil
		}
		if shouldIncludeFile(path, includePatterns, excludePatterns) {
			files = append(files, path)
		}
		return nil
	}

	return files, filepath.WalkDir(dir, walkFn)
}

// shouldIncludeFile determines if a file should be included based on its
// extension and the include/exclude patterns.
func shouldIncludeFile(path string, includePatterns, excludePatterns []string) bool {
	if !utils.IsSupportedImage(path) {
		return false
	}

	// Check exclude patterns first
	if matchesAnyPattern(path, excludePatterns) {
		return false
	}

	if len(includePatterns) == 0 {
		return true
	}
	return matchesAnyPattern(path, includePatterns)
}

// matchesAnyPattern matches the base name against shell patterns.
func matchesAnyPattern(path string, patterns []string) bool {
	base := filepath.Base(path)
	for _, pattern := range patterns {
		if matched, _ := filepath.Match(pattern, base); matched {
			return true
		}
	}
	return false
}

// isWithin reports whether path is dir or below it. An empty dir matches nothing.
func isWithin(path, dir string) bool {
	if dir == "" {
		return false
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return false
	}
	rel, err := filepath.Rel(dir, abs)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}

// OutputPath returns where the cleaned copy of in is written: outputDir (or
// the input's directory) joined with the stem, suffix and extension. Inputs
// whose format cannot be written get a .png output.
func OutputPath(in, outputDir, suffix string) string {
	dir := outputDir
	if dir == "" {
		dir = filepath.Dir(in)
	}
	base := filepath.Base(in)
	ext := filepath.Ext(base)
	stem := strings.TrimSuffix(base, ext)
	if !utils.IsSupportedOutput(base) {
		ext = ".png"
	}
	return filepath.Join(dir, stem+suffix+ext)
}
