package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/MeKo-Tech/wmclean/internal/region"
	"github.com/MeKo-Tech/wmclean/internal/testutil"
	"github.com/MeKo-Tech/wmclean/internal/utils"
)

// sample is one generated image.
type sample struct {
	Name      string
	Width     int
	Height    int
	Ext       string
	WidthPct  float64
	HeightPct float64
}

var samples = []sample{
	{"small", 100, 100, ".png", 30, 15},
	{"landscape", 640, 360, ".png", 30, 15},
	{"portrait", 360, 640, ".jpg", 30, 15},
	{"learned_corner", 512, 512, ".png", 15, 15},
	{"tiny_corner", 200, 120, ".bmp", 10, 10},
}

// Fixture records where the watermark of a generated image sits.
type Fixture struct {
	Name      string        `json:"name"`
	InputFile string        `json:"input_file"`
	Width     int           `json:"width"`
	Height    int           `json:"height"`
	WidthPct  float64       `json:"width_pct"`
	HeightPct float64       `json:"height_pct"`
	Region    region.Region `json:"region"`
}

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	var (
		outDir           = flag.String("out", "testdata", "Output directory, relative to the project root")
		generateFixtures = flag.Bool("fixtures", true, "Write a JSON fixture per image")
		help             = flag.Bool("h", false, "Show help")
	)

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [OPTIONS]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Generate watermarked sample images for wmclean testing.\n\n")
		fmt.Fprintf(os.Stderr, "OPTIONS:\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	if *help {
		flag.Usage()
		return
	}

	root, err := testutil.GetProjectRoot()
	if err != nil {
		slog.Error("Failed to find project root", "error", err)
		os.Exit(1)
	}
	dir := *outDir
	if !filepath.IsAbs(dir) {
		dir = filepath.Join(root, dir)
	}

	fixtures, err := generate(dir, *generateFixtures)
	if err != nil {
		slog.Error("Failed to generate test data", "error", err)
		os.Exit(1)
	}
	slog.Info("Test data generated", "dir", dir, "images", len(fixtures))
}

// generate writes every sample under dir/images and, if requested, its
// fixture under dir/fixtures.
func generate(dir string, withFixtures bool) ([]Fixture, error) {
	imagesDir := filepath.Join(dir, "images")
	if err := testutil.EnsureDir(imagesDir); err != nil {
		return nil, fmt.Errorf("failed to create images directory: %w", err)
	}
	fixturesDir := filepath.Join(dir, "fixtures")
	if withFixtures {
		if err := testutil.EnsureDir(fixturesDir); err != nil {
			return nil, fmt.Errorf("failed to create fixtures directory: %w", err)
		}
	}

	fixtures := make([]Fixture, 0, len(samples))
	for _, s := range samples {
		img := testutil.Watermarked(testutil.Textured(s.Width, s.Height, 8), s.WidthPct, s.HeightPct, "SAMPLE")
		file := s.Name + s.Ext
		if err := utils.SaveImage(img, filepath.Join(imagesDir, file), utils.DefaultJPEGQuality); err != nil {
			return nil, fmt.Errorf("failed to save image %s: %w", file, err)
		}

		f := Fixture{
			Name:      s.Name,
			InputFile: filepath.Join("images", file),
			Width:     s.Width,
			Height:    s.Height,
			WidthPct:  s.WidthPct,
			HeightPct: s.HeightPct,
			Region:    region.Compute(s.Width, s.Height, s.WidthPct, s.HeightPct),
		}
		fixtures = append(fixtures, f)
		slog.Debug("Generated sample", "file", file, "region", f.Region.String())

		if withFixtures {
			if err := saveFixture(f, fixturesDir); err != nil {
				return nil, fmt.Errorf("failed to save fixture '%s': %w", f.Name, err)
			}
		}
	}
	return fixtures, nil
}

func saveFixture(fixture Fixture, dir string) error {
	data, err := json.MarshalIndent(fixture, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, fixture.Name+".json"), data, 0o600)
}
