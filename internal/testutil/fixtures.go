package testutil

import (
	"fmt"
	"path/filepath"
	"testing"
)

// SampleImage describes a file written by WriteSamples.
type SampleImage struct {
	Path   string
	Width  int
	Height int
}

// WriteSamples writes n small watermarked images named sample_<i><ext> into dir.
func WriteSamples(t *testing.T, dir string, n int, ext string) []SampleImage {
	t.Helper()
	out := make([]SampleImage, 0, n)
	for i := range n {
		w, h := 48+8*i, 40+4*i
		img := Watermarked(Textured(w, h, 6), 30, 15, "wm")
		path := filepath.Join(dir, fmt.Sprintf("sample_%d%s", i, ext))
		SaveImage(t, img, path)
		out = append(out, SampleImage{Path: path, Width: w, Height: h})
	}
	return out
}
