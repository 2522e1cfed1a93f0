package utils

import (
	"bytes"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"testing"

	"github.com/MeKo-Tech/wmclean/internal/apperr"
	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sample() *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, 12, 8))
	for y := range 8 {
		for x := range 12 {
			img.SetNRGBA(x, y, color.NRGBA{R: uint8(20 * x), G: uint8(30 * y), B: 100, A: 255})
		}
	}
	return img
}

func TestIsSupportedImage(t *testing.T) {
	tests := []struct {
		path   string
		input  bool
		output bool
	}{
		{"a.png", true, true},
		{"a.JPG", true, true},
		{"a.jpeg", true, true},
		{"a.tiff", true, true},
		{"a.bmp", true, true},
		{"a.gif", true, true},
		{"a.webp", true, false},
		{"a.txt", false, false},
		{"noext", false, false},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			assert.Equal(t, tt.input, IsSupportedImage(tt.path))
			assert.Equal(t, tt.output, IsSupportedOutput(tt.path))
		})
	}
}

func TestSaveAndLoadImage(t *testing.T) {
	dir := t.TempDir()
	for _, ext := range []string{".png", ".bmp", ".tif"} {
		t.Run(ext, func(t *testing.T) {
			path := filepath.Join(dir, "out"+ext)
			require.NoError(t, SaveImage(sample(), path, 0))

			img, meta, err := LoadImage(path)
			require.NoError(t, err)
			assert.Equal(t, 12, meta.Width)
			assert.Equal(t, 8, meta.Height)
			assert.Positive(t, meta.SizeBytes)
			assert.Equal(t, sample().Pix, imaging.Clone(img).Pix, "lossless formats round trip")
		})
	}

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 3, "no temp files left behind")
}

func TestSaveImage_JPEGQuality(t *testing.T) {
	dir := t.TempDir()
	lo := filepath.Join(dir, "lo.jpg")
	hi := filepath.Join(dir, "hi.jpg")
	big := imaging.Resize(sample(), 200, 160, imaging.Linear)

	require.NoError(t, SaveImage(big, lo, 10))
	require.NoError(t, SaveImage(big, hi, 95))

	loInfo, err := os.Stat(lo)
	require.NoError(t, err)
	hiInfo, err := os.Stat(hi)
	require.NoError(t, err)
	assert.Less(t, loInfo.Size(), hiInfo.Size())
}

func TestSaveImage_Errors(t *testing.T) {
	err := SaveImage(sample(), filepath.Join(t.TempDir(), "out.xyz"), 0)
	assert.ErrorIs(t, err, apperr.ErrUnsupportedFormat)

	err = SaveImage(sample(), filepath.Join(t.TempDir(), "missing", "dir", "out.png"), 0)
	assert.ErrorIs(t, err, apperr.ErrIOWrite)
}

func TestLoadImage_Errors(t *testing.T) {
	dir := t.TempDir()

	_, _, err := LoadImage("")
	assert.ErrorIs(t, err, apperr.ErrInvalidInputPath)

	_, _, err = LoadImage(filepath.Join(dir, "missing.png"))
	assert.ErrorIs(t, err, apperr.ErrInvalidInputPath)

	_, _, err = LoadImage(dir)
	assert.ErrorIs(t, err, apperr.ErrInvalidInputPath)

	txt := filepath.Join(dir, "notes.txt")
	require.NoError(t, os.WriteFile(txt, []byte("hello"), 0o600))
	_, _, err = LoadImage(txt)
	assert.ErrorIs(t, err, apperr.ErrUnsupportedFormat)

	garbage := filepath.Join(dir, "broken.png")
	require.NoError(t, os.WriteFile(garbage, []byte("not a png"), 0o600))
	_, _, err = LoadImage(garbage)
	assert.ErrorIs(t, err, apperr.ErrUnsupportedFormat)
}

func TestEncodeDecodeBytes(t *testing.T) {
	format, err := ParseFormat("png")
	require.NoError(t, err)
	assert.Equal(t, imaging.PNG, format)

	var buf bytes.Buffer
	require.NoError(t, EncodeImage(&buf, sample(), format, 0))

	img, name, err := DecodeImage(&buf)
	require.NoError(t, err)
	assert.Equal(t, "png", name)
	assert.Equal(t, 12, img.Bounds().Dx())

	_, _, err = DecodeImage(bytes.NewReader([]byte{1, 2, 3}))
	assert.ErrorIs(t, err, apperr.ErrUnsupportedFormat)

	_, err = ParseFormat("webp")
	assert.ErrorIs(t, err, apperr.ErrUnsupportedFormat)

	format, err = ParseFormat(".JPG")
	require.NoError(t, err)
	assert.Equal(t, imaging.JPEG, format)
}
