// Package utils loads and saves raster images by file extension.
package utils

import (
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/MeKo-Tech/wmclean/internal/apperr"
	"github.com/disintegration/imaging"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// DefaultJPEGQuality is used for JPEG output unless configured otherwise.
const DefaultJPEGQuality = 95

// SupportedImageExtensions lists extensions accepted for input.
var SupportedImageExtensions = []string{".jpg", ".jpeg", ".png", ".bmp", ".tif", ".tiff", ".gif", ".webp"}

// SupportedOutputExtensions lists extensions that can be written.
var SupportedOutputExtensions = []string{".jpg", ".jpeg", ".png", ".bmp", ".tif", ".tiff", ".gif"}

// IsSupportedImage reports whether the path has a supported input extension.
func IsSupportedImage(path string) bool {
	return slices.Contains(SupportedImageExtensions, strings.ToLower(filepath.Ext(path)))
}

// IsSupportedOutput reports whether the path has a writable extension.
func IsSupportedOutput(path string) bool {
	return slices.Contains(SupportedOutputExtensions, strings.ToLower(filepath.Ext(path)))
}

// ImageMetadata captures lightweight file and pixel information.
type ImageMetadata struct {
	Path      string
	Format    string
	SizeBytes int64
	Width     int
	Height    int
}

// LoadImage opens and decodes an image file. A missing or unreadable path is
// an InvalidInputPath error; an unknown extension or undecodable content is
// UnsupportedFormat.
func LoadImage(path string) (image.Image, ImageMetadata, error) {
	const op = "load image"

	if path == "" {
		return nil, ImageMetadata{}, apperr.New(apperr.KindInvalidInputPath, op, errors.New("empty path"))
	}
	fi, err := os.Stat(path)
	if err != nil {
		return nil, ImageMetadata{}, apperr.WithPath(apperr.KindInvalidInputPath, op, path, err)
	}
	if fi.IsDir() {
		return nil, ImageMetadata{}, apperr.WithPath(apperr.KindInvalidInputPath, op, path, errors.New("is a directory"))
	}
	if !IsSupportedImage(path) {
		return nil, ImageMetadata{}, apperr.WithPath(apperr.KindUnsupportedFormat, op, path,
			fmt.Errorf("unsupported extension %q", filepath.Ext(path)))
	}

	f, err := os.Open(path) //nolint:gosec // G304: Reading user-provided image file path is expected
	if err != nil {
		return nil, ImageMetadata{}, apperr.WithPath(apperr.KindInvalidInputPath, op, path, err)
	}
	defer func() {
		if err := f.Close(); err != nil {
			slog.Warn("Error closing image file", "path", path, "error", err)
		}
	}()

	img, format, err := DecodeImage(f)
	if err != nil {
		return nil, ImageMetadata{}, apperr.WithPath(apperr.KindUnsupportedFormat, op, path, errors.Unwrap(err))
	}

	b := img.Bounds()
	return img, ImageMetadata{
		Path:      path,
		Format:    format,
		SizeBytes: fi.Size(),
		Width:     b.Dx(),
		Height:    b.Dy(),
	}, nil
}

// DecodeImage decodes any registered format from r.
func DecodeImage(r io.Reader) (image.Image, string, error) {
	img, format, err := image.Decode(r)
	if err != nil {
		return nil, "", apperr.New(apperr.KindUnsupportedFormat, "decode image", err)
	}
	if b := img.Bounds(); b.Empty() {
		return nil, "", apperr.New(apperr.KindUnsupportedFormat, "decode image", errors.New("image has no pixels"))
	}
	return img, format, nil
}

// FormatFromPath maps an output path's extension to an encoder.
func FormatFromPath(path string) (imaging.Format, error) {
	if !IsSupportedOutput(path) {
		return 0, apperr.WithPath(apperr.KindUnsupportedFormat, "output format", path,
			fmt.Errorf("cannot write %q files", filepath.Ext(path)))
	}
	f, err := imaging.FormatFromFilename(path)
	if err != nil {
		return 0, apperr.WithPath(apperr.KindUnsupportedFormat, "output format", path, err)
	}
	return f, nil
}

// ParseFormat maps a format name such as "png" or "jpg" to an encoder.
func ParseFormat(name string) (imaging.Format, error) {
	return FormatFromPath("x." + strings.TrimPrefix(strings.ToLower(name), "."))
}

// EncodeImage writes img to w in the given format.
func EncodeImage(w io.Writer, img image.Image, format imaging.Format, jpegQuality int) error {
	if jpegQuality <= 0 || jpegQuality > 100 {
		jpegQuality = DefaultJPEGQuality
	}
	if err := imaging.Encode(w, img, format, imaging.JPEGQuality(jpegQuality)); err != nil {
		return apperr.New(apperr.KindIOWrite, "encode image", err)
	}
	return nil
}

// SaveImage encodes img by the extension of path and writes it atomically:
// the bytes go to a temporary file in the same directory that is renamed over
// path only after a successful encode.
func SaveImage(img image.Image, path string, jpegQuality int) error {
	const op = "save image"

	format, err := FormatFromPath(path)
	if err != nil {
		return err
	}
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".wmclean-*"+filepath.Ext(path))
	if err != nil {
		return apperr.WithPath(apperr.KindIOWrite, op, path, err)
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()

	if err := EncodeImage(tmp, img, format, jpegQuality); err != nil {
		return apperr.WithPath(apperr.KindIOWrite, op, path, errors.Unwrap(err))
	}
	if err := tmp.Sync(); err != nil {
		return apperr.WithPath(apperr.KindIOWrite, op, path, err)
	}
	if err := tmp.Close(); err != nil {
		return apperr.WithPath(apperr.KindIOWrite, op, path, err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil { //nolint:gosec // G302: output images are meant to be world-readable
		return apperr.WithPath(apperr.KindIOWrite, op, path, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return apperr.WithPath(apperr.KindIOWrite, op, path, err)
	}
	committed = true
	return nil
}
