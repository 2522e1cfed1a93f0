package lama

import (
	"errors"
	"fmt"
	"image"
	"log/slog"
	"math"
	"time"

	"github.com/MeKo-Tech/wmclean/internal/apperr"
	"github.com/MeKo-Tech/wmclean/internal/mempool"
	"github.com/MeKo-Tech/wmclean/internal/onnx"
	"github.com/MeKo-Tech/wmclean/internal/region"
	"github.com/disintegration/imaging"
)

const op = "learned inpaint"

// Inpaint reconstructs the masked pixels of img with one forward pass of r,
// detecting the output value range automatically.
func Inpaint(img image.Image, mask *region.Mask, r Runner) (*image.NRGBA, error) {
	return InpaintWithRange(img, mask, r, RangeAuto)
}

// InpaintWithRange is Inpaint with an explicit output range. Pixels outside the
// mask and the alpha channel are returned unchanged.
func InpaintWithRange(img image.Image, mask *region.Mask, r Runner, rng OutputRange) (*image.NRGBA, error) {
	if img == nil {
		return nil, apperr.New(apperr.KindInvalidRegion, op, errors.New("nil image"))
	}
	if r == nil {
		return nil, apperr.New(apperr.KindModelLoad, op, errors.New("no model session"))
	}
	b := img.Bounds()
	if err := checkMask(b, mask); err != nil {
		return nil, apperr.New(apperr.KindInvalidRegion, op, err)
	}
	if rng == "" {
		rng = RangeAuto
	}

	size := r.InputSize()
	start := time.Now()
	imgT, maskT := preprocess(img, mask, size)
	defer mempool.PutFloat32(imgT.Data)
	defer mempool.PutFloat32(maskT.Data)
	prepared := time.Now()

	out, err := r.Run(imgT, maskT)
	if err != nil {
		if apperr.KindOf(err) == apperr.KindUnknown {
			err = apperr.New(apperr.KindInference, op, err)
		}
		return nil, err
	}
	defer mempool.PutFloat32(out.Data)
	inferred := time.Now()

	recon, err := postprocess(out, rng)
	if err != nil {
		return nil, apperr.New(apperr.KindInference, op, err)
	}
	back := imaging.Resize(recon, b.Dx(), b.Dy(), imaging.Linear)

	result, err := mask.Composite(img, back)
	if err != nil {
		return nil, apperr.New(apperr.KindInference, op, err)
	}

	slog.Debug("Learned inpaint finished",
		"size", fmt.Sprintf("%dx%d", b.Dx(), b.Dy()),
		"input_size", size,
		"masked_pixels", mask.Count(),
		"preprocess", prepared.Sub(start),
		"inference", inferred.Sub(prepared),
		"postprocess", time.Since(inferred))
	return result, nil
}

func checkMask(b image.Rectangle, mask *region.Mask) error {
	switch {
	case mask == nil:
		return errors.New("nil mask")
	case mask.Width != b.Dx() || mask.Height != b.Dy():
		return fmt.Errorf("mask %dx%d does not match image %dx%d", mask.Width, mask.Height, b.Dx(), b.Dy())
	case mask.IsEmpty():
		return errors.New("mask selects no pixels")
	}
	return nil
}

// preprocess resizes the image and mask to size x size and packs them as NCHW
// tensors: RGB in [0,1] and the mask in {0,1}. Buffers come from mempool.
func preprocess(img image.Image, mask *region.Mask, size int) (onnx.Tensor, onnx.Tensor) {
	resized := imaging.Resize(img, size, size, imaging.Linear)
	plane := size * size

	imgData := mempool.GetFloat32(3 * plane)
	for y := range size {
		row := resized.Pix[y*resized.Stride:]
		for x := range size {
			i := y*size + x
			imgData[i] = float32(row[x*4]) / 255
			imgData[plane+i] = float32(row[x*4+1]) / 255
			imgData[2*plane+i] = float32(row[x*4+2]) / 255
		}
	}

	small := mask.Resize(size, size)
	maskData := mempool.GetFloat32(plane)
	for i, v := range small.Pix {
		if v != 0 {
			maskData[i] = 1
		}
	}

	return onnx.Tensor{Data: imgData, Shape: []int64{1, 3, int64(size), int64(size)}},
		onnx.Tensor{Data: maskData, Shape: []int64{1, 1, int64(size), int64(size)}}
}

// outputScale returns the factor that maps raw output to [0,255].
func outputScale(out onnx.Tensor, rng OutputRange) float32 {
	switch rng {
	case RangeUnit:
		return 255
	case RangeByte:
		return 1
	}
	if out.MaxAbsWindow(rangeSampleSize, rangeSampleSize) <= unitRangeLimit {
		return 255
	}
	return 1
}

// postprocess converts a [1,3,H,W] output to an opaque RGB image.
func postprocess(out onnx.Tensor, rng OutputRange) (*image.NRGBA, error) {
	if err := out.Verify(); err != nil {
		return nil, fmt.Errorf("model output: %w", err)
	}
	c, h, w := out.Dims()
	if out.Shape[0] != 1 || c != 3 {
		return nil, fmt.Errorf("model output shape %v, want [1 3 H W]", out.Shape)
	}
	for _, v := range out.Data {
		if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
			return nil, errors.New("model output contains non-finite values")
		}
	}

	scale := outputScale(out, rng)
	plane := h * w
	recon := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := range h {
		row := recon.Pix[y*recon.Stride:]
		for x := range w {
			i := y*w + x
			row[x*4] = toByte(out.Data[i] * scale)
			row[x*4+1] = toByte(out.Data[plane+i] * scale)
			row[x*4+2] = toByte(out.Data[2*plane+i] * scale)
			row[x*4+3] = 255
		}
	}
	return recon, nil
}

func toByte(v float32) uint8 {
	switch {
	case v <= 0:
		return 0
	case v >= 255:
		return 255
	}
	return uint8(math.Round(float64(v)))
}
