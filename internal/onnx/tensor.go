package onnx

import (
	"errors"
	"fmt"
	"math"
)

// Tensor is a float32 buffer with its shape. Images use NCHW layout.
type Tensor struct {
	Data  []float32
	Shape []int64
}

// NewImageTensor wraps data as a [1, C, H, W] tensor.
func NewImageTensor(data []float32, c, h, w int) (Tensor, error) {
	if data == nil {
		return Tensor{}, errors.New("nil data")
	}
	if want := c * h * w; len(data) != want {
		return Tensor{}, fmt.Errorf("unexpected data length: got %d, want %d", len(data), want)
	}
	return Tensor{Data: data, Shape: []int64{1, int64(c), int64(h), int64(w)}}, nil
}

// NewMaskTensor wraps a single-channel mask as a [1, 1, H, W] tensor.
func NewMaskTensor(data []float32, h, w int) (Tensor, error) {
	return NewImageTensor(data, 1, h, w)
}

// ValidateNCHW ensures a shape is [N, C, H, W] with positive dimensions.
func ValidateNCHW(shape []int64) error {
	if len(shape) != 4 {
		return fmt.Errorf("shape rank %d != 4", len(shape))
	}
	for i, v := range shape {
		if v <= 0 {
			return fmt.Errorf("dimension %d must be > 0, got %d", i, v)
		}
	}
	return nil
}

// Verify checks that the data length matches the NCHW shape.
func (t Tensor) Verify() error {
	if err := ValidateNCHW(t.Shape); err != nil {
		return err
	}
	want := int(t.Shape[0] * t.Shape[1] * t.Shape[2] * t.Shape[3])
	if len(t.Data) != want {
		return fmt.Errorf("tensor data length %d != expected %d for shape %v", len(t.Data), want, t.Shape)
	}
	return nil
}

// Dims returns C, H, W of a verified single-batch tensor.
func (t Tensor) Dims() (c, h, w int) {
	return int(t.Shape[1]), int(t.Shape[2]), int(t.Shape[3])
}

// MaxAbsWindow returns the largest absolute value inside the top-left
// winH x winW window of every channel. The window is clipped to the tensor.
func (t Tensor) MaxAbsWindow(winH, winW int) float32 {
	c, h, w := t.Dims()
	winH, winW = min(winH, h), min(winW, w)
	var m float32
	for ch := range c {
		plane := t.Data[ch*h*w : (ch+1)*h*w]
		for y := range winH {
			for _, v := range plane[y*w : y*w+winW] {
				if a := float32(math.Abs(float64(v))); a > m {
					m = a
				}
			}
		}
	}
	return m
}

// TensorStats returns min, max and mean of data.
func TensorStats(data []float32) (float32, float32, float32) {
	if len(data) == 0 {
		return 0, 0, 0
	}
	minVal, maxVal := data[0], data[0]
	var sum float64
	for _, v := range data {
		minVal = min(minVal, v)
		maxVal = max(maxVal, v)
		sum += float64(v)
	}
	return minVal, maxVal, float32(sum / float64(len(data)))
}
