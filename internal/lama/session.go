package lama

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/MeKo-Tech/wmclean/internal/apperr"
	"github.com/MeKo-Tech/wmclean/internal/mempool"
	"github.com/MeKo-Tech/wmclean/internal/models"
	"github.com/MeKo-Tech/wmclean/internal/onnx"
	onnxrt "github.com/yalue/onnxruntime_go"
)

// Runner executes one forward pass of an inpainting model.
type Runner interface {
	// InputSize is the square spatial resolution the model expects.
	InputSize() int
	// Run takes a [1,3,S,S] image and a [1,1,S,S] mask and returns [1,3,S,S].
	Run(image, mask onnx.Tensor) (onnx.Tensor, error)
}

// Session is a loaded LaMa model. It is safe for concurrent Run calls.
type Session struct {
	mu         sync.RWMutex
	session    *onnxrt.DynamicAdvancedSession
	modelPath  string
	imageInput onnxrt.InputOutputInfo
	maskInput  onnxrt.InputOutputInfo
	output     onnxrt.InputOutputInfo
	size       int
}

var _ Runner = (*Session)(nil)

// NewSession loads the model at cfg.ModelPath. Every failure is a ModelLoadError.
func NewSession(cfg Config) (*Session, error) {
	const op = "load model"

	if cfg.ModelPath == "" {
		return nil, apperr.New(apperr.KindModelLoad, op, errors.New("empty model path"))
	}
	if err := models.ValidateModelExists(cfg.ModelPath); err != nil {
		return nil, apperr.WithPath(apperr.KindModelLoad, op, cfg.ModelPath, err)
	}
	if err := cfg.GPU.Validate(); err != nil {
		return nil, apperr.WithPath(apperr.KindModelLoad, op, cfg.ModelPath, err)
	}
	if err := onnx.EnsureEnvironment(cfg.LibraryPath, cfg.GPU.UseGPU); err != nil {
		return nil, apperr.WithPath(apperr.KindModelLoad, op, cfg.ModelPath, err)
	}

	inputs, outputs, err := onnxrt.GetInputOutputInfo(cfg.ModelPath)
	if err != nil {
		return nil, apperr.WithPath(apperr.KindModelLoad, op, cfg.ModelPath, fmt.Errorf("io info: %w", err))
	}
	imgIn, maskIn, out, err := pickIO(inputs, outputs)
	if err != nil {
		return nil, apperr.WithPath(apperr.KindModelLoad, op, cfg.ModelPath, err)
	}
	size := inputSize(imgIn.Dimensions)

	opts, err := onnx.NewSessionOptions(cfg.NumThreads, cfg.GPU)
	if err != nil {
		return nil, apperr.WithPath(apperr.KindModelLoad, op, cfg.ModelPath, err)
	}
	defer func() { _ = opts.Destroy() }()

	sess, err := onnxrt.NewDynamicAdvancedSession(cfg.ModelPath,
		[]string{imgIn.Name, maskIn.Name}, []string{out.Name}, opts)
	if err != nil {
		return nil, apperr.WithPath(apperr.KindModelLoad, op, cfg.ModelPath, fmt.Errorf("session: %w", err))
	}

	slog.Debug("LaMa session created",
		"model", cfg.ModelPath,
		"image_input", imgIn.Name,
		"mask_input", maskIn.Name,
		"output", out.Name,
		"input_size", size,
		"threads", cfg.NumThreads,
		"gpu", cfg.GPU.UseGPU)

	return &Session{
		session:    sess,
		modelPath:  cfg.ModelPath,
		imageInput: imgIn,
		maskInput:  maskIn,
		output:     out,
		size:       size,
	}, nil
}

// pickIO identifies the image and mask inputs. Names containing "image" and
// "mask" win; otherwise graph order is image first, mask second.
func pickIO(inputs, outputs []onnxrt.InputOutputInfo) (img, mask, out onnxrt.InputOutputInfo, err error) {
	if len(inputs) != 2 || len(outputs) != 1 {
		return img, mask, out, fmt.Errorf("unexpected io (in:%d out:%d), want 2 inputs and 1 output",
			len(inputs), len(outputs))
	}
	img, mask = inputs[0], inputs[1]
	if strings.Contains(strings.ToLower(img.Name), "mask") || strings.Contains(strings.ToLower(mask.Name), "image") {
		img, mask = mask, img
	}
	for _, info := range []onnxrt.InputOutputInfo{img, mask, outputs[0]} {
		if info.DataType != onnxrt.TensorElementDataTypeFloat {
			return img, mask, out, fmt.Errorf("%s: expected float32 tensor, got %v", info.Name, info.DataType)
		}
		if n := len(info.Dimensions); n != 4 {
			return img, mask, out, fmt.Errorf("%s: expected 4D tensor, got %dD", info.Name, n)
		}
	}
	if c := img.Dimensions[1]; c > 0 && c != 3 {
		return img, mask, out, fmt.Errorf("%s: expected 3 channels, got %d", img.Name, c)
	}
	if c := mask.Dimensions[1]; c > 0 && c != 1 {
		return img, mask, out, fmt.Errorf("%s: expected 1 channel, got %d", mask.Name, c)
	}
	return img, mask, outputs[0], nil
}

// inputSize reads the static square size from NCHW dims, falling back to
// DefaultInputSize for dynamic or non-square declarations.
func inputSize(dims onnxrt.Shape) int {
	if len(dims) == 4 && dims[2] > 0 && dims[2] == dims[3] {
		return int(dims[2])
	}
	return DefaultInputSize
}

// InputSize returns the square model resolution.
func (s *Session) InputSize() int {
	return s.size
}

// ModelPath returns the file the session was loaded from.
func (s *Session) ModelPath() string {
	return s.modelPath
}

// Run executes a forward pass. The returned tensor holds a pooled Go copy of
// the output; hand it back with mempool.PutFloat32 when done.
func (s *Session) Run(image, mask onnx.Tensor) (onnx.Tensor, error) {
	const op = "run model"

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.session == nil {
		return onnx.Tensor{}, apperr.New(apperr.KindInference, op, errors.New("session closed"))
	}

	imgT, err := onnxrt.NewTensor(onnxrt.NewShape(image.Shape...), image.Data)
	if err != nil {
		return onnx.Tensor{}, apperr.New(apperr.KindInference, op, fmt.Errorf("image tensor: %w", err))
	}
	defer func() { _ = imgT.Destroy() }()

	maskT, err := onnxrt.NewTensor(onnxrt.NewShape(mask.Shape...), mask.Data)
	if err != nil {
		return onnx.Tensor{}, apperr.New(apperr.KindInference, op, fmt.Errorf("mask tensor: %w", err))
	}
	defer func() { _ = maskT.Destroy() }()

	outs := []onnxrt.Value{nil}
	if err := s.session.Run([]onnxrt.Value{imgT, maskT}, outs); err != nil {
		return onnx.Tensor{}, apperr.New(apperr.KindInference, op, err)
	}
	if outs[0] == nil {
		return onnx.Tensor{}, apperr.New(apperr.KindInference, op, errors.New("no output from model"))
	}
	defer func() { _ = outs[0].Destroy() }()

	t, ok := outs[0].(*onnxrt.Tensor[float32])
	if !ok {
		return onnx.Tensor{}, apperr.New(apperr.KindInference, op, errors.New("invalid output tensor type"))
	}
	shape := t.GetShape()
	data := mempool.GetFloat32(len(t.GetData()))
	copy(data, t.GetData())
	return onnx.Tensor{Data: data, Shape: append([]int64(nil), shape...)}, nil
}

// Close releases the ONNX session. Safe to call more than once.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session == nil {
		return nil
	}
	err := s.session.Destroy()
	s.session = nil
	return err
}
