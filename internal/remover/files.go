package remover

import (
	"context"
	"log/slog"

	"github.com/MeKo-Tech/wmclean/internal/inpaint"
	"github.com/MeKo-Tech/wmclean/internal/utils"
)

// ProcessFile reads in, removes the watermark and writes out. The output
// format follows the extension of out. For learned requests the model session
// is acquired before the input is decoded, so a bad model path fails without
// touching pixels. Nothing is written unless every stage succeeds.
func (d *Dispatcher) ProcessFile(ctx context.Context, in, out string, req Request) error {
	if _, err := utils.FormatFromPath(out); err != nil {
		return err
	}
	if l, ok := req.Strategy.(Learned); ok {
		if _, err := d.Session(l.ModelPath); err != nil {
			return err
		}
	}

	img, meta, err := utils.LoadImage(in)
	if err != nil {
		return err
	}
	result, err := d.RemoveWatermark(ctx, img, req)
	if err != nil {
		return err
	}
	if err := utils.SaveImage(result, out, d.cfg.JPEGQuality); err != nil {
		return err
	}

	slog.Info("Image processed",
		"input", in,
		"output", out,
		"strategy", req.Strategy.Name(),
		"width", meta.Width,
		"height", meta.Height)
	return nil
}

// RemoveWatermarkClassical removes a corner watermark from the image at in and
// writes the result to out using a classical inpainter.
func RemoveWatermarkClassical(ctx context.Context, in, out string, widthPct, heightPct float64, alg inpaint.Algorithm) error {
	d := New(DefaultConfig())
	defer func() { _ = d.Close() }()
	return d.ProcessFile(ctx, in, out, ClassicalRequest(widthPct, heightPct, alg))
}

// RemoveWatermarkLearned removes a 15% x 15% corner watermark with the LaMa
// model at modelPath. An empty modelPath selects the bundled model.
func RemoveWatermarkLearned(ctx context.Context, in, out, modelPath string) error {
	d := New(DefaultConfig())
	defer func() { _ = d.Close() }()
	return d.ProcessFile(ctx, in, out, LearnedRequest(modelPath))
}
