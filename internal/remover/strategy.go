// Package remover routes watermark removal requests to the classical or the
// learned inpainter and owns the model sessions the learned path needs.
package remover

import (
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"

	"github.com/MeKo-Tech/wmclean/internal/apperr"
	"github.com/MeKo-Tech/wmclean/internal/inpaint"
)

// Strategy names.
const (
	StrategyClassical = "classical"
	StrategyLearned   = "learned"
)

// Default corner sizes per strategy, in percent of the image dimensions.
const (
	DefaultClassicalWidthPct  = 30
	DefaultClassicalHeightPct = 15
	DefaultLearnedWidthPct    = 15
	DefaultLearnedHeightPct   = 15
)

// Option keys accepted by ParseRequest.
const (
	OptWidthPct  = "width_pct"
	OptHeightPct = "height_pct"
	OptAlgorithm = "algorithm"
	OptModelPath = "model_path"
)

// Strategy is either Classical or Learned.
type Strategy interface {
	Name() string
	strategy()
}

// Classical reconstructs the corner with a boundary propagation algorithm.
type Classical struct {
	Algorithm inpaint.Algorithm
}

// Learned reconstructs the corner with a LaMa model. An empty ModelPath means
// the dispatcher's configured default.
type Learned struct {
	ModelPath string
}

func (Classical) Name() string { return StrategyClassical }
func (Learned) Name() string   { return StrategyLearned }
func (Classical) strategy()    {}
func (Learned) strategy()      {}

// Request describes one removal.
type Request struct {
	WidthPct  float64
	HeightPct float64
	Strategy  Strategy
}

// ClassicalRequest returns a classical request with the given geometry.
func ClassicalRequest(widthPct, heightPct float64, alg inpaint.Algorithm) Request {
	return Request{WidthPct: widthPct, HeightPct: heightPct, Strategy: Classical{Algorithm: alg}}
}

// LearnedRequest returns a learned request with the default 15% x 15% corner.
func LearnedRequest(modelPath string) Request {
	return Request{
		WidthPct:  DefaultLearnedWidthPct,
		HeightPct: DefaultLearnedHeightPct,
		Strategy:  Learned{ModelPath: modelPath},
	}
}

var allowedOptions = map[string][]string{
	StrategyClassical: {OptWidthPct, OptHeightPct, OptAlgorithm},
	StrategyLearned:   {OptWidthPct, OptHeightPct, OptModelPath},
}

// ParseRequest builds a typed request from loosely typed options, as they
// arrive from flags or form fields. Options a strategy does not recognize are
// rejected, as are unparsable values. Missing options take the strategy defaults.
func ParseRequest(strategy string, opts map[string]string) (Request, error) {
	const op = "parse request"

	name := strings.ToLower(strings.TrimSpace(strategy))
	if name == "" {
		name = StrategyClassical
	}
	allowed, ok := allowedOptions[name]
	if !ok {
		return Request{}, apperr.New(apperr.KindInvalidOption, op,
			fmt.Errorf("unknown strategy %q (want %s or %s)", strategy, StrategyClassical, StrategyLearned))
	}
	for _, k := range slices.Sorted(maps.Keys(opts)) {
		if !slices.Contains(allowed, k) {
			return Request{}, apperr.New(apperr.KindInvalidOption, op,
				fmt.Errorf("option %q is not valid for the %s strategy", k, name))
		}
	}

	var req Request
	switch name {
	case StrategyLearned:
		req = LearnedRequest(opts[OptModelPath])
	default:
		alg, err := inpaint.ParseAlgorithm(opts[OptAlgorithm])
		if err != nil {
			return Request{}, err
		}
		req = ClassicalRequest(DefaultClassicalWidthPct, DefaultClassicalHeightPct, alg)
	}

	var err error
	if req.WidthPct, err = parsePct(opts, OptWidthPct, req.WidthPct); err != nil {
		return Request{}, apperr.New(apperr.KindInvalidOption, op, err)
	}
	if req.HeightPct, err = parsePct(opts, OptHeightPct, req.HeightPct); err != nil {
		return Request{}, apperr.New(apperr.KindInvalidOption, op, err)
	}
	return req, nil
}

// parsePct reads a percentage option. Out-of-range values are kept and
// clamped later by the region builder.
func parsePct(opts map[string]string, key string, def float64) (float64, error) {
	s, ok := opts[key]
	if !ok || strings.TrimSpace(s) == "" {
		return def, nil
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, fmt.Errorf("%s: %q is not a number", key, s)
	}
	return v, nil
}
