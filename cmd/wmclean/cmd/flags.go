package cmd

import (
	"github.com/MeKo-Tech/wmclean/internal/config"
	"github.com/MeKo-Tech/wmclean/internal/remover"
	"github.com/spf13/cobra"
)

// requestFlags maps flag names to request option keys.
var requestFlags = map[string]string{
	"width-pct":  remover.OptWidthPct,
	"height-pct": remover.OptHeightPct,
	"algorithm":  remover.OptAlgorithm,
	"model":      remover.OptModelPath,
}

// addRequestFlags registers the flags that shape a removal request.
func addRequestFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.StringP("strategy", "s", remover.StrategyClassical, "removal strategy (classical, learned)")
	f.Float64("width-pct", remover.DefaultClassicalWidthPct, "corner width in percent of the image width (classical)")
	f.Float64("height-pct", remover.DefaultClassicalHeightPct, "corner height in percent of the image height (classical)")
	f.String("algorithm", "fast", "classical algorithm (fast, diffusion)")
	f.String("model", "", "LaMa model path (learned, default from config)")
	f.Int("radius", 0, "classical neighbourhood radius (default from config)")
}

// requestFromFlags builds the request from the flags the user set, filling
// the rest from cfg. Options that do not apply to the chosen strategy are
// rejected.
func requestFromFlags(cmd *cobra.Command, cfg *config.Config) (remover.Request, error) {
	f := cmd.Flags()
	strategy, _ := f.GetString("strategy")

	opts := make(map[string]string)
	for flag, key := range requestFlags {
		if f.Changed(flag) {
			opts[key] = f.Lookup(flag).Value.String()
		}
	}
	return remover.ParseRequest(strategy, cfg.RequestOptions(strategy, opts))
}

// dispatcherFromFlags builds a dispatcher from cfg with the classical
// radius override applied.
func dispatcherFromFlags(cmd *cobra.Command, cfg *config.Config) (*remover.Dispatcher, error) {
	c := *cfg
	if cmd.Flags().Changed("radius") {
		c.Classical.Radius, _ = cmd.Flags().GetInt("radius")
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	dc, err := c.ToDispatcherConfig()
	if err != nil {
		return nil, err
	}
	return remover.New(dc), nil
}
