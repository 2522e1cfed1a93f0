package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func newRemoveCommand(a *app) *cobra.Command {
	removeCmd := &cobra.Command{
		Use:   "remove <input> <output>",
		Short: "Remove the corner watermark from one image",
		Long: `Remove the watermark from the bottom-right corner of <input> and write the
result to <output>. The output format follows the output extension.

The classical strategy reconstructs a corner of --width-pct x --height-pct
percent (defaults from the region section of the config). The learned
strategy always uses a 15% x 15% corner.

Examples:
  wmclean remove in.jpg out.jpg
  wmclean remove in.png out.png --algorithm diffusion --width-pct 20
  wmclean remove in.png out.png --strategy learned`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := requestFromFlags(cmd, a.cfg)
			if err != nil {
				return err
			}
			d, err := dispatcherFromFlags(cmd, a.cfg)
			if err != nil {
				return err
			}
			defer func() { _ = d.Close() }()

			start := time.Now()
			if err := d.ProcessFile(cmd.Context(), args[0], args[1], req); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s -> %s (%s, %v)\n",
				args[0], args[1], req.Strategy.Name(), time.Since(start).Round(time.Millisecond))
			return nil
		},
	}
	addRequestFlags(removeCmd)
	return removeCmd
}
