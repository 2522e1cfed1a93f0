package cmd

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/MeKo-Tech/wmclean/internal/apperr"
	"github.com/MeKo-Tech/wmclean/internal/models"
	"github.com/spf13/cobra"
)

func newModelsCommand(a *app) *cobra.Command {
	modelsCmd := &cobra.Command{
		Use:   "models",
		Short: "List known models and whether their files are present",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			format, _ := cmd.Flags().GetString("format")
			statuses := models.ModelStatuses(a.cfg.ModelsDir)

			switch format {
			case "json":
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(statuses)
			case "text":
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				_, _ = fmt.Fprintln(tw, "NAME\tTYPE\tINPUT\tPRESENT\tPATH")
				for _, st := range statuses {
					_, _ = fmt.Fprintf(tw, "%s\t%s\t%d\t%t\t%s\n", st.Name, st.Type, st.InputSize, st.Present, st.Path)
				}
				return tw.Flush()
			default:
				return apperr.Newf(apperr.KindInvalidOption, "models", "unsupported format %q (want text or json)", format)
			}
		},
	}
	modelsCmd.Flags().String("format", "text", "output format (text, json)")
	return modelsCmd
}
