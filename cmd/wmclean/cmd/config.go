package cmd

import (
	"fmt"

	"github.com/MeKo-Tech/wmclean/internal/config"
	"github.com/spf13/cobra"
)

func newConfigCommand(a *app) *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect or create configuration files",
	}

	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration as YAML",
		Long: `Print the configuration after merging defaults, the config file,
WMCLEAN_* environment variables and global flags.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return config.WriteYAML(cmd.OutOrStdout(), a.cfg)
		},
	}

	initCmd := &cobra.Command{
		Use:   "init [file]",
		Short: "Write a configuration file with all defaults",
		Long: `Write a configuration file containing every setting at its default value.
The file defaults to ./wmclean.yaml. An existing file is never overwritten.`,
		Args: cobra.MaximumNArgs(1),
		// Runs without loading configuration, so a broken file can be replaced.
		PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
		RunE: func(cmd *cobra.Command, args []string) error {
			file := config.ConfigFileName + ".yaml"
			if len(args) == 1 {
				file = args[0]
			}
			if err := config.GenerateDefaultConfigFile(file); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Configuration written to %s\n", file)
			return nil
		},
	}

	pathCmd := &cobra.Command{
		Use:   "path",
		Short: "Show the config file in use and the search paths",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			used := a.loader.GetConfigFileUsed()
			if used == "" {
				used = "(none, using defaults)"
			}
			_, _ = fmt.Fprintf(out, "Config file: %s\n", used)
			_, _ = fmt.Fprintln(out, "Search paths:")
			for _, p := range config.GetConfigSearchPaths() {
				_, _ = fmt.Fprintf(out, "  %s\n", p)
			}
			return nil
		},
	}

	configCmd.AddCommand(showCmd, initCmd, pathCmd)
	return configCmd
}
