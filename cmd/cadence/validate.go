package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/jpalmerr/cadence/config"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a config file",
	Long: `Validate a cadence configuration file without starting the server.

The file is parsed, environment variables are expanded and every field is
checked. All problems are reported at once. Useful in CI or before a deploy.

Exit codes:
  0 - config is valid
  1 - config is invalid (details on stderr)

Example:
  cadence validate -c config.yaml`,
	RunE: runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)

	validateCmd.Flags().StringP("config", "c", "", "path to config file (required)")
	_ = validateCmd.MarkFlagRequired("config")
}

func runValidate(cmd *cobra.Command, args []string) error {
	configFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	policy := cfg.Policy()
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "Config is valid!")
	fmt.Fprintf(out, "  Port:      %d\n", cfg.Port)
	fmt.Fprintf(out, "  Endpoints: %d\n", len(cfg.Endpoints))
	if policy.OutcomeDriven() {
		fmt.Fprintf(out, "  Backoff:   %s to %s, step %s\n", policy.MinInterval, policy.MaxInterval, policy.BackoffStep)
	}
	if policy.ActivityDriven() {
		fmt.Fprintf(out, "  Activity:  %s active, %s idle after %s\n", policy.ActiveInterval, policy.IdleInterval, policy.IdleTimeout)
	}

	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	for _, ep := range cfg.Endpoints {
		cadence := "board"
		if ep.Cadence != nil {
			cadence = "own"
		}
		fmt.Fprintf(tw, "    %s\t%s\t%s cadence\n", ep.Name, ep.URL, cadence)
	}
	return tw.Flush()
}
