// Package main is the cadence CLI: a standalone dashboard driven by a YAML
// file.
//
// Usage:
//
//	cadence serve -c config.yaml    # start the dashboard
//	cadence validate -c config.yaml # check a config file
//	cadence version                 # show version info
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// set at build time via -ldflags "-X main.version=1.0.0"
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

var rootCmd = &cobra.Command{
	Use:   "cadence",
	Short: "A status dashboard that polls as often as it needs to",
	Long: `cadence is a real-time status dashboard with adaptive polling.

Endpoints are polled fast right after their status changes and back off
while nothing happens. While nobody is looking at the dashboard, polling
drops to an idle rate.

Quick start:
  1. Create a config file (cadence.yaml)
  2. Run: cadence serve -c cadence.yaml
  3. Open http://localhost:8080 in your browser

Example config:
  port: 8080
  cadence:
    min_interval: 5s
    max_interval: 2m
    backoff_step: 5s
  endpoints:
    - name: GitHub API
      url: https://api.github.com
      extractor: json:status`,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		// cobra has already printed the error
		os.Exit(1)
	}
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "cadence %s\n", version)
		fmt.Fprintf(out, "  commit: %s\n", commit)
		fmt.Fprintf(out, "  built:  %s\n", date)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
