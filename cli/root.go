// Package cli implements the rekcod command-line interface.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/rekcod/rekcod/api"
	"github.com/rekcod/rekcod/internal/version"
)

var (
	// persistent flags
	masterHost string
	configPath string
)

// rootCmd is the base command.
var rootCmd = &cobra.Command{
	Use:   "rekcod",
	Short: "Multi-node docker fleet controller",
	Long: `rekcod is a multi-node docker fleet controller.

Get started:
  rekcod server             Run the control plane (plus a local agent)
  rekcod agent              Run a node agent
  rekcod node ls            List registered nodes
  rekcod docker -n <node>   Run docker against a node's engine
  rekcod compose -n <node>  Run docker compose against a node's engine`,
	Version: version.Version,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// defaultConfigPath honors the REKCOD_CONFIG environment variable.
func defaultConfigPath() string {
	if p := os.Getenv("REKCOD_CONFIG"); p != "" {
		return p
	}
	return api.DefaultConfigPath
}

func init() {
	rootCmd.PersistentFlags().StringVar(&masterHost, "host", "", "server host:port (default: from rekcod.json)")
	rootCmd.PersistentFlags().StringVar(&configPath, "config-path", defaultConfigPath(), "directory holding rekcod.json")

	rootCmd.AddCommand(
		serverCmd,
		agentCmd,
		nodeCmd,
		dockerCmd,
		composeCmd,
		appCmd,
		envCmd,
	)
}
