// ESPLEDS Core - discovery and live control for ESP8266 LED controllers.
//
// The espleds binary listens for device beacons on the LAN, keeps a registry
// of the controllers it hears, and relays settings between those devices and
// the REST/WebSocket API and MQTT bus. One-shot subcommands discover devices
// and read or write a single device from the shell.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	_ "github.com/nerrad567/espleds-core/migrations"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

// configEnv names the environment variable consulted when --config is unset.
const configEnv = "ESPLEDS_CONFIG"

func main() {
	// Cancel on Ctrl+C or SIGTERM so every command shuts down cleanly.
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// newRootCmd builds the espleds command tree.
func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "espleds",
		Short: "Discover and control ESP8266 LED controllers",
		Long: `espleds listens for ESPLEDS beacons on UDP port 12888 and talks to
each discovered controller over its plain-text HTTP interface.

Use "espleds [command] --help" for more information about a command.`,
		Version:       fmt.Sprintf("%s (commit %s, built %s)", version, commit, date),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().String("config", "", "config file (default $"+configEnv+" or "+defaultConfigPath+")")

	root.AddCommand(
		newServeCmd(),
		newDiscoverCmd(),
		newGetCmd(),
		newSetCmd(),
	)
	return root
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run discovery, the controller manager, API and MQTT bridge",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), configPath(cmd))
		},
	}
}

// configPath resolves the config file: --config, then $ESPLEDS_CONFIG, then
// the default.
func configPath(cmd *cobra.Command) string {
	if path, err := cmd.Root().PersistentFlags().GetString("config"); err == nil && path != "" {
		return path
	}
	if path := os.Getenv(configEnv); path != "" {
		return path
	}
	return defaultConfigPath
}
