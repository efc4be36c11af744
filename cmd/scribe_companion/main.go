package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/scribeverse/scribe-companion/internal/commands"
)

var (
	// Version is set at build time via -ldflags "-X main.Version=X.Y.Z"
	Version = "0.0.0-dev"
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "scribe_companion",
	Short: "Scribe Companion - keep your editing surface in sync with the agent",
	Long: `Scribe Companion holds one persistent connection between your editing
surface and the remote writing agent. It turns raw edit events into a small
number of meaningful signals, correlates request/response pairs on the
connection, and mirrors the agent's review schedule locally.

Commands:
  start      Run the sync companion in the foreground
  due        List review items currently due
  review     Submit a review grade for an item
  config     Show the effective configuration

Config: ~/.scribesync/config.yaml`,
	Version: Version,
	RunE: func(cmd *cobra.Command, args []string) error {
		return commands.StartCmd.RunE(cmd, args)
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")

	rootCmd.AddCommand(commands.StartCmd)
	rootCmd.AddCommand(commands.DueCmd)
	rootCmd.AddCommand(commands.ReviewCmd)
	rootCmd.AddCommand(commands.ConfigCmd)
}

func main() {
	// Optional .env for local development overrides.
	godotenv.Load()

	commands.AppVersion = Version
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
