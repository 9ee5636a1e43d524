package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/relaypoint/mirrorpoint/internal/config"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:           "mirrorpoint",
	Short:         "Privacy front end mirroring an upstream site",
	Long:          `Serves a privacy-respecting mirror of the upstream site: media is proxied, post links are resolved and all responses carry strict default headers.`,
	Args:          cobra.NoArgs,
	RunE:          runServe,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to the configuration file (defaults are used when empty)")
}

func loadConfig() (*config.Config, error) {
	return config.Load(configPath)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
