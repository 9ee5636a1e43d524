package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/relaypoint/mirrorpoint/internal/logging"
	"github.com/relaypoint/mirrorpoint/internal/metrics"
	"github.com/relaypoint/mirrorpoint/internal/site"
)

var resolveCmd = &cobra.Command{
	Use:   "resolve <id-or-path>",
	Short: "Resolve a post short link to its canonical path",
	Args:  cobra.ExactArgs(1),
	RunE:  runResolve,
}

var routesCmd = &cobra.Command{
	Use:   "routes",
	Short: "List the registered routes, most specific first",
	Args:  cobra.NoArgs,
	RunE:  runRoutes,
}

func init() {
	rootCmd.AddCommand(resolveCmd)
	rootCmd.AddCommand(routesCmd)
}

func runResolve(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, closer := logging.New(cfg.Logging)
	defer closer.Close()

	s, err := site.New(cfg, logger, metrics.New(metrics.DefaultConfig()))
	if err != nil {
		return err
	}
	defer s.Stop()

	path := "/" + strings.TrimPrefix(args[0], "/")
	canonical, ok, err := s.Service().CanonicalPath(cmd.Context(), path)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("no canonical path for %s", path)
	}
	fmt.Fprintln(cmd.OutOrStdout(), canonical)
	return nil
}

func runRoutes(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	s, err := site.New(cfg, nil, nil)
	if err != nil {
		return err
	}
	defer s.Stop()

	for _, r := range s.Router().Routes() {
		fmt.Fprintln(cmd.OutOrStdout(), r)
	}
	return nil
}
