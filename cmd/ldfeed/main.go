// Command ldfeed encodes a movie catalogue as schema.org JSON-LD, validates
// entities against a constraint set and writes ItemList or DataFeed feeds
// with a validation report.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

const (
	Version = "0.1.0"
	appName = "ldfeed"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		stop()
		os.Exit(1)
	}
}

type globalFlags struct {
	configPath string
	logLevel   string
}

func rootCmd() *cobra.Command {
	flags := &globalFlags{}

	cmd := &cobra.Command{
		Use:   appName,
		Short: "Schema.org JSON-LD feeds with validation reports",
		Long: `ldfeed turns catalogue entities into schema.org JSON-LD, checks them
against a constraint set and attributes every failure to the entity it
came from.

Configuration is read from an ldfeed.yaml file (--config) and LDFEED_*
environment variables.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVarP(&flags.configPath, "config", "c", "", "Config file or directory containing ldfeed.yaml")
	cmd.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "Log level (debug, info, warn, error)")

	cmd.AddCommand(
		seedCmd(flags),
		encodeCmd(flags),
		validateCmd(flags),
		feedCmd(flags),
		reportCmd(flags),
		healthCmd(flags),
		&cobra.Command{
			Use:   "version",
			Short: "Print version information",
			Run: func(cmd *cobra.Command, args []string) {
				fmt.Fprintf(cmd.OutOrStdout(), "%s version %s\n", appName, Version)
			},
		},
	)
	return cmd
}
