package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"normative/api/internal/config"
	"normative/api/internal/logger"
)

var cfgFile string

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "normative-api",
		Short: "Annotation service for normative legal texts",
		Long: `normative-api serves the annotation workspace: documents, span
annotations with law type and justification, the ten-point justification
budget and the review status workflow.

Run without a subcommand to start the HTTP server.`,
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE:          runServe,
	}
	root.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (yaml, toml or json)")

	root.AddCommand(newServeCmd(), newMigrateCmd(), newUserCmd(), newGenerateCmd())
	return root
}

// setup loads configuration and builds the logger every command shares.
func setup() (config.Config, *logger.Logger, error) {
	v := config.New()
	if err := config.ReadFile(v, cfgFile); err != nil {
		return config.Config{}, nil, err
	}
	cfg, err := config.Load(v)
	if err != nil {
		return config.Config{}, nil, err
	}
	log, err := logger.New(cfg.LogMode)
	if err != nil {
		return config.Config{}, nil, fmt.Errorf("init logger: %w", err)
	}
	return cfg, log, nil
}
