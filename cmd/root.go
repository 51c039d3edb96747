package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/anqxyr/pyscp/internal/config"
)

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type rootFlags struct {
	configPath string
	site       string
	dbPath     string
	verbose    bool
}

func rootCmd() *cobra.Command {
	flags := &rootFlags{}
	cmd := &cobra.Command{
		Use:           "pyscp",
		Short:         "Take and browse point-in-time snapshots of Wikidot sites",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&flags.configPath, "config", "", "path to config file")
	cmd.PersistentFlags().StringVar(&flags.site, "site", "", "wiki site, e.g. scp-wiki or http://scp-wiki.wikidot.com")
	cmd.PersistentFlags().StringVar(&flags.dbPath, "db", "", "snapshot file path")
	cmd.PersistentFlags().BoolVarP(&flags.verbose, "verbose", "v", false, "debug logging")

	cmd.AddCommand(snapshotCmd(flags))
	cmd.AddCommand(pagesCmd(flags))
	cmd.AddCommand(versionCmd())
	return cmd
}

// loadConfig merges the config file, environment, and the root flags.
func loadConfig(flags *rootFlags) (config.Config, error) {
	cfg, err := config.Load(flags.configPath)
	if err != nil {
		return config.Config{}, err
	}
	if flags.site != "" {
		cfg.Site = flags.site
	}
	if flags.dbPath != "" {
		cfg.Snapshot.Path = flags.dbPath
	}
	if flags.verbose {
		cfg.Logging.Development = true
	}
	return cfg, nil
}

func buildLogger(cfg config.Config) (*zap.Logger, error) {
	if cfg.Logging.Development {
		logger, err := zap.NewDevelopment()
		if err != nil {
			return nil, fmt.Errorf("build logger: %w", err)
		}
		return logger, nil
	}
	logger, err := zap.NewProduction()
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}
	return logger, nil
}
