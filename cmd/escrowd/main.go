// Command escrowd runs the swap escrow service and its tooling.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"swap-escrow/internal/config"
	"swap-escrow/internal/logging"
)

// Version is set at build time with -ldflags "-X main.Version=...".
var Version = "dev"

var (
	configPath string
	logger     *zap.Logger
	cfg        *config.Config
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:           "escrowd",
	Short:         "Basket swap escrow service",
	Long:          "escrowd holds an initiator's basket of assets in custody until the nominated counterparty delivers the expected basket or the swap is cancelled.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "escrowd %s\n", Version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to configuration file")
	rootCmd.AddCommand(serveCmd, migrateCmd, demoCmd, watchCmd, versionCmd)
}

// loadConfig loads configuration and builds the logger. Used as
// PersistentPreRunE by commands that need both.
func loadConfig(cmd *cobra.Command, args []string) error {
	var err error
	cfg, err = config.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	logger, err = logging.New(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	return nil
}
