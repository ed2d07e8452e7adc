// Command server runs the DILI feedback and model versioning server and
// its operator tooling.
package main

import (
	"fmt"
	"os"

	"github.com/dili-feedback-server/internal/config"
	"github.com/dili-feedback-server/internal/domain"
	"github.com/dili-feedback-server/internal/logging"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	// configFile overrides the config search path
	configFile   string
	buildVersion = "dev"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "dili-server",
	Short: "DILI prediction feedback and model versioning server",
	Long: `dili-server records clinician feedback on drug-induced liver injury
predictions, keeps the model version ledger and orchestrates retraining.`,
	Version:       buildVersion,
	SilenceUsage:  true,
	SilenceErrors: false,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "config file (default: ./config.yaml, ./configs/config.yaml)")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(usersCmd)
	rootCmd.AddCommand(feedbackCmd)
}

// loadConfig reads and validates configuration and builds the logger
func loadConfig() (*config.Manager, *domain.Config, *logrus.Logger, error) {
	var opts []config.Option
	if configFile != "" {
		opts = append(opts, config.WithConfigFile(configFile))
	}
	manager, err := config.NewManager(opts...)
	if err != nil {
		return nil, nil, nil, err
	}
	if err := manager.Validate(); err != nil {
		return nil, nil, nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	cfg := manager.GetConfig()
	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return nil, nil, nil, err
	}
	return manager, cfg, logger, nil
}
