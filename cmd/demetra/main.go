// Command demetra runs the time-series analysis services and their
// offline tools.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/banshee-data/demetra.report/internal/config"
	"github.com/banshee-data/demetra.report/internal/monitoring"
)

var (
	// Global flags
	configPath string
	devMode    bool

	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "demetra",
	Short: "Seasonal adjustment and time-series analysis services",
	Long: `demetra stores time series and runs statistical tests, ARIMA modelling,
TRAMO/SEATS and X-13 seasonal adjustment, file conversion and plotting
behind a JSON HTTP API, with matrix and polynomial routines over gRPC.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		logger, err = monitoring.NewZap(devMode)
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		monitoring.UseZap(logger)
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to a JSON service config file")
	rootCmd.PersistentFlags().BoolVar(&devMode, "dev", false, "Console logging at debug level")

	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newMigrateCmd())
	rootCmd.AddCommand(newAnalyzeCmd())
	rootCmd.AddCommand(newClientCmd())
	rootCmd.AddCommand(newVersionCmd())
}

// loadConfig reads --config, or returns the defaults when it is unset.
func loadConfig() (*config.ServiceConfig, error) {
	if configPath == "" {
		return config.DefaultServiceConfig(), nil
	}
	return config.LoadServiceConfig(configPath)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
