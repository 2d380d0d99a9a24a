package main

import (
	"fmt"
	"os"

	"github.com/Swind/go-rtkernel/core"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	configPath string
	verbose    bool

	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "rtkdemo",
	Short: "Run the recursive mutex demo on the rtkernel scheduler",
	Long: `rtkdemo defines a small system on the rtkernel scheduler: a 1024-byte
byte pool, two priority-8 threads whose stacks come from the pool, and a
mutex without priority inheritance that both threads acquire twice per loop.

A wall-clock ticker drives the kernel; counters are reported periodically.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		fc, err := loadConfig()
		if err != nil {
			return err
		}
		logger, err = buildLogger(fc.Logging)
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "YAML kernel config file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")

	rootCmd.AddCommand(newRunCmd())
	rootCmd.AddCommand(newConfigCmd())
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig reads --config, or returns the defaults when it is not set.
func loadConfig() (*core.FileConfig, error) {
	if configPath == "" {
		return &core.FileConfig{}, nil
	}
	return core.LoadFileConfig(configPath)
}

func buildLogger(lc core.LoggingConfig) (*zap.Logger, error) {
	config := zap.NewProductionConfig()
	if lc.Format == "console" {
		config = zap.NewDevelopmentConfig()
	}
	if lc.Level != "" {
		level, err := zapcore.ParseLevel(lc.Level)
		if err != nil {
			return nil, err
		}
		config.Level = zap.NewAtomicLevelAt(level)
	}
	if verbose {
		config.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}
	return config.Build()
}
