package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fakeyudi/viewtrack/internal/config"
	"github.com/fakeyudi/viewtrack/internal/logger"
)

// cfg holds the merged configuration, populated in PersistentPreRunE.
var cfg config.Config

// log is the command logger, populated in PersistentPreRunE.
var log = zap.NewNop()

var (
	configPath string
	logEnv     string
)

var rootCmd = &cobra.Command{
	Use:   "viewtrack",
	Short: "Collect viewing telemetry for documents, videos and web pages",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		global, err := config.LoadGlobal()
		if err != nil {
			return fmt.Errorf("loading global config: %w", err)
		}
		project, err := config.LoadProject()
		if err != nil {
			return fmt.Errorf("loading project config: %w", err)
		}
		var explicit *config.Config
		if configPath != "" {
			if explicit, err = config.LoadFile(configPath); err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
		}
		cfg = config.Merge(global, project, explicit)
		if logEnv != "" {
			cfg.LogEnv = logEnv
		}

		l, err := logger.New(cfg.LogEnv)
		if err != nil {
			return fmt.Errorf("building logger: %w", err)
		}
		log = l
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		log.Sync()
	},
}

// Execute runs the root command. Exits with code 1 on error.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// GetConfig returns the merged configuration for use by subcommands.
func GetConfig() config.Config {
	return cfg
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file layered over the global and project files")
	rootCmd.PersistentFlags().StringVar(&logEnv, "log-env", "", "production (JSON) or development (console) logging")
}
