package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/agentic-research/booklocker/internal/config"
	"github.com/agentic-research/booklocker/internal/logging"
)

var (
	configPath string
	logLevel   string

	// now is the clock every command evaluates the window against.
	now = time.Now
)

var rootCmd = &cobra.Command{
	Use:   "booklocker",
	Short: "Hide reading folders on a reMarkable during a daily time window",
	Long: `booklocker moves the content of configured folders out of the reading
application's document store during a daily lock window and puts it back
afterwards. Run it from the installed systemd timer or by hand.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "",
		"Path to config file (default: $XDG_CONFIG_HOME/booklocker/config.{yaml,toml,json,hcl})")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "",
		"Log level: debug, info, warn, error (overrides config)")
}

// loadConfig loads the configuration with --log-level bound over the
// logging.level key, then initializes the global logger.
func loadConfig(cmd *cobra.Command) (*config.Config, *zap.Logger, error) {
	v := viper.New()
	if f := cmd.Flags().Lookup("log-level"); f != nil {
		if err := v.BindPFlag("logging.level", f); err != nil {
			return nil, nil, fmt.Errorf("bind --log-level: %w", err)
		}
	}
	cfg, err := config.LoadWith(v, configPath)
	if err != nil {
		return nil, nil, err
	}
	if err := logging.Init(logging.Config{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		OutputPath: cfg.Logging.Output,
	}); err != nil {
		return nil, nil, fmt.Errorf("init logging: %w", err)
	}
	return cfg, logging.L(), nil
}

// Execute runs the root command.
func Execute() {
	err := rootCmd.Execute()
	_ = logging.Sync()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
