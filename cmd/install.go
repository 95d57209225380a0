package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/agentic-research/booklocker/internal/config"
	"github.com/agentic-research/booklocker/internal/hostui"
)

var (
	unitDir       string
	installDryRun bool
)

var installCmd = &cobra.Command{
	Use:   "install",
	Short: "Install and start the systemd timer that runs booklocker at the window edges",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		w, err := cfg.Schedule()
		if err != nil {
			return err
		}
		exe, err := os.Executable()
		if err != nil {
			return fmt.Errorf("locate executable: %w", err)
		}
		runArgs, err := serviceArgs()
		if err != nil {
			return err
		}
		service := hostui.RenderService(exe, runArgs, filepath.Dir(exe))
		timer := hostui.RenderTimer(w)

		if installDryRun {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "# %s\n%s\n", filepath.Join(unitDir, hostui.UnitName+".service"), service)
			fmt.Fprintf(out, "# %s\n%s", filepath.Join(unitDir, hostui.UnitName+".timer"), timer)
			return nil
		}

		sys, err := systemdFor(cfg, logger)
		if err != nil {
			return err
		}
		if err := sys.Install(cmd.Context(), unitDir, service, timer); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "installed %s.timer for %s\n", hostui.UnitName, w)
		return nil
	},
}

var uninstallCmd = &cobra.Command{
	Use:   "uninstall",
	Short: "Stop and remove the systemd timer",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		sys, err := systemdFor(cfg, logger)
		if err != nil {
			return err
		}
		if err := sys.Uninstall(cmd.Context(), unitDir); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "removed %s.timer\n", hostui.UnitName)
		return nil
	},
}

func init() {
	for _, c := range []*cobra.Command{installCmd, uninstallCmd} {
		c.Flags().StringVar(&unitDir, "unit-dir", hostui.DefaultUnitDir, "Directory for the systemd units")
		rootCmd.AddCommand(c)
	}
	installCmd.Flags().BoolVar(&installDryRun, "dry-run", false, "Print the units instead of installing them")
}

// serviceArgs is the command line the service runs: `run`, plus the
// config file this install was made with.
func serviceArgs() ([]string, error) {
	args := []string{"run"}
	if configPath != "" {
		abs, err := filepath.Abs(configPath)
		if err != nil {
			return nil, fmt.Errorf("resolve config path: %w", err)
		}
		args = append(args, "--config", abs)
	}
	return args, nil
}

// systemdFor returns a systemctl driver using the ui.systemd polling
// settings, whatever ui.type is.
func systemdFor(cfg *config.Config, logger *zap.Logger) (*hostui.Systemd, error) {
	opts, err := config.DecodeSystemd(cfg.UI.Systemd)
	if err != nil {
		return nil, err
	}
	return hostui.NewSystemd(opts, hostui.WithLogger(logger)), nil
}
