package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/agentic-research/booklocker/internal/resolve"
	"github.com/agentic-research/booklocker/internal/schedule"
)

const zoneMatches = 10

var tzCmd = &cobra.Command{
	Use:   "tz [search]",
	Short: "List time zone names usable as window.timezone",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		names := schedule.ZoneNames()
		if len(names) == 0 {
			return errors.New("no time zone database found")
		}
		if len(args) == 1 {
			names = resolve.Suggest(args[0], names, zoneMatches)
		}
		for _, name := range names {
			fmt.Fprintln(cmd.OutOrStdout(), name)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(tzCmd)
}
