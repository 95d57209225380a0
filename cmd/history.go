package cmd

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/agentic-research/booklocker/internal/journal"
)

var (
	historyLimit  int
	historyRun    string
	historyOutput string
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recent lock and unlock events from the journal",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		path := cfg.JournalPath()
		if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
			fmt.Fprintln(cmd.OutOrStdout(), "no journal yet")
			return nil
		}
		j, err := journal.Open(path)
		if err != nil {
			return err
		}
		defer func() { _ = j.Close() }()

		var entries []journal.Entry
		if historyRun != "" {
			entries, err = j.Run(historyRun)
		} else {
			entries, err = j.Recent(historyLimit)
		}
		if err != nil {
			return err
		}
		report := &historyReport{Entries: entries}
		if report.Entries == nil {
			report.Entries = []journal.Entry{}
		}
		return writeReport(cmd.OutOrStdout(), report, OutputFormat(historyOutput))
	},
}

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 50, "Maximum number of events")
	historyCmd.Flags().StringVar(&historyRun, "run", "", "Show every event of one run id")
	historyCmd.Flags().StringVarP(&historyOutput, "output", "o", "text", "Output format: text, json, yaml")
	rootCmd.AddCommand(historyCmd)
}

type historyReport struct {
	Entries []journal.Entry `json:"entries" yaml:"entries"`
}

func (r *historyReport) writeText(w io.Writer) error {
	if len(r.Entries) == 0 {
		fmt.Fprintln(w, "no events")
		return nil
	}
	for _, e := range r.Entries {
		line := fmt.Sprintf("%s  %-7s %s", e.At.Format(time.RFC3339), e.Action, shortRun(e.RunID))
		if e.Path != "" {
			line += "  " + e.Path
		} else if e.Target != "" {
			line += "  " + e.Target
		}
		if e.Detail != "" {
			line += "  (" + e.Detail + ")"
		}
		fmt.Fprintln(w, line)
	}
	return nil
}

func shortRun(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
