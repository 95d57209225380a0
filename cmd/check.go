package cmd

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/agentic-research/booklocker/internal/engine"
	"github.com/agentic-research/booklocker/internal/metadata"
	"github.com/agentic-research/booklocker/internal/resolve"
	"github.com/agentic-research/booklocker/internal/tree"
)

const suggestionCount = 3

var checkOutput string

var checkCmd = &cobra.Command{
	Use:   "check [path...]",
	Short: "Resolve the configured targets (or the given paths) without moving anything",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		scan, err := metadata.Open(cfg.StoreDir).Read()
		if err != nil {
			return fmt.Errorf("read document store: %w", err)
		}
		targets := cfg.Targets
		if len(args) > 0 {
			targets = args
		}
		report := buildCheck(tree.Build(scan.Descriptors), targets)
		if err := writeReport(cmd.OutOrStdout(), report, OutputFormat(checkOutput)); err != nil {
			return err
		}
		if n := report.failed(); n > 0 {
			return fmt.Errorf("%d of %d target(s) did not resolve", n, len(report.Targets))
		}
		return nil
	},
}

func init() {
	checkCmd.Flags().StringVarP(&checkOutput, "output", "o", "text", "Output format: text, json, yaml")
	rootCmd.AddCommand(checkCmd)
}

type checkEntry struct {
	Target      string          `json:"target" yaml:"target"`
	NodeID      metadata.NodeID `json:"node_id,omitempty" yaml:"node_id,omitempty"`
	Path        string          `json:"path,omitempty" yaml:"path,omitempty"`
	Documents   int             `json:"documents" yaml:"documents"`
	Error       string          `json:"error,omitempty" yaml:"error,omitempty"`
	Suggestions []string        `json:"suggestions,omitempty" yaml:"suggestions,omitempty"`
}

type checkReport struct {
	Targets []checkEntry `json:"targets" yaml:"targets"`
}

func buildCheck(t *tree.Tree, targets []string) *checkReport {
	r := resolve.New(t)
	report := &checkReport{Targets: []checkEntry{}}
	for _, res := range engine.ResolveTargets(t, targets) {
		e := checkEntry{Target: res.Target}
		if res.Err != nil {
			e.Error = res.Err.Error()
			e.Suggestions = r.Suggestions(res.Err, suggestionCount)
		} else {
			e.NodeID = res.NodeID
			e.Path = t.FullPath(res.NodeID)
			e.Documents = t.Documents(t.Subtree(res.NodeID))
		}
		report.Targets = append(report.Targets, e)
	}
	return report
}

func (r *checkReport) failed() int {
	n := 0
	for _, e := range r.Targets {
		if e.Error != "" {
			n++
		}
	}
	return n
}

func (r *checkReport) writeText(w io.Writer) error {
	for _, e := range r.Targets {
		if e.Error == "" {
			fmt.Fprintf(w, "ok      %q -> %s [%s] (%d documents)\n", e.Target, e.Path, e.NodeID, e.Documents)
			continue
		}
		fmt.Fprintf(w, "failed  %q: %s\n", e.Target, e.Error)
		if len(e.Suggestions) > 0 {
			fmt.Fprintf(w, "        did you mean: %s\n", strings.Join(e.Suggestions, ", "))
		}
	}
	return nil
}
