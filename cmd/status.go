package cmd

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/agentic-research/booklocker/internal/lockstate"
	"github.com/agentic-research/booklocker/internal/metadata"
	"github.com/agentic-research/booklocker/internal/schedule"
	"github.com/agentic-research/booklocker/internal/tree"
)

var statusOutput string

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the lock window and what is currently hidden",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		w, err := cfg.Schedule()
		if err != nil {
			return err
		}
		store, err := lockstate.OpenDir(cfg.StateDir)
		if err != nil {
			return fmt.Errorf("open lock records: %w", err)
		}
		scan, err := metadata.Open(cfg.StoreDir).Read()
		if err != nil {
			return fmt.Errorf("read document store: %w", err)
		}
		report := buildStatus(now(), w, store, tree.Build(scan.Descriptors))
		return writeReport(cmd.OutOrStdout(), report, OutputFormat(statusOutput))
	},
}

func init() {
	statusCmd.Flags().StringVarP(&statusOutput, "output", "o", "text", "Output format: text, json, yaml")
	rootCmd.AddCommand(statusCmd)
}

type hiddenEntry struct {
	NodeID     metadata.NodeID `json:"node_id" yaml:"node_id"`
	Path       string          `json:"path" yaml:"path"`
	Target     string          `json:"target,omitempty" yaml:"target,omitempty"`
	HiddenPath string          `json:"hidden_path" yaml:"hidden_path"`
	LockedAt   time.Time       `json:"locked_at" yaml:"locked_at"`
	Documents  int             `json:"documents" yaml:"documents"`
}

type statusReport struct {
	Window         string        `json:"window" yaml:"window"`
	Now            time.Time     `json:"now" yaml:"now"`
	Desired        string        `json:"desired" yaml:"desired"`
	NextTransition *time.Time    `json:"next_transition,omitempty" yaml:"next_transition,omitempty"`
	NextState      string        `json:"next_state,omitempty" yaml:"next_state,omitempty"`
	Hidden         []hiddenEntry `json:"hidden" yaml:"hidden"`
	// HiddenDocuments counts distinct documents under all hidden folders.
	HiddenDocuments int `json:"hidden_documents" yaml:"hidden_documents"`
}

func buildStatus(at time.Time, w schedule.Window, store *lockstate.Store, t *tree.Tree) *statusReport {
	r := &statusReport{
		Window:  w.String(),
		Now:     at,
		Desired: schedule.DesiredState(at, w).String(),
		Hidden:  []hiddenEntry{},
	}
	if next, to, ok := schedule.NextTransition(at, w); ok {
		r.NextTransition = &next
		r.NextState = to.String()
	}

	var ids []metadata.NodeID
	for _, rec := range store.Records() {
		e := hiddenEntry{
			NodeID:     rec.NodeID,
			Path:       rec.OriginalPath,
			Target:     rec.Target,
			HiddenPath: rec.HiddenPath,
			LockedAt:   rec.LockedAt,
		}
		if _, err := t.Node(rec.NodeID); err == nil {
			e.Path = t.FullPath(rec.NodeID)
			e.Documents = t.Documents(t.Subtree(rec.NodeID))
		}
		r.Hidden = append(r.Hidden, e)
		ids = append(ids, rec.NodeID)
	}
	r.HiddenDocuments = t.Documents(t.Covered(ids...))
	return r
}

func (r *statusReport) writeText(w io.Writer) error {
	fmt.Fprintf(w, "window:  %s\n", r.Window)
	fmt.Fprintf(w, "desired: %s\n", r.Desired)
	if r.NextTransition != nil {
		fmt.Fprintf(w, "next:    %s at %s\n", r.NextState, r.NextTransition.Format(time.RFC3339))
	}
	if len(r.Hidden) == 0 {
		fmt.Fprintln(w, "nothing hidden")
		return nil
	}
	fmt.Fprintf(w, "hidden:  %d folder(s), %d document(s)\n", len(r.Hidden), r.HiddenDocuments)
	for _, e := range r.Hidden {
		fmt.Fprintf(w, "  %s (%d documents) since %s\n", e.Path, e.Documents, e.LockedAt.Format(time.RFC3339))
	}
	return nil
}
