package cmd

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/agentic-research/booklocker/internal/config"
	"github.com/agentic-research/booklocker/internal/engine"
	"github.com/agentic-research/booklocker/internal/hostui"
	"github.com/agentic-research/booklocker/internal/journal"
	"github.com/agentic-research/booklocker/internal/lockstate"
	"github.com/agentic-research/booklocker/internal/metadata"
	"github.com/agentic-research/booklocker/internal/metrics"
	"github.com/agentic-research/booklocker/internal/netblock"
	"github.com/agentic-research/booklocker/internal/schedule"
	"github.com/agentic-research/booklocker/internal/tree"
)

var runOutput string

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Hide or restore the configured folders according to the lock window",
	Long: `Run reconciles once: it pauses the reading UI, hides every target while
the window is active (or restores every hidden folder outside it), resumes
the UI and blocks cloud sync while anything stays hidden.

Per-folder failures are reported but do not fail the command; the next run
retries them.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		ui, err := config.NewController(cfg, logger)
		if err != nil {
			return err
		}
		blocker, err := config.NewBlocker(cfg, logger)
		if err != nil {
			return err
		}
		r := &runner{cfg: cfg, logger: logger, ui: ui, blocker: blocker}
		return r.run(cmd.Context(), cmd.OutOrStdout(), OutputFormat(runOutput))
	},
}

func init() {
	runCmd.Flags().StringVarP(&runOutput, "output", "o", "text", "Output format: text, json, yaml")
	rootCmd.AddCommand(runCmd)
}

// runner is one `booklocker run` invocation.
type runner struct {
	cfg     *config.Config
	logger  *zap.Logger
	ui      hostui.Controller
	blocker netblock.Blocker
}

// runReport is what `run` prints.
type runReport struct {
	engine.Result  `yaml:",inline"`
	NextTransition *time.Time `json:"next_transition,omitempty" yaml:"next_transition,omitempty"`
}

func (r *runReport) writeText(w io.Writer) error {
	fmt.Fprintf(w, "%s\n", r.Result.String())
	fmt.Fprintf(w, "hidden: %d\n", r.Hidden)
	for _, f := range r.Failures {
		fmt.Fprintf(w, "  failed %s\n", f.Error())
	}
	if r.NextTransition != nil {
		fmt.Fprintf(w, "next transition: %s\n", r.NextTransition.Format(time.RFC3339))
	}
	return nil
}

func (r *runner) run(ctx context.Context, out io.Writer, format OutputFormat) error {
	if ctx == nil {
		ctx = context.Background()
	}
	started := now()

	store, err := lockstate.OpenDir(r.cfg.StateDir)
	if err != nil {
		return fmt.Errorf("open lock records: %w", err)
	}

	var opts []engine.Option
	opts = append(opts, engine.WithLogger(r.logger))
	if j := r.openJournal(started); j != nil {
		defer func() { _ = j.Close() }()
		opts = append(opts, engine.WithJournal(j))
	}

	if err := r.ui.Stop(ctx); err != nil {
		if serr := r.ui.Start(ctx); serr != nil {
			r.logger.Error("could not resume ui", zap.Error(serr))
		}
		return fmt.Errorf("stop ui: %w", err)
	}

	res, t, scan, runErr := r.reconcile(store, started, opts)

	// The UI comes back whatever happened above.
	if err := r.ui.Start(ctx); err != nil {
		r.logger.Error("could not resume ui", zap.Error(err))
		if runErr == nil {
			runErr = fmt.Errorf("start ui: %w", err)
		}
	}

	r.toggleNetwork(ctx, store.Len() > 0)

	if res == nil {
		return runErr
	}
	report := &runReport{Result: *res}
	if w, err := r.cfg.Schedule(); err == nil {
		if at, _, ok := schedule.NextTransition(started, w); ok {
			report.NextTransition = &at
		}
	}
	r.writeMetrics(report, store, t, scan, started)

	if err := writeReport(out, report, format); err != nil {
		return err
	}
	return runErr
}

func (r *runner) reconcile(store *lockstate.Store, at time.Time, opts []engine.Option) (*engine.Result, *tree.Tree, *metadata.Scan, error) {
	scan, err := metadata.Open(r.cfg.StoreDir).Read()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("read document store: %w", err)
	}
	for _, w := range scan.Warnings {
		r.logger.Warn("skipping unreadable record", zap.Error(w))
	}
	t := tree.Build(scan.Descriptors)

	ec, err := r.cfg.Engine()
	if err != nil {
		return nil, t, scan, err
	}
	res, err := engine.New(ec, store, opts...).Reconcile(t, at)
	return res, t, scan, err
}

func (r *runner) openJournal(at time.Time) *journal.DB {
	if !r.cfg.Journal.Enabled {
		return nil
	}
	j, err := journal.Open(r.cfg.JournalPath())
	if err != nil {
		r.logger.Warn("journal unavailable", zap.Error(err))
		return nil
	}
	if r.cfg.Journal.Retention > 0 {
		if n, err := j.Prune(at.Add(-r.cfg.Journal.Retention)); err != nil {
			r.logger.Warn("prune journal", zap.Error(err))
		} else if n > 0 {
			r.logger.Debug("pruned journal", zap.Int64("entries", n))
		}
	}
	return j
}

// toggleNetwork blocks sync while anything is hidden. Failures leave the
// documents safe on disk, so they are only logged.
func (r *runner) toggleNetwork(ctx context.Context, block bool) {
	var err error
	if block {
		err = r.blocker.Block(ctx)
	} else {
		err = r.blocker.Unblock(ctx)
	}
	if err != nil {
		r.logger.Warn("could not change sync block", zap.Bool("block", block), zap.Error(err))
	}
}

func (r *runner) writeMetrics(report *runReport, store *lockstate.Store, t *tree.Tree, scan *metadata.Scan, started time.Time) {
	if r.cfg.Metrics.Textfile == "" {
		return
	}
	m := metrics.New()
	m.ObserveRun(&report.Result, started, now().Sub(started))
	if t != nil && scan != nil {
		ids := make([]metadata.NodeID, 0, store.Len())
		for _, rec := range store.Records() {
			ids = append(ids, rec.NodeID)
		}
		m.ObserveStore(t.Len(), len(scan.Warnings), t.Documents(t.Covered(ids...)))
	}
	if report.NextTransition != nil {
		m.ObserveNextTransition(*report.NextTransition)
	}
	if err := m.WriteTextfile(r.cfg.Metrics.Textfile); err != nil {
		r.logger.Warn("could not write metrics", zap.Error(err))
	}
}
