// Package engine reconciles which targets are hidden with what the lock
// window wants, one run at a time. Every move is followed by an immediate
// write of the lock records, so a crash loses at most the unmoved remainder.
package engine

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/agentic-research/booklocker/internal/journal"
	"github.com/agentic-research/booklocker/internal/lockstate"
	"github.com/agentic-research/booklocker/internal/logging"
	"github.com/agentic-research/booklocker/internal/metadata"
	"github.com/agentic-research/booklocker/internal/mover"
	"github.com/agentic-research/booklocker/internal/resolve"
	"github.com/agentic-research/booklocker/internal/schedule"
	"github.com/agentic-research/booklocker/internal/tree"
)

// Config is what one reconciliation needs to know about the device.
type Config struct {
	StoreDir  string
	HiddenDir string
	Targets   []string
	Window    schedule.Window
}

// Sink receives one entry per transition.
type Sink interface {
	Append(journal.Entry) error
}

// Engine runs reconciliations against one lock record store.
type Engine struct {
	cfg         Config
	store       *lockstate.Store
	mover       mover.Mover
	logger      *zap.Logger
	sink        Sink
	runID       string
	resolveOpts []resolve.Option
}

// Option configures an Engine.
type Option func(*Engine)

// WithMover replaces the filesystem mover.
func WithMover(m mover.Mover) Option { return func(e *Engine) { e.mover = m } }

// WithLogger sets the logger. The run id is added to every entry.
func WithLogger(l *zap.Logger) Option { return func(e *Engine) { e.logger = l } }

// WithJournal records every transition in s.
func WithJournal(s Sink) Option { return func(e *Engine) { e.sink = s } }

// WithRunID fixes the run id instead of generating one.
func WithRunID(id string) Option { return func(e *Engine) { e.runID = id } }

// WithResolveOptions passes options to the path resolver.
func WithResolveOptions(opts ...resolve.Option) Option {
	return func(e *Engine) { e.resolveOpts = append(e.resolveOpts, opts...) }
}

// New returns an Engine. store must already be loaded.
func New(cfg Config, store *lockstate.Store, opts ...Option) *Engine {
	e := &Engine{
		cfg:    cfg,
		store:  store,
		mover:  mover.New(),
		logger: logging.L(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.runID == "" {
		e.runID = uuid.NewString()
	}
	e.logger = logging.WithRun(e.logger, e.runID)
	return e
}

// RunID identifies this engine's run in logs and the journal.
func (e *Engine) RunID() string { return e.runID }

// HiddenPath is where id's backing directory goes while locked.
func (e *Engine) HiddenPath(id metadata.NodeID) string {
	return filepath.Join(e.cfg.HiddenDir, string(id))
}

// Resolution is one configured target matched against the tree.
type Resolution struct {
	Target string
	NodeID metadata.NodeID
	Err    error
}

// ResolveTargets resolves every target in config order.
func ResolveTargets(t *tree.Tree, targets []string, opts ...resolve.Option) []Resolution {
	r := resolve.New(t, opts...)
	out := make([]Resolution, len(targets))
	for i, target := range targets {
		id, err := r.Resolve(target)
		out[i] = Resolution{Target: target, NodeID: id, Err: err}
	}
	return out
}

// Reconcile brings hidden state in line with the window at now. Per-target
// failures are collected in the result; only a failure to rewrite the lock
// records is returned as an error, together with the partial result.
func (e *Engine) Reconcile(t *tree.Tree, now time.Time) (*Result, error) {
	res := &Result{RunID: e.runID}
	resolutions := ResolveTargets(t, e.cfg.Targets, e.resolveOpts...)

	conflicts, err := e.recover(t, now, res)
	if err != nil {
		return e.finish(res), err
	}

	res.Desired = schedule.DesiredState(now, e.cfg.Window)
	res.State = res.Desired.String()
	e.logger.Debug("desired state",
		zap.Stringer("state", res.Desired),
		zap.Stringer("window", e.cfg.Window),
		zap.Int("targets", len(resolutions)),
	)

	if res.Desired == schedule.Locked {
		err = e.lock(t, resolutions, conflicts, now, res)
	} else {
		err = e.unlock(resolutions, conflicts, res)
	}
	return e.finish(res), err
}

func (e *Engine) finish(res *Result) *Result {
	res.Hidden = e.store.Len()
	e.logger.Info("reconciled",
		zap.String("desired", res.State),
		zap.Int("locked", res.Locked),
		zap.Int("unlocked", res.Unlocked),
		zap.Int("unchanged", res.Unchanged),
		zap.Int("failed", res.Failed),
		zap.Int("recovered", res.Recovered),
	)
	e.emit(journal.Entry{Action: journal.ActionSummary, Detail: res.String()})
	return res
}

func (e *Engine) lock(t *tree.Tree, resolutions []Resolution, conflicts map[metadata.NodeID]bool, now time.Time, res *Result) error {
	var hiddenErr error
	hiddenReady := false

	seen := make(map[metadata.NodeID]bool, len(resolutions))
	for _, r := range resolutions {
		if r.Err != nil {
			e.failTarget(res, r.Target, "", r.Err)
			continue
		}
		if conflicts[r.NodeID] && !seen[r.NodeID] {
			// Already reported by recovery.
			seen[r.NodeID] = true
			continue
		}
		if seen[r.NodeID] || e.store.Has(r.NodeID) {
			seen[r.NodeID] = true
			res.Unchanged++
			continue
		}
		seen[r.NodeID] = true

		node, err := t.Node(r.NodeID)
		if err != nil {
			e.failTarget(res, r.Target, r.NodeID, fmt.Errorf("%s: %w", r.NodeID, err))
			continue
		}
		src := node.BackingPath
		if src == "" {
			src = filepath.Join(e.cfg.StoreDir, string(r.NodeID))
		}
		dst := e.HiddenPath(r.NodeID)

		if !hiddenReady && hiddenErr == nil {
			if err := os.MkdirAll(e.cfg.HiddenDir, 0o755); err != nil {
				hiddenErr = &mover.MoveError{Src: src, Dst: e.cfg.HiddenDir, Err: err}
			} else {
				hiddenReady = true
			}
		}
		if hiddenErr != nil {
			e.failTarget(res, r.Target, r.NodeID, hiddenErr)
			continue
		}

		if err := e.mover.Move(src, dst); err != nil {
			e.failTarget(res, r.Target, r.NodeID, err)
			continue
		}

		rec := lockstate.Record{
			NodeID:       r.NodeID,
			OriginalPath: src,
			HiddenPath:   dst,
			LockedAt:     now,
			Target:       r.Target,
		}
		if err := e.store.Put(rec); err != nil {
			// The rename stands; the next run adopts the hidden entry.
			e.logger.Error("persist lock record", zap.String("node_id", string(r.NodeID)), zap.Error(err))
			return fmt.Errorf("persist lock record for %s: %w", r.NodeID, err)
		}
		res.Locked++
		e.logger.Info("locked", zap.String("target", r.Target), zap.String("node_id", string(r.NodeID)), zap.String("hidden", dst))
		e.emit(journal.Entry{Action: journal.ActionLock, NodeID: string(r.NodeID), Target: r.Target, Path: dst})
	}
	return nil
}

func (e *Engine) unlock(resolutions []Resolution, conflicts map[metadata.NodeID]bool, res *Result) error {
	restored := make(map[metadata.NodeID]bool)
	failed := make(map[metadata.NodeID]bool)

	for _, rec := range e.store.Records() {
		if conflicts[rec.NodeID] {
			// Already reported by recovery.
			failed[rec.NodeID] = true
			continue
		}
		if err := e.mover.Move(rec.HiddenPath, rec.OriginalPath); err != nil {
			failed[rec.NodeID] = true
			e.failTarget(res, rec.Target, rec.NodeID, err)
			continue
		}
		if err := e.store.Delete(rec.NodeID); err != nil {
			// The content is back; the next run drops the stale record.
			e.logger.Error("remove lock record", zap.String("node_id", string(rec.NodeID)), zap.Error(err))
			return fmt.Errorf("remove lock record for %s: %w", rec.NodeID, err)
		}
		restored[rec.NodeID] = true
		res.Unlocked++
		e.logger.Info("unlocked", zap.String("target", rec.Target), zap.String("node_id", string(rec.NodeID)), zap.String("restored", rec.OriginalPath))
		e.emit(journal.Entry{Action: journal.ActionUnlock, NodeID: string(rec.NodeID), Target: rec.Target, Path: rec.OriginalPath})
	}

	// Targets that were not just restored (or failed to be) were already
	// visible. Unresolvable targets have nothing to reveal.
	seen := make(map[metadata.NodeID]bool)
	for _, r := range resolutions {
		if r.Err != nil || seen[r.NodeID] {
			res.Unchanged++
			continue
		}
		seen[r.NodeID] = true
		if !restored[r.NodeID] && !failed[r.NodeID] {
			res.Unchanged++
		}
	}
	return nil
}

// recover repairs evidence of an interrupted earlier run before any new
// transition is attempted. It returns the recorded nodes it could not
// repair.
func (e *Engine) recover(t *tree.Tree, now time.Time, res *Result) (map[metadata.NodeID]bool, error) {
	conflicts := make(map[metadata.NodeID]bool)
	for _, rec := range e.store.Records() {
		hidden, herr := mover.Exists(rec.HiddenPath)
		orig, oerr := mover.Exists(rec.OriginalPath)
		if err := errors.Join(herr, oerr); err != nil {
			conflicts[rec.NodeID] = true
			e.failTarget(res, rec.Target, rec.NodeID, &mover.MoveError{Src: rec.HiddenPath, Dst: rec.OriginalPath, Err: err})
			continue
		}

		switch {
		case hidden && !orig:
			// consistent
		case !hidden && orig:
			// An unlock rename finished but the record removal did not.
			if err := e.store.Delete(rec.NodeID); err != nil {
				return conflicts, fmt.Errorf("remove stale lock record for %s: %w", rec.NodeID, err)
			}
			res.Recovered++
			e.logger.Warn("dropped record of already restored node", zap.String("node_id", string(rec.NodeID)), zap.String("path", rec.OriginalPath))
			e.emit(journal.Entry{Action: journal.ActionForget, NodeID: string(rec.NodeID), Target: rec.Target, Path: rec.OriginalPath})
		case hidden && orig:
			conflicts[rec.NodeID] = true
			e.failTarget(res, rec.Target, rec.NodeID, &mover.MoveError{
				Src: rec.HiddenPath, Dst: rec.OriginalPath, Err: fmt.Errorf("both hidden and original present: %w", mover.ErrDestinationExists),
			})
		default:
			conflicts[rec.NodeID] = true
			e.failTarget(res, rec.Target, rec.NodeID, &mover.MoveError{
				Src: rec.HiddenPath, Dst: rec.OriginalPath, Err: errors.New("neither hidden nor original present"),
			})
		}
	}

	entries, err := os.ReadDir(e.cfg.HiddenDir)
	if errors.Is(err, os.ErrNotExist) {
		return conflicts, nil
	}
	if err != nil {
		e.failTarget(res, "", "", &mover.MoveError{Src: e.cfg.HiddenDir, Err: err})
		return conflicts, nil
	}
	for _, entry := range entries {
		name := entry.Name()
		if strings.HasPrefix(name, ".") {
			continue
		}
		id := metadata.NodeID(name)
		if e.store.Has(id) {
			continue
		}
		hiddenPath := e.HiddenPath(id)
		original := filepath.Join(e.cfg.StoreDir, name)
		if n, err := t.Node(id); err == nil && n.BackingPath != "" {
			original = n.BackingPath
		}
		target := t.FullPath(id)

		exists, err := mover.Exists(original)
		if err != nil {
			e.failTarget(res, target, id, &mover.MoveError{Src: hiddenPath, Dst: original, Err: err})
			continue
		}
		if exists {
			conflicts[id] = true
			e.failTarget(res, target, id, &mover.MoveError{
				Src: hiddenPath, Dst: original, Err: fmt.Errorf("unrecorded hidden entry: %w", mover.ErrDestinationExists),
			})
			continue
		}

		// A lock rename finished but its record was never written.
		rec := lockstate.Record{NodeID: id, OriginalPath: original, HiddenPath: hiddenPath, LockedAt: now, Target: target}
		if err := e.store.Put(rec); err != nil {
			return conflicts, fmt.Errorf("adopt hidden entry %s: %w", id, err)
		}
		res.Recovered++
		e.logger.Warn("adopted unrecorded hidden entry", zap.String("node_id", name), zap.String("path", hiddenPath))
		e.emit(journal.Entry{Action: journal.ActionAdopt, NodeID: name, Target: target, Path: hiddenPath})
	}
	return conflicts, nil
}

func (e *Engine) failTarget(res *Result, target string, id metadata.NodeID, err error) {
	res.fail(target, id, err)
	e.logger.Warn("target failed",
		zap.String("target", target),
		zap.String("node_id", string(id)),
		zap.String("kind", string(KindOf(err))),
		zap.Error(err),
	)
	e.emit(journal.Entry{Action: journal.ActionFail, NodeID: string(id), Target: target, Detail: err.Error()})
}

func (e *Engine) emit(entry journal.Entry) {
	if e.sink == nil {
		return
	}
	entry.RunID = e.runID
	if err := e.sink.Append(entry); err != nil {
		e.logger.Warn("journal append failed", zap.Error(err))
	}
}
