package engine

import (
	"errors"
	"fmt"

	"github.com/agentic-research/booklocker/internal/metadata"
	"github.com/agentic-research/booklocker/internal/mover"
	"github.com/agentic-research/booklocker/internal/resolve"
	"github.com/agentic-research/booklocker/internal/schedule"
)

// FailureKind is a stable name for why one target failed.
type FailureKind string

const (
	KindPathNotFound      FailureKind = "path_not_found"
	KindDestinationExists FailureKind = "destination_exists"
	KindIO                FailureKind = "io_error"
)

// KindOf classifies err.
func KindOf(err error) FailureKind {
	switch {
	case errors.Is(err, resolve.ErrPathNotFound):
		return KindPathNotFound
	case errors.Is(err, mover.ErrDestinationExists):
		return KindDestinationExists
	default:
		return KindIO
	}
}

// Failure is one target left in its previous state.
type Failure struct {
	Target string          `json:"target,omitempty" yaml:"target,omitempty"`
	NodeID metadata.NodeID `json:"node_id,omitempty" yaml:"node_id,omitempty"`
	Kind   FailureKind     `json:"kind" yaml:"kind"`
	Err    error           `json:"-" yaml:"-"`
	Reason string          `json:"reason" yaml:"reason"`
}

func (f Failure) Error() string {
	name := f.Target
	if name == "" {
		name = string(f.NodeID)
	}
	return fmt.Sprintf("%s: %s: %v", name, f.Kind, f.Err)
}

// Result summarizes one reconciliation.
type Result struct {
	RunID     string         `json:"run_id" yaml:"run_id"`
	Desired   schedule.State `json:"-" yaml:"-"`
	State     string         `json:"desired" yaml:"desired"`
	Locked    int            `json:"locked" yaml:"locked"`
	Unlocked  int            `json:"unlocked" yaml:"unlocked"`
	Unchanged int            `json:"unchanged" yaml:"unchanged"`
	Failed    int            `json:"failed" yaml:"failed"`
	Recovered int            `json:"recovered" yaml:"recovered"`
	Failures  []Failure      `json:"failures,omitempty" yaml:"failures,omitempty"`
	// Hidden is the number of lock records left after the run.
	Hidden int `json:"hidden" yaml:"hidden"`
}

func (r *Result) fail(target string, id metadata.NodeID, err error) {
	r.Failures = append(r.Failures, Failure{
		Target: target,
		NodeID: id,
		Kind:   KindOf(err),
		Err:    err,
		Reason: err.Error(),
	})
	r.Failed = len(r.Failures)
}

// Changed reports whether the run moved anything or repaired state.
func (r *Result) Changed() bool {
	return r.Locked+r.Unlocked+r.Recovered > 0
}

func (r *Result) String() string {
	return fmt.Sprintf("desired=%s locked=%d unlocked=%d unchanged=%d failed=%d recovered=%d",
		r.State, r.Locked, r.Unlocked, r.Unchanged, r.Failed, r.Recovered)
}
