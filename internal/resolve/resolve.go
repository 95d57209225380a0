// Package resolve maps user-entered folder paths like "Articles/hobby" to a
// node in the document tree, tolerating small name drift in each segment.
package resolve

import (
	"errors"
	"fmt"
	"strings"

	"github.com/agentic-research/booklocker/internal/metadata"
	"github.com/agentic-research/booklocker/internal/tree"
)

// ErrPathNotFound is matched by every *PathError.
var ErrPathNotFound = errors.New("path not found")

const (
	// DefaultThreshold is the score a fuzzy candidate must exceed.
	DefaultThreshold = 0.7
	// DefaultMargin is how far ahead of the runner-up the best candidate
	// must be.
	DefaultMargin = 0.05
)

// PathError reports where resolution of Path stopped.
type PathError struct {
	Path string
	// Remainder is the failing segment and everything after it.
	Remainder string
	// Parent is the last node resolved before the failure (tree.RootID at
	// the top level).
	Parent metadata.NodeID
	Reason string
}

func (e *PathError) Error() string {
	if e.Remainder == "" {
		return fmt.Sprintf("resolve %q: %s", e.Path, e.Reason)
	}
	return fmt.Sprintf("resolve %q: %s at %q", e.Path, e.Reason, e.Remainder)
}

func (e *PathError) Is(target error) bool { return target == ErrPathNotFound }

// Resolver resolves paths against one tree.
type Resolver struct {
	tree      *tree.Tree
	scorer    Scorer
	threshold float64
	margin    float64
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithScorer replaces the default Levenshtein scorer.
func WithScorer(s Scorer) Option {
	return func(r *Resolver) { r.scorer = s }
}

// WithThreshold overrides DefaultThreshold and DefaultMargin.
func WithThreshold(threshold, margin float64) Option {
	return func(r *Resolver) {
		r.threshold = threshold
		r.margin = margin
	}
}

// New returns a Resolver over t.
func New(t *tree.Tree, opts ...Option) *Resolver {
	r := &Resolver{
		tree:      t,
		scorer:    LevenshteinScorer{},
		threshold: DefaultThreshold,
		margin:    DefaultMargin,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve returns the folder that path names. Each segment prefers a single exact
// match among the current node's child folders, then falls back to the best
// fuzzy candidate when it clears the threshold and no rival is within the
// margin. Resolution never guesses between near-equal candidates.
func (r *Resolver) Resolve(path string) (metadata.NodeID, error) {
	segments := tree.SplitPath(path)
	if len(segments) == 0 {
		return tree.RootID, &PathError{Path: path, Parent: tree.RootID, Reason: "empty path"}
	}

	cur := tree.RootID
	for i, seg := range segments {
		next, reason := r.step(cur, seg)
		if reason != "" {
			return tree.RootID, &PathError{
				Path:      path,
				Remainder: strings.Join(segments[i:], "/"),
				Parent:    cur,
				Reason:    reason,
			}
		}
		cur = next
	}
	return cur, nil
}

// step picks the folder among parent's children matching seg, or returns a
// failure reason. Documents never match, so a notebook sharing a folder's
// name does not make the folder ambiguous.
func (r *Resolver) step(parent metadata.NodeID, seg string) (metadata.NodeID, string) {
	var folders []*tree.Node
	for _, id := range r.tree.ChildrenOf(parent) {
		if n, _ := r.tree.Node(id); n.IsFolder() {
			folders = append(folders, n)
		}
	}
	if len(folders) == 0 {
		return tree.RootID, "no folders"
	}

	var exact []metadata.NodeID
	for _, n := range folders {
		if n.Name == seg {
			exact = append(exact, n.ID)
		}
	}
	switch len(exact) {
	case 1:
		return exact[0], ""
	case 0:
	default:
		return tree.RootID, fmt.Sprintf("%d folders named %q", len(exact), seg)
	}

	var (
		best              metadata.NodeID
		bestScore, second = -1.0, -1.0
	)
	for _, n := range folders {
		sc := r.scorer.Score(seg, n.Name)
		switch {
		case sc > bestScore:
			second = bestScore
			best, bestScore = n.ID, sc
		case sc > second:
			second = sc
		}
	}
	if bestScore <= r.threshold {
		return tree.RootID, "no match"
	}
	if second >= 0 && bestScore-second <= r.margin {
		return tree.RootID, "ambiguous match"
	}
	return best, ""
}

// Suggestions lists names near the failing segment of err, for hints. It
// returns nil when err is not a *PathError.
func (r *Resolver) Suggestions(err error, n int) []string {
	var pe *PathError
	if !errors.As(err, &pe) || pe.Remainder == "" {
		return nil
	}
	seg := tree.SplitPath(pe.Remainder)[0]
	var names []string
	for _, id := range r.tree.ChildrenOf(pe.Parent) {
		if node, _ := r.tree.Node(id); node.IsFolder() {
			names = append(names, node.Name)
		}
	}
	return suggest(r.scorer, seg, names, n)
}
