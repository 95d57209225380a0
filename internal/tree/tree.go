// Package tree holds the document hierarchy as an arena: nodes live in a
// slice, an index maps NodeID to arena slot, and a children index is built
// once during construction. A Tree is read-only after Build.
package tree

import (
	"errors"
	"sort"
	"strings"

	"github.com/RoaringBitmap/roaring"
	"github.com/agentic-research/booklocker/internal/metadata"
)

// ErrNotFound is returned when a node id is not in the tree.
var ErrNotFound = errors.New("node not found")

// RootID addresses the virtual root that holds all top-level nodes.
const RootID metadata.NodeID = ""

const noParent = -1

// Node is one document or folder.
type Node struct {
	ID          metadata.NodeID
	Parent      metadata.NodeID // RootID for top-level nodes and orphans
	Name        string
	Kind        metadata.Kind
	BackingPath string

	// Orphan is set when the recorded parent was missing or formed a cycle.
	Orphan bool
}

// IsFolder reports whether the node is a folder.
func (n *Node) IsFolder() bool { return n.Kind == metadata.Folder }

// Tree is the document hierarchy.
type Tree struct {
	nodes    []Node
	parent   []int32 // arena slot of the parent, noParent for top level
	index    map[metadata.NodeID]uint32
	children map[int32][]uint32 // parent slot (noParent for root) -> child slots
}

// Build assembles a tree from descriptors in a single pass over the input.
// Duplicate ids keep the first descriptor. A parent that is missing from the
// input, or that leads back into a cycle, turns the node into a top-level
// orphan instead of failing the build.
func Build(descs []metadata.Descriptor) *Tree {
	t := &Tree{
		nodes:    make([]Node, 0, len(descs)),
		parent:   make([]int32, 0, len(descs)),
		index:    make(map[metadata.NodeID]uint32, len(descs)),
		children: make(map[int32][]uint32),
	}

	for _, d := range descs {
		if d.ID == RootID {
			continue
		}
		if _, dup := t.index[d.ID]; dup {
			continue
		}
		t.index[d.ID] = uint32(len(t.nodes))
		t.nodes = append(t.nodes, Node{
			ID:          d.ID,
			Parent:      d.Parent,
			Name:        d.Name,
			Kind:        d.Kind,
			BackingPath: d.BackingPath,
		})
		t.parent = append(t.parent, noParent)
	}

	for slot := range t.nodes {
		n := &t.nodes[slot]
		if n.Parent == RootID {
			continue
		}
		p, ok := t.index[n.Parent]
		if !ok {
			n.Parent = RootID
			n.Orphan = true
			continue
		}
		t.parent[slot] = int32(p)
	}

	t.breakCycles()

	for slot := range t.nodes {
		p := t.parent[slot]
		t.children[p] = append(t.children[p], uint32(slot))
	}
	for _, kids := range t.children {
		sort.Slice(kids, func(i, j int) bool {
			a, b := &t.nodes[kids[i]], &t.nodes[kids[j]]
			if a.Name != b.Name {
				return a.Name < b.Name
			}
			return a.ID < b.ID
		})
	}
	return t
}

// breakCycles walks every parent chain and re-roots the first node, in id
// order, of any chain that loops back on itself.
func (t *Tree) breakCycles() {
	const (
		unvisited = iota
		inProgress
		done
	)
	state := make([]uint8, len(t.nodes))

	order := make([]int, len(t.nodes))
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(i, j int) bool { return t.nodes[order[i]].ID < t.nodes[order[j]].ID })

	for _, start := range order {
		if state[start] != unvisited {
			continue
		}
		var chain []int
		cur := start
		for cur != noParent && state[cur] == unvisited {
			state[cur] = inProgress
			chain = append(chain, cur)
			cur = int(t.parent[cur])
		}
		if cur != noParent && state[cur] == inProgress {
			// cur is on the chain we just walked: a cycle. Detach the
			// member with the smallest id.
			victim := cur
			for i := len(chain) - 1; i >= 0; i-- {
				if t.nodes[chain[i]].ID < t.nodes[victim].ID {
					victim = chain[i]
				}
				if chain[i] == cur {
					break
				}
			}
			t.parent[victim] = noParent
			t.nodes[victim].Parent = RootID
			t.nodes[victim].Orphan = true
		}
		for _, c := range chain {
			state[c] = done
		}
	}
}

// Len returns the number of nodes.
func (t *Tree) Len() int { return len(t.nodes) }

// Node returns the node with the given id.
func (t *Tree) Node(id metadata.NodeID) (*Node, error) {
	slot, ok := t.index[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &t.nodes[slot], nil
}

// ChildrenOf returns the children of id ordered by name, then id.
// ChildrenOf(RootID) lists top-level nodes.
func (t *Tree) ChildrenOf(id metadata.NodeID) []metadata.NodeID {
	p := int32(noParent)
	if id != RootID {
		slot, ok := t.index[id]
		if !ok {
			return nil
		}
		p = int32(slot)
	}
	kids := t.children[p]
	out := make([]metadata.NodeID, len(kids))
	for i, k := range kids {
		out[i] = t.nodes[k].ID
	}
	return out
}

// FullPath returns the slash-separated names from the top level down to id.
// It returns "" for unknown ids.
func (t *Tree) FullPath(id metadata.NodeID) string {
	slot, ok := t.index[id]
	if !ok {
		return ""
	}
	var parts []string
	for cur := int32(slot); cur != noParent; cur = t.parent[cur] {
		parts = append(parts, t.nodes[cur].Name)
	}
	for i, j := 0, len(parts)-1; i < j; i, j = i+1, j-1 {
		parts[i], parts[j] = parts[j], parts[i]
	}
	return strings.Join(parts, "/")
}

// Resolve walks path segment by segment using exact, case-sensitive names.
// When several siblings share a name, a single folder among them wins;
// otherwise the segment does not resolve.
func (t *Tree) Resolve(path string) (metadata.NodeID, bool) {
	segments := SplitPath(path)
	if len(segments) == 0 {
		return RootID, false
	}
	cur := RootID
	for _, seg := range segments {
		var named, folders []metadata.NodeID
		for _, child := range t.ChildrenOf(cur) {
			n, _ := t.Node(child)
			if n.Name != seg {
				continue
			}
			named = append(named, child)
			if n.IsFolder() {
				folders = append(folders, child)
			}
		}
		switch {
		case len(named) == 1:
			cur = named[0]
		case len(folders) == 1:
			cur = folders[0]
		default:
			return RootID, false
		}
	}
	return cur, true
}

// Subtree returns the arena slots of id and all of its descendants.
func (t *Tree) Subtree(id metadata.NodeID) *roaring.Bitmap {
	bm := roaring.New()
	slot, ok := t.index[id]
	if !ok {
		return bm
	}
	stack := []uint32{slot}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		bm.Add(cur)
		stack = append(stack, t.children[int32(cur)]...)
	}
	return bm
}

// Documents counts the documents among the slots in bm.
func (t *Tree) Documents(bm *roaring.Bitmap) int {
	count := 0
	it := bm.Iterator()
	for it.HasNext() {
		slot := it.Next()
		if int(slot) < len(t.nodes) && t.nodes[slot].Kind == metadata.Document {
			count++
		}
	}
	return count
}

// Covered returns the union of the subtrees of ids. Overlapping subtrees,
// such as a folder and one of its descendants, are counted once.
func (t *Tree) Covered(ids ...metadata.NodeID) *roaring.Bitmap {
	bm := roaring.New()
	for _, id := range ids {
		bm.Or(t.Subtree(id))
	}
	return bm
}

// SplitPath splits a slash-separated path into its non-empty segments.
func SplitPath(path string) []string {
	raw := strings.Split(path, "/")
	out := raw[:0]
	for _, s := range raw {
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}
