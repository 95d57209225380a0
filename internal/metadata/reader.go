package metadata

import (
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	billy "github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/go-git/go-billy/v5/util"
)

// Reader scans a document store directory.
type Reader struct {
	fs   billy.Filesystem
	root string // OS path of the store, used to derive backing paths
}

// Scan is the outcome of reading a store.
type Scan struct {
	Descriptors []Descriptor
	// Warnings holds one *RecordError per record that could not be parsed.
	Warnings []error
	// Deleted counts records the host marked deleted.
	Deleted int
}

// NewReader reads records from fs. root is the OS path fs is rooted at.
func NewReader(fs billy.Filesystem, root string) *Reader {
	return &Reader{fs: fs, root: root}
}

// Open returns a Reader for the store directory at root.
func Open(root string) *Reader {
	return NewReader(osfs.New(root), root)
}

// Root returns the store directory.
func (r *Reader) Root() string { return r.root }

// BackingPath returns where the content of id lives.
func (r *Reader) BackingPath(id NodeID) string {
	return filepath.Join(r.root, string(id))
}

// validID reports whether id names a single entry inside the store, so that
// its backing path cannot escape it.
func validID(id NodeID) bool {
	s := string(id)
	return s != "." && s != ".." && filepath.Base(s) == s && !strings.ContainsAny(s, `/\`)
}

// Read parses every record in the store. A record that cannot be read or
// parsed is skipped and reported in Scan.Warnings; only failing to list the
// store itself is an error.
func (r *Reader) Read() (*Scan, error) {
	entries, err := r.fs.ReadDir("")
	if err != nil {
		return nil, fmt.Errorf("list store %s: %w", r.root, err)
	}

	scan := &Scan{}
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, RecordExt) {
			continue
		}
		id := NodeID(strings.TrimSuffix(name, RecordExt))
		if id == "" {
			continue
		}
		if !validID(id) {
			scan.Warnings = append(scan.Warnings, &RecordError{ID: id, Reason: "invalid id"})
			continue
		}

		data, err := util.ReadFile(r.fs, name)
		if err != nil {
			scan.Warnings = append(scan.Warnings, &RecordError{ID: id, Reason: "unreadable", Err: err})
			continue
		}

		desc, err := ParseRecord(id, data)
		if errors.Is(err, errDeleted) {
			scan.Deleted++
			continue
		}
		if err != nil {
			scan.Warnings = append(scan.Warnings, err)
			continue
		}
		desc.BackingPath = r.BackingPath(id)
		scan.Descriptors = append(scan.Descriptors, desc)
	}

	sort.Slice(scan.Descriptors, func(i, j int) bool {
		return scan.Descriptors[i].ID < scan.Descriptors[j].ID
	})
	return scan, nil
}
