// Package lockstate persists the set of currently hidden nodes. The record
// file is the only state that outlives a run, so every change is written to
// a temp file, synced, then renamed over the old one.
package lockstate

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"time"

	billy "github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/util"

	"github.com/agentic-research/booklocker/internal/atomicfile"
	"github.com/agentic-research/booklocker/internal/metadata"
)

// FileName is the record file inside the state directory.
const FileName = "locks.json"

const formatVersion = 1

// ErrUnsupportedVersion is returned for record files written by a newer
// format.
var ErrUnsupportedVersion = errors.New("unsupported lock file version")

// Record is one hidden node and how to restore it.
type Record struct {
	NodeID       metadata.NodeID `json:"node_id"`
	OriginalPath string          `json:"original_path"`
	HiddenPath   string          `json:"hidden_path"`
	LockedAt     time.Time       `json:"locked_at"`
	// Target is the configured path that selected the node. Empty for
	// records adopted during recovery.
	Target string `json:"target,omitempty"`
}

type file struct {
	Version int      `json:"version"`
	Records []Record `json:"records"`
}

// Store holds the records in memory and mirrors every change to disk.
type Store struct {
	fs      billy.Filesystem
	name    string
	records map[metadata.NodeID]Record
}

// Open loads the record file name from fs. A missing file is an empty store.
func Open(fs billy.Filesystem, name string) (*Store, error) {
	s := &Store{fs: fs, name: name, records: make(map[metadata.NodeID]Record)}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

// OpenDir opens FileName inside dir, creating dir if needed.
func OpenDir(dir string) (*Store, error) {
	fs, err := atomicfile.Dir(dir)
	if err != nil {
		return nil, fmt.Errorf("open state dir: %w", err)
	}
	return Open(fs, FileName)
}

func (s *Store) load() error {
	data, err := util.ReadFile(s.fs, s.name)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read %s: %w", s.name, err)
	}

	var f file
	if err := json.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("parse %s: %w", s.name, err)
	}
	if f.Version != formatVersion {
		return fmt.Errorf("%s: version %d: %w", s.name, f.Version, ErrUnsupportedVersion)
	}
	for _, r := range f.Records {
		if r.NodeID == "" {
			return fmt.Errorf("%s: record without node id", s.name)
		}
		s.records[r.NodeID] = r
	}
	return nil
}

// Len returns the number of records.
func (s *Store) Len() int { return len(s.records) }

// Get returns the record for id.
func (s *Store) Get(id metadata.NodeID) (Record, bool) {
	r, ok := s.records[id]
	return r, ok
}

// Has reports whether id is recorded as hidden.
func (s *Store) Has(id metadata.NodeID) bool {
	_, ok := s.records[id]
	return ok
}

// Records returns all records, oldest lock first.
func (s *Store) Records() []Record {
	out := make([]Record, 0, len(s.records))
	for _, r := range s.records {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].LockedAt.Equal(out[j].LockedAt) {
			return out[i].LockedAt.Before(out[j].LockedAt)
		}
		return out[i].NodeID < out[j].NodeID
	})
	return out
}

// Put adds or replaces r and persists the store. On a write failure the
// in-memory state is left as it was.
func (s *Store) Put(r Record) error {
	if r.NodeID == "" {
		return errors.New("record without node id")
	}
	prev, had := s.records[r.NodeID]
	s.records[r.NodeID] = r
	if err := s.save(); err != nil {
		if had {
			s.records[r.NodeID] = prev
		} else {
			delete(s.records, r.NodeID)
		}
		return err
	}
	return nil
}

// Delete removes the record for id and persists the store. Deleting an
// unknown id is a no-op.
func (s *Store) Delete(id metadata.NodeID) error {
	prev, had := s.records[id]
	if !had {
		return nil
	}
	delete(s.records, id)
	if err := s.save(); err != nil {
		s.records[id] = prev
		return err
	}
	return nil
}

// save writes the whole store, sorted by node id.
func (s *Store) save() error {
	f := file{Version: formatVersion, Records: make([]Record, 0, len(s.records))}
	for _, r := range s.records {
		f.Records = append(f.Records, r)
	}
	sort.Slice(f.Records, func(i, j int) bool { return f.Records[i].NodeID < f.Records[j].NodeID })

	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return fmt.Errorf("encode records: %w", err)
	}
	data = append(data, '\n')
	return atomicfile.WriteFile(s.fs, s.name, data)
}
