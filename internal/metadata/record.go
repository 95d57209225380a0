// Package metadata reads the host application's document store: one
// `<id>.metadata` JSON record per document or folder.
package metadata

import (
	"errors"
	"fmt"

	"github.com/ohler55/ojg/jp"
	"github.com/ohler55/ojg/oj"
)

// RecordExt is the file extension of a per-node metadata record.
const RecordExt = ".metadata"

// ErrCorruptRecord marks a record that could not be turned into a Descriptor.
var ErrCorruptRecord = errors.New("corrupt metadata record")

// NodeID is the host-assigned identifier of a document or folder.
type NodeID string

// Kind distinguishes folders from documents.
type Kind int

const (
	Document Kind = iota
	Folder
)

func (k Kind) String() string {
	switch k {
	case Folder:
		return "folder"
	case Document:
		return "document"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Descriptor is one parsed metadata record.
type Descriptor struct {
	ID          NodeID
	Parent      NodeID // empty for top-level nodes
	Name        string
	Kind        Kind
	BackingPath string // directory holding the node's content
}

// RecordError describes why a single record was skipped.
// It matches ErrCorruptRecord with errors.Is.
type RecordError struct {
	ID     NodeID
	Reason string
	Err    error
}

func (e *RecordError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("record %s: %s: %v", e.ID, e.Reason, e.Err)
	}
	return fmt.Sprintf("record %s: %s", e.ID, e.Reason)
}

func (e *RecordError) Is(target error) bool { return target == ErrCorruptRecord }

func (e *RecordError) Unwrap() error { return e.Err }

var (
	nameExpr    = jp.MustParseString("$.visibleName")
	typeExpr    = jp.MustParseString("$.type")
	parentExpr  = jp.MustParseString("$.parent")
	deletedExpr = jp.MustParseString("$.deleted")
)

// errDeleted is returned by ParseRecord for records the host marked deleted.
var errDeleted = errors.New("record marked deleted")

// ParseRecord decodes the JSON body of the record for id. BackingPath is left
// empty; the Reader fills it in.
func ParseRecord(id NodeID, data []byte) (Descriptor, error) {
	doc, err := oj.Parse(data)
	if err != nil {
		return Descriptor{}, &RecordError{ID: id, Reason: "invalid json", Err: err}
	}
	if _, ok := doc.(map[string]any); !ok {
		return Descriptor{}, &RecordError{ID: id, Reason: "not a json object"}
	}

	if deleted, ok := deletedExpr.First(doc).(bool); ok && deleted {
		return Descriptor{}, errDeleted
	}

	name, ok := nameExpr.First(doc).(string)
	if !ok {
		return Descriptor{}, &RecordError{ID: id, Reason: "missing visibleName"}
	}

	var kind Kind
	switch t, _ := typeExpr.First(doc).(string); t {
	case "CollectionType":
		kind = Folder
	case "DocumentType":
		kind = Document
	case "":
		return Descriptor{}, &RecordError{ID: id, Reason: "missing type"}
	default:
		return Descriptor{}, &RecordError{ID: id, Reason: fmt.Sprintf("unexpected type %q", t)}
	}

	var parent NodeID
	switch p := parentExpr.First(doc).(type) {
	case nil:
	case string:
		parent = NodeID(p)
	default:
		return Descriptor{}, &RecordError{ID: id, Reason: fmt.Sprintf("parent is %T, want string", p)}
	}
	if parent == id {
		// A self-parented record would be its own cycle; treat it as top level.
		parent = ""
	}

	return Descriptor{
		ID:     id,
		Parent: parent,
		Name:   name,
		Kind:   kind,
	}, nil
}
