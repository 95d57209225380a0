package metadata

import (
	"errors"
	"path/filepath"
	"testing"

	billy "github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/util"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const paperSelection = `
{
    "deleted": false,
    "lastModified": "1633603894527",
    "lastOpened": "1572004477560",
    "lastOpenedPage": 1,
    "metadatamodified": false,
    "modified": false,
    "parent": "95318cc7-f844-416f-963a-cf277c83f10c",
    "pinned": false,
    "synced": true,
    "type": "DocumentType",
    "version": 1,
    "visibleName": "Paper selection"
}
`

func writeRecord(t *testing.T, fs billy.Filesystem, name, body string) {
	t.Helper()
	require.NoError(t, util.WriteFile(fs, name, []byte(body), 0o644))
}

func TestParseRecord_Document(t *testing.T) {
	desc, err := ParseRecord("doc-1", []byte(paperSelection))
	require.NoError(t, err)

	assert.Equal(t, NodeID("doc-1"), desc.ID)
	assert.Equal(t, NodeID("95318cc7-f844-416f-963a-cf277c83f10c"), desc.Parent)
	assert.Equal(t, "Paper selection", desc.Name)
	assert.Equal(t, Document, desc.Kind)
}

func TestParseRecord_FolderAtRoot(t *testing.T) {
	desc, err := ParseRecord("f", []byte(`{"parent": "", "type": "CollectionType", "visibleName": "Books"}`))
	require.NoError(t, err)
	assert.Equal(t, Folder, desc.Kind)
	assert.Empty(t, desc.Parent)
}

func TestParseRecord_Corrupt(t *testing.T) {
	cases := map[string]string{
		"invalid json":    `{"visibleName": `,
		"not an object":   `["a", "b"]`,
		"missing name":    `{"type": "CollectionType"}`,
		"numeric name":    `{"type": "CollectionType", "visibleName": 3}`,
		"missing type":    `{"visibleName": "x"}`,
		"unknown type":    `{"type": "TemplateType", "visibleName": "x"}`,
		"parent not text": `{"type": "DocumentType", "visibleName": "x", "parent": 12}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseRecord("bad", []byte(body))
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrCorruptRecord), "want ErrCorruptRecord, got %v", err)
		})
	}
}

func TestParseRecord_SelfParentIsTopLevel(t *testing.T) {
	desc, err := ParseRecord("loop", []byte(`{"type": "CollectionType", "visibleName": "x", "parent": "loop"}`))
	require.NoError(t, err)
	assert.Empty(t, desc.Parent)
}

func TestReader_SkipsCorruptRecords(t *testing.T) {
	fs := memfs.New()
	writeRecord(t, fs, "b.metadata", `{"type": "CollectionType", "visibleName": "Books", "parent": ""}`)
	writeRecord(t, fs, "a.metadata", `{"type": "DocumentType", "visibleName": "Dune", "parent": "b"}`)
	writeRecord(t, fs, "broken.metadata", `{"visibleName": "half`)
	writeRecord(t, fs, "gone.metadata", `{"type": "DocumentType", "visibleName": "Old", "deleted": true}`)
	writeRecord(t, fs, "a.content", `{}`)
	require.NoError(t, fs.MkdirAll("a", 0o755))

	scan, err := NewReader(fs, "/store").Read()
	require.NoError(t, err)

	require.Len(t, scan.Descriptors, 2)
	assert.Equal(t, NodeID("a"), scan.Descriptors[0].ID)
	assert.Equal(t, NodeID("b"), scan.Descriptors[1].ID)
	assert.Equal(t, filepath.Join("/store", "a"), scan.Descriptors[0].BackingPath)

	require.Len(t, scan.Warnings, 1)
	assert.ErrorIs(t, scan.Warnings[0], ErrCorruptRecord)
	var recErr *RecordError
	require.ErrorAs(t, scan.Warnings[0], &recErr)
	assert.Equal(t, NodeID("broken"), recErr.ID)

	assert.Equal(t, 1, scan.Deleted)
}

func TestReader_RejectsIDsOutsideStore(t *testing.T) {
	fs := memfs.New()
	writeRecord(t, fs, "b.metadata", `{"type": "CollectionType", "visibleName": "Books", "parent": ""}`)
	writeRecord(t, fs, "..metadata", `{"type": "CollectionType", "visibleName": "Root", "parent": ""}`)
	writeRecord(t, fs, "...metadata", `{"type": "CollectionType", "visibleName": "Up", "parent": ""}`)

	scan, err := NewReader(fs, "/store").Read()
	require.NoError(t, err)

	require.Len(t, scan.Descriptors, 1)
	assert.Equal(t, NodeID("b"), scan.Descriptors[0].ID)

	require.Len(t, scan.Warnings, 2)
	var ids []NodeID
	for _, w := range scan.Warnings {
		assert.ErrorIs(t, w, ErrCorruptRecord)
		var recErr *RecordError
		require.ErrorAs(t, w, &recErr)
		assert.Equal(t, "invalid id", recErr.Reason)
		ids = append(ids, recErr.ID)
	}
	assert.ElementsMatch(t, []NodeID{".", ".."}, ids)
}

func TestValidID(t *testing.T) {
	assert.True(t, validID("8a4f0c2e-1d7b-4d2f-9a55-0b1c2d3e4f50"))
	assert.True(t, validID("a.b"))
	assert.False(t, validID("."))
	assert.False(t, validID(".."))
	assert.False(t, validID(`a\b`))
}

func TestReader_MissingStore(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "nope")).Read()
	require.Error(t, err)
}
