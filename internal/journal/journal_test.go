package journal

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTemp(t *testing.T) *DB {
	t.Helper()
	j, err := Open(filepath.Join(t.TempDir(), FileName))
	require.NoError(t, err)
	t.Cleanup(func() { _ = j.Close() })
	return j
}

func TestAppendAndRecent(t *testing.T) {
	j := openTemp(t)

	base := time.Date(2024, 3, 14, 23, 5, 0, 0, time.UTC)
	require.NoError(t, j.Append(Entry{RunID: "r1", At: base, Action: ActionLock, NodeID: "books", Target: "Books", Path: "/hidden/books"}))
	require.NoError(t, j.Append(Entry{RunID: "r1", At: base, Action: ActionSummary, Detail: "locked=1"}))
	require.NoError(t, j.Append(Entry{RunID: "r2", Action: ActionUnlock, NodeID: "books"}))

	recent, err := j.Recent(2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, ActionUnlock, recent[0].Action)
	assert.False(t, recent[0].At.IsZero())
	assert.Equal(t, ActionSummary, recent[1].Action)

	run, err := j.Run("r1")
	require.NoError(t, err)
	require.Len(t, run, 2)
	assert.Equal(t, "Books", run[0].Target)
	assert.True(t, run[0].At.Equal(base))
}

func TestReopenKeepsHistory(t *testing.T) {
	path := filepath.Join(t.TempDir(), FileName)
	j, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, j.Append(Entry{RunID: "r1", Action: ActionAdopt, NodeID: "n"}))
	require.NoError(t, j.Close())

	j, err = Open(path)
	require.NoError(t, err)
	defer func() { _ = j.Close() }()

	recent, err := j.Recent(0)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, ActionAdopt, recent[0].Action)
}

func TestPrune(t *testing.T) {
	j := openTemp(t)
	old := time.Now().Add(-30 * 24 * time.Hour)
	require.NoError(t, j.Append(Entry{RunID: "old", At: old, Action: ActionLock}))
	require.NoError(t, j.Append(Entry{RunID: "new", Action: ActionLock}))

	n, err := j.Prune(time.Now().Add(-24 * time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	recent, err := j.Recent(10)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, "new", recent[0].RunID)
}
