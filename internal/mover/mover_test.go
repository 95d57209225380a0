package mover

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// makeNode creates a backing directory holding one page file.
func makeNode(t *testing.T, dir, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "page.rm"), []byte(content), 0o644))
}

func TestMove_RelocatesWholeDirectory(t *testing.T) {
	root := t.TempDir()
	src := filepath.Join(root, "store", "abc")
	hidden := filepath.Join(root, "hidden")
	dst := filepath.Join(hidden, "abc")
	makeNode(t, src, "ink")
	require.NoError(t, os.MkdirAll(hidden, 0o755))

	require.NoError(t, New().Move(src, dst))

	_, err := os.Stat(src)
	assert.True(t, errors.Is(err, os.ErrNotExist), "source must be gone")
	data, err := os.ReadFile(filepath.Join(dst, "page.rm"))
	require.NoError(t, err)
	assert.Equal(t, "ink", string(data))

	// And back again.
	require.NoError(t, New().Move(dst, src))
	data, err = os.ReadFile(filepath.Join(src, "page.rm"))
	require.NoError(t, err)
	assert.Equal(t, "ink", string(data))
}

func TestMove_RefusesExistingDestination(t *testing.T) {
	root := t.TempDir()
	src := filepath.Join(root, "a")
	dst := filepath.Join(root, "b")
	makeNode(t, src, "mine")
	makeNode(t, dst, "theirs")

	err := New().Move(src, dst)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDestinationExists)
	assert.False(t, errors.Is(err, ErrIO))

	// Neither side was touched.
	data, err := os.ReadFile(filepath.Join(src, "page.rm"))
	require.NoError(t, err)
	assert.Equal(t, "mine", string(data))
	data, err = os.ReadFile(filepath.Join(dst, "page.rm"))
	require.NoError(t, err)
	assert.Equal(t, "theirs", string(data))
}

func TestMove_RefusesEmptyExistingDestination(t *testing.T) {
	root := t.TempDir()
	src := filepath.Join(root, "a")
	dst := filepath.Join(root, "b")
	makeNode(t, src, "mine")
	require.NoError(t, os.Mkdir(dst, 0o755))

	err := New().Move(src, dst)
	assert.ErrorIs(t, err, ErrDestinationExists)
	assert.DirExists(t, src)
}

func TestMove_IOErrors(t *testing.T) {
	root := t.TempDir()
	makeNode(t, filepath.Join(root, "a"), "x")

	t.Run("missing source", func(t *testing.T) {
		err := New().Move(filepath.Join(root, "nope"), filepath.Join(root, "c"))
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrIO)
		assert.ErrorIs(t, err, os.ErrNotExist)
	})

	t.Run("missing destination parent", func(t *testing.T) {
		err := New().Move(filepath.Join(root, "a"), filepath.Join(root, "hidden", "a"))
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrIO)
		assert.DirExists(t, filepath.Join(root, "a"))
		assert.NoDirExists(t, filepath.Join(root, "hidden"))
	})

	t.Run("destination parent is a file", func(t *testing.T) {
		file := filepath.Join(root, "file")
		require.NoError(t, os.WriteFile(file, nil, 0o644))
		err := New().Move(filepath.Join(root, "a"), filepath.Join(file, "a"))
		assert.ErrorIs(t, err, ErrIO)
	})

	var me *MoveError
	err := New().Move(filepath.Join(root, "nope"), filepath.Join(root, "c"))
	require.ErrorAs(t, err, &me)
	assert.Equal(t, filepath.Join(root, "nope"), me.Src)
}

func TestRenameChecked(t *testing.T) {
	root := t.TempDir()
	src := filepath.Join(root, "a")
	makeNode(t, src, "x")
	makeNode(t, filepath.Join(root, "b"), "y")

	assert.ErrorIs(t, renameChecked(src, filepath.Join(root, "b")), ErrDestinationExists)
	require.NoError(t, renameChecked(src, filepath.Join(root, "c")))
	assert.DirExists(t, filepath.Join(root, "c"))
}

func TestMove_SkipSync(t *testing.T) {
	root := t.TempDir()
	makeNode(t, filepath.Join(root, "a"), "x")
	m := &FSMover{SkipSync: true}
	require.NoError(t, m.Move(filepath.Join(root, "a"), filepath.Join(root, "b")))
	assert.DirExists(t, filepath.Join(root, "b"))
}

func TestExists(t *testing.T) {
	root := t.TempDir()
	ok, err := Exists(root)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = Exists(filepath.Join(root, "missing"))
	require.NoError(t, err)
	assert.False(t, ok)
}
