// Package mover relocates a node's backing directory with a single
// directory-entry rename. It never copies, never deletes, and never
// overwrites an existing destination.
package mover

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

var (
	// ErrDestinationExists is returned when the target path is taken.
	ErrDestinationExists = errors.New("destination exists")
	// ErrIO marks any other filesystem failure.
	ErrIO = errors.New("filesystem error")
)

// MoveError wraps a failed move. It matches ErrDestinationExists when the
// destination was taken, and ErrIO otherwise.
type MoveError struct {
	Src, Dst string
	Err      error
}

func (e *MoveError) Error() string {
	return fmt.Sprintf("move %s -> %s: %v", e.Src, e.Dst, e.Err)
}

func (e *MoveError) Unwrap() error { return e.Err }

func (e *MoveError) Is(target error) bool {
	return target == ErrIO && !errors.Is(e.Err, ErrDestinationExists)
}

// Mover relocates one directory.
type Mover interface {
	Move(src, dst string) error
}

// FSMover moves directories on the local filesystem.
type FSMover struct {
	// SkipSync disables fsync of the parent directories after a rename.
	SkipSync bool
}

// New returns an FSMover that fsyncs parent directories.
func New() *FSMover { return &FSMover{} }

// Move renames src to dst. dst's parent must already exist and dst itself
// must not. After a successful rename both parent directories are synced so
// the new entries survive power loss.
func (m *FSMover) Move(src, dst string) error {
	fail := func(err error) error { return &MoveError{Src: src, Dst: dst, Err: err} }

	if _, err := os.Lstat(src); err != nil {
		return fail(err)
	}
	parent := filepath.Dir(dst)
	info, err := os.Stat(parent)
	if err != nil {
		return fail(fmt.Errorf("destination parent: %w", err))
	}
	if !info.IsDir() {
		return fail(fmt.Errorf("destination parent %s is not a directory", parent))
	}

	if err := renameNoReplace(src, dst); err != nil {
		return fail(err)
	}

	if m.SkipSync {
		return nil
	}
	if err := syncDir(filepath.Dir(src)); err != nil {
		return fail(err)
	}
	if parent != filepath.Dir(src) {
		if err := syncDir(parent); err != nil {
			return fail(err)
		}
	}
	return nil
}

// renameChecked is the portable rename: it refuses an existing destination
// but the check and the rename are two separate calls.
func renameChecked(src, dst string) error {
	if _, err := os.Lstat(dst); err == nil {
		return ErrDestinationExists
	} else if !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return os.Rename(src, dst)
}

func syncDir(dir string) error {
	f, err := os.Open(dir)
	if err != nil {
		return fmt.Errorf("sync %s: %w", dir, err)
	}
	defer func() { _ = f.Close() }()
	if err := f.Sync(); err != nil {
		return fmt.Errorf("sync %s: %w", dir, err)
	}
	return nil
}

// Exists reports whether path names an existing entry. Errors other than
// not-exist are returned.
func Exists(path string) (bool, error) {
	_, err := os.Lstat(path)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return false, err
}
