//go:build !linux

package mover

func renameNoReplace(src, dst string) error {
	return renameChecked(src, dst)
}
