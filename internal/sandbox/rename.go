package sandbox

import (
	"errors"
	"io/fs"
	"os"
)

// renameChecked is the fallback when the platform has no atomic
// no-replace rename. The existence probe and the rename are separate
// calls, so a concurrent create of newpath can still be replaced.
func renameChecked(oldpath, newpath string) error {
	if _, err := os.Lstat(newpath); err == nil {
		return &os.LinkError{Op: "rename", Old: oldpath, New: newpath, Err: fs.ErrExist}
	} else if !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return os.Rename(oldpath, newpath)
}
