//go:build windows

package sandbox

import (
	"os"

	"golang.org/x/sys/windows"
)

// renameNoReplace calls MoveFileEx without MOVEFILE_REPLACE_EXISTING,
// which fails with ERROR_ALREADY_EXISTS when newpath is taken.
func renameNoReplace(oldpath, newpath string) error {
	from, err := windows.UTF16PtrFromString(oldpath)
	if err != nil {
		return err
	}
	to, err := windows.UTF16PtrFromString(newpath)
	if err != nil {
		return err
	}
	if err := windows.MoveFileEx(from, to, 0); err != nil {
		return &os.LinkError{Op: "rename", Old: oldpath, New: newpath, Err: err}
	}
	return nil
}
