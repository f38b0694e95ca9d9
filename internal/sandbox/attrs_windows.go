//go:build windows

package sandbox

import "golang.org/x/sys/windows"

// makeWritable clears FILE_ATTRIBUTE_READONLY, which otherwise makes
// DeleteFile and RemoveDirectory fail with access denied.
func makeWritable(p string, isDir bool) error {
	name, err := windows.UTF16PtrFromString(p)
	if err != nil {
		return err
	}
	attrs, err := windows.GetFileAttributes(name)
	if err != nil {
		return err
	}
	if attrs&windows.FILE_ATTRIBUTE_READONLY == 0 {
		return nil
	}
	return windows.SetFileAttributes(name, attrs&^windows.FILE_ATTRIBUTE_READONLY)
}
