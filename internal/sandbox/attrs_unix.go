//go:build !windows

package sandbox

import "os"

// makeWritable grants the owner write permission, and for directories
// read and search permission as well, so the entry and its children can
// be removed.
func makeWritable(p string, isDir bool) error {
	info, err := os.Lstat(p)
	if err != nil {
		return err
	}
	mode := info.Mode().Perm()
	want := mode | 0o200
	if isDir {
		want |= 0o700
	}
	if want == mode {
		return nil
	}
	return os.Chmod(p, want)
}
