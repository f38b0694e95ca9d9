//go:build !linux && !windows

package sandbox

func renameNoReplace(oldpath, newpath string) error {
	return renameChecked(oldpath, newpath)
}
