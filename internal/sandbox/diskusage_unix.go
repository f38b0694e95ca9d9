//go:build linux || darwin

package sandbox

import "golang.org/x/sys/unix"

// Usage reports capacity of the filesystem containing the root.
func (r *Resolver) Usage() (DiskUsage, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(r.root, &st); err != nil {
		return DiskUsage{}, err
	}
	bsize := uint64(st.Bsize)
	return DiskUsage{
		Total:     uint64(st.Blocks) * bsize,
		Free:      uint64(st.Bfree) * bsize,
		Available: uint64(st.Bavail) * bsize,
	}, nil
}
