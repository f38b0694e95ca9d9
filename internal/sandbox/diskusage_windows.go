//go:build windows

package sandbox

import "golang.org/x/sys/windows"

// Usage reports capacity of the volume containing the root.
func (r *Resolver) Usage() (DiskUsage, error) {
	dir, err := windows.UTF16PtrFromString(r.root)
	if err != nil {
		return DiskUsage{}, err
	}
	var avail, total, free uint64
	if err := windows.GetDiskFreeSpaceEx(dir, &avail, &total, &free); err != nil {
		return DiskUsage{}, err
	}
	return DiskUsage{Total: total, Free: free, Available: avail}, nil
}
