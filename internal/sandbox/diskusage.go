package sandbox

// DiskUsage describes the filesystem holding the root, in bytes.
type DiskUsage struct {
	Total     uint64
	Free      uint64
	Available uint64
}
