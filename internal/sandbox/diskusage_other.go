//go:build !linux && !darwin && !windows

package sandbox

import "errors"

// Usage is not implemented on this platform.
func (r *Resolver) Usage() (DiskUsage, error) {
	return DiskUsage{}, errors.New("disk usage not supported on this platform")
}
