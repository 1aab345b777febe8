//go:build linux

package util

import "golang.org/x/sys/unix"

// TotalMemoryBytes returns the total physical memory, or 0 if unknown.
func TotalMemoryBytes() uint64 {
	var info unix.Sysinfo_t
	if err := unix.Sysinfo(&info); err != nil {
		return 0
	}
	return uint64(info.Totalram) * uint64(info.Unit)
}

// AvailableMemoryBytes returns free plus buffer memory, or 0 if unknown.
func AvailableMemoryBytes() uint64 {
	var info unix.Sysinfo_t
	if err := unix.Sysinfo(&info); err != nil {
		return 0
	}
	return (uint64(info.Freeram) + uint64(info.Bufferram)) * uint64(info.Unit)
}
