//go:build !linux

package util

// TotalMemoryBytes is not implemented on this platform.
func TotalMemoryBytes() uint64 { return 0 }

// AvailableMemoryBytes is not implemented on this platform.
func AvailableMemoryBytes() uint64 { return 0 }
