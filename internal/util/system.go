package util

import (
	"os"
	"runtime"
)

// SystemInfo describes the host the pipeline runs on.
type SystemInfo struct {
	Hostname     string
	LogicalCores int
	TotalMemory  uint64
}

// GetSystemInfo returns host information for reporting.
func GetSystemInfo() SystemInfo {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}
	return SystemInfo{
		Hostname:     hostname,
		LogicalCores: runtime.NumCPU(),
		TotalMemory:  TotalMemoryBytes(),
	}
}
