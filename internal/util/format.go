package util

import "fmt"

// FormatBytesReadable formats a byte count with binary units.
func FormatBytesReadable(bytes uint64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := uint64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.2f %ciB", float64(bytes)/float64(div), "KMGTPE"[exp])
}

// FormatDurationFromSecs formats seconds as HH:MM:SS, or MM:SS under an hour.
func FormatDurationFromSecs(secs int64) string {
	if secs < 0 {
		secs = 0
	}
	h := secs / 3600
	m := (secs % 3600) / 60
	s := secs % 60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%02d:%02d", m, s)
}

// CalculateSizeReduction returns the percentage saved going from original to encoded.
// Negative values mean the output grew.
func CalculateSizeReduction(original, encoded uint64) float64 {
	if original == 0 {
		return 0
	}
	return (1 - float64(encoded)/float64(original)) * 100
}

// FormatPercent formats a ratio in [0,1] as a percentage.
func FormatPercent(ratio float64) string {
	return fmt.Sprintf("%.1f%%", ratio*100)
}
