// Package util provides utility functions for file operations, formatting and host information.
package util

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sys/unix"
)

// MinOutputSpaceMB is the minimum free space recommended in the output directory (in MB).
const MinOutputSpaceMB = 100

// imageExtensions lists the frame formats the CLI picks up from a directory.
var imageExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".b64":  true, // Base64 text, optionally a data URL
}

// IsImageFile reports whether path has a supported frame extension.
func IsImageFile(path string) bool {
	return imageExtensions[strings.ToLower(filepath.Ext(path))]
}

// GetFilename returns the final element of path.
func GetFilename(path string) string {
	return filepath.Base(path)
}

// FileExists reports whether a regular file exists at path.
func FileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// GetFileSize returns the size of the file at path.
func GetFileSize(path string) (uint64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	return uint64(info.Size()), nil
}

// ResolveOutputPath returns the output file for inputPath inside outputDir.
// Processed frames are always written as JPEG.
func ResolveOutputPath(inputPath, outputDir, suffix string) string {
	return ResolveOutputPathExt(inputPath, outputDir, suffix, ".jpg")
}

// ResolveOutputPathExt is ResolveOutputPath with an explicit extension.
func ResolveOutputPathExt(inputPath, outputDir, suffix, ext string) string {
	base := strings.TrimSuffix(GetFilename(inputPath), filepath.Ext(inputPath))
	return filepath.Join(outputDir, base+suffix+ext)
}

// EnsureDirectory creates path (and parents) if it does not exist.
func EnsureDirectory(path string) error {
	return os.MkdirAll(path, 0755)
}

// EnsureDirectoryWritable checks if a directory exists and is writable.
func EnsureDirectoryWritable(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("directory does not exist: %s", path)
		}
		return fmt.Errorf("cannot access directory: %w", err)
	}

	if !info.IsDir() {
		return fmt.Errorf("path is not a directory: %s", path)
	}

	testPath := filepath.Join(path, ".framegate_write_test")
	f, err := os.Create(testPath)
	if err != nil {
		return fmt.Errorf("directory is not writable: %s", path)
	}
	_ = f.Close()
	_ = os.Remove(testPath)

	return nil
}

// GetAvailableSpace returns the available disk space in bytes for the given path.
// Returns 0 if the space cannot be determined.
func GetAvailableSpace(path string) uint64 {
	var stat unix.Statfs_t
	if err := unix.Statfs(path, &stat); err != nil {
		return 0
	}
	return stat.Bavail * uint64(stat.Bsize)
}

// CheckDiskSpace reports whether path has at least MinOutputSpaceMB free.
// Returns true if space is sufficient or cannot be determined.
func CheckDiskSpace(path string, warn func(format string, args ...any)) bool {
	available := GetAvailableSpace(path)
	if available == 0 {
		return true
	}

	availableMB := available / (1024 * 1024)
	if availableMB < MinOutputSpaceMB {
		if warn != nil {
			warn("Low disk space in %s: %d MB available (minimum recommended: %d MB)",
				path, availableMB, MinOutputSpaceMB)
		}
		return false
	}
	return true
}

// WriteFileAtomic writes data to a temporary sibling of path and renames it into place,
// so readers never observe a partially written frame.
func WriteFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	suffix, err := generateRandomString(8)
	if err != nil {
		return fmt.Errorf("failed to generate random string: %w", err)
	}

	tmpPath := filepath.Join(dir, fmt.Sprintf(".%s_%s.tmp", GetFilename(path), suffix))
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", tmpPath, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to move %s into place: %w", path, err)
	}
	return nil
}

// generateRandomString generates a random hex string of the given length.
func generateRandomString(length int) (string, error) {
	bytes := make([]byte, (length+1)/2)
	if _, err := rand.Read(bytes); err != nil {
		return "", err
	}
	return hex.EncodeToString(bytes)[:length], nil
}
