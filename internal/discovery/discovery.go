// Package discovery finds frame files on disk.
package discovery

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/five82/framegate/internal/util"
)

// FindFrameFiles returns the frame files in inputDir, sorted by name so sequences
// numbered like 0001.png, 0002.png replay in order.
func FindFrameFiles(inputDir string) ([]string, error) {
	info, err := os.Stat(inputDir)
	if err != nil {
		return nil, fmt.Errorf("directory does not exist: %s", inputDir)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", inputDir)
	}

	entries, err := os.ReadDir(inputDir)
	if err != nil {
		return nil, fmt.Errorf("cannot read directory %s: %w", inputDir, err)
	}

	var files []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || strings.HasPrefix(name, ".") {
			continue
		}
		fullPath := filepath.Join(inputDir, name)
		if util.IsImageFile(fullPath) {
			files = append(files, fullPath)
		}
	}

	if len(files) == 0 {
		return nil, fmt.Errorf("no frame files found in %s", inputDir)
	}

	sort.Slice(files, func(i, j int) bool {
		return strings.ToLower(filepath.Base(files[i])) < strings.ToLower(filepath.Base(files[j]))
	})
	return files, nil
}

// ResolveInputs expands input into frame files. A directory yields its frame files,
// a single file is returned as-is.
func ResolveInputs(input string) ([]string, error) {
	info, err := os.Stat(input)
	if err != nil {
		return nil, fmt.Errorf("input does not exist: %s", input)
	}
	if info.IsDir() {
		return FindFrameFiles(input)
	}
	if !util.IsImageFile(input) {
		return nil, fmt.Errorf("%s is not a supported frame file (png, jpg, jpeg or b64)", input)
	}
	return []string{input}, nil
}
