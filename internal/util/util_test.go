package util

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatBytesReadable(t *testing.T) {
	assert.Equal(t, "512 B", FormatBytesReadable(512))
	assert.Equal(t, "1.00 KiB", FormatBytesReadable(1024))
	assert.Equal(t, "1.50 MiB", FormatBytesReadable(1536*1024))
}

func TestFormatDurationFromSecs(t *testing.T) {
	assert.Equal(t, "00:05", FormatDurationFromSecs(5))
	assert.Equal(t, "01:01", FormatDurationFromSecs(61))
	assert.Equal(t, "1:00:01", FormatDurationFromSecs(3601))
	assert.Equal(t, "00:00", FormatDurationFromSecs(-3))
}

func TestCalculateSizeReduction(t *testing.T) {
	assert.InDelta(t, 75.0, CalculateSizeReduction(400, 100), 1e-9)
	assert.InDelta(t, -100.0, CalculateSizeReduction(100, 200), 1e-9)
	assert.Zero(t, CalculateSizeReduction(0, 100))
}

func TestIsImageFile(t *testing.T) {
	assert.True(t, IsImageFile("/a/frame.JPG"))
	assert.True(t, IsImageFile("frame.png"))
	assert.True(t, IsImageFile("frame.b64"))
	assert.False(t, IsImageFile("movie.mkv"))
}

func TestResolveOutputPath(t *testing.T) {
	assert.Equal(t, filepath.Join("/out", "frame_001.jpg"), ResolveOutputPath("/in/frame_001.png", "/out", ""))
	assert.Equal(t, filepath.Join("/out", "frame_001.delta.jpg"), ResolveOutputPath("/in/frame_001.png", "/out", ".delta"))
	assert.Equal(t, filepath.Join("/out", "frame_001_key.png"), ResolveOutputPathExt("/in/frame_001.b64", "/out", "_key", ".png"))
}

func TestWriteFileAtomic(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.jpg")

	require.NoError(t, WriteFileAtomic(path, []byte("first")))
	require.NoError(t, WriteFileAtomic(path, []byte("second")))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "second", string(data))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temporary files are cleaned up")
}

func TestEnsureDirectoryWritable(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, EnsureDirectoryWritable(dir))
	require.Error(t, EnsureDirectoryWritable(filepath.Join(dir, "missing")))

	file := filepath.Join(dir, "file")
	require.NoError(t, os.WriteFile(file, nil, 0o644))
	require.Error(t, EnsureDirectoryWritable(file))
}
