package processing

import (
	"context"
	"encoding/base64"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/five82/framegate/internal/config"
	"github.com/five82/framegate/internal/delta"
	"github.com/five82/framegate/internal/reporter"
)

// batchRecorder keeps the batch-level events of a run.
type batchRecorder struct {
	reporter.NullReporter
	mu       sync.Mutex
	started  []reporter.BatchStartInfo
	progress []int
	summary  *reporter.BatchSummary
	deltas   []reporter.DeltaOutcome
	errors   []reporter.ReporterError
	complete []string
}

func (r *batchRecorder) BatchStarted(i reporter.BatchStartInfo) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.started = append(r.started, i)
}

func (r *batchRecorder) FrameProgress(p reporter.FrameProgressContext) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.progress = append(r.progress, p.CurrentFrame)
}

func (r *batchRecorder) BatchComplete(s reporter.BatchSummary) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.summary = &s
}

func (r *batchRecorder) DeltaFrame(o reporter.DeltaOutcome) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deltas = append(r.deltas, o)
}

func (r *batchRecorder) Error(e reporter.ReporterError) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errors = append(r.errors, e)
}

func (r *batchRecorder) OperationComplete(message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.complete = append(r.complete, message)
}

func writeFile(t *testing.T, dir, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, data, 0644))
	return path
}

func TestReadFrameFile(t *testing.T) {
	dir := t.TempDir()
	img := testPNG(t, 8, 8, 10)

	raw := writeFile(t, dir, "a.png", img)
	frame, size, err := ReadFrameFile(raw)
	require.NoError(t, err)
	assert.Equal(t, base64.StdEncoding.EncodeToString(img), frame)
	assert.Equal(t, uint64(len(img)), size)

	text := "data:image/png;base64," + base64.StdEncoding.EncodeToString(img)
	b64 := writeFile(t, dir, "b.b64", []byte(text+"\n"))
	frame, size, err = ReadFrameFile(b64)
	require.NoError(t, err)
	assert.Equal(t, text, frame)
	assert.Equal(t, uint64(len(img)), size)

	_, _, err = ReadFrameFile(filepath.Join(dir, "missing.png"))
	assert.Error(t, err)
}

func TestProcessFiles(t *testing.T) {
	p, _, _ := newTestPipeline(t, func(c *config.Config) { c.MaxBatchSize = 2 })
	in, out := t.TempDir(), t.TempDir()

	files := []string{
		writeFile(t, in, "f1.png", testPNG(t, 32, 32, 1)),
		writeFile(t, in, "f2.png", testPNG(t, 32, 32, 1)), // same content as f1
		writeFile(t, in, "f3.b64", []byte(testFrame(t, 24, 24))),
		writeFile(t, in, "f4.png", []byte("broken")),
		writeFile(t, in, "f5.jpg", testPNG(t, 16, 16, 9)), // extension is not checked
	}
	rec := &batchRecorder{}

	results, err := ProcessFiles(context.Background(), p, files, out, DefaultOptions(), rec)
	require.NoError(t, err)
	require.Len(t, results, len(files))

	for i, r := range results {
		if i == 3 {
			assert.ErrorIs(t, r.Err, ErrInvalidInput)
			continue
		}
		require.NoError(t, r.Err, r.Filename)
		assert.FileExists(t, r.OutputPath)
		assert.Equal(t, ".jpg", filepath.Ext(r.OutputPath))
		assert.Positive(t, r.OutputSize)
	}
	assert.Equal(t, filepath.Join(out, "f1_processed.jpg"), results[0].OutputPath)
	assert.Equal(t, filepath.Join(out, "f3_processed.jpg"), results[2].OutputPath)

	require.Len(t, rec.started, 1)
	assert.Len(t, rec.started[0].BatchID, 36)
	assert.Equal(t, []int{1, 2, 3, 4, 5}, rec.progress)
	require.NotNil(t, rec.summary)
	assert.Equal(t, 4, rec.summary.SuccessfulCount)
	assert.Equal(t, 5, rec.summary.TotalFrames)
	assert.Len(t, rec.errors, 1)
	assert.Len(t, rec.complete, 1)
}

func TestProcessFilesRejectsUnwritableOutput(t *testing.T) {
	p, _, _ := newTestPipeline(t, nil)
	dir := t.TempDir()
	blocker := writeFile(t, dir, "file", []byte("x"))

	_, err := ProcessFiles(context.Background(), p, nil, filepath.Join(blocker, "out"), DefaultOptions(), nil)
	assert.Error(t, err)
}

func TestDeltaFiles(t *testing.T) {
	p, _, _ := newTestPipeline(t, nil)
	in, out := t.TempDir(), t.TempDir()

	same := testPNG(t, 64, 64, 50)
	files := []string{
		writeFile(t, in, "000.png", same),
		writeFile(t, in, "001.png", same),
		writeFile(t, in, "002.png", []byte("broken")),
		writeFile(t, in, "003.png", testPNG(t, 32, 32, 50)),
	}
	rec := &batchRecorder{}

	results, err := DeltaFiles(context.Background(), p, "camera-1", files, out, rec)
	require.NoError(t, err)
	require.Len(t, results, 4)

	assert.Equal(t, delta.Keyframe, results[0].Kind)
	assert.Equal(t, filepath.Join(out, "000_key.png"), results[0].OutputPath)
	assert.FileExists(t, results[0].OutputPath)

	assert.Equal(t, delta.NoChange, results[1].Kind)
	assert.Empty(t, results[1].OutputPath)

	assert.ErrorIs(t, results[2].Err, ErrInvalidInput)

	// New dimensions restart the sequence.
	assert.Equal(t, delta.Keyframe, results[3].Kind)

	assert.Len(t, rec.deltas, 3)
	assert.Len(t, rec.errors, 1)
	require.Len(t, rec.complete, 1)
	assert.Contains(t, rec.complete[0], "2 keyframes, 0 deltas, 1 unchanged")
}
