package scanner

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/harrison/logscan/internal/detector"
	"github.com/harrison/logscan/internal/models"
)

func testDetector(t *testing.T) *detector.Detector {
	t.Helper()
	d, err := detector.NewWithPatterns([]detector.Pattern{
		{Expression: "Kernel panic", Category: "KERNEL_PANIC"},
		{Expression: "error", Category: "E"},
	}, nil)
	require.NoError(t, err)
	return d
}

// makeLogs writes n log files, each with one "error" line at line 2.
func makeLogs(t *testing.T, dir string, n int) []string {
	t.Helper()
	paths := make([]string, 0, n)
	for i := 0; i < n; i++ {
		name := fmt.Sprintf("dev-%03d.log", i)
		if i%3 == 1 {
			name = fmt.Sprintf("sub/dev-%03d.TXT", i)
		}
		paths = append(paths, writeFile(t, dir, name, []byte(fmt.Sprintf("boot %d\nerror on device %d\nok\n", i, i))))
	}
	return paths
}

func waitResult(t *testing.T, job *Job) *models.ScanResult {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	result, err := job.Wait(ctx)
	require.NoError(t, err)
	require.NotNil(t, result)
	return result
}

type fakeSnapshotter struct {
	saved atomic.Int32
}

func (f *fakeSnapshotter) Save(result *models.ScanResult) (string, error) {
	f.saved.Add(1)
	return "logs/offline_anomalies_test.json", nil
}

type fakeRecorder struct {
	mu      sync.Mutex
	results []*models.ScanResult
}

func (f *fakeRecorder) Record(result *models.ScanResult) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.results = append(f.results, result)
	return errors.New("recorder failures are only logged")
}

func TestSchedulerCompletesWithUnreadableFiles(t *testing.T) {
	dir := t.TempDir()
	makeLogs(t, dir, 8)
	// Dangling symlinks are discovered but cannot be opened, even as root.
	require.NoError(t, os.Symlink(filepath.Join(dir, "gone-1"), filepath.Join(dir, "broken-1.log")))
	require.NoError(t, os.Symlink(filepath.Join(dir, "gone-2"), filepath.Join(dir, "broken-2.out")))
	writeFile(t, dir, "notes.md", []byte("error ignored\n"))

	snap := &fakeSnapshotter{}
	rec := &fakeRecorder{}
	s := NewScheduler(testDetector(t), Options{}, WithSnapshotter(snap), WithRecorders(rec))

	var published []models.Progress
	job, err := s.StartScan(context.Background(), dir, ProgressFunc(func(p models.Progress) error {
		published = append(published, p)
		return nil
	}))
	require.NoError(t, err)
	result := waitResult(t, job)

	assert.Equal(t, models.StateCompleted, result.State)
	assert.Equal(t, 10, result.Total)
	assert.Equal(t, 10, result.Completed)
	assert.Equal(t, 2, result.Errors)
	assert.Len(t, result.FileErrors, 2)
	assert.Len(t, result.Matches, 8)
	assert.Equal(t, map[string]int{"E": 8}, result.CategoryCounts)
	assert.Nil(t, result.Fatal)
	assert.Equal(t, "logs/offline_anomalies_test.json", result.SnapshotPath)
	assert.Equal(t, "Analysis complete. Found 8 anomalies in 10/10 files. Saved: logs/offline_anomalies_test.json (2 files unreadable)", result.StatusMessage())

	require.Len(t, published, 10, "progress after every file")
	for i, p := range published {
		assert.Equal(t, i+1, p.Completed)
		assert.Equal(t, 10, p.Total)
		assert.LessOrEqual(t, p.Completed, p.Total)
	}
	assert.Equal(t, 8, published[9].Matches)
	assert.Equal(t, 100, published[9].Percentage)

	assert.Equal(t, int32(1), snap.saved.Load())
	require.Len(t, rec.results, 1)
	assert.Same(t, result, rec.results[0])
	assert.Equal(t, models.StateIdle, s.State())
	assert.Same(t, result, s.LastResult())
}

func TestSchedulerAggregatesPerFileOrder(t *testing.T) {
	dir := t.TempDir()
	var sb []byte
	for i := 1; i <= 50; i++ {
		sb = append(sb, fmt.Sprintf("error %d\n", i)...)
	}
	for i := 0; i < 6; i++ {
		writeFile(t, dir, fmt.Sprintf("f%d.log", i), sb)
	}

	s := NewScheduler(testDetector(t), Options{})
	job, err := s.StartScan(context.Background(), dir, nil)
	require.NoError(t, err)
	result := waitResult(t, job)
	require.Len(t, result.Matches, 300)

	// Files arrive in any order, but each file's run is contiguous and
	// ascending by line number.
	seen := map[string]bool{}
	var order []string
	for i, m := range result.Matches {
		if i == 0 || result.Matches[i-1].File != m.File {
			require.False(t, seen[m.File], "file %s split across the aggregate", m.File)
			seen[m.File] = true
			order = append(order, m.File)
			assert.Equal(t, 1, m.LineNumber)
			continue
		}
		assert.Equal(t, result.Matches[i-1].LineNumber+1, m.LineNumber)
	}
	sort.Strings(order)
	assert.Equal(t, []string{"f0.log", "f1.log", "f2.log", "f3.log", "f4.log", "f5.log"}, order)
}

func TestSchedulerAbortStopsSubmission(t *testing.T) {
	dir := t.TempDir()
	makeLogs(t, dir, 1000)

	s := NewScheduler(testDetector(t), Options{Parallelism: 1, WorkerMultiplier: 4})
	var calls atomic.Int32
	ready := make(chan struct{})
	job, err := s.StartScan(context.Background(), dir, ProgressFunc(func(p models.Progress) error {
		<-ready
		if calls.Add(1) == 1 {
			assert.NoError(t, s.RequestAbort())
		}
		return nil
	}))
	require.NoError(t, err)
	assert.Equal(t, 4, job.Workers())
	close(ready)

	result := waitResult(t, job)
	assert.Equal(t, models.StateAborted, result.State)
	assert.True(t, result.Aborted())
	assert.Equal(t, 1000, result.Total)
	assert.LessOrEqual(t, result.Completed, job.Workers(), "only already dispatched files finish")
	assert.LessOrEqual(t, result.Completed+result.Skipped, job.Workers())
	assert.GreaterOrEqual(t, result.Completed, 1)
	assert.LessOrEqual(t, len(result.Matches), result.Completed)
	assert.Contains(t, result.StatusMessage(), "Analysis stopped.")
	assert.True(t, job.Progress().Aborting)

	// Idle again: a new scan may start.
	assert.Equal(t, models.StateIdle, s.State())
	assert.ErrorIs(t, s.RequestAbort(), ErrNotRunning)
}

func TestSchedulerAbortedFilesAreNotCounted(t *testing.T) {
	dir := t.TempDir()
	makeLogs(t, dir, 40)

	entered := make(chan struct{}, 40)
	gate := make(chan struct{})
	orig := scanFile
	t.Cleanup(func() { scanFile = orig })
	scanFile = func(path string, m *detector.Matcher, opts FileOptions) models.FileOutcome {
		entered <- struct{}{}
		<-gate
		return orig(path, m, opts)
	}

	s := NewScheduler(testDetector(t), Options{Parallelism: 1, WorkerMultiplier: 4})
	job, err := s.StartScan(context.Background(), dir, nil)
	require.NoError(t, err)
	for i := 0; i < job.Workers(); i++ {
		select {
		case <-entered:
		case <-time.After(5 * time.Second):
			t.Fatal("workers were not dispatched")
		}
	}
	require.NoError(t, s.RequestAbort())
	close(gate)

	result := waitResult(t, job)
	assert.Equal(t, models.StateAborted, result.State)
	assert.Equal(t, 0, result.Completed, "no dispatched file was opened after the abort")
	assert.Equal(t, job.Workers(), result.Skipped)
	assert.Empty(t, result.Matches)
	assert.Contains(t, result.StatusMessage(), "0/40 files")
}

func TestSchedulerAbortImmediately(t *testing.T) {
	dir := t.TempDir()
	makeLogs(t, dir, 1000)

	s := NewScheduler(testDetector(t), Options{})
	job, err := s.StartScan(context.Background(), dir, nil)
	require.NoError(t, err)
	require.NoError(t, s.RequestAbort())

	result := waitResult(t, job)
	assert.Equal(t, models.StateAborted, result.State)
	assert.LessOrEqual(t, result.Completed, result.Total)

	// every successfully scanned file contributed its match
	cancelled := result.Completed - len(result.Matches)
	assert.GreaterOrEqual(t, cancelled, 0)
}

func TestSchedulerContextCancelAborts(t *testing.T) {
	dir := t.TempDir()
	makeLogs(t, dir, 200)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	s := NewScheduler(testDetector(t), Options{Parallelism: 1, WorkerMultiplier: 1})
	job, err := s.StartScan(ctx, dir, nil)
	require.NoError(t, err)
	result := waitResult(t, job)
	assert.Equal(t, models.StateAborted, result.State)
}

func TestSchedulerValidation(t *testing.T) {
	t.Run("missing root", func(t *testing.T) {
		s := NewScheduler(testDetector(t), Options{})
		_, err := s.StartScan(context.Background(), filepath.Join(t.TempDir(), "nope"), nil)
		var re *RootError
		require.True(t, errors.As(err, &re))
		assert.True(t, errors.Is(err, os.ErrNotExist))
		assert.Equal(t, models.StateIdle, s.State())
	})

	t.Run("root is a file", func(t *testing.T) {
		path := writeFile(t, t.TempDir(), "one.log", []byte("x\n"))
		s := NewScheduler(testDetector(t), Options{})
		_, err := s.StartScan(context.Background(), path, nil)
		var re *RootError
		require.True(t, errors.As(err, &re))
	})

	t.Run("no log files", func(t *testing.T) {
		dir := t.TempDir()
		writeFile(t, dir, "readme.md", []byte("error\n"))
		s := NewScheduler(testDetector(t), Options{})
		_, err := s.StartScan(context.Background(), dir, nil)
		require.ErrorIs(t, err, ErrNoLogFiles)
		assert.Equal(t, models.StateIdle, s.State())
	})

	t.Run("no usable patterns", func(t *testing.T) {
		dir := t.TempDir()
		makeLogs(t, dir, 1)
		d, err := detector.NewWithPatterns([]detector.Pattern{{Expression: "(unclosed", Category: "X"}}, nil,
			detector.WithCompileOptions(detector.CompileOptions{}))
		require.NoError(t, err)
		s := NewScheduler(d, Options{})
		_, err = s.StartScan(context.Background(), dir, nil)
		require.ErrorIs(t, err, ErrNoPatterns)
		assert.Equal(t, models.StateIdle, s.State())
	})
}

func TestSchedulerRejectsConcurrentScan(t *testing.T) {
	dir := t.TempDir()
	makeLogs(t, dir, 3)

	release := make(chan struct{})
	s := NewScheduler(testDetector(t), Options{})
	job, err := s.StartScan(context.Background(), dir, ProgressFunc(func(p models.Progress) error {
		<-release
		return nil
	}))
	require.NoError(t, err)

	_, err = s.StartScan(context.Background(), dir, nil)
	require.ErrorIs(t, err, ErrScanInProgress)
	close(release)
	waitResult(t, job)

	job, err = s.StartScan(context.Background(), dir, nil)
	require.NoError(t, err)
	assert.Equal(t, models.StateCompleted, waitResult(t, job).State)
}

func TestSchedulerDisconnectedSink(t *testing.T) {
	tests := []struct {
		name string
		sink func(calls *atomic.Int32) ProgressSink
	}{
		{"error", func(calls *atomic.Int32) ProgressSink {
			return ProgressFunc(func(p models.Progress) error {
				calls.Add(1)
				return errors.New("viewer went away")
			})
		}},
		{"panic", func(calls *atomic.Int32) ProgressSink {
			return ProgressFunc(func(p models.Progress) error {
				calls.Add(1)
				panic("closed channel")
			})
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			makeLogs(t, dir, 12)

			var calls atomic.Int32
			s := NewScheduler(testDetector(t), Options{})
			job, err := s.StartScan(context.Background(), dir, tt.sink(&calls))
			require.NoError(t, err)
			result := waitResult(t, job)

			assert.Equal(t, models.StateCompleted, result.State)
			assert.Equal(t, 12, result.Completed)
			assert.Len(t, result.Matches, 12)
			assert.Equal(t, int32(1), calls.Load(), "sink is never called after its first failure")
		})
	}
}

func TestSchedulerWorkerPanicKeepsPartialResults(t *testing.T) {
	dir := t.TempDir()
	paths := makeLogs(t, dir, 30)
	poison := paths[0]

	// Other files wait until the coordinator has handled the panic, so
	// submission is known to stop no matter how workers are scheduled.
	handled := make(chan struct{})
	var once sync.Once
	orig := scanFile
	t.Cleanup(func() { scanFile = orig })
	scanFile = func(path string, m *detector.Matcher, opts FileOptions) models.FileOutcome {
		if filepath.Base(path) == filepath.Base(poison) {
			panic("executor exploded")
		}
		select {
		case <-handled:
		case <-time.After(5 * time.Second):
		}
		return orig(path, m, opts)
	}

	s := NewScheduler(testDetector(t), Options{Parallelism: 1, WorkerMultiplier: 2})
	job, err := s.StartScan(context.Background(), dir, ProgressFunc(func(p models.Progress) error {
		if p.Errors > 0 {
			once.Do(func() { close(handled) })
		}
		return nil
	}))
	require.NoError(t, err)
	result := waitResult(t, job)

	assert.Equal(t, models.StateAborted, result.State)
	var se *SchedulerError
	require.True(t, errors.As(result.Fatal, &se))
	assert.Contains(t, result.StatusMessage(), "scan failed")
	assert.LessOrEqual(t, result.Completed, job.Workers(), "no file is submitted after the panic")
	assert.Equal(t, result.Completed-1, len(result.Matches), "every other completed file kept its match")
	assert.Equal(t, models.StateIdle, s.State())

	scanFile = orig
	job, err = s.StartScan(context.Background(), dir, nil)
	require.NoError(t, err)
	assert.Equal(t, models.StateCompleted, waitResult(t, job).State)
}

func TestSchedulerExcludeDirs(t *testing.T) {
	dir := t.TempDir()
	makeLogs(t, dir, 9) // dev-001, dev-004 and dev-007 live in sub/

	s := NewScheduler(testDetector(t), Options{ExcludeDirs: []string{"sub"}})
	job, err := s.StartScan(context.Background(), dir, nil)
	require.NoError(t, err)
	assert.Len(t, job.Files(), 6)

	result := waitResult(t, job)
	assert.Equal(t, models.StateCompleted, result.State)
	assert.Equal(t, 6, result.Completed)
}

func TestSchedulerStalledPoolFails(t *testing.T) {
	dir := t.TempDir()
	makeLogs(t, dir, 6)

	stuck := make(chan struct{})
	exited := make(chan struct{}, 6)
	orig := scanFile
	scanFile = func(path string, m *detector.Matcher, opts FileOptions) models.FileOutcome {
		defer func() { exited <- struct{}{} }()
		<-stuck
		return orig(path, m, opts)
	}

	s := NewScheduler(testDetector(t), Options{Parallelism: 1, WorkerMultiplier: 2, WaitTimeout: 10 * time.Millisecond, StallLimit: 3})
	job, err := s.StartScan(context.Background(), dir, nil)
	require.NoError(t, err)
	t.Cleanup(func() {
		close(stuck)
		for i := 0; i < job.Workers(); i++ {
			<-exited
		}
		scanFile = orig
	})
	result := waitResult(t, job)

	assert.Equal(t, models.StateAborted, result.State)
	var se *SchedulerError
	require.True(t, errors.As(result.Fatal, &se))
	assert.Contains(t, se.Error(), "stalled")
	assert.Equal(t, 0, result.Completed)
	assert.Equal(t, models.StateIdle, s.State())
}

func TestSchedulerUsesMatcherSnapshot(t *testing.T) {
	dir := t.TempDir()
	makeLogs(t, dir, 20)

	d := testDetector(t)
	release := make(chan struct{})
	s := NewScheduler(d, Options{Parallelism: 1, WorkerMultiplier: 1})
	job, err := s.StartScan(context.Background(), dir, ProgressFunc(func(p models.Progress) error {
		if p.Completed == 1 {
			<-release
		}
		return nil
	}))
	require.NoError(t, err)

	// Edits during the scan affect the next scan only.
	_, err = d.AddOrUpdate("boot", "BOOT", detector.SubsetCustom)
	require.NoError(t, err)
	close(release)

	assert.Equal(t, map[string]int{"E": 20}, waitResult(t, job).CategoryCounts)

	job, err = s.StartScan(context.Background(), dir, nil)
	require.NoError(t, err)
	counts := waitResult(t, job).CategoryCounts
	assert.Equal(t, 20, counts["BOOT"])
}

func TestPoolSize(t *testing.T) {
	tests := []struct {
		name  string
		opts  Options
		files int
		want  int
	}{
		{"multiplier bound", Options{Parallelism: 2}, 100, 6},
		{"ceiling bound", Options{Parallelism: 64}, 1000, 16},
		{"file bound", Options{Parallelism: 8}, 3, 3},
		{"config lowers ceiling", Options{Parallelism: 8, MaxWorkers: 4}, 100, 4},
		{"config cannot raise ceiling", Options{Parallelism: 8, MaxWorkers: 64}, 100, 16},
		{"never zero", Options{Parallelism: 1}, 0, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.opts.PoolSize(tt.files))
		})
	}
}

func TestPoolSizeProperties(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		par := rapid.IntRange(1, 256).Draw(t, "parallelism")
		mult := rapid.IntRange(1, 8).Draw(t, "multiplier")
		files := rapid.IntRange(1, 5000).Draw(t, "files")
		size := Options{Parallelism: par, WorkerMultiplier: mult}.PoolSize(files)

		if size < 1 || size > DefaultWorkerCeiling || size > files || size > mult*par {
			t.Fatalf("pool size %d out of bounds (par=%d mult=%d files=%d)", size, par, mult, files)
		}
	})
}
