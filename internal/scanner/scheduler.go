// Package scanner runs the classification engine over files and folders.
//
// ScanFile classifies a single file in streaming mode. Scheduler scans every
// recognized log file under a root with a bounded worker pool, aggregating
// matches in completion order, publishing progress after each file, and
// honouring a cooperative abort request.
package scanner

import (
	"context"
	"errors"
	"fmt"
	"os"
	"runtime"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/harrison/logscan/internal/detector"
	"github.com/harrison/logscan/internal/fileutil"
	"github.com/harrison/logscan/internal/models"
)

// Pool sizing defaults.
const (
	DefaultWorkerCeiling    = 16
	DefaultWorkerMultiplier = 3
	DefaultWaitTimeout      = 60 * time.Second
	DefaultStallLimit       = 5
)

// DefaultExtensions are the recognized log file extensions.
var DefaultExtensions = []string{".log", ".txt", ".out"}

// MatcherSource supplies the immutable matcher snapshot a scan runs against.
type MatcherSource interface {
	Compile() *detector.Matcher
}

// Logger receives scan lifecycle events.
type Logger interface {
	LogDebug(message string)
	LogInfo(message string)
	LogWarn(message string)
	LogScanStart(jobID, root string, total, workers int)
	LogFileResult(outcome models.FileOutcome)
	LogProgress(p models.Progress)
	LogSummary(result *models.ScanResult)
}

// ProgressSink consumes progress snapshots. An error or panic marks the sink
// disconnected; it is not called again for the rest of the job.
type ProgressSink interface {
	Publish(p models.Progress) error
}

// ProgressFunc adapts a function to ProgressSink.
type ProgressFunc func(p models.Progress) error

// Publish calls f.
func (f ProgressFunc) Publish(p models.Progress) error {
	return f(p)
}

// Snapshotter persists the terminal result and returns where it went.
type Snapshotter interface {
	Save(result *models.ScanResult) (string, error)
}

// Recorder consumes a terminal result, e.g. history or metrics.
type Recorder interface {
	Record(result *models.ScanResult) error
}

// Options configure a Scheduler.
type Options struct {
	Extensions       []string
	ExcludeDirs      []string // directory names skipped during discovery
	MaxWorkers       int      // ceiling, capped at DefaultWorkerCeiling
	WorkerMultiplier int
	Parallelism      int // zero uses runtime.GOMAXPROCS(0)
	WaitTimeout      time.Duration
	// StallLimit is how many consecutive WaitTimeout periods may pass
	// without any file finishing before the job fails.
	StallLimit int
	File       FileOptions
	// ProgressLogInterval throttles progress log lines; every file still
	// reaches the sink.
	ProgressLogInterval time.Duration
}

func (o Options) withDefaults() Options {
	if len(o.Extensions) == 0 {
		o.Extensions = DefaultExtensions
	}
	if o.MaxWorkers <= 0 || o.MaxWorkers > DefaultWorkerCeiling {
		o.MaxWorkers = DefaultWorkerCeiling
	}
	if o.WorkerMultiplier <= 0 {
		o.WorkerMultiplier = DefaultWorkerMultiplier
	}
	if o.Parallelism <= 0 {
		o.Parallelism = runtime.GOMAXPROCS(0)
	}
	if o.WaitTimeout <= 0 {
		o.WaitTimeout = DefaultWaitTimeout
	}
	if o.StallLimit <= 0 {
		o.StallLimit = DefaultStallLimit
	}
	if o.ProgressLogInterval < 0 {
		o.ProgressLogInterval = 0
	}
	return o
}

// PoolSize returns min(multiplier × parallelism, files, ceiling), at least 1.
func (o Options) PoolSize(files int) int {
	o = o.withDefaults()
	size := o.WorkerMultiplier * o.Parallelism
	if files < size {
		size = files
	}
	if o.MaxWorkers < size {
		size = o.MaxWorkers
	}
	if size < 1 {
		size = 1
	}
	return size
}

// Scheduler runs at most one folder scan at a time over
// Idle → Scanning → (Completed | Aborted) → Idle.
type Scheduler struct {
	source      MatcherSource
	opts        Options
	logger      Logger
	snapshotter Snapshotter
	recorders   []Recorder

	mu    sync.Mutex
	state models.ScanState
	job   *Job
	last  *models.ScanResult
}

// SchedulerOption customizes a Scheduler.
type SchedulerOption func(*Scheduler)

// WithLogger sets the event logger.
func WithLogger(l Logger) SchedulerOption {
	return func(s *Scheduler) { s.logger = l }
}

// WithSnapshotter sets the terminal snapshot writer.
func WithSnapshotter(sn Snapshotter) SchedulerOption {
	return func(s *Scheduler) { s.snapshotter = sn }
}

// WithRecorders appends terminal result recorders.
func WithRecorders(r ...Recorder) SchedulerOption {
	return func(s *Scheduler) { s.recorders = append(s.recorders, r...) }
}

// NewScheduler creates an idle Scheduler.
func NewScheduler(source MatcherSource, opts Options, options ...SchedulerOption) *Scheduler {
	s := &Scheduler{
		source: source,
		opts:   opts.withDefaults(),
		state:  models.StateIdle,
	}
	for _, o := range options {
		o(s)
	}
	return s
}

// State returns the scheduler's current state.
func (s *Scheduler) State() models.ScanState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// LastResult returns the most recent terminal result, or nil.
func (s *Scheduler) LastResult() *models.ScanResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

// RequestAbort asks the running job to stop. It returns ErrNotRunning when
// the scheduler is idle.
func (s *Scheduler) RequestAbort() error {
	s.mu.Lock()
	job := s.job
	s.mu.Unlock()
	if job == nil {
		return ErrNotRunning
	}
	job.Abort()
	return nil
}

// StartScan validates root, discovers its log files and starts a job. It
// fails fast, leaving the scheduler idle, when root is unusable, holds no log
// files, no pattern compiles, or another job is still running. Cancelling
// ctx requests an abort. sink may be nil.
func (s *Scheduler) StartScan(ctx context.Context, root string, sink ProgressSink) (*Job, error) {
	s.mu.Lock()
	if s.state != models.StateIdle {
		s.mu.Unlock()
		return nil, ErrScanInProgress
	}
	// Reserve the scheduler while validating so concurrent starts cannot race.
	s.state = models.StateScanning
	s.mu.Unlock()

	job, err := s.prepare(root, sink)
	if err != nil {
		s.mu.Lock()
		s.state = models.StateIdle
		s.mu.Unlock()
		return nil, err
	}

	s.mu.Lock()
	s.job = job
	s.mu.Unlock()

	if s.logger != nil {
		s.logger.LogScanStart(job.id, job.root, len(job.files), job.workers)
	}

	if ctx.Err() != nil {
		job.Abort()
	}
	go func() {
		select {
		case <-ctx.Done():
			job.Abort()
		case <-job.done:
		}
	}()
	go s.run(job)

	return job, nil
}

func (s *Scheduler) prepare(root string, sink ProgressSink) (*Job, error) {
	if _, err := os.Stat(root); err != nil {
		return nil, &RootError{Path: root, Err: err}
	}
	found, err := fileutil.ScanDirectory(root, fileutil.ScanOptions{
		Extensions:  s.opts.Extensions,
		ExcludeDirs: s.opts.ExcludeDirs,
	})
	if err != nil {
		return nil, &RootError{Path: root, Err: err}
	}
	if s.logger != nil {
		for _, walkErr := range found.Errors {
			s.logger.LogWarn(walkErr.Error())
		}
	}
	if len(found.Files) == 0 {
		return nil, fmt.Errorf("%w in %s (extensions %v)", ErrNoLogFiles, root, s.opts.Extensions)
	}

	matcher := s.source.Compile()
	if matcher == nil || matcher.Len() == 0 {
		return nil, ErrNoPatterns
	}

	job := &Job{
		id:        uuid.NewString(),
		root:      root,
		files:     found.Files,
		matcher:   matcher,
		workers:   s.opts.PoolSize(len(found.Files)),
		startedAt: time.Now(),
		done:      make(chan struct{}),
		sink:      &guardedSink{sink: sink, logger: s.logger},
	}
	job.progress.Store(&models.Progress{JobID: job.id, Total: len(job.files)})
	return job, nil
}

// run is the coordinator. It alone submits tasks and mutates the aggregate;
// workers only read the abort flag and send outcomes.
func (s *Scheduler) run(j *Job) {
	agg := newAggregate(j)

	defer func() {
		if r := recover(); r != nil {
			agg.fatal = &SchedulerError{Cause: fmt.Sprintf("%v\n%s", r, debug.Stack())}
		}
		s.finish(j, agg)
	}()

	results := make(chan models.FileOutcome, j.workers)
	var g errgroup.Group
	g.SetLimit(j.workers)

	next, inFlight := 0, 0
	fileOpts := s.opts.File
	fileOpts.Cancelled = j.abort.Load

	submit := func() {
		for inFlight < j.workers && next < len(j.files) && !j.abort.Load() && agg.fatal == nil {
			path := j.files[next]
			next++
			inFlight++
			g.Go(func() error {
				return scanWorker(path, j.matcher, fileOpts, results)
			})
		}
	}

	lastLog := time.Time{}
	handle := func(out models.FileOutcome) {
		inFlight--
		agg.add(out)
		if s.logger != nil {
			s.logger.LogFileResult(out)
		}
		p := agg.progress()
		j.progress.Store(&p)
		j.sink.publish(p)
		if s.logger != nil && (p.Completed == p.Total || time.Since(lastLog) >= s.opts.ProgressLogInterval) {
			s.logger.LogProgress(p)
			lastLog = time.Now()
		}
	}

	submit()
	stalls := 0
	timer := time.NewTimer(s.opts.WaitTimeout)
	defer timer.Stop()

	for inFlight > 0 {
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(s.opts.WaitTimeout)

		select {
		case out := <-results:
			stalls = 0
			handle(out)
			// Drain everything else that finished during the wait.
			for drained := false; !drained; {
				select {
				case out := <-results:
					handle(out)
				default:
					drained = true
				}
			}
			submit()
		case <-timer.C:
			stalls++
			if s.logger != nil {
				s.logger.LogWarn(fmt.Sprintf("No file finished in %s; %d still in flight", s.opts.WaitTimeout, inFlight))
			}
			if stalls >= s.opts.StallLimit {
				// Stuck workers send into the buffered results channel and exit
				// on their own; the job does not wait for them.
				agg.fatal = &SchedulerError{Cause: fmt.Sprintf("worker pool stalled: no file finished in %s", time.Duration(stalls)*s.opts.WaitTimeout)}
				j.Abort()
				return
			}
		}
	}

	if err := g.Wait(); err != nil && agg.fatal == nil {
		agg.fatal = err
	}
}

// scanFile is replaced in tests to inject worker failures.
var scanFile = ScanFile

// scanWorker scans one file and always delivers exactly one outcome.
func scanWorker(path string, m *detector.Matcher, opts FileOptions, results chan<- models.FileOutcome) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &SchedulerError{Path: path, Cause: r}
			results <- models.FileOutcome{Path: path, Err: err}
		}
	}()
	results <- scanFile(path, m, opts)
	return nil
}

func (s *Scheduler) finish(j *Job, agg *aggregate) {
	result := agg.result()

	s.mu.Lock()
	s.state = result.State
	s.mu.Unlock()

	if s.snapshotter != nil {
		path, err := s.snapshotter.Save(result)
		result.SnapshotPath = path
		if err != nil && s.logger != nil {
			s.logger.LogWarn(fmt.Sprintf("Failed to save snapshot: %v", err))
		}
	}
	for _, r := range s.recorders {
		if err := r.Record(result); err != nil && s.logger != nil {
			s.logger.LogWarn(fmt.Sprintf("Failed to record scan %s: %v", result.JobID, err))
		}
	}
	if s.logger != nil {
		s.logger.LogSummary(result)
	}

	s.mu.Lock()
	j.result = result
	s.last = result
	s.job = nil
	s.state = models.StateIdle
	s.mu.Unlock()

	close(j.done)
}

// Job is the handle of one folder scan.
type Job struct {
	id        string
	root      string
	files     []string
	matcher   *detector.Matcher
	workers   int
	startedAt time.Time

	abort    atomic.Bool
	progress atomic.Pointer[models.Progress]
	sink     *guardedSink

	done   chan struct{}
	result *models.ScanResult
}

// ID returns the job identifier.
func (j *Job) ID() string { return j.id }

// Files returns the discovered file list in discovery order.
func (j *Job) Files() []string { return append([]string(nil), j.files...) }

// Workers returns the pool size chosen for the job.
func (j *Job) Workers() int { return j.workers }

// Abort requests a cooperative stop. In-flight files finish or observe the
// flag at their next check; no new file is started.
func (j *Job) Abort() { j.abort.Store(true) }

// Aborting reports whether an abort was requested.
func (j *Job) Aborting() bool { return j.abort.Load() }

// Progress returns the latest progress snapshot.
func (j *Job) Progress() models.Progress {
	p := *j.progress.Load()
	p.Aborting = j.abort.Load()
	return p
}

// Done is closed once the job reached a terminal state and was finalized.
func (j *Job) Done() <-chan struct{} { return j.done }

// Wait blocks until the job finishes or ctx ends. A ctx error leaves the job
// running.
func (j *Job) Wait(ctx context.Context) (*models.ScanResult, error) {
	select {
	case <-j.done:
		return j.result, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// guardedSink shields the coordinator from a failing consumer.
type guardedSink struct {
	sink         ProgressSink
	logger       Logger
	disconnected bool
}

func (g *guardedSink) publish(p models.Progress) {
	if g.sink == nil || g.disconnected {
		return
	}
	var err error
	func() {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("progress sink panicked: %v", r)
			}
		}()
		err = g.sink.Publish(p)
	}()
	if err != nil {
		g.disconnected = true
		if g.logger != nil {
			g.logger.LogInfo(fmt.Sprintf("Progress consumer disconnected, scan continues: %v", err))
		}
	}
}

// aggregate accumulates outcomes in arrival order.
type aggregate struct {
	job        *Job
	matches    []models.Match
	completed  int
	skipped    int
	errors     int
	fileErrors map[string]string
	durations  []time.Duration
	lastFile   string
	lastNote   string
	fatal      error
}

func newAggregate(j *Job) *aggregate {
	return &aggregate{job: j, fileErrors: make(map[string]string)}
}

func (a *aggregate) add(out models.FileOutcome) {
	if out.Skipped {
		a.skipped++
		return
	}
	a.completed++
	a.matches = append(a.matches, out.Matches...)
	a.durations = append(a.durations, out.Metrics.Total)
	a.lastFile = out.Path
	if out.Metrics.SlowNote != "" {
		a.lastNote = out.Metrics.SlowNote
	}
	if out.Err != nil {
		a.errors++
		a.fileErrors[out.Path] = out.Err.Error()
		var se *SchedulerError
		if errors.As(out.Err, &se) && a.fatal == nil {
			a.fatal = se
		}
	}
}

func (a *aggregate) progress() models.Progress {
	total := len(a.job.files)
	p := models.Progress{
		JobID:     a.job.id,
		Completed: a.completed,
		Total:     total,
		Matches:   len(a.matches),
		Errors:    a.errors,
		LastFile:  a.lastFile,
		LastNote:  a.lastNote,
		Aborting:  a.job.abort.Load(),
	}
	if total > 0 {
		p.Percentage = a.completed * 100 / total
	}
	return p
}

func (a *aggregate) result() *models.ScanResult {
	state := models.StateCompleted
	if a.fatal != nil || a.job.abort.Load() || a.completed < len(a.job.files) {
		state = models.StateAborted
	}
	return &models.ScanResult{
		JobID:          a.job.id,
		Root:           a.job.root,
		State:          state,
		Matches:        a.matches,
		CategoryCounts: models.CategoryCounts(a.matches),
		Completed:      a.completed,
		Skipped:        a.skipped,
		Total:          len(a.job.files),
		Errors:         a.errors,
		FileErrors:     a.fileErrors,
		Durations:      a.durations,
		StartedAt:      a.job.startedAt,
		FinishedAt:     time.Now(),
		Fatal:          a.fatal,
	}
}
