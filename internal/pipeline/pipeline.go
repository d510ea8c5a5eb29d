// Package pipeline sequences session establishment, crawling, and
// downloading into one run, and owns the process-wide "is a run active"
// state consumed by the web UI.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rfinnell/demovault/internal/config"
	"github.com/rfinnell/demovault/internal/crawler"
	"github.com/rfinnell/demovault/internal/downloader"
	"github.com/rfinnell/demovault/internal/session"
)

// ErrRunActive is returned when a run is requested while one is in flight.
// Requests are rejected, never queued.
var ErrRunActive = errors.New("a pipeline run is already active")

type State string

const (
	StateIdle           State = "idle"
	StateAuthenticating State = "authenticating"
	StateCrawling       State = "crawling"
	StateDownloading    State = "downloading"
	StateCompleted      State = "completed"
	StateFailed         State = "failed"
)

// StatusSink receives human-readable progress strings as the run advances.
type StatusSink func(message string)

// SessionProvider yields a cookie set known to authenticate.
type SessionProvider interface {
	EnsureSession(ctx context.Context) ([]session.Cookie, error)
}

// CrawlStage walks the match history with the given session and emits each
// discovered artifact to the sink as it is found.
type CrawlStage interface {
	Crawl(ctx context.Context, cookies []session.Cookie, sink func(crawler.Artifact)) (int, error)
}

// DownloadStage drains the task channel and returns per-task outcomes.
type DownloadStage interface {
	Run(ctx context.Context, tasks <-chan downloader.Task) []downloader.Result
}

// Snapshot is an immutable view of the runner for display surfaces.
type Snapshot struct {
	Running    bool   `json:"running"`
	State      State  `json:"state"`
	LastStatus string `json:"status_message"`
	LastError  string `json:"error,omitempty"`
	Artifacts  int    `json:"artifacts"`
	RunID      string `json:"run_id,omitempty"`
}

// Runner executes pipeline runs. At most one run is active at a time.
type Runner struct {
	cfg       *config.Config
	sessions  SessionProvider
	crawl     CrawlStage
	downloads DownloadStage
	sink      StatusSink
	log       *zap.Logger

	mu         sync.Mutex
	running    bool
	state      State
	lastStatus string
	lastErr    error
	artifacts  int
	runID      string
}

func NewRunner(cfg *config.Config, sessions SessionProvider, crawl CrawlStage, downloads DownloadStage, sink StatusSink, logger *zap.Logger) *Runner {
	return &Runner{
		cfg:       cfg,
		sessions:  sessions,
		crawl:     crawl,
		downloads: downloads,
		sink:      sink,
		log:       logger.Named("pipeline"),
		state:     StateIdle,
	}
}

// Run executes the pipeline synchronously, holding the single run slot for
// its duration.
func (r *Runner) Run(ctx context.Context) error {
	if !r.tryAcquire() {
		return ErrRunActive
	}
	defer r.release()
	return r.execute(ctx)
}

// Start launches the pipeline on a background goroutine. A second Start
// while a run is active is rejected with ErrRunActive.
func (r *Runner) Start(ctx context.Context) error {
	if !r.tryAcquire() {
		return ErrRunActive
	}
	go func() {
		defer r.release()
		_ = r.execute(ctx)
	}()
	return nil
}

// Snapshot returns an immutable view of the current run state.
func (r *Runner) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	snap := Snapshot{
		Running:    r.running,
		State:      r.state,
		LastStatus: r.lastStatus,
		Artifacts:  r.artifacts,
		RunID:      r.runID,
	}
	if r.lastErr != nil {
		snap.LastError = r.lastErr.Error()
	}
	return snap
}

func (r *Runner) tryAcquire() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return false
	}
	r.running = true
	r.runID = uuid.New().String()
	r.state = StateIdle
	r.lastErr = nil
	r.artifacts = 0
	return true
}

func (r *Runner) release() {
	r.mu.Lock()
	r.running = false
	r.mu.Unlock()
}

func (r *Runner) execute(ctx context.Context) error {
	log := r.log.With(zap.String("run_id", r.Snapshot().RunID))
	log.Info("Pipeline run starting.")

	outputDir := r.cfg.Download.OutputDir
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return r.fail(log, fmt.Errorf("failed to create output directory: %w", err))
	}
	if abs, err := filepath.Abs(outputDir); err == nil {
		r.status("Download directory: " + abs)
	}

	r.setState(StateAuthenticating)
	r.status("Setting up browser...")
	cookies, err := r.sessions.EnsureSession(ctx)
	if err != nil {
		return r.fail(log, err)
	}

	r.setState(StateCrawling)
	r.status("Navigating to match history...")

	// Downloads run concurrently with the crawl: each artifact becomes a
	// task the moment it is discovered.
	tasks := make(chan downloader.Task, 16)
	var results []downloader.Result
	downloadsDone := make(chan struct{})
	go func() {
		defer close(downloadsDone)
		results = r.downloads.Run(ctx, tasks)
	}()

	count, crawlErr := r.crawl.Crawl(ctx, cookies, func(a crawler.Artifact) {
		r.status("Found replay: " + a.Filename)
		tasks <- downloader.Task{URL: a.URL, Filename: a.Filename, Stats: a.Stats}
	})
	close(tasks)

	if crawlErr != nil {
		<-downloadsDone // let in-flight downloads settle before failing
		return r.fail(log, fmt.Errorf("crawl failed: %w", crawlErr))
	}
	r.status(fmt.Sprintf("Finished processing %d matches", count))

	r.setState(StateDownloading)
	<-downloadsDone

	success, skipped, failed := downloader.Tally(results)
	r.mu.Lock()
	r.artifacts = count
	r.state = StateCompleted
	r.mu.Unlock()

	// Individually failed downloads are a valid completed outcome; the next
	// run retries them for free via skip-on-exists.
	r.status(fmt.Sprintf("Download completed: %d new, %d already present, %d failed", success, skipped, failed))
	log.Info("Pipeline run completed.",
		zap.Int("artifacts", count),
		zap.Int("success", success),
		zap.Int("skipped", skipped),
		zap.Int("failed", failed),
	)
	return nil
}

func (r *Runner) fail(log *zap.Logger, err error) error {
	r.mu.Lock()
	r.state = StateFailed
	r.lastErr = err
	r.mu.Unlock()
	r.status("Error: " + err.Error())
	log.Error("Pipeline run failed.", zap.Error(err))
	return err
}

func (r *Runner) setState(s State) {
	r.mu.Lock()
	r.state = s
	r.mu.Unlock()
}

func (r *Runner) status(msg string) {
	r.mu.Lock()
	r.lastStatus = msg
	sink := r.sink
	r.mu.Unlock()
	if sink != nil {
		sink(msg)
	}
}
