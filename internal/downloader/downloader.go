// Package downloader fetches replay artifacts with bounded concurrency,
// decompresses them, and writes stats sidecars. Tasks are idempotent: a
// replay already decompressed on disk is skipped without a network call, so
// re-running the whole pipeline is always safe.
package downloader

import (
	"compress/bzip2"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/rfinnell/demovault/internal/config"
	"github.com/rfinnell/demovault/internal/crawler"
)

const userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/91.0.4472.124 Safari/537.36"

type Status string

const (
	StatusSuccess Status = "success"
	StatusSkipped Status = "skipped"
	StatusFailed  Status = "failed"
)

// Task is one artifact to fetch into the output directory. Filename is the
// compressed name from the artifact URL; the decompressed file drops the
// .bz2 suffix.
type Task struct {
	URL      string
	Filename string
	Stats    []crawler.PlayerStat
}

// Result is the terminal outcome of one task. Failed tasks are not retried;
// the next pipeline run will pick them up again thanks to skip-on-exists.
type Result struct {
	Task   Task
	Status Status
	Err    error
}

// Engine performs the bounded-concurrency download work.
type Engine struct {
	outputDir string
	client    *http.Client
	sem       *semaphore.Weighted
	limiter   *rate.Limiter
	log       *zap.Logger
}

func New(cfg config.DownloadConfig, logger *zap.Logger) *Engine {
	e := &Engine{
		outputDir: cfg.OutputDir,
		client:    &http.Client{Timeout: cfg.RequestTimeout},
		sem:       semaphore.NewWeighted(int64(cfg.MaxConcurrency)),
		log:       logger.Named("downloader"),
	}
	if cfg.RatePerSecond > 0 {
		e.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSecond), 1)
	}
	return e
}

// Run consumes tasks until the channel is closed and all in-flight work has
// finished. Fetches are gated by the admission semaphore; the stats sidecar
// write is not.
func (e *Engine) Run(ctx context.Context, tasks <-chan Task) []Result {
	var (
		mu      sync.Mutex
		results []Result
		wg      sync.WaitGroup
	)

	for task := range tasks {
		e.writeStats(task)

		wg.Add(1)
		go func(task Task) {
			defer wg.Done()
			res := e.process(ctx, task)
			mu.Lock()
			results = append(results, res)
			mu.Unlock()
		}(task)
	}

	wg.Wait()
	e.client.CloseIdleConnections()
	return results
}

// Tally sums results by status.
func Tally(results []Result) (success, skipped, failed int) {
	for _, r := range results {
		switch r.Status {
		case StatusSuccess:
			success++
		case StatusSkipped:
			skipped++
		case StatusFailed:
			failed++
		}
	}
	return success, skipped, failed
}

func (e *Engine) process(ctx context.Context, task Task) Result {
	compressedPath := filepath.Join(e.outputDir, task.Filename)
	finalPath := strings.TrimSuffix(compressedPath, ".bz2")

	// Idempotence: an already decompressed replay costs nothing.
	if _, err := os.Stat(finalPath); err == nil {
		e.log.Debug("Replay already present, skipping.", zap.String("path", finalPath))
		return Result{Task: task, Status: StatusSkipped}
	}

	if err := e.sem.Acquire(ctx, 1); err != nil {
		return Result{Task: task, Status: StatusFailed, Err: err}
	}
	defer e.sem.Release(1)

	if e.limiter != nil {
		if err := e.limiter.Wait(ctx); err != nil {
			return Result{Task: task, Status: StatusFailed, Err: err}
		}
	}

	if err := e.fetch(ctx, task.URL, compressedPath); err != nil {
		e.log.Warn("Download failed.", zap.String("url", task.URL), zap.Error(err))
		return Result{Task: task, Status: StatusFailed, Err: err}
	}

	if strings.HasSuffix(compressedPath, ".bz2") {
		if err := decompress(compressedPath, finalPath); err != nil {
			// The compressed file is the only valid data fetched; keep it
			// for inspection instead of deleting it.
			e.log.Warn("Decompression failed; compressed file retained.",
				zap.String("path", compressedPath), zap.Error(err))
			return Result{Task: task, Status: StatusFailed, Err: err}
		}
		if err := os.Remove(compressedPath); err != nil {
			e.log.Warn("Could not remove compressed intermediate.", zap.Error(err))
		}
	}

	e.log.Info("Replay downloaded.", zap.String("file", filepath.Base(finalPath)))
	return Result{Task: task, Status: StatusSuccess}
}

// fetch streams the artifact to dest. On any failure the partial file is
// removed; a later run will start over.
func (e *Engine) fetch(ctx context.Context, url, dest string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := e.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d for %s", resp.StatusCode, url)
	}

	f, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", dest, err)
	}

	if _, err := io.Copy(f, resp.Body); err != nil {
		f.Close()
		os.Remove(dest)
		return fmt.Errorf("transfer failed: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(dest)
		return fmt.Errorf("failed to finalize %s: %w", dest, err)
	}
	return nil
}

// decompress writes the bzip2-decoded contents of src to dst. On failure the
// partial dst is removed but src is left alone.
func decompress(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", src, err)
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", dst, err)
	}

	if _, err := io.Copy(out, bzip2.NewReader(in)); err != nil {
		out.Close()
		os.Remove(dst)
		return fmt.Errorf("bzip2 decode of %s failed: %w", src, err)
	}
	if err := out.Close(); err != nil {
		os.Remove(dst)
		return fmt.Errorf("failed to finalize %s: %w", dst, err)
	}
	return nil
}

// writeStats writes the scoreboard sidecar next to the replay. Best effort:
// a failed write is logged and never affects the download outcome.
func (e *Engine) writeStats(task Task) {
	if len(task.Stats) == 0 {
		return
	}
	stem := strings.TrimSuffix(strings.TrimSuffix(task.Filename, ".bz2"), ".dem")
	path := filepath.Join(e.outputDir, stem+".json")

	data, err := json.MarshalIndent(task.Stats, "", "    ")
	if err != nil {
		e.log.Warn("Could not marshal stats.", zap.String("file", path), zap.Error(err))
		return
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		e.log.Warn("Could not write stats sidecar.", zap.String("file", path), zap.Error(err))
	}
}
