package downloader

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"

	"github.com/rfinnell/demovault/internal/config"
	"github.com/rfinnell/demovault/internal/crawler"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// demoBz2 is "DEMO FILE CONTENTS v1" compressed with bzip2.
var demoBz2 = []byte{
	0x42, 0x5a, 0x68, 0x39, 0x31, 0x41, 0x59, 0x26, 0x53, 0x59, 0xb9, 0x68,
	0x5d, 0x44, 0x00, 0x00, 0x02, 0x9e, 0x80, 0x40, 0x00, 0x20, 0x00, 0x0f,
	0x27, 0x8c, 0x00, 0x01, 0x00, 0x20, 0x00, 0x31, 0x00, 0x00, 0x0a, 0x0f,
	0x50, 0xd3, 0xf5, 0x1a, 0x88, 0x96, 0xb6, 0x43, 0x44, 0x86, 0x2a, 0xba,
	0xed, 0x1f, 0x17, 0x72, 0x45, 0x38, 0x50, 0x90, 0xb9, 0x68, 0x5d, 0x44,
}

const demoPlaintext = "DEMO FILE CONTENTS v1"

func newTestEngine(t *testing.T, dir string, maxConcurrency int) *Engine {
	t.Helper()
	return New(config.DownloadConfig{
		OutputDir:      dir,
		MaxConcurrency: maxConcurrency,
		RequestTimeout: 10 * time.Second,
	}, zap.NewNop())
}

func feed(tasks ...Task) <-chan Task {
	ch := make(chan Task, len(tasks))
	for _, task := range tasks {
		ch <- task
	}
	close(ch)
	return ch
}

func someStats(n int) []crawler.PlayerStat {
	stats := make([]crawler.PlayerStat, n)
	for i := range stats {
		stats[i] = crawler.PlayerStat{Name: "player", Kills: "10"}
	}
	return stats
}

func TestRun_DownloadAndDecompress(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(demoBz2)
	}))
	defer srv.Close()

	dir := t.TempDir()
	e := newTestEngine(t, dir, 5)

	results := e.Run(context.Background(), feed(Task{
		URL:      srv.URL + "/match001.dem.bz2",
		Filename: "match001.dem.bz2",
		Stats:    someStats(5),
	}))

	require.Len(t, results, 1)
	assert.Equal(t, StatusSuccess, results[0].Status)

	// Decompressed replay present, compressed intermediate gone.
	data, err := os.ReadFile(filepath.Join(dir, "match001.dem"))
	require.NoError(t, err)
	assert.Equal(t, demoPlaintext, string(data))
	assert.NoFileExists(t, filepath.Join(dir, "match001.dem.bz2"))

	// Stats sidecar with the same stem.
	statsData, err := os.ReadFile(filepath.Join(dir, "match001.json"))
	require.NoError(t, err)
	var stats []crawler.PlayerStat
	require.NoError(t, json.Unmarshal(statsData, &stats))
	assert.Len(t, stats, 5)
}

func TestRun_IdempotentSecondRun(t *testing.T) {
	var requests atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		_, _ = w.Write(demoBz2)
	}))
	defer srv.Close()

	dir := t.TempDir()
	e := newTestEngine(t, dir, 5)
	task := Task{URL: srv.URL + "/m1.dem.bz2", Filename: "m1.dem.bz2"}

	first := e.Run(context.Background(), feed(task))
	require.Len(t, first, 1)
	require.Equal(t, StatusSuccess, first[0].Status)
	require.Equal(t, int64(1), requests.Load())

	second := e.Run(context.Background(), feed(task))
	require.Len(t, second, 1)
	assert.Equal(t, StatusSkipped, second[0].Status)
	assert.Equal(t, int64(1), requests.Load(), "a skipped task must make no network call")
}

func TestRun_ConcurrencyBound(t *testing.T) {
	var inflight, peak atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := inflight.Add(1)
		defer inflight.Add(-1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(50 * time.Millisecond)
		_, _ = w.Write(demoBz2)
	}))
	defer srv.Close()

	dir := t.TempDir()
	e := newTestEngine(t, dir, 5)

	tasks := make([]Task, 20)
	for i := range tasks {
		name := "m" + string(rune('a'+i)) + ".dem.bz2"
		tasks[i] = Task{URL: srv.URL + "/" + name, Filename: name}
	}

	results := e.Run(context.Background(), feed(tasks...))
	require.Len(t, results, 20)
	for _, r := range results {
		assert.Equal(t, StatusSuccess, r.Status)
	}
	assert.LessOrEqual(t, peak.Load(), int64(5), "admission gate must cap in-flight fetches")
	assert.Greater(t, peak.Load(), int64(1), "downloads should actually overlap")
}

func TestRun_HTTPErrorIsFailed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	dir := t.TempDir()
	e := newTestEngine(t, dir, 5)

	results := e.Run(context.Background(), feed(Task{URL: srv.URL + "/gone.dem.bz2", Filename: "gone.dem.bz2"}))
	require.Len(t, results, 1)
	assert.Equal(t, StatusFailed, results[0].Status)
	assert.ErrorContains(t, results[0].Err, "status 404")
	assert.NoFileExists(t, filepath.Join(dir, "gone.dem.bz2"))
}

func TestRun_TruncatedTransferLeavesNoPartialFile(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Promise more bytes than we send, then cut the connection.
		w.Header().Set("Content-Length", "1048576")
		_, _ = w.Write(demoBz2[:16])
	}))
	defer srv.Close()

	dir := t.TempDir()
	e := newTestEngine(t, dir, 5)

	results := e.Run(context.Background(), feed(Task{URL: srv.URL + "/cut.dem.bz2", Filename: "cut.dem.bz2"}))
	require.Len(t, results, 1)
	assert.Equal(t, StatusFailed, results[0].Status)

	assert.NoFileExists(t, filepath.Join(dir, "cut.dem.bz2"), "partial download must be removed")
	assert.NoFileExists(t, filepath.Join(dir, "cut.dem"))
}

func TestRun_DecompressionFailureKeepsCompressedFile(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("this is not bzip2 data"))
	}))
	defer srv.Close()

	dir := t.TempDir()
	e := newTestEngine(t, dir, 5)

	results := e.Run(context.Background(), feed(Task{URL: srv.URL + "/bad.dem.bz2", Filename: "bad.dem.bz2"}))
	require.Len(t, results, 1)
	assert.Equal(t, StatusFailed, results[0].Status)

	// Asymmetric cleanup: the fetched bytes survive for inspection, the
	// partial decompressed file does not.
	assert.FileExists(t, filepath.Join(dir, "bad.dem.bz2"))
	assert.NoFileExists(t, filepath.Join(dir, "bad.dem"))
}

func TestRun_StatsWriteFailureDoesNotAffectOutcome(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(demoBz2)
	}))
	defer srv.Close()

	dir := t.TempDir()
	e := newTestEngine(t, dir, 5)

	// Occupy the sidecar path with a directory so the write fails.
	require.NoError(t, os.Mkdir(filepath.Join(dir, "m1.json"), 0o755))

	results := e.Run(context.Background(), feed(Task{
		URL:      srv.URL + "/m1.dem.bz2",
		Filename: "m1.dem.bz2",
		Stats:    someStats(2),
	}))
	require.Len(t, results, 1)
	assert.Equal(t, StatusSuccess, results[0].Status)
}

func TestRun_MixedOutcomes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/ok.dem.bz2" {
			_, _ = w.Write(demoBz2)
			return
		}
		http.NotFound(w, r)
	}))
	defer srv.Close()

	dir := t.TempDir()
	e := newTestEngine(t, dir, 2)

	results := e.Run(context.Background(), feed(
		Task{URL: srv.URL + "/ok.dem.bz2", Filename: "ok.dem.bz2"},
		Task{URL: srv.URL + "/missing.dem.bz2", Filename: "missing.dem.bz2"},
	))
	require.Len(t, results, 2)

	success, skipped, failed := Tally(results)
	assert.Equal(t, 1, success)
	assert.Zero(t, skipped)
	assert.Equal(t, 1, failed)
}
