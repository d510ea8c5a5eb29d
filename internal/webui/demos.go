package webui

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rfinnell/demovault/internal/crawler"
)

// DemoInfo describes one downloaded replay in the output directory.
type DemoInfo struct {
	Name     string    `json:"name"`
	Date     time.Time `json:"date"`
	HasStats bool      `json:"has_stats"`
}

// ListDemos scans the output directory for decompressed replays, newest
// first. A missing directory is an empty list, not an error.
func ListDemos(dir string) ([]DemoInfo, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read output directory: %w", err)
	}

	var demos []DemoInfo
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".dem") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		statsPath := filepath.Join(dir, strings.TrimSuffix(entry.Name(), ".dem")+".json")
		_, statsErr := os.Stat(statsPath)
		demos = append(demos, DemoInfo{
			Name:     entry.Name(),
			Date:     info.ModTime(),
			HasStats: statsErr == nil,
		})
	}

	sort.Slice(demos, func(i, j int) bool { return demos[i].Date.After(demos[j].Date) })
	return demos, nil
}

// ReadStats loads the stats sidecar for one replay by name.
func ReadStats(dir, demoName string) ([]crawler.PlayerStat, error) {
	// The name comes from a URL path segment; refuse anything that could
	// escape the output directory.
	if demoName != filepath.Base(demoName) || demoName == "." || demoName == ".." {
		return nil, fmt.Errorf("invalid demo name %q", demoName)
	}

	statsPath := filepath.Join(dir, strings.TrimSuffix(demoName, ".dem")+".json")
	data, err := os.ReadFile(statsPath)
	if err != nil {
		return nil, fmt.Errorf("stats for %s: %w", demoName, err)
	}

	var stats []crawler.PlayerStat
	if err := json.Unmarshal(data, &stats); err != nil {
		return nil, fmt.Errorf("stats for %s are corrupt: %w", demoName, err)
	}
	return stats, nil
}
