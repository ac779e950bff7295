package util

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/coah80/reelup/internal/config"
)

var unsafeFilenameRe = regexp.MustCompile(`[<>:"/\\|?*\x00-\x1f]`)
var multiSpaceRe = regexp.MustCompile(`\s+`)

// EnsureTempDir creates dir and empties anything left from a previous run.
func EnsureTempDir(dir string, log *zap.Logger) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create temp dir %s: %w", dir, err)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	for _, e := range entries {
		os.RemoveAll(filepath.Join(dir, e.Name()))
	}
	log.Info("temp dir ready", zap.String("dir", dir), zap.Int("cleared", len(entries)))
	return nil
}

// CleanupTempFiles removes files under dir older than retention, skipping any
// path inUse claims, then drops stale directories left empty, except the
// intake directory. It also reports free disk space, calling onLow when it
// drops under DiskSpaceMinGB. It returns the number of entries removed.
func CleanupTempFiles(dir string, retention time.Duration, inUse func(path string) bool, log *zap.Logger, onLow func(availGB float64)) int {
	now := time.Now()
	removed := 0
	stale := func(info fs.FileInfo) bool { return now.Sub(info.ModTime()) > retention }

	var dirs []string
	err := filepath.WalkDir(dir, func(path string, e fs.DirEntry, err error) error {
		if err != nil {
			if path == dir {
				return err
			}
			return nil
		}
		if path == dir {
			return nil
		}
		if e.IsDir() {
			// Judged before its files go, since removing them refreshes its mtime.
			if info, err := e.Info(); err == nil && stale(info) && path != filepath.Join(dir, config.IncomingDir) {
				dirs = append(dirs, path)
			}
			return nil
		}
		info, err := e.Info()
		if err != nil || !stale(info) || (inUse != nil && inUse(path)) {
			return nil
		}
		if err := os.Remove(path); err == nil {
			log.Info("removed stale temp file", zap.String("path", path))
			removed++
		}
		return nil
	})
	if err != nil {
		log.Warn("temp cleanup skipped", zap.String("dir", dir), zap.Error(err))
		return 0
	}

	// Children come after their parents in walk order. Directories still
	// holding files fail to remove and stay.
	for i := len(dirs) - 1; i >= 0; i-- {
		path := dirs[i]
		if err := os.Remove(path); err == nil {
			log.Info("removed stale temp dir", zap.String("path", path))
			removed++
		}
	}

	if ds, err := GetDiskSpace(dir); err == nil {
		fields := []zap.Field{
			zap.Float64("free_gb", ds.AvailGB),
			zap.Float64("total_gb", ds.TotalGB),
			zap.Float64("used_gb", ds.UsedGB),
		}
		if ds.Low(config.DiskSpaceMinGB) {
			log.Warn("disk space below threshold", append(fields, zap.Int("min_gb", config.DiskSpaceMinGB))...)
			if onLow != nil {
				onLow(ds.AvailGB)
			}
		} else {
			log.Debug("disk space", fields...)
		}
	}
	return removed
}

// StartCleanup runs CleanupTempFiles on schedule until the returned cron is stopped.
func StartCleanup(schedule, dir string, retention time.Duration, inUse func(path string) bool, log *zap.Logger, onLow func(availGB float64)) (*cron.Cron, error) {
	c := cron.New()
	if _, err := c.AddFunc(schedule, func() { CleanupTempFiles(dir, retention, inUse, log, onLow) }); err != nil {
		return nil, fmt.Errorf("cleanup schedule %q: %w", schedule, err)
	}
	c.Start()
	return c, nil
}

func SanitizeFilename(filename string) string {
	s := unsafeFilenameRe.ReplaceAllString(filename, "_")
	s = multiSpaceRe.ReplaceAllString(s, " ")
	s = strings.TrimSpace(s)
	if len(s) > 200 {
		s = s[:200]
	}
	if s == "" {
		s = "video"
	}
	return s
}
