package util

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/coah80/reelup/internal/config"
)

func TestToUserError(t *testing.T) {
	cases := []struct{ in, want string }{
		{"", "Upload failed"},
		{"upload: file is not a video", "Please choose a video file"},
		{"compress: media: source exceeds the compression size limit", "Video is too large to upload"},
		{"compress: media: source exceeds the compression size limit: a.mp4 is 612.0MB, limit is 500MB", "Video is too large to upload (500MB max)"},
		{"video upload: transport: put: HTTP 403: denied", "Upload was refused by storage"},
		{"video upload: transport: upload: HTTP 502: bad gateway", "Storage is having trouble, try again"},
		{"dial tcp: connection refused", "Couldn't reach storage, try again"},
		{"context deadline exceeded", "Upload timed out, try again"},
		{"something odd", "Upload failed"},
	}
	for _, c := range cases {
		require.Equal(t, c.want, ToUserError(c.in), c.in)
	}
}

func TestSanitizeFilename(t *testing.T) {
	require.Equal(t, "a_b_c.mp4", SanitizeFilename("a/b:c.mp4"))
	require.Equal(t, "my clip.mp4", SanitizeFilename("  my   clip.mp4 "))
	require.Equal(t, "video", SanitizeFilename("   "))
	require.Len(t, SanitizeFilename(string(make([]byte, 300))), 200)
}

func TestCleanupTempFiles(t *testing.T) {
	dir := t.TempDir()
	stale := filepath.Join(dir, "stale")
	fresh := filepath.Join(dir, "fresh")
	require.NoError(t, os.MkdirAll(stale, 0o755))
	require.NoError(t, os.WriteFile(fresh, []byte("x"), 0o644))
	old := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(stale, old, old))

	removed := CleanupTempFiles(dir, 20*time.Minute, nil, zaptest.NewLogger(t), nil)
	require.Equal(t, 1, removed)
	require.NoDirExists(t, stale)
	require.FileExists(t, fresh)
}

func TestCleanupTempFilesAgesIntakeFilesIndividually(t *testing.T) {
	dir := t.TempDir()
	incoming := filepath.Join(dir, config.IncomingDir)
	require.NoError(t, os.MkdirAll(incoming, 0o755))

	queued := filepath.Join(incoming, "queued.mp4")
	held := filepath.Join(incoming, "held.mp4")
	abandoned := filepath.Join(incoming, "abandoned.mp4")
	for _, p := range []string{queued, held, abandoned} {
		require.NoError(t, os.WriteFile(p, []byte("video"), 0o644))
	}
	old := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(held, old, old))
	require.NoError(t, os.Chtimes(abandoned, old, old))
	require.NoError(t, os.Chtimes(incoming, old, old))

	inUse := func(path string) bool { return path == held }
	removed := CleanupTempFiles(dir, 20*time.Minute, inUse, zaptest.NewLogger(t), nil)

	require.Equal(t, 1, removed)
	require.FileExists(t, queued)
	require.FileExists(t, held)
	require.NoFileExists(t, abandoned)

	require.NoError(t, os.Remove(queued))
	require.NoError(t, os.Remove(held))
	require.NoError(t, os.Chtimes(incoming, old, old))
	CleanupTempFiles(dir, 20*time.Minute, nil, zaptest.NewLogger(t), nil)
	require.DirExists(t, incoming)
}

func TestCleanupTempFilesKeepsBusyScratchDirs(t *testing.T) {
	dir := t.TempDir()
	scratch := filepath.Join(dir, "compress-123")
	require.NoError(t, os.MkdirAll(scratch, 0o755))
	out := filepath.Join(scratch, "clip_compressed.mp4")
	require.NoError(t, os.WriteFile(out, []byte("encoding"), 0o644))
	old := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(scratch, old, old))

	require.Zero(t, CleanupTempFiles(dir, 20*time.Minute, nil, zaptest.NewLogger(t), nil))
	require.FileExists(t, out)

	require.NoError(t, os.Chtimes(out, old, old))
	require.Equal(t, 2, CleanupTempFiles(dir, 20*time.Minute, nil, zaptest.NewLogger(t), nil))
	require.NoDirExists(t, scratch)
}

func TestEnsureTempDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "scratch")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "left"), nil, 0o644))

	require.NoError(t, EnsureTempDir(dir, zaptest.NewLogger(t)))
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestStartCleanupRejectsBadSchedule(t *testing.T) {
	_, err := StartCleanup("not a schedule", t.TempDir(), time.Minute, nil, zaptest.NewLogger(t), nil)
	require.Error(t, err)

	c, err := StartCleanup("@every 1h", t.TempDir(), time.Minute, nil, zaptest.NewLogger(t), nil)
	require.NoError(t, err)
	c.Stop()
}

func TestDiskSpaceLow(t *testing.T) {
	d := newDiskSpaceInfo(2*gib, 10*gib)
	require.InDelta(t, 8.0, d.UsedGB, 0.001)
	require.True(t, d.Low(5))
	require.False(t, d.Low(1))

	_, err := GetDiskSpace(t.TempDir())
	require.NoError(t, err)
}
