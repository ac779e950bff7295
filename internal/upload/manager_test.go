package upload

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/coah80/reelup/internal/media"
)

type fakeCompressor struct {
	delay    time.Duration
	failName string

	inFlight atomic.Int32
	peak     atomic.Int32
	released atomic.Int32

	mu      sync.Mutex
	started []string
}

func (c *fakeCompressor) Compress(ctx context.Context, src media.File, onProgress func(int)) (media.File, error) {
	c.mu.Lock()
	c.started = append(c.started, src.Name)
	c.mu.Unlock()

	n := c.inFlight.Add(1)
	defer c.inFlight.Add(-1)
	for {
		p := c.peak.Load()
		if n <= p || c.peak.CompareAndSwap(p, n) {
			break
		}
	}

	onProgress(50)
	select {
	case <-time.After(c.delay):
	case <-ctx.Done():
		return media.File{}, ctx.Err()
	}
	if src.Name == c.failName {
		return media.File{}, media.ErrCompression
	}
	onProgress(100)
	out := src
	out.Name = src.BaseName() + "_compressed.mp4"
	return out.WithRelease(func() { c.released.Add(1) }), nil
}

type fakeThumbnailer struct {
	err error
}

func (f *fakeThumbnailer) Extract(_ context.Context, src media.File) (media.File, error) {
	if f.err != nil {
		return media.File{}, f.err
	}
	thumb := src
	thumb.Name = src.BaseName() + "_thumb.jpg"
	thumb.MIMEType = "image/jpeg"
	return thumb, nil
}

type fakeUploader struct {
	failExt string

	mu    sync.Mutex
	names []string
}

func (u *fakeUploader) Upload(_ context.Context, f media.File, folder string, onProgress func(int)) (string, error) {
	u.mu.Lock()
	u.names = append(u.names, f.Name)
	u.mu.Unlock()

	if u.failExt != "" && strings.HasSuffix(f.Name, u.failExt) {
		return "", errors.New("transport: put: HTTP 403")
	}
	if onProgress != nil {
		onProgress(40)
		onProgress(100)
	}
	return "https://cdn.test/" + folder + "/" + f.Name, nil
}

func videoFile(name string) media.File {
	return media.File{Path: "/tmp/" + name, Name: name, Size: 1 << 20, MIMEType: "video/mp4"}
}

func newTestManager(t *testing.T, c Compressor, th Thumbnailer, up Uploader, opts ...Option) *Manager {
	t.Helper()
	m := NewManager(c, th, up, zaptest.NewLogger(t), opts...)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		m.Shutdown(ctx)
	})
	return m
}

func waitDrained(t *testing.T, m *Manager) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, m.Wait(ctx))
	require.Eventually(t, func() bool { return m.Snapshot().Active == 0 }, time.Second, 5*time.Millisecond)
}

func TestManagerCapsConcurrency(t *testing.T) {
	comp := &fakeCompressor{delay: 30 * time.Millisecond}
	m := newTestManager(t, comp, &fakeThumbnailer{}, &fakeUploader{})

	var done atomic.Int32
	for _, name := range []string{"a.mp4", "b.mp4", "c.mp4", "d.mp4", "e.mp4"} {
		m.Enqueue(videoFile(name), "clips", OnComplete(func(string, string) { done.Add(1) }))
	}

	s := m.Snapshot()
	require.LessOrEqual(t, s.Active, 2)
	require.Equal(t, 5, len(s.Tasks))

	waitDrained(t, m)
	require.EqualValues(t, 5, done.Load())
	require.EqualValues(t, 2, comp.peak.Load())
	require.EqualValues(t, 5, comp.released.Load())
	require.Equal(t, 5, m.Snapshot().Completed)
	require.Empty(t, m.Snapshot().Tasks)
}

func TestManagerRespectsCustomCeiling(t *testing.T) {
	comp := &fakeCompressor{delay: 20 * time.Millisecond}
	m := newTestManager(t, comp, &fakeThumbnailer{}, &fakeUploader{}, WithMaxActive(1))
	for _, name := range []string{"a.mp4", "b.mp4", "c.mp4"} {
		m.Enqueue(videoFile(name), "clips")
	}
	waitDrained(t, m)
	require.EqualValues(t, 1, comp.peak.Load())
}

func TestManagerStartsTasksInEnqueueOrder(t *testing.T) {
	comp := &fakeCompressor{delay: 5 * time.Millisecond}
	m := newTestManager(t, comp, &fakeThumbnailer{}, &fakeUploader{}, WithMaxActive(1))

	names := []string{"a.mp4", "b.mp4", "c.mp4", "d.mp4", "e.mp4", "f.mp4"}
	for _, name := range names {
		m.Enqueue(videoFile(name), "clips")
	}
	waitDrained(t, m)

	comp.mu.Lock()
	defer comp.mu.Unlock()
	require.Equal(t, names, comp.started)
}

func TestManagerHoldsQueuedSources(t *testing.T) {
	comp := &fakeCompressor{delay: 50 * time.Millisecond}
	m := newTestManager(t, comp, &fakeThumbnailer{}, &fakeUploader{}, WithMaxActive(1))

	m.Enqueue(videoFile("a.mp4"), "clips")
	m.Enqueue(videoFile("b.mp4"), "clips")
	require.True(t, m.Holds("/tmp/a.mp4"))
	require.True(t, m.Holds("/tmp//b.mp4"))
	require.False(t, m.Holds("/tmp/c.mp4"))

	waitDrained(t, m)
	require.False(t, m.Holds("/tmp/a.mp4"))
	require.False(t, m.Holds("/tmp/b.mp4"))
}

func TestManagerCompletionCallbackOnce(t *testing.T) {
	up := &fakeUploader{}
	m := newTestManager(t, &fakeCompressor{}, &fakeThumbnailer{}, up)

	var calls atomic.Int32
	var gotVideo, gotThumb string
	id := m.Enqueue(videoFile("trip.mov"), "reels", OnComplete(func(video, thumb string) {
		calls.Add(1)
		gotVideo, gotThumb = video, thumb
	}), OnError(func(error) { t.Error("unexpected error callback") }))

	waitDrained(t, m)
	require.EqualValues(t, 1, calls.Load())
	require.Equal(t, "https://cdn.test/reels/trip_compressed.mp4", gotVideo)
	require.Equal(t, "https://cdn.test/reels/trip_thumb.jpg", gotThumb)
	require.ElementsMatch(t, []string{"trip_compressed.mp4", "trip_thumb.jpg"}, up.names)

	v, ok := m.Get(id)
	require.True(t, ok)
	require.Equal(t, StatusCompleted, v.Status)
	require.Equal(t, 100, v.Progress)
	require.Equal(t, gotVideo, v.VideoURL)
	require.False(t, v.Active)
}

func TestManagerIsolatesFailures(t *testing.T) {
	comp := &fakeCompressor{failName: "bad.mp4"}
	m := newTestManager(t, comp, &fakeThumbnailer{}, &fakeUploader{})

	var failed error
	var completed atomic.Int32
	badID := m.Enqueue(videoFile("bad.mp4"), "clips", OnError(func(err error) { failed = err }))
	goodID := m.Enqueue(videoFile("good.mp4"), "clips", OnComplete(func(string, string) { completed.Add(1) }))

	waitDrained(t, m)
	require.ErrorIs(t, failed, media.ErrCompression)
	require.EqualValues(t, 1, completed.Load())

	bad, ok := m.Get(badID)
	require.True(t, ok)
	require.Equal(t, StatusError, bad.Status)
	require.Contains(t, bad.Error, "compression failed")

	good, ok := m.Get(goodID)
	require.True(t, ok)
	require.Equal(t, StatusCompleted, good.Status)

	s := m.Snapshot()
	require.Equal(t, 1, s.Completed)
	require.Equal(t, 1, s.Errored)
}

func TestManagerThumbnailFailureFailsTask(t *testing.T) {
	m := newTestManager(t, &fakeCompressor{}, &fakeThumbnailer{err: media.ErrNoFrame}, &fakeUploader{})

	errCh := make(chan error, 1)
	id := m.Enqueue(videoFile("dark.mp4"), "clips",
		OnComplete(func(string, string) { t.Error("unexpected completion") }),
		OnError(func(err error) { errCh <- err }))

	waitDrained(t, m)
	require.ErrorIs(t, <-errCh, media.ErrNoFrame)
	v, _ := m.Get(id)
	require.Equal(t, StatusError, v.Status)
	require.Empty(t, v.VideoURL)
}

func TestManagerUploadFailure(t *testing.T) {
	m := newTestManager(t, &fakeCompressor{}, &fakeThumbnailer{}, &fakeUploader{failExt: ".mp4"})

	errCh := make(chan error, 1)
	id := m.Enqueue(videoFile("clip.mp4"), "clips", OnError(func(err error) { errCh <- err }))

	waitDrained(t, m)
	require.ErrorContains(t, <-errCh, "video upload")
	v, _ := m.Get(id)
	require.Equal(t, StatusError, v.Status)
	require.Equal(t, 100, v.CompressProgress)
}

func TestManagerObserverSeesLifecycle(t *testing.T) {
	var mu sync.Mutex
	var seen []Status
	obs := ObserverFunc(func(v TaskView) {
		mu.Lock()
		defer mu.Unlock()
		if len(seen) == 0 || seen[len(seen)-1] != v.Status {
			seen = append(seen, v.Status)
		}
	})
	m := newTestManager(t, &fakeCompressor{}, &fakeThumbnailer{}, &fakeUploader{}, WithObserver(obs))
	m.Enqueue(videoFile("a.mp4"), "clips")
	waitDrained(t, m)

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []Status{StatusCompressing, StatusUploading, StatusCompleted}, seen)
}

func TestManagerGetUnknown(t *testing.T) {
	m := newTestManager(t, &fakeCompressor{}, &fakeThumbnailer{}, &fakeUploader{})
	_, ok := m.Get("nope")
	require.False(t, ok)
}

func TestManagerShutdownAbortsRunning(t *testing.T) {
	comp := &fakeCompressor{delay: time.Hour}
	m := NewManager(comp, &fakeThumbnailer{}, &fakeUploader{}, zaptest.NewLogger(t))

	errCh := make(chan error, 1)
	m.Enqueue(videoFile("long.mp4"), "clips", OnError(func(err error) { errCh <- err }))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, m.Shutdown(ctx), context.DeadlineExceeded)

	select {
	case err := <-errCh:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("running task was not aborted")
	}
}

func TestValidate(t *testing.T) {
	require.NoError(t, Validate(videoFile("a.mp4")))
	err := Validate(media.File{Name: "notes.txt", MIMEType: "text/plain; charset=utf-8"})
	require.ErrorIs(t, err, ErrNotVideo)
}
