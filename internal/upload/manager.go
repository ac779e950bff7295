package upload

import (
	"context"
	"fmt"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/sourcegraph/conc/pool"
	"go.uber.org/zap"

	"github.com/coah80/reelup/internal/media"
)

type Compressor interface {
	Compress(ctx context.Context, src media.File, onProgress func(int)) (media.File, error)
}

type Thumbnailer interface {
	Extract(ctx context.Context, src media.File) (media.File, error)
}

type Uploader interface {
	Upload(ctx context.Context, f media.File, folder string, onProgress func(int)) (string, error)
}

// Observer is told about every task change. Calls are made outside the
// manager's lock and must not block for long.
type Observer interface {
	TaskUpdated(v TaskView)
}

type ObserverFunc func(v TaskView)

func (f ObserverFunc) TaskUpdated(v TaskView) { f(v) }

// Snapshot is a consistent copy of the queue.
type Snapshot struct {
	Tasks     []TaskView `json:"tasks"`
	Queued    int        `json:"queued"`
	Active    int        `json:"active"`
	Completed int        `json:"completed"`
	Errored   int        `json:"errored"`
}

// Manager owns the upload queue. At most maxActive tasks are processed at
// once; the rest wait in enqueue order.
type Manager struct {
	compressor  Compressor
	thumbnailer Thumbnailer
	uploader    Uploader
	log         *zap.Logger

	maxActive int
	retention time.Duration
	observers []Observer

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu        sync.Mutex
	tasks     []*task
	active    int
	completed int
	errored   int
	history   *cache.Cache
}

type Option func(*Manager)

func WithMaxActive(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.maxActive = n
		}
	}
}

// WithRetention keeps finished tasks queryable for d after they leave the queue.
func WithRetention(d time.Duration) Option {
	return func(m *Manager) { m.retention = d }
}

func WithObserver(o Observer) Option {
	return func(m *Manager) { m.observers = append(m.observers, o) }
}

func NewManager(c Compressor, th Thumbnailer, up Uploader, log *zap.Logger, opts ...Option) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		compressor:  c,
		thumbnailer: th,
		uploader:    up,
		log:         log.Named("queue"),
		maxActive:   2,
		retention:   10 * time.Minute,
		ctx:         ctx,
		cancel:      cancel,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.history = cache.New(m.retention, time.Minute)
	return m
}

// Enqueue adds f to the queue and returns its task id. It never blocks on
// processing and never refuses a file.
func (m *Manager) Enqueue(f media.File, folder string, opts ...TaskOption) string {
	t := &task{
		id:        newTaskID(),
		file:      f,
		folder:    folder,
		createdAt: time.Now(),
		status:    StatusCompressing,
	}
	for _, opt := range opts {
		opt(t)
	}

	m.mu.Lock()
	m.tasks = append(m.tasks, t)
	m.wg.Add(1)
	v := t.view()
	queued := len(m.tasks)
	m.mu.Unlock()

	m.log.Info("task queued",
		zap.String("task", t.id),
		zap.String("file", f.Name),
		zap.Float64("size_mb", f.SizeMB()),
		zap.Int("queued", queued),
	)
	m.notify(v)
	m.tick()
	return t.id
}

// tick starts pending tasks while there are free slots.
func (m *Manager) tick() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for m.active < m.maxActive {
		t := m.nextPendingLocked()
		if t == nil {
			return
		}
		t.active = true
		m.active++
		go m.process(t)
	}
}

func (m *Manager) nextPendingLocked() *task {
	for _, t := range m.tasks {
		if t.status == StatusCompressing && !t.active {
			return t
		}
	}
	return nil
}

func (m *Manager) process(t *task) {
	defer func() {
		m.mu.Lock()
		m.active--
		m.mu.Unlock()
		m.tick()
	}()
	defer t.file.Release()

	log := m.log.With(zap.String("task", t.id))
	m.notify(m.update(t, nil))

	compressed, err := m.compressor.Compress(m.ctx, t.file, func(pct int) {
		m.notify(m.update(t, func(t *task) { t.compressProgress = pct }))
	})
	if err != nil {
		m.fail(t, log, fmt.Errorf("compress: %w", err))
		return
	}
	defer compressed.Release()

	if !m.advance(t, StatusUploading) {
		return
	}
	log.Debug("uploading", zap.String("file", compressed.Name), zap.Float64("size_mb", compressed.SizeMB()))

	var videoURL, thumbnailURL string
	p := pool.New().WithContext(m.ctx).WithCancelOnError().WithFirstError()
	p.Go(func(ctx context.Context) error {
		thumb, err := m.thumbnailer.Extract(ctx, t.file)
		if err != nil {
			return fmt.Errorf("thumbnail: %w", err)
		}
		defer thumb.Release()
		url, err := m.uploader.Upload(ctx, thumb, t.folder, nil)
		if err != nil {
			return fmt.Errorf("thumbnail upload: %w", err)
		}
		thumbnailURL = url
		return nil
	})
	p.Go(func(ctx context.Context) error {
		url, err := m.uploader.Upload(ctx, compressed, t.folder, func(pct int) {
			m.notify(m.update(t, func(t *task) { t.uploadProgress = pct }))
		})
		if err != nil {
			return fmt.Errorf("video upload: %w", err)
		}
		videoURL = url
		return nil
	})
	if err := p.Wait(); err != nil {
		m.fail(t, log, err)
		return
	}

	m.complete(t, log, videoURL, thumbnailURL)
}

func (m *Manager) update(t *task, fn func(t *task)) TaskView {
	m.mu.Lock()
	defer m.mu.Unlock()
	if fn != nil {
		fn(t)
	}
	return t.view()
}

func (m *Manager) advance(t *task, next Status) bool {
	m.mu.Lock()
	if !t.status.canAdvance(next) {
		from := t.status
		m.mu.Unlock()
		m.log.Error("illegal status transition", zap.String("task", t.id), zap.String("from", string(from)), zap.String("to", string(next)))
		return false
	}
	t.status = next
	if next == StatusUploading {
		t.compressProgress = 100
	}
	v := t.view()
	m.mu.Unlock()

	m.notify(v)
	return true
}

func (m *Manager) fail(t *task, log *zap.Logger, err error) {
	m.mu.Lock()
	if !t.status.canAdvance(StatusError) {
		m.mu.Unlock()
		return
	}
	t.status = StatusError
	t.errMsg = err.Error()
	m.errored++
	v := t.view()
	onError := t.onError
	m.mu.Unlock()

	log.Error("task failed", zap.String("file", t.file.Name), zap.Error(err))
	m.notify(v)
	if onError != nil {
		onError(err)
	}
	m.retire(t)
}

func (m *Manager) complete(t *task, log *zap.Logger, videoURL, thumbnailURL string) {
	m.mu.Lock()
	if !t.status.canAdvance(StatusCompleted) {
		m.mu.Unlock()
		return
	}
	t.status = StatusCompleted
	t.uploadProgress = 100
	t.videoURL = videoURL
	t.thumbnailURL = thumbnailURL
	m.completed++
	v := t.view()
	onComplete := t.onComplete
	m.mu.Unlock()

	log.Info("task completed", zap.String("video", videoURL), zap.String("thumbnail", thumbnailURL))
	m.notify(v)
	if onComplete != nil {
		onComplete(videoURL, thumbnailURL)
	}
	m.retire(t)
}

// retire moves a finished task from the queue into the retained history once
// its callbacks have run.
func (m *Manager) retire(t *task) {
	m.mu.Lock()
	t.active = false
	m.tasks = slices.DeleteFunc(m.tasks, func(x *task) bool { return x == t })
	m.history.SetDefault(t.id, t.view())
	m.mu.Unlock()
	m.wg.Done()
}

func (m *Manager) notify(v TaskView) {
	for _, o := range m.observers {
		o.TaskUpdated(v)
	}
}

// Get looks a task up in the queue, then in the retained history.
func (m *Manager) Get(id string) (TaskView, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.tasks {
		if t.id == id {
			return t.view(), true
		}
	}
	if v, ok := m.history.Get(id); ok {
		return v.(TaskView), true
	}
	return TaskView{}, false
}

// Holds reports whether path is the source of a task still in the queue.
func (m *Manager) Holds(path string) bool {
	path = filepath.Clean(path)
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.tasks {
		if filepath.Clean(t.file.Path) == path {
			return true
		}
	}
	return false
}

func (m *Manager) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := Snapshot{
		Tasks:     make([]TaskView, 0, len(m.tasks)),
		Active:    m.active,
		Completed: m.completed,
		Errored:   m.errored,
	}
	for _, t := range m.tasks {
		s.Tasks = append(s.Tasks, t.view())
		if !t.active && t.status == StatusCompressing {
			s.Queued++
		}
	}
	return s
}

// Wait blocks until every enqueued task has finished or ctx ends.
func (m *Manager) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown waits for the queue to drain until ctx ends, then aborts whatever
// is still running.
func (m *Manager) Shutdown(ctx context.Context) error {
	err := m.Wait(ctx)
	m.cancel()
	return err
}
