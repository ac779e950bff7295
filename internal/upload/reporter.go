package upload

import (
	"fmt"
	"sync"
	"time"

	"github.com/coah80/reelup/internal/util"
)

// Progress is what the upload control shows: two bars and a status line.
type Progress struct {
	TaskID      string `json:"taskId,omitempty"`
	Compression int    `json:"compression"`
	Upload      int    `json:"upload"`
	Status      string `json:"status"`
}

// Reporter derives Progress from task updates and clears it resetDelay after
// the latest task finishes.
type Reporter struct {
	resetDelay time.Duration

	mu      sync.Mutex
	current Progress
	timer   *time.Timer
	subs    map[int]chan Progress
	nextSub int
}

func NewReporter(resetDelay time.Duration) *Reporter {
	return &Reporter{
		resetDelay: resetDelay,
		subs:       make(map[int]chan Progress),
	}
}

func (r *Reporter) TaskUpdated(v TaskView) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
	r.current = Progress{
		TaskID:      v.ID,
		Compression: v.CompressProgress,
		Upload:      v.UploadProgress,
		Status:      statusLine(v),
	}
	r.publishLocked()

	if v.Status.Terminal() {
		id := v.ID
		r.timer = time.AfterFunc(r.resetDelay, func() { r.reset(id) })
	}
}

func (r *Reporter) reset(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.current.TaskID != id {
		return
	}
	r.current = Progress{}
	r.timer = nil
	r.publishLocked()
}

func (r *Reporter) Current() Progress {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current
}

// Subscribe streams every change. Slow readers miss intermediate values.
func (r *Reporter) Subscribe() (<-chan Progress, func()) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := r.nextSub
	r.nextSub++
	ch := make(chan Progress, 16)
	ch <- r.current
	r.subs[id] = ch

	return ch, func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		if c, ok := r.subs[id]; ok {
			delete(r.subs, id)
			close(c)
		}
	}
}

func (r *Reporter) publishLocked() {
	for _, ch := range r.subs {
		select {
		case ch <- r.current:
		default:
		}
	}
}

func statusLine(v TaskView) string {
	switch v.Status {
	case StatusCompressing:
		if !v.Active {
			return "Waiting in queue..."
		}
		return fmt.Sprintf("Compressing video... %d%%", v.CompressProgress)
	case StatusUploading:
		return fmt.Sprintf("Uploading... %d%%", v.UploadProgress)
	case StatusCompleted:
		return "Upload complete!"
	case StatusError:
		return "Upload failed: " + util.ToUserError(v.Error)
	}
	return ""
}
