package upload

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/coah80/reelup/internal/media"
)

var ErrNotVideo = errors.New("upload: file is not a video")

type Status string

const (
	StatusCompressing Status = "compressing"
	StatusUploading   Status = "uploading"
	StatusCompleted   Status = "completed"
	StatusError       Status = "error"
)

func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusError
}

// canAdvance reports whether a task may move from s to next.
func (s Status) canAdvance(next Status) bool {
	switch s {
	case StatusCompressing:
		return next == StatusUploading || next == StatusError
	case StatusUploading:
		return next == StatusCompleted || next == StatusError
	}
	return false
}

// Validate rejects anything whose content is not a video.
func Validate(f media.File) error {
	if !f.IsVideo() {
		return fmt.Errorf("%w: %s is %s", ErrNotVideo, f.Name, f.MIMEType)
	}
	return nil
}

type task struct {
	id        string
	file      media.File
	folder    string
	createdAt time.Time

	status           Status
	active           bool
	compressProgress int
	uploadProgress   int
	errMsg           string
	videoURL         string
	thumbnailURL     string

	onComplete func(videoURL, thumbnailURL string)
	onError    func(err error)
}

func newTaskID() string {
	return fmt.Sprintf("%d-%s", time.Now().UnixMilli(), uuid.NewString()[:8])
}

// TaskView is a read-only copy of a task.
type TaskView struct {
	ID               string    `json:"id"`
	FileName         string    `json:"fileName"`
	FileSize         int64     `json:"fileSize"`
	Folder           string    `json:"folder"`
	Status           Status    `json:"status"`
	Active           bool      `json:"active"`
	Progress         int       `json:"progress"`
	CompressProgress int       `json:"compressProgress"`
	UploadProgress   int       `json:"uploadProgress"`
	Error            string    `json:"error,omitempty"`
	VideoURL         string    `json:"videoUrl,omitempty"`
	ThumbnailURL     string    `json:"thumbnailUrl,omitempty"`
	CreatedAt        time.Time `json:"createdAt"`
}

func (t *task) view() TaskView {
	return TaskView{
		ID:               t.id,
		FileName:         t.file.Name,
		FileSize:         t.file.Size,
		Folder:           t.folder,
		Status:           t.status,
		Active:           t.active,
		Progress:         (t.compressProgress + t.uploadProgress) / 2,
		CompressProgress: t.compressProgress,
		UploadProgress:   t.uploadProgress,
		Error:            t.errMsg,
		VideoURL:         t.videoURL,
		ThumbnailURL:     t.thumbnailURL,
		CreatedAt:        t.createdAt,
	}
}

type TaskOption func(*task)

// OnComplete registers the callback that receives the final URLs.
func OnComplete(fn func(videoURL, thumbnailURL string)) TaskOption {
	return func(t *task) { t.onComplete = fn }
}

func OnError(fn func(err error)) TaskOption {
	return func(t *task) { t.onError = fn }
}
