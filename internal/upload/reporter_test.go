package upload

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestReporterStatusLines(t *testing.T) {
	r := NewReporter(time.Hour)

	r.TaskUpdated(TaskView{ID: "1", Status: StatusCompressing})
	require.Equal(t, "Waiting in queue...", r.Current().Status)

	r.TaskUpdated(TaskView{ID: "1", Status: StatusCompressing, Active: true, CompressProgress: 42})
	require.Equal(t, Progress{TaskID: "1", Compression: 42, Status: "Compressing video... 42%"}, r.Current())

	r.TaskUpdated(TaskView{ID: "1", Status: StatusUploading, Active: true, CompressProgress: 100, UploadProgress: 17})
	require.Equal(t, "Uploading... 17%", r.Current().Status)
	require.Equal(t, 100, r.Current().Compression)

	r.TaskUpdated(TaskView{ID: "1", Status: StatusCompleted, CompressProgress: 100, UploadProgress: 100})
	require.Equal(t, "Upload complete!", r.Current().Status)

	r.TaskUpdated(TaskView{ID: "2", Status: StatusError, Error: "compress: media: no usable frame"})
	require.Equal(t, "Upload failed: Couldn't read a frame from this video", r.Current().Status)
}

func TestReporterResetsAfterDelay(t *testing.T) {
	r := NewReporter(20 * time.Millisecond)
	r.TaskUpdated(TaskView{ID: "1", Status: StatusCompleted, CompressProgress: 100, UploadProgress: 100})
	require.Equal(t, 100, r.Current().Upload)

	require.Eventually(t, func() bool { return r.Current() == Progress{} }, time.Second, 5*time.Millisecond)
}

func TestReporterNewTaskCancelsReset(t *testing.T) {
	r := NewReporter(30 * time.Millisecond)
	r.TaskUpdated(TaskView{ID: "1", Status: StatusError, Error: "boom"})
	r.TaskUpdated(TaskView{ID: "2", Status: StatusCompressing, Active: true, CompressProgress: 5})

	time.Sleep(80 * time.Millisecond)
	require.Equal(t, "2", r.Current().TaskID)
	require.Equal(t, 5, r.Current().Compression)
}

func TestReporterSubscribe(t *testing.T) {
	r := NewReporter(time.Hour)
	ch, unsubscribe := r.Subscribe()

	require.Equal(t, Progress{}, <-ch)

	r.TaskUpdated(TaskView{ID: "1", Status: StatusUploading, UploadProgress: 30})
	got := <-ch
	require.Equal(t, 30, got.Upload)
	require.Equal(t, "Uploading... 30%", got.Status)

	unsubscribe()
	_, open := <-ch
	require.False(t, open)
	unsubscribe()

	r.TaskUpdated(TaskView{ID: "1", Status: StatusUploading, UploadProgress: 60})
}
