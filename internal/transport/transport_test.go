package transport

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/coah80/reelup/internal/media"
)

type fakeStorage struct {
	t          *testing.T
	srv        *httptest.Server
	putStatus  int
	putBody    string
	putDelay   time.Duration
	uploadCode int

	signCalls   atomic.Int32
	putCalls    atomic.Int32
	uploadCalls atomic.Int32

	mu         sync.Mutex
	signAuth   string
	putAuth    string
	signedPath string
	folder     string
	uploaded   []byte
}

func newFakeStorage(t *testing.T) *fakeStorage {
	fs := &fakeStorage{t: t, putStatus: http.StatusOK, uploadCode: http.StatusOK}
	mux := http.NewServeMux()
	mux.HandleFunc("POST "+SignPath, func(w http.ResponseWriter, r *http.Request) {
		fs.signCalls.Add(1)
		var req SignRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		fs.mu.Lock()
		fs.signAuth = r.Header.Get("Authorization")
		fs.signedPath = req.FilePath
		fs.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(SignResponse{
			SignedURL: fs.srv.URL + "/put/" + req.FilePath + "?sig=abc",
			PublicURL: "https://cdn.example/" + req.FilePath,
		})
	})
	mux.HandleFunc("PUT /put/", func(w http.ResponseWriter, r *http.Request) {
		fs.putCalls.Add(1)
		fs.mu.Lock()
		fs.putAuth = r.Header.Get("Authorization")
		fs.mu.Unlock()
		io.Copy(io.Discard, r.Body)
		time.Sleep(fs.putDelay)
		w.WriteHeader(fs.putStatus)
		io.WriteString(w, fs.putBody)
	})
	mux.HandleFunc("POST "+UploadPath, func(w http.ResponseWriter, r *http.Request) {
		fs.uploadCalls.Add(1)
		if fs.uploadCode != http.StatusOK {
			w.WriteHeader(fs.uploadCode)
			io.WriteString(w, `{"error":"storage unavailable"}`)
			return
		}
		file, _, err := r.FormFile("file")
		require.NoError(t, err)
		data, _ := io.ReadAll(file)
		fs.mu.Lock()
		fs.folder = r.FormValue("folder")
		fs.uploaded = data
		fs.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(UploadResponse{URL: "https://cdn.example/mediated/" + r.FormValue("folder")})
	})
	fs.srv = httptest.NewServer(mux)
	t.Cleanup(fs.srv.Close)
	return fs
}

func testFile(t *testing.T, size int) media.File {
	t.Helper()
	path := filepath.Join(t.TempDir(), "clip.mp4")
	require.NoError(t, os.WriteFile(path, make([]byte, size), 0o644))
	return media.File{Path: path, Name: "clip.mp4", Size: int64(size), MIMEType: "video/mp4"}
}

type recorder struct {
	mu     sync.Mutex
	values []int
}

func (r *recorder) add(v int) {
	r.mu.Lock()
	r.values = append(r.values, v)
	r.mu.Unlock()
}

func (r *recorder) all() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int(nil), r.values...)
}

func TestUploadDirectBelowLimit(t *testing.T) {
	fs := newFakeStorage(t)
	tr := New(fs.srv.URL, "s3cret", 1024, zaptest.NewLogger(t))

	var rec recorder
	url, err := tr.Upload(context.Background(), testFile(t, 512), "reels", rec.add)
	require.NoError(t, err)
	require.Regexp(t, `^https://cdn\.example/reels/\d+-[0-9a-f]{8}\.mp4$`, url)

	require.Equal(t, int32(1), fs.signCalls.Load())
	require.Equal(t, int32(1), fs.putCalls.Load())
	require.Zero(t, fs.uploadCalls.Load())
	require.Equal(t, "Bearer s3cret", fs.signAuth)
	require.Empty(t, fs.putAuth)

	values := rec.all()
	require.Equal(t, 5, values[0])
	require.Equal(t, 100, values[len(values)-1])
}

func TestUploadAboveLimitGoesThroughServer(t *testing.T) {
	fs := newFakeStorage(t)
	tr := New(fs.srv.URL, "", 1024, zaptest.NewLogger(t))

	url, err := tr.Upload(context.Background(), testFile(t, 4096), "reels", nil)
	require.NoError(t, err)
	require.Equal(t, "https://cdn.example/mediated/reels", url)
	require.Zero(t, fs.signCalls.Load())
	require.Zero(t, fs.putCalls.Load())
	require.Equal(t, int32(1), fs.uploadCalls.Load())
	require.Equal(t, "reels", fs.folder)
	require.Len(t, fs.uploaded, 4096)
}

func TestUploadFallsBackOnPayloadRejection(t *testing.T) {
	cases := []struct {
		name   string
		status int
		body   string
	}{
		{"413", http.StatusRequestEntityTooLarge, ""},
		{"400 entity too large", http.StatusBadRequest, "<Error><Code>EntityTooLarge</Code></Error>"},
		{"400 payload", http.StatusBadRequest, `{"error":"Payload too large"}`},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			fs := newFakeStorage(t)
			fs.putStatus = c.status
			fs.putBody = c.body
			tr := New(fs.srv.URL, "", 1024, zaptest.NewLogger(t))

			var rec recorder
			url, err := tr.Upload(context.Background(), testFile(t, 256), "reels", rec.add)
			require.NoError(t, err)
			require.Equal(t, "https://cdn.example/mediated/reels", url)
			require.Equal(t, int32(1), fs.putCalls.Load())
			require.Equal(t, int32(1), fs.uploadCalls.Load())
			values := rec.all()
			require.Equal(t, 100, values[len(values)-1])
		})
	}
}

func TestUploadHardFailures(t *testing.T) {
	fs := newFakeStorage(t)
	fs.putStatus = http.StatusForbidden
	fs.putBody = "<Error><Code>AccessDenied</Code></Error>"
	tr := New(fs.srv.URL, "", 1024, zaptest.NewLogger(t))

	var rec recorder
	_, err := tr.Upload(context.Background(), testFile(t, 256), "reels", rec.add)
	var se *StatusError
	require.ErrorAs(t, err, &se)
	require.Equal(t, http.StatusForbidden, se.Code)
	require.Equal(t, "put", se.Op)
	require.Zero(t, fs.uploadCalls.Load())
	require.NotContains(t, rec.all(), 100)

	fs.uploadCode = http.StatusInternalServerError
	_, err = tr.Upload(context.Background(), testFile(t, 2048), "reels", nil)
	require.ErrorAs(t, err, &se)
	require.Equal(t, "upload", se.Op)
	require.Equal(t, http.StatusInternalServerError, se.Code)
}

func TestSyntheticProgressClimbsAndCaps(t *testing.T) {
	fs := newFakeStorage(t)
	fs.putDelay = 150 * time.Millisecond
	tr := New(fs.srv.URL, "", 1024, zaptest.NewLogger(t), WithTick(2*time.Millisecond))

	var rec recorder
	_, err := tr.Upload(context.Background(), testFile(t, 128), "reels", rec.add)
	require.NoError(t, err)

	values := rec.all()
	require.GreaterOrEqual(t, len(values), 3)
	require.Equal(t, 5, values[0])
	require.Equal(t, 7, values[1])
	for i, v := range values[:len(values)-1] {
		require.LessOrEqual(t, v, 90)
		if i > 0 {
			require.Greater(t, v, values[i-1])
		}
	}
	require.Equal(t, 100, values[len(values)-1])
}

func TestPayloadRejected(t *testing.T) {
	require.True(t, (&StatusError{Code: 413}).PayloadRejected())
	require.True(t, (&StatusError{Code: 400, Body: "Your proposed upload exceeds the maximum allowed size"}).PayloadRejected())
	require.False(t, (&StatusError{Code: 400, Body: "bad signature"}).PayloadRejected())
	require.False(t, (&StatusError{Code: 500, Body: "too large"}).PayloadRejected())
}

func TestDestination(t *testing.T) {
	re := regexp.MustCompile(`^thumbs/\d{13}-[0-9a-f]{8}\.jpg$`)
	require.Regexp(t, re, Destination("thumbs", "jpg"))
	require.NotEqual(t, Destination("thumbs", "jpg"), Destination("thumbs", "jpg"))
}
