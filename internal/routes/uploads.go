package routes

import (
	"errors"
	"net/http"
	"os"
	"path/filepath"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/coah80/reelup/internal/config"
	"github.com/coah80/reelup/internal/media"
	"github.com/coah80/reelup/internal/statuscache"
	"github.com/coah80/reelup/internal/storage"
	"github.com/coah80/reelup/internal/upload"
)

func UploadRoutes(r chi.Router, d *Deps, auth func(http.Handler) http.Handler) {
	r.Group(func(r chi.Router) {
		r.Use(auth)
		r.Post("/api/uploads", d.handleEnqueue)
		r.Get("/api/uploads", d.handleList)
		r.Get("/api/uploads/progress", d.handleProgress)
		r.Get("/api/uploads/{id}", d.handleTask)
	})
}

func (d *Deps) handleEnqueue(w http.ResponseWriter, r *http.Request) {
	if err := parseUpload(w, r); err != nil {
		respondError(w, http.StatusRequestEntityTooLarge, err.Error())
		return
	}
	folder, err := storage.CleanKey(formValueOr(r, "folder", "uploads"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid folder")
		return
	}

	path, name, err := saveUploadedFile(r, "file", filepath.Join(d.Config.TempDir, config.IncomingDir))
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	f, err := media.Open(path, name)
	if err == nil {
		err = upload.Validate(f)
	}
	if err != nil {
		os.Remove(path)
		if errors.Is(err, upload.ErrNotVideo) {
			respondError(w, http.StatusBadRequest, "Please choose a video file")
			return
		}
		d.Log.Error("intake failed", zap.String("file", name), zap.Error(err))
		respondError(w, http.StatusInternalServerError, "failed to read upload")
		return
	}

	id := d.Manager.Enqueue(f.WithRelease(func() { os.Remove(path) }), folder)
	respondJSON(w, http.StatusAccepted, map[string]string{"taskId": id})
}

func (d *Deps) handleList(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, d.Manager.Snapshot())
}

func (d *Deps) handleTask(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if v, ok := d.Manager.Get(id); ok {
		respondJSON(w, http.StatusOK, v)
		return
	}
	if d.Mirror != nil {
		v, err := d.Mirror.Get(r.Context(), id)
		if err == nil {
			respondJSON(w, http.StatusOK, v)
			return
		}
		if !errors.Is(err, statuscache.ErrNotFound) {
			d.Log.Warn("status lookup failed", zap.String("task", id), zap.Error(err))
		}
	}
	respondError(w, http.StatusNotFound, "task not found")
}
