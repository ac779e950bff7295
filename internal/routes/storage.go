package routes

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/coah80/reelup/internal/config"
	"github.com/coah80/reelup/internal/storage"
	"github.com/coah80/reelup/internal/transport"
)

// StorageRoutes serves the sign and upload endpoints the transport talks
// to, plus the local backend's PUT target and public files.
func StorageRoutes(r chi.Router, d *Deps, auth func(http.Handler) http.Handler) {
	r.With(auth).Post(transport.SignPath, d.handleSign)
	r.With(auth).Post(transport.UploadPath, d.handleStorageUpload)

	if local, ok := d.Storage.(*storage.Local); ok {
		r.Put(storage.PutPrefix+"*", d.handleLocalPut(local))
		r.Handle(storage.MediaPrefix+"*", http.StripPrefix(storage.MediaPrefix, http.FileServer(http.Dir(local.Dir()))))
	}
}

func (d *Deps) handleSign(w http.ResponseWriter, r *http.Request) {
	var req transport.SignRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10)).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.FilePath == "" || req.ContentType == "" {
		respondError(w, http.StatusBadRequest, "filePath and contentType are required")
		return
	}

	signed, err := d.Storage.SignUpload(r.Context(), req.FilePath, req.ContentType)
	if err != nil {
		d.storageError(w, "sign", err)
		return
	}
	respondJSON(w, http.StatusOK, transport.SignResponse{SignedURL: signed.URL, PublicURL: signed.PublicURL})
}

func (d *Deps) handleStorageUpload(w http.ResponseWriter, r *http.Request) {
	if err := parseUpload(w, r); err != nil {
		respondError(w, http.StatusRequestEntityTooLarge, err.Error())
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		respondError(w, http.StatusBadRequest, "no file uploaded")
		return
	}
	defer file.Close()

	contentType := header.Header.Get("Content-Type")
	if contentType == "" || contentType == "application/octet-stream" {
		if mt, err := mimetype.DetectReader(file); err == nil {
			contentType = mt.String()
		}
		if _, err := file.Seek(0, io.SeekStart); err != nil {
			respondError(w, http.StatusInternalServerError, "failed to read upload")
			return
		}
	}

	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(header.Filename)), ".")
	key := transport.Destination(formValueOr(r, "folder", "uploads"), ext)
	url, err := d.Storage.Put(r.Context(), key, file, header.Size, contentType)
	if err != nil {
		d.storageError(w, "upload", err)
		return
	}
	respondJSON(w, http.StatusOK, transport.UploadResponse{URL: url})
}

func (d *Deps) handleLocalPut(local *storage.Local) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key := chi.URLParam(r, "*")
		if err := local.Verify(r.URL.Query().Get("token"), key, r.Header.Get("Content-Type")); err != nil {
			respondError(w, http.StatusForbidden, err.Error())
			return
		}
		if r.ContentLength > config.MaxUploadBody {
			respondError(w, http.StatusRequestEntityTooLarge, "EntityTooLarge: body exceeds maximum size")
			return
		}

		body := http.MaxBytesReader(w, r.Body, config.MaxUploadBody)
		url, err := local.Put(r.Context(), key, body, r.ContentLength, r.Header.Get("Content-Type"))
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				respondError(w, http.StatusRequestEntityTooLarge, "EntityTooLarge: body exceeds maximum size")
				return
			}
			d.storageError(w, "put", err)
			return
		}
		respondJSON(w, http.StatusOK, transport.UploadResponse{URL: url})
	}
}

func (d *Deps) storageError(w http.ResponseWriter, op string, err error) {
	if storage.IsClientError(err) {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	d.Log.Error("storage request failed", zap.String("op", op), zap.Error(err))
	respondError(w, http.StatusInternalServerError, "storage failure")
}
