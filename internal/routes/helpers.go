package routes

import (
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/coah80/reelup/internal/config"
	"github.com/coah80/reelup/internal/util"
)

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, map[string]string{"error": msg})
}

func formValueOr(r *http.Request, key, fallback string) string {
	v := strings.TrimSpace(r.FormValue(key))
	if v == "" {
		return fallback
	}
	return v
}

// parseUpload limits the request body and parses a multipart form.
func parseUpload(w http.ResponseWriter, r *http.Request) error {
	r.Body = http.MaxBytesReader(w, r.Body, config.MaxUploadBody)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		return fmt.Errorf("failed to parse upload: file may be too large")
	}
	return nil
}

// saveUploadedFile copies the form file fieldName into dir and returns its
// path and original name.
func saveUploadedFile(r *http.Request, fieldName, dir string) (string, string, error) {
	file, header, err := r.FormFile(fieldName)
	if err != nil {
		return "", "", fmt.Errorf("no file uploaded")
	}
	defer file.Close()

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", "", fmt.Errorf("failed to save file")
	}
	name := util.SanitizeFilename(header.Filename)
	tmpPath := filepath.Join(dir, uuid.NewString()+strings.ToLower(filepath.Ext(name)))
	if err := copyTo(tmpPath, file); err != nil {
		os.Remove(tmpPath)
		return "", "", fmt.Errorf("failed to save file")
	}
	return tmpPath, name, nil
}

func copyTo(path string, src multipart.File) error {
	dst, err := os.Create(path)
	if err != nil {
		return err
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		return err
	}
	return dst.Close()
}
