package media

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

var (
	ErrSizeLimit   = errors.New("media: source exceeds the compression size limit")
	ErrCompression = errors.New("media: compression failed")
	ErrNoFrame     = errors.New("media: no usable frame")
	ErrNoCodec     = errors.New("media: no supported codec")
)

// File is a media file on local disk. Files produced by this package own a
// scratch directory that Release removes.
type File struct {
	Path     string
	Name     string
	Size     int64
	MIMEType string

	release func()
}

// Open stats path and sniffs its content type. name is the user-facing file
// name and defaults to the base of path.
func Open(path, name string) (File, error) {
	info, err := os.Stat(path)
	if err != nil {
		return File{}, err
	}
	if info.IsDir() {
		return File{}, fmt.Errorf("%s is a directory", path)
	}
	mt, err := mimetype.DetectFile(path)
	if err != nil {
		return File{}, fmt.Errorf("detect type of %s: %w", path, err)
	}
	if name == "" {
		name = filepath.Base(path)
	}
	return File{
		Path:     path,
		Name:     name,
		Size:     info.Size(),
		MIMEType: mt.String(),
	}, nil
}

// WithRelease returns a copy of f whose Release runs fn.
func (f File) WithRelease(fn func()) File {
	f.release = fn
	return f
}

// Release frees whatever scratch space backs the file. Safe to call more than once.
func (f File) Release() {
	if f.release != nil {
		f.release()
	}
}

func (f File) IsVideo() bool {
	return strings.HasPrefix(f.MIMEType, "video/")
}

// Ext returns the extension without the dot, lower-cased.
func (f File) Ext() string {
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(f.Name)), ".")
	if ext == "" {
		ext = strings.TrimPrefix(strings.ToLower(filepath.Ext(f.Path)), ".")
	}
	return ext
}

// BaseName is the file name without its extension.
func (f File) BaseName() string {
	return strings.TrimSuffix(f.Name, filepath.Ext(f.Name))
}

func (f File) SizeMB() float64 {
	return float64(f.Size) / (1024 * 1024)
}

// scratch creates a private working directory under dir.
func scratch(dir, pattern string) (string, func(), error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", nil, err
	}
	path, err := os.MkdirTemp(dir, pattern)
	if err != nil {
		return "", nil, err
	}
	return path, func() { os.RemoveAll(path) }, nil
}
