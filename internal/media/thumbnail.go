package media

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/disintegration/imaging"
	"go.uber.org/zap"

	"github.com/coah80/reelup/internal/config"
)

// SeekMode selects how a frame grab reaches its offset.
type SeekMode int

const (
	// SeekInput jumps to the nearest keyframe before decoding.
	SeekInput SeekMode = iota
	// SeekDecode decodes from the start and discards frames up to the offset.
	SeekDecode
	// SeekCurrent takes the first decodable frame, ignoring the offset.
	SeekCurrent
)

func (m SeekMode) String() string {
	switch m {
	case SeekInput:
		return "input-seek"
	case SeekDecode:
		return "decode-seek"
	default:
		return "current-frame"
	}
}

type Grabber interface {
	Grab(ctx context.Context, path string, at float64, mode SeekMode) (image.Image, error)
}

// SeekOffset is 5% into the video, kept within [0.1s, 0.5s] to step past
// blank lead-in frames.
func SeekOffset(duration float64) float64 {
	return min(max(duration*0.05, 0.1), 0.5)
}

// settleOnce delivers the first frame offered to it and drops the rest.
type settleOnce struct {
	once sync.Once
	ch   chan image.Image
}

func newSettleOnce() *settleOnce {
	return &settleOnce{ch: make(chan image.Image, 1)}
}

func (s *settleOnce) settle(img image.Image) bool {
	settled := false
	s.once.Do(func() {
		s.ch <- img
		settled = true
	})
	return settled
}

func (s *settleOnce) C() <-chan image.Image {
	return s.ch
}

type Extractor struct {
	cfg     config.ThumbnailConfig
	tempDir string
	log     *zap.Logger
	probe   Prober
	grabber Grabber
}

type ExtractorOption func(*Extractor)

func WithGrabber(g Grabber) ExtractorOption {
	return func(e *Extractor) { e.grabber = g }
}

func WithFrameProber(p Prober) ExtractorOption {
	return func(e *Extractor) { e.probe = p }
}

func NewExtractor(cfg config.ThumbnailConfig, compress config.CompressConfig, tempDir string, log *zap.Logger, opts ...ExtractorOption) *Extractor {
	e := &Extractor{
		cfg:     cfg,
		tempDir: tempDir,
		log:     log.Named("thumbnail"),
		probe:   FFprobe{Path: compress.FFprobePath},
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.grabber == nil {
		e.grabber = FrameGrabber{Runner: NewFFmpeg(compress.FFmpegPath, e.log)}
	}
	return e
}

// Extract renders one JPEG still from src. Two seek strategies race from the
// start; a current-frame grab joins once the seek timeout passes or both
// seeks fail. The overall timeout fails the extraction.
func (e *Extractor) Extract(ctx context.Context, src File) (File, error) {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
	defer cancel()

	info, err := e.probe.Probe(ctx, src.Path)
	if err != nil {
		return File{}, fmt.Errorf("%w: %v", ErrNoFrame, err)
	}
	offset := SeekOffset(info.Duration)

	result := newSettleOnce()
	failed := make(chan error, 3)
	grab := func(mode SeekMode, at float64) {
		img, err := e.grabber.Grab(ctx, src.Path, at, mode)
		if err == nil && img == nil {
			err = fmt.Errorf("empty frame")
		}
		if err != nil {
			failed <- fmt.Errorf("%s: %w", mode, err)
			return
		}
		if result.settle(img) {
			e.log.Debug("frame captured", zap.String("file", src.Name), zap.Stringer("mode", mode))
		}
	}

	go grab(SeekInput, offset)
	go grab(SeekDecode, offset)
	pending := 2

	seekTimer := time.NewTimer(e.cfg.SeekTimeout)
	defer seekTimer.Stop()

	fellBack := false

	var lastErr error
	for {
		select {
		case img := <-result.C():
			return e.encode(img, src)
		case err := <-failed:
			lastErr = err
			pending--
			if pending > 0 {
				continue
			}
			if fellBack {
				return File{}, fmt.Errorf("%w: %v", ErrNoFrame, lastErr)
			}
			fellBack = true
			seekTimer.Stop()
			pending++
			go grab(SeekCurrent, 0)
		case <-seekTimer.C:
			if !fellBack {
				fellBack = true
				e.log.Debug("seek timed out, taking current frame", zap.String("file", src.Name))
				pending++
				go grab(SeekCurrent, 0)
			}
		case <-ctx.Done():
			if lastErr != nil {
				return File{}, fmt.Errorf("%w: timed out: %v", ErrNoFrame, lastErr)
			}
			return File{}, fmt.Errorf("%w: timed out after %s", ErrNoFrame, e.cfg.Timeout)
		}
	}
}

func (e *Extractor) encode(img image.Image, src File) (File, error) {
	b := img.Bounds()
	if b.Dx() < 2 || b.Dy() < 2 {
		img = imaging.Resize(img, max(b.Dx(), 2), max(b.Dy(), 2), imaging.NearestNeighbor)
	}

	workDir, release, err := scratch(e.tempDir, "thumb-*")
	if err != nil {
		return File{}, fmt.Errorf("%w: %v", ErrNoFrame, err)
	}
	name := src.BaseName() + "_thumb.jpg"
	path := filepath.Join(workDir, name)
	if err := imaging.Save(img, path, imaging.JPEGQuality(e.cfg.Quality)); err != nil {
		release()
		return File{}, fmt.Errorf("%w: encode jpeg: %v", ErrNoFrame, err)
	}
	return File{
		Path:     path,
		Name:     name,
		Size:     fileSize(path),
		MIMEType: config.ContainerMIMEs["jpg"],
		release:  release,
	}, nil
}

// FrameGrabber pulls single frames through ffmpeg as PNG on stdout.
type FrameGrabber struct {
	Runner Runner
}

func (g FrameGrabber) Grab(ctx context.Context, path string, at float64, mode SeekMode) (image.Image, error) {
	ts := strconv.FormatFloat(at, 'f', 3, 64)
	args := []string{"-hide_banner", "-v", "error"}
	switch mode {
	case SeekInput:
		args = append(args, "-ss", ts, "-i", path)
	case SeekDecode:
		args = append(args, "-i", path, "-ss", ts)
	default:
		args = append(args, "-i", path)
	}
	args = append(args, "-frames:v", "1", "-f", "image2pipe", "-vcodec", "png", "-")

	out, err := g.Runner.Output(ctx, args)
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no frame at %ss", ts)
	}
	return imaging.Decode(bytes.NewReader(out))
}
