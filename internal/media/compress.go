package media

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/coah80/reelup/internal/config"
)

// TargetSizeMB picks the compressed size for a source of sizeBytes. Larger
// sources keep a smaller share of their size; the result is clamped to
// [minMB, maxMB].
func TargetSizeMB(sizeBytes int64, minMB, maxMB float64) float64 {
	mb := float64(sizeBytes) / config.MB
	ratio := 0.3
	switch {
	case mb <= 50:
		ratio = 0.7
	case mb <= 100:
		ratio = 0.5
	}
	return math.Min(math.Max(mb*ratio, minMB), maxMB)
}

// ScaleDimensions fits w×h inside a maxSide box without upscaling. Both
// results are rounded to the nearest even number.
func ScaleDimensions(w, h, maxSide int) (int, int) {
	if w <= 0 || h <= 0 {
		return 0, 0
	}
	scale := 1.0
	if longest := max(w, h); longest > maxSide {
		scale = float64(maxSide) / float64(longest)
	}
	return roundEven(float64(w) * scale), roundEven(float64(h) * scale)
}

func roundEven(v float64) int {
	return max(int(math.Round(v/2))*2, 2)
}

// TargetBitrate spreads targetMB over duration seconds, in bits per second,
// never going below minBitrate.
func TargetBitrate(targetMB, duration float64, minBitrate int) int {
	if duration <= 0 {
		return minBitrate
	}
	bps := int(targetMB * 8 * 1024 * 1024 / duration)
	return max(bps, minBitrate)
}

// SafetyTimeout bounds how long an encode may run before it is forced to finalize.
func SafetyTimeout(duration float64, margin, ceiling time.Duration) time.Duration {
	d := time.Duration(duration*float64(time.Second)) + margin
	return min(d, ceiling)
}

type Compressor struct {
	cfg     config.CompressConfig
	tempDir string
	log     *zap.Logger
	probe   Prober
	ffmpeg  Runner
	codecs  []Codec
}

type CompressorOption func(*Compressor)

func WithProber(p Prober) CompressorOption {
	return func(c *Compressor) { c.probe = p }
}

func WithRunner(r Runner) CompressorOption {
	return func(c *Compressor) { c.ffmpeg = r }
}

func WithCodecs(codecs ...Codec) CompressorOption {
	return func(c *Compressor) { c.codecs = codecs }
}

func NewCompressor(cfg config.CompressConfig, tempDir string, log *zap.Logger, opts ...CompressorOption) *Compressor {
	c := &Compressor{
		cfg:     cfg,
		tempDir: tempDir,
		log:     log.Named("compress"),
		probe:   FFprobe{Path: cfg.FFprobePath},
		codecs:  DefaultCodecs,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.ffmpeg == nil {
		c.ffmpeg = NewFFmpeg(cfg.FFmpegPath, c.log)
	}
	return c
}

// Compress returns src unchanged when it is already small enough, otherwise a
// re-encoded copy. The copy lives in a scratch directory freed by Release.
func (c *Compressor) Compress(ctx context.Context, src File, onProgress func(int)) (File, error) {
	if onProgress == nil {
		onProgress = func(int) {}
	}
	if src.Size > c.cfg.MaxSourceBytes() {
		return File{}, fmt.Errorf("%w: %s is %.1fMB, limit is %dMB", ErrSizeLimit, src.Name, src.SizeMB(), c.cfg.MaxSourceMB)
	}

	info, err := c.probe.Probe(ctx, src.Path)
	if err != nil {
		return File{}, fmt.Errorf("%w: %v", ErrCompression, err)
	}

	if info.LongestSide() <= c.cfg.MaxDimension {
		c.log.Debug("compression skipped",
			zap.String("file", src.Name),
			zap.Int("width", info.Width),
			zap.Int("height", info.Height),
			zap.Float64("size_mb", src.SizeMB()),
		)
		onProgress(100)
		return src, nil
	}

	encoders, err := c.ffmpeg.Encoders(ctx)
	if err != nil {
		return File{}, fmt.Errorf("%w: %v", ErrCompression, err)
	}
	codec, err := Negotiate(c.codecs, encoders)
	if err != nil {
		return File{}, fmt.Errorf("%w: %v", ErrCompression, err)
	}

	targetMB := TargetSizeMB(src.Size, c.cfg.MinTargetMB, c.cfg.MaxTargetMB)
	width, height := ScaleDimensions(info.Width, info.Height, c.cfg.MaxDimension)
	bitrate := TargetBitrate(targetMB, info.Duration, c.cfg.MinBitrate)

	workDir, release, err := scratch(c.tempDir, "compress-*")
	if err != nil {
		return File{}, fmt.Errorf("%w: %v", ErrCompression, err)
	}

	name := src.BaseName() + "_compressed." + codec.Container
	outPath := filepath.Join(workDir, name)
	args := c.encodeArgs(src.Path, outPath, info, codec, width, height, bitrate)

	log := c.log.With(zap.String("file", src.Name))
	log.Info("compressing",
		zap.String("codec", codec.Name),
		zap.Int("width", width),
		zap.Int("height", height),
		zap.Int("bitrate", bitrate),
		zap.Float64("target_mb", targetMB),
	)

	timeout := SafetyTimeout(info.Duration, c.cfg.SafetyMargin, c.cfg.SafetyCap)
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := c.ffmpeg.Run(runCtx, args, info.Duration, onProgress); err != nil {
		forced := errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil
		if !forced || fileSize(outPath) == 0 {
			release()
			return File{}, fmt.Errorf("%w: %v", ErrCompression, err)
		}
		log.Warn("encoder finalized by safety timeout", zap.Duration("timeout", timeout))
	}

	size := fileSize(outPath)
	if size == 0 {
		release()
		return File{}, fmt.Errorf("%w: encoder produced no output", ErrCompression)
	}

	onProgress(100)
	log.Info("compressed",
		zap.Float64("from_mb", src.SizeMB()),
		zap.Float64("to_mb", float64(size)/config.MB),
	)
	return File{
		Path:     outPath,
		Name:     name,
		Size:     size,
		MIMEType: codec.MIMEType,
		release:  release,
	}, nil
}

func (c *Compressor) encodeArgs(in, out string, info Info, codec Codec, width, height, bitrate int) []string {
	args := []string{"-hide_banner", "-y", "-i", in, "-map", "0:v:0"}
	if info.HasAudio {
		args = append(args, "-map", "0:a:0")
	} else {
		args = append(args, "-an")
	}
	args = append(args,
		"-vf", fmt.Sprintf("scale=%d:%d", width, height),
		"-r", strconv.Itoa(c.cfg.FPS),
	)
	if codec.VideoEncoder != "" {
		args = append(args, "-c:v", codec.VideoEncoder)
	}
	rate := strconv.Itoa(bitrate)
	args = append(args, "-b:v", rate, "-maxrate", rate, "-bufsize", strconv.Itoa(bitrate*2))
	if info.HasAudio {
		if codec.AudioEncoder != "" {
			args = append(args, "-c:a", codec.AudioEncoder)
		}
		if c.cfg.AudioBitrate != "" {
			args = append(args, "-b:a", c.cfg.AudioBitrate)
		}
	}
	args = append(args, codec.Extra...)
	return append(args, out)
}

func fileSize(path string) int64 {
	info, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return info.Size()
}
