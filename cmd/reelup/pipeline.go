package main

import (
	"context"
	"os"

	"go.uber.org/zap"

	"github.com/coah80/reelup/internal/alerts"
	"github.com/coah80/reelup/internal/config"
	"github.com/coah80/reelup/internal/media"
	"github.com/coah80/reelup/internal/statuscache"
	"github.com/coah80/reelup/internal/transport"
	"github.com/coah80/reelup/internal/upload"
)

// pipeline is the upload queue with everything hanging off it.
type pipeline struct {
	manager  *upload.Manager
	reporter *upload.Reporter
	mirror   *statuscache.Mirror
	notifier *alerts.Notifier
}

func newPipeline(ctx context.Context, cfg *config.Config, log *zap.Logger, extra ...upload.Observer) (*pipeline, error) {
	if err := os.MkdirAll(cfg.TempDir, 0o755); err != nil {
		return nil, err
	}

	ffmpeg := media.NewFFmpeg(cfg.Compress.FFmpegPath, log.Named("ffmpeg"))
	compressor := media.NewCompressor(cfg.Compress, cfg.TempDir, log, media.WithRunner(ffmpeg))
	extractor := media.NewExtractor(cfg.Thumbnail, cfg.Compress, cfg.TempDir, log,
		media.WithGrabber(media.FrameGrabber{Runner: ffmpeg}))
	tr := transport.New(cfg.Server.APIURL, cfg.Server.Secret, cfg.Upload.DirectLimitBytes(), log,
		transport.WithTick(cfg.Upload.ProgressTick))

	notifier, err := alerts.New(cfg.Alerts, log)
	if err != nil {
		return nil, err
	}

	p := &pipeline{
		reporter: upload.NewReporter(cfg.Upload.ResetDelay),
		notifier: notifier,
	}
	opts := []upload.Option{
		upload.WithMaxActive(cfg.Upload.MaxConcurrent),
		upload.WithRetention(cfg.Upload.RetainFor),
		upload.WithObserver(p.reporter),
		upload.WithObserver(notifier),
	}

	if cfg.Redis.Addr != "" {
		mirror, err := statuscache.Connect(ctx, cfg.Redis, log)
		if err != nil {
			log.Warn("status mirror disabled", zap.Error(err))
		} else {
			p.mirror = mirror
			opts = append(opts, upload.WithObserver(mirror))
		}
	}
	for _, o := range extra {
		opts = append(opts, upload.WithObserver(o))
	}

	p.manager = upload.NewManager(compressor, extractor, tr, log, opts...)
	return p, nil
}

func (p *pipeline) close(ctx context.Context) error {
	err := p.manager.Shutdown(ctx)
	p.notifier.Flush()
	if p.mirror != nil {
		p.mirror.Close()
	}
	return err
}
