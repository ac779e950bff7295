package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/coah80/reelup/internal/routes"
	"github.com/coah80/reelup/internal/server"
	"github.com/coah80/reelup/internal/storage"
	"github.com/coah80/reelup/internal/util"
)

const shutdownTimeout = 30 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the upload API server",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		server.PrintBanner()
		if err := util.CheckDependencies(cfg.Compress.FFmpegPath, cfg.Compress.FFprobePath, log); err != nil {
			return err
		}
		if err := util.EnsureTempDir(cfg.TempDir, log); err != nil {
			return err
		}

		backend, err := storage.New(ctx, cfg.Storage, cfg.Server.Secret, log)
		if err != nil {
			return err
		}
		p, err := newPipeline(ctx, cfg, log)
		if err != nil {
			return err
		}

		cleanup, err := util.StartCleanup(cfg.Cleanup.Schedule, cfg.TempDir, cfg.Cleanup.FileRetention,
			p.manager.Holds, log, p.notifier.DiskSpaceLow)
		if err != nil {
			return err
		}
		defer cleanup.Stop()

		srv := server.New(ctx, &routes.Deps{
			Config:   cfg,
			Storage:  backend,
			Manager:  p.manager,
			Reporter: p.reporter,
			Mirror:   p.mirror,
			Log:      log,
		})

		errCh := make(chan error, 1)
		go func() {
			log.Info("listening", zap.String("addr", srv.Addr), zap.String("storage", cfg.Storage.Driver))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
		}()
		p.notifier.ServerStarted(srv.Addr)

		select {
		case err := <-errCh:
			return err
		case <-ctx.Done():
		}

		log.Info("shutting down")
		p.notifier.ServerStopping()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("server shutdown", zap.Error(err))
		}
		if err := p.close(shutdownCtx); err != nil {
			log.Warn("uploads still running at shutdown were aborted", zap.Error(err))
		}
		log.Info("server stopped")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
