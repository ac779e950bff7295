package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/coah80/reelup/internal/media"
	"github.com/coah80/reelup/internal/upload"
)

var uploadCmd = &cobra.Command{
	Use:   "upload <folder> <file>...",
	Short: "Compress and upload videos through a running server",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		folder, paths := args[0], args[1:]
		files := make([]media.File, 0, len(paths))
		for _, path := range paths {
			f, err := media.Open(path, "")
			if err == nil {
				err = upload.Validate(f)
			}
			if err != nil {
				return fmt.Errorf("%s: %w", path, err)
			}
			files = append(files, f)
		}

		p, err := newPipeline(ctx, cfg, log)
		if err != nil {
			return err
		}

		var mu sync.Mutex
		var failed []error
		for _, f := range files {
			name := f.Name
			p.manager.Enqueue(f, folder,
				upload.OnComplete(func(video, thumb string) {
					mu.Lock()
					defer mu.Unlock()
					fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", video, thumb)
				}),
				upload.OnError(func(err error) {
					mu.Lock()
					defer mu.Unlock()
					failed = append(failed, fmt.Errorf("%s: %w", name, err))
				}),
			)
		}

		waitErr := p.manager.Wait(ctx)
		if err := p.close(context.Background()); err != nil {
			log.Warn("shutdown", zap.Error(err))
		}
		if waitErr != nil {
			return waitErr
		}
		return errors.Join(failed...)
	},
}

func init() {
	rootCmd.AddCommand(uploadCmd)
}
