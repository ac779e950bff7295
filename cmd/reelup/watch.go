package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/coah80/reelup/internal/media"
	"github.com/coah80/reelup/internal/upload"
)

// settleDelay is how long a file must go without writes before it is taken.
const settleDelay = 2 * time.Second

var watchCmd = &cobra.Command{
	Use:   "watch <dir> <folder>",
	Short: "Upload every video dropped into a directory",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		dir, folder := args[0], args[1]
		watcher, err := fsnotify.NewWatcher()
		if err != nil {
			return err
		}
		defer watcher.Close()
		if err := watcher.Add(dir); err != nil {
			return fmt.Errorf("watch %s: %w", dir, err)
		}

		p, err := newPipeline(ctx, cfg, log)
		if err != nil {
			return err
		}
		defer p.close(context.Background())

		log.Info("watching", zap.String("dir", dir), zap.String("folder", folder))
		w := &intake{
			settle:  settleDelay,
			folder:  folder,
			manager: p.manager,
			log:     log.Named("watch"),
			timers:  make(map[string]*time.Timer),
		}
		// Runs before p.close so no take can enqueue into a closing manager.
		defer w.stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case ev, ok := <-watcher.Events:
				if !ok {
					return nil
				}
				if ev.Has(fsnotify.Create) || ev.Has(fsnotify.Write) {
					w.touch(ev.Name)
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return nil
				}
				log.Warn("watcher error", zap.Error(err))
			}
		}
	},
}

// intake enqueues files once they stop changing.
type intake struct {
	settle  time.Duration
	folder  string
	manager *upload.Manager
	log     *zap.Logger

	mu      sync.Mutex
	timers  map[string]*time.Timer
	stopped bool
	taking  sync.WaitGroup
}

func (w *intake) touch(path string) {
	if strings.HasPrefix(filepath.Base(path), ".") {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return
	}
	if t, ok := w.timers[path]; ok {
		t.Reset(w.settle)
		return
	}
	w.timers[path] = time.AfterFunc(w.settle, func() { w.take(path) })
}

func (w *intake) take(path string) {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return
	}
	delete(w.timers, path)
	w.taking.Add(1)
	w.mu.Unlock()
	defer w.taking.Done()

	if info, err := os.Stat(path); err != nil || info.IsDir() {
		return
	}
	f, err := media.Open(path, "")
	if err == nil {
		err = upload.Validate(f)
	}
	if err != nil {
		w.log.Info("skipping file", zap.String("path", path), zap.Error(err))
		return
	}
	id := w.manager.Enqueue(f, w.folder, upload.OnComplete(func(video, thumb string) {
		w.log.Info("uploaded", zap.String("path", path), zap.String("video", video), zap.String("thumbnail", thumb))
	}))
	w.log.Debug("enqueued", zap.String("path", path), zap.String("task", id))
}

// stop cancels pending timers and waits for takes already under way. Nothing
// is enqueued once it returns.
func (w *intake) stop() {
	w.mu.Lock()
	w.stopped = true
	for path, t := range w.timers {
		t.Stop()
		delete(w.timers, path)
	}
	w.mu.Unlock()
	w.taking.Wait()
}

func init() {
	rootCmd.AddCommand(watchCmd)
}
