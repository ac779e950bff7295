package media

import (
	"context"
	"image"
	"os"
	"sync"
	"time"
)

type fakeProber struct {
	info  Info
	err   error
	mu    sync.Mutex
	calls int
}

func (p *fakeProber) Probe(ctx context.Context, path string) (Info, error) {
	p.mu.Lock()
	p.calls++
	p.mu.Unlock()
	return p.info, p.err
}

func (p *fakeProber) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

type fakeRunner struct {
	encoders map[string]bool
	output   []byte
	err      error
	// hang makes Run block until its context ends, then write output.
	hang bool

	mu   sync.Mutex
	args [][]string
}

func (r *fakeRunner) Run(ctx context.Context, args []string, duration float64, onProgress func(int)) error {
	r.mu.Lock()
	r.args = append(r.args, args)
	r.mu.Unlock()

	out := args[len(args)-1]
	if r.hang {
		<-ctx.Done()
		if len(r.output) > 0 {
			_ = os.WriteFile(out, r.output, 0o644)
		}
		return ctx.Err()
	}
	if onProgress != nil {
		onProgress(50)
	}
	if len(r.output) > 0 {
		if err := os.WriteFile(out, r.output, 0o644); err != nil {
			return err
		}
	}
	return r.err
}

func (r *fakeRunner) Output(ctx context.Context, args []string) ([]byte, error) {
	return nil, r.err
}

func (r *fakeRunner) Encoders(ctx context.Context) (map[string]bool, error) {
	return r.encoders, nil
}

func (r *fakeRunner) Calls() [][]string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([][]string(nil), r.args...)
}

type grabResult struct {
	delay time.Duration
	img   image.Image
	err   error
	// block waits for the context instead of returning.
	block bool
}

type fakeGrabber struct {
	results map[SeekMode]grabResult

	mu    sync.Mutex
	modes []SeekMode
}

func (g *fakeGrabber) Grab(ctx context.Context, path string, at float64, mode SeekMode) (image.Image, error) {
	g.mu.Lock()
	g.modes = append(g.modes, mode)
	res := g.results[mode]
	g.mu.Unlock()

	if res.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	select {
	case <-time.After(res.delay):
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return res.img, res.err
}

func (g *fakeGrabber) Modes() []SeekMode {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]SeekMode(nil), g.modes...)
}
