package transport

import (
	"io"
	"sync"
	"time"
)

const (
	progressStart   = 5
	progressStep    = 2
	progressCeiling = 90
)

// progress publishes a monotonic upload percentage. A timer walks it from 5 to
// 90; bytes read on streaming uploads can push it faster. Only stop(true)
// reports 100.
type progress struct {
	report func(int)

	mu        sync.Mutex
	published int
	synthetic int
	measured  int

	quit chan struct{}
	done chan struct{}
}

func startProgress(tick time.Duration, report func(int)) *progress {
	if report == nil {
		report = func(int) {}
	}
	p := &progress{
		report:    report,
		synthetic: progressStart,
		quit:      make(chan struct{}),
		done:      make(chan struct{}),
	}
	p.mu.Lock()
	p.publishLocked()
	p.mu.Unlock()

	go p.run(tick)
	return p
}

func (p *progress) run(tick time.Duration) {
	defer close(p.done)
	ticker := time.NewTicker(tick)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			p.mu.Lock()
			p.synthetic = min(p.synthetic+progressStep, progressCeiling)
			p.publishLocked()
			p.mu.Unlock()
		case <-p.quit:
			return
		}
	}
}

func (p *progress) measure(pct int) {
	p.mu.Lock()
	p.measured = min(pct, progressCeiling)
	p.publishLocked()
	p.mu.Unlock()
}

func (p *progress) publishLocked() {
	if v := max(p.synthetic, p.measured); v > p.published {
		p.published = v
		p.report(v)
	}
}

func (p *progress) stop(ok bool) {
	close(p.quit)
	<-p.done
	if ok {
		p.mu.Lock()
		p.published = 100
		p.report(100)
		p.mu.Unlock()
	}
}

type countingReader struct {
	r      io.Reader
	total  int64
	read   int64
	report func(int)
}

func (c *countingReader) Read(b []byte) (int, error) {
	n, err := c.r.Read(b)
	c.read += int64(n)
	if c.total > 0 && n > 0 {
		c.report(int(c.read * 100 / c.total))
	}
	return n, err
}
