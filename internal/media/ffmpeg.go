package media

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

var ffmpegTimeRegex = regexp.MustCompile(`time=(\d+):(\d+):(\d+\.?\d*)`)

// Runner drives the encoder binary.
type Runner interface {
	// Run encodes with args. When ctx ends the encoder is asked to stop and
	// finalize its output instead of being killed outright.
	Run(ctx context.Context, args []string, duration float64, onProgress func(int)) error
	// Output runs args and returns stdout.
	Output(ctx context.Context, args []string) ([]byte, error)
	// Encoders lists the encoder names the binary was built with.
	Encoders(ctx context.Context) (map[string]bool, error)
}

type FFmpeg struct {
	Path string
	// WaitDelay bounds how long a stopping encoder may take to finalize.
	WaitDelay time.Duration
	Log       *zap.Logger

	encOnce  sync.Once
	encoders map[string]bool
	encErr   error
}

func NewFFmpeg(path string, log *zap.Logger) *FFmpeg {
	if path == "" {
		path = "ffmpeg"
	}
	return &FFmpeg{Path: path, WaitDelay: 10 * time.Second, Log: log}
}

func (f *FFmpeg) command(ctx context.Context, args []string) *exec.Cmd {
	cmd := exec.CommandContext(ctx, f.Path, args...)
	cmd.Cancel = func() error {
		return cmd.Process.Signal(os.Interrupt)
	}
	cmd.WaitDelay = f.WaitDelay
	return cmd
}

func (f *FFmpeg) Run(ctx context.Context, args []string, duration float64, onProgress func(int)) error {
	cmd := f.command(ctx, args)

	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		return err
	}
	if err := cmd.Start(); err != nil {
		return err
	}

	var tail bytes.Buffer
	done := make(chan struct{})
	go func() {
		defer close(done)
		lastPct := -1
		buf := make([]byte, 4096)
		for {
			n, err := stderrPipe.Read(buf)
			if n > 0 {
				chunk := buf[:n]
				keepTail(&tail, chunk)
				if sec, ok := parseProgressTime(string(chunk)); ok && onProgress != nil {
					if pct := percentOf(sec, duration); pct > lastPct {
						lastPct = pct
						onProgress(pct)
					}
				}
			}
			if err != nil {
				return
			}
		}
	}()
	<-done

	if err := cmd.Wait(); err != nil {
		return fmt.Errorf("ffmpeg: %w: %s", err, lastLine(tail.String()))
	}
	return nil
}

func (f *FFmpeg) Output(ctx context.Context, args []string) ([]byte, error) {
	cmd := f.command(ctx, args)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("ffmpeg: %w: %s", err, lastLine(stderr.String()))
	}
	return out, nil
}

func (f *FFmpeg) Encoders(ctx context.Context) (map[string]bool, error) {
	f.encOnce.Do(func() {
		// The list is cached, so one caller's cancellation must not poison it.
		out, err := exec.CommandContext(context.WithoutCancel(ctx), f.Path, "-hide_banner", "-encoders").Output()
		if err != nil {
			f.encErr = fmt.Errorf("list encoders: %w", err)
			return
		}
		f.encoders = parseEncoders(out)
		if f.Log != nil {
			f.Log.Debug("ffmpeg encoders loaded", zap.Int("count", len(f.encoders)))
		}
	})
	return f.encoders, f.encErr
}

// parseEncoders reads the table printed by `ffmpeg -encoders`: a legend, a
// dashed separator, then one " FLAGS name description" row per encoder.
func parseEncoders(out []byte) map[string]bool {
	encoders := make(map[string]bool)
	inTable := false
	scanner := bufio.NewScanner(bytes.NewReader(out))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !inTable {
			inTable = strings.HasPrefix(line, "---")
			continue
		}
		fields := strings.Fields(line)
		if len(fields) >= 2 {
			encoders[fields[1]] = true
		}
	}
	return encoders
}

// parseProgressTime returns the last time= stamp in an ffmpeg stderr chunk.
func parseProgressTime(chunk string) (float64, bool) {
	matches := ffmpegTimeRegex.FindAllStringSubmatch(chunk, -1)
	if len(matches) == 0 {
		return 0, false
	}
	m := matches[len(matches)-1]
	h, _ := strconv.Atoi(m[1])
	mins, _ := strconv.Atoi(m[2])
	sec, _ := strconv.ParseFloat(m[3], 64)
	return float64(h)*3600 + float64(mins)*60 + sec, true
}

func percentOf(current, duration float64) int {
	if duration <= 0 {
		return 0
	}
	pct := int(current / duration * 100)
	return min(max(pct, 0), 100)
}

func keepTail(buf *bytes.Buffer, chunk []byte) {
	const limit = 4096
	buf.Write(chunk)
	if buf.Len() > limit {
		rest := buf.Bytes()[buf.Len()-limit:]
		kept := append([]byte(nil), rest...)
		buf.Reset()
		buf.Write(kept)
	}
}

func lastLine(s string) string {
	lines := strings.FieldsFunc(s, func(r rune) bool { return r == '\n' || r == '\r' })
	if len(lines) == 0 {
		return ""
	}
	return strings.TrimSpace(lines[len(lines)-1])
}
