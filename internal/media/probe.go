package media

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"
)

type Info struct {
	Width    int
	Height   int
	Duration float64
	Codec    string
	HasAudio bool
}

func (i Info) LongestSide() int {
	return max(i.Width, i.Height)
}

type Prober interface {
	Probe(ctx context.Context, path string) (Info, error)
}

// FFprobe reads stream metadata with the ffprobe binary.
type FFprobe struct {
	Path string
}

func (p FFprobe) Probe(ctx context.Context, path string) (Info, error) {
	bin := p.Path
	if bin == "" {
		bin = "ffprobe"
	}
	cmd := exec.CommandContext(ctx, bin,
		"-v", "error",
		"-show_entries", "stream=codec_type,codec_name,width,height:format=duration",
		"-of", "json", path)
	out, err := cmd.Output()
	if err != nil {
		return Info{}, fmt.Errorf("ffprobe %s: %w", path, err)
	}
	return parseProbe(out)
}

func parseProbe(out []byte) (Info, error) {
	var parsed struct {
		Streams []struct {
			CodecType string `json:"codec_type"`
			CodecName string `json:"codec_name"`
			Width     int    `json:"width"`
			Height    int    `json:"height"`
		} `json:"streams"`
		Format struct {
			Duration string `json:"duration"`
		} `json:"format"`
	}
	if err := json.Unmarshal(out, &parsed); err != nil {
		return Info{}, fmt.Errorf("parse ffprobe output: %w", err)
	}

	var info Info
	videoFound := false
	for _, s := range parsed.Streams {
		switch s.CodecType {
		case "video":
			if !videoFound {
				info.Width, info.Height, info.Codec = s.Width, s.Height, s.CodecName
				videoFound = true
			}
		case "audio":
			info.HasAudio = true
		}
	}
	if !videoFound || info.Width <= 0 || info.Height <= 0 {
		return Info{}, fmt.Errorf("no video stream")
	}
	info.Duration, _ = strconv.ParseFloat(parsed.Format.Duration, 64)
	return info, nil
}
