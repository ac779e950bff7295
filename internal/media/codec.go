package media

// Codec describes one output configuration the compressor may use. Empty
// encoder names leave the choice to ffmpeg's defaults for the container.
type Codec struct {
	Name         string
	Container    string
	MIMEType     string
	VideoEncoder string
	AudioEncoder string
	Extra        []string
}

// DefaultCodecs is the preference order tried during negotiation.
var DefaultCodecs = []Codec{
	{
		Name:         "h264",
		Container:    "mp4",
		MIMEType:     "video/mp4",
		VideoEncoder: "libx264",
		AudioEncoder: "aac",
		Extra:        []string{"-preset", "veryfast", "-pix_fmt", "yuv420p", "-movflags", "+faststart"},
	},
	{
		Name:         "vp9",
		Container:    "webm",
		MIMEType:     "video/webm",
		VideoEncoder: "libvpx-vp9",
		AudioEncoder: "libopus",
		Extra:        []string{"-deadline", "realtime", "-cpu-used", "8", "-pix_fmt", "yuv420p"},
	},
	{
		Name:      "default",
		Container: "mp4",
		MIMEType:  "video/mp4",
	},
}

func (c Codec) Supported(encoders map[string]bool) bool {
	if c.VideoEncoder != "" && !encoders[c.VideoEncoder] {
		return false
	}
	if c.AudioEncoder != "" && !encoders[c.AudioEncoder] {
		return false
	}
	return true
}

// Negotiate returns the first codec in preference order the encoder set supports.
func Negotiate(codecs []Codec, encoders map[string]bool) (Codec, error) {
	for _, c := range codecs {
		if c.Supported(encoders) {
			return c, nil
		}
	}
	return Codec{}, ErrNoCodec
}
