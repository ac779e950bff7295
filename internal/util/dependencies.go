package util

import (
	"fmt"
	"os/exec"

	"go.uber.org/zap"
)

// CheckDependencies verifies the media binaries are on PATH.
func CheckDependencies(ffmpeg, ffprobe string, log *zap.Logger) error {
	var missing []string
	for _, bin := range []string{ffmpeg, ffprobe} {
		path, err := exec.LookPath(bin)
		if err != nil {
			log.Error("dependency not found", zap.String("binary", bin))
			missing = append(missing, bin)
			continue
		}
		log.Info("dependency found", zap.String("binary", bin), zap.String("path", path))
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required binaries: %v", missing)
	}
	return nil
}
