package util

import (
	"regexp"
	"strings"
)

var sizeLimitRe = regexp.MustCompile(`limit is (\d+)mb`)

// ToUserError turns an internal failure message into the text shown in the
// upload error banner.
func ToUserError(message string) string {
	msg := strings.ToLower(message)

	switch {
	case message == "":
		return "Upload failed"
	case strings.Contains(msg, "not a video"):
		return "Please choose a video file"
	case strings.Contains(msg, "size limit"):
		if m := sizeLimitRe.FindStringSubmatch(msg); m != nil {
			return "Video is too large to upload (" + m[1] + "MB max)"
		}
		return "Video is too large to upload"
	case strings.Contains(msg, "no supported codec"):
		return "This server can't re-encode video right now"
	case strings.Contains(msg, "no usable frame"):
		return "Couldn't read a frame from this video"
	case strings.Contains(msg, "compression failed"), strings.Contains(msg, "no video stream"):
		return "Couldn't process this video, it may be corrupted"
	case strings.Contains(msg, "http 401"), strings.Contains(msg, "http 403"):
		return "Upload was refused by storage"
	case strings.Contains(msg, "http 413"), strings.Contains(msg, "too large"):
		return "Video is too large for storage"
	case strings.Contains(msg, "http 5"):
		return "Storage is having trouble, try again"
	case strings.Contains(msg, "connection refused"), strings.Contains(msg, "connection reset"), strings.Contains(msg, "no such host"):
		return "Couldn't reach storage, try again"
	case strings.Contains(msg, "deadline exceeded"), strings.Contains(msg, "timed out"), strings.Contains(msg, "timeout"):
		return "Upload timed out, try again"
	case strings.Contains(msg, "context canceled"):
		return "Upload cancelled"
	}
	return "Upload failed"
}
