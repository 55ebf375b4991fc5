package service

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"friendclub/internal/domain"
)

// MaxMediaBytes caps a decoded attachment.
const MaxMediaBytes = 16 << 20

// DecodeDataURL splits a base64 data URL into its bytes and MIME type. Only
// video and image payloads are accepted.
func DecodeDataURL(dataURL string) ([]byte, string, error) {
	rest, ok := strings.CutPrefix(dataURL, "data:")
	if !ok {
		return nil, "", fmt.Errorf("%w: not a data URL", domain.ErrInvalidInput)
	}
	meta, payload, ok := strings.Cut(rest, ",")
	if !ok {
		return nil, "", fmt.Errorf("%w: data URL has no payload", domain.ErrInvalidInput)
	}
	mimeType, params, _ := strings.Cut(meta, ";")
	if !strings.Contains(params, "base64") {
		return nil, "", fmt.Errorf("%w: data URL must be base64", domain.ErrInvalidInput)
	}
	if !strings.HasPrefix(mimeType, "video/") && !strings.HasPrefix(mimeType, "image/") {
		return nil, "", fmt.Errorf("%w: unsupported media type %q", domain.ErrInvalidInput, mimeType)
	}
	if base64.StdEncoding.DecodedLen(len(payload)) > MaxMediaBytes+3 {
		return nil, "", fmt.Errorf("%w: media too large", domain.ErrInvalidInput)
	}

	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, "", fmt.Errorf("%w: invalid base64 payload", domain.ErrInvalidInput)
	}
	if len(data) == 0 {
		return nil, "", fmt.Errorf("%w: empty media", domain.ErrInvalidInput)
	}
	if len(data) > MaxMediaBytes {
		return nil, "", fmt.Errorf("%w: media too large", domain.ErrInvalidInput)
	}
	return data, mimeType, nil
}

// Transcoder converts media into a format the repository accepts.
type Transcoder interface {
	Transcode(ctx context.Context, data []byte, mimeType string) ([]byte, string, error)
}

// FFmpegTranscoder turns WebM recordings into MP4 with an ffmpeg process.
// Other types pass through unchanged.
type FFmpegTranscoder struct {
	Binary string
}

func NewFFmpegTranscoder() *FFmpegTranscoder {
	return &FFmpegTranscoder{Binary: "ffmpeg"}
}

func (t *FFmpegTranscoder) Transcode(ctx context.Context, data []byte, mimeType string) ([]byte, string, error) {
	if mimeType != "video/webm" {
		return data, mimeType, nil
	}

	dir, err := os.MkdirTemp("", "fc-transcode-")
	if err != nil {
		return nil, "", fmt.Errorf("failed to create temp dir: %w", err)
	}
	defer os.RemoveAll(dir)

	in := filepath.Join(dir, "input.webm")
	out := filepath.Join(dir, "output.mp4")
	if err := os.WriteFile(in, data, 0o600); err != nil {
		return nil, "", fmt.Errorf("failed to write input: %w", err)
	}

	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, t.Binary,
		"-i", in,
		"-c:v", "libx264", "-preset", "fast", "-crf", "28",
		"-an", "-movflags", "+faststart",
		out)
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, "", fmt.Errorf("failed to convert video to MP4: %w: %s", err, lastLine(stderr.String()))
	}

	mp4, err := os.ReadFile(out)
	if err != nil {
		return nil, "", fmt.Errorf("failed to read output: %w", err)
	}
	return mp4, "video/mp4", nil
}

func lastLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndex(s, "\n"); i >= 0 {
		return s[i+1:]
	}
	return s
}
