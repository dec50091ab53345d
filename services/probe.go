package services

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"deepfake-guard/models"
)

// ProbeResult separates degraded metadata from request failures: a probe never fails
// a request, it only reports whether the metadata it returns is real.
type ProbeResult struct {
	Metadata models.VideoMetadata
	Degraded bool
	Reason   string
}

func degraded(reason string) ProbeResult {
	return ProbeResult{Degraded: true, Reason: reason}
}

// FFProbe reads stream metadata with the ffprobe binary.
type FFProbe struct {
	Path    string
	Timeout time.Duration
}

func NewFFProbe(path string, timeout time.Duration) *FFProbe {
	return &FFProbe{Path: path, Timeout: timeout}
}

func (p *FFProbe) Probe(ctx context.Context, videoPath string) ProbeResult {
	if p.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.Timeout)
		defer cancel()
	}

	args := []string{
		"-v", "error",
		"-select_streams", "v:0",
		"-show_entries", "stream=width,height,duration,codec_name",
		"-print_format", "json",
		videoPath,
	}
	cmd := exec.CommandContext(ctx, p.Path, args...)
	cmd.WaitDelay = time.Second
	var stderr strings.Builder
	cmd.Stderr = &stderr

	out, err := cmd.Output()
	if err != nil {
		var exitErr *exec.ExitError
		switch {
		case errors.Is(ctx.Err(), context.DeadlineExceeded):
			return degraded("ffprobe timed out")
		case errors.As(err, &exitErr):
			return degraded(fmt.Sprintf("ffprobe exited with %d: %s", exitErr.ExitCode(), strings.TrimSpace(stderr.String())))
		default:
			return degraded(fmt.Sprintf("ffprobe not runnable: %v", err))
		}
	}

	meta, err := ParseProbeOutput(out)
	if err != nil {
		return degraded(err.Error())
	}
	return ProbeResult{Metadata: meta}
}

type probeOutput struct {
	Streams []struct {
		Width     int    `json:"width"`
		Height    int    `json:"height"`
		Duration  string `json:"duration"`
		CodecName string `json:"codec_name"`
	} `json:"streams"`
}

// ParseProbeOutput decodes ffprobe's -print_format json output for the first stream.
// ffprobe prints duration as a string; an unparsable duration is treated as unknown.
func ParseProbeOutput(out []byte) (models.VideoMetadata, error) {
	var parsed probeOutput
	if err := json.Unmarshal(out, &parsed); err != nil {
		return models.VideoMetadata{}, fmt.Errorf("decode ffprobe output: %w", err)
	}
	if len(parsed.Streams) == 0 {
		return models.VideoMetadata{}, errors.New("ffprobe reported no video stream")
	}

	s := parsed.Streams[0]
	meta := models.VideoMetadata{
		Width:  max(s.Width, 0),
		Height: max(s.Height, 0),
	}
	if d, err := strconv.ParseFloat(s.Duration, 64); err == nil && d > 0 {
		meta.Duration = d
	}
	if s.CodecName != "" {
		codec := s.CodecName
		meta.Codec = &codec
	}
	return meta, nil
}
