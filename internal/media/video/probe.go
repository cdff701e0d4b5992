package video

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"github.com/bull/mediarag/internal/schema"
)

// Metadata is the probed (or synthesized) description of a video file.
type Metadata struct {
	Duration    float64
	FPS         float64
	Resolution  schema.Resolution
	AspectRatio string
	Probed      bool
}

// Probe reads duration/fps/resolution via ffprobe. On any failure it
// synthesizes plausible metadata from the file size so later stages never
// special-case a missing probe.
func (p *Processor) Probe(ctx context.Context, videoPath string) Metadata {
	cmd := exec.CommandContext(ctx, p.cfg.FFprobePath,
		"-v", "quiet",
		"-print_format", "json",
		"-show_streams",
		"-show_format",
		videoPath,
	)
	out, err := cmd.Output()
	if err != nil {
		p.logger.Warn("ffprobe failed, synthesizing metadata", "error", err)
		return heuristicMetadata(videoPath)
	}

	var info struct {
		Streams []struct {
			CodecType          string `json:"codec_type"`
			Width              int    `json:"width"`
			Height             int    `json:"height"`
			Duration           string `json:"duration"`
			AvgFrameRate       string `json:"avg_frame_rate"`
			DisplayAspectRatio string `json:"display_aspect_ratio"`
		} `json:"streams"`
		Format struct {
			Duration string `json:"duration"`
		} `json:"format"`
	}
	if err := json.Unmarshal(out, &info); err != nil {
		p.logger.Warn("ffprobe output unparseable, synthesizing metadata", "error", err)
		return heuristicMetadata(videoPath)
	}

	for _, stream := range info.Streams {
		if stream.CodecType != "video" {
			continue
		}
		meta := Metadata{
			FPS:    parseFrameRate(stream.AvgFrameRate),
			Probed: true,
		}
		meta.Resolution = schema.Resolution{Width: stream.Width, Height: stream.Height}
		if meta.Resolution.Width == 0 || meta.Resolution.Height == 0 {
			meta.Resolution = schema.Resolution{Width: 1280, Height: 720}
		}
		meta.Duration = parseSeconds(stream.Duration)
		if meta.Duration == 0 {
			meta.Duration = parseSeconds(info.Format.Duration)
		}
		if meta.Duration == 0 {
			meta.Duration = heuristicMetadata(videoPath).Duration
		}
		meta.AspectRatio = stream.DisplayAspectRatio
		if meta.AspectRatio == "" {
			meta.AspectRatio = fmt.Sprintf("%d:%d", meta.Resolution.Width, meta.Resolution.Height)
		}
		return meta
	}
	return heuristicMetadata(videoPath)
}

// heuristicMetadata estimates duration from file size and assumes HD 25fps.
func heuristicMetadata(videoPath string) Metadata {
	var size int64 = 10_000_000
	if info, err := os.Stat(videoPath); err == nil {
		size = info.Size()
	}
	duration := float64(size) / 500_000
	if duration < 30 {
		duration = 30
	}
	return Metadata{
		Duration:    duration,
		FPS:         25,
		Resolution:  schema.Resolution{Width: 1280, Height: 720},
		AspectRatio: "16:9",
	}
}

// parseFrameRate tolerates ffprobe's "num/denom" rates, defaulting to 25fps.
func parseFrameRate(value string) float64 {
	if value == "" || value == "0/0" {
		return 25
	}
	if num, denom, ok := strings.Cut(value, "/"); ok {
		n, errN := strconv.ParseFloat(num, 64)
		d, errD := strconv.ParseFloat(denom, 64)
		if errN != nil || errD != nil || d == 0 {
			return 25
		}
		return n / d
	}
	if f, err := strconv.ParseFloat(value, 64); err == nil {
		return f
	}
	return 25
}

func parseSeconds(value string) float64 {
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0
	}
	return f
}
