// Package probe runs ffprobe against a container and converts its JSON
// report into model.MediaMetadata. A single JSON call per file gives
// duration, codecs, bitrate, subtitle tracks and tags.
package probe

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/ytget/yt-player/internal/model"
)

// FFprobeCommand is the default probing engine binary
const FFprobeCommand = "ffprobe"

// Error is returned for every probe failure: unreadable path, non-zero exit
// of the engine or unparseable output.
type Error struct {
	Path   string
	Stderr string
	Err    error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("probe %q: %v", e.Path, e.Err)
	if e.Stderr != "" {
		msg += ": " + e.Stderr
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Prober queries media files through an external ffprobe binary
type Prober struct {
	binary string
	logger *zap.Logger
}

// NewProber creates a prober; an empty binary falls back to ffprobe on PATH
func NewProber(binary string, logger *zap.Logger) *Prober {
	if binary == "" {
		binary = FFprobeCommand
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Prober{binary: binary, logger: logger}
}

// Probe returns the metadata of path. It has no side effects.
func (p *Prober) Probe(ctx context.Context, path string) (model.MediaMetadata, error) {
	if _, err := os.Stat(path); err != nil {
		return model.MediaMetadata{}, &Error{Path: path, Err: err}
	}

	cmd := exec.CommandContext(ctx, p.binary,
		"-v", "quiet",
		"-print_format", "json",
		"-show_format", "-show_streams",
		path,
	)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	out, err := cmd.Output()
	if err != nil {
		p.logger.Debug("ffprobe failed", zap.String("path", path), zap.Error(err))
		return model.MediaMetadata{}, &Error{Path: path, Stderr: strings.TrimSpace(stderr.String()), Err: err}
	}

	meta, err := ParseJSON(out)
	if err != nil {
		return model.MediaMetadata{}, &Error{Path: path, Err: err}
	}
	return meta, nil
}

// ParseJSON converts raw ffprobe JSON output into MediaMetadata.
// Exported for testing without a real ffprobe binary.
func ParseJSON(data []byte) (model.MediaMetadata, error) {
	var raw ffprobeOutput
	if err := json.Unmarshal(data, &raw); err != nil {
		return model.MediaMetadata{}, fmt.Errorf("parse ffprobe JSON: %w", err)
	}
	if raw.Format == nil && len(raw.Streams) == 0 {
		return model.MediaMetadata{}, fmt.Errorf("parse ffprobe JSON: no format or streams")
	}
	return buildMetadata(&raw), nil
}

// --- ffprobe JSON wire types ---

type ffprobeOutput struct {
	Format  *ffprobeFormat  `json:"format"`
	Streams []ffprobeStream `json:"streams"`
}

type ffprobeFormat struct {
	FormatName string            `json:"format_name"`
	Duration   string            `json:"duration"`
	Size       string            `json:"size"`
	BitRate    string            `json:"bit_rate"`
	Tags       map[string]string `json:"tags"`
}

type ffprobeStream struct {
	Index        int               `json:"index"`
	CodecName    string            `json:"codec_name"`
	CodecType    string            `json:"codec_type"`
	Width        int               `json:"width"`
	Height       int               `json:"height"`
	AvgFrameRate string            `json:"avg_frame_rate"`
	RFrameRate   string            `json:"r_frame_rate"`
	Channels     int               `json:"channels"`
	SampleRate   string            `json:"sample_rate"`
	Disposition  map[string]int    `json:"disposition"`
	Tags         map[string]string `json:"tags"`
}

func buildMetadata(raw *ffprobeOutput) model.MediaMetadata {
	var meta model.MediaMetadata
	if f := raw.Format; f != nil {
		meta.Duration = parseFloat(f.Duration)
		meta.Format = f.FormatName
		meta.Size = parseInt64(f.Size)
		meta.BitRate = parseInt64(f.BitRate)
		if len(f.Tags) > 0 {
			meta.Tags = normalizeTags(f.Tags)
		}
	}

	for i := range raw.Streams {
		s := &raw.Streams[i]
		switch s.CodecType {
		case "video":
			// Cover art is exposed as a video stream; it is not playable video.
			if s.Disposition["attached_pic"] == 1 || meta.Video != nil {
				continue
			}
			rate := ParseFrameRate(s.AvgFrameRate)
			if rate == 0 {
				rate = ParseFrameRate(s.RFrameRate)
			}
			meta.Video = &model.VideoInfo{
				Codec:  s.CodecName,
				Width:  s.Width,
				Height: s.Height,
				FPS:    rate,
			}
		case "audio":
			if meta.Audio != nil {
				continue
			}
			meta.Audio = &model.AudioInfo{
				Codec:      s.CodecName,
				Channels:   s.Channels,
				SampleRate: parseInt(s.SampleRate),
			}
		case "subtitle":
			meta.Subtitles = append(meta.Subtitles, model.SubtitleTrack{
				Index:    s.Index,
				Codec:    s.CodecName,
				Language: s.Tags["language"],
			})
		}
	}
	return meta
}

// normalizeTags lowercases keys; containers disagree on TITLE vs title.
func normalizeTags(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[strings.ToLower(k)] = v
	}
	return out
}

// ParseFrameRate parses "30000/1001" or "25" into frames per second.
// Malformed input and zero denominators or numerators yield 0.
func ParseFrameRate(s string) float64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0
	}
	num, den, found := strings.Cut(s, "/")
	if !found {
		v, err := strconv.ParseFloat(s, 64)
		if err != nil || v < 0 {
			return 0
		}
		return v
	}
	n, err := strconv.ParseFloat(num, 64)
	if err != nil {
		return 0
	}
	d, err := strconv.ParseFloat(den, 64)
	if err != nil || d == 0 || n <= 0 {
		return 0
	}
	return n / d
}

// --- Numeric parsing helpers (ffprobe returns numbers as strings) ---

func parseInt64(s string) int64 {
	n, _ := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	return n
}

func parseFloat(s string) float64 {
	f, _ := strconv.ParseFloat(strings.TrimSpace(s), 64)
	return f
}

func parseInt(s string) int {
	n, _ := strconv.Atoi(strings.TrimSpace(s))
	return n
}
