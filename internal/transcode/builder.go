// Package transcode builds ffmpeg process specifications for streaming
// remux, subtitle extraction and offline conversion. Builders never execute
// anything; callers turn a ProcessSpec into an *exec.Cmd when they are ready
// to own its lifetime.
package transcode

import (
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/ytget/yt-player/internal/model"
)

// FFmpeg constants for streaming and conversion
const (
	FFmpegCommand = "ffmpeg"

	// Streaming remux settings
	StreamVideoCodec   = "libx264"
	StreamVideoPreset  = "veryfast"
	StreamVideoTune    = "zerolatency"
	StreamPixelFormat  = "yuv420p"
	StreamAudioCodec   = "aac"
	StreamAudioBitrate = "192k"
	StreamMovFlags     = "frag_keyframe+empty_moov+default_base_moof"

	// Pipe targets
	StdoutPipeTarget   = "pipe:1"
	ProgressPipeTarget = "pipe:2"

	// WaitDelay bounds how long Wait blocks on pipes after a kill
	WaitDelay = 5 * time.Second
)

// Conversion codecs by target format
const (
	CodecMP3 = "libmp3lame"
	CodecAAC = "aac"
	CodecWAV = "pcm_s16le"
)

// ProcessSpec is a reusable description of an external process
type ProcessSpec struct {
	Binary string
	Args   []string
}

// Command creates the process bound to ctx. Cancelling ctx kills the
// process hard (SIGKILL).
func (p ProcessSpec) Command(ctx context.Context) *exec.Cmd {
	cmd := exec.CommandContext(ctx, p.Binary, p.Args...)
	cmd.WaitDelay = WaitDelay
	return cmd
}

// String renders the command line for logs
func (p ProcessSpec) String() string {
	return strings.Join(append([]string{p.Binary}, p.Args...), " ")
}

// codecPreset is one row of the conversion lookup table
type codecPreset struct {
	codec     string
	container string
	bitrates  map[model.Quality]string
	audioOnly bool
}

// conversionPresets maps a target format to explicit codec and bitrate flags
var conversionPresets = map[string]codecPreset{
	"mp3": {
		codec:     CodecMP3,
		bitrates:  map[model.Quality]string{model.QualityLow: "128k", model.QualityMedium: "192k", model.QualityHigh: "320k"},
		audioOnly: true,
	},
	"aac": {
		codec:     CodecAAC,
		bitrates:  map[model.Quality]string{model.QualityLow: "128k", model.QualityMedium: "192k", model.QualityHigh: "256k"},
		audioOnly: true,
	},
	"wav": {
		codec:     CodecWAV,
		container: "wav",
		audioOnly: true,
	},
}

// Builder produces ffmpeg process specifications
type Builder struct {
	ffmpeg string
}

// NewBuilder creates a builder; an empty path falls back to ffmpeg on PATH
func NewBuilder(ffmpegPath string) *Builder {
	if ffmpegPath == "" {
		ffmpegPath = FFmpegCommand
	}
	return &Builder{ffmpeg: ffmpegPath}
}

// BuildStream returns a fragmented MP4 remux of path starting at
// startSeconds, written to stdout
func (b *Builder) BuildStream(path string, startSeconds float64) ProcessSpec {
	args := []string{"-hide_banner", "-nostdin", "-loglevel", "error"}
	if startSeconds > 0 {
		args = append(args, "-ss", strconv.FormatFloat(startSeconds, 'f', -1, 64))
	}
	args = append(args,
		"-i", path,
		"-map", "0:v:0?",
		"-map", "0:a:0?",
		"-c:v", StreamVideoCodec,
		"-preset", StreamVideoPreset,
		"-tune", StreamVideoTune,
		"-pix_fmt", StreamPixelFormat,
		"-c:a", StreamAudioCodec,
		"-b:a", StreamAudioBitrate,
		"-ac", "2",
		"-movflags", StreamMovFlags,
		"-f", "mp4",
		StdoutPipeTarget,
	)
	return ProcessSpec{Binary: b.ffmpeg, Args: args}
}

// BuildSubtitle returns a WebVTT extraction of the first subtitle track,
// written to stdout
func (b *Builder) BuildSubtitle(path string) ProcessSpec {
	return ProcessSpec{
		Binary: b.ffmpeg,
		Args: []string{
			"-hide_banner", "-nostdin", "-loglevel", "error",
			"-i", path,
			"-map", "0:s:0",
			"-f", "webvtt",
			StdoutPipeTarget,
		},
	}
}

// BuildConvert maps a conversion request to codec and bitrate flags.
// Formats outside the lookup table pass through as a container hint.
func (b *Builder) BuildConvert(req model.ConversionRequest) (ProcessSpec, error) {
	if err := req.Validate(); err != nil {
		return ProcessSpec{}, err
	}

	format := strings.ToLower(strings.TrimSpace(req.Format))
	quality := req.Quality
	if quality == "" {
		quality = model.QualityMedium
	}

	args := []string{
		"-hide_banner", "-nostdin",
		"-y",
		"-i", req.InputPath,
	}

	if preset, ok := conversionPresets[format]; ok {
		if preset.audioOnly {
			args = append(args, "-vn")
		}
		args = append(args, "-c:a", preset.codec)
		if bitrate, ok := preset.bitrates[quality]; ok {
			args = append(args, "-b:a", bitrate)
		}
		if preset.container != "" {
			args = append(args, "-f", preset.container)
		}
	} else {
		args = append(args, "-f", format)
	}

	args = append(args,
		"-progress", ProgressPipeTarget,
		"-nostats",
		req.OutputPath,
	)
	return ProcessSpec{Binary: b.ffmpeg, Args: args}, nil
}

// ConversionBitrate reports the bitrate flag the lookup table assigns to a
// format and quality, or "" when none applies
func ConversionBitrate(format string, quality model.Quality) string {
	preset, ok := conversionPresets[strings.ToLower(format)]
	if !ok {
		return ""
	}
	if quality == "" {
		quality = model.QualityMedium
	}
	return preset.bitrates[quality]
}

// ConversionCodec reports the codec the lookup table assigns to a format
func ConversionCodec(format string) (string, error) {
	preset, ok := conversionPresets[strings.ToLower(format)]
	if !ok {
		return "", fmt.Errorf("no explicit codec for format %q", format)
	}
	return preset.codec, nil
}
