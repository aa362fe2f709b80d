package download

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/lrstanley/go-ytdlp"
	"go.uber.org/zap"

	"github.com/ytget/yt-player/internal/model"
)

// Fetch engine settings
const (
	progressInterval = 500 * time.Millisecond
	bestFormat       = "bv*+ba/b"
	videoFormat      = "bv*"
	audioFormat      = "mp3"
	mergeFormat      = "mp4"
)

// FetchProgress is one progress tick of the fetch engine
type FetchProgress struct {
	Percent float64
	Title   string
	ETA     time.Duration
}

// Fetcher wraps the external fetch engine
type Fetcher interface {
	// ResolveTitle asks the engine for the media title without downloading
	ResolveTitle(ctx context.Context, url string) (string, error)
	// Fetch downloads url to outputTemplate and returns the file the engine
	// reported, which may be empty
	Fetch(ctx context.Context, url, outputTemplate string, mode model.DownloadMode, progress func(FetchProgress)) (string, error)
}

// YTDLPFetcher drives yt-dlp through go-ytdlp
type YTDLPFetcher struct {
	binary string
	logger *zap.Logger
}

// NewYTDLPFetcher creates a fetcher. An empty binary uses yt-dlp from PATH.
func NewYTDLPFetcher(binary string, logger *zap.Logger) *YTDLPFetcher {
	return &YTDLPFetcher{binary: binary, logger: logger.Named("ytdlp")}
}

func (f *YTDLPFetcher) command() *ytdlp.Command {
	cmd := ytdlp.New().NoPlaylist()
	if f.binary != "" {
		cmd.SetExecutable(f.binary)
	}
	return cmd
}

// ResolveTitle implements Fetcher
func (f *YTDLPFetcher) ResolveTitle(ctx context.Context, url string) (string, error) {
	result, err := f.command().SkipDownload().DumpJSON().Run(ctx, url)
	if err != nil {
		return "", fmt.Errorf("failed to resolve title: %w", err)
	}
	info, err := result.GetExtractedInfo()
	if err != nil {
		return "", fmt.Errorf("failed to parse extracted info: %w", err)
	}
	if len(info) == 0 || info[0].Title == nil || *info[0].Title == "" {
		return "", errors.New("engine returned no title")
	}
	return *info[0].Title, nil
}

// Fetch implements Fetcher
func (f *YTDLPFetcher) Fetch(ctx context.Context, url, outputTemplate string, mode model.DownloadMode, progress func(FetchProgress)) (string, error) {
	cmd := f.command().Output(outputTemplate)
	switch mode {
	case model.DownloadModeAudio:
		cmd.ExtractAudio().AudioFormat(audioFormat)
	case model.DownloadModeVideo:
		cmd.Format(videoFormat)
	default:
		cmd.Format(bestFormat).MergeOutputFormat(mergeFormat)
	}

	cmd.ProgressFunc(progressInterval, func(update ytdlp.ProgressUpdate) {
		p := FetchProgress{}
		if update.TotalBytes > 0 {
			p.Percent = float64(update.DownloadedBytes) / float64(update.TotalBytes) * 100
		}
		if eta := update.ETA(); eta > 0 {
			p.ETA = eta
		}
		if update.Info != nil && update.Info.Title != nil {
			p.Title = *update.Info.Title
		}
		progress(p)
	})

	f.logger.Debug("Starting fetch", zap.String("url", url), zap.String("output", outputTemplate), zap.String("mode", string(mode)))
	result, err := cmd.Run(ctx, url)
	if err != nil {
		return "", fmt.Errorf("yt-dlp failed: %w", err)
	}

	if result != nil {
		if info, err := result.GetExtractedInfo(); err == nil && len(info) > 0 && info[0].Filename != nil {
			return *info[0].Filename, nil
		}
	}
	return "", nil
}
