package download

import (
	"context"
	"fmt"
	"time"

	ytdlpv2 "github.com/ytget/ytdlp/v2"
	"go.uber.org/zap"

	"github.com/ytget/yt-player/internal/model"
)

// DefaultPlaylistTimeout bounds one playlist listing
const DefaultPlaylistTimeout = 60 * time.Second

// ListFunc returns every item of the playlist with the given id
type ListFunc func(ctx context.Context, playlistID string) ([]model.PlaylistItem, error)

// PlaylistExpander turns a playlist URL into single-video download URLs
type PlaylistExpander struct {
	list    ListFunc
	timeout time.Duration
	logger  *zap.Logger
}

// NewPlaylistExpander creates an expander. A nil list uses the YouTube
// playlist client.
func NewPlaylistExpander(list ListFunc, logger *zap.Logger) *PlaylistExpander {
	if list == nil {
		list = listYouTube
	}
	return &PlaylistExpander{list: list, timeout: DefaultPlaylistTimeout, logger: logger.Named("playlist")}
}

// Expand lists the playlist behind url
func (p *PlaylistExpander) Expand(ctx context.Context, url string) ([]model.PlaylistItem, error) {
	id := PlaylistID(url)
	if id == "" {
		return nil, fmt.Errorf("%w: not a playlist URL: %s", model.ErrInvalidInput, url)
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	items, err := p.list(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get playlist items: %w", err)
	}
	p.logger.Info("Playlist expanded", zap.String("playlist_id", id), zap.Int("items", len(items)))
	return items, nil
}

func listYouTube(ctx context.Context, playlistID string) ([]model.PlaylistItem, error) {
	entries, err := ytdlpv2.New().GetPlaylistItemsAll(ctx, playlistID, 0)
	if err != nil {
		return nil, err
	}
	items := make([]model.PlaylistItem, 0, len(entries))
	for _, e := range entries {
		if e.VideoID == "" {
			continue
		}
		items = append(items, model.PlaylistItem{
			ID:    e.VideoID,
			Title: e.Title,
			URL:   fmt.Sprintf(YouTubeVideoURLTemplate, e.VideoID),
		})
	}
	return items, nil
}
