package model

import (
	"maps"
	"slices"
)

// VideoInfo describes the primary video stream
type VideoInfo struct {
	Codec  string  `json:"codec"`
	Width  int     `json:"width"`
	Height int     `json:"height"`
	FPS    float64 `json:"fps"`
}

// AudioInfo describes the primary audio stream
type AudioInfo struct {
	Codec      string `json:"codec"`
	Channels   int    `json:"channels"`
	SampleRate int    `json:"sampleRate"`
}

// SubtitleTrack describes one subtitle stream
type SubtitleTrack struct {
	Index    int    `json:"index"`
	Codec    string `json:"codec"`
	Language string `json:"language,omitempty"`
}

// MediaMetadata is derived on demand from a container and never persisted
type MediaMetadata struct {
	Duration  float64           `json:"duration"`
	Format    string            `json:"format"`
	BitRate   int64             `json:"bitRate"`
	Size      int64             `json:"size"`
	Video     *VideoInfo        `json:"video,omitempty"`
	Audio     *AudioInfo        `json:"audio,omitempty"`
	Subtitles []SubtitleTrack   `json:"subtitles,omitempty"`
	Tags      map[string]string `json:"tags,omitempty"`
}

// HasSubtitles reports whether at least one subtitle track was found
func (m MediaMetadata) HasSubtitles() bool {
	return len(m.Subtitles) > 0
}

// Clone returns a copy that shares no maps, slices or stream records with m
func (m MediaMetadata) Clone() MediaMetadata {
	out := m
	if m.Video != nil {
		v := *m.Video
		out.Video = &v
	}
	if m.Audio != nil {
		a := *m.Audio
		out.Audio = &a
	}
	out.Subtitles = slices.Clone(m.Subtitles)
	out.Tags = maps.Clone(m.Tags)
	return out
}
