package download

import (
	"net/url"
	"strings"
)

// YouTube URL pieces
const (
	YouTubeVideoURLTemplate = "https://www.youtube.com/watch?v=%s"
	shortHost               = "youtu.be"
	fallbackName            = "download"
)

var youtubeHosts = map[string]bool{
	"youtube.com":       true,
	"www.youtube.com":   true,
	"m.youtube.com":     true,
	"music.youtube.com": true,
	shortHost:           true,
}

// playlistParams turn a single-video link into a playlist fetch
var playlistParams = []string{"list", "index", "start_radio", "pp"}

// SanitizeURL strips playlist context from a YouTube link that points at a
// single video so only that video is fetched. Other URLs are returned as-is.
func SanitizeURL(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || !youtubeHosts[strings.ToLower(u.Host)] {
		return raw
	}
	if videoID(u) == "" {
		return raw
	}

	q := u.Query()
	changed := false
	for _, p := range playlistParams {
		if q.Has(p) {
			q.Del(p)
			changed = true
		}
	}
	if !changed {
		return raw
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// PlaylistID returns the list= parameter of a YouTube URL
func PlaylistID(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || !youtubeHosts[strings.ToLower(u.Host)] {
		return ""
	}
	return u.Query().Get("list")
}

func videoID(u *url.URL) string {
	if strings.EqualFold(u.Host, shortHost) {
		return strings.Trim(u.Path, "/")
	}
	if v := u.Query().Get("v"); v != "" {
		return v
	}
	if rest, ok := strings.CutPrefix(u.Path, "/shorts/"); ok {
		return strings.Trim(rest, "/")
	}
	return ""
}

// fallbackTitle names a download whose title could not be resolved
func fallbackTitle(raw string) string {
	if u, err := url.Parse(raw); err == nil {
		if id := videoID(u); id != "" {
			return id
		}
	}
	return fallbackName
}
