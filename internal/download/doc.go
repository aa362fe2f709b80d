// Package download implements the download pipeline built on top of yt-dlp
// (via github.com/lrstanley/go-ytdlp). Downloads run strictly one at a time
// through a FIFO queue; playlists are expanded into single-item downloads
// with github.com/ytget/ytdlp/v2.
package download
