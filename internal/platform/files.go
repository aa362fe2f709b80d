package platform

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"
)

// File permissions
const (
	DefaultDirPermissions = 0755
)

// File name limits
const (
	MaxFileNameBytes  = 180
	MaxNameDifference = 10
)

// File extensions left behind by an unfinished fetch
var (
	SkippedExtensions = []string{".part", ".ytdl", ".temp", ".tmp"}
)

// forbiddenNameChars cannot appear in a file name on at least one supported OS
const forbiddenNameChars = `<>:"/\|?*`

// CreateDirectoryIfNotExists creates directory if it doesn't exist
func CreateDirectoryIfNotExists(dirPath string) error {
	if _, err := os.Stat(dirPath); os.IsNotExist(err) {
		return os.MkdirAll(dirPath, DefaultDirPermissions)
	}
	return nil
}

// GetHomeDownloadsDir returns the standard Downloads directory for the user
func GetHomeDownloadsDir() (string, error) {
	if runtime.GOOS == "android" || os.Getenv("ANDROID_DATA") != "" || os.Getenv("ANDROID_ROOT") != "" {
		return "/sdcard/Download", nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}
	return filepath.Join(homeDir, "Downloads"), nil
}

// SanitizeFilename makes a title safe to use as a file name: path-hostile
// and control characters are removed, whitespace runs collapse to one space,
// leading and trailing dots and spaces are trimmed and the result is capped
// at MaxFileNameBytes without splitting a rune.
func SanitizeFilename(name string) string {
	var b strings.Builder
	b.Grow(len(name))
	space := false
	for _, r := range name {
		switch {
		case strings.ContainsRune(forbiddenNameChars, r), unicode.IsControl(r) && !unicode.IsSpace(r):
			continue
		case unicode.IsSpace(r):
			space = true
			continue
		}
		if space && b.Len() > 0 {
			b.WriteByte(' ')
		}
		space = false
		b.WriteRune(r)
	}

	out := strings.Trim(b.String(), ". ")
	if len(out) > MaxFileNameBytes {
		cut := MaxFileNameBytes
		for cut > 0 && !utf8.RuneStart(out[cut]) {
			cut--
		}
		out = strings.Trim(out[:cut], ". ")
	}
	return out
}

// FindByBaseName locates the file a fetch actually produced for the planned
// path. The engine may pick a different container, so any file in the same
// directory sharing the planned base name counts; unfinished fragments are
// ignored. When several match, the newest wins. As a last resort a file with
// a nearly identical base name is accepted.
func FindByBaseName(plannedPath string) (string, error) {
	if plannedPath == "" {
		return "", fmt.Errorf("file path is empty")
	}
	if info, err := os.Stat(plannedPath); err == nil && !info.IsDir() {
		return plannedPath, nil
	}

	dir := filepath.Dir(plannedPath)
	baseName := strings.TrimSuffix(filepath.Base(plannedPath), filepath.Ext(plannedPath))

	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", fmt.Errorf("failed to read directory %s: %w", dir, err)
	}

	var exact, similar []string
	for _, entry := range entries {
		if entry.IsDir() || isUnfinished(entry.Name()) {
			continue
		}
		entryName := entry.Name()
		entryBase := strings.TrimSuffix(entryName, filepath.Ext(entryName))

		switch {
		case entryBase == baseName:
			exact = append(exact, filepath.Join(dir, entryName))
		case isSimilarFileName(entryBase, baseName):
			similar = append(similar, filepath.Join(dir, entryName))
		}
	}

	if len(exact) > 0 {
		return newest(exact), nil
	}
	if len(similar) > 0 {
		return newest(similar), nil
	}
	return "", fmt.Errorf("file not found: %s: %w", plannedPath, os.ErrNotExist)
}

func isUnfinished(name string) bool {
	for _, ext := range SkippedExtensions {
		if strings.HasSuffix(name, ext) {
			return true
		}
	}
	return false
}

func newest(paths []string) string {
	sort.SliceStable(paths, func(i, j int) bool {
		infoI, errI := os.Stat(paths[i])
		infoJ, errJ := os.Stat(paths[j])
		if errI != nil || errJ != nil {
			return paths[i] < paths[j]
		}
		return infoI.ModTime().After(infoJ.ModTime())
	})
	return paths[0]
}

// isSimilarFileName checks if two file names are similar enough to be considered the same file
func isSimilarFileName(name1, name2 string) bool {
	clean1 := strings.TrimSpace(name1)
	clean2 := strings.TrimSpace(name2)
	if clean1 == "" || clean2 == "" {
		return false
	}
	if clean1 == clean2 {
		return true
	}

	// Downloaders sometimes swap spaces for underscores
	if strings.ReplaceAll(clean1, "_", " ") == strings.ReplaceAll(clean2, "_", " ") {
		return true
	}

	// Truncated names
	if strings.Contains(clean1, clean2) || strings.Contains(clean2, clean1) {
		diff := len(clean1) - len(clean2)
		if diff < 0 {
			diff = -diff
		}
		return diff <= MaxNameDifference
	}
	return false
}
