package platform

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestCreateDirectoryIfNotExists(t *testing.T) {
	tempDir := t.TempDir()
	testDir := filepath.Join(tempDir, "test_dir")

	if _, err := os.Stat(testDir); !os.IsNotExist(err) {
		t.Fatalf("Test directory already exists: %s", testDir)
	}

	err := CreateDirectoryIfNotExists(testDir)
	if err != nil {
		t.Fatalf("Failed to create directory: %v", err)
	}

	if _, err := os.Stat(testDir); os.IsNotExist(err) {
		t.Fatalf("Directory was not created: %s", testDir)
	}

	// Second call should not fail
	err = CreateDirectoryIfNotExists(testDir)
	if err != nil {
		t.Fatalf("Failed to handle existing directory: %v", err)
	}
}

func TestGetHomeDownloadsDir(t *testing.T) {
	downloadsDir, err := GetHomeDownloadsDir()
	if err != nil {
		t.Fatalf("Failed to get downloads directory: %v", err)
	}

	if downloadsDir == "" {
		t.Fatal("Downloads directory is empty")
	}
}

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"Simple Title", "Simple Title"},
		{`AC/DC: Back in Black?`, "ACDC Back in Black"},
		{"  many   spaces\tand\nnewlines  ", "many spaces and newlines"},
		{`<bad>|"chars"*`, "badchars"},
		{"...dots around...", "dots around"},
		{"bell\x07char", "bellchar"},
		{"Привет мир", "Привет мир"},
		{"", ""},
		{"???", ""},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := SanitizeFilename(tt.input); got != tt.expected {
				t.Errorf("SanitizeFilename(%q) = %q, expected %q", tt.input, got, tt.expected)
			}
		})
	}
}

func TestSanitizeFilename_Truncates(t *testing.T) {
	long := strings.Repeat("я", 200) // 400 bytes
	got := SanitizeFilename(long)
	if len(got) > MaxFileNameBytes {
		t.Errorf("expected at most %d bytes, got %d", MaxFileNameBytes, len(got))
	}
	if !strings.HasPrefix(long, got) || len(got)%2 != 0 {
		t.Errorf("truncation split a rune: %q", got)
	}
}

func TestFindByBaseName_ExistingFile(t *testing.T) {
	dir := t.TempDir()
	planned := filepath.Join(dir, "Song.mp4")
	if err := os.WriteFile(planned, []byte("x"), 0644); err != nil {
		t.Fatalf("Failed to create test file: %v", err)
	}

	got, err := FindByBaseName(planned)
	if err != nil {
		t.Fatalf("Expected to find file, got error: %v", err)
	}
	if got != planned {
		t.Errorf("Expected %s, got %s", planned, got)
	}
}

func TestFindByBaseName_DifferentExtension(t *testing.T) {
	dir := t.TempDir()
	planned := filepath.Join(dir, "Song.mp4")
	actual := filepath.Join(dir, "Song.webm")

	for _, name := range []string{"Song.webm.part", "Song.f137.mp4.ytdl", "Other.mkv"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("x"), 0644); err != nil {
			t.Fatalf("Failed to create %s: %v", name, err)
		}
	}
	if err := os.WriteFile(actual, []byte("x"), 0644); err != nil {
		t.Fatalf("Failed to create test file: %v", err)
	}

	got, err := FindByBaseName(planned)
	if err != nil {
		t.Fatalf("Expected to find file, got error: %v", err)
	}
	if got != actual {
		t.Errorf("Expected %s, got %s", actual, got)
	}
}

func TestFindByBaseName_PrefersNewest(t *testing.T) {
	dir := t.TempDir()
	older := filepath.Join(dir, "Song.mkv")
	newer := filepath.Join(dir, "Song.webm")
	for _, p := range []string{older, newer} {
		if err := os.WriteFile(p, []byte("x"), 0644); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	past := time.Now().Add(-time.Hour)
	if err := os.Chtimes(older, past, past); err != nil {
		t.Fatalf("chtimes: %v", err)
	}

	got, err := FindByBaseName(filepath.Join(dir, "Song.mp4"))
	if err != nil {
		t.Fatalf("FindByBaseName() error = %v", err)
	}
	if got != newer {
		t.Errorf("Expected newest %s, got %s", newer, got)
	}
}

func TestFindByBaseName_SimilarName(t *testing.T) {
	dir := t.TempDir()
	actual := filepath.Join(dir, "My_Song.mp4")
	if err := os.WriteFile(actual, []byte("x"), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}

	got, err := FindByBaseName(filepath.Join(dir, "My Song.mp4"))
	if err != nil {
		t.Fatalf("FindByBaseName() error = %v", err)
	}
	if got != actual {
		t.Errorf("Expected %s, got %s", actual, got)
	}
}

func TestFindByBaseName_NotFound(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "Song.mp4.part"), []byte("x"), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}

	_, err := FindByBaseName(filepath.Join(dir, "Song.mp4"))
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("Expected ErrNotExist, got %v", err)
	}
}

func TestIsSimilarFileName(t *testing.T) {
	tests := []struct {
		name1, name2 string
		expected     bool
	}{
		{"test", "test", true},
		{"test", "-test", true},
		{"test", "test-", true},
		{"test", "_test", true},
		{"test", " test", true},
		{"test", "other", false},
		{"my video", "my_video", true},
		{"test_video", "test_video_long", true},
		{"test_video_very_long_name", "test_video", false}, // too different
		{"", "test", false},
	}

	for _, tt := range tests {
		t.Run(tt.name1+"_"+tt.name2, func(t *testing.T) {
			result := isSimilarFileName(tt.name1, tt.name2)
			if result != tt.expected {
				t.Errorf("isSimilarFileName(%q, %q) = %v, expected %v",
					tt.name1, tt.name2, result, tt.expected)
			}
		})
	}
}
