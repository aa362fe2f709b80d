package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/ytget/yt-player/internal/model"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.ListenAddr != DefaultListenAddr {
		t.Errorf("Expected listen addr %s, got %s", DefaultListenAddr, cfg.ListenAddr)
	}
	if cfg.MaxConversions != DefaultMaxConversions {
		t.Errorf("Expected max conversions %d, got %d", DefaultMaxConversions, cfg.MaxConversions)
	}
	if cfg.StallTimeout != DefaultStallTimeout {
		t.Errorf("Expected stall timeout %s, got %s", DefaultStallTimeout, cfg.StallTimeout)
	}
	if cfg.DataDir == "" {
		t.Error("Data dir should not be empty")
	}
}

func TestParseFlags(t *testing.T) {
	cfg := Default()
	err := cfg.ParseFlags([]string{
		"-data-dir", "/srv/yt",
		"-ffmpeg", "/opt/ffmpeg",
		"-max-conversions", "4",
		"-stall-timeout", "0",
		"-debug",
		"convert", "-in", "a.mkv",
	})
	if err != nil {
		t.Fatalf("ParseFlags() error = %v", err)
	}

	if cfg.DataDir != "/srv/yt" || cfg.FFmpegPath != "/opt/ffmpeg" {
		t.Errorf("unexpected paths: %+v", cfg)
	}
	if cfg.MaxConversions != 4 || cfg.StallTimeout != 0 || !cfg.Debug {
		t.Errorf("unexpected limits: %+v", cfg)
	}
	if len(cfg.Args) != 3 || cfg.Args[0] != "convert" {
		t.Errorf("Args = %v, want the command and its flags", cfg.Args)
	}
	if cfg.StatePath() != filepath.Join("/srv/yt", StateFileName) {
		t.Errorf("StatePath() = %s", cfg.StatePath())
	}
}

func TestParseFlags_Clamping(t *testing.T) {
	cfg := Default()
	if err := cfg.ParseFlags([]string{"-max-conversions", "0"}); err != nil {
		t.Fatalf("ParseFlags() error = %v", err)
	}
	if cfg.MaxConversions != 1 {
		t.Errorf("Max conversions should be clamped to minimum 1, got %d", cfg.MaxConversions)
	}

	if err := cfg.ParseFlags([]string{"-max-conversions", "100"}); err != nil {
		t.Fatalf("ParseFlags() error = %v", err)
	}
	if cfg.MaxConversions != MaxConversionsLimit {
		t.Errorf("Max conversions should be clamped to %d, got %d", MaxConversionsLimit, cfg.MaxConversions)
	}

	if err := cfg.ParseFlags([]string{"-stall-timeout", "-1s"}); err == nil {
		t.Error("Expected error for negative stall timeout")
	}
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		EnvDataDir:        "/env/data",
		EnvMaxConversions: "3",
		EnvStallTimeout:   "90s",
		EnvDebug:          "true",
	}
	lookup := func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}

	cfg := Default()
	if err := cfg.applyEnv(lookup); err != nil {
		t.Fatalf("applyEnv() error = %v", err)
	}
	if cfg.DataDir != "/env/data" || cfg.MaxConversions != 3 || cfg.StallTimeout != 90*time.Second || !cfg.Debug {
		t.Errorf("unexpected config: %+v", cfg)
	}

	env[EnvMaxConversions] = "many"
	if err := cfg.applyEnv(lookup); err == nil || !strings.Contains(err.Error(), EnvMaxConversions) {
		t.Errorf("Expected error naming %s, got %v", EnvMaxConversions, err)
	}
}

func TestStore_MissingFileUsesDefaults(t *testing.T) {
	store := OpenStore(filepath.Join(t.TempDir(), StateFileName), zaptest.NewLogger(t))

	if len(store.LoadHistory()) != 0 {
		t.Error("Expected empty history")
	}
	if store.GetDownloadDirectory() == "" {
		t.Error("Download directory should not be empty")
	}
}

func TestStore_CorruptFileUsesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), StateFileName)
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	store := OpenStore(path, zaptest.NewLogger(t))
	if len(store.LoadHistory()) != 0 {
		t.Error("Expected empty history for corrupt file")
	}

	// Next save replaces the corrupt file
	if err := store.SetDownloadDirectory("/custom/downloads"); err != nil {
		t.Fatalf("SetDownloadDirectory() error = %v", err)
	}
	reopened := OpenStore(path, zaptest.NewLogger(t))
	if got := reopened.GetDownloadDirectory(); got != "/custom/downloads" {
		t.Errorf("Expected /custom/downloads, got %s", got)
	}
}

func TestStore_HistoryRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", StateFileName)
	store := OpenStore(path, zaptest.NewLogger(t))
	if err := store.SetDownloadDirectory("/music"); err != nil {
		t.Fatalf("SetDownloadDirectory() error = %v", err)
	}

	jobs := []model.Job{
		{ID: "job-2", Type: model.JobTypeDownload, Status: model.JobStatusCompleted, Progress: 100, OutputFile: "/music/b.mp3"},
		{ID: "job-1", Type: model.JobTypeConversion, Status: model.JobStatusFailed, Error: "ffmpeg failed"},
	}
	if err := store.SaveHistory(jobs); err != nil {
		t.Fatalf("SaveHistory() error = %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read state: %v", err)
	}
	for _, key := range []string{`"settings"`, `"downloadsPath": "/music"`, `"jobHistory"`, `"outputFile": "/music/b.mp3"`} {
		if !strings.Contains(string(data), key) {
			t.Errorf("state file missing %s:\n%s", key, data)
		}
	}

	entries, err := os.ReadDir(filepath.Dir(path))
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	if len(entries) != 1 {
		t.Errorf("expected only the state file, temp files left behind: %v", entries)
	}

	reopened := OpenStore(path, zaptest.NewLogger(t))
	got := reopened.LoadHistory()
	if len(got) != 2 || got[0].ID != "job-2" || got[1].Error != "ffmpeg failed" {
		t.Errorf("unexpected history: %+v", got)
	}
	if reopened.GetDownloadDirectory() != "/music" {
		t.Errorf("settings not preserved by SaveHistory")
	}
}
