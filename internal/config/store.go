package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"

	"github.com/ytget/yt-player/internal/model"
	"github.com/ytget/yt-player/internal/platform"
)

// StateFileName is the name of the persisted state file inside the data dir
const StateFileName = "state.json"

// FallbackDownloadsDir is used when the home directory cannot be resolved
const FallbackDownloadsDir = "/tmp/downloads"

// Settings are the user preferences kept across restarts
type Settings struct {
	DownloadsPath string `json:"downloadsPath,omitempty"`
}

// State is the whole persisted document
type State struct {
	Settings   Settings    `json:"settings"`
	JobHistory []model.Job `json:"jobHistory"`
}

// Store reads and writes the state file. Every save rewrites the whole
// document through a temp file and rename so readers never see a torn file.
type Store struct {
	path   string
	logger *zap.Logger

	mu    sync.Mutex
	state State
}

// OpenStore loads the state at path. A missing file yields defaults; a
// corrupt file is logged and replaced by defaults on the next save.
func OpenStore(path string, logger *zap.Logger) *Store {
	s := &Store{path: path, logger: logger.Named("store")}
	s.state = s.read()
	return s
}

func (s *Store) read() State {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return State{}
	}
	if err != nil {
		s.logger.Warn("Failed to read state file", zap.String("path", s.path), zap.Error(err))
		return State{}
	}

	var st State
	if err := json.Unmarshal(data, &st); err != nil {
		s.logger.Warn("State file is corrupt, using defaults", zap.String("path", s.path), zap.Error(err))
		return State{}
	}
	return st
}

// Path returns the state file location
func (s *Store) Path() string {
	return s.path
}

// GetDownloadDirectory returns the configured downloads directory, falling
// back to the user's Downloads folder
func (s *Store) GetDownloadDirectory() string {
	s.mu.Lock()
	dir := s.state.Settings.DownloadsPath
	s.mu.Unlock()
	if dir != "" {
		return dir
	}
	defaultDir, err := platform.GetHomeDownloadsDir()
	if err != nil {
		return FallbackDownloadsDir
	}
	return defaultDir
}

// SetDownloadDirectory stores dir and persists the state
func (s *Store) SetDownloadDirectory(dir string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.Settings.DownloadsPath = dir
	return s.writeLocked()
}

// LoadHistory returns the persisted job history
func (s *Store) LoadHistory() []model.Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.Job(nil), s.state.JobHistory...)
}

// SaveHistory replaces the job history and persists the state
func (s *Store) SaveHistory(jobs []model.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.JobHistory = append([]model.Job(nil), jobs...)
	return s.writeLocked()
}

func (s *Store) writeLocked() error {
	data, err := json.MarshalIndent(s.state, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}
	data = append(data, '\n')
	return writeFileAtomic(s.path, data)
}

func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := platform.CreateDirectoryIfNotExists(dir); err != nil {
		return fmt.Errorf("create parent for %s: %w", path, err)
	}

	tmp, err := os.CreateTemp(dir, ".state-tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file for %s: %w", path, err)
	}
	tmpPath := tmp.Name()
	cleanup := func() {
		_ = os.Remove(tmpPath)
	}

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("write temp file for %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("close temp file for %s: %w", path, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		cleanup()
		return fmt.Errorf("atomic rename for %s: %w", path, err)
	}
	return nil
}
