// Package config holds the runtime configuration read from flags and the
// environment, and the persisted state file with user settings and job
// history.
package config

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Environment variables that override defaults; flags override both
const (
	EnvDataDir        = "YTPLAYER_DATA_DIR"
	EnvListenAddr     = "YTPLAYER_LISTEN_ADDR"
	EnvFFmpegPath     = "YTPLAYER_FFMPEG"
	EnvFFprobePath    = "YTPLAYER_FFPROBE"
	EnvYTDLPPath      = "YTPLAYER_YTDLP"
	EnvMaxConversions = "YTPLAYER_MAX_CONVERSIONS"
	EnvStallTimeout   = "YTPLAYER_STALL_TIMEOUT"
	EnvDebug          = "YTPLAYER_DEBUG"
)

// Default values
const (
	DefaultListenAddr     = "127.0.0.1:0"
	DefaultMaxConversions = 2
	DefaultStallTimeout   = 10 * time.Minute
	DefaultShutdown       = 10 * time.Second
	MaxConversionsLimit   = 16
	appDirName            = "yt-player"
)

// Config is the runtime configuration of the media core
type Config struct {
	DataDir         string
	ListenAddr      string
	FFmpegPath      string
	FFprobePath     string
	YTDLPPath       string
	MaxConversions  int
	StallTimeout    time.Duration
	ShutdownTimeout time.Duration
	Debug           bool

	// Args holds the positional arguments left after flag parsing
	Args []string
}

// Default returns the configuration used when nothing is overridden
func Default() Config {
	dataDir := appDirName
	if dir, err := os.UserConfigDir(); err == nil {
		dataDir = filepath.Join(dir, appDirName)
	}
	return Config{
		DataDir:         dataDir,
		ListenAddr:      DefaultListenAddr,
		MaxConversions:  DefaultMaxConversions,
		StallTimeout:    DefaultStallTimeout,
		ShutdownTimeout: DefaultShutdown,
	}
}

// Load builds the configuration from defaults, the environment and args
func Load(args []string) (Config, error) {
	cfg := Default()
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	if err := cfg.ParseFlags(args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ParseFlags overrides cfg from command line args
func (c *Config) ParseFlags(args []string) error {
	fs := flag.NewFlagSet("yt-player", flag.ContinueOnError)
	fs.StringVar(&c.DataDir, "data-dir", c.DataDir, "directory for state.json")
	fs.StringVar(&c.ListenAddr, "listen", c.ListenAddr, "loopback address of the streaming gateway")
	fs.StringVar(&c.FFmpegPath, "ffmpeg", c.FFmpegPath, "path to ffmpeg (default: from PATH)")
	fs.StringVar(&c.FFprobePath, "ffprobe", c.FFprobePath, "path to ffprobe (default: from PATH)")
	fs.StringVar(&c.YTDLPPath, "yt-dlp", c.YTDLPPath, "path to yt-dlp (default: from PATH)")
	fs.IntVar(&c.MaxConversions, "max-conversions", c.MaxConversions, "conversions allowed to run at once")
	fs.DurationVar(&c.StallTimeout, "stall-timeout", c.StallTimeout, "kill a job after this long without progress (0 disables)")
	fs.DurationVar(&c.ShutdownTimeout, "shutdown-timeout", c.ShutdownTimeout, "graceful shutdown deadline")
	fs.BoolVar(&c.Debug, "debug", c.Debug, "development logging")

	fs.SetOutput(flag.CommandLine.Output())
	if err := fs.Parse(args); err != nil {
		return err
	}
	c.Args = fs.Args()
	return c.Validate()
}

// Validate clamps soft limits and rejects values that cannot work
func (c *Config) Validate() error {
	if strings.TrimSpace(c.DataDir) == "" {
		return fmt.Errorf("data dir is required")
	}
	if c.MaxConversions < 1 {
		c.MaxConversions = 1
	}
	if c.MaxConversions > MaxConversionsLimit {
		c.MaxConversions = MaxConversionsLimit
	}
	if c.StallTimeout < 0 {
		return fmt.Errorf("stall timeout must not be negative: %s", c.StallTimeout)
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = DefaultShutdown
	}
	return nil
}

// StatePath is the location of the persisted state file
func (c Config) StatePath() string {
	return filepath.Join(c.DataDir, StateFileName)
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	str(EnvDataDir, &c.DataDir)
	str(EnvListenAddr, &c.ListenAddr)
	str(EnvFFmpegPath, &c.FFmpegPath)
	str(EnvFFprobePath, &c.FFprobePath)
	str(EnvYTDLPPath, &c.YTDLPPath)

	if v, ok := lookup(EnvMaxConversions); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", EnvMaxConversions, err)
		}
		c.MaxConversions = n
	}
	if v, ok := lookup(EnvStallTimeout); ok && v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", EnvStallTimeout, err)
		}
		c.StallTimeout = d
	}
	if v, ok := lookup(EnvDebug); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", EnvDebug, err)
		}
		c.Debug = b
	}
	return nil
}
