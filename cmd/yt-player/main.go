package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/ytget/yt-player/internal/config"
	"github.com/ytget/yt-player/internal/logging"
)

// Version is set during build via -ldflags "-X main.version=X.Y.Z"
var version = "dev"

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	cfg, err := config.Load(args)
	if err != nil {
		return err
	}

	logger, err := logging.New(cfg.Debug)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	command, rest := "serve", cfg.Args
	if len(rest) > 0 {
		command, rest = rest[0], rest[1:]
	}
	if command == "help" || command == "-h" || command == "--help" {
		printUsage()
		return nil
	}
	if command == "version" {
		fmt.Printf("yt-player %s\n", version)
		return nil
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	readOnly := command == "jobs" || command == "settings"
	a, err := newApp(cfg, logger, !readOnly)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := a.shutdown(shutdownCtx); err != nil {
			logger.Warn("Shutdown incomplete", zap.Error(err))
		}
	}()

	logger.Info("Starting", zap.String("version", version), zap.String("command", command))

	switch command {
	case "serve":
		return runServe(ctx, a, rest)
	case "convert":
		return runConvert(ctx, a, rest)
	case "download":
		return runDownload(ctx, a, rest)
	case "playlist":
		return runPlaylist(ctx, a, rest)
	case "jobs":
		return runJobs(a, rest)
	case "clear-history":
		return runClearHistory(a)
	case "settings":
		return runSettings(a, rest)
	default:
		printUsage()
		return fmt.Errorf("unknown command %q", command)
	}
}

func printUsage() {
	fmt.Println("yt-player: local media core with a streaming gateway and background jobs")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  yt-player [global flags] <command> [command flags]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  serve          run the streaming gateway and print playback URLs for the given sources")
	fmt.Println("  convert        convert a local file (-in, -out, -format, -quality)")
	fmt.Println("  download       download a URL (-url, -out, -mode)")
	fmt.Println("  playlist       download every item of a playlist (-url, -out, -mode)")
	fmt.Println("  jobs           list job history, newest first")
	fmt.Println("  clear-history  remove finished jobs from history")
	fmt.Println("  settings       show or update persisted settings")
	fmt.Println("  version        print the version")
	fmt.Println()
	fmt.Println("Global flags: -data-dir -listen -ffmpeg -ffprobe -yt-dlp -max-conversions -stall-timeout -shutdown-timeout -debug")
}
