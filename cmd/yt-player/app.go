package main

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/ytget/yt-player/internal/config"
	"github.com/ytget/yt-player/internal/convert"
	"github.com/ytget/yt-player/internal/download"
	"github.com/ytget/yt-player/internal/gateway"
	"github.com/ytget/yt-player/internal/jobs"
	"github.com/ytget/yt-player/internal/metrics"
	"github.com/ytget/yt-player/internal/netstream"
	"github.com/ytget/yt-player/internal/probe"
	"github.com/ytget/yt-player/internal/transcode"
)

// app holds every long-lived component, built once at startup
type app struct {
	cfg     config.Config
	logger  *zap.Logger
	metrics *metrics.Metrics
	store   *config.Store
	gateway *gateway.Server
	jobs    *jobs.Orchestrator
}

// newApp wires every component. Without withJobs no orchestrator is built,
// so the persisted history is only read: restoring it would mark the jobs of
// another running instance as interrupted.
func newApp(cfg config.Config, logger *zap.Logger, withJobs bool) (*app, error) {
	m := metrics.New()
	store := config.OpenStore(cfg.StatePath(), logger)

	prober := probe.NewCache(probe.NewProber(cfg.FFprobePath, logger.Named("probe")), probe.DefaultCacheTTL).
		CountHits(m.ProbeCacheHits)
	builder := transcode.NewBuilder(cfg.FFmpegPath)

	sources := netstream.NewRouter()
	sources.Register(netstream.NewHTTPSource(nil, logger.Named("netstream")), "http", "https")

	conversions := convert.NewRunner(builder, prober, logger, m, convert.Options{
		MaxConcurrent: cfg.MaxConversions,
		StallTimeout:  cfg.StallTimeout,
	})
	downloads := download.NewRunner(download.NewYTDLPFetcher(cfg.YTDLPPath, logger), logger, m, download.Options{
		StallTimeout: cfg.StallTimeout,
	})
	playlists := download.NewPlaylistExpander(nil, logger)

	a := &app{
		cfg:     cfg,
		logger:  logger,
		metrics: m,
		store:   store,
		gateway: gateway.New(logger, prober, builder, sources, m),
	}
	if withJobs {
		a.jobs = jobs.New(conversions, downloads, playlists, store, logger, m, jobs.Options{})
	}
	return a, nil
}

// shutdown stops jobs first so their final state is persisted, then the
// gateway and its streams
func (a *app) shutdown(ctx context.Context) error {
	var err error
	if a.jobs != nil {
		err = a.jobs.Shutdown(ctx)
	}
	return errors.Join(err, a.gateway.Shutdown(ctx))
}
