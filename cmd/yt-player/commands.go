package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"slices"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ytget/yt-player/internal/gateway"
	"github.com/ytget/yt-player/internal/model"
	"github.com/ytget/yt-player/internal/platform"
)

func runServe(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	metricsOn := fs.Bool("metrics", false, "print the metrics endpoint")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if err := a.gateway.Start(a.cfg.ListenAddr); err != nil {
		return err
	}
	fmt.Printf("Gateway: %s\n", a.gateway.URL())
	if *metricsOn {
		fmt.Printf("Metrics: %s%s\n", a.gateway.URL(), gateway.RouteMetrics)
	}
	for _, source := range fs.Args() {
		fmt.Printf("%s\n  -> %s\n", source, a.gateway.PlaybackURL(source))
	}

	<-ctx.Done()
	a.logger.Info("Interrupted, shutting down")
	return nil
}

func runConvert(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("convert", flag.ContinueOnError)
	in := fs.String("in", "", "input file")
	out := fs.String("out", "", "output file")
	format := fs.String("format", "mp3", "target container or codec")
	quality := fs.String("quality", string(model.QualityMedium), "low, medium or high")
	if err := fs.Parse(args); err != nil {
		return err
	}

	job, err := a.jobs.StartConversion(model.ConversionRequest{
		InputPath:  *in,
		OutputPath: *out,
		Format:     *format,
		Quality:    model.Quality(*quality),
	})
	if err != nil {
		return err
	}
	return a.watch(ctx, job.ID)
}

func runDownload(ctx context.Context, a *app, args []string) error {
	req, err := parseDownload("download", a, args)
	if err != nil {
		return err
	}
	job, err := a.jobs.StartDownload(req)
	if err != nil {
		return err
	}
	return a.watch(ctx, job.ID)
}

func runPlaylist(ctx context.Context, a *app, args []string) error {
	req, err := parseDownload("playlist", a, args)
	if err != nil {
		return err
	}
	created, err := a.jobs.StartPlaylist(ctx, req)
	if err != nil {
		return err
	}
	fmt.Printf("Queued %d downloads\n", len(created))

	ids := make([]string, 0, len(created))
	for _, job := range created {
		ids = append(ids, job.ID)
	}
	return a.watch(ctx, ids...)
}

func parseDownload(name string, a *app, args []string) (model.DownloadRequest, error) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	url := fs.String("url", "", "source URL")
	out := fs.String("out", "", "output directory, file or template (default: settings downloads path)")
	mode := fs.String("mode", string(model.DownloadModeBest), "best, audio or video")
	if err := fs.Parse(args); err != nil {
		return model.DownloadRequest{}, err
	}
	if *url == "" && fs.NArg() > 0 {
		*url = fs.Arg(0)
	}

	output := *out
	if output == "" {
		output = a.store.GetDownloadDirectory()
		if err := platform.CreateDirectoryIfNotExists(output); err != nil {
			return model.DownloadRequest{}, err
		}
	}
	return model.DownloadRequest{URL: *url, OutputPath: output, Mode: model.DownloadMode(*mode)}, nil
}

// runJobs lists the persisted history as written, without reconciling it
func runJobs(a *app, args []string) error {
	fs := flag.NewFlagSet("jobs", flag.ContinueOnError)
	asJSON := fs.Bool("json", false, "print jobs as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}

	all := a.store.LoadHistory()
	slices.SortFunc(all, func(x, y model.Job) int {
		if c := y.CreatedAt.Compare(x.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(y.ID, x.ID)
	})
	if *asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(all)
	}
	if len(all) == 0 {
		fmt.Println("No jobs")
		return nil
	}
	for _, job := range all {
		printJob(job)
	}
	return nil
}

func runClearHistory(a *app) error {
	fmt.Printf("Removed %d finished jobs\n", a.jobs.ClearHistory())
	return nil
}

func runSettings(a *app, args []string) error {
	fs := flag.NewFlagSet("settings", flag.ContinueOnError)
	downloads := fs.String("downloads-path", "", "set the default download directory")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if *downloads != "" {
		if err := a.store.SetDownloadDirectory(*downloads); err != nil {
			return err
		}
	}
	fmt.Printf("State file:     %s\n", a.store.Path())
	fmt.Printf("Downloads path: %s\n", a.store.GetDownloadDirectory())
	return nil
}

// watch prints updates for ids until every one of them is finished. On
// interrupt the remaining jobs are cancelled.
func (a *app) watch(ctx context.Context, ids ...string) error {
	updates, unsubscribe := a.jobs.Subscribe()
	defer unsubscribe()

	pending := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if job, ok := a.jobs.GetJob(id); ok && job.Status.IsFinished() {
			printJob(job)
			continue
		}
		pending[id] = struct{}{}
	}

	var failed int
	for len(pending) > 0 {
		select {
		case <-ctx.Done():
			for id := range pending {
				if _, err := a.jobs.CancelJob(id); err != nil {
					a.logger.Warn("Cancel failed", zap.String("job_id", id), zap.Error(err))
				}
			}
			return ctx.Err()
		case job, ok := <-updates:
			if !ok {
				return errors.New("job updates closed")
			}
			if _, tracked := pending[job.ID]; !tracked {
				continue
			}
			printJob(job)
			if job.Status.IsFinished() {
				delete(pending, job.ID)
				if job.Status == model.JobStatusFailed {
					failed++
				}
			}
		}
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d jobs failed", failed, len(ids))
	}
	return nil
}

func printJob(job model.Job) {
	line := fmt.Sprintf("[%s] %-9s %5.1f%%  %s", job.ID, job.Status, job.Progress, job.GetDisplayTitle())
	if job.Message != "" {
		line += "  " + job.Message
	}
	if job.OutputFile != "" && job.Status == model.JobStatusCompleted {
		line += "  -> " + job.OutputFile
	}
	if job.Error != "" && job.Status == model.JobStatusFailed {
		line += "  (" + job.Error + ")"
	}
	fmt.Printf("%s  %s\n", job.UpdatedAt.Format(time.TimeOnly), line)
}
