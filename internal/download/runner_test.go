package download

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/ytget/yt-player/internal/model"
	"github.com/ytget/yt-player/internal/transcode"
)

// fakeFetcher writes ext files for the template and can be held open
type fakeFetcher struct {
	title    string
	titleErr error
	ext      string
	progress []float64
	fetchErr error
	hold     chan struct{} // when set, Fetch waits on it or ctx

	mu      sync.Mutex
	fetched []string
	started chan string
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{title: "My Song", ext: "mp4", started: make(chan string, 16)}
}

func (f *fakeFetcher) ResolveTitle(context.Context, string) (string, error) {
	return f.title, f.titleErr
}

func (f *fakeFetcher) Fetch(ctx context.Context, url, template string, _ model.DownloadMode, progress func(FetchProgress)) (string, error) {
	f.mu.Lock()
	f.fetched = append(f.fetched, url)
	f.mu.Unlock()
	f.started <- url

	for _, p := range f.progress {
		progress(FetchProgress{Percent: p})
	}
	if f.hold != nil {
		select {
		case <-f.hold:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if f.fetchErr != nil {
		return "", f.fetchErr
	}
	out := strings.ReplaceAll(template, "%(ext)s", f.ext)
	return "", os.WriteFile(out, []byte("data"), 0o644)
}

func (f *fakeFetcher) calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.fetched...)
}

type recorder struct {
	mu      sync.Mutex
	updates []model.JobUpdate
}

func (r *recorder) report(u model.JobUpdate) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updates = append(r.updates, u)
}

func (r *recorder) all() []model.JobUpdate {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]model.JobUpdate(nil), r.updates...)
}

func (r *recorder) last() model.JobUpdate {
	all := r.all()
	if len(all) == 0 {
		return model.JobUpdate{}
	}
	return all[len(all)-1]
}

func waitStarted(t *testing.T, f *fakeFetcher) string {
	t.Helper()
	select {
	case url := <-f.started:
		return url
	case <-time.After(5 * time.Second):
		t.Fatal("fetch did not start")
		return ""
	}
}

func TestRun_DownloadsAndReconcilesExtension(t *testing.T) {
	dir := t.TempDir()
	f := newFakeFetcher()
	f.ext = "webm"
	f.progress = []float64{2, 40.6, 40.9, 80}
	r := NewRunner(f, zaptest.NewLogger(t), nil, Options{})
	rec := &recorder{}

	req := model.DownloadRequest{URL: "https://www.youtube.com/watch?v=abc&list=PL1&index=3", OutputPath: dir}
	if err := r.Run(context.Background(), "job-1", req, rec.report); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if got := f.calls(); len(got) != 1 || got[0] != "https://www.youtube.com/watch?v=abc" {
		t.Errorf("expected sanitized URL to be fetched, got %v", got)
	}

	final := rec.last()
	want := filepath.Join(dir, "My Song.webm")
	if final.Status != model.JobStatusCompleted || final.Progress != 100 || final.OutputFile != want {
		t.Errorf("unexpected final update: %+v, want output %s", final, want)
	}

	updates := rec.all()
	if first := updates[0]; first.Message != "Analyzing" || first.Progress != progressFloor {
		t.Errorf("first update = %+v, want Analyzing at %v%%", first, progressFloor)
	}

	var percents []float64
	for _, u := range updates {
		if u.Status == model.JobStatusRunning && u.Progress > 0 {
			percents = append(percents, u.Progress)
		}
	}
	expected := []float64{10, 10, 40, 80}
	if len(percents) != len(expected) {
		t.Fatalf("progress = %v, expected %v", percents, expected)
	}
	for i := range expected {
		if percents[i] != expected[i] {
			t.Errorf("progress = %v, expected %v", percents, expected)
			break
		}
	}
}

func TestRun_AlreadyExistsSkipsFetch(t *testing.T) {
	dir := t.TempDir()
	existing := filepath.Join(dir, "My Song.mp3")
	if err := os.WriteFile(existing, []byte("x"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	f := newFakeFetcher()
	r := NewRunner(f, zaptest.NewLogger(t), nil, Options{})
	rec := &recorder{}

	req := model.DownloadRequest{URL: "https://youtu.be/abc", OutputPath: dir, Mode: model.DownloadModeAudio}
	if err := r.Run(context.Background(), "job-1", req, rec.report); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if len(f.calls()) != 0 {
		t.Errorf("expected no fetch, got %v", f.calls())
	}
	final := rec.last()
	if final.Status != model.JobStatusCompleted || final.Message != "Already exists" || final.OutputFile != existing {
		t.Errorf("unexpected final update: %+v", final)
	}
}

func TestRun_TitleFallback(t *testing.T) {
	dir := t.TempDir()
	f := newFakeFetcher()
	f.titleErr = errors.New("network down")
	r := NewRunner(f, zaptest.NewLogger(t), nil, Options{})
	rec := &recorder{}

	req := model.DownloadRequest{URL: "https://www.youtube.com/watch?v=xyz", OutputPath: dir}
	if err := r.Run(context.Background(), "job-1", req, rec.report); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if want := filepath.Join(dir, "xyz.mp4"); rec.last().OutputFile != want {
		t.Errorf("OutputFile = %s, want %s", rec.last().OutputFile, want)
	}
}

func TestRun_FetchFailure(t *testing.T) {
	f := newFakeFetcher()
	f.fetchErr = errors.New("yt-dlp failed: exit status 1")
	r := NewRunner(f, zaptest.NewLogger(t), nil, Options{})

	req := model.DownloadRequest{URL: "https://example.com/v.mp4", OutputPath: t.TempDir()}
	err := r.Run(context.Background(), "job-1", req, (&recorder{}).report)
	if err == nil || !strings.Contains(err.Error(), "exit status 1") {
		t.Fatalf("expected fetch error, got %v", err)
	}
}

func TestRun_InvalidRequest(t *testing.T) {
	r := NewRunner(newFakeFetcher(), zaptest.NewLogger(t), nil, Options{})
	err := r.Run(context.Background(), "job-1", model.DownloadRequest{URL: "ftp://x", OutputPath: "/tmp"}, (&recorder{}).report)
	if !errors.Is(err, model.ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput, got %v", err)
	}
}

func TestRun_SerializesDownloads(t *testing.T) {
	dir := t.TempDir()
	f := newFakeFetcher()
	f.hold = make(chan struct{})
	r := NewRunner(f, zaptest.NewLogger(t), nil, Options{})

	reqA := model.DownloadRequest{URL: "https://example.com/a", OutputPath: filepath.Join(dir, "a.mp4")}
	reqB := model.DownloadRequest{URL: "https://example.com/b", OutputPath: filepath.Join(dir, "b.mp4")}

	doneA := make(chan error, 1)
	go func() { doneA <- r.Run(context.Background(), "job-a", reqA, (&recorder{}).report) }()
	if got := waitStarted(t, f); got != reqA.URL {
		t.Fatalf("expected %s first, got %s", reqA.URL, got)
	}

	doneB := make(chan error, 1)
	go func() { doneB <- r.Run(context.Background(), "job-b", reqB, (&recorder{}).report) }()

	select {
	case url := <-f.started:
		t.Fatalf("second download started while the first was running: %s", url)
	case <-time.After(200 * time.Millisecond):
	}
	if r.Pending() != 1 {
		t.Errorf("Pending() = %d, want 1", r.Pending())
	}

	close(f.hold)
	if err := <-doneA; err != nil {
		t.Fatalf("job-a: %v", err)
	}
	if got := waitStarted(t, f); got != reqB.URL {
		t.Fatalf("expected %s second, got %s", reqB.URL, got)
	}
	if err := <-doneB; err != nil {
		t.Fatalf("job-b: %v", err)
	}
}

func TestRun_CancelQueuedUnblocksNext(t *testing.T) {
	dir := t.TempDir()
	f := newFakeFetcher()
	f.hold = make(chan struct{})
	r := NewRunner(f, zaptest.NewLogger(t), nil, Options{})

	run := func(id, name string) chan error {
		done := make(chan error, 1)
		req := model.DownloadRequest{URL: "https://example.com/" + name, OutputPath: filepath.Join(dir, name+".mp4")}
		go func() { done <- r.Run(context.Background(), id, req, (&recorder{}).report) }()
		return done
	}

	doneA := run("job-a", "a")
	waitStarted(t, f)
	doneB := run("job-b", "b")
	doneC := run("job-c", "c")
	for r.Pending() != 2 {
		time.Sleep(5 * time.Millisecond)
	}

	r.Cancel("job-b")
	select {
	case err := <-doneB:
		if err != nil {
			t.Fatalf("cancelled queued job should resolve silently, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("cancelled queued job did not return")
	}

	// Cancel the running one; the queue must move on to c
	r.Cancel("job-a")
	if err := <-doneA; err != nil {
		t.Fatalf("cancelled running job should resolve silently, got %v", err)
	}
	if got := waitStarted(t, f); got != "https://example.com/c" {
		t.Fatalf("expected c to start next, got %s", got)
	}
	close(f.hold)
	if err := <-doneC; err != nil {
		t.Fatalf("job-c: %v", err)
	}
	for _, url := range f.calls() {
		if strings.HasSuffix(url, "/b") {
			t.Error("cancelled queued job must never be fetched")
		}
	}
}

func TestRun_StallWatchdog(t *testing.T) {
	f := newFakeFetcher()
	f.hold = make(chan struct{})
	r := NewRunner(f, zaptest.NewLogger(t), nil, Options{StallTimeout: 100 * time.Millisecond})

	req := model.DownloadRequest{URL: "https://example.com/a", OutputPath: t.TempDir()}
	err := r.Run(context.Background(), "job-1", req, (&recorder{}).report)
	if !errors.Is(err, transcode.ErrStalled) {
		t.Fatalf("expected ErrStalled, got %v", err)
	}
}

func TestResolveOutputPath(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name         string
		output       string
		title        string
		mode         model.DownloadMode
		wantPlanned  string
		wantTemplate string
	}{
		{
			name:         "directory",
			output:       dir,
			title:        "AC/DC: Live",
			wantPlanned:  filepath.Join(dir, "ACDC Live.mp4"),
			wantTemplate: filepath.Join(dir, "ACDC Live.%(ext)s"),
		},
		{
			name:         "directory audio",
			output:       dir,
			title:        "Song",
			mode:         model.DownloadModeAudio,
			wantPlanned:  filepath.Join(dir, "Song.mp3"),
			wantTemplate: filepath.Join(dir, "Song.%(ext)s"),
		},
		{
			name:         "template",
			output:       "/music/%(title)s.%(ext)s",
			title:        "Song?",
			mode:         model.DownloadModeAudio,
			wantPlanned:  "/music/Song.mp3",
			wantTemplate: "/music/%(title)s.%(ext)s",
		},
		{
			name:         "concrete file",
			output:       "/videos/clip.mp4",
			title:        "ignored",
			wantPlanned:  "/videos/clip.mp4",
			wantTemplate: "/videos/clip.%(ext)s",
		},
		{
			name:         "empty title",
			output:       dir + "/",
			title:        "???",
			wantPlanned:  filepath.Join(dir, "download.mp4"),
			wantTemplate: filepath.Join(dir, "download.%(ext)s"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			planned, template := ResolveOutputPath(tt.output, tt.title, tt.mode)
			if planned != tt.wantPlanned {
				t.Errorf("planned = %q, want %q", planned, tt.wantPlanned)
			}
			if template != tt.wantTemplate {
				t.Errorf("template = %q, want %q", template, tt.wantTemplate)
			}
		})
	}
}
