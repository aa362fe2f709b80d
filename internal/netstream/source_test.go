package netstream

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap/zaptest"
)

func TestHTTPSource_Open(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing" {
			http.NotFound(w, r)
			return
		}
		_, _ = io.WriteString(w, "media-bytes")
	}))
	defer srv.Close()

	src := NewHTTPSource(srv.Client(), zaptest.NewLogger(t))

	rc, err := src.Open(context.Background(), srv.URL+"/clip.mp4")
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer rc.Close()
	body, _ := io.ReadAll(rc)
	if string(body) != "media-bytes" {
		t.Errorf("body = %q, want media-bytes", body)
	}

	if _, err := src.Open(context.Background(), srv.URL+"/missing"); !errors.Is(err, ErrUpstream) {
		t.Errorf("expected ErrUpstream, got %v", err)
	}
}

func TestHTTPSource_Resolve(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/short" {
			http.Redirect(w, r, "/final.mkv", http.StatusFound)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	src := NewHTTPSource(srv.Client(), zaptest.NewLogger(t))
	got, err := src.Resolve(context.Background(), srv.URL+"/short")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if got != srv.URL+"/final.mkv" {
		t.Errorf("Resolve() = %q, want %q", got, srv.URL+"/final.mkv")
	}

	if _, err := src.Browse(context.Background(), srv.URL); !errors.Is(err, ErrUnsupported) {
		t.Errorf("expected ErrUnsupported from Browse, got %v", err)
	}
}

type stubSource struct{ opened string }

func (s *stubSource) Browse(context.Context, string) ([]Entry, error) {
	return []Entry{{Name: "movies", IsDir: true}}, nil
}

func (s *stubSource) Resolve(_ context.Context, location string) (string, error) {
	return location, nil
}

func (s *stubSource) Open(_ context.Context, location string) (io.ReadCloser, error) {
	s.opened = location
	return io.NopCloser(nil), nil
}

func TestRouter(t *testing.T) {
	stub := &stubSource{}
	r := NewRouter()
	r.Register(stub, "smb", "SMB2")

	if _, err := r.Open(context.Background(), "smb://nas/share/film.mkv"); err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if stub.opened != "smb://nas/share/film.mkv" {
		t.Errorf("opened = %q", stub.opened)
	}

	entries, err := r.Browse(context.Background(), "smb2://nas/share")
	if err != nil || len(entries) != 1 {
		t.Errorf("Browse() = %v, %v", entries, err)
	}

	for _, loc := range []string{"ftp://host/file", "no-scheme", ""} {
		if _, err := r.Open(context.Background(), loc); !errors.Is(err, ErrUnsupported) {
			t.Errorf("Open(%q) expected ErrUnsupported, got %v", loc, err)
		}
	}
}
