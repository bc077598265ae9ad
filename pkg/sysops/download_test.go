package sysops

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/bootforge/bootforge/pkg/engine"
)

func TestHTTPDownloader_Fetch_WritesDestination(t *testing.T) {
	payload := bytes.Repeat([]byte("installer"), 200)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(payload)
	}))
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "cache", "Miniforge3.sh")
	d := NewHTTPDownloader(newTestLogger(t))

	n, err := d.Fetch(context.Background(), srv.URL, dest, 100)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if n != int64(len(payload)) {
		t.Errorf("bytes = %d, want %d", n, len(payload))
	}

	got, err := os.ReadFile(dest)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Error("destination content differs from payload")
	}

	leftovers, _ := filepath.Glob(filepath.Join(filepath.Dir(dest), ".download-*"))
	if len(leftovers) != 0 {
		t.Errorf("temp files left behind: %v", leftovers)
	}
}

func TestHTTPDownloader_Fetch_OverwritesExistingFile(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("fresh content"))
	}))
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "installer.sh")
	if err := os.WriteFile(dest, []byte("stale"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	d := NewHTTPDownloader(newTestLogger(t))
	if _, err := d.Fetch(context.Background(), srv.URL, dest, 0); err != nil {
		t.Fatalf("Fetch: %v", err)
	}

	got, _ := os.ReadFile(dest)
	if string(got) != "fresh content" {
		t.Errorf("content = %q", got)
	}
}

func TestHTTPDownloader_Fetch_RejectsAnnouncedShortLength(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", strconv.Itoa(10))
		w.Write(bytes.Repeat([]byte("x"), 10))
	}))
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "installer.sh")
	d := NewHTTPDownloader(newTestLogger(t))

	_, err := d.Fetch(context.Background(), srv.URL, dest, 1<<20)
	if !engine.IsClass(err, engine.ErrorClassDownload) {
		t.Fatalf("error = %v, want download class", err)
	}

	var e *engine.EngineError
	if !errors.As(err, &e) || e.Code != engine.ErrCodeSizeCheckFailed {
		t.Errorf("code = %v, want size check failure", err)
	}
	if _, statErr := os.Stat(dest); !os.IsNotExist(statErr) {
		t.Error("destination exists after rejected download")
	}
}

func TestHTTPDownloader_Fetch_RejectsShortChunkedBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Flushing forces chunked encoding, so no Content-Length reaches
		// the client and the post-transfer check must catch it.
		w.Write([]byte("tiny"))
		w.(http.Flusher).Flush()
	}))
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "installer.sh")
	d := NewHTTPDownloader(newTestLogger(t))

	_, err := d.Fetch(context.Background(), srv.URL, dest, 1<<20)
	var e *engine.EngineError
	if !errors.As(err, &e) || e.Code != engine.ErrCodeSizeCheckFailed {
		t.Fatalf("error = %v, want size check failure", err)
	}
	if _, statErr := os.Stat(dest); !os.IsNotExist(statErr) {
		t.Error("destination exists after rejected download")
	}
	leftovers, _ := filepath.Glob(filepath.Join(filepath.Dir(dest), ".download-*"))
	if len(leftovers) != 0 {
		t.Errorf("temp files left behind: %v", leftovers)
	}
}

func TestHTTPDownloader_Fetch_NonOKStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	d := NewHTTPDownloader(newTestLogger(t))
	_, err := d.Fetch(context.Background(), srv.URL, filepath.Join(t.TempDir(), "x"), 0)

	var e *engine.EngineError
	if !errors.As(err, &e) {
		t.Fatalf("error = %v, want EngineError", err)
	}
	if e.Class != engine.ErrorClassDownload || e.Code != engine.ErrCodeDownloadFailed {
		t.Errorf("class/code = %s/%s", e.Class, e.Code)
	}
	if got, _ := e.Details["status_code"].(int); got != http.StatusNotFound {
		t.Errorf("status_code detail = %v", e.Details["status_code"])
	}
}

func TestHTTPDownloader_Fetch_UnreachableServer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	d := NewHTTPDownloader(newTestLogger(t))
	_, err := d.Fetch(context.Background(), url, filepath.Join(t.TempDir(), "x"), 0)
	if !engine.IsClass(err, engine.ErrorClassDownload) {
		t.Errorf("error = %v, want download class", err)
	}
}
