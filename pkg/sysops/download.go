package sysops

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"github.com/bootforge/bootforge/pkg/engine"
	"github.com/bootforge/bootforge/pkg/telemetry"
)

// Downloader fetches remote artifacts onto the local disk.
type Downloader interface {
	// Fetch downloads url to dest and returns the byte count. minSize
	// rejects truncated bodies; zero disables the check.
	Fetch(ctx context.Context, url, dest string, minSize int64) (int64, error)
}

// HTTPDownloader fetches over HTTP(S) through a temp file in the
// destination directory, renaming only after the size check passes. A
// failed download never leaves a partial file at dest.
type HTTPDownloader struct {
	client *http.Client
	log    *telemetry.Logger
}

// NewHTTPDownloader creates a downloader. Cancellation and deadlines come
// from the request context, so the client itself carries no timeout.
func NewHTTPDownloader(log *telemetry.Logger) *HTTPDownloader {
	return &HTTPDownloader{
		client: &http.Client{},
		log:    log.NewComponentLogger("download"),
	}
}

// Fetch implements Downloader.
func (d *HTTPDownloader) Fetch(ctx context.Context, url, dest string, minSize int64) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, engine.NewDownloadError("invalid download URL "+url, err)
	}

	d.log.Infof("Downloading %s", url)
	resp, err := d.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return 0, engine.NewCancelledError("download interrupted: " + url)
		}
		return 0, engine.NewDownloadError("request failed for "+url, err).
			WithCode(engine.ErrCodeDownloadFailed)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, engine.NewDownloadError(
			fmt.Sprintf("unexpected status %s for %s", resp.Status, url), nil).
			WithCode(engine.ErrCodeDownloadFailed).
			WithDetail("status_code", resp.StatusCode)
	}

	// Reject a too-small artifact before reading the body when the server
	// announces its length.
	if minSize > 0 && resp.ContentLength >= 0 && resp.ContentLength < minSize {
		return 0, engine.NewDownloadError(
			fmt.Sprintf("server reports %d bytes for %s, need at least %d",
				resp.ContentLength, url, minSize), nil).
			WithCode(engine.ErrCodeSizeCheckFailed)
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return 0, engine.NewDownloadError("could not create download directory", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(dest), ".download-*")
	if err != nil {
		return 0, engine.NewDownloadError("could not create temp file", err)
	}
	tmpPath := tmp.Name()

	written, err := io.Copy(tmp, resp.Body)
	closeErr := tmp.Close()
	if err != nil || closeErr != nil {
		os.Remove(tmpPath)
		if ctx.Err() != nil {
			return 0, engine.NewCancelledError("download interrupted: " + url)
		}
		if err == nil {
			err = closeErr
		}
		return 0, engine.NewDownloadError("download of "+url+" failed mid-transfer", err).
			WithCode(engine.ErrCodeDownloadFailed)
	}

	if minSize > 0 && written < minSize {
		os.Remove(tmpPath)
		return 0, engine.NewDownloadError(
			fmt.Sprintf("downloaded %d bytes from %s, need at least %d", written, url, minSize), nil).
			WithCode(engine.ErrCodeSizeCheckFailed).
			WithDetail("bytes", written)
	}

	if err := os.Chmod(tmpPath, 0o644); err != nil {
		os.Remove(tmpPath)
		return 0, engine.NewDownloadError("could not set mode on "+dest, err)
	}
	if err := os.Rename(tmpPath, dest); err != nil {
		os.Remove(tmpPath)
		return 0, engine.NewDownloadError("could not move download into place at "+dest, err)
	}

	d.log.Infof("Downloaded %s (%d bytes)", filepath.Base(dest), written)
	return written, nil
}
