// Package fetch downloads remote command artifacts into the temp area and
// marks them executable. The registry consumes it when a sidecar entry names
// a url instead of a local path.
package fetch

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/zeebo/blake3"

	"github.com/mattjoyce/chatexec/internal/log"
)

const defaultMaxDownloadSize = 30 * 1000 * 1000

// Options configure a Fetcher.
type Options struct {
	// TempDir receives the downloaded artifacts. It must exist and be writable.
	TempDir string
	// MaxDownloadSize caps a single artifact, in bytes.
	MaxDownloadSize int64
	// ReuseExisting keeps an artifact left by an earlier build instead of
	// downloading again. Off by default: every build re-fetches and
	// overwrites.
	ReuseExisting bool
	// Client overrides the HTTP client, mainly for tests.
	Client *http.Client
}

// Fetcher downloads artifacts over HTTP(S) with a size cap and reports a
// BLAKE3 digest of the bytes on disk.
type Fetcher struct {
	opts   Options
	client *http.Client
	logger *slog.Logger
}

// New creates a Fetcher for the given temp dir.
func New(opts Options) *Fetcher {
	if opts.MaxDownloadSize <= 0 {
		opts.MaxDownloadSize = defaultMaxDownloadSize
	}
	client := opts.Client
	if client == nil {
		client = &http.Client{Timeout: 2 * time.Minute}
	}
	return &Fetcher{
		opts:   opts,
		client: client,
		logger: log.WithComponent("fetch"),
	}
}

// Fetch downloads rawURL into the temp dir under the command's name, makes it
// executable, and returns its path and digest. Under the default policy an
// existing artifact is overwritten; with ReuseExisting it is kept as-is.
func (f *Fetcher) Fetch(ctx context.Context, rawURL, name string) (string, string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", "", fmt.Errorf("parse url %q: %w", rawURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", "", fmt.Errorf("unsupported url scheme %q, only http and https are allowed", u.Scheme)
	}
	// The name comes from sidecar config; keep the artifact inside the temp dir.
	if name == "" || name == "." || name == ".." || name != filepath.Base(name) {
		return "", "", fmt.Errorf("invalid artifact name %q", name)
	}

	dest := filepath.Join(f.opts.TempDir, name)
	if f.opts.ReuseExisting {
		if _, err := os.Stat(dest); err == nil {
			digest, err := digestFile(dest)
			if err != nil {
				return "", "", fmt.Errorf("digest existing artifact %s: %w", dest, err)
			}
			f.logger.Debug("reusing existing artifact", "name", name, "path", dest)
			return dest, digest, nil
		}
	}

	digest, size, err := f.download(ctx, rawURL, dest)
	if err != nil {
		return "", "", err
	}

	if err := os.Chmod(dest, 0o755); err != nil {
		return "", "", fmt.Errorf("mark %s executable: %w", dest, err)
	}

	f.logger.Info("artifact fetched",
		"name", name,
		"url", rawURL,
		"bytes", size,
		"digest", digest,
	)
	return dest, digest, nil
}

// download streams the response body to a temp file and renames it into
// place, so a failed or oversized download never leaves a partial artifact
// under the command's name.
func (f *Fetcher) download(ctx context.Context, rawURL, dest string) (string, int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", 0, fmt.Errorf("build request: %w", err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return "", 0, fmt.Errorf("download %s: %w", rawURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", 0, fmt.Errorf("download %s: unexpected status %s", rawURL, resp.Status)
	}
	if resp.ContentLength > f.opts.MaxDownloadSize {
		return "", 0, fmt.Errorf("download %s: declared size %d exceeds limit %d",
			rawURL, resp.ContentLength, f.opts.MaxDownloadSize)
	}

	tmp, err := os.CreateTemp(f.opts.TempDir, filepath.Base(dest)+".partial-*")
	if err != nil {
		return "", 0, fmt.Errorf("create staging file: %w", err)
	}
	defer os.Remove(tmp.Name())

	hasher := blake3.New()
	// Read one byte past the limit so lying Content-Length headers are caught.
	limited := io.LimitReader(resp.Body, f.opts.MaxDownloadSize+1)
	size, err := io.Copy(io.MultiWriter(tmp, hasher), limited)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return "", 0, fmt.Errorf("write artifact: %w", err)
	}
	if size > f.opts.MaxDownloadSize {
		return "", 0, fmt.Errorf("download %s: body exceeds limit %d", rawURL, f.opts.MaxDownloadSize)
	}

	if err := os.Rename(tmp.Name(), dest); err != nil {
		return "", 0, fmt.Errorf("move artifact into place: %w", err)
	}
	return fmt.Sprintf("%x", hasher.Sum(nil)), size, nil
}

// digestFile computes the BLAKE3 digest of an on-disk artifact.
func digestFile(path string) (string, error) {
	fh, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer fh.Close()

	hasher := blake3.New()
	if _, err := io.Copy(hasher, fh); err != nil {
		return "", err
	}
	return fmt.Sprintf("%x", hasher.Sum(nil)), nil
}
