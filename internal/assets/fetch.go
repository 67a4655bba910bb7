// Package assets downloads the firmware package and FPGA image the device
// is updated from.
package assets

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
)

// Fetcher downloads release files to local paths.
type Fetcher struct {
	HTTP *http.Client
	Out  io.Writer // progress output; nil for none
}

// Fetch downloads url to dest unless dest already exists and is non-empty.
// It reports whether a download happened. The file is written to a temporary
// path and renamed into place, so dest is never left partial.
func (f Fetcher) Fetch(ctx context.Context, url, dest string) (bool, error) {
	if info, err := os.Stat(dest); err == nil && info.Size() > 0 {
		f.printf("  %s already exists (%.1f MB)\n", dest, mb(info.Size()))
		return false, nil
	}
	if url == "" {
		return false, fmt.Errorf("assets: no download URL for %s", dest)
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return false, fmt.Errorf("assets: creating dir: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false, fmt.Errorf("assets: %w", err)
	}
	client := f.HTTP
	if client == nil {
		client = http.DefaultClient
	}
	f.printf("  Downloading %s\n", url)
	resp, err := client.Do(req)
	if err != nil {
		return false, fmt.Errorf("assets: downloading %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("assets: download of %s failed: HTTP %d", url, resp.StatusCode)
	}

	tmpPath := dest + ".tmp"
	file, err := os.Create(tmpPath)
	if err != nil {
		return false, fmt.Errorf("assets: creating temp file: %w", err)
	}

	pw := &progressWriter{
		writer: file,
		total:  resp.ContentLength,
		label:  filepath.Base(dest),
		out:    f.Out,
	}
	written, err := io.Copy(pw, resp.Body)
	file.Close()
	if err != nil {
		os.Remove(tmpPath)
		return false, fmt.Errorf("assets: writing %s: %w", dest, err)
	}
	f.printf("\n  Downloaded %.1f MB\n", mb(written))

	if err := os.Rename(tmpPath, dest); err != nil {
		os.Remove(tmpPath)
		return false, fmt.Errorf("assets: moving %s: %w", dest, err)
	}
	return true, nil
}

func (f Fetcher) printf(format string, args ...any) {
	if f.Out != nil {
		fmt.Fprintf(f.Out, format, args...)
	}
}

func mb(n int64) float64 { return float64(n) / (1024 * 1024) }

// progressWriter wraps an io.Writer and prints download progress.
type progressWriter struct {
	writer  io.Writer
	total   int64
	written int64
	label   string
	out     io.Writer
}

func (pw *progressWriter) Write(p []byte) (int, error) {
	n, err := pw.writer.Write(p)
	pw.written += int64(n)
	if pw.out == nil {
		return n, err
	}
	if pw.total > 0 {
		pct := float64(pw.written) / float64(pw.total) * 100
		fmt.Fprintf(pw.out, "\r  %s: %.1f MB / %.1f MB (%.0f%%)", pw.label, mb(pw.written), mb(pw.total), pct)
	} else {
		fmt.Fprintf(pw.out, "\r  %s: %.1f MB downloaded", pw.label, mb(pw.written))
	}
	return n, err
}
