package osf

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// ErrNoURL is returned when a download is requested without a source URL.
var ErrNoURL = errors.New("osf: empty url")

// Download describes a fetched raw archive.
type Download struct {
	URL    string
	Path   string
	SHA256 string
	Cached bool
}

// CacheKey names the local copy of url: a short digest of the URL plus
// its base name so cached files stay recognizable.
func CacheKey(url string) string {
	sum := sha256.Sum256([]byte(url))
	base := path.Base(strings.SplitN(url, "?", 2)[0])
	if base == "." || base == "/" || base == "" {
		base = "download"
	}
	return hex.EncodeToString(sum[:6]) + "_" + base
}

// Fetch downloads url into cacheDir unless a copy is already there.
func Fetch(ctx context.Context, client *http.Client, url, cacheDir string) (Download, error) {
	if strings.TrimSpace(url) == "" {
		return Download{}, ErrNoURL
	}
	if err := os.MkdirAll(cacheDir, 0o755); err != nil {
		return Download{}, fmt.Errorf("create cache dir: %w", err)
	}
	dst := filepath.Join(cacheDir, CacheKey(url))

	if _, err := os.Stat(dst); err == nil {
		sum, err := fileDigest(dst)
		if err != nil {
			return Download{}, err
		}
		return Download{URL: url, Path: dst, SHA256: sum, Cached: true}, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Download{}, err
	}

	resp, err := client.Do(req)
	if err != nil {
		return Download{}, fmt.Errorf("request %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Download{}, fmt.Errorf("unexpected status %s", resp.Status)
	}

	tmp, err := os.CreateTemp(cacheDir, ".partial-*")
	if err != nil {
		return Download{}, err
	}
	defer os.Remove(tmp.Name())

	h := sha256.New()
	if _, err := io.Copy(io.MultiWriter(tmp, h), resp.Body); err != nil {
		tmp.Close()
		return Download{}, fmt.Errorf("read body: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return Download{}, err
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		return Download{}, err
	}

	return Download{URL: url, Path: dst, SHA256: hex.EncodeToString(h.Sum(nil))}, nil
}

// FetchAll downloads each distinct URL in order.
func FetchAll(ctx context.Context, client *http.Client, urls []string, cacheDir string) ([]Download, error) {
	seen := make(map[string]bool, len(urls))
	var out []Download
	for _, u := range urls {
		if u == "" || seen[u] {
			continue
		}
		seen[u] = true
		d, err := Fetch(ctx, client, u, cacheDir)
		if err != nil {
			return out, err
		}
		out = append(out, d)
	}
	return out, nil
}

func fileDigest(p string) (string, error) {
	f, err := os.Open(p)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
