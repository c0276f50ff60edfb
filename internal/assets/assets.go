// Package assets resolves bundled resources and fetches image bytes.
package assets

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"

	"github.com/kozaktomas/face-occluder/internal/constants"
)

// ErrTooLarge is returned when a resource exceeds the fetch size limit.
var ErrTooLarge = errors.New("resource too large")

// Resolver maps bundled resource names to URLs, the way an extension runtime
// hands out URLs for files packaged with it.
type Resolver struct {
	base *url.URL
}

// NewResolver roots resources at base, which may be a directory path or an
// http(s)/file URL.
func NewResolver(base string) (*Resolver, error) {
	if base == "" {
		base = "."
	}

	u, err := url.Parse(base)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https" && u.Scheme != "file") {
		abs, absErr := filepath.Abs(base)
		if absErr != nil {
			return nil, fmt.Errorf("invalid asset root %q: %w", base, absErr)
		}
		u = &url.URL{Scheme: "file", Path: filepath.ToSlash(abs)}
	}

	if !strings.HasSuffix(u.Path, "/") {
		u.Path += "/"
	}
	return &Resolver{base: u}, nil
}

// GetURL returns the URL of a bundled resource.
func (r *Resolver) GetURL(name string) string {
	ref := &url.URL{Path: strings.TrimPrefix(name, "/")}
	return r.base.ResolveReference(ref).String()
}

// GetURLs resolves several resource names.
func (r *Resolver) GetURLs(names []string) []string {
	out := make([]string, 0, len(names))
	for _, n := range names {
		out = append(out, r.GetURL(n))
	}
	return out
}

// Fetcher downloads image bytes independently of any rendered page.
type Fetcher interface {
	Fetch(ctx context.Context, src string) ([]byte, error)
}

// HTTPFetcher fetches http(s) and file URLs.
type HTTPFetcher struct {
	client  *http.Client
	maxSize int64
}

// NewHTTPFetcher creates a fetcher. A nil client means http.DefaultClient.
func NewHTTPFetcher(client *http.Client) *HTTPFetcher {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPFetcher{client: client, maxSize: constants.MaxFetchSize}
}

// Fetch downloads src.
func (f *HTTPFetcher) Fetch(ctx context.Context, src string) ([]byte, error) {
	u, err := url.Parse(src)
	if err != nil {
		return nil, fmt.Errorf("invalid URL %q: %w", src, err)
	}

	switch u.Scheme {
	case "http", "https":
		return f.fetchHTTP(ctx, u.String())
	case "file":
		return f.readFile(filepath.FromSlash(u.Path))
	default:
		return nil, fmt.Errorf("unsupported URL scheme %q in %q", u.Scheme, src)
	}
}

func (f *HTTPFetcher) fetchHTTP(ctx context.Context, src string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src, nil)
	if err != nil {
		return nil, fmt.Errorf("could not create request: %w", err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("could not send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("request failed with status %d", resp.StatusCode)
	}

	return f.readLimited(resp.Body)
}

func (f *HTTPFetcher) readFile(path string) ([]byte, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("could not open %s: %w", path, err)
	}
	defer file.Close()

	return f.readLimited(file)
}

func (f *HTTPFetcher) readLimited(r io.Reader) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, f.maxSize+1))
	if err != nil {
		return nil, fmt.Errorf("could not read body: %w", err)
	}
	if int64(len(data)) > f.maxSize {
		return nil, fmt.Errorf("more than %d bytes: %w", f.maxSize, ErrTooLarge)
	}
	return data, nil
}

// LocalURL turns a path into a file URL. http(s) and file URLs are returned unchanged.
func LocalURL(path string) (string, error) {
	if u, err := url.Parse(path); err == nil {
		switch u.Scheme {
		case "http", "https", "file":
			return path, nil
		}
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("could not resolve %s: %w", path, err)
	}
	return (&url.URL{Scheme: "file", Path: filepath.ToSlash(abs)}).String(), nil
}

// Gunzip returns data decompressed when it starts with the gzip magic bytes,
// and unchanged otherwise. Saved feed captures are often gzipped.
func Gunzip(data []byte) ([]byte, error) {
	if len(data) < 2 || data[0] != 0x1f || data[1] != 0x8b {
		return data, nil
	}

	zr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("could not open gzip stream: %w", err)
	}
	defer zr.Close()

	out, err := io.ReadAll(io.LimitReader(zr, constants.MaxFetchSize+1))
	if err != nil {
		return nil, fmt.Errorf("could not decompress: %w", err)
	}
	if len(out) > constants.MaxFetchSize {
		return nil, fmt.Errorf("more than %d bytes after decompression: %w", constants.MaxFetchSize, ErrTooLarge)
	}
	return out, nil
}
