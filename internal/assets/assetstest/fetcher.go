// Package assetstest provides an in-memory assets.Fetcher for tests.
package assetstest

import (
	"context"
	"fmt"
	"sync"
)

// MapFetcher serves bytes by URL. Unknown URLs fail like a 404.
type MapFetcher struct {
	mu    sync.Mutex
	data  map[string][]byte
	calls map[string]int
}

// NewMapFetcher creates an empty MapFetcher.
func NewMapFetcher() *MapFetcher {
	return &MapFetcher{data: make(map[string][]byte), calls: make(map[string]int)}
}

// Put registers data under url.
func (f *MapFetcher) Put(url string, data []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.data[url] = data
}

// Calls returns how often url was fetched.
func (f *MapFetcher) Calls(url string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[url]
}

// Total returns the number of fetches across all URLs.
func (f *MapFetcher) Total() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		n += c
	}
	return n
}

// Fetch implements assets.Fetcher.
func (f *MapFetcher) Fetch(ctx context.Context, src string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[src]++
	data, ok := f.data[src]
	if !ok {
		return nil, fmt.Errorf("request failed with status 404")
	}
	return data, nil
}
