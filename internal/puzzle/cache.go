// Package puzzle provides daily puzzle content from an upstream provider
// through a read-through cache keyed by calendar date, so a day's puzzle is
// fetched at most once per process.
package puzzle

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"sync"
	"time"
)

// ErrNotFound means the provider has no puzzle for the requested date
var ErrNotFound = errors.New("puzzle not found")

// Provider fetches raw puzzle JSON for a date
type Provider interface {
	Fetch(ctx context.Context, date string) ([]byte, error)
}

// HTTPProvider fetches puzzles from the upstream daily-puzzle service
type HTTPProvider struct {
	baseURL string
	client  *http.Client
}

// NewHTTPProvider creates a provider for the given base URL
func NewHTTPProvider(baseURL string) *HTTPProvider {
	return &HTTPProvider{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

// Fetch retrieves one day's puzzle. A provider 404 maps to ErrNotFound.
func (p *HTTPProvider) Fetch(ctx context.Context, date string) ([]byte, error) {
	url := fmt.Sprintf("%s/%s.json", p.baseURL, date)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching puzzle for %s: %w", date, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("puzzle provider returned %d for %s", resp.StatusCode, date)
	}
	return io.ReadAll(resp.Body)
}

// Cache is a read-through cache over a Provider. Entries never expire; a
// date's puzzle is immutable upstream.
type Cache struct {
	provider Provider

	mu      sync.Mutex
	entries map[string][]byte
}

// NewCache wraps a provider with caching
func NewCache(provider Provider) *Cache {
	return &Cache{
		provider: provider,
		entries:  make(map[string][]byte),
	}
}

// Get returns the puzzle for a date, fetching on first access. Failures are
// not cached, so the next request retries upstream.
func (c *Cache) Get(ctx context.Context, date string) ([]byte, error) {
	c.mu.Lock()
	cached, ok := c.entries[date]
	c.mu.Unlock()
	if ok {
		return cached, nil
	}

	log.Printf("Puzzle cache miss for %s, fetching upstream", date)
	data, err := c.provider.Fetch(ctx, date)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.entries[date] = data
	c.mu.Unlock()
	return data, nil
}
