package converter

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

// BlobFetcher retrieves the raw bytes behind a resource URL.
type BlobFetcher interface {
	Fetch(ctx context.Context, rawURL string) ([]byte, error)
}

// ObjectStore is the subset of the storage client the fetcher needs.
type ObjectStore interface {
	GetObject(ctx context.Context, key string) ([]byte, error)
}

// Fetcher resolves http(s) URLs over the network and treats everything else
// as an object-store key (uploaded FILE resources reference their storage
// key, not a public URL).
type Fetcher struct {
	http  *resty.Client
	store ObjectStore
}

func NewFetcher(store ObjectStore) *Fetcher {
	client := resty.New().
		SetTimeout(60 * time.Second).
		SetRetryCount(2).
		SetRetryWaitTime(500 * time.Millisecond)
	return &Fetcher{http: client, store: store}
}

func (f *Fetcher) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	parsed, err := url.Parse(rawURL)
	if err == nil && (parsed.Scheme == "http" || parsed.Scheme == "https") {
		return f.fetchHTTP(ctx, rawURL)
	}

	if f.store == nil {
		return nil, fmt.Errorf("no object store configured for key %q", rawURL)
	}
	return f.store.GetObject(ctx, strings.TrimPrefix(rawURL, "/"))
}

func (f *Fetcher) fetchHTTP(ctx context.Context, rawURL string) ([]byte, error) {
	resp, err := f.http.R().SetContext(ctx).Get(rawURL)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s: %w", rawURL, err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("failed to fetch %s: status %d", rawURL, resp.StatusCode())
	}
	return resp.Body(), nil
}
