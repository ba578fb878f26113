package imagedata

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/patrickmn/go-cache"
)

const defaultMaxFetchBytes = 20 << 20

var ErrFetch = errors.New("fetch image")

type FetcherOptions struct {
	HTTPClient *http.Client
	// MaxBytes caps the response body; <= 0 uses 20 MiB.
	MaxBytes int64
	// CacheTTL memoises fetched images per URL; <= 0 disables the memo.
	CacheTTL time.Duration
	Logger   *slog.Logger
}

// Fetcher downloads remote images and encodes them as payloads.
type Fetcher struct {
	client   *resty.Client
	memo     *cache.Cache
	maxBytes int64
	logger   *slog.Logger
}

func NewFetcher(opts FetcherOptions) *Fetcher {
	client := resty.New()
	if opts.HTTPClient != nil {
		client = resty.NewWithClient(opts.HTTPClient)
	}
	client.SetDebug(false).SetHeader("Accept", "image/*")

	maxBytes := opts.MaxBytes
	if maxBytes <= 0 {
		maxBytes = defaultMaxFetchBytes
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	f := &Fetcher{
		client:   client,
		maxBytes: maxBytes,
		logger:   logger,
	}
	if opts.CacheTTL > 0 {
		f.memo = cache.New(opts.CacheTTL, 2*opts.CacheTTL)
	}
	return f
}

// Fetch downloads url. Transport errors, non-2xx statuses, non-image bodies and
// empty bodies are all reported as ErrFetch.
func (f *Fetcher) Fetch(ctx context.Context, url string) (Payload, error) {
	url = strings.TrimSpace(url)
	if url == "" {
		return Payload{}, fmt.Errorf("%w: empty url", ErrFetch)
	}

	if f.memo != nil {
		if v, ok := f.memo.Get(url); ok {
			return v.(Payload), nil
		}
	}

	start := time.Now()
	res, err := f.client.R().SetContext(ctx).SetDoNotParseResponse(true).Get(url)
	if err != nil {
		return Payload{}, fmt.Errorf("%w: %v", ErrFetch, err)
	}
	raw := res.RawBody()
	defer raw.Close()

	if !res.IsSuccess() {
		return Payload{}, fmt.Errorf("%w: %s returned %s", ErrFetch, url, res.Status())
	}

	contentType := res.Header().Get("Content-Type")
	if contentType != "" && !IsImageType(contentType) && baseMimeType(contentType) != "application/octet-stream" {
		return Payload{}, fmt.Errorf("%w: unexpected content type %q", ErrFetch, contentType)
	}

	// The body is streamed; at most maxBytes+1 bytes are ever read.
	p, err := FromReader(raw, contentType, f.maxBytes)
	if err != nil {
		return Payload{}, fmt.Errorf("%w: %w", ErrFetch, err)
	}

	f.logger.Debug("image fetched", "url", url, "b64_len", len(p.Data), "mime", p.MimeType, "dur_ms", time.Since(start).Milliseconds())

	if f.memo != nil {
		f.memo.Set(url, p, cache.DefaultExpiration)
	}
	return p, nil
}
