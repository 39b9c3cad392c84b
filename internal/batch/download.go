package batch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Downloader fetches submitted image bytes by reference.
type Downloader interface {
	Download(ctx context.Context, url string) ([]byte, error)
}

// HTTPDownloader fetches images over HTTP with bounded retries. Chat
// platform CDNs fail transiently often enough that a single attempt loses
// real submissions.
type HTTPDownloader struct {
	Client     *http.Client
	MaxRetries uint64
	MaxBytes   int64
}

// NewHTTPDownloader returns a downloader with sane limits.
func NewHTTPDownloader() *HTTPDownloader {
	return &HTTPDownloader{
		Client:     &http.Client{Timeout: 30 * time.Second},
		MaxRetries: 3,
		MaxBytes:   20 << 20,
	}
}

// Download implements Downloader.
func (d *HTTPDownloader) Download(ctx context.Context, url string) ([]byte, error) {
	var data []byte
	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		resp, err := d.Client.Do(req)
		if err != nil {
			return err
		}
		defer func() { _ = resp.Body.Close() }()

		switch {
		case resp.StatusCode == http.StatusOK:
		case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
			return fmt.Errorf("fetch %s: status %d", url, resp.StatusCode)
		default:
			return backoff.Permanent(fmt.Errorf("fetch %s: status %d", url, resp.StatusCode))
		}

		data, err = io.ReadAll(io.LimitReader(resp.Body, d.MaxBytes+1))
		if err != nil {
			return err
		}
		if int64(len(data)) > d.MaxBytes {
			return backoff.Permanent(fmt.Errorf("fetch %s: exceeds %d bytes", url, d.MaxBytes))
		}
		return nil
	}

	policy := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), d.MaxRetries)
	if err := backoff.Retry(op, backoff.WithContext(policy, ctx)); err != nil {
		return nil, err
	}
	return data, nil
}
