package downloader

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"reportharvest/internal/core/ports"
)

// Options configures the HTTP downloader.
type Options struct {
	// Timeout bounds a whole fetch, body included.
	// Default: 30s
	Timeout time.Duration

	// MaxIdleConnsPerHost sets the maximum idle connections per host.
	// Default: 10
	MaxIdleConnsPerHost int

	// InsecureSkipVerify disables TLS certificate verification.
	InsecureSkipVerify bool

	// UserAgent is sent with every request when set.
	UserAgent string
}

// DefaultOptions returns options with sensible defaults.
func DefaultOptions() Options {
	return Options{
		Timeout:             30 * time.Second,
		MaxIdleConnsPerHost: 10,
	}
}

// HTTPDownloader implements ports.Downloader using standard HTTP.
type HTTPDownloader struct {
	client *http.Client
	opts   Options
}

// NewHTTPDownloader creates a new HTTPDownloader.
func NewHTTPDownloader(opts Options) *HTTPDownloader {
	defaults := DefaultOptions()
	if opts.Timeout <= 0 {
		opts.Timeout = defaults.Timeout
	}
	if opts.MaxIdleConnsPerHost <= 0 {
		opts.MaxIdleConnsPerHost = defaults.MaxIdleConnsPerHost
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.MaxIdleConnsPerHost = opts.MaxIdleConnsPerHost
	if opts.InsecureSkipVerify {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}

	return &HTTPDownloader{
		client: &http.Client{
			Transport: transport,
			Timeout:   opts.Timeout,
		},
		opts: opts,
	}
}

// Download fetches the document from the given URL.
func (d *HTTPDownloader) Download(ctx context.Context, url string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &ports.TransportError{URL: url, Err: fmt.Errorf("failed to create request: %w", err)}
	}
	if d.opts.UserAgent != "" {
		req.Header.Set("User-Agent", d.opts.UserAgent)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, d.transportError(url, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		resp.Body.Close()
		return nil, &ports.TransportError{
			URL:        url,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("unexpected status code: %d", resp.StatusCode),
		}
	}

	return &body{ReadCloser: resp.Body, url: url, d: d}, nil
}

func (d *HTTPDownloader) transportError(url string, err error) *ports.TransportError {
	te := &ports.TransportError{URL: url, Err: err}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		te.Timeout = true
		te.Err = fmt.Errorf("no complete response within %s: %w", d.opts.Timeout, err)
	} else if errors.Is(err, context.DeadlineExceeded) {
		te.Timeout = true
	}
	return te
}

// body converts read failures into transport errors so a timeout while
// streaming is classified like a timeout while connecting.
type body struct {
	io.ReadCloser
	url string
	d   *HTTPDownloader
}

func (b *body) Read(p []byte) (int, error) {
	n, err := b.ReadCloser.Read(p)
	if err != nil && err != io.EOF {
		return n, b.d.transportError(b.url, err)
	}
	return n, err
}
