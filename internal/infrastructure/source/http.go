// ABOUTME: Capture stream sources for replaying recorded producer sessions
// ABOUTME: Opens msgpack capture streams from HTTP endpoints or local files
package source

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/harper/pencil-bridge/internal/domain"
)

const captureContentType = "application/x-msgpack"

type HTTPConfig struct {
	URL            string
	ConnectTimeout time.Duration
	Headers        map[string]string
}

type HTTPSource struct {
	cfg    HTTPConfig
	client *http.Client
}

func NewHTTP(cfg HTTPConfig) *HTTPSource {
	dialer := &net.Dialer{Timeout: cfg.ConnectTimeout}
	transport := &http.Transport{
		DialContext:           dialer.DialContext,
		ResponseHeaderTimeout: cfg.ConnectTimeout,
		ExpectContinueTimeout: 1 * time.Second,
	}

	client := &http.Client{
		Transport: transport,
		Timeout:   0, // Captures may be long
	}

	return &HTTPSource{
		cfg:    cfg,
		client: client,
	}
}

func (h *HTTPSource) Open(ctx context.Context) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", h.cfg.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Accept", captureContentType)

	for k, v := range h.cfg.Headers {
		req.Header.Set(k, v)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	return resp.Body, nil
}

type FileSource struct {
	Path string
}

func NewFile(path string) *FileSource {
	return &FileSource{Path: path}
}

func (f *FileSource) Open(ctx context.Context) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	file, err := os.Open(f.Path)
	if err != nil {
		return nil, fmt.Errorf("open capture: %w", err)
	}
	return file, nil
}

// FromURI picks an HTTP source for http(s) URIs and a file source otherwise.
func FromURI(uri string, connectTimeout time.Duration) (domain.CaptureSource, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return nil, fmt.Errorf("parse capture uri: %w", err)
	}
	switch u.Scheme {
	case "http", "https":
		return NewHTTP(HTTPConfig{URL: uri, ConnectTimeout: connectTimeout}), nil
	case "", "file":
		path := uri
		if u.Scheme == "file" {
			path = u.Path
		}
		return NewFile(path), nil
	default:
		return nil, fmt.Errorf("unsupported capture scheme %q", u.Scheme)
	}
}
