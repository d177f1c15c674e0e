// Package client provides the HTTP source for remote library locators,
// with optional bearer auth.
package client

import (
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/leafcutter/leafcutter/internal/logging"
	"github.com/leafcutter/leafcutter/pkg/models"
	"github.com/leafcutter/leafcutter/pkg/protocol"
)

// Client fetches remote resources over HTTP(S). Each call is a single
// fetch-or-fail; falling back to cached copies is the caller's job.
type Client struct {
	httpClient *http.Client
	authToken  string
}

// Config holds client configuration.
type Config struct {
	Timeout time.Duration
	// AuthToken is sent as a bearer token when set.
	AuthToken string
}

// New creates a new client.
func New(cfg Config) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}

	return &Client{
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
			Transport: &http.Transport{
				DialContext: (&net.Dialer{
					Timeout:   10 * time.Second,
					KeepAlive: 30 * time.Second,
				}).DialContext,
				MaxIdleConns:        100,
				IdleConnTimeout:     90 * time.Second,
				DisableCompression:  true,
				TLSHandshakeTimeout: 10 * time.Second,
			},
		},
		authToken: cfg.AuthToken,
	}
}

// Fetch downloads the resource at url. A 404 is returned as a
// models.NotFoundError.
func (c *Client) Fetch(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept-Encoding", "gzip")
	if c.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.authToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() == nil {
			logging.Warn("remote source unreachable", zap.String("url", url), zap.Error(err))
		}
		return nil, fmt.Errorf("fetch %s: %w", url, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, &models.NotFoundError{Locator: url}
	case resp.StatusCode != http.StatusOK:
		var errResp protocol.ErrorResponse
		if json.NewDecoder(resp.Body).Decode(&errResp) == nil && errResp.Error != "" {
			return nil, fmt.Errorf("fetch %s: %d: %s", url, resp.StatusCode, errResp.Error)
		}
		return nil, fmt.Errorf("fetch %s: server returned %d", url, resp.StatusCode)
	}

	var reader io.Reader = resp.Body
	if resp.Header.Get("Content-Encoding") == "gzip" {
		gr, err := gzip.NewReader(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("fetch %s: %w", url, err)
		}
		defer gr.Close()
		reader = gr
	}

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", url, err)
	}
	return data, nil
}

// Libraries lists the libraries exposed by a library server.
func (c *Client) Libraries(ctx context.Context, baseURL string) ([]protocol.LibraryInfo, error) {
	data, err := c.Fetch(ctx, strings.TrimSuffix(baseURL, "/")+"/api/v1/libraries")
	if err != nil {
		return nil, err
	}
	var resp protocol.LibrariesResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("decode libraries: %w", err)
	}
	return resp.Libraries, nil
}
