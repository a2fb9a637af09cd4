// Package archive downloads satellite granules from NASA LAADS and
// reanalysis subsets from GES DISC. Transport failures and server errors are
// reported as pipeline.TransientFetchError so callers can retry them.
package archive

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/oauth2"

	"github.com/zulandar/empatia/internal/fsutil"
	"github.com/zulandar/empatia/internal/logging"
	"github.com/zulandar/empatia/internal/pipeline"
)

// Client is an HTTP client that authenticates with an Earthdata bearer token.
type Client struct {
	http *http.Client
	log  zerolog.Logger
}

// NewClient returns a client sending token on every request. An empty token
// sends anonymous requests.
func NewClient(ctx context.Context, token string, timeout time.Duration, log zerolog.Logger) *Client {
	hc := &http.Client{Timeout: timeout}
	if token != "" {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, hc)
		hc = oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token, TokenType: "Bearer"}))
		hc.Timeout = timeout
	}
	return &Client{http: hc, log: logging.Component(log, "archive")}
}

func (c *Client) get(ctx context.Context, rawURL string, query url.Values) (*http.Response, error) {
	if len(query) > 0 {
		rawURL += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("archive: %w", err)
	}
	op := "GET " + req.URL.Host + req.URL.Path

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &pipeline.TransientFetchError{Op: op, Err: err}
	}
	if resp.StatusCode == http.StatusOK {
		return resp, nil
	}

	resp.Body.Close()
	err = fmt.Errorf("%s", resp.Status)
	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		return nil, &pipeline.TransientFetchError{Op: op, Err: err}
	}
	return nil, fmt.Errorf("archive: %s: %w", op, err)
}

// Download stores the response body at dst. The file only appears once the
// whole body has been received.
func (c *Client) Download(ctx context.Context, rawURL string, query url.Values, dst string) error {
	resp, err := c.get(ctx, rawURL, query)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("archive: %w", err)
	}
	start := time.Now()
	var n int64
	err = fsutil.WriteAtomic(dst, 0o644, func(w io.Writer) error {
		n, err = io.Copy(w, resp.Body)
		return err
	})
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &pipeline.TransientFetchError{Op: "download " + filepath.Base(dst), Err: err}
	}
	c.log.Debug().Str("file", filepath.Base(dst)).Int64("bytes", n).Dur("took", time.Since(start)).Msg("downloaded")
	return nil
}

func (c *Client) getJSON(ctx context.Context, rawURL string, query url.Values, v any) error {
	resp, err := c.get(ctx, rawURL, query)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("archive: decode %s: %w", rawURL, err)
	}
	return nil
}

// exists reports whether path is a non-empty regular file.
func exists(path string) bool {
	fi, err := os.Stat(path)
	return err == nil && fi.Mode().IsRegular() && fi.Size() > 0
}
