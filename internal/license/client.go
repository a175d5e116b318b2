package license

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

const (
	// DefaultTimeout bounds every call to the authority
	DefaultTimeout = 30 * time.Second

	livenessPath = "/api"
	verifyPath   = "/api/cards/verify"
	userAgent    = "cardauth/1.0"
)

// Client is the HTTP transport to the card authority
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// ClientOption customizes a Client
type ClientOption func(*Client)

// WithHTTPClient replaces the underlying HTTP client
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithLogger sets the client logger
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// NewClient creates a transport for baseURL. A non-positive timeout uses DefaultTimeout.
func NewClient(baseURL string, timeout time.Duration, opts ...ClientOption) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With(slog.String("component", "license_client"))
	return c
}

// BaseURL returns the authority address
func (c *Client) BaseURL() string {
	return c.baseURL
}

// ProbeConnectivity reports whether the authority answers at all.
// Any HTTP response counts as reachable; transport errors yield false.
func (c *Client) ProbeConnectivity(ctx context.Context) bool {
	url := c.baseURL + livenessPath
	c.logger.InfoContext(ctx, "probing authority", slog.String("url", url))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		c.logger.ErrorContext(ctx, "connection to authority failed",
			slog.String("result", "failure"),
			slog.String("error", err.Error()))
		return false
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.ErrorContext(ctx, "connection to authority failed",
			slog.String("result", "failure"),
			slog.String("error", err.Error()))
		return false
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	c.logger.InfoContext(ctx, "connected to authority",
		slog.String("result", "success"),
		slog.Int("status_code", resp.StatusCode))
	return true
}

// VerifyKey posts the credential and fingerprint and returns the raw response body.
// The HTTP status is not inspected. Failures are KindNetwork AuthErrors.
func (c *Client) VerifyKey(ctx context.Context, key, fingerprint string) ([]byte, error) {
	payload, err := json.Marshal(VerifyRequest{Key: key, HWID: fingerprint})
	if err != nil {
		return nil, networkError(MsgNetworkPrefix, fmt.Errorf("encode request: %w", err))
	}

	url := c.baseURL + verifyPath
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, networkError(MsgNetworkPrefix, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.WarnContext(ctx, "verification request failed",
			slog.String("url", url),
			slog.String("error", err.Error()),
			slog.Duration("duration", time.Since(start)))
		return nil, networkError(MsgNetworkPrefix, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		c.logger.WarnContext(ctx, "reading verification response failed",
			slog.String("error", err.Error()))
		return nil, networkError(MsgReadPrefix, err)
	}

	c.logger.DebugContext(ctx, "verification response received",
		slog.Int("status_code", resp.StatusCode),
		slog.Int("bytes", len(body)),
		slog.Duration("duration", time.Since(start)))
	return body, nil
}
