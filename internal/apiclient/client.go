// Package apiclient is the typed REST client for the GeoClip backend.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/geoclip/geoclip/internal/logging"
	"github.com/geoclip/geoclip/internal/models"
)

const (
	// IdempotencyKeyHeader deduplicates repeated uploads of one capture.
	IdempotencyKeyHeader = "Idempotency-Key"
	requestIDHeader      = "X-Request-ID"

	defaultTimeout = 30 * time.Second
	maxErrorBody   = 64 << 10
)

// Client talks to the backend. Every authenticated call takes the bearer token
// explicitly so callers pass the snapshot they hold at call time.
type Client struct {
	baseURL *url.URL
	http    *http.Client
	upload  *http.Client
	logger  *slog.Logger
}

// Option customises a Client.
type Option func(*Client)

// WithHTTPClient replaces the client used for ordinary requests.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithUploadClient replaces the client used for uploads. Uploads have no
// timeout by default.
func WithUploadClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.upload = hc
		}
	}
}

// WithTimeout sets the timeout for non-upload requests.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.http = &http.Client{Timeout: d}
	}
}

// WithLogger sets the client logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// New returns a client for the backend at baseURL.
func New(baseURL string, opts ...Option) (*Client, error) {
	parsed, err := url.Parse(strings.TrimRight(strings.TrimSpace(baseURL), "/"))
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, fmt.Errorf("base url %q must be http or https", baseURL)
	}

	c := &Client{
		baseURL: parsed,
		http:    &http.Client{Timeout: defaultTimeout},
		upload:  &http.Client{},
		logger:  logging.Discard(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// BaseURL returns the configured backend address.
func (c *Client) BaseURL() string {
	return c.baseURL.String()
}

// Login exchanges credentials for a bearer token. Any non-2xx answer is an
// *AuthenticationError carrying the backend message.
func (c *Client) Login(ctx context.Context, email, password string) (models.AccessToken, error) {
	var token models.AccessToken
	err := c.do(ctx, c.http, request{
		op:     "login",
		method: http.MethodPost,
		path:   "/api/login",
		body:   models.Credentials{Email: email, Password: password},
		authOp: true,
	}, &token)
	return token, err
}

// Register creates an account and returns its first bearer token.
func (c *Client) Register(ctx context.Context, reg models.Registration) (models.AccessToken, error) {
	var token models.AccessToken
	err := c.do(ctx, c.http, request{
		op:     "register",
		method: http.MethodPost,
		path:   "/api/register",
		body:   reg,
		authOp: true,
	}, &token)
	return token, err
}

// Me fetches the profile behind token.
func (c *Client) Me(ctx context.Context, token string) (models.Profile, error) {
	var profile models.Profile
	err := c.do(ctx, c.http, request{op: "fetch current user", method: http.MethodGet, path: "/api/me", token: token}, &profile)
	return profile, err
}

// Logout asks the backend to revoke token.
func (c *Client) Logout(ctx context.Context, token string) error {
	return c.do(ctx, c.http, request{op: "logout", method: http.MethodPost, path: "/api/logout", token: token}, nil)
}

// ListVideos returns the caller's clips ordered newest first.
func (c *Client) ListVideos(ctx context.Context, token string) ([]models.VideoSummary, error) {
	var videos []models.VideoSummary
	if err := c.do(ctx, c.http, request{op: "list videos", method: http.MethodGet, path: "/api/videos", token: token}, &videos); err != nil {
		return nil, err
	}
	SortNewestFirst(videos)
	return videos, nil
}

// SortNewestFirst orders summaries by timestamp descending.
func SortNewestFirst(videos []models.VideoSummary) {
	slices.SortStableFunc(videos, func(a, b models.VideoSummary) int {
		return b.Timestamp.Compare(a.Timestamp.Time)
	})
}

// GetVideo fetches one clip including its data URI.
func (c *Client) GetVideo(ctx context.Context, token, id string) (models.VideoDetail, error) {
	var detail models.VideoDetail
	err := c.do(ctx, c.http, request{op: "get video", method: http.MethodGet, path: "/api/videos/" + url.PathEscape(id), token: token}, &detail)
	return detail, err
}

// DeleteVideo removes one clip.
func (c *Client) DeleteVideo(ctx context.Context, token, id string) error {
	return c.do(ctx, c.http, request{op: "delete video", method: http.MethodDelete, path: "/api/videos/" + url.PathEscape(id), token: token}, nil)
}

// Upload submits one capture. An empty idempotencyKey gets a fresh UUID.
func (c *Client) Upload(ctx context.Context, token string, upload models.UploadRequest, idempotencyKey string) (models.UploadResponse, error) {
	if idempotencyKey == "" {
		idempotencyKey = uuid.NewString()
	}
	var resp models.UploadResponse
	err := c.do(ctx, c.upload, request{
		op:      "upload video",
		method:  http.MethodPost,
		path:    "/api/videos/upload",
		token:   token,
		body:    upload,
		headers: map[string]string{IdempotencyKeyHeader: idempotencyKey},
	}, &resp)
	return resp, err
}

type request struct {
	op      string
	method  string
	path    string
	token   string
	body    any
	headers map[string]string
	// authOp marks login and register, where every failure is an authentication failure.
	authOp bool
}

func (c *Client) do(ctx context.Context, hc *http.Client, req request, out any) error {
	var body io.Reader
	if req.body != nil {
		raw, err := json.Marshal(req.body)
		if err != nil {
			return fmt.Errorf("%s: encode request: %w", req.op, err)
		}
		body = bytes.NewReader(raw)
	}

	target := c.baseURL.JoinPath(req.path)
	httpReq, err := http.NewRequestWithContext(ctx, req.method, target.String(), body)
	if err != nil {
		return fmt.Errorf("%s: build request: %w", req.op, err)
	}
	httpReq.Header.Set("Accept", "application/json")
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if req.token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+req.token)
	}
	requestID := uuid.NewString()
	httpReq.Header.Set(requestIDHeader, requestID)
	for key, value := range req.headers {
		httpReq.Header.Set(key, value)
	}

	start := time.Now()
	resp, err := hc.Do(httpReq)
	if err != nil {
		return &NetworkError{Op: req.op, Err: err}
	}
	defer resp.Body.Close()

	c.logger.Debug("api request",
		slog.String("op", req.op),
		slog.String("method", req.method),
		slog.String("path", req.path),
		slog.Int("status", resp.StatusCode),
		slog.String("request_id", requestID),
		slog.Duration("duration", time.Since(start)),
	)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		message := readDetail(resp)
		if req.authOp || resp.StatusCode == http.StatusUnauthorized {
			return &AuthenticationError{Status: resp.StatusCode, Message: message}
		}
		return &APIError{Status: resp.StatusCode, Message: message}
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return &NetworkError{Op: req.op, Err: err}
		}
		return fmt.Errorf("%s: decode response: %w", req.op, err)
	}
	return nil
}

// readDetail extracts the backend's {"detail": ...} message. Validation errors
// may carry a structured detail, which is returned as raw JSON.
func readDetail(resp *http.Response) string {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

	var payload struct {
		Detail json.RawMessage `json:"detail"`
	}
	if err := json.Unmarshal(raw, &payload); err == nil && len(payload.Detail) > 0 {
		var text string
		if err := json.Unmarshal(payload.Detail, &text); err == nil {
			return text
		}
		return string(payload.Detail)
	}

	if text := strings.TrimSpace(string(raw)); text != "" {
		return text
	}
	return http.StatusText(resp.StatusCode)
}
