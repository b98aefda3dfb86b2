// Package storeclient talks to the taskboard HTTP API. Client satisfies the
// durable store interface consumed by the sync engine and the ledger.
package storeclient

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
	"strings"
	"time"

	"github.com/oapi-codegen/runtime"
)

// HttpRequestDoer performs HTTP requests. *http.Client satisfies it.
type HttpRequestDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// RequestEditorFn may modify a request before it is sent.
type RequestEditorFn func(ctx context.Context, req *http.Request) error

// StatusError is returned for any non-2xx response that the caller did not
// expect. Message carries the huma problem detail when present.
type StatusError struct {
	Method  string
	Path    string
	Status  int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s %s: status %d", e.Method, e.Path, e.Status)
	}
	return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.Path, e.Status, e.Message)
}

// StatusOf returns the HTTP status of a StatusError, or 0.
func StatusOf(err error) int {
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.Status
	}
	return 0
}

type Client struct {
	server         *url.URL
	boardID        string
	client         HttpRequestDoer
	requestEditors []RequestEditorFn
	logger         *slog.Logger
}

type ClientOption func(*Client) error

func WithHTTPClient(doer HttpRequestDoer) ClientOption {
	return func(c *Client) error {
		c.client = doer
		return nil
	}
}

func WithRequestEditorFn(fn RequestEditorFn) ClientOption {
	return func(c *Client) error {
		c.requestEditors = append(c.requestEditors, fn)
		return nil
	}
}

func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) error {
		if logger != nil {
			c.logger = logger
		}
		return nil
	}
}

// NewClient builds a client for the server at serverURL operating on boardID.
func NewClient(serverURL, boardID string, opts ...ClientOption) (*Client, error) {
	serverURL = strings.TrimSpace(serverURL)
	if serverURL == "" {
		return nil, errors.New("server url is required")
	}
	if !strings.HasSuffix(serverURL, "/") {
		serverURL += "/"
	}
	server, err := url.Parse(serverURL)
	if err != nil {
		return nil, fmt.Errorf("parse server url: %w", err)
	}
	if server.Scheme != "http" && server.Scheme != "https" {
		return nil, fmt.Errorf("server url %q must be http or https", serverURL)
	}
	c := &Client{
		server:  server,
		boardID: strings.TrimSpace(boardID),
		client:  &http.Client{Timeout: 10 * time.Second},
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}
	if c.boardID == "" {
		return nil, errors.New("board id is required")
	}
	return c, nil
}

func (c *Client) BoardID() string {
	return c.boardID
}

// pathParam styles a path segment the way the generated server routes expect.
func pathParam(name, value string) (string, error) {
	return runtime.StyleParamWithLocation("simple", false, name, runtime.ParamLocationPath, value)
}

func (c *Client) path(format string, params ...[2]string) (string, error) {
	args := make([]any, 0, len(params))
	for _, p := range params {
		styled, err := pathParam(p[0], p[1])
		if err != nil {
			return "", fmt.Errorf("style %s param: %w", p[0], err)
		}
		args = append(args, styled)
	}
	return fmt.Sprintf(format, args...), nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, body any) (*http.Request, error) {
	target, err := c.server.Parse(strings.TrimPrefix(path, "/"))
	if err != nil {
		return nil, err
	}
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode %s body: %w", path, err)
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, target.String(), reader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	for _, edit := range c.requestEditors {
		if err := edit(ctx, req); err != nil {
			return nil, err
		}
	}
	return req, nil
}

// do sends the request and decodes a 2xx body into out when out is non-nil.
// Statuses listed in allowed are returned without error and without decoding.
func (c *Client) do(ctx context.Context, method, path string, body, out any, allowed ...int) (int, error) {
	req, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		return 0, err
	}
	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()
	c.logger.Debug("store request", "method", method, "path", path, "status", resp.StatusCode, "duration_ms", time.Since(start).Milliseconds())

	for _, status := range allowed {
		if resp.StatusCode == status {
			_, _ = io.Copy(io.Discard, resp.Body)
			return resp.StatusCode, nil
		}
	}
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, fmt.Errorf("read %s %s response: %w", method, path, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return resp.StatusCode, &StatusError{Method: method, Path: path, Status: resp.StatusCode, Message: problemDetail(raw)}
	}
	if out != nil && len(raw) > 0 {
		if err := json.Unmarshal(raw, out); err != nil {
			return resp.StatusCode, fmt.Errorf("decode %s %s response: %w", method, path, err)
		}
	}
	return resp.StatusCode, nil
}

func problemDetail(raw []byte) string {
	var problem struct {
		Detail string `json:"detail"`
		Title  string `json:"title"`
	}
	if err := json.Unmarshal(raw, &problem); err != nil {
		return strings.TrimSpace(string(raw))
	}
	if problem.Detail != "" {
		return problem.Detail
	}
	return problem.Title
}
