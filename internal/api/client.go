// Package api is the HTTP/JSON client for the vicky API.
package api

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
	"strconv"
	"strings"
	"time"

	"github.com/tuanbt/vickyboard/internal/auth"
	"github.com/tuanbt/vickyboard/internal/task"
)

// HTTPError is returned for every non-2xx response.
type HTTPError struct {
	Method     string
	URL        string
	StatusCode int
	// Message is the server's error text, if it sent one.
	Message string
}

func (e *HTTPError) Error() string {
	msg := fmt.Sprintf("%s %s: unexpected status %d", e.Method, e.URL, e.StatusCode)
	if e.Message != "" {
		msg += ": " + e.Message
	}
	return msg
}

// IsNotFound reports whether err is an HTTPError with status 404.
func IsNotFound(err error) bool {
	return hasStatus(err, http.StatusNotFound)
}

// IsUnauthorized reports whether err means the request was not authenticated.
func IsUnauthorized(err error) bool {
	return errors.Is(err, auth.ErrNoToken) || errors.Is(err, auth.ErrExpiredToken) ||
		hasStatus(err, http.StatusUnauthorized) || hasStatus(err, http.StatusForbidden)
}

func hasStatus(err error, code int) bool {
	var httpErr *HTTPError
	return errors.As(err, &httpErr) && httpErr.StatusCode == code
}

// Client talks to the vicky API. It is safe for concurrent use.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
	tokens     auth.TokenSource
	logger     *slog.Logger
	userAgent  string
	timeout    time.Duration
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithLogger sets the logger used for request tracing.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(c *Client) { c.userAgent = ua }
}

// WithRequestTimeout bounds one-shot requests. Streams are only bounded by their context.
func WithRequestTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// New creates a client for the API rooted at baseURL, e.g. "https://vicky.example.com/api".
func New(baseURL string, tokens auth.TokenSource, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("failed to parse api url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("api url must be absolute, got %q", baseURL)
	}

	c := &Client{
		baseURL:    u,
		httpClient: &http.Client{},
		tokens:     tokens,
		logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
		userAgent:  "vickyboard",
		timeout:    30 * time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.tokens == nil {
		c.tokens = auth.StaticToken("")
	}
	return c, nil
}

// BaseURL returns the API root.
func (c *Client) BaseURL() string {
	return c.baseURL.String()
}

// GetTasks returns a page of tasks.
func (c *Client) GetTasks(ctx context.Context, q task.Query) ([]task.Task, error) {
	var tasks []task.Task
	if _, err := c.do(ctx, http.MethodGet, "/tasks", queryValues(q, true), nil, &tasks); err != nil {
		return nil, err
	}
	if tasks == nil {
		tasks = []task.Task{}
	}
	return tasks, nil
}

// CountTasks returns the number of tasks matching the filter part of q.
func (c *Client) CountTasks(ctx context.Context, q task.Query) (int, error) {
	var body struct {
		Count int `json:"count"`
	}
	if _, err := c.do(ctx, http.MethodGet, "/tasks/count", queryValues(q, false), nil, &body); err != nil {
		return 0, err
	}
	return body.Count, nil
}

// GetTask returns one task, or nil if the server answered with an empty body.
func (c *Client) GetTask(ctx context.Context, id string) (*task.Task, error) {
	return c.taskCall(ctx, http.MethodGet, "/tasks/"+url.PathEscape(id))
}

// ConfirmTask confirms a task that needs user validation.
func (c *Client) ConfirmTask(ctx context.Context, id string) (*task.Task, error) {
	return c.taskCall(ctx, http.MethodPost, "/tasks/"+url.PathEscape(id)+"/confirm")
}

// CancelTask cancels an unfinished task.
func (c *Client) CancelTask(ctx context.Context, id string) (*task.Task, error) {
	return c.taskCall(ctx, http.MethodPost, "/tasks/"+url.PathEscape(id)+"/cancel")
}

func (c *Client) taskCall(ctx context.Context, method, path string) (*task.Task, error) {
	var t task.Task
	found, err := c.do(ctx, method, path, nil, nil, &t)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}
	return &t, nil
}

// GetTaskLogs returns the log lines recorded so far. The server may answer with a plain
// array or with {"lines": [...]}.
func (c *Client) GetTaskLogs(ctx context.Context, id string) ([]string, error) {
	var raw json.RawMessage
	found, err := c.do(ctx, http.MethodGet, "/tasks/"+url.PathEscape(id)+"/logs", nil, nil, &raw)
	if err != nil {
		return nil, err
	}
	if !found {
		return []string{}, nil
	}

	var lines []string
	if err := json.Unmarshal(raw, &lines); err == nil {
		return lines, nil
	}
	var wrapped struct {
		Lines []string `json:"lines"`
	}
	if err := json.Unmarshal(raw, &wrapped); err != nil {
		return nil, fmt.Errorf("failed to decode task logs: %w", err)
	}
	if wrapped.Lines == nil {
		wrapped.Lines = []string{}
	}
	return wrapped.Lines, nil
}

// GetLocks returns the poisoned locks, or every active lock when poisoned is false.
func (c *Client) GetLocks(ctx context.Context, poisoned bool) ([]task.Lock, error) {
	path := "/locks/active"
	if poisoned {
		path = "/locks/poisoned"
	}
	locks := []task.Lock{}
	if _, err := c.do(ctx, http.MethodGet, path, nil, nil, &locks); err != nil {
		return nil, err
	}
	return locks, nil
}

// GetPoisonedLocks returns the poisoned locks with the tasks that poisoned them.
func (c *Client) GetPoisonedLocks(ctx context.Context) ([]task.PoisonedLock, error) {
	locks := []task.PoisonedLock{}
	if _, err := c.do(ctx, http.MethodGet, "/locks/poisoned_detailed", nil, nil, &locks); err != nil {
		return nil, err
	}
	return locks, nil
}

// UnlockLock clears the poison of a lock.
func (c *Client) UnlockLock(ctx context.Context, id string) error {
	_, err := c.do(ctx, http.MethodPatch, "/locks/unlock/"+url.PathEscape(id), nil, nil, nil)
	return err
}

// GetUser returns the signed-in user, or nil if the server sent no body.
func (c *Client) GetUser(ctx context.Context) (*task.User, error) {
	var u task.User
	found, err := c.do(ctx, http.MethodGet, "/user", nil, nil, &u)
	if err != nil || !found {
		return nil, err
	}
	return &u, nil
}

// GetWebConfig returns the identity-provider configuration. It does not need a token.
func (c *Client) GetWebConfig(ctx context.Context) (*task.WebConfig, error) {
	var wc task.WebConfig
	found, err := c.send(ctx, http.MethodGet, "/web-config", nil, nil, &wc, false)
	if err != nil || !found {
		return nil, err
	}
	return &wc, nil
}

// OpenStream opens an authenticated text/event-stream request. The caller owns the
// returned body; cancelling ctx aborts the stream.
func (c *Client) OpenStream(ctx context.Context, path string, query url.Values) (io.ReadCloser, error) {
	token, err := c.tokens.Token()
	if err != nil {
		return nil, err
	}

	req, err := c.newRequest(ctx, http.MethodGet, path, query, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to open stream %s: %w", path, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		return nil, c.httpError(req, resp)
	}
	return resp.Body, nil
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) (bool, error) {
	return c.send(ctx, method, path, query, body, out, true)
}

// send performs a one-shot request. It reports false with no error when the response
// body is empty, which callers surface as a nil result.
func (c *Client) send(ctx context.Context, method, path string, query url.Values, body, out any, authenticated bool) (bool, error) {
	var token string
	if authenticated {
		// Fail before any network I/O when no token is available.
		tok, err := c.tokens.Token()
		if err != nil {
			return false, err
		}
		token = tok
	}

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return false, fmt.Errorf("failed to encode request body: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := c.newRequest(ctx, method, path, query, reader)
	if err != nil {
		return false, err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false, fmt.Errorf("failed to %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	c.logger.Debug("api request", "method", method, "path", path, "status", resp.StatusCode, "duration", time.Since(start))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return false, c.httpError(req, resp)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return false, fmt.Errorf("failed to read response body: %w", err)
	}
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return false, nil
	}
	if out == nil {
		return true, nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return false, fmt.Errorf("failed to decode %s %s response: %w", method, path, err)
	}
	return true, nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, query url.Values, body io.Reader) (*http.Request, error) {
	// path arrives escaped; keep RawPath so escaped ids survive.
	u := *c.baseURL
	u.RawPath = c.baseURL.EscapedPath() + path
	unescaped, err := url.PathUnescape(u.RawPath)
	if err != nil {
		return nil, fmt.Errorf("failed to build request path: %w", err)
	}
	u.Path = unescaped
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	return req, nil
}

func (c *Client) httpError(req *http.Request, resp *http.Response) error {
	httpErr := &HTTPError{
		Method:     req.Method,
		URL:        req.URL.String(),
		StatusCode: resp.StatusCode,
	}

	data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var body struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if json.Unmarshal(data, &body) == nil {
		httpErr.Message = body.Error
		if httpErr.Message == "" {
			httpErr.Message = body.Message
		}
	}
	return httpErr
}

func queryValues(q task.Query, paged bool) url.Values {
	v := url.Values{}
	if q.Status != task.AllStatuses {
		v.Set("status", string(q.Status))
	}
	if q.Group != "" {
		v.Set("group", q.Group)
	}
	if paged {
		if q.Limit > 0 {
			v.Set("limit", strconv.Itoa(q.Limit))
		}
		if q.Offset > 0 {
			v.Set("offset", strconv.Itoa(q.Offset))
		}
	}
	return v
}
