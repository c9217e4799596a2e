// Package remote implements provider.Provider against a blind-backup
// server: a single-URL JSON-over-HTTPS action protocol where every call
// is a multipart POST carrying a "params" JSON part plus, for uploads,
// additional file parts.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	nethttp "net/http"
	"os"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/rescale/blindbackup/internal/constants"
	"github.com/rescale/blindbackup/internal/ratelimit"
)

// retryLogger adapts retryablehttp's LeveledLogger to zero output, matching
// the quiet-by-default posture of a headless sync agent.
type retryLogger struct{}

func (retryLogger) Error(msg string, kv ...interface{}) {
	if strings.Contains(fmt.Sprint(kv...), "context canceled") {
		return
	}
	if os.Getenv("BLINDBACKUP_DEBUG") != "" {
		fmt.Fprintf(os.Stderr, "remote: retry error: %s %v\n", msg, kv)
	}
}
func (retryLogger) Info(string, ...interface{})  {}
func (retryLogger) Debug(string, ...interface{}) {}
func (retryLogger) Warn(msg string, kv ...interface{}) {
	if os.Getenv("BLINDBACKUP_DEBUG") != "" {
		fmt.Fprintf(os.Stderr, "remote: retry warn: %s %v\n", msg, kv)
	}
}

// RequestError wraps a non-200 response from the server.
type RequestError struct {
	Status int
	Body   string
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("remote: server returned status %d: %s", e.Status, e.Body)
}

// namedFile is a single multipart file part.
type namedFile struct {
	Name string
	Path string
}

// Client is the low-level RPC transport to a blind-backup server. A
// single Client is shared by every Provider built against the same
// server connection.
type Client struct {
	http     *nethttp.Client
	baseURL  string
	login    string
	password string
	scopes   *ratelimit.Registry
	limiters map[ratelimit.Scope]*ratelimit.RateLimiter
}

// NewClient builds a Client against baseURL, authenticating every call
// with login/password.
func NewClient(httpClient *nethttp.Client, baseURL, login, password string) *Client {
	retryClient := retryablehttp.NewClient()
	retryClient.HTTPClient = httpClient
	retryClient.RetryMax = constants.MaxRetries
	retryClient.RetryWaitMin = constants.RetryInitialDelay
	retryClient.RetryWaitMax = constants.RetryMaxDelay
	retryClient.Logger = retryLogger{}

	scopes := ratelimit.NewRegistry()
	limiters := map[ratelimit.Scope]*ratelimit.RateLimiter{
		ratelimit.ScopeMetadata: ratelimit.NewMetadataScopeRateLimiter(),
		ratelimit.ScopeTransfer: ratelimit.NewTransferScopeRateLimiter(),
		ratelimit.ScopePoll:     ratelimit.NewPollScopeRateLimiter(),
	}

	return &Client{
		http:     retryClient.StandardClient(),
		baseURL:  strings.TrimSuffix(baseURL, "/"),
		login:    login,
		password: password,
		scopes:   scopes,
		limiters: limiters,
	}
}

// Call invokes action with params, attaching files as additional
// multipart parts, and JSON-decodes the response into out (if out is
// non-nil).
func (c *Client) Call(ctx context.Context, action string, params map[string]interface{}, files []namedFile, out interface{}) error {
	if err := c.throttle(ctx, action); err != nil {
		return err
	}

	body, contentType, err := c.buildMultipart(action, params, files)
	if err != nil {
		return err
	}

	req, err := nethttp.NewRequestWithContext(ctx, nethttp.MethodPost, c.baseURL, body)
	if err != nil {
		return fmt.Errorf("remote: build request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("remote: %s: %w", action, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("remote: %s: read response: %w", action, err)
	}
	if resp.StatusCode != nethttp.StatusOK {
		return &RequestError{Status: resp.StatusCode, Body: string(data)}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("remote: %s: decode response: %w", action, err)
	}
	return nil
}

// Download performs the "restore" action, returning the raw file body.
func (c *Client) Download(ctx context.Context, remoteName string) (io.ReadCloser, error) {
	if err := c.throttle(ctx, "receivechanges"); err != nil {
		return nil, err
	}
	params := map[string]interface{}{
		"login":  c.login,
		"pwd":    c.password,
		"action": "restore",
		"fname":  remoteName,
	}
	body, contentType, err := c.buildMultipart("", params, nil)
	if err != nil {
		return nil, err
	}
	req, err := nethttp.NewRequestWithContext(ctx, nethttp.MethodPost, c.baseURL, body)
	if err != nil {
		return nil, fmt.Errorf("remote: build request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("remote: restore: %w", err)
	}
	if resp.StatusCode != nethttp.StatusOK {
		data, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, &RequestError{Status: resp.StatusCode, Body: string(data)}
	}
	return resp.Body, nil
}

func (c *Client) buildMultipart(action string, params map[string]interface{}, files []namedFile) (io.Reader, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	if action != "" {
		full := make(map[string]interface{}, len(params)+3)
		for k, v := range params {
			full[k] = v
		}
		full["login"] = c.login
		full["pwd"] = c.password
		full["action"] = action
		params = full
	}

	paramsJSON, err := json.Marshal(params)
	if err != nil {
		return nil, "", fmt.Errorf("remote: marshal params: %w", err)
	}
	if err := w.WriteField("params", string(paramsJSON)); err != nil {
		return nil, "", fmt.Errorf("remote: write params field: %w", err)
	}

	for _, f := range files {
		part, err := w.CreateFormFile(f.Name, f.Name)
		if err != nil {
			return nil, "", fmt.Errorf("remote: create form file %s: %w", f.Name, err)
		}
		src, err := os.Open(f.Path)
		if err != nil {
			return nil, "", fmt.Errorf("remote: open %s: %w", f.Path, err)
		}
		_, copyErr := io.Copy(part, src)
		src.Close()
		if copyErr != nil {
			return nil, "", fmt.Errorf("remote: attach %s: %w", f.Path, copyErr)
		}
	}

	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("remote: close multipart writer: %w", err)
	}
	return &buf, w.FormDataContentType(), nil
}

func (c *Client) throttle(ctx context.Context, action string) error {
	scope := c.scopes.ResolveScope(action)
	limiter, ok := c.limiters[scope]
	if !ok {
		return nil
	}
	return limiter.Wait(ctx)
}

// pollTimeout bounds how long a single pollchanges RPC may block before
// the client gives up and retries, guarding against a server that never
// returns.
const pollTimeout = 2 * time.Minute
