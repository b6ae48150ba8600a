// Package appwrite is the gateway adapter: it talks to an Appwrite-compatible
// backend over REST for accounts, sessions and table rows, and over a
// websocket for realtime change events.
//
// A Client is constructed once at start-up and injected into the session
// store (account operations), the habit sync (through a Table) and the
// realtime bridge (through a Realtime). The session cookie returned by the
// gateway is captured from responses and persisted through a CookieStore so
// a later process can resume the session.
package appwrite

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/atinyakov/HabitKeeper/internal/metrics"
)

// Header names used by the gateway.
const (
	headerProject        = "X-Appwrite-Project"
	headerPlatform       = "X-Appwrite-Platform"
	headerFallbackCookie = "X-Fallback-Cookies"
)

// maxResponseSize caps how much of a response body is read.
const maxResponseSize = 4 << 20

// CookieStore persists the gateway session cookie between runs.
type CookieStore interface {
	Load() (string, error)
	Save(cookies string) error
	Clear() error
}

// Config holds configuration for creating a Client.
type Config struct {
	// Endpoint is the gateway base URL including the API prefix,
	// e.g. "https://cloud.appwrite.io/v1".
	Endpoint string
	// ProjectID is sent with every request.
	ProjectID string
	// Platform is the registered client platform identifier.
	Platform string
	// HTTPClient is used for all requests. If nil, http.DefaultClient is used.
	HTTPClient *http.Client
	// Cookies persists the session cookie. If nil, the session lives only
	// as long as the process.
	Cookies CookieStore
	// Logger is used for structured logging. If nil, logging is disabled.
	Logger *zap.Logger
	// Metrics records request latency. If nil, metrics are discarded.
	Metrics metrics.Recorder
}

// Client is the REST side of the gateway.
type Client struct {
	baseURL    string
	projectID  string
	platform   string
	httpClient *http.Client
	store      CookieStore
	log        *zap.Logger
	metrics    metrics.Recorder

	mu      sync.Mutex
	cookies string
}

// NewClient creates a Client and loads any persisted session cookie.
func NewClient(cfg Config) (*Client, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("appwrite: Endpoint is required")
	}
	if cfg.ProjectID == "" {
		return nil, fmt.Errorf("appwrite: ProjectID is required")
	}
	u, err := url.Parse(cfg.Endpoint)
	if err != nil || u.Host == "" {
		return nil, fmt.Errorf("appwrite: invalid Endpoint %q", cfg.Endpoint)
	}

	c := &Client{
		baseURL:    strings.TrimRight(cfg.Endpoint, "/"),
		projectID:  cfg.ProjectID,
		platform:   cfg.Platform,
		httpClient: cfg.HTTPClient,
		store:      cfg.Cookies,
		log:        cfg.Logger,
		metrics:    cfg.Metrics,
	}
	if c.httpClient == nil {
		c.httpClient = http.DefaultClient
	}
	if c.log == nil {
		c.log = zap.NewNop()
	}
	if c.metrics == nil {
		c.metrics = metrics.Nop{}
	}

	if c.store != nil {
		cookies, err := c.store.Load()
		if err != nil {
			// A broken session file only costs a sign-in.
			c.log.Warn("failed to load persisted session", zap.Error(err))
		} else {
			c.cookies = cookies
		}
	}

	return c, nil
}

// Endpoint returns the configured base URL.
func (c *Client) Endpoint() string {
	return c.baseURL
}

// ProjectID returns the configured project.
func (c *Client) ProjectID() string {
	return c.projectID
}

// HasSession reports whether a session cookie is held.
func (c *Client) HasSession() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cookies != ""
}

// sessionSecret extracts the session value for this project from the
// fallback cookie map.
func (c *Client) sessionSecret() string {
	c.mu.Lock()
	raw := c.cookies
	c.mu.Unlock()
	if raw == "" {
		return ""
	}
	var jar map[string]string
	if err := json.Unmarshal([]byte(raw), &jar); err != nil {
		return ""
	}
	return jar["a_session_"+c.projectID]
}

func (c *Client) setCookies(cookies string) {
	c.mu.Lock()
	changed := cookies != c.cookies
	c.cookies = cookies
	c.mu.Unlock()

	if !changed || c.store == nil {
		return
	}
	if err := c.store.Save(cookies); err != nil {
		c.log.Warn("failed to persist session", zap.Error(err))
	}
}

func (c *Client) clearCookies() {
	c.mu.Lock()
	c.cookies = ""
	c.mu.Unlock()

	if c.store == nil {
		return
	}
	if err := c.store.Clear(); err != nil {
		c.log.Warn("failed to clear persisted session", zap.Error(err))
	}
}

// doRequest performs a JSON request against the gateway and returns the
// response body. On 2xx it returns the body; otherwise an *Error.
func (c *Client) doRequest(ctx context.Context, method, path string, query url.Values, requestBody any) ([]byte, error) {
	requestURL := c.baseURL + path
	if len(query) > 0 {
		requestURL += "?" + query.Encode()
	}

	var bodyReader io.Reader
	if requestBody != nil {
		encoded, err := json.Marshal(requestBody)
		if err != nil {
			return nil, fmt.Errorf("appwrite: failed to encode request body: %w", err)
		}
		bodyReader = bytes.NewReader(encoded)
	}

	request, err := http.NewRequestWithContext(ctx, method, requestURL, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("appwrite: failed to create request: %w", err)
	}

	if requestBody != nil {
		request.Header.Set("Content-Type", "application/json")
	}
	request.Header.Set(headerProject, c.projectID)
	if c.platform != "" {
		request.Header.Set(headerPlatform, c.platform)
	}
	c.mu.Lock()
	if c.cookies != "" {
		request.Header.Set(headerFallbackCookie, c.cookies)
	}
	c.mu.Unlock()

	start := time.Now()
	response, err := c.httpClient.Do(request)
	c.metrics.GatewayRequest(method, time.Since(start))
	if err != nil {
		return nil, fmt.Errorf("appwrite: request to %s %s failed: %w", method, path, err)
	}
	defer response.Body.Close()

	responseBody, err := io.ReadAll(io.LimitReader(response.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("appwrite: failed to read response body: %w", err)
	}

	if fallback := response.Header.Get(headerFallbackCookie); fallback != "" {
		c.setCookies(fallback)
	}

	c.log.Debug("gateway request",
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", response.StatusCode),
		zap.Duration("elapsed", time.Since(start)),
	)

	if response.StatusCode >= 200 && response.StatusCode < 300 {
		return responseBody, nil
	}

	var gatewayErr Error
	if jsonErr := json.Unmarshal(responseBody, &gatewayErr); jsonErr != nil || gatewayErr.Message == "" {
		gatewayErr = Error{
			Type:    "unexpected_response",
			Message: strings.TrimSpace(string(responseBody)),
		}
	}
	gatewayErr.StatusCode = response.StatusCode

	return nil, &gatewayErr
}
