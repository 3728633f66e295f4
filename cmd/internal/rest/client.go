// Package rest is the Teamly HTTP API client: resource fetches and mutations,
// plus opening the gateway websocket with the same credential.
package rest

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
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/coder/websocket"
	"golang.org/x/time/rate"
)

const (
	// DefaultBaseURL is the public API root.
	DefaultBaseURL = "https://api.teamly.one/api/v1"

	// DefaultGatewayURL is the public gateway endpoint.
	DefaultGatewayURL = "wss://api.teamly.one/api/v1/ws"

	DefaultRequestsPerSecond = 10.0
	DefaultBurst             = 5
	DefaultMaxRetries        = 3
	DefaultRequestTimeout    = 15 * time.Second

	// Cap on response bodies read into memory.
	maxResponseBytes = 16 << 20
)

// ErrNoCredential is returned by calls made before StaticLogin.
var ErrNoCredential = errors.New("rest: no credential; call StaticLogin first")

// Config holds configuration for a Client. Zero values fall back to defaults.
type Config struct {
	BaseURL    string
	GatewayURL string

	// HTTPClient is used for API requests. Defaults to a client with DefaultRequestTimeout.
	HTTPClient *http.Client

	// RequestsPerSecond and Burst throttle outgoing API requests.
	RequestsPerSecond float64
	Burst             int

	// MaxRetries bounds retries of transport errors, 429 and 5xx responses.
	MaxRetries int

	// RetryInitial is the first retry delay. Defaults to the backoff package default.
	RetryInitial time.Duration

	Logger *slog.Logger
}

// Client is the Teamly API client. It is safe for concurrent use.
type Client struct {
	baseURL    string
	gatewayURL string
	http       *http.Client
	limiter    *rate.Limiter
	maxRetries int
	retryInit  time.Duration
	log        *slog.Logger

	mu    sync.RWMutex
	token string
}

// New builds a Client. It does not authenticate; call StaticLogin.
func New(cfg Config) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		base = DefaultBaseURL
	}
	if _, err := url.ParseRequestURI(base); err != nil {
		return nil, fmt.Errorf("rest: invalid base url %q: %w", base, err)
	}

	gw := strings.TrimSpace(cfg.GatewayURL)
	if gw == "" {
		gw = DefaultGatewayURL
	}
	if !strings.HasPrefix(gw, "ws://") && !strings.HasPrefix(gw, "wss://") {
		return nil, fmt.Errorf("rest: gateway url must use ws or wss (got %q)", gw)
	}

	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: DefaultRequestTimeout}
	}

	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = DefaultRequestsPerSecond
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = DefaultBurst
	}
	retries := cfg.MaxRetries
	if retries < 0 {
		retries = 0
	} else if retries == 0 {
		retries = DefaultMaxRetries
	}

	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}

	return &Client{
		baseURL:    base,
		gatewayURL: gw,
		http:       hc,
		limiter:    rate.NewLimiter(rate.Limit(rps), burst),
		maxRetries: retries,
		retryInit:  cfg.RetryInitial,
		log:        log,
	}, nil
}

// StaticLogin installs the bot token sent as "Authorization: Bot <token>".
func (c *Client) StaticLogin(token string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return ErrNoCredential
	}
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
	return nil
}

func (c *Client) authHeader() (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.token == "" {
		return "", ErrNoCredential
	}
	return "Bot " + c.token, nil
}

// DialGateway opens the gateway websocket with the bot credential attached.
// The response is returned on handshake failure so callers can inspect the status.
func (c *Client) DialGateway(ctx context.Context) (*websocket.Conn, *http.Response, error) {
	auth, err := c.authHeader()
	if err != nil {
		return nil, nil, err
	}
	return websocket.Dial(ctx, c.gatewayURL, &websocket.DialOptions{
		HTTPHeader: http.Header{"Authorization": []string{auth}},
	})
}

// do runs one API call with throttling and retries. A non-nil out receives the decoded body.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	raw, err := c.doRaw(ctx, method, path, query, body)
	if err != nil {
		return err
	}
	if out == nil || len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("rest: decode %s %s: %w", method, path, err)
	}
	return nil
}

func (c *Client) doRaw(ctx context.Context, method, path string, query url.Values, body any) ([]byte, error) {
	auth, err := c.authHeader()
	if err != nil {
		return nil, err
	}

	var payload []byte
	if body != nil {
		payload, err = json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("rest: encode %s %s: %w", method, path, err)
		}
	}

	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	bo := backoff.NewExponentialBackOff()
	if c.retryInit > 0 {
		bo.InitialInterval = c.retryInit
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(bo, uint64(c.maxRetries)), ctx)

	var out []byte
	op := func() error {
		if err := c.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(err)
		}
		b, err := c.once(ctx, method, target, auth, payload)
		if err != nil {
			if retryable(err) {
				return err
			}
			return backoff.Permanent(err)
		}
		out = b
		return nil
	}
	notify := func(err error, wait time.Duration) {
		c.log.Warn("rest.request.retry", "method", method, "path", path, "err", err, "retry_in", wait)
	}

	if err := backoff.RetryNotify(op, policy, notify); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) once(ctx context.Context, method, target, auth string, payload []byte) ([]byte, error) {
	var rd io.Reader
	if payload != nil {
		rd = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, rd)
	if err != nil {
		return nil, fmt.Errorf("rest: build request: %w", err)
	}
	req.Header.Set("Authorization", auth)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &transportError{err: err}
	}
	defer resp.Body.Close()

	b, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, &transportError{err: err}
	}

	c.log.Debug("rest.request",
		"method", method,
		"url", req.URL.Path,
		"status", resp.StatusCode,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, newHTTPError(method, req.URL.Path, resp.StatusCode, b)
	}
	return b, nil
}

type transportError struct {
	err error
}

func (e *transportError) Error() string { return "rest: transport: " + e.err.Error() }
func (e *transportError) Unwrap() error { return e.err }

// retryable reports whether a failed attempt may succeed if repeated.
// Caller cancellation is handled by the retry policy's context.
func retryable(err error) bool {
	var he *HTTPError
	if errors.As(err, &he) {
		return he.StatusCode == http.StatusTooManyRequests || he.StatusCode >= 500
	}
	var te *transportError
	return errors.As(err, &te)
}
