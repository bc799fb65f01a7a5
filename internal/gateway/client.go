package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/Xfuse1/whatsapp-crm/internal/apperr"
	"github.com/Xfuse1/whatsapp-crm/internal/retry"
)

// DefaultCooldown is how long every call fails fast after a 429.
const DefaultCooldown = 30 * time.Second

const rateLimitedMessage = "Rate limited. Please wait before making more requests."

// TokenSource supplies the bearer token. An empty token means anonymous.
type TokenSource interface {
	Token() string
}

// TokenFunc adapts a function to TokenSource.
type TokenFunc func() string

func (f TokenFunc) Token() string { return f() }

// Options configures a Client.
type Options struct {
	BaseURL    string
	HTTPClient *http.Client
	Tokens     TokenSource
	Policy     retry.Policy
	Cooldown   time.Duration
	Logger     *zap.Logger
	Now        func() time.Time
}

// Client issues authenticated JSON calls against the CRM backend.
type Client struct {
	baseURL string
	http    *http.Client
	tokens  TokenSource
	policy  retry.Policy
	logger  *zap.Logger
	now     func() time.Time

	cooldown time.Duration
	mu       sync.Mutex
	until    time.Time
}

// New creates a Client.
func New(opts Options) *Client {
	c := &Client{
		baseURL:  strings.TrimSuffix(strings.TrimRight(opts.BaseURL, "/"), "/api"),
		http:     opts.HTTPClient,
		tokens:   opts.Tokens,
		policy:   opts.Policy,
		logger:   opts.Logger,
		now:      opts.Now,
		cooldown: opts.Cooldown,
	}
	if c.http == nil {
		c.http = &http.Client{Timeout: 30 * time.Second}
	}
	if c.logger == nil {
		c.logger = zap.NewNop()
	}
	if c.now == nil {
		c.now = time.Now
	}
	if c.cooldown <= 0 {
		c.cooldown = DefaultCooldown
	}
	if c.policy.MaxAttempts == 0 {
		c.policy = retry.DefaultPolicy()
	}
	c.policy.Retryable = apperr.IsRetryable
	return c
}

// BaseURL returns the backend origin. Endpoint paths carry their own
// /api prefix, so a configured base ending in /api is accepted and trimmed.
func (c *Client) BaseURL() string { return c.baseURL }

// RateLimitedUntil returns the end of the current cool-down window, or the
// zero time when no cool-down is active.
func (c *Client) RateLimitedUntil() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.now().Before(c.until) {
		return c.until
	}
	return time.Time{}
}

func (c *Client) checkCooldown() error {
	c.mu.Lock()
	until := c.until
	c.mu.Unlock()
	if wait := until.Sub(c.now()); wait > 0 {
		c.logger.Warn("rate limited, skipping request", zap.Duration("wait", wait.Round(time.Second)))
		return apperr.New(apperr.CodeRateLimited, rateLimitedMessage).WithUserMessage(rateLimitedMessage)
	}
	return nil
}

func (c *Client) startCooldown() {
	c.mu.Lock()
	c.until = c.now().Add(c.cooldown)
	c.mu.Unlock()
	c.logger.Warn("rate limited, blocking requests", zap.Duration("cooldown", c.cooldown))
}

// Get issues a GET and decodes the JSON response into out. Transient
// network failures are retried with the client's policy.
func (c *Client) Get(ctx context.Context, path string, out any) error {
	return c.call(ctx, http.MethodGet, path, nil, out)
}

// Post issues a POST with a JSON body. It is only retried when the request
// provably never left the machine.
func (c *Client) Post(ctx context.Context, path string, body, out any) error {
	return c.call(ctx, http.MethodPost, path, body, out)
}

func (c *Client) call(ctx context.Context, method, path string, body, out any) error {
	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return apperr.Wrap(err, apperr.CodeInvalidInput, "encode request body")
		}
	}

	data, err := retry.Do(ctx, c.policy, func(ctx context.Context) ([]byte, error) {
		return c.do(ctx, method, path, payload)
	}, func(err error, attempt uint, delay time.Duration) {
		c.logger.Info("retrying request",
			zap.String("method", method),
			zap.String("path", path),
			zap.Uint("attempt", attempt),
			zap.Duration("delay", delay),
			zap.Error(err),
		)
	})
	if err != nil {
		if !apperr.Is(err, apperr.CodeRateLimited) {
			c.logger.Warn("request failed", zap.String("method", method), zap.String("path", path), zap.Error(err))
		}
		return err
	}
	return decode(data, out)
}

func decode(data []byte, out any) error {
	switch dst := out.(type) {
	case nil:
		return nil
	case *gjson.Result:
		*dst = gjson.ParseBytes(data)
		return nil
	case *[]byte:
		*dst = data
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return apperr.Wrap(err, apperr.CodeUnknown, "decode response")
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, payload []byte) ([]byte, error) {
	if err := c.checkCooldown(); err != nil {
		return nil, err
	}

	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.CodeInvalidInput, "build request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.tokens != nil {
		if token := c.tokens.Token(); token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		msg := fmt.Sprintf("unable to reach %s %s", method, path)
		if ctx.Err() != nil || !(method == http.MethodGet || isPreSend(err)) {
			return nil, apperr.Wrap(err, apperr.CodeNetwork, msg)
		}
		return nil, apperr.WrapRetryable(err, apperr.CodeNetwork, msg)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		if method == http.MethodGet && ctx.Err() == nil {
			return nil, apperr.WrapRetryable(err, apperr.CodeNetwork, "read response body")
		}
		return nil, apperr.Wrap(err, apperr.CodeNetwork, "read response body")
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		c.startCooldown()
		return nil, apperr.New(apperr.CodeRateLimited, "Too Many Requests (429). Please wait before retrying.").
			WithStatus(resp.StatusCode).
			WithUserMessage(rateLimitedMessage)
	case resp.StatusCode >= 400:
		return nil, apperr.New(apperr.CodeHTTP, serverMessage(data, resp.StatusCode)).WithStatus(resp.StatusCode)
	}
	return data, nil
}

// serverMessage extracts the backend's error or message field.
func serverMessage(data []byte, status int) string {
	if gjson.ValidBytes(data) {
		v := gjson.ParseBytes(data)
		for _, key := range []string{"error", "message"} {
			if s := v.Get(key); s.Type == gjson.String && s.String() != "" {
				return s.String()
			}
		}
	}
	return fmt.Sprintf("HTTP %d: %s", status, http.StatusText(status))
}

// isPreSend reports whether err happened before any byte of the request
// could reach the server.
func isPreSend(err error) bool {
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return opErr.Op == "dial"
	}
	return false
}

// Get is the typed form of Client.Get.
func Get[T any](ctx context.Context, c *Client, path string) (T, error) {
	var out T
	err := c.Get(ctx, path, &out)
	return out, err
}

// Post is the typed form of Client.Post.
func Post[T any](ctx context.Context, c *Client, path string, body any) (T, error) {
	var out T
	err := c.Post(ctx, path, body, &out)
	return out, err
}
