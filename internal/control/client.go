package control

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// Default client settings.
const (
	DefaultTimeout = time.Second

	// maxBodySize caps how much of a response is read. Device bodies are a
	// handful of bytes.
	maxBodySize = 4096
)

// RetryPolicy bounds how often a PUT that failed with ErrConnection is sent
// again. The delay doubles after each attempt up to MaxDelay.
type RetryPolicy struct {
	Attempts     int
	InitialDelay time.Duration
	MaxDelay     time.Duration
}

// DefaultRetryPolicy is three attempts, starting at 100ms, capped at 1s.
var DefaultRetryPolicy = RetryPolicy{
	Attempts:     3,
	InitialDelay: 100 * time.Millisecond,
	MaxDelay:     time.Second,
}

// Logger defines the logging interface used by the Client.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Client talks to one device's HTTP control endpoint.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
type Client struct {
	address string
	baseURL string
	http    *http.Client
	retry   RetryPolicy
	logger  Logger
}

// Option configures a Client.
type Option func(*Client)

// WithTimeout sets the per-request timeout. Non-positive values are ignored.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.http.Timeout = d
		}
	}
}

// WithHTTPClient replaces the underlying HTTP client. Its Timeout is
// replaced by DefaultTimeout when zero.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc == nil {
			return
		}
		if hc.Timeout <= 0 {
			cp := *hc
			cp.Timeout = DefaultTimeout
			hc = &cp
		}
		c.http = hc
	}
}

// WithRetry sets the PUT retry policy.
func WithRetry(p RetryPolicy) Option {
	return func(c *Client) {
		if p.Attempts < 1 {
			p.Attempts = 1
		}
		c.retry = p
	}
}

// WithLogger sets the logger used for warnings.
func WithLogger(l Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// NewClient creates a Client for the device at address (a host or
// host:port; port 80 is implied).
func NewClient(address string, opts ...Option) *Client {
	c := &Client{
		address: address,
		baseURL: "http://" + address,
		http:    &http.Client{Timeout: DefaultTimeout},
		retry:   DefaultRetryPolicy,
		logger:  noopLogger{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Address returns the device address the client is bound to.
func (c *Client) Address() string {
	return c.address
}

// Fetch performs a GET on path and returns the trimmed body.
func (c *Client) Fetch(ctx context.Context, path string) (string, error) {
	return c.do(ctx, http.MethodGet, path, nil)
}

// Write performs a PUT of body on path and returns the trimmed echo.
func (c *Client) Write(ctx context.Context, path, body string) (string, error) {
	return c.do(ctx, http.MethodPut, path, strings.NewReader(body))
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader) (string, error) {
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return "", fmt.Errorf("%w: building request: %v", ErrConnection, err)
	}
	req.Header.Set("Accept", "text/plain")
	if body != nil {
		req.Header.Set("Content-Type", "text/plain")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %s %s: %v", ErrConnection, method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodySize)) //nolint:errcheck // drain for reuse
		return "", &StatusError{Method: method, Path: path, Code: resp.StatusCode}
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return "", fmt.Errorf("%w: reading %s body: %v", ErrConnection, path, err)
	}
	return strings.TrimSpace(string(data)), nil
}

// Get reads one parameter from the device.
func (c *Client) Get(ctx context.Context, p Parameter) (Value, error) {
	if _, ok := parameterSpecs[p]; !ok {
		return Value{}, fmt.Errorf("%w: %q", ErrUnknownParameter, string(p))
	}
	body, err := c.Fetch(ctx, p.Path())
	if err != nil {
		return Value{}, err
	}
	return p.decode(body)
}

// Put writes one parameter and returns the value the device echoed, which
// may differ from v if the device clamped it. Out-of-range values are
// rejected with ErrInvalidValue before any network I/O. Connection failures
// are retried according to the client's RetryPolicy.
func (c *Client) Put(ctx context.Context, p Parameter, v Value) (Value, error) {
	if err := p.Validate(v); err != nil {
		return Value{}, err
	}

	delay := c.retry.InitialDelay
	var lastErr error
	for attempt := 1; attempt <= c.retry.Attempts; attempt++ {
		body, err := c.Write(ctx, p.Path(), v.String())
		if err == nil {
			return p.decode(body)
		}
		lastErr = err

		if !retryable(err) || attempt == c.retry.Attempts || ctx.Err() != nil {
			break
		}

		c.logger.Debug("retrying device write",
			"address", c.address,
			"parameter", string(p),
			"attempt", attempt,
			"delay", delay,
			"error", err,
		)
		if err := sleep(ctx, delay); err != nil {
			return Value{}, fmt.Errorf("%w: %v", ErrConnection, err)
		}
		delay = min(delay*2, c.retry.MaxDelay)
	}
	return Value{}, lastErr
}

// retryable reports whether sending the same request again might succeed.
func retryable(err error) bool {
	if !errors.Is(err, ErrConnection) {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) && se.clientError() {
		return false
	}
	return true
}

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Refresh reads every parameter in parallel. A parameter that cannot be read
// takes its default value and is logged as a warning; the returned error is
// a *RefreshError listing each failure, or nil when all reads succeeded.
// The Settings are always usable.
func (c *Client) Refresh(ctx context.Context) (Settings, error) {
	params := Parameters()
	values := make([]Value, len(params))
	failures := make(map[Parameter]error)
	var mu sync.Mutex

	var g errgroup.Group
	for i, p := range params {
		g.Go(func() error {
			v, err := c.Get(ctx, p)
			if err != nil {
				c.logger.Warn("device read failed, using default",
					"address", c.address,
					"parameter", string(p),
					"error", err,
				)
				mu.Lock()
				failures[p] = err
				mu.Unlock()
				v = p.Default()
			}
			values[i] = v
			return nil
		})
	}
	_ = g.Wait() //nolint:errcheck // goroutines record failures instead of returning them

	var s Settings
	for i, p := range params {
		s.Set(p, values[i])
	}
	if len(failures) > 0 {
		return s, &RefreshError{Failures: failures}
	}
	return s, nil
}

// Typed accessors.

// GetBrightness reads the brightness (0..255).
func (c *Client) GetBrightness(ctx context.Context) (int, error) {
	return c.getInt(ctx, Brightness)
}

// PutBrightness writes the brightness and returns the device's echo.
func (c *Client) PutBrightness(ctx context.Context, v int) (int, error) {
	return c.putInt(ctx, Brightness, v)
}

// GetFrameDuration reads the animation frame duration in milliseconds.
func (c *Client) GetFrameDuration(ctx context.Context) (int, error) {
	return c.getInt(ctx, FrameDuration)
}

// PutFrameDuration writes the frame duration (5..1000 ms).
func (c *Client) PutFrameDuration(ctx context.Context, v int) (int, error) {
	return c.putInt(ctx, FrameDuration, v)
}

// GetHuePerPixel reads the hue step between adjacent pixels.
func (c *Client) GetHuePerPixel(ctx context.Context) (int, error) {
	return c.getInt(ctx, HuePerPixel)
}

// PutHuePerPixel writes the hue step between adjacent pixels (-128..127).
func (c *Client) PutHuePerPixel(ctx context.Context, v int) (int, error) {
	return c.putInt(ctx, HuePerPixel, v)
}

// GetHuePerFrame reads the hue step per animation frame.
func (c *Client) GetHuePerFrame(ctx context.Context) (int, error) {
	return c.getInt(ctx, HuePerFrame)
}

// PutHuePerFrame writes the hue step per animation frame (-128..127).
func (c *Client) PutHuePerFrame(ctx context.Context, v int) (int, error) {
	return c.putInt(ctx, HuePerFrame, v)
}

// GetName reads the device's label.
func (c *Client) GetName(ctx context.Context) (string, error) {
	v, err := c.Get(ctx, Name)
	return v.Text, err
}

// PutName writes the device's label (at most 32 bytes).
func (c *Client) PutName(ctx context.Context, name string) (string, error) {
	v, err := c.Put(ctx, Name, TextValue(name))
	return v.Text, err
}

func (c *Client) getInt(ctx context.Context, p Parameter) (int, error) {
	v, err := c.Get(ctx, p)
	return v.Number, err
}

func (c *Client) putInt(ctx context.Context, p Parameter, n int) (int, error) {
	v, err := c.Put(ctx, p, IntValue(n))
	return v.Number, err
}
