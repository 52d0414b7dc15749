package influxdb

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/nerrad567/espleds-core/internal/infrastructure/config"
)

const (
	connectTimeout = 10 * time.Second
	pingTimeout    = 5 * time.Second

	// Used when the config leaves batching unset.
	defaultBatchSize     = 100
	defaultFlushInterval = 10 * time.Second
)

// Client is the telemetry sink. Writes are queued on the library's
// non-blocking WriteAPI and are silently dropped once Close has run.
type Client struct {
	db     influxdb2.Client
	writer api.WriteAPI

	// mu guards closed. Writers hold it shared so Close cannot tear the
	// WriteAPI down under them.
	mu     sync.RWMutex
	closed bool

	onError atomic.Pointer[func(error)]
}

// Connect pings the server and starts a batched writer for the configured
// org and bucket.
func Connect(cfg config.InfluxDBConfig) (*Client, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}

	db := influxdb2.NewClientWithOptions(cfg.URL, cfg.Token, writeOptions(cfg))

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()
	if err := ping(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: %s: %w", ErrConnectionFailed, cfg.URL, err)
	}

	c := &Client{
		db:     db,
		writer: db.WriteAPI(cfg.Org, cfg.Bucket),
	}
	go c.reportErrors(c.writer.Errors())
	return c, nil
}

func writeOptions(cfg config.InfluxDBConfig) *influxdb2.Options {
	batch := uint(defaultBatchSize)
	if cfg.BatchSize > 0 {
		batch = uint(cfg.BatchSize) // #nosec G115 -- positive
	}
	flush := defaultFlushInterval
	if cfg.FlushInterval > 0 {
		flush = time.Duration(cfg.FlushInterval) * time.Second
	}
	return influxdb2.DefaultOptions().
		SetBatchSize(batch).
		SetFlushInterval(uint(flush.Milliseconds())) // #nosec G115 -- positive
}

func ping(ctx context.Context, db influxdb2.Client) error {
	healthy, err := db.Ping(ctx)
	if err != nil {
		return err
	}
	if !healthy {
		return ErrUnhealthy
	}
	return nil
}

// reportErrors forwards failed batches until the WriteAPI closes the channel.
func (c *Client) reportErrors(errs <-chan error) {
	for err := range errs {
		if cb := c.onError.Load(); cb != nil {
			(*cb)(err)
		}
	}
}

// SetOnError registers the callback for failed batches. It runs on the
// writer's goroutine.
func (c *Client) SetOnError(callback func(err error)) {
	if callback == nil {
		c.onError.Store(nil)
		return
	}
	c.onError.Store(&callback)
}

// write queues p unless the client is closed.
func (c *Client) write(p *write.Point) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return
	}
	c.writer.WritePoint(p)
}

// Flush blocks until queued points have been sent. No-op after Close.
func (c *Client) Flush() {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return
	}
	c.writer.Flush()
}

// Close flushes queued points and releases the client. It is safe to call
// more than once and on a nil Client.
func (c *Client) Close() error {
	if c == nil || c.db == nil {
		return nil
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	// db.Close flushes and stops the WriteAPI, which closes its error
	// channel and ends reportErrors.
	c.db.Close()
	return nil
}

// IsConnected reports whether Close has not yet run.
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return !c.closed
}

// HealthCheck pings the server.
func (c *Client) HealthCheck(ctx context.Context) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}
	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := ping(ctx, c.db); err != nil {
		return fmt.Errorf("influxdb health check: %w", err)
	}
	return nil
}
