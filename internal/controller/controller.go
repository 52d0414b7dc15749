package controller

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/espleds-core/internal/coalesce"
	"github.com/nerrad567/espleds-core/internal/control"
	"github.com/nerrad567/espleds-core/internal/history"
)

// ErrClosed is returned when using a controller or manager after Close.
var ErrClosed = errors.New("controller: closed")

// Logger defines the logging interface used by controllers.
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

// pendingWrite is what sits in a parameter's coalescing slot.
type pendingWrite struct {
	value  control.Value
	source string
}

// Options configures a Controller. All fields are optional.
type Options struct {
	Recorder Recorder
	Listener Listener
	Logger   Logger
}

// Controller binds one device's control client to one coalescing
// dispatcher per parameter and holds the user's intended settings.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
type Controller struct {
	address     string
	client      *control.Client
	dispatchers map[control.Parameter]*coalesce.Dispatcher[pendingWrite]
	recorder    Recorder
	listener    Listener
	logger      Logger

	mu       sync.RWMutex
	settings control.Settings
	closed   bool
}

// New creates a Controller for client's device and starts its dispatchers.
// Cancelling ctx stops them, as does Close. Intended settings start at the
// defaults until Refresh reads the device.
func New(ctx context.Context, client *control.Client, opts Options) *Controller {
	c := &Controller{
		address:     client.Address(),
		client:      client,
		dispatchers: make(map[control.Parameter]*coalesce.Dispatcher[pendingWrite]),
		recorder:    opts.Recorder,
		listener:    opts.Listener,
		logger:      opts.Logger,
		settings:    control.DefaultSettings(),
	}
	if c.logger == nil {
		c.logger = noopLogger{}
	}

	for _, p := range control.Parameters() {
		d := coalesce.New(c.address+"/"+string(p), func(ctx context.Context, w pendingWrite) {
			c.write(ctx, p, w)
		})
		d.SetLogger(c.logger)
		d.Start(ctx)
		c.dispatchers[p] = d
	}
	return c
}

// Address returns the device address.
func (c *Controller) Address() string {
	return c.address
}

// Send records v as the intended value of p and queues it for the device.
// Numeric values are clamped into range and names are trimmed to fit, so
// interactive callers never see a rejection. Rapid calls are coalesced:
// only the latest pending value is written once the previous write is done.
func (c *Controller) Send(p control.Parameter, v control.Value) error {
	return c.SendFrom(history.SourceAPI, p, v)
}

// SendFrom is Send with an explicit source for the history trail.
func (c *Controller) SendFrom(source string, p control.Parameter, v control.Value) error {
	d, ok := c.dispatchers[p]
	if !ok {
		return fmt.Errorf("%w: %q", control.ErrUnknownParameter, string(p))
	}
	v = p.Clamp(v)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	// Intent and the queued write change together, so concurrent senders
	// leave the device with the value the settings report.
	c.settings.Set(p, v)
	d.Send(pendingWrite{value: v, source: source})
	snapshot := c.settings
	c.mu.Unlock()

	c.notify(snapshot)
	return nil
}

// write runs on p's dispatcher worker.
func (c *Controller) write(ctx context.Context, p control.Parameter, w pendingWrite) {
	start := time.Now()
	echoed, err := c.client.Put(ctx, p, w.value)
	result := WriteResult{
		Address:   c.address,
		Parameter: p,
		Requested: w.value,
		Accepted:  echoed,
		Err:       err,
		Source:    w.source,
		At:        start,
		Duration:  time.Since(start),
	}

	if err != nil {
		// Local state keeps the user's intent; the next Send or Refresh
		// reconciles it.
		c.logger.Warn("device write failed",
			"address", c.address,
			"parameter", string(p),
			"value", w.value.String(),
			"error", err,
		)
	} else {
		c.logger.Debug("device write accepted",
			"address", c.address,
			"parameter", string(p),
			"requested", w.value.String(),
			"accepted", echoed.String(),
		)
		// The device may have edited the name. Numeric parameters keep the
		// user's value so a slider does not jump under the user's finger.
		// A newer pending value wins over an older echo.
		if p == control.Name && !c.dispatchers[p].Pending() {
			c.mu.Lock()
			changed := c.settings.Name != echoed.Text
			c.settings.Set(p, echoed)
			snapshot := c.settings
			c.mu.Unlock()
			if changed {
				c.notify(snapshot)
			}
		}
	}

	if c.recorder != nil {
		c.recorder.RecordWrite(ctx, result)
	}
}

// Refresh reads every parameter from the device and replaces the intended
// settings with the result. Parameters that could not be read take their
// defaults; the error lists them (see control.RefreshError).
func (c *Controller) Refresh(ctx context.Context) (control.Settings, error) {
	s, err := c.client.Refresh(ctx)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return s, ErrClosed
	}
	c.settings = s
	c.mu.Unlock()

	c.notify(s)
	return s, err
}

// Settings returns a copy of the intended settings.
func (c *Controller) Settings() control.Settings {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.settings
}

// Pending reports whether any parameter has a write waiting.
func (c *Controller) Pending() bool {
	for _, d := range c.dispatchers {
		if d.Pending() {
			return true
		}
	}
	return false
}

// Close stops every dispatcher, waiting for in-flight writes. Values still
// pending are dropped. Safe to call multiple times.
func (c *Controller) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()

	var wg sync.WaitGroup
	for _, d := range c.dispatchers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d.Stop()
		}()
	}
	wg.Wait()
}

func (c *Controller) notify(s control.Settings) {
	if c.listener != nil {
		c.listener.SettingsChanged(c.address, s)
	}
}
