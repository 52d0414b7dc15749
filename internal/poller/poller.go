// Package poller periodically snapshots the discovery registry and
// publishes the device list to subscribers such as the WebSocket hub and
// the MQTT bridge.
package poller

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/nerrad567/espleds-core/internal/discovery"
)

// DefaultInterval is how often the registry is snapshotted.
const DefaultInterval = time.Second

// Source supplies device snapshots. *discovery.Registry implements it.
type Source interface {
	Snapshot() []discovery.Device
}

// Subscriber receives each published device list. The slice is the
// subscriber's own copy.
type Subscriber interface {
	DevicesUpdated(devices []discovery.Device)
}

// SubscriberFunc adapts a function to Subscriber.
type SubscriberFunc func(devices []discovery.Device)

// DevicesUpdated calls f.
func (f SubscriberFunc) DevicesUpdated(devices []discovery.Device) { f(devices) }

// Config controls the poll loop.
type Config struct {
	Interval time.Duration

	// PublishUnchanged notifies subscribers on every tick, not only when the
	// set of addresses or names changed.
	PublishUnchanged bool
}

// Logger defines the logging interface used by the Poller.
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

// Poller publishes registry snapshots on a fixed interval.
type Poller struct {
	source Source
	cfg    Config
	logger Logger

	mu          sync.RWMutex
	latest      []discovery.Device
	published   bool
	subscribers []Subscriber

	started  bool
	done     chan struct{}
	cancel   context.CancelFunc
	stopOnce sync.Once
}

// New creates a Poller reading from source.
func New(source Source, cfg Config) *Poller {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	return &Poller{
		source: source,
		cfg:    cfg,
		logger: noopLogger{},
		latest: []discovery.Device{},
		done:   make(chan struct{}),
	}
}

// SetLogger sets the logger for the poller.
func (p *Poller) SetLogger(logger Logger) {
	if logger == nil {
		logger = noopLogger{}
	}
	p.logger = logger
}

// Subscribe registers s for future publications.
func (p *Poller) Subscribe(s Subscriber) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.subscribers = append(p.subscribers, s)
}

// Start polls immediately and then on every interval until Stop or ctx
// cancellation. Calling Start again has no effect.
func (p *Poller) Start(ctx context.Context) {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return
	}
	p.started = true
	runCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.mu.Unlock()

	go p.run(runCtx)
}

// Stop halts the loop and waits for an in-progress publication to finish.
func (p *Poller) Stop() {
	p.stopOnce.Do(func() {
		p.mu.Lock()
		started, cancel := p.started, p.cancel
		p.started = true
		p.mu.Unlock()

		if !started || cancel == nil {
			return
		}
		cancel()
		<-p.done
	})
}

func (p *Poller) run(ctx context.Context) {
	defer close(p.done)

	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	p.Poll()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.Poll()
		}
	}
}

// Poll takes one snapshot, stores it as the latest list and publishes it
// if it changed (or PublishUnchanged is set). It returns the snapshot.
// Publication happens outside any registry lock.
func (p *Poller) Poll() []discovery.Device {
	snap := p.source.Snapshot()
	if snap == nil {
		snap = []discovery.Device{}
	}

	p.mu.Lock()
	changed := !p.published || !sameDevices(p.latest, snap)
	p.latest = snap
	p.published = true
	subscribers := slices.Clone(p.subscribers)
	p.mu.Unlock()

	if !changed && !p.cfg.PublishUnchanged {
		return snap
	}
	if changed {
		p.logger.Debug("device list changed", "count", len(snap))
	}
	for _, s := range subscribers {
		p.deliver(s, slices.Clone(snap))
	}
	return snap
}

// deliver shields the loop from a panicking subscriber.
func (p *Poller) deliver(s Subscriber, devices []discovery.Device) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("subscriber panicked", "panic", fmt.Sprint(r))
		}
	}()
	if devices == nil {
		devices = []discovery.Device{}
	}
	s.DevicesUpdated(devices)
}

// Devices returns a copy of the latest published list. Never nil.
func (p *Poller) Devices() []discovery.Device {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]discovery.Device, len(p.latest))
	copy(out, p.latest)
	return out
}

// sameDevices compares address sets and names; LastSeen is ignored so a
// routine beacon does not count as a change.
func sameDevices(a, b []discovery.Device) bool {
	return slices.EqualFunc(a, b, func(x, y discovery.Device) bool {
		return x.Address == y.Address && x.Name == y.Name
	})
}
