package discovery

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sort"
	"strconv"
	"sync"
	"time"
)

// Default registry settings.
const (
	DefaultPort          = 12888
	DefaultBufferSize    = 512
	DefaultStaleAfter    = 30 * time.Second
	DefaultEvictInterval = 2 * time.Second

	// receiveRetryDelay throttles the listener while reads keep failing.
	receiveRetryDelay = 100 * time.Millisecond
)

// Config controls the beacon listener and eviction sweep.
type Config struct {
	// ListenAddress is the local IP to bind. Empty means all interfaces.
	ListenAddress string
	Port          int
	BufferSize    int
	StaleAfter    time.Duration
	EvictInterval time.Duration
}

// DefaultConfig returns the standard listener settings: all interfaces,
// port 12888, 30s staleness window swept every 2s.
func DefaultConfig() Config {
	return Config{
		ListenAddress: "0.0.0.0",
		Port:          DefaultPort,
		BufferSize:    DefaultBufferSize,
		StaleAfter:    DefaultStaleAfter,
		EvictInterval: DefaultEvictInterval,
	}
}

// Observer is told when devices appear and disappear. Callbacks run on the
// registry's goroutines, outside its lock, and should return quickly.
type Observer interface {
	DeviceDiscovered(d Device)
	DeviceLost(d Device)
}

// Logger defines the logging interface used by the Registry.
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

// Registry tracks live devices from their UDP beacons.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
//   - Upserts and eviction sweeps hold the write lock for their whole
//     read-modify-write; Snapshot and Get hold the read lock.
type Registry struct {
	cfg    Config
	logger Logger
	now    func() time.Time

	mu      sync.RWMutex
	devices map[string]Device

	obsMu     sync.RWMutex
	observers []Observer

	lifecycle sync.Mutex
	started   bool
	conn      *net.UDPConn
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	stopOnce  sync.Once
}

// NewRegistry creates an empty registry. Zero durations take defaults and
// the buffer is never smaller than 512 bytes. Port 0 binds an ephemeral
// port, which tests use.
func NewRegistry(cfg Config) *Registry {
	def := DefaultConfig()
	if cfg.BufferSize < DefaultBufferSize {
		cfg.BufferSize = DefaultBufferSize
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = def.StaleAfter
	}
	if cfg.EvictInterval <= 0 {
		cfg.EvictInterval = def.EvictInterval
	}

	return &Registry{
		cfg:     cfg,
		logger:  noopLogger{},
		now:     time.Now,
		devices: make(map[string]Device),
	}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	if logger == nil {
		logger = noopLogger{}
	}
	r.logger = logger
}

// SetClock replaces the time source used by the listener and eviction
// goroutines. Call before Start.
func (r *Registry) SetClock(now func() time.Time) {
	r.now = now
}

// AddObserver registers o for discovery and loss notifications.
func (r *Registry) AddObserver(o Observer) {
	r.obsMu.Lock()
	defer r.obsMu.Unlock()
	r.observers = append(r.observers, o)
}

// Start binds the UDP socket and launches the listener and eviction
// goroutines. It returns once the socket is bound.
func (r *Registry) Start(ctx context.Context) error {
	r.lifecycle.Lock()
	defer r.lifecycle.Unlock()

	if r.started {
		return ErrAlreadyStarted
	}

	addr := net.JoinHostPort(r.cfg.ListenAddress, strconv.Itoa(r.cfg.Port))
	udpAddr, err := net.ResolveUDPAddr("udp4", addr)
	if err != nil {
		return fmt.Errorf("resolving %s: %w", addr, err)
	}
	conn, err := net.ListenUDP("udp4", udpAddr)
	if err != nil {
		return fmt.Errorf("binding %s: %w", addr, err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	r.conn = conn
	r.cancel = cancel
	r.started = true

	r.wg.Add(2)
	go r.listenLoop(runCtx, conn)
	go r.evictLoop(runCtx)

	// Cancelling the parent context must unblock the receive as well.
	go func() {
		<-runCtx.Done()
		conn.Close() //nolint:errcheck // unblocks ReadFromUDP
	}()

	r.logger.Info("discovery listening", "address", conn.LocalAddr().String())
	return nil
}

// LocalAddr returns the bound socket address, or nil before Start.
func (r *Registry) LocalAddr() net.Addr {
	r.lifecycle.Lock()
	defer r.lifecycle.Unlock()
	if r.conn == nil {
		return nil
	}
	return r.conn.LocalAddr()
}

// Stop cancels both goroutines, closes the socket and waits for them to
// exit. Safe to call multiple times and before Start.
func (r *Registry) Stop() {
	r.stopOnce.Do(func() {
		r.lifecycle.Lock()
		r.started = true // a stopped registry cannot be restarted
		cancel, conn := r.cancel, r.conn
		r.lifecycle.Unlock()

		if cancel == nil {
			return
		}
		cancel()
		conn.Close() //nolint:errcheck // may already be closed by the context watcher
		r.wg.Wait()
		r.logger.Info("discovery stopped")
	})
}

// datagramReader is the part of *net.UDPConn the listener uses.
type datagramReader interface {
	ReadFromUDP(b []byte) (int, *net.UDPAddr, error)
}

// listenLoop receives beacons until the socket is closed.
func (r *Registry) listenLoop(ctx context.Context, conn datagramReader) {
	defer r.wg.Done()

	buf := make([]byte, r.cfg.BufferSize)
	for {
		n, from, err := conn.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			r.logger.Warn("discovery receive failed", "error", err)
			if !pause(ctx, receiveRetryDelay) {
				return
			}
			continue
		}

		if err := r.HandleDatagram(buf[:n], r.now()); err != nil {
			r.logger.Debug("ignoring datagram", "from", from.String(), "error", err)
		}
	}
}

// pause waits for d, returning false if ctx ends first.
func pause(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// evictLoop sweeps stale devices on every tick.
func (r *Registry) evictLoop(ctx context.Context) {
	defer r.wg.Done()

	ticker := time.NewTicker(r.cfg.EvictInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Evict(r.now())
		}
	}
}

// HandleDatagram parses one datagram received at now and upserts the
// device it announces. A malformed datagram is returned as an error and
// leaves the registry untouched.
func (r *Registry) HandleDatagram(data []byte, now time.Time) error {
	b, err := ParseBeacon(data)
	if err != nil {
		return err
	}
	r.Upsert(b, now)
	return nil
}

// Upsert inserts the beacon's device or refreshes its name and LastSeen.
// LastSeen never moves backwards. It returns the stored device.
func (r *Registry) Upsert(b Beacon, now time.Time) Device {
	r.mu.Lock()
	d, exists := r.devices[b.Address]
	d.Address = b.Address
	d.Name = b.Name
	if now.After(d.LastSeen) {
		d.LastSeen = now
	}
	r.devices[b.Address] = d
	r.mu.Unlock()

	if !exists {
		r.logger.Info("device discovered", "address", d.Address, "name", d.Name)
		r.notify(func(o Observer) { o.DeviceDiscovered(d) })
	}
	return d
}

// Evict removes every device silent for longer than the staleness window
// as of now, and returns them.
func (r *Registry) Evict(now time.Time) []Device {
	r.mu.Lock()
	var lost []Device
	for addr, d := range r.devices {
		if now.Sub(d.LastSeen) > r.cfg.StaleAfter {
			delete(r.devices, addr)
			lost = append(lost, d)
		}
	}
	r.mu.Unlock()

	sortDevices(lost)
	for _, d := range lost {
		r.logger.Info("device lost", "address", d.Address, "name", d.Name, "last_seen", d.LastSeen)
		r.notify(func(o Observer) { o.DeviceLost(d) })
	}
	return lost
}

// Snapshot returns a copy of every registered device, sorted by address.
// The result is never nil.
func (r *Registry) Snapshot() []Device {
	r.mu.RLock()
	out := make([]Device, 0, len(r.devices))
	for _, d := range r.devices {
		out = append(out, d)
	}
	r.mu.RUnlock()

	sortDevices(out)
	return out
}

// Get returns the device registered under address.
func (r *Registry) Get(address string) (Device, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.devices[address]
	return d, ok
}

// Len returns the number of registered devices.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.devices)
}

func (r *Registry) notify(fn func(Observer)) {
	r.obsMu.RLock()
	observers := append([]Observer(nil), r.observers...)
	r.obsMu.RUnlock()

	for _, o := range observers {
		fn(o)
	}
}

func sortDevices(devices []Device) {
	sort.Slice(devices, func(i, j int) bool {
		return devices[i].Address < devices[j].Address
	})
}
