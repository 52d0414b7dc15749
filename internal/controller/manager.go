package controller

import (
	"context"
	"sort"
	"sync"

	"github.com/nerrad567/espleds-core/internal/control"
	"github.com/nerrad567/espleds-core/internal/discovery"
)

// ManagerConfig configures the controllers a Manager creates.
type ManagerConfig struct {
	// ClientOptions are applied to every device's control client.
	ClientOptions []control.Option

	Recorder Recorder
	Listener Listener
	Logger   Logger
}

// Manager owns one Controller per device address. It implements
// discovery.Observer: when the registry evicts a device, its controller is
// closed.
type Manager struct {
	ctx    context.Context
	cfg    ManagerConfig
	logger Logger

	mu          sync.Mutex
	controllers map[string]*Controller
	closed      bool
}

var _ discovery.Observer = (*Manager)(nil)

// NewManager creates a Manager. Controllers' dispatchers run until ctx is
// cancelled or Close is called.
func NewManager(ctx context.Context, cfg ManagerConfig) *Manager {
	logger := cfg.Logger
	if logger == nil {
		logger = noopLogger{}
	}
	return &Manager{
		ctx:         ctx,
		cfg:         cfg,
		logger:      logger,
		controllers: make(map[string]*Controller),
	}
}

// Controller returns the controller for address, creating it on first use.
func (m *Manager) Controller(address string) (*Controller, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, ErrClosed
	}
	if c, ok := m.controllers[address]; ok {
		return c, nil
	}

	opts := append([]control.Option{control.WithLogger(m.logger)}, m.cfg.ClientOptions...)
	c := New(m.ctx, control.NewClient(address, opts...), Options{
		Recorder: m.cfg.Recorder,
		Listener: m.cfg.Listener,
		Logger:   m.logger,
	})
	m.controllers[address] = c
	m.logger.Debug("controller created", "address", address)
	return c, nil
}

// Send routes a write to address's controller, creating it if needed.
func (m *Manager) Send(address, source string, p control.Parameter, v control.Value) error {
	c, err := m.Controller(address)
	if err != nil {
		return err
	}
	return c.SendFrom(source, p, v)
}

// Lookup returns the controller for address without creating one.
func (m *Manager) Lookup(address string) (*Controller, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.controllers[address]
	return c, ok
}

// Addresses returns the addresses with a live controller, sorted.
func (m *Manager) Addresses() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.controllers))
	for addr := range m.controllers {
		out = append(out, addr)
	}
	sort.Strings(out)
	return out
}

// DeviceDiscovered is a no-op; controllers are created on first use.
func (m *Manager) DeviceDiscovered(discovery.Device) {}

// DeviceLost closes and forgets the lost device's controller.
func (m *Manager) DeviceLost(d discovery.Device) {
	m.mu.Lock()
	c, ok := m.controllers[d.Address]
	delete(m.controllers, d.Address)
	m.mu.Unlock()

	if ok {
		m.logger.Info("retiring controller for lost device", "address", d.Address)
		c.Close()
	}
}

// Close closes every controller. Later Controller calls return ErrClosed.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	controllers := m.controllers
	m.controllers = make(map[string]*Controller)
	m.mu.Unlock()

	for _, c := range controllers {
		c.Close()
	}
}
