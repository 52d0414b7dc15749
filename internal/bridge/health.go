package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/espleds-core/internal/infrastructure/mqtt"
)

// DefaultHealthInterval is how often health is republished.
const DefaultHealthInterval = 30 * time.Second

// HealthPublisher is the interface for publishing health messages.
// This is typically implemented by an MQTT client.
type HealthPublisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	IsConnected() bool
}

// stats holds the counters reported in health messages.
type stats struct {
	commandsReceived atomic.Uint64
	commandsFailed   atomic.Uint64
	messagesSent     atomic.Uint64
}

func (s *stats) snapshot() BridgeStatistics {
	return BridgeStatistics{
		CommandsReceived: s.commandsReceived.Load(),
		CommandsFailed:   s.commandsFailed.Load(),
		MessagesSent:     s.messagesSent.Load(),
	}
}

// HealthReporter manages periodic health status reporting.
type HealthReporter struct {
	version   string
	startTime time.Time
	interval  time.Duration
	publisher HealthPublisher
	stats     *stats

	deviceCount atomic.Int64

	// failuresAtLastReport lets a report mark the bridge degraded when
	// commands failed since the previous one.
	failuresAtLastReport atomic.Uint64

	// Shutdown coordination (stopOnce prevents double-close panics)
	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once

	logger Logger
}

func newHealthReporter(version string, interval time.Duration, publisher HealthPublisher, s *stats) *HealthReporter {
	if interval <= 0 {
		interval = DefaultHealthInterval
	}
	return &HealthReporter{
		version:   version,
		startTime: time.Now(),
		interval:  interval,
		publisher: publisher,
		stats:     s,
		done:      make(chan struct{}),
		logger:    noopLogger{},
	}
}

// Start begins periodic health reporting until ctx is cancelled or Stop
// is called.
func (h *HealthReporter) Start(ctx context.Context) {
	h.wg.Add(1)
	go h.reportLoop(ctx)
}

// Stop ends reporting and publishes a final "stopping" status.
// Safe to call multiple times.
func (h *HealthReporter) Stop() {
	h.stopOnce.Do(func() {
		close(h.done)
		h.wg.Wait()

		//nolint:errcheck // Best-effort during shutdown
		h.publishStatus(HealthStopping, "")
	})
}

// SetDeviceCount updates the managed device count.
func (h *HealthReporter) SetDeviceCount(count int) {
	h.deviceCount.Store(int64(count))
}

// PublishStarting publishes a "starting" status.
func (h *HealthReporter) PublishStarting() error {
	return h.publishStatus(HealthStarting, "bridge starting")
}

// PublishNow publishes the current health status immediately.
func (h *HealthReporter) PublishNow() error {
	status, reason := h.determineStatus()
	return h.publishStatus(status, reason)
}

func (h *HealthReporter) reportLoop(ctx context.Context) {
	defer h.wg.Done()

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-h.done:
			return
		case <-ticker.C:
			if err := h.PublishNow(); err != nil {
				h.logger.Error("failed to publish health", "error", err)
			}
		}
	}
}

// determineStatus evaluates the current bridge status.
func (h *HealthReporter) determineStatus() (HealthStatus, string) {
	if h.publisher == nil || !h.publisher.IsConnected() {
		return HealthDegraded, "MQTT disconnected"
	}

	failed := h.stats.commandsFailed.Load()
	previous := h.failuresAtLastReport.Swap(failed)
	if failed > previous {
		return HealthDegraded, fmt.Sprintf("%d command(s) failed since last report", failed-previous)
	}
	return HealthHealthy, ""
}

func (h *HealthReporter) publishStatus(status HealthStatus, reason string) error {
	if h.publisher == nil {
		return nil
	}

	msg := NewHealthMessage(h.version, status, h.stats.snapshot(), int(h.deviceCount.Load()), h.startTime)
	msg.Reason = reason

	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return h.publisher.Publish(mqtt.Topics{}.Health(), payload, 1, true)
}
