package api

import (
	"net/http"
	"runtime"
	"time"

	"github.com/nerrad567/espleds-core/internal/bridge"
)

// SystemMetrics represents the complete system metrics response.
type SystemMetrics struct {
	Timestamp     string                   `json:"timestamp"`
	Version       string                   `json:"version"`
	UptimeSeconds int64                    `json:"uptime_seconds"`
	Runtime       RuntimeMetrics           `json:"runtime"`
	WebSocket     WSMetrics                `json:"websocket"`
	Devices       DeviceMetrics            `json:"devices"`
	MQTTBridge    *bridge.BridgeStatistics `json:"mqtt_bridge,omitempty"`
	Database      *DatabaseMetrics         `json:"database,omitempty"`
}

// RuntimeMetrics contains Go runtime statistics.
type RuntimeMetrics struct {
	Goroutines    int     `json:"goroutines"`
	MemoryAllocMB float64 `json:"memory_alloc_mb"`
	MemoryTotalMB float64 `json:"memory_total_mb"`
	NumGC         uint32  `json:"num_gc"`
}

// WSMetrics contains WebSocket hub statistics.
type WSMetrics struct {
	ConnectedClients int `json:"connected_clients"`
}

// DeviceMetrics counts registered devices and live controllers.
type DeviceMetrics struct {
	Registered  int `json:"registered"`
	Controllers int `json:"controllers"`
	Pending     int `json:"pending"`
}

// DatabaseMetrics contains database connection pool statistics.
type DatabaseMetrics struct {
	OpenConnections int   `json:"open_connections"`
	InUse           int   `json:"in_use"`
	Idle            int   `json:"idle"`
	WaitCount       int64 `json:"wait_count"`
}

// handleMetrics returns runtime and component statistics.
func (s *Server) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	metrics := SystemMetrics{
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		Version:       s.version,
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
		Runtime: RuntimeMetrics{
			Goroutines:    runtime.NumGoroutine(),
			MemoryAllocMB: float64(memStats.Alloc) / 1024 / 1024,
			MemoryTotalMB: float64(memStats.TotalAlloc) / 1024 / 1024,
			NumGC:         memStats.NumGC,
		},
		Devices: DeviceMetrics{
			Registered: len(s.devices.Snapshot()),
		},
	}

	if s.hub != nil {
		metrics.WebSocket.ConnectedClients = s.hub.ClientCount()
	}

	for _, addr := range s.manager.Addresses() {
		c, ok := s.manager.Lookup(addr)
		if !ok {
			continue
		}
		metrics.Devices.Controllers++
		if c.Pending() {
			metrics.Devices.Pending++
		}
	}

	if s.bridge != nil {
		stats := s.bridge.Stats()
		metrics.MQTTBridge = &stats
	}

	if s.db != nil {
		dbStats := s.db.Stats()
		metrics.Database = &DatabaseMetrics{
			OpenConnections: dbStats.OpenConnections,
			InUse:           dbStats.InUse,
			Idle:            dbStats.Idle,
			WaitCount:       dbStats.WaitCount,
		}
	}

	writeJSON(w, http.StatusOK, metrics)
}
