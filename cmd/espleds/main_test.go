package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/espleds-core/internal/control"
	"github.com/nerrad567/espleds-core/internal/discovery"
	"github.com/nerrad567/espleds-core/internal/history"
	"github.com/nerrad567/espleds-core/internal/infrastructure/database"
	"github.com/nerrad567/espleds-core/internal/infrastructure/logging"
)

// freeUDPPort returns a port that was free a moment ago.
func freeUDPPort(t *testing.T) int {
	t.Helper()
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer conn.Close()
	addr, ok := conn.LocalAddr().(*net.UDPAddr)
	if !ok {
		t.Fatalf("unexpected local address %v", conn.LocalAddr())
	}
	return addr.Port
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return path
}

// TestRun_InvalidConfig verifies run fails with invalid config path.
func TestRun_InvalidConfig(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := run(ctx, "/nonexistent/path/config.yaml"); err == nil {
		t.Fatal("run() should fail with invalid config path")
	}
}

// TestRun_MissingDatabasePath verifies run fails validation when the
// database is enabled without a path.
func TestRun_MissingDatabasePath(t *testing.T) {
	path := writeConfig(t, `
database:
  enabled: true
  path: ""
`)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := run(ctx, path)
	if err == nil {
		t.Fatal("run() should fail with empty database path")
	}
	if !strings.Contains(err.Error(), "database.path") {
		t.Errorf("error = %v, want database.path complaint", err)
	}
}

// TestRun_StartupAndShutdown runs the whole service without MQTT or
// InfluxDB and checks it stops cleanly when the context ends.
func TestRun_StartupAndShutdown(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, fmt.Sprintf(`
discovery:
  listen_address: "127.0.0.1"
  port: %d
database:
  enabled: true
  path: %q
  history_retention: 1h
mqtt:
  enabled: false
influxdb:
  enabled: false
api:
  enabled: false
logging:
  level: error
`, freeUDPPort(t), filepath.Join(dir, "espleds.db")))

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- run(ctx, path) }()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run() = %v, want nil", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("run() did not return after context cancellation")
	}

	if _, err := os.Stat(filepath.Join(dir, "espleds.db")); err != nil {
		t.Errorf("database file not created: %v", err)
	}
}

func TestConfigPath(t *testing.T) {
	t.Run("default", func(t *testing.T) {
		t.Setenv(configEnv, "")
		cmd := newRootCmd()
		if got := configPath(cmd); got != defaultConfigPath {
			t.Errorf("configPath() = %q, want %q", got, defaultConfigPath)
		}
	})

	t.Run("environment", func(t *testing.T) {
		t.Setenv(configEnv, "/custom/path/config.yaml")
		cmd := newRootCmd()
		if got := configPath(cmd); got != "/custom/path/config.yaml" {
			t.Errorf("configPath() = %q, want env value", got)
		}
	})

	t.Run("flag wins over environment", func(t *testing.T) {
		t.Setenv(configEnv, "/custom/path/config.yaml")
		cmd := newRootCmd()
		if err := cmd.PersistentFlags().Set("config", "/flag/config.yaml"); err != nil {
			t.Fatalf("set flag: %v", err)
		}
		if got := configPath(cmd); got != "/flag/config.yaml" {
			t.Errorf("configPath() = %q, want flag value", got)
		}
	})
}

func TestRootCmd_Subcommands(t *testing.T) {
	root := newRootCmd()
	for _, name := range []string{"serve", "discover", "get", "set"} {
		if cmd, _, err := root.Find([]string{name}); err != nil || cmd.Name() != name {
			t.Errorf("subcommand %q not found (err=%v)", name, err)
		}
	}
}

// ledDevice is a minimal device: GET returns the stored value, PUT stores
// and echoes the body.
type ledDevice struct {
	mu     sync.Mutex
	values map[string]string
}

func newLEDDevice(t *testing.T) string {
	t.Helper()
	d := &ledDevice{values: map[string]string{
		"name":           "Desk",
		"brightness":     "10",
		"frame-duration": "20",
		"hue-per-pixel":  "255",
		"hue-per-frame":  "1",
	}}
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := strings.TrimPrefix(r.URL.Path, "/")
		d.mu.Lock()
		defer d.mu.Unlock()
		if r.Method == http.MethodPut {
			body, _ := io.ReadAll(r.Body) //nolint:errcheck // test device
			d.values[key] = string(body)
		}
		v, ok := d.values[key]
		if !ok {
			http.NotFound(w, r)
			return
		}
		fmt.Fprint(w, v)
	}))
	t.Cleanup(ts.Close)
	return strings.TrimPrefix(ts.URL, "http://")
}

// execute runs the command tree with args and returns stdout and stderr.
func execute(t *testing.T, args ...string) (stdout, stderr string, err error) {
	t.Helper()
	t.Setenv(configEnv, filepath.Join(t.TempDir(), "absent.yaml"))
	t.Setenv("ESPLEDS_DATABASE_PATH", filepath.Join(t.TempDir(), "cli.db"))

	var out, errOut bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetArgs(args)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err = root.ExecuteContext(ctx)
	return out.String(), errOut.String(), err
}

func TestGetCmd(t *testing.T) {
	addr := newLEDDevice(t)

	t.Run("single parameter", func(t *testing.T) {
		out, _, err := execute(t, "get", addr, "hue-per-pixel")
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if strings.TrimSpace(out) != "-1" {
			t.Errorf("output = %q, want -1", out)
		}
	})

	t.Run("all parameters", func(t *testing.T) {
		out, _, err := execute(t, "get", addr)
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		for _, want := range []string{"name", "Desk", "brightness", "10", "frame-duration"} {
			if !strings.Contains(out, want) {
				t.Errorf("output missing %q:\n%s", want, out)
			}
		}
	})

	t.Run("unknown parameter", func(t *testing.T) {
		if _, _, err := execute(t, "get", addr, "colour"); err == nil {
			t.Error("get with unknown parameter should fail")
		}
	})
}

func TestGetCmd_UnreachableDevice(t *testing.T) {
	ts := httptest.NewServer(http.NotFoundHandler())
	addr := strings.TrimPrefix(ts.URL, "http://")
	ts.Close()

	_, stderr, err := execute(t, "get", addr)
	if err == nil {
		t.Fatal("get against a dead device should fail")
	}
	if !strings.Contains(stderr, "warning") {
		t.Errorf("stderr = %q, want per-parameter warnings", stderr)
	}
}

func TestSetCmd(t *testing.T) {
	addr := newLEDDevice(t)

	t.Setenv(configEnv, filepath.Join(t.TempDir(), "absent.yaml"))
	dbPath := filepath.Join(t.TempDir(), "cli.db")

	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetErr(io.Discard)
	root.SetArgs([]string{"set", addr, "brightness", "200"})
	t.Setenv("ESPLEDS_DATABASE_PATH", dbPath)

	if err := root.ExecuteContext(context.Background()); err != nil {
		t.Fatalf("set: %v", err)
	}
	if strings.TrimSpace(out.String()) != "200" {
		t.Errorf("output = %q, want 200", out.String())
	}

	ctx := context.Background()
	db, err := database.Open(ctx, database.Config{Path: dbPath})
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	defer db.Close()

	entries, err := history.NewSQLiteRepository(db.DB).List(ctx, addr, 10)
	if err != nil {
		t.Fatalf("list history: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("history entries = %d, want 1", len(entries))
	}
	if e := entries[0]; e.Source != history.SourceCLI || e.Accepted != "200" || e.Outcome != history.OutcomeAccepted {
		t.Errorf("entry = %+v", e)
	}
}

func TestSetCmd_Rejects(t *testing.T) {
	addr := newLEDDevice(t)

	tests := []struct {
		name string
		args []string
	}{
		{"out of range", []string{"set", "--no-history", addr, "brightness", "300"}},
		{"not a number", []string{"set", "--no-history", addr, "brightness", "bright"}},
		{"unknown parameter", []string{"set", "--no-history", addr, "colour", "red"}},
		{"missing value", []string{"set", addr, "brightness"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, _, err := execute(t, tt.args...); err == nil {
				t.Error("set should fail")
			}
		})
	}
}

func TestSetCmd_InvalidValueNotRecorded(t *testing.T) {
	addr := newLEDDevice(t)

	t.Setenv(configEnv, filepath.Join(t.TempDir(), "absent.yaml"))
	dbPath := filepath.Join(t.TempDir(), "cli.db")
	t.Setenv("ESPLEDS_DATABASE_PATH", dbPath)

	root := newRootCmd()
	root.SetOut(io.Discard)
	root.SetErr(io.Discard)
	root.SetArgs([]string{"set", addr, "brightness", "300"})

	err := root.ExecuteContext(context.Background())
	if !errors.Is(err, control.ErrInvalidValue) {
		t.Fatalf("set error = %v, want ErrInvalidValue", err)
	}

	ctx := context.Background()
	db, err := database.Open(ctx, database.Config{Path: dbPath})
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	defer db.Close()
	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	entries, err := history.NewSQLiteRepository(db.DB).List(ctx, addr, 10)
	if err != nil {
		t.Fatalf("list history: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("history entries = %d for a rejected value, want 0: %+v", len(entries), entries)
	}
}

func TestPrintDevices(t *testing.T) {
	var buf bytes.Buffer
	if err := printDevices(&buf, nil); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "no devices found") {
		t.Errorf("empty output = %q", buf.String())
	}

	buf.Reset()
	seen := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	if err := printDevices(&buf, []discovery.Device{{Address: "192.0.2.7", Name: "Shelf", LastSeen: seen}}); err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"ADDRESS", "192.0.2.7", "Shelf", "2026-01-02T03:04:05Z"} {
		if !strings.Contains(buf.String(), want) {
			t.Errorf("output missing %q:\n%s", want, buf.String())
		}
	}
}

// TestDiscover sends a beacon to a real listener and checks both the live
// event line and the final table.
func TestDiscover(t *testing.T) {
	port := freeUDPPort(t)
	cfg := discovery.DefaultConfig()
	cfg.ListenAddress = "127.0.0.1"
	cfg.Port = port

	packet, err := discovery.Beacon{Address: "192.0.2.44", Name: "Porch"}.MarshalBinary()
	if err != nil {
		t.Fatalf("marshal beacon: %v", err)
	}

	go func() {
		time.Sleep(100 * time.Millisecond)
		conn, err := net.DialUDP("udp4", nil, &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: port})
		if err != nil {
			return
		}
		defer conn.Close()
		conn.Write(packet) //nolint:errcheck // test sender
	}()

	var buf syncBuffer
	if err := discover(context.Background(), &buf, cfg, 500*time.Millisecond, logging.Discard()); err != nil {
		t.Fatalf("discover: %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, "+ 192.0.2.44") || !strings.Contains(out, "Porch") {
		t.Errorf("output = %q, want discovered Porch at 192.0.2.44", out)
	}
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

type fakePresence struct {
	presence []string
	counts   []int
}

func (f *fakePresence) WritePresence(address, _ string, online bool, _ time.Time) {
	f.presence = append(f.presence, fmt.Sprintf("%s=%t", address, online))
}

func (f *fakePresence) WriteDeviceCount(count int, _ time.Time) {
	f.counts = append(f.counts, count)
}

func TestPresenceTelemetry(t *testing.T) {
	w := &fakePresence{}
	p := presenceTelemetry{writer: w, now: func() time.Time { return time.Unix(0, 0) }}

	d := discovery.Device{Address: "192.0.2.1", Name: "Lamp"}
	p.DeviceDiscovered(d)
	p.DeviceLost(d)
	p.DevicesUpdated([]discovery.Device{d, {Address: "192.0.2.2"}})

	if got := strings.Join(w.presence, ","); got != "192.0.2.1=true,192.0.2.1=false" {
		t.Errorf("presence = %q", got)
	}
	if len(w.counts) != 1 || w.counts[0] != 2 {
		t.Errorf("counts = %v, want [2]", w.counts)
	}
}
