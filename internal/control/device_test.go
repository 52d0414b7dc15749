package control

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
)

// fakeDevice emulates an ESPLEDS controller: it stores values, clamps
// numeric writes into range and echoes what it stored.
type fakeDevice struct {
	mu     sync.Mutex
	values map[string]string

	// failFirst makes the first N requests to any path return 503.
	failFirst atomic.Int32
	// broken makes the listed paths always return 500.
	broken map[string]bool
	// rejected makes the listed paths return 400.
	rejected map[string]bool
	// garbage makes the listed paths return a non-numeric body.
	garbage map[string]bool

	requests atomic.Int32
	lastType atomic.Value
}

func newFakeDevice(t *testing.T) (*fakeDevice, *httptest.Server) {
	t.Helper()
	d := &fakeDevice{
		values: map[string]string{
			"brightness":     "128",
			"frame-duration": "20",
			"hue-per-pixel":  "4",
			"hue-per-frame":  "255",
			"name":           "Lamp",
		},
		broken:   map[string]bool{},
		rejected: map[string]bool{},
		garbage:  map[string]bool{},
	}
	srv := httptest.NewServer(d)
	t.Cleanup(srv.Close)
	return d, srv
}

func address(srv *httptest.Server) string {
	return strings.TrimPrefix(srv.URL, "http://")
}

func (d *fakeDevice) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	d.requests.Add(1)
	key := strings.TrimPrefix(r.URL.Path, "/")

	if d.failFirst.Load() > 0 {
		d.failFirst.Add(-1)
		http.Error(w, "busy", http.StatusServiceUnavailable)
		return
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.broken[key] {
		http.Error(w, "boom", http.StatusInternalServerError)
		return
	}
	if d.rejected[key] {
		http.Error(w, "rejected", http.StatusBadRequest)
		return
	}
	if _, ok := d.values[key]; !ok {
		http.NotFound(w, r)
		return
	}
	if d.garbage[key] {
		_, _ = io.WriteString(w, "not-a-number\n")
		return
	}

	switch r.Method {
	case http.MethodGet:
	case http.MethodPut:
		d.lastType.Store(r.Header.Get("Content-Type"))
		body, _ := io.ReadAll(r.Body)
		d.values[key] = clampLikeFirmware(key, strings.TrimSpace(string(body)))
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	_, _ = io.WriteString(w, d.values[key]+"\r\n")
}

func (d *fakeDevice) value(key string) string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.values[key]
}

func clampLikeFirmware(key, raw string) string {
	if key == "name" {
		return raw
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return "0"
	}
	switch key {
	case "frame-duration":
		// The firmware refuses frames shorter than 10ms.
		n = max(n, 10)
	case "hue-per-pixel", "hue-per-frame":
		n = int(uint8(int8(n)))
	}
	return strconv.Itoa(n)
}

// newBlockingServer returns a server whose handlers wait until block is closed.
func newBlockingServer(t *testing.T, block <-chan struct{}) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-block:
		case <-r.Context().Done():
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}
