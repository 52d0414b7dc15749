package poller

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/espleds-core/internal/discovery"
)

// fakeSource returns whatever devices it was last given.
type fakeSource struct {
	mu      sync.Mutex
	devices []discovery.Device
	calls   int
}

func (f *fakeSource) Snapshot() []discovery.Device {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return append([]discovery.Device{}, f.devices...)
}

func (f *fakeSource) set(devices ...discovery.Device) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.devices = devices
}

// collector records every publication.
type collector struct {
	mu   sync.Mutex
	seen [][]discovery.Device
}

func (c *collector) DevicesUpdated(devices []discovery.Device) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seen = append(c.seen, devices)
}

func (c *collector) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.seen)
}

var (
	lamp  = discovery.Device{Address: "192.168.1.6", Name: "Lamp"}
	shelf = discovery.Device{Address: "192.168.1.7", Name: "Shelf"}
)

func TestPoller_PublishesOnlyChanges(t *testing.T) {
	src := &fakeSource{}
	p := New(src, Config{})
	c := &collector{}
	p.Subscribe(c)

	// First poll always publishes, even an empty list.
	p.Poll()
	if c.count() != 1 {
		t.Fatalf("publications = %d, want 1", c.count())
	}
	if c.seen[0] == nil || len(c.seen[0]) != 0 {
		t.Errorf("first publication = %#v, want empty non-nil", c.seen[0])
	}

	p.Poll()
	if c.count() != 1 {
		t.Errorf("unchanged poll published; publications = %d", c.count())
	}

	src.set(lamp)
	p.Poll()
	if c.count() != 2 {
		t.Fatalf("publications = %d, want 2 after new device", c.count())
	}

	// A fresh beacon only moves LastSeen; that is not a change.
	refreshed := lamp
	refreshed.LastSeen = time.Now()
	src.set(refreshed)
	p.Poll()
	if c.count() != 2 {
		t.Errorf("LastSeen-only change published; publications = %d", c.count())
	}

	renamed := lamp
	renamed.Name = "Floor lamp"
	src.set(renamed, shelf)
	p.Poll()
	if c.count() != 3 {
		t.Fatalf("publications = %d, want 3 after rename", c.count())
	}
	if got := c.seen[2]; len(got) != 2 || got[0].Name != "Floor lamp" {
		t.Errorf("latest publication = %+v", got)
	}
}

func TestPoller_PublishUnchanged(t *testing.T) {
	src := &fakeSource{}
	src.set(lamp)
	p := New(src, Config{PublishUnchanged: true})
	c := &collector{}
	p.Subscribe(c)

	for i := 0; i < 3; i++ {
		p.Poll()
	}
	if c.count() != 3 {
		t.Errorf("publications = %d, want 3", c.count())
	}
}

func TestPoller_DevicesReturnsCopy(t *testing.T) {
	src := &fakeSource{}
	p := New(src, Config{})

	if got := p.Devices(); got == nil || len(got) != 0 {
		t.Errorf("Devices() before poll = %#v, want empty non-nil", got)
	}

	src.set(lamp)
	p.Poll()

	got := p.Devices()
	got[0].Name = "mutated"
	if p.Devices()[0].Name != "Lamp" {
		t.Error("mutating Devices() result changed poller state")
	}
}

func TestPoller_SubscriberPanicDoesNotStopOthers(t *testing.T) {
	src := &fakeSource{}
	p := New(src, Config{})
	p.Subscribe(SubscriberFunc(func([]discovery.Device) { panic("boom") }))
	c := &collector{}
	p.Subscribe(c)

	p.Poll()
	if c.count() != 1 {
		t.Errorf("second subscriber publications = %d, want 1", c.count())
	}
}

func TestPoller_StartStop(t *testing.T) {
	src := &fakeSource{}
	src.set(lamp)
	p := New(src, Config{Interval: 5 * time.Millisecond, PublishUnchanged: true})
	c := &collector{}
	p.Subscribe(c)

	p.Start(context.Background())
	deadline := time.Now().Add(2 * time.Second)
	for c.count() < 3 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	p.Stop()
	p.Stop()

	if c.count() < 3 {
		t.Fatalf("publications = %d, want at least 3 ticks", c.count())
	}
	after := c.count()
	time.Sleep(20 * time.Millisecond)
	if c.count() != after {
		t.Error("poller kept publishing after Stop")
	}
}

func TestPoller_WithRegistry(t *testing.T) {
	reg := discovery.NewRegistry(discovery.DefaultConfig())
	p := New(reg, Config{})

	now := time.Now()
	if err := reg.HandleDatagram([]byte("ESPLEDS\x10192.168.1.6|Lamp"), now); err != nil {
		t.Fatalf("HandleDatagram() error = %v", err)
	}
	got := p.Poll()
	if len(got) != 1 || got[0].Address != "192.168.1.6" {
		t.Errorf("Poll() = %+v, want the Lamp device", got)
	}
}
