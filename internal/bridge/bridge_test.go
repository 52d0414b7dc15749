package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/espleds-core/internal/control"
	"github.com/nerrad567/espleds-core/internal/discovery"
	"github.com/nerrad567/espleds-core/internal/history"
	"github.com/nerrad567/espleds-core/internal/infrastructure/mqtt"
)

type publishedMessage struct {
	topic    string
	payload  []byte
	qos      byte
	retained bool
}

// mockMQTT implements MQTTClient for testing.
type mockMQTT struct {
	mu        sync.Mutex
	connected bool
	messages  []publishedMessage
	handlers  map[string]mqtt.MessageHandler
	subErr    error
}

func newMockMQTT() *mockMQTT {
	return &mockMQTT{connected: true, handlers: map[string]mqtt.MessageHandler{}}
}

func (m *mockMQTT) Publish(topic string, payload []byte, qos byte, retained bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.connected {
		return mqtt.ErrNotConnected
	}
	m.messages = append(m.messages, publishedMessage{topic, payload, qos, retained})
	return nil
}

func (m *mockMQTT) Subscribe(topic string, _ byte, handler mqtt.MessageHandler) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.subErr != nil {
		return m.subErr
	}
	m.handlers[topic] = handler
	return nil
}

func (m *mockMQTT) Unsubscribe(topic string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.handlers, topic)
	return nil
}

func (m *mockMQTT) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

func (m *mockMQTT) setConnected(c bool) {
	m.mu.Lock()
	m.connected = c
	m.mu.Unlock()
}

// deliver simulates an inbound message on a command topic.
func (m *mockMQTT) deliver(t *testing.T, topic string, payload string) error {
	t.Helper()
	m.mu.Lock()
	handler := m.handlers[mqtt.Topics{}.AllCommands()]
	m.mu.Unlock()
	if handler == nil {
		t.Fatal("no command subscription")
	}
	return handler(topic, []byte(payload))
}

func (m *mockMQTT) onTopic(topic string) []publishedMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []publishedMessage
	for _, msg := range m.messages {
		if msg.topic == topic {
			out = append(out, msg)
		}
	}
	return out
}

type sentCommand struct {
	address, source string
	parameter       control.Parameter
	value           control.Value
}

type fakeSender struct {
	mu   sync.Mutex
	sent []sentCommand
	err  error
}

func (f *fakeSender) Send(address, source string, p control.Parameter, v control.Value) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, sentCommand{address, source, p, v})
	return nil
}

type staticDevices map[string]discovery.Device

func (s staticDevices) Get(address string) (discovery.Device, bool) {
	d, ok := s[address]
	return d, ok
}

func newTestBridge(t *testing.T, opts Options) (*Bridge, *mockMQTT, *fakeSender) {
	t.Helper()
	client := newMockMQTT()
	sender := &fakeSender{}
	opts.MQTTClient = client
	opts.Sender = sender
	b, err := New(opts)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := b.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(b.Stop)
	return b, client, sender
}

func TestNew_RequiresDependencies(t *testing.T) {
	if _, err := New(Options{Sender: &fakeSender{}}); err == nil {
		t.Error("New() without MQTT client should fail")
	}
	if _, err := New(Options{MQTTClient: newMockMQTT()}); err == nil {
		t.Error("New() without sender should fail")
	}
}

func TestStart_SubscribeFailure(t *testing.T) {
	client := newMockMQTT()
	client.subErr = mqtt.ErrNotConnected
	b, err := New(Options{MQTTClient: client, Sender: &fakeSender{}})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer b.Stop()

	if err := b.Start(context.Background()); !errors.Is(err, mqtt.ErrNotConnected) {
		t.Errorf("Start() error = %v, want ErrNotConnected", err)
	}
}

func TestBridge_StartPublishesHealth(t *testing.T) {
	_, client, _ := newTestBridge(t, Options{Version: "1.2.3"})

	msgs := client.onTopic(mqtt.Topics{}.Health())
	if len(msgs) != 2 {
		t.Fatalf("health messages = %d, want starting and healthy", len(msgs))
	}
	var first, second HealthMessage
	_ = json.Unmarshal(msgs[0].payload, &first)
	_ = json.Unmarshal(msgs[1].payload, &second)
	if first.Status != HealthStarting || second.Status != HealthHealthy {
		t.Errorf("statuses = %s, %s; want starting, healthy", first.Status, second.Status)
	}
	if second.Version != "1.2.3" || second.Bridge != BridgeID {
		t.Errorf("health = %+v", second)
	}
	if !msgs[1].retained {
		t.Error("health must be retained")
	}
}

func TestBridge_StopPublishesStopping(t *testing.T) {
	b, client, _ := newTestBridge(t, Options{})
	b.Stop()
	b.Stop()

	msgs := client.onTopic(mqtt.Topics{}.Health())
	var last HealthMessage
	_ = json.Unmarshal(msgs[len(msgs)-1].payload, &last)
	if last.Status != HealthStopping {
		t.Errorf("last status = %s, want stopping", last.Status)
	}
	if len(msgs) != 3 {
		t.Errorf("health messages = %d, want 3", len(msgs))
	}
}

func TestBridge_DevicesUpdated(t *testing.T) {
	b, client, _ := newTestBridge(t, Options{})
	seen := time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC)

	b.DevicesUpdated([]discovery.Device{
		{Address: "192.168.1.6", Name: "Lamp", LastSeen: seen},
		{Address: "192.168.1.7", Name: "Desk", LastSeen: seen},
	})
	b.DevicesUpdated([]discovery.Device{})

	msgs := client.onTopic(mqtt.Topics{}.Devices())
	if len(msgs) != 2 {
		t.Fatalf("device list messages = %d, want 2", len(msgs))
	}
	var list []DeviceMessage
	if err := json.Unmarshal(msgs[0].payload, &list); err != nil {
		t.Fatalf("payload: %v", err)
	}
	if len(list) != 2 || list[0].Address != "192.168.1.6" || list[1].Name != "Desk" || !list[0].LastSeen.Equal(seen) {
		t.Errorf("list = %+v", list)
	}
	if string(msgs[1].payload) != "[]" {
		t.Errorf("empty list payload = %s, want []", msgs[1].payload)
	}
	if !msgs[0].retained || msgs[0].qos != 1 {
		t.Errorf("device list qos=%d retained=%v", msgs[0].qos, msgs[0].retained)
	}
}

func TestBridge_Presence(t *testing.T) {
	b, client, _ := newTestBridge(t, Options{})
	d := discovery.Device{Address: "192.168.1.6", Name: "Lamp"}

	b.DeviceDiscovered(d)
	b.DeviceLost(d)

	msgs := client.onTopic(mqtt.Topics{}.Presence(d.Address))
	if len(msgs) != 2 {
		t.Fatalf("presence messages = %d, want 2", len(msgs))
	}
	var online, offline PresenceMessage
	_ = json.Unmarshal(msgs[0].payload, &online)
	_ = json.Unmarshal(msgs[1].payload, &offline)
	if !online.Online || offline.Online || online.Name != "Lamp" {
		t.Errorf("presence = %+v then %+v", online, offline)
	}
}

func TestBridge_SettingsChanged(t *testing.T) {
	b, client, _ := newTestBridge(t, Options{})
	s := control.Settings{Name: "Lamp", Brightness: 200, FrameDuration: 20, HuePerPixel: 3, HuePerFrame: -1}

	b.SettingsChanged("192.168.1.6", s)

	msgs := client.onTopic(mqtt.Topics{}.State("192.168.1.6"))
	if len(msgs) != 1 {
		t.Fatalf("state messages = %d, want 1", len(msgs))
	}
	var got StateMessage
	if err := json.Unmarshal(msgs[0].payload, &got); err != nil {
		t.Fatalf("payload: %v", err)
	}
	if got.Settings != s || got.Address != "192.168.1.6" {
		t.Errorf("state = %+v", got)
	}
	if b.Stats().MessagesSent == 0 {
		t.Error("MessagesSent not counted")
	}
}

func TestBridge_PublishFailureIsNotCounted(t *testing.T) {
	b, client, _ := newTestBridge(t, Options{})
	before := b.Stats().MessagesSent
	client.setConnected(false)

	b.SettingsChanged("192.168.1.6", control.DefaultSettings())
	if b.Stats().MessagesSent != before {
		t.Error("failed publish was counted as sent")
	}
}

func TestBridge_Commands(t *testing.T) {
	topics := mqtt.Topics{}

	tests := []struct {
		name      string
		topic     string
		payload   string
		wantErr   error
		wantParam control.Parameter
		wantValue control.Value
	}{
		{
			name:      "raw number",
			topic:     topics.Command("192.168.1.6", "brightness"),
			payload:   "128",
			wantParam: control.Brightness,
			wantValue: control.IntValue(128),
		},
		{
			name:      "raw number out of range is passed for clamping",
			topic:     topics.Command("192.168.1.6", "brightness"),
			payload:   " 300\n",
			wantParam: control.Brightness,
			wantValue: control.IntValue(300),
		},
		{
			name:      "raw name",
			topic:     topics.Command("192.168.1.6", "name"),
			payload:   "Desk Lamp",
			wantParam: control.Name,
			wantValue: control.TextValue("Desk Lamp"),
		},
		{
			name:      "json value",
			topic:     topics.Command("192.168.1.6", "hue_per_frame"),
			payload:   `{"id":"cmd-1","value":-4}`,
			wantParam: control.HuePerFrame,
			wantValue: control.IntValue(-4),
		},
		{
			name:      "json name",
			topic:     topics.Command("192.168.1.6", "name"),
			payload:   `{"value":"Shelf"}`,
			wantParam: control.Name,
			wantValue: control.TextValue("Shelf"),
		},
		{
			name:    "unknown parameter",
			topic:   topics.Command("192.168.1.6", "colour"),
			payload: "1",
			wantErr: control.ErrUnknownParameter,
		},
		{
			name:    "not a number",
			topic:   topics.Command("192.168.1.6", "brightness"),
			payload: "bright",
			wantErr: ErrInvalidPayload,
		},
		{
			name:    "empty payload",
			topic:   topics.Command("192.168.1.6", "brightness"),
			payload: "  ",
			wantErr: ErrInvalidPayload,
		},
		{
			name:    "json without value",
			topic:   topics.Command("192.168.1.6", "brightness"),
			payload: `{"id":"x"}`,
			wantErr: ErrInvalidPayload,
		},
		{
			name:    "json text for numeric parameter",
			topic:   topics.Command("192.168.1.6", "brightness"),
			payload: `{"value":"high"}`,
			wantErr: ErrInvalidPayload,
		},
		{
			name:    "json fraction",
			topic:   topics.Command("192.168.1.6", "brightness"),
			payload: `{"value":1.5}`,
			wantErr: ErrInvalidPayload,
		},
		{
			name:    "malformed topic",
			topic:   "espleds/command/192.168.1.6",
			payload: "1",
			wantErr: ErrInvalidTopic,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, client, sender := newTestBridge(t, Options{})

			err := client.deliver(t, tt.topic, tt.payload)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("handler error = %v, want %v", err, tt.wantErr)
				}
				if len(sender.sent) != 0 {
					t.Errorf("sender received %v for a rejected command", sender.sent)
				}
				if b.Stats().CommandsFailed != 1 {
					t.Errorf("CommandsFailed = %d, want 1", b.Stats().CommandsFailed)
				}
				return
			}
			if err != nil {
				t.Fatalf("handler error = %v", err)
			}
			if len(sender.sent) != 1 {
				t.Fatalf("sent %d commands, want 1", len(sender.sent))
			}
			got := sender.sent[0]
			if got.address != "192.168.1.6" || got.parameter != tt.wantParam || got.value != tt.wantValue {
				t.Errorf("sent %+v, want %s=%v", got, tt.wantParam, tt.wantValue)
			}
			if got.source != history.SourceMQTT {
				t.Errorf("source = %q, want %q", got.source, history.SourceMQTT)
			}
			if b.Stats().CommandsReceived != 1 {
				t.Errorf("CommandsReceived = %d, want 1", b.Stats().CommandsReceived)
			}
		})
	}
}

func TestBridge_CommandForUnknownDevice(t *testing.T) {
	_, client, sender := newTestBridge(t, Options{
		Devices: staticDevices{"192.168.1.6": {Address: "192.168.1.6"}},
	})

	err := client.deliver(t, mqtt.Topics{}.Command("10.9.9.9", "brightness"), "1")
	if !errors.Is(err, ErrUnknownDevice) {
		t.Errorf("handler error = %v, want ErrUnknownDevice", err)
	}
	if err := client.deliver(t, mqtt.Topics{}.Command("192.168.1.6", "brightness"), "1"); err != nil {
		t.Errorf("known device error = %v", err)
	}
	if len(sender.sent) != 1 {
		t.Errorf("sent %d commands, want 1", len(sender.sent))
	}
}

func TestBridge_SenderError(t *testing.T) {
	_, client, sender := newTestBridge(t, Options{})
	sender.err = errors.New("controller: closed")

	err := client.deliver(t, mqtt.Topics{}.Command("192.168.1.6", "brightness"), `{"id":"abc","value":1}`)
	if err == nil || !errors.Is(err, sender.err) {
		t.Errorf("handler error = %v, want wrapped sender error", err)
	}
}

func TestSenderFunc(t *testing.T) {
	var got string
	s := SenderFunc(func(address, source string, p control.Parameter, v control.Value) error {
		got = address + " " + source + " " + string(p) + "=" + v.String()
		return nil
	})
	if err := s.Send("192.0.2.5", history.SourceMQTT, control.Brightness, control.IntValue(9)); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if got != "192.0.2.5 mqtt brightness=9" {
		t.Errorf("got %q", got)
	}
}
