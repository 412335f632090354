package relaymqtt

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/nerrad567/relay-core/internal/bridges/xbee"
	"github.com/nerrad567/relay-core/internal/dispatch"
	"github.com/nerrad567/relay-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/relay-core/internal/metrics"
	"github.com/nerrad567/relay-core/internal/relay"
)

// MockMQTTClient implements MQTTClient for testing.
type MockMQTTClient struct {
	mu            sync.Mutex
	published     []mockPublish
	subscriptions []mockSubscription
	connected     bool
	handlers      map[string]mqtt.MessageHandler
}

type mockPublish struct {
	Topic    string
	Payload  []byte
	QoS      byte
	Retained bool
}

type mockSubscription struct {
	Topic string
	QoS   byte
}

func NewMockMQTTClient() *MockMQTTClient {
	return &MockMQTTClient{
		connected: true,
		handlers:  make(map[string]mqtt.MessageHandler),
	}
}

func (m *MockMQTTClient) Publish(topic string, payload []byte, qos byte, retained bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.published = append(m.published, mockPublish{
		Topic:    topic,
		Payload:  payload,
		QoS:      qos,
		Retained: retained,
	})
	return nil
}

func (m *MockMQTTClient) Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subscriptions = append(m.subscriptions, mockSubscription{Topic: topic, QoS: qos})
	m.handlers[topic] = handler
	return nil
}

func (m *MockMQTTClient) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

func (m *MockMQTTClient) setConnected(v bool) {
	m.mu.Lock()
	m.connected = v
	m.mu.Unlock()
}

// publishedTo returns every message published on topic, oldest first.
func (m *MockMQTTClient) publishedTo(topic string) []mockPublish {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []mockPublish
	for _, p := range m.published {
		if p.Topic == topic {
			out = append(out, p)
		}
	}
	return out
}

func (m *MockMQTTClient) GetSubscriptions() []mockSubscription {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.subscriptions
}

// SimulateMessage delivers payload to the handler subscribed to pattern.
func (m *MockMQTTClient) SimulateMessage(pattern, topic string, payload []byte) error {
	m.mu.Lock()
	handler, ok := m.handlers[pattern]
	m.mu.Unlock()
	if !ok {
		return errors.New("no handler for " + pattern)
	}
	return handler(topic, payload)
}

// fakeRadio implements dispatch.Transport and TransportHealth.
type fakeRadio struct {
	mu        sync.Mutex
	payloads  []string
	delivery  xbee.DeliveryStatus
	err       error
	connected bool
	onSample  func(xbee.IOSample)
}

func (f *fakeRadio) SendData(_ context.Context, _ xbee.Address64, payload []byte) (xbee.TxStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.payloads = append(f.payloads, string(payload))
	if f.err != nil {
		return xbee.TxStatus{}, f.err
	}
	return xbee.TxStatus{FrameID: 1, Delivery: f.delivery}, nil
}

func (f *fakeRadio) MaxPayload() int { return xbee.DefaultMaxPayload }

func (f *fakeRadio) SetOnSample(cb func(xbee.IOSample)) { f.onSample = cb }

func (f *fakeRadio) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeRadio) Stats() xbee.Stats {
	f.mu.Lock()
	defer f.mu.Unlock()
	return xbee.Stats{FramesTx: uint64(len(f.payloads)), Connected: f.connected}
}

func (f *fakeRadio) sent() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.payloads...)
}

var board = xbee.Address64{0x00, 0x13, 0xA2, 0x00, 0x40, 0x3D, 0xB1, 0x5B}

type testBridge struct {
	*Bridge
	mqtt  *MockMQTTClient
	radio *fakeRadio
	reg   *relay.Registry
	disp  *dispatch.Dispatcher
}

func newTestBridge(t *testing.T) *testBridge {
	t.Helper()

	reg := relay.NewRegistry()
	for _, r := range []struct {
		number, pin int
		ch          relay.MonitorChannel
		label       string
	}{
		{1, 7, relay.D2, "Pump"},
		{2, 3, relay.D3, "Valve"},
	} {
		rel, err := relay.New(r.number, r.pin, r.ch, r.label)
		if err != nil {
			t.Fatalf("relay.New(%d) error = %v", r.number, err)
		}
		if err := reg.Add(rel); err != nil {
			t.Fatalf("Add(%d) error = %v", r.number, err)
		}
	}

	radio := &fakeRadio{connected: true}
	disp := dispatch.New(reg, radio, dispatch.Config{Remote: board, BatchCommands: true})
	client := NewMockMQTTClient()

	b, err := NewBridge(Options{
		Manager:        disp,
		MQTTClient:     client,
		Transport:      radio,
		Remote:         board,
		Version:        "test",
		HealthInterval: time.Hour,
	})
	if err != nil {
		t.Fatalf("NewBridge() error = %v", err)
	}
	if err := b.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(b.Stop)

	return &testBridge{Bridge: b, mqtt: client, radio: radio, reg: reg, disp: disp}
}

func (tb *testBridge) command(t *testing.T, target, payload string) error {
	t.Helper()
	return tb.mqtt.SimulateMessage("relay/command/+", "relay/command/"+target, []byte(payload))
}

// waitAck waits for the first ack on topic and decodes it.
func (tb *testBridge) waitAck(t *testing.T, topic string) AckMessage {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		if msgs := tb.mqtt.publishedTo(topic); len(msgs) > 0 {
			var ack AckMessage
			if err := json.Unmarshal(msgs[0].Payload, &ack); err != nil {
				t.Fatalf("unmarshal ack: %v", err)
			}
			if msgs[0].Retained {
				t.Error("ack should not be retained")
			}
			return ack
		}
		if time.Now().After(deadline) {
			t.Fatalf("no ack on %s", topic)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func lastState(t *testing.T, client *MockMQTTClient, number string) map[string]any {
	t.Helper()
	msgs := client.publishedTo("relay/state/" + number)
	if len(msgs) == 0 {
		t.Fatalf("no state published for relay %s", number)
	}
	last := msgs[len(msgs)-1]
	if !last.Retained {
		t.Error("state should be retained")
	}
	if len(last.Payload) == 0 {
		return nil
	}
	var state map[string]any
	if err := json.Unmarshal(last.Payload, &state); err != nil {
		t.Fatalf("unmarshal state: %v", err)
	}
	return state
}

func TestNewBridge_Validation(t *testing.T) {
	if _, err := NewBridge(Options{MQTTClient: NewMockMQTTClient()}); err == nil {
		t.Error("NewBridge() without manager should fail")
	}

	disp := dispatch.New(relay.NewRegistry(), &fakeRadio{}, dispatch.Config{})
	if _, err := NewBridge(Options{Manager: disp}); err == nil {
		t.Error("NewBridge() without MQTT client should fail")
	}
}

func TestBridge_Start(t *testing.T) {
	tb := newTestBridge(t)

	subs := tb.mqtt.GetSubscriptions()
	if len(subs) != 1 || subs[0].Topic != "relay/command/+" || subs[0].QoS != 1 {
		t.Errorf("subscriptions = %+v", subs)
	}

	state := lastState(t, tb.mqtt, "1")
	if state["label"] != "Pump" || state["channel"] != "D2" || state["status"] != "Unitialized" {
		t.Errorf("state 1 = %v", state)
	}
	if state["pin"] != float64(7) {
		t.Errorf("state 1 pin = %v, want 7", state["pin"])
	}
	lastState(t, tb.mqtt, "2")

	health := tb.mqtt.publishedTo("relay/health")
	if len(health) == 0 {
		t.Fatal("no health published")
	}
	var first HealthMessage
	if err := json.Unmarshal(health[0].Payload, &first); err != nil {
		t.Fatal(err)
	}
	if first.Status != HealthStarting || !health[0].Retained {
		t.Errorf("first health = %+v retained=%v", first, health[0].Retained)
	}
}

func TestBridge_CommandSingle(t *testing.T) {
	tb := newTestBridge(t)

	if err := tb.command(t, "1", `{"id":"cmd-1","command":"on","source":"test"}`); err != nil {
		t.Fatalf("command error = %v", err)
	}

	ack := tb.waitAck(t, "relay/ack/1")
	if ack.CommandID != "cmd-1" || ack.Status != AckDelivered || ack.Delivery != "delivered" {
		t.Errorf("ack = %+v", ack)
	}
	if ack.Error != nil {
		t.Errorf("ack.Error = %+v, want nil", ack.Error)
	}
	if got := tb.radio.sent(); len(got) != 1 || got[0] != "CMD RON07" {
		t.Errorf("sent = %q, want [CMD RON07]", got)
	}

	// A delivered command does not change the cached status.
	if s, _ := tb.reg.CachedStatus(1); s != relay.StatusUninitialized {
		t.Errorf("CachedStatus(1) = %v after ack", s)
	}
}

func TestBridge_CommandBatch(t *testing.T) {
	tb := newTestBridge(t)

	if err := tb.command(t, "batch", `{"id":"b-1","command":"OFF","numbers":[1,2]}`); err != nil {
		t.Fatalf("command error = %v", err)
	}

	ack := tb.waitAck(t, "relay/ack/batch")
	if ack.Status != AckDelivered || ack.Command != "off" || len(ack.Numbers) != 2 {
		t.Errorf("ack = %+v", ack)
	}
	if got := tb.radio.sent(); len(got) != 1 || got[0] != "CMD ROFF07 ROFF03" {
		t.Errorf("sent = %q, want one batch payload", got)
	}
}

func TestBridge_CommandGeneratesID(t *testing.T) {
	tb := newTestBridge(t)

	if err := tb.command(t, "2", `{"command":"on"}`); err != nil {
		t.Fatal(err)
	}
	if ack := tb.waitAck(t, "relay/ack/2"); ack.CommandID == "" {
		t.Error("ack has no command id")
	}
}

func TestBridge_CommandOutcomes(t *testing.T) {
	tests := []struct {
		name       string
		delivery   xbee.DeliveryStatus
		sendErr    error
		target     string
		payload    string
		wantStatus AckStatus
		wantCode   string
	}{
		{
			name:       "not delivered",
			delivery:   xbee.DeliveryNetworkAckFailure,
			target:     "1",
			payload:    `{"command":"on"}`,
			wantStatus: AckNotDelivered,
			wantCode:   ErrCodeNotDelivered,
		},
		{
			name:       "transport error",
			sendErr:    errors.New("broken pipe"),
			target:     "1",
			payload:    `{"command":"on"}`,
			wantStatus: AckFailed,
			wantCode:   ErrCodeTransport,
		},
		{
			name:       "unknown relay",
			target:     "9",
			payload:    `{"command":"on"}`,
			wantStatus: AckFailed,
			wantCode:   ErrCodeInvalidNumber,
		},
		{
			name:       "unknown relay in batch",
			target:     "batch",
			payload:    `{"command":"on","numbers":[1,9]}`,
			wantStatus: AckFailed,
			wantCode:   ErrCodeInvalidNumber,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tb := newTestBridge(t)
			tb.radio.delivery = tt.delivery
			tb.radio.err = tt.sendErr

			if err := tb.command(t, tt.target, tt.payload); err != nil {
				t.Fatalf("command error = %v", err)
			}

			ack := tb.waitAck(t, "relay/ack/"+tt.target)
			if ack.Status != tt.wantStatus {
				t.Errorf("Status = %q, want %q", ack.Status, tt.wantStatus)
			}
			if ack.Delivery != "not_delivered" {
				t.Errorf("Delivery = %q, want not_delivered", ack.Delivery)
			}
			if ack.Error == nil || ack.Error.Code != tt.wantCode {
				t.Errorf("Error = %+v, want code %s", ack.Error, tt.wantCode)
			}
		})
	}
}

func TestBridge_RejectedCommands(t *testing.T) {
	tests := []struct {
		name     string
		target   string
		payload  string
		wantCode string
	}{
		{"malformed json", "1", `{"command":`, ErrCodeInvalidPayload},
		{"unknown command", "1", `{"command":"toggle"}`, ErrCodeInvalidCommand},
		{"non-numeric target", "pump", `{"command":"on"}`, ErrCodeInvalidPayload},
		{"batch without numbers", "batch", `{"command":"on"}`, ErrCodeInvalidPayload},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tb := newTestBridge(t)
			before := testutil.ToFloat64(metrics.MQTTCommandsTotal.WithLabelValues(string(AckFailed)))

			if err := tb.command(t, tt.target, tt.payload); err == nil {
				t.Error("command error = nil, want rejection")
			}

			ack := tb.waitAck(t, "relay/ack/"+tt.target)
			if ack.Status != AckFailed || ack.Error == nil || ack.Error.Code != tt.wantCode {
				t.Errorf("ack = %+v, want failed %s", ack, tt.wantCode)
			}
			if got := tb.radio.sent(); len(got) != 0 {
				t.Errorf("sent = %q, want nothing", got)
			}

			after := testutil.ToFloat64(metrics.MQTTCommandsTotal.WithLabelValues(string(AckFailed)))
			if after != before+1 {
				t.Errorf("failed commands counter moved by %v, want 1", after-before)
			}
		})
	}
}

func TestBridge_IgnoresForeignTopics(t *testing.T) {
	tb := newTestBridge(t)
	err := tb.mqtt.SimulateMessage("relay/command/+", "other/command/1", []byte(`{"command":"on"}`))
	if err == nil {
		t.Error("foreign topic should be rejected")
	}
	if got := tb.radio.sent(); len(got) != 0 {
		t.Errorf("sent = %q", got)
	}
}

func TestBridge_PublishesStatusChanges(t *testing.T) {
	tb := newTestBridge(t)

	// D2 high, D3 low from the board.
	tb.radio.onSample(xbee.IOSample{Source64: board, DigitalMask: 0x000C, Digital: 0x0004})
	tb.reg.Flush()

	if s := lastState(t, tb.mqtt, "1"); s["status"] != "On" {
		t.Errorf("relay 1 status = %v, want On", s["status"])
	}
	if s := lastState(t, tb.mqtt, "2"); s["status"] != "Off" {
		t.Errorf("relay 2 status = %v, want Off", s["status"])
	}
}

func TestBridge_PublishesRegistryChanges(t *testing.T) {
	tb := newTestBridge(t)

	rel, err := relay.New(5, 12, relay.D12, "Lamp")
	if err != nil {
		t.Fatal(err)
	}
	if err := tb.reg.Add(rel); err != nil {
		t.Fatal(err)
	}
	tb.reg.Flush()
	if s := lastState(t, tb.mqtt, "5"); s["label"] != "Lamp" {
		t.Errorf("added state = %v", s)
	}

	if _, err := tb.reg.Update(5, func(r *relay.Relay) error { return r.SetLabel("Porch") }); err != nil {
		t.Fatal(err)
	}
	tb.reg.Flush()
	if s := lastState(t, tb.mqtt, "5"); s["label"] != "Porch" {
		t.Errorf("updated state = %v", s)
	}

	tb.reg.Remove(5)
	tb.reg.Flush()
	if s := lastState(t, tb.mqtt, "5"); s != nil {
		t.Errorf("removed relay state = %v, want cleared", s)
	}
}

func TestBridge_Stop(t *testing.T) {
	tb := newTestBridge(t)
	tb.Stop()
	tb.Stop()

	health := tb.mqtt.publishedTo("relay/health")
	var last HealthMessage
	if err := json.Unmarshal(health[len(health)-1].Payload, &last); err != nil {
		t.Fatal(err)
	}
	if last.Status != HealthStopping {
		t.Errorf("last health = %q, want stopping", last.Status)
	}

	before := len(tb.mqtt.publishedTo("relay/state/1"))
	tb.reg.Reconcile(map[relay.MonitorChannel]bool{relay.D2: true})
	tb.reg.Flush()
	if after := len(tb.mqtt.publishedTo("relay/state/1")); after != before {
		t.Error("state published after Stop")
	}

	if err := tb.command(t, "1", `{"command":"on"}`); err == nil {
		t.Error("command after Stop should be rejected")
	}
}
