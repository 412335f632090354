package relaymqtt

import (
	"encoding/json"
	"testing"
	"time"
)

func TestHealthReporter_DetermineStatus(t *testing.T) {
	tests := []struct {
		name       string
		mqttUp     bool
		radio      *fakeRadio
		wantStatus HealthStatus
		wantReason string
	}{
		{"all connected", true, &fakeRadio{connected: true}, HealthHealthy, ""},
		{"mqtt down", false, &fakeRadio{connected: true}, HealthDegraded, "MQTT disconnected"},
		{"radio down", true, &fakeRadio{connected: false}, HealthDegraded, "radio disconnected"},
		{"no radio configured", true, nil, HealthHealthy, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := NewMockMQTTClient()
			client.setConnected(tt.mqttUp)

			cfg := HealthReporterConfig{Publisher: client, Topic: "relay/health"}
			if tt.radio != nil {
				cfg.Transport = tt.radio
			}
			h := NewHealthReporter(cfg)

			status, reason := h.determineStatus()
			if status != tt.wantStatus || reason != tt.wantReason {
				t.Errorf("determineStatus() = (%q, %q), want (%q, %q)",
					status, reason, tt.wantStatus, tt.wantReason)
			}
		})
	}
}

func TestHealthReporter_PublishNow(t *testing.T) {
	client := NewMockMQTTClient()
	radio := &fakeRadio{connected: true, payloads: []string{"CMD RON01", "CMD ROFF01"}}

	h := NewHealthReporter(HealthReporterConfig{
		Version:   "1.2.3",
		Publisher: client,
		Topic:     "relay/health",
		QoS:       1,
		Transport: radio,
		Remote:    board,
		Relays:    func() int { return 4 },
	})
	if err := h.PublishNow(); err != nil {
		t.Fatalf("PublishNow() error = %v", err)
	}

	msgs := client.publishedTo("relay/health")
	if len(msgs) != 1 || !msgs[0].Retained || msgs[0].QoS != 1 {
		t.Fatalf("published = %+v", msgs)
	}

	var msg HealthMessage
	if err := json.Unmarshal(msgs[0].Payload, &msg); err != nil {
		t.Fatal(err)
	}
	if msg.Service != "relayd" || msg.Version != "1.2.3" || msg.Status != HealthHealthy {
		t.Errorf("msg = %+v", msg)
	}
	if msg.RelaysManaged != 4 {
		t.Errorf("RelaysManaged = %d, want 4", msg.RelaysManaged)
	}
	if msg.Transport == nil || msg.Transport.FramesTx != 2 || msg.Transport.Remote != board.String() {
		t.Errorf("Transport = %+v", msg.Transport)
	}
}

func TestHealthReporter_DefaultInterval(t *testing.T) {
	h := NewHealthReporter(HealthReporterConfig{})
	if h.interval != defaultHealthInterval {
		t.Errorf("interval = %v, want %v", h.interval, defaultHealthInterval)
	}
	if err := h.PublishNow(); err != nil {
		t.Errorf("PublishNow() without publisher error = %v", err)
	}
}

func TestHealthReporter_StartStop(t *testing.T) {
	client := NewMockMQTTClient()
	h := NewHealthReporter(HealthReporterConfig{
		Publisher: client,
		Topic:     "relay/health",
		Interval:  10 * time.Millisecond,
	})

	h.Start(t.Context())
	time.Sleep(50 * time.Millisecond)
	h.Stop()
	h.Stop()

	msgs := client.publishedTo("relay/health")
	if len(msgs) < 2 {
		t.Fatalf("published %d health messages, want periodic reports", len(msgs))
	}
	var last HealthMessage
	if err := json.Unmarshal(msgs[len(msgs)-1].Payload, &last); err != nil {
		t.Fatal(err)
	}
	if last.Status != HealthStopping {
		t.Errorf("last status = %q, want stopping", last.Status)
	}
}
