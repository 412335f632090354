package relay

import (
	"errors"
	"strings"
	"testing"
)

func mustRelay(t *testing.T, number, pin int, ch MonitorChannel, label string) *Relay {
	t.Helper()
	r, err := New(number, pin, ch, label)
	if err != nil {
		t.Fatalf("New(%d, %d, %s, %q) error = %v", number, pin, ch, label, err)
	}
	return r
}

func TestNew(t *testing.T) {
	r := mustRelay(t, 1, 2, D2, "Pump")

	if r.Number() != 1 || r.Pin() != 2 || r.Channel() != D2 || r.Label() != "Pump" {
		t.Errorf("New() = %+v", *r)
	}
	if r.Status() != StatusUninitialized {
		t.Errorf("Status() = %v, want Uninitialized", r.Status())
	}
	if r.StatusString() != "Unitialized" {
		t.Errorf("StatusString() = %q, want %q", r.StatusString(), "Unitialized")
	}
}

func TestNew_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		pin     int
		channel MonitorChannel
		label   string
		wantErr error
	}{
		{"negative pin", -1, D0, "", ErrInvalidPin},
		{"three digit pin", 100, D0, "", ErrInvalidPin},
		{"D8 is not a channel", 1, MonitorChannel(8), "", ErrInvalidChannel},
		{"D13 is not a channel", 1, MonitorChannel(13), "", ErrInvalidChannel},
		{"label with newline", 1, D1, "a\nb", ErrInvalidLabel},
		{"label with invalid utf8", 1, D1, "\xff\xfe", ErrInvalidLabel},
		{"label too long", 1, D1, strings.Repeat("x", MaxLabelLength+1), ErrInvalidLabel},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(1, tt.pin, tt.channel, tt.label)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("New() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestRelay_Setters(t *testing.T) {
	r := mustRelay(t, 4, 4, D4, "Fan")

	if err := r.SetPin(99); err != nil {
		t.Fatalf("SetPin(99) error = %v", err)
	}
	if err := r.SetChannel(D12); err != nil {
		t.Fatalf("SetChannel(D12) error = %v", err)
	}
	if err := r.SetLabel(""); err != nil {
		t.Fatalf("SetLabel(\"\") error = %v", err)
	}
	if r.Pin() != 99 || r.Channel() != D12 || r.Label() != "" {
		t.Errorf("after setters = %+v", *r)
	}

	if err := r.SetLabel("bad\x00label"); !errors.Is(err, ErrInvalidLabel) {
		t.Errorf("SetLabel(control) error = %v, want ErrInvalidLabel", err)
	}
	if r.Label() != "" {
		t.Errorf("label changed after failed SetLabel: %q", r.Label())
	}

	if err := r.SetPin(120); !errors.Is(err, ErrInvalidPin) {
		t.Errorf("SetPin(120) error = %v, want ErrInvalidPin", err)
	}
	if r.Pin() != 99 {
		t.Errorf("pin changed after failed SetPin: %d", r.Pin())
	}
}

func TestStatusString(t *testing.T) {
	tests := []struct {
		status Status
		want   string
	}{
		{StatusUninitialized, "Unitialized"},
		{StatusOn, "On"},
		{StatusOff, "Off"},
	}
	for _, tt := range tests {
		if got := tt.status.String(); got != tt.want {
			t.Errorf("Status(%d).String() = %q, want %q", tt.status, got, tt.want)
		}
	}
}

func TestParseStatus(t *testing.T) {
	tests := []struct {
		in      string
		want    Status
		wantErr bool
	}{
		{"On", StatusOn, false},
		{"off", StatusOff, false},
		{"Unitialized", StatusUninitialized, false},
		{"uninitialized", StatusUninitialized, false},
		{"maybe", StatusUninitialized, true},
	}
	for _, tt := range tests {
		got, err := ParseStatus(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseStatus(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseStatus(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestParseMonitorChannel(t *testing.T) {
	tests := []struct {
		in      string
		want    MonitorChannel
		wantErr bool
	}{
		{"D0", D0, false},
		{"d7", D7, false},
		{"DIO10", D10, false},
		{" D12 ", D12, false},
		{"D8", 0, true},
		{"D9", 0, true},
		{"D13", 0, true},
		{"P2", 0, true},
		{"D", 0, true},
		{"", 0, true},
	}
	for _, tt := range tests {
		got, err := ParseMonitorChannel(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseMonitorChannel(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if err != nil && !errors.Is(err, ErrInvalidChannel) {
			t.Errorf("ParseMonitorChannel(%q) error = %v, want ErrInvalidChannel", tt.in, err)
		}
		if got != tt.want {
			t.Errorf("ParseMonitorChannel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestAllMonitorChannels(t *testing.T) {
	all := AllMonitorChannels()
	if len(all) != 11 {
		t.Fatalf("len(AllMonitorChannels()) = %d, want 11", len(all))
	}
	for _, c := range all {
		if !c.Valid() {
			t.Errorf("%s reported invalid", c)
		}
	}
	// Callers get their own copy.
	all[0] = D12
	if AllMonitorChannels()[0] != D0 {
		t.Error("AllMonitorChannels returned shared slice")
	}
}

func TestDeliveryErr(t *testing.T) {
	if err := DeliveryDelivered.Err(); err != nil {
		t.Errorf("Delivered.Err() = %v, want nil", err)
	}
	if err := DeliveryNotDelivered.Err(); !errors.Is(err, ErrNotDelivered) {
		t.Errorf("NotDelivered.Err() = %v, want ErrNotDelivered", err)
	}
	var zero Delivery
	if zero != DeliveryNotDelivered {
		t.Error("zero Delivery should be NotDelivered")
	}
}

func TestParseCommand(t *testing.T) {
	if c, err := ParseCommand("ON"); err != nil || c != CommandOn {
		t.Errorf("ParseCommand(ON) = %v, %v", c, err)
	}
	if c, err := ParseCommand("off"); err != nil || c != CommandOff {
		t.Errorf("ParseCommand(off) = %v, %v", c, err)
	}
	if _, err := ParseCommand("toggle"); err == nil {
		t.Error("ParseCommand(toggle) should fail")
	}
}
