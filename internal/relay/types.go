package relay

import (
	"fmt"
	"strconv"
	"strings"
)

// Status is the last confirmed state of a relay.
type Status int

// Status values. A relay is Uninitialized until the first IO sample that
// covers its monitor channel.
const (
	StatusUninitialized Status = iota
	StatusOn
	StatusOff
)

// String returns the display form. The misspelling of "Uninitialized" is
// what existing front ends match on.
func (s Status) String() string {
	switch s {
	case StatusOn:
		return "On"
	case StatusOff:
		return "Off"
	default:
		return "Unitialized"
	}
}

// MarshalText encodes the status as its display form.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText accepts the display form, case-insensitively. Both spellings
// of "uninitialized" are accepted.
func (s *Status) UnmarshalText(text []byte) error {
	parsed, err := ParseStatus(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// ParseStatus converts a display string back to a Status.
func ParseStatus(v string) (Status, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "on":
		return StatusOn, nil
	case "off":
		return StatusOff, nil
	case "unitialized", "uninitialized":
		return StatusUninitialized, nil
	default:
		return StatusUninitialized, fmt.Errorf("relay: unknown status %q", v)
	}
}

// StatusFromLevel maps a sampled digital level to a status.
func StatusFromLevel(high bool) Status {
	if high {
		return StatusOn
	}
	return StatusOff
}

// MonitorChannel is the radio digital input line a relay's state is read
// from. The value is the DIO line number.
type MonitorChannel int

// Monitor channels the radio can sample. DIO8 and DIO9 are not usable as
// digital inputs on the supported modules.
const (
	D0  MonitorChannel = 0
	D1  MonitorChannel = 1
	D2  MonitorChannel = 2
	D3  MonitorChannel = 3
	D4  MonitorChannel = 4
	D5  MonitorChannel = 5
	D6  MonitorChannel = 6
	D7  MonitorChannel = 7
	D10 MonitorChannel = 10
	D11 MonitorChannel = 11
	D12 MonitorChannel = 12
)

var allChannels = []MonitorChannel{D0, D1, D2, D3, D4, D5, D6, D7, D10, D11, D12}

// AllMonitorChannels returns every valid channel in line order.
func AllMonitorChannels() []MonitorChannel {
	out := make([]MonitorChannel, len(allChannels))
	copy(out, allChannels)
	return out
}

// Valid reports whether c is a samplable channel.
func (c MonitorChannel) Valid() bool {
	switch c {
	case D0, D1, D2, D3, D4, D5, D6, D7, D10, D11, D12:
		return true
	}
	return false
}

// Line returns the DIO line number, which is also the bit position in an
// IO sample's digital mask.
func (c MonitorChannel) Line() int {
	return int(c)
}

func (c MonitorChannel) String() string {
	return "D" + strconv.Itoa(int(c))
}

// MarshalText encodes the channel as "D<line>".
func (c MonitorChannel) MarshalText() ([]byte, error) {
	if !c.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrInvalidChannel, int(c))
	}
	return []byte(c.String()), nil
}

// UnmarshalText parses "D<line>" or "DIO<line>".
func (c *MonitorChannel) UnmarshalText(text []byte) error {
	parsed, err := ParseMonitorChannel(string(text))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// ParseMonitorChannel parses "D2", "d2" or "DIO2".
func ParseMonitorChannel(v string) (MonitorChannel, error) {
	s := strings.ToUpper(strings.TrimSpace(v))
	switch {
	case strings.HasPrefix(s, "DIO"):
		s = s[3:]
	case strings.HasPrefix(s, "D"):
		s = s[1:]
	default:
		return 0, fmt.Errorf("%w: %q", ErrInvalidChannel, v)
	}

	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidChannel, v)
	}
	c := MonitorChannel(n)
	if !c.Valid() {
		return 0, fmt.Errorf("%w: %q", ErrInvalidChannel, v)
	}
	return c, nil
}

// Command is an on/off instruction for one or more relays.
type Command int

// Commands.
const (
	CommandOn Command = iota + 1
	CommandOff
)

func (c Command) String() string {
	switch c {
	case CommandOn:
		return "on"
	case CommandOff:
		return "off"
	default:
		return "unknown"
	}
}

// ParseCommand accepts "on"/"off" in any case.
func ParseCommand(v string) (Command, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "on":
		return CommandOn, nil
	case "off":
		return CommandOff, nil
	default:
		return 0, fmt.Errorf("relay: unknown command %q", v)
	}
}

// Delivery is the transport outcome of a command. It says nothing about
// whether the relay actually switched; only an IO sample does that.
type Delivery int

// Delivery outcomes. The zero value is NotDelivered.
const (
	DeliveryNotDelivered Delivery = iota
	DeliveryDelivered
)

func (d Delivery) String() string {
	if d == DeliveryDelivered {
		return "delivered"
	}
	return "not_delivered"
}

// Err returns ErrNotDelivered for DeliveryNotDelivered and nil otherwise.
func (d Delivery) Err() error {
	if d == DeliveryDelivered {
		return nil
	}
	return ErrNotDelivered
}

// SyncMode describes how a manager learns relay state.
type SyncMode int

// Sync modes.
const (
	// SyncPush managers only learn state from unsolicited IO samples.
	// RefreshStatus fails with ErrUnsupported.
	SyncPush SyncMode = iota + 1

	// SyncPoll managers can query the device for its current state.
	SyncPoll
)

func (m SyncMode) String() string {
	switch m {
	case SyncPush:
		return "push"
	case SyncPoll:
		return "poll"
	default:
		return "unknown"
	}
}
