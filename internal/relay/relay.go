package relay

import (
	"fmt"
	"unicode"
	"unicode/utf8"
)

// Relay limits.
const (
	MinPin = 0
	MaxPin = 99 // pins are encoded as two digits

	MaxLabelLength = 64
)

// Relay is one switchable output on the remote board.
//
// Number identifies the relay and never changes. Pin is the board output
// the relay is wired to and is what commands address. Channel is the
// radio input that reports whether the relay is energised.
//
// Status can only be changed by the Registry when an IO sample arrives.
// A Relay value handed out by the Registry is a copy; mutating it has no
// effect on the registered relay.
type Relay struct {
	number  int
	pin     int
	channel MonitorChannel
	label   string
	status  Status
}

// New creates a relay in the Uninitialized state.
//
// Parameters:
//   - number: registry key, unique per Registry
//   - pin: board output driven by commands, 0..MaxPin
//   - channel: radio input that reports the relay's level
//   - label: display text, may be empty
//
// Returns ErrInvalidPin, ErrInvalidChannel or ErrInvalidLabel when an
// argument is out of range.
func New(number, pin int, channel MonitorChannel, label string) (*Relay, error) {
	r := &Relay{number: number}
	if err := r.SetPin(pin); err != nil {
		return nil, err
	}
	if err := r.SetChannel(channel); err != nil {
		return nil, err
	}
	if err := r.SetLabel(label); err != nil {
		return nil, err
	}
	return r, nil
}

// Number returns the relay's registry key.
func (r *Relay) Number() int { return r.number }

// Pin returns the board output the relay is wired to.
func (r *Relay) Pin() int { return r.pin }

// Channel returns the radio input the relay's state is read from.
func (r *Relay) Channel() MonitorChannel { return r.channel }

// Label returns the display label.
func (r *Relay) Label() string { return r.label }

// Status returns the last confirmed state.
func (r *Relay) Status() Status { return r.status }

// StatusString returns "Unitialized", "On" or "Off".
func (r *Relay) StatusString() string { return r.status.String() }

// SetPin changes the drive pin.
func (r *Relay) SetPin(pin int) error {
	if err := ValidatePin(pin); err != nil {
		return err
	}
	r.pin = pin
	return nil
}

// SetChannel changes the monitor channel.
func (r *Relay) SetChannel(channel MonitorChannel) error {
	if !channel.Valid() {
		return fmt.Errorf("%w: %d", ErrInvalidChannel, int(channel))
	}
	r.channel = channel
	return nil
}

// SetLabel changes the display label. The previous label is kept on error.
func (r *Relay) SetLabel(label string) error {
	if err := ValidateLabel(label); err != nil {
		return err
	}
	r.label = label
	return nil
}

func (r *Relay) setStatus(s Status) {
	r.status = s
}

// ValidatePin checks that pin fits the two-digit command encoding.
func ValidatePin(pin int) error {
	if pin < MinPin || pin > MaxPin {
		return fmt.Errorf("%w: %d (must be %d-%d)", ErrInvalidPin, pin, MinPin, MaxPin)
	}
	return nil
}

// ValidateLabel rejects labels that cannot be shown as a single line of text.
// The empty label is allowed.
func ValidateLabel(label string) error {
	if len(label) > MaxLabelLength {
		return fmt.Errorf("%w: longer than %d bytes", ErrInvalidLabel, MaxLabelLength)
	}
	if !utf8.ValidString(label) {
		return fmt.Errorf("%w: not valid UTF-8", ErrInvalidLabel)
	}
	for _, c := range label {
		if unicode.IsControl(c) {
			return fmt.Errorf("%w: contains control character %U", ErrInvalidLabel, c)
		}
	}
	return nil
}
