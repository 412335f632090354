package relay

import "errors"

// Domain errors for the relay package.
//
// These errors can be checked using errors.Is():
//
//	if errors.Is(err, relay.ErrInvalidNumber) {
//	    // handle unregistered relay
//	}
var (
	// ErrInvalidLabel is returned when a label cannot be used as a display string.
	ErrInvalidLabel = errors.New("relay: invalid label")

	// ErrInvalidPin is returned when a drive pin is outside 0..99.
	ErrInvalidPin = errors.New("relay: invalid pin")

	// ErrInvalidChannel is returned when a monitor channel is not one the radio samples.
	ErrInvalidChannel = errors.New("relay: invalid monitor channel")

	// ErrInvalidRelay is returned when a nil relay is registered.
	ErrInvalidRelay = errors.New("relay: invalid relay")

	// ErrAlreadyRegistered is returned when adding a relay whose number is taken.
	ErrAlreadyRegistered = errors.New("relay: number already registered")

	// ErrInvalidNumber is returned when a relay number is not registered.
	ErrInvalidNumber = errors.New("relay: invalid relay number")

	// ErrTransport wraps genuine I/O faults from the transport.
	ErrTransport = errors.New("relay: transport error")

	// ErrNotDelivered is the error form of DeliveryNotDelivered.
	ErrNotDelivered = errors.New("relay: command not delivered")

	// ErrUnsupported is returned by operations the manager cannot perform,
	// such as a status query on a push-only manager.
	ErrUnsupported = errors.New("relay: operation not supported")

	// ErrPayloadTooLarge is returned when an encoded command exceeds the transport limit.
	ErrPayloadTooLarge = errors.New("relay: command payload too large")
)
