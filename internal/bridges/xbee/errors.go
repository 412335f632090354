package xbee

import "errors"

// Domain errors for the XBee bridge package.
var (
	// ErrNotConnected is returned when an operation requires a link to the
	// local radio but there is none.
	ErrNotConnected = errors.New("xbee: not connected")

	// ErrConnectionFailed is returned when the link to the local radio cannot be opened.
	ErrConnectionFailed = errors.New("xbee: connection failed")

	// ErrClosed is returned by operations on a closed client.
	ErrClosed = errors.New("xbee: client closed")

	// ErrTimeout is returned when no transmit status arrives in time.
	ErrTimeout = errors.New("xbee: transmit status timed out")

	// ErrWriteFailed is returned when a frame cannot be written to the radio.
	ErrWriteFailed = errors.New("xbee: frame write failed")

	// ErrBusy is returned when all 255 frame IDs are awaiting a status.
	ErrBusy = errors.New("xbee: no free frame id")

	// ErrPayloadTooLarge is returned when RF data exceeds the radio's limit.
	ErrPayloadTooLarge = errors.New("xbee: payload too large")

	// ErrInvalidAddress is returned when a 64-bit address cannot be parsed.
	ErrInvalidAddress = errors.New("xbee: invalid address")

	// ErrInvalidFrame is returned for frames that are truncated or malformed.
	ErrInvalidFrame = errors.New("xbee: invalid frame")

	// ErrChecksum is returned when a frame's checksum does not match.
	ErrChecksum = errors.New("xbee: checksum mismatch")

	// ErrFrameTooLarge is returned when a frame's length field exceeds the
	// largest frame the client accepts.
	ErrFrameTooLarge = errors.New("xbee: frame too large")
)
