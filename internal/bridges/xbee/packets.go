package xbee

import (
	"encoding/binary"
	"fmt"
)

// TxRequest is a ZigBee Transmit Request (0x10).
type TxRequest struct {
	// FrameID correlates the request with its TxStatus. Zero disables the status.
	FrameID uint8
	Dest64  Address64
	Dest16  uint16
	Radius  uint8
	Options uint8
	Data    []byte
}

// txRequestHeader is type, frame id, dest64, dest16, radius and options.
const txRequestHeader = 14

// Encode returns the frame data, type byte first.
func (t TxRequest) Encode() []byte {
	out := make([]byte, txRequestHeader, txRequestHeader+len(t.Data))
	out[0] = FrameTxRequest
	out[1] = t.FrameID
	copy(out[2:10], t.Dest64[:])
	binary.BigEndian.PutUint16(out[10:12], t.Dest16)
	out[12] = t.Radius
	out[13] = t.Options
	return append(out, t.Data...)
}

// DeliveryStatus is the delivery byte of a transmit status frame.
type DeliveryStatus uint8

// Delivery status values reported by the radio.
const (
	DeliverySuccess              DeliveryStatus = 0x00
	DeliveryMACAckFailure        DeliveryStatus = 0x01
	DeliveryCCAFailure           DeliveryStatus = 0x02
	DeliveryInvalidEndpoint      DeliveryStatus = 0x15
	DeliveryNetworkAckFailure    DeliveryStatus = 0x21
	DeliveryNotJoined            DeliveryStatus = 0x22
	DeliverySelfAddressed        DeliveryStatus = 0x23
	DeliveryAddressNotFound      DeliveryStatus = 0x24
	DeliveryRouteNotFound        DeliveryStatus = 0x25
	DeliveryPayloadTooLarge      DeliveryStatus = 0x74
	DeliveryIndirectMessageUnreq DeliveryStatus = 0x75
)

func (s DeliveryStatus) String() string {
	switch s {
	case DeliverySuccess:
		return "success"
	case DeliveryMACAckFailure:
		return "mac_ack_failure"
	case DeliveryCCAFailure:
		return "cca_failure"
	case DeliveryInvalidEndpoint:
		return "invalid_endpoint"
	case DeliveryNetworkAckFailure:
		return "network_ack_failure"
	case DeliveryNotJoined:
		return "not_joined"
	case DeliverySelfAddressed:
		return "self_addressed"
	case DeliveryAddressNotFound:
		return "address_not_found"
	case DeliveryRouteNotFound:
		return "route_not_found"
	case DeliveryPayloadTooLarge:
		return "payload_too_large"
	case DeliveryIndirectMessageUnreq:
		return "indirect_message_unrequested"
	default:
		return fmt.Sprintf("status_0x%02x", uint8(s))
	}
}

// TxStatus is a ZigBee Transmit Status (0x8B).
type TxStatus struct {
	FrameID   uint8
	Dest16    uint16
	Retries   uint8
	Delivery  DeliveryStatus
	Discovery uint8
}

// Delivered reports whether the destination acknowledged the packet.
func (s TxStatus) Delivered() bool {
	return s.Delivery == DeliverySuccess
}

// ParseTxStatus decodes transmit status frame data.
func ParseTxStatus(data []byte) (TxStatus, error) {
	if len(data) < 7 || data[0] != FrameTxStatus {
		return TxStatus{}, fmt.Errorf("%w: tx status: %d bytes", ErrInvalidFrame, len(data))
	}
	return TxStatus{
		FrameID:   data[1],
		Dest16:    binary.BigEndian.Uint16(data[2:4]),
		Retries:   data[4],
		Delivery:  DeliveryStatus(data[5]),
		Discovery: data[6],
	}, nil
}

// IOSample is a ZigBee IO Data Sample Rx Indicator (0x92).
type IOSample struct {
	Source64 Address64
	Source16 uint16
	Options  uint8

	// DigitalMask has bit n set when DIOn is configured as a digital input.
	DigitalMask uint16
	// Digital holds the sampled levels for the lines in DigitalMask.
	Digital uint16

	// AnalogMask has bit n set when ADn is sampled.
	AnalogMask uint8
	// Analog holds 10-bit readings keyed by ADn.
	Analog map[int]uint16
}

// ioSampleHeader is type, src64, src16, options, sample count and masks.
const ioSampleHeader = 16

// ParseIOSample decodes IO sample frame data.
func ParseIOSample(data []byte) (IOSample, error) {
	if len(data) < ioSampleHeader || data[0] != FrameIOSample {
		return IOSample{}, fmt.Errorf("%w: io sample: %d bytes", ErrInvalidFrame, len(data))
	}

	var s IOSample
	copy(s.Source64[:], data[1:9])
	s.Source16 = binary.BigEndian.Uint16(data[9:11])
	s.Options = data[11]
	// data[12] is the sample set count, always 1.
	s.DigitalMask = binary.BigEndian.Uint16(data[13:15])
	s.AnalogMask = data[15]

	rest := data[ioSampleHeader:]
	if s.DigitalMask != 0 {
		if len(rest) < 2 {
			return IOSample{}, fmt.Errorf("%w: io sample: missing digital data", ErrInvalidFrame)
		}
		s.Digital = binary.BigEndian.Uint16(rest[:2]) & s.DigitalMask
		rest = rest[2:]
	}

	for line := 0; line < 8; line++ {
		if s.AnalogMask&(1<<line) == 0 {
			continue
		}
		if len(rest) < 2 {
			return IOSample{}, fmt.Errorf("%w: io sample: missing analog data for AD%d", ErrInvalidFrame, line)
		}
		if s.Analog == nil {
			s.Analog = make(map[int]uint16)
		}
		s.Analog[line] = binary.BigEndian.Uint16(rest[:2])
		rest = rest[2:]
	}
	return s, nil
}

// DigitalLevel returns the level of DIO line and whether the line was sampled.
func (s IOSample) DigitalLevel(line int) (high, present bool) {
	if line < 0 || line > 15 {
		return false, false
	}
	bit := uint16(1) << line
	if s.DigitalMask&bit == 0 {
		return false, false
	}
	return s.Digital&bit != 0, true
}

// DigitalLevels returns the level of every sampled DIO line.
func (s IOSample) DigitalLevels() map[int]bool {
	levels := make(map[int]bool)
	for line := 0; line < 16; line++ {
		if high, ok := s.DigitalLevel(line); ok {
			levels[line] = high
		}
	}
	return levels
}

// ModemStatus is the status byte of a modem status frame (0x8A).
type ModemStatus uint8

func (m ModemStatus) String() string {
	switch m {
	case 0x00:
		return "hardware_reset"
	case 0x01:
		return "watchdog_reset"
	case 0x02:
		return "joined_network"
	case 0x03:
		return "disassociated"
	case 0x06:
		return "coordinator_started"
	default:
		return fmt.Sprintf("modem_status_0x%02x", uint8(m))
	}
}
