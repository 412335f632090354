package relaymqtt

import (
	"errors"
	"time"

	"github.com/nerrad567/relay-core/internal/bridges/xbee"
	"github.com/nerrad567/relay-core/internal/relay"
)

// CommandMessage asks relayd to switch relays.
//
// Topic: relay/command/{number} or relay/command/batch
type CommandMessage struct {
	// ID correlates the command with its ack. Generated when empty.
	ID string `json:"id"`

	// Command is "on" or "off".
	Command string `json:"command"`

	// Numbers lists the relays of a batch command. Ignored on
	// single-relay topics.
	Numbers []int `json:"numbers,omitempty"`

	// Source says where the command came from (e.g. "scheduler", "ui").
	Source string `json:"source,omitempty"`

	Timestamp time.Time `json:"timestamp,omitzero"`
}

// AckStatus is the outcome reported for a command.
type AckStatus string

const (
	// AckDelivered means the radio confirmed delivery to the board.
	AckDelivered AckStatus = "delivered"

	// AckNotDelivered means the command was sent but not confirmed.
	AckNotDelivered AckStatus = "not_delivered"

	// AckFailed means the command was rejected or could not be sent.
	AckFailed AckStatus = "failed"
)

// AckMessage reports the outcome of a command.
//
// Topic: relay/ack/{number|batch}
type AckMessage struct {
	CommandID string    `json:"command_id"`
	Timestamp time.Time `json:"timestamp"`
	Target    string    `json:"target"`
	Command   string    `json:"command,omitempty"`
	Numbers   []int     `json:"numbers,omitempty"`
	Status    AckStatus `json:"status"`

	// Delivery is the transport outcome, "delivered" or "not_delivered".
	Delivery string `json:"delivery"`

	Error *AckError `json:"error,omitempty"`
}

// AckError describes why a command failed.
type AckError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error codes for failed commands.
const (
	ErrCodeInvalidPayload  = "INVALID_PAYLOAD"
	ErrCodeInvalidCommand  = "INVALID_COMMAND"
	ErrCodeInvalidNumber   = "INVALID_NUMBER"
	ErrCodePayloadTooLarge = "PAYLOAD_TOO_LARGE"
	ErrCodeTransport       = "TRANSPORT_ERROR"
	ErrCodeNotDelivered    = "NOT_DELIVERED"
	ErrCodeInternal        = "INTERNAL_ERROR"
)

// errorCode maps a command error to an ack error code.
func errorCode(err error) string {
	switch {
	case errors.Is(err, relay.ErrInvalidNumber):
		return ErrCodeInvalidNumber
	case errors.Is(err, relay.ErrPayloadTooLarge):
		return ErrCodePayloadTooLarge
	case errors.Is(err, relay.ErrTransport):
		return ErrCodeTransport
	case errors.Is(err, relay.ErrNotDelivered):
		return ErrCodeNotDelivered
	default:
		return ErrCodeInternal
	}
}

// StateMessage is the retained state of one relay.
//
// Topic: relay/state/{number}
type StateMessage struct {
	Number    int                  `json:"number"`
	Label     string               `json:"label"`
	Pin       int                  `json:"pin"`
	Channel   relay.MonitorChannel `json:"channel"`
	Status    relay.Status         `json:"status"`
	Timestamp time.Time            `json:"timestamp"`
}

// NewStateMessage builds the state message for a relay snapshot.
func NewStateMessage(r relay.Relay, at time.Time) StateMessage {
	return StateMessage{
		Number:    r.Number(),
		Label:     r.Label(),
		Pin:       r.Pin(),
		Channel:   r.Channel(),
		Status:    r.Status(),
		Timestamp: at.UTC(),
	}
}

// HealthStatus is the overall service status.
type HealthStatus string

const (
	HealthHealthy  HealthStatus = "healthy"
	HealthDegraded HealthStatus = "degraded"
	HealthStarting HealthStatus = "starting"
	HealthStopping HealthStatus = "stopping"
)

// HealthMessage is the retained service health report.
//
// Topic: relay/health
type HealthMessage struct {
	Service       string           `json:"service"`
	Timestamp     time.Time        `json:"timestamp"`
	Status        HealthStatus     `json:"status"`
	Version       string           `json:"version"`
	UptimeSeconds int64            `json:"uptime_seconds"`
	Transport     *TransportStatus `json:"transport,omitempty"`
	RelaysManaged int              `json:"relays_managed"`
	Reason        string           `json:"reason,omitempty"`
}

// TransportStatus summarises the radio link.
type TransportStatus struct {
	Connected      bool   `json:"connected"`
	Remote         string `json:"remote"`
	FramesTx       uint64 `json:"frames_tx"`
	FramesRx       uint64 `json:"frames_rx"`
	SamplesRx      uint64 `json:"samples_rx"`
	SamplesDropped uint64 `json:"samples_dropped"`
	DeliveryFailed uint64 `json:"delivery_failed"`
	Timeouts       uint64 `json:"timeouts"`
	Reconnects     uint64 `json:"reconnects"`
}

func newTransportStatus(stats xbee.Stats, remote xbee.Address64) *TransportStatus {
	return &TransportStatus{
		Connected:      stats.Connected,
		Remote:         remote.String(),
		FramesTx:       stats.FramesTx,
		FramesRx:       stats.FramesRx,
		SamplesRx:      stats.SamplesRx,
		SamplesDropped: stats.SamplesDropped,
		DeliveryFailed: stats.DeliveryFailed,
		Timeouts:       stats.Timeouts,
		Reconnects:     stats.ReconnectsTotal,
	}
}
