package influxdb

import (
	"strconv"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/nerrad567/relay-core/internal/metrics"
)

// Measurement names.
const (
	MeasurementRelayStatus = "relay_status"
	MeasurementCommand     = "relay_command"
)

// StatusChange is one reconciled relay status change.
type StatusChange struct {
	Number   int
	Label    string
	Channel  string
	Status   string
	Previous string
	On       bool
	Time     time.Time
}

// CommandSend is one command payload handed to the radio.
type CommandSend struct {
	Command string
	Mode    string
	Payload string
	Outcome string
	Elapsed time.Duration
	Time    time.Time
}

// StatusPoint builds the point for a status change. The "on" field is
// 1 or 0 so status can be graphed directly.
func StatusPoint(c StatusChange) *write.Point {
	on := 0
	if c.On {
		on = 1
	}
	return write.NewPoint(
		MeasurementRelayStatus,
		map[string]string{
			"number":  strconv.Itoa(c.Number),
			"label":   c.Label,
			"channel": c.Channel,
		},
		map[string]interface{}{
			"on":       on,
			"status":   c.Status,
			"previous": c.Previous,
		},
		c.Time,
	)
}

// CommandPoint builds the point for a command send.
func CommandPoint(c CommandSend) *write.Point {
	return write.NewPoint(
		MeasurementCommand,
		map[string]string{
			"command": c.Command,
			"mode":    c.Mode,
			"outcome": c.Outcome,
		},
		map[string]interface{}{
			"payload":    c.Payload,
			"elapsed_ms": float64(c.Elapsed.Microseconds()) / 1000,
		},
		c.Time,
	)
}

// WriteRelayStatus records a relay status change. Non-blocking.
func (c *Client) WriteRelayStatus(change StatusChange) {
	if change.Time.IsZero() {
		change.Time = time.Now()
	}
	c.writePoint(StatusPoint(change))
}

// WriteCommand records a command send. Non-blocking.
func (c *Client) WriteCommand(send CommandSend) {
	if send.Time.IsZero() {
		send.Time = time.Now()
	}
	c.writePoint(CommandPoint(send))
}

// WritePoint writes a custom point stamped with the current time.
//
// Example:
//
//	client.WritePoint("radio_link",
//	    map[string]string{"remote": "0013A200403DB15B"},
//	    map[string]interface{}{"frames_tx": 120, "timeouts": 2})
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]interface{}) {
	c.WritePointWithTime(measurement, tags, fields, time.Now())
}

// WritePointWithTime writes a custom point with a specific timestamp.
func (c *Client) WritePointWithTime(measurement string, tags map[string]string, fields map[string]interface{}, timestamp time.Time) {
	c.writePoint(write.NewPoint(measurement, tags, fields, timestamp))
}

func (c *Client) writePoint(p *write.Point) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(p)
	metrics.InfluxDBWritesTotal.Inc()
}
