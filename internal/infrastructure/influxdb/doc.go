// Package influxdb writes relay telemetry to InfluxDB 2.x.
//
// It wraps influxdb-client-go v2 with connection management, batched
// non-blocking writes and health checks. Two measurements are written:
//
//	relay_status   one point per reconciled status change
//	               tags: number, label, channel
//	               fields: on (1/0), status, previous
//	relay_command  one point per command payload sent to the radio
//	               tags: command, mode, outcome
//	               fields: payload, elapsed_ms
//
// # Usage
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	client.WriteRelayStatus(influxdb.StatusChange{Number: 1, Status: "On", On: true})
//
// # Error Handling
//
// Writes are batched (batch_size, flush_interval) and never block. Async
// write failures are counted in relayd_influxdb_write_errors_total and
// passed to the SetOnError callback. Connection and health check errors
// are returned directly.
package influxdb
