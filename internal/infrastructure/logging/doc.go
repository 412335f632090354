// Package logging provides structured logging for relayd.
//
// This package wraps Go's standard log/slog package so that every
// component logs with the same handler, level and default fields.
//
// # Configuration
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// # Usage
//
//	logger := logging.New(cfg.Logging, "1.0.0")
//	logger.Component("xbee").Info("connected", "url", cfg.XBee.Connection)
//	logger.Error("send failed", "error", err)
//
// Never log the MQTT password or the InfluxDB token.
package logging
