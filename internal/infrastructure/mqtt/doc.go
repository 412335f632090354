// Package mqtt provides the MQTT client used by relayd.
//
// It wraps paho.mqtt.golang with:
//   - auto-reconnect and subscription restore
//   - a retained Last Will on the health topic
//   - input validation on publish and subscribe
//   - panic recovery around message handlers
//
// # Topics
//
// All topics live under one configurable prefix (default "relay"):
//
//	relay/command/{number}   commands in
//	relay/command/batch      multi-relay commands in
//	relay/ack/{number|batch} command results out
//	relay/state/{number}     retained relay state out
//	relay/health             retained service health out (and LWT)
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	topics := client.Topics()
//	err = client.Subscribe(topics.AllCommands(), 1, handle)
package mqtt
