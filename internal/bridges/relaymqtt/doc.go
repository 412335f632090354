// Package relaymqtt exposes a relay manager over MQTT.
//
// # Topics
//
// With the default "relay" prefix:
//
//	relay/command/{number}   CommandMessage in, one relay
//	relay/command/batch      CommandMessage in, Numbers lists the relays
//	relay/ack/{number|batch} AckMessage out, not retained
//	relay/state/{number}     StateMessage out, retained; cleared on removal
//	relay/health             HealthMessage out, retained
//
// An ack reports the transport outcome only. A relay's state topic changes
// when the radio reports its monitor channel, which may be before or after
// the ack arrives, or never.
//
// # Usage
//
//	b, err := relaymqtt.NewBridge(relaymqtt.Options{
//	    Manager:    dispatcher,
//	    MQTTClient: mqttClient,
//	    Topics:     mqttClient.Topics(),
//	    Transport:  radio,
//	    Remote:     remote,
//	    Version:    version,
//	})
//	if err != nil {
//	    return err
//	}
//	if err := b.Start(ctx); err != nil {
//	    return err
//	}
//	defer b.Stop()
package relaymqtt
