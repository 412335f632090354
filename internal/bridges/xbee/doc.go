// Package xbee talks to a Digi XBee ZigBee radio in API mode.
//
// The local radio is reached through a byte stream: a serial bridge over
// TCP, a Unix socket, or any io.ReadWriteCloser such as an open serial port.
// Frames are exchanged in API mode 1 or in API mode 2 (escaped).
//
// # Frames Used
//
//   - 0x10 Transmit Request: RF data to a remote radio.
//   - 0x8B Transmit Status: delivery report for a request, matched by frame ID.
//   - 0x92 IO Data Sample: digital and analog line levels from a remote radio.
//   - 0x8A Modem Status: logged only.
//
// # Usage
//
//	client, err := xbee.Connect(ctx, xbee.Config{
//	    Connection: "tcp://localhost:2000",
//	    Escaped:    true,
//	})
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	client.SetOnSample(func(s xbee.IOSample) { ... })
//	status, err := client.SendData(ctx, remote, []byte("CMD RON07"))
//
// SendData returns a TxStatus whenever the radio answered, delivered or
// not. An error means no answer was received.
package xbee
