// Package serialbridge supervises the daemon that exposes the local XBee's
// serial port over TCP (ser2net, socat or similar).
//
// relayd talks to the radio through a tcp:// or unix:// connection. When
// the bridge daemon runs on the same host it can be managed here: the
// supervisor starts it, waits until its listen address accepts
// connections, restarts it with backoff when it exits and stops it on
// shutdown.
//
//	sup := serialbridge.New(serialbridge.Config{
//	    Binary:  "/usr/sbin/ser2net",
//	    Args:    []string{"-n", "-d", "-C", "2000:raw:0:/dev/ttyUSB0:9600"},
//	    Network: "tcp",
//	    Address: "127.0.0.1:2000",
//	})
//	if err := sup.Start(ctx); err != nil {
//	    return err
//	}
//	defer sup.Stop()
package serialbridge
