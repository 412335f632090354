// Package relay provides the relay registry for relayd.
//
// A relay is one switchable output on a remote board reached over an
// XBee radio. Each relay has a number (its key), the board pin that drives
// it, the radio input channel that reports its state, and a label.
//
// # Architecture
//
//	           commands                          IO samples
//	REST / MQTT ────────▶ Manager (dispatch) ◀──────────── radio
//	                           │                             │
//	                           ▼                             ▼
//	                 ┌──────────────────────────────────────────┐
//	                 │ Registry: map[number]*Relay, one RWMutex │
//	                 └──────────────────────────────────────────┘
//	                           │ events (delivery goroutine, in order)
//	                           ▼
//	            SQLite definitions, status history, MQTT state
//
// Commands never change the cached status. A relay's status only moves
// when the radio reports the level of its monitor channel, which the
// Registry applies in Reconcile.
//
// # Key Types
//
//   - Relay: the entity. Status has no exported setter.
//   - Registry: the single owner of relay state.
//   - Manager: the controller contract implemented by package dispatch.
//   - Delivery: transport outcome of a command, separate from Status.
//
// # Usage
//
//	reg := relay.NewRegistry()
//	reg.SetLogger(log)
//	if _, err := reg.Load(ctx, relay.NewSQLiteRepository(db)); err != nil {
//	    return err
//	}
//	reg.Subscribe(relay.PersistTo(repo, log, 5*time.Second))
//
//	r, err := relay.New(1, 2, relay.D2, "Pump")
//	if err != nil {
//	    return err
//	}
//	if err := reg.Add(r); err != nil {
//	    return err
//	}
//
// # Thread Safety
//
// All Registry methods are safe for concurrent use. Listeners run on a
// separate delivery goroutine, one event at a time, so slow listener I/O
// never holds up Add, Update or Reconcile. Flush waits for delivery to
// catch up.
package relay
