package relay

import "context"

// Manager is the contract for a relay controller: a registry of relays
// plus the operations that command them.
//
// TurnOn/TurnOff report whether the transport accepted the command, never
// whether the relay switched. The cached status only changes when an IO
// sample is reconciled.
type Manager interface {
	Add(r *Relay) error
	AddAll(rs []*Relay) error
	Remove(number int) bool
	RemoveAll(numbers []int) int

	Get(number int) (Relay, error)
	List() []Relay
	Count() int
	CachedStatus(number int) (Status, error)

	TurnOn(ctx context.Context, number int) (Delivery, error)
	TurnOff(ctx context.Context, number int) (Delivery, error)
	TurnOnAll(ctx context.Context, numbers []int) (Delivery, error)
	TurnOffAll(ctx context.Context, numbers []int) (Delivery, error)

	// Switch and SwitchAll are TurnOn/TurnOff and TurnOnAll/TurnOffAll
	// with the command as a value, for callers that parse it from input.
	Switch(ctx context.Context, cmd Command, number int) (Delivery, error)
	SwitchAll(ctx context.Context, cmd Command, numbers []int) (Delivery, error)

	// Sync reports how the manager learns relay state. Push managers
	// return ErrUnsupported from RefreshStatus and RefreshStatuses.
	Sync() SyncMode
	RefreshStatus(ctx context.Context, number int) (Status, error)
	RefreshStatuses(ctx context.Context, numbers []int) (map[int]Status, error)
}

// SwitchFunc commands a single relay.
type SwitchFunc func(ctx context.Context, number int) (Delivery, error)

// SwitchEach is the default multi-relay behaviour: it calls fn for each
// number in order and stops at the first error or undelivered command.
// Commands already sent are not undone. An empty list is delivered.
func SwitchEach(ctx context.Context, numbers []int, fn SwitchFunc) (Delivery, error) {
	for _, n := range numbers {
		d, err := fn(ctx, n)
		if err != nil {
			return DeliveryNotDelivered, err
		}
		if d != DeliveryDelivered {
			return d, nil
		}
	}
	return DeliveryDelivered, nil
}
