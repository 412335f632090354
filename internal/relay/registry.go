package relay

import (
	"fmt"
	"slices"
	"sync"
	"time"
)

// Logger defines the logging interface used by the Registry.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// EventKind identifies the kind of registry mutation.
type EventKind int

// Event kinds.
const (
	EventAdded EventKind = iota + 1
	EventRemoved
	EventUpdated
	EventStatus
)

func (k EventKind) String() string {
	switch k {
	case EventAdded:
		return "added"
	case EventRemoved:
		return "removed"
	case EventUpdated:
		return "updated"
	case EventStatus:
		return "status"
	default:
		return "unknown"
	}
}

// Event describes one registry mutation.
type Event struct {
	Kind EventKind

	// Relay is a snapshot taken right after the mutation. For EventRemoved
	// it is the relay as it was when removed.
	Relay Relay

	// Previous is the status before an EventStatus change.
	Previous Status

	// Revision increases by one per mutation, in lock order.
	Revision uint64

	Time time.Time
}

// Listener receives registry events.
//
// Listeners run on a delivery goroutine owned by the registry, one event
// at a time, in revision order. The mutation that produced an event does
// not wait for its listeners, so a slow listener delays later deliveries
// but never a caller of Add, Update, Remove or Reconcile. A listener may
// read from or mutate the registry but must not call Flush.
type Listener func(Event)

// Registry is the single owner of relay state.
//
// One RWMutex guards the map and every relay in it, so command dispatch
// and IO sample reconciliation observe a single total order of mutations.
// Callers only ever receive copies.
type Registry struct {
	mu       sync.RWMutex
	relays   map[int]*Relay
	revision uint64

	// Delivery state, guarded by mu. At most one deliver goroutine runs
	// at a time; it exits once pending is empty.
	pending   []Event
	listeners []subscription
	draining  bool
	delivered uint64
	idle      *sync.Cond

	logger Logger
	now    func() time.Time
}

type subscription struct {
	fn   Listener
	from uint64 // first revision delivered to fn
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	r := &Registry{
		relays: make(map[int]*Relay),
		logger: noopLogger{},
		now:    time.Now,
	}
	r.idle = sync.NewCond(&r.mu)
	return r
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	r.logger = logger
}

// Subscribe registers a listener for all subsequent events.
func (r *Registry) Subscribe(l Listener) {
	r.mu.Lock()
	r.listeners = append(r.listeners, subscription{fn: l, from: r.revision + 1})
	r.mu.Unlock()
}

// Flush blocks until every event published before the call has been
// delivered to all listeners. Call it before closing anything a listener
// writes to.
func (r *Registry) Flush() {
	r.mu.Lock()
	defer r.mu.Unlock()

	target := r.revision
	for r.delivered < target {
		r.idle.Wait()
	}
}

// Add registers a copy of rel under its number. The stored copy starts
// Uninitialized. Fails with ErrAlreadyRegistered if the number is taken;
// the existing entry is left untouched.
func (r *Registry) Add(rel *Relay) error {
	if rel == nil {
		return ErrInvalidRelay
	}

	r.mu.Lock()
	if _, exists := r.relays[rel.number]; exists {
		r.mu.Unlock()
		return fmt.Errorf("%w: %d", ErrAlreadyRegistered, rel.number)
	}

	stored := *rel
	stored.status = StatusUninitialized
	r.relays[stored.number] = &stored
	ev := r.event(EventAdded, stored, StatusUninitialized)
	r.publish(ev)

	r.logger.Debug("relay added", "number", stored.number, "pin", stored.pin, "channel", stored.channel.String())
	return nil
}

// AddAll adds each relay in order and stops at the first failure.
// It is not transactional: relays added before the failure stay registered.
func (r *Registry) AddAll(rels []*Relay) error {
	for _, rel := range rels {
		if err := r.Add(rel); err != nil {
			return err
		}
	}
	return nil
}

// Remove unregisters a relay. Removing an unknown number is a no-op.
// It reports whether a relay was removed.
func (r *Registry) Remove(number int) bool {
	r.mu.Lock()
	rel, ok := r.relays[number]
	if !ok {
		r.mu.Unlock()
		return false
	}
	delete(r.relays, number)
	ev := r.event(EventRemoved, *rel, rel.status)
	r.publish(ev)

	r.logger.Debug("relay removed", "number", number)
	return true
}

// RemoveAll removes each number in order, skipping unknown ones, and
// returns how many were removed.
func (r *Registry) RemoveAll(numbers []int) int {
	removed := 0
	for _, n := range numbers {
		if r.Remove(n) {
			removed++
		}
	}
	return removed
}

// Update applies fn to a copy of the relay and stores the result if fn
// succeeds. The number and status cannot be changed this way.
func (r *Registry) Update(number int, fn func(*Relay) error) (Relay, error) {
	r.mu.Lock()
	rel, ok := r.relays[number]
	if !ok {
		r.mu.Unlock()
		return Relay{}, fmt.Errorf("%w: %d", ErrInvalidNumber, number)
	}

	updated := *rel
	if err := fn(&updated); err != nil {
		r.mu.Unlock()
		return Relay{}, err
	}
	updated.number = rel.number
	updated.status = rel.status
	*rel = updated
	ev := r.event(EventUpdated, updated, updated.status)
	r.publish(ev)

	return updated, nil
}

// Get returns a copy of the relay.
func (r *Registry) Get(number int) (Relay, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rel, ok := r.relays[number]
	if !ok {
		return Relay{}, fmt.Errorf("%w: %d", ErrInvalidNumber, number)
	}
	return *rel, nil
}

// CachedStatus returns the last confirmed status without contacting the device.
func (r *Registry) CachedStatus(number int) (Status, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rel, ok := r.relays[number]
	if !ok {
		return StatusUninitialized, fmt.Errorf("%w: %d", ErrInvalidNumber, number)
	}
	return rel.status, nil
}

// Pins resolves relay numbers to drive pins in one consistent read.
// Any unknown number fails the whole lookup.
func (r *Registry) Pins(numbers []int) ([]int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	pins := make([]int, len(numbers))
	for i, n := range numbers {
		rel, ok := r.relays[n]
		if !ok {
			return nil, fmt.Errorf("%w: %d", ErrInvalidNumber, n)
		}
		pins[i] = rel.pin
	}
	return pins, nil
}

// Count returns the number of registered relays.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.relays)
}

// List returns copies of all relays ordered by number.
func (r *Registry) List() []Relay {
	r.mu.RLock()
	out := make([]Relay, 0, len(r.relays))
	for _, rel := range r.relays {
		out = append(out, *rel)
	}
	r.mu.RUnlock()

	slices.SortFunc(out, func(a, b Relay) int { return a.number - b.number })
	return out
}

// Revision returns the number of mutations applied so far.
func (r *Registry) Revision() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.revision
}

// Reconcile applies sampled channel levels: every relay whose channel is
// present becomes On for a high level and Off for a low one. Relays on
// channels absent from levels are untouched.
//
// Parameters:
//   - levels: level per sampled monitor channel, true meaning high
//
// Returns:
//   - []Event: one EventStatus per relay whose status changed, in relay
//     number order; nil when nothing changed
func (r *Registry) Reconcile(levels map[MonitorChannel]bool) []Event {
	if len(levels) == 0 {
		return nil
	}

	r.mu.Lock()
	numbers := make([]int, 0, len(r.relays))
	for n, rel := range r.relays {
		if _, ok := levels[rel.channel]; ok {
			numbers = append(numbers, n)
		}
	}
	slices.Sort(numbers)

	var changes []Event
	for _, n := range numbers {
		rel := r.relays[n]
		next := StatusFromLevel(levels[rel.channel])
		if rel.status == next {
			continue
		}
		prev := rel.status
		rel.setStatus(next)
		changes = append(changes, r.event(EventStatus, *rel, prev))
	}
	r.publish(changes...)

	return changes
}

// event stamps a new revision. Caller holds mu for writing.
func (r *Registry) event(kind EventKind, snapshot Relay, prev Status) Event {
	r.revision++
	return Event{
		Kind:     kind,
		Relay:    snapshot,
		Previous: prev,
		Revision: r.revision,
		Time:     r.now(),
	}
}

// publish queues events for delivery and releases mu. Caller holds mu for
// writing; it is always released.
func (r *Registry) publish(events ...Event) {
	if len(events) == 0 {
		r.mu.Unlock()
		return
	}
	r.pending = append(r.pending, events...)
	if !r.draining {
		r.draining = true
		go r.deliver()
	}
	r.mu.Unlock()
}

// deliver hands queued events to the listeners until the queue is empty.
func (r *Registry) deliver() {
	for {
		r.mu.Lock()
		batch := r.pending
		r.pending = nil
		listeners := r.listeners
		if len(batch) == 0 {
			r.draining = false
			r.mu.Unlock()
			return
		}
		r.mu.Unlock()

		for _, ev := range batch {
			for _, sub := range listeners {
				if ev.Revision >= sub.from {
					sub.fn(ev)
				}
			}
		}

		r.mu.Lock()
		r.delivered = batch[len(batch)-1].Revision
		r.idle.Broadcast()
		r.mu.Unlock()
	}
}
