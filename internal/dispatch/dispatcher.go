package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nerrad567/relay-core/internal/bridges/xbee"
	"github.com/nerrad567/relay-core/internal/metrics"
	"github.com/nerrad567/relay-core/internal/relay"
)

// Transport is the addressed radio link the dispatcher sends through.
// *xbee.Client implements it.
type Transport interface {
	SendData(ctx context.Context, dest xbee.Address64, payload []byte) (xbee.TxStatus, error)
	MaxPayload() int
	SetOnSample(callback func(xbee.IOSample))
}

// Config holds dispatcher settings.
type Config struct {
	// Remote is the radio on the relay board. Commands go to it and only
	// its IO samples are reconciled.
	Remote xbee.Address64

	// BatchCommands sends TurnOnAll/TurnOffAll as one payload. When false,
	// each relay is commanded separately and the batch stops at the first
	// undelivered command.
	BatchCommands bool
}

// Logger defines the logging interface used by the Dispatcher.
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

// Dispatcher is a push-synchronised relay.Manager for a board behind an
// XBee radio. Registry operations come from the embedded Registry.
type Dispatcher struct {
	*relay.Registry

	transport Transport
	cfg       Config
	logger    Logger

	onCommand func(CommandRecord)
}

// CommandRecord describes one payload handed to the transport.
type CommandRecord struct {
	Command relay.Command
	Mode    string // "single" or "batch"
	Payload string
	Outcome string // metrics.Outcome*
	Elapsed time.Duration
	Time    time.Time
}

var _ relay.Manager = (*Dispatcher)(nil)

// New creates a dispatcher over reg and registers it for the transport's
// IO samples.
//
// Parameters:
//   - reg: registry the dispatcher reads pins from and reconciles into
//   - transport: radio link; shared, not closed by the dispatcher
//   - cfg: remote board address and batching mode
//
// Returns:
//   - *Dispatcher: ready for TurnOn/TurnOff; HandleSample is already wired
func New(reg *relay.Registry, transport Transport, cfg Config) *Dispatcher {
	d := &Dispatcher{
		Registry:  reg,
		transport: transport,
		cfg:       cfg,
		logger:    noopLogger{},
	}

	reg.Subscribe(func(ev relay.Event) {
		switch ev.Kind {
		case relay.EventAdded, relay.EventRemoved:
			metrics.RelaysRegistered.Set(float64(reg.Count()))
		case relay.EventStatus:
			metrics.StatusChangesTotal.WithLabelValues(ev.Relay.Status().String()).Inc()
		}
	})
	metrics.RelaysRegistered.Set(float64(reg.Count()))

	transport.SetOnSample(d.HandleSample)
	return d
}

// SetLogger sets the logger for the dispatcher and its registry.
func (d *Dispatcher) SetLogger(logger Logger) {
	d.logger = logger
	d.Registry.SetLogger(logger)
}

// SetOnCommand registers a callback invoked after every send attempt,
// including rejected ones. It must be set before commands are issued.
func (d *Dispatcher) SetOnCommand(fn func(CommandRecord)) {
	d.onCommand = fn
}

// Remote returns the address commands are sent to.
func (d *Dispatcher) Remote() xbee.Address64 {
	return d.cfg.Remote
}

// TurnOn commands one relay on.
func (d *Dispatcher) TurnOn(ctx context.Context, number int) (relay.Delivery, error) {
	return d.switchOne(ctx, relay.CommandOn, number)
}

// TurnOff commands one relay off.
func (d *Dispatcher) TurnOff(ctx context.Context, number int) (relay.Delivery, error) {
	return d.switchOne(ctx, relay.CommandOff, number)
}

// TurnOnAll commands several relays on.
func (d *Dispatcher) TurnOnAll(ctx context.Context, numbers []int) (relay.Delivery, error) {
	return d.switchAll(ctx, relay.CommandOn, numbers)
}

// TurnOffAll commands several relays off.
func (d *Dispatcher) TurnOffAll(ctx context.Context, numbers []int) (relay.Delivery, error) {
	return d.switchAll(ctx, relay.CommandOff, numbers)
}

// Switch sends cmd to one relay.
func (d *Dispatcher) Switch(ctx context.Context, cmd relay.Command, number int) (relay.Delivery, error) {
	return d.switchOne(ctx, cmd, number)
}

// SwitchAll sends cmd to several relays.
func (d *Dispatcher) SwitchAll(ctx context.Context, cmd relay.Command, numbers []int) (relay.Delivery, error) {
	return d.switchAll(ctx, cmd, numbers)
}

func (d *Dispatcher) switchOne(ctx context.Context, cmd relay.Command, number int) (relay.Delivery, error) {
	pins, err := d.Pins([]int{number})
	if err != nil {
		return relay.DeliveryNotDelivered, err
	}
	return d.send(ctx, cmd, "single", pins)
}

func (d *Dispatcher) switchAll(ctx context.Context, cmd relay.Command, numbers []int) (relay.Delivery, error) {
	if len(numbers) == 0 {
		return relay.DeliveryDelivered, nil
	}

	if !d.cfg.BatchCommands {
		return relay.SwitchEach(ctx, numbers, func(ctx context.Context, n int) (relay.Delivery, error) {
			return d.switchOne(ctx, cmd, n)
		})
	}

	pins, err := d.Pins(numbers)
	if err != nil {
		return relay.DeliveryNotDelivered, err
	}
	return d.send(ctx, cmd, "batch", pins)
}

// send encodes and transmits one payload. The registry lock is not held.
func (d *Dispatcher) send(ctx context.Context, cmd relay.Command, mode string, pins []int) (relay.Delivery, error) {
	payload, err := EncodeCommand(cmd, pins...)
	if err != nil {
		return relay.DeliveryNotDelivered, err
	}
	if limit := d.transport.MaxPayload(); len(payload) > limit {
		d.record(cmd, mode, payload, metrics.OutcomeError, 0)
		return relay.DeliveryNotDelivered, fmt.Errorf("%w: %d bytes, limit %d", relay.ErrPayloadTooLarge, len(payload), limit)
	}

	start := time.Now()
	status, err := d.transport.SendData(ctx, d.cfg.Remote, payload)
	elapsed := time.Since(start)
	metrics.CommandDuration.Observe(elapsed.Seconds())

	switch {
	case err == nil && status.Delivered():
		d.record(cmd, mode, payload, metrics.OutcomeDelivered, elapsed)
		d.logger.Debug("command delivered", "payload", string(payload), "retries", status.Retries)
		return relay.DeliveryDelivered, nil

	case err == nil:
		d.record(cmd, mode, payload, metrics.OutcomeNotDelivered, elapsed)
		d.logger.Warn("command not delivered", "payload", string(payload), "status", status.Delivery.String())
		return relay.DeliveryNotDelivered, nil

	case errors.Is(err, xbee.ErrTimeout),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		d.record(cmd, mode, payload, metrics.OutcomeNotDelivered, elapsed)
		d.logger.Warn("command not acknowledged", "payload", string(payload), "error", err)
		return relay.DeliveryNotDelivered, nil

	case errors.Is(err, xbee.ErrPayloadTooLarge):
		d.record(cmd, mode, payload, metrics.OutcomeError, elapsed)
		return relay.DeliveryNotDelivered, fmt.Errorf("%w: %w", relay.ErrPayloadTooLarge, err)

	default:
		d.record(cmd, mode, payload, metrics.OutcomeError, elapsed)
		d.logger.Error("command send failed", "payload", string(payload), "error", err)
		return relay.DeliveryNotDelivered, fmt.Errorf("%w: %w", relay.ErrTransport, err)
	}
}

func (d *Dispatcher) record(cmd relay.Command, mode string, payload []byte, outcome string, elapsed time.Duration) {
	metrics.CommandsTotal.WithLabelValues(cmd.String(), mode, outcome).Inc()
	if d.onCommand != nil {
		d.onCommand(CommandRecord{
			Command: cmd,
			Mode:    mode,
			Payload: string(payload),
			Outcome: outcome,
			Elapsed: elapsed,
			Time:    time.Now(),
		})
	}
}

// Sync returns relay.SyncPush: relay state only arrives in IO samples.
func (d *Dispatcher) Sync() relay.SyncMode {
	return relay.SyncPush
}

// RefreshStatus always fails with relay.ErrUnsupported. Use CachedStatus.
func (d *Dispatcher) RefreshStatus(_ context.Context, number int) (relay.Status, error) {
	return relay.StatusUninitialized, fmt.Errorf("%w: refresh relay %d", relay.ErrUnsupported, number)
}

// RefreshStatuses always fails with relay.ErrUnsupported.
func (d *Dispatcher) RefreshStatuses(_ context.Context, _ []int) (map[int]relay.Status, error) {
	return nil, fmt.Errorf("%w: refresh relays", relay.ErrUnsupported)
}

// HandleSample reconciles an IO sample from the relay board. Samples from
// any other radio are ignored.
func (d *Dispatcher) HandleSample(s xbee.IOSample) {
	if s.Source64 != d.cfg.Remote {
		metrics.SamplesTotal.WithLabelValues("ignored").Inc()
		d.logger.Debug("ignoring sample from unknown radio", "source", s.Source64.String())
		return
	}
	metrics.SamplesTotal.WithLabelValues("applied").Inc()

	changes := d.Reconcile(Levels(s))
	for _, ev := range changes {
		d.logger.Info("relay status changed",
			"number", ev.Relay.Number(),
			"channel", ev.Relay.Channel().String(),
			"status", ev.Relay.Status().String(),
			"previous", ev.Previous.String(),
		)
	}
}

// Levels maps a sample's digital lines to monitor channels. Lines that
// are not monitor channels are dropped.
func Levels(s xbee.IOSample) map[relay.MonitorChannel]bool {
	levels := make(map[relay.MonitorChannel]bool)
	for line, high := range s.DigitalLevels() {
		if ch := relay.MonitorChannel(line); ch.Valid() {
			levels[ch] = high
		}
	}
	return levels
}
