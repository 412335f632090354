package relaymqtt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/relay-core/internal/bridges/xbee"
	"github.com/nerrad567/relay-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/relay-core/internal/metrics"
	"github.com/nerrad567/relay-core/internal/relay"
)

// commandTimeout bounds one MQTT command, including every send of a
// sequential batch.
const commandTimeout = 30 * time.Second

// Bridge connects a relay manager to MQTT:
//   - commands on {prefix}/command/{number|batch} are executed and acked
//   - registry events are published as retained state on {prefix}/state/{number}
//   - service health is published on {prefix}/health
//
// Thread Safety: All methods are safe for concurrent use.
type Bridge struct {
	manager Manager
	mqtt    MQTTClient
	topics  mqtt.Topics
	qos     byte
	health  *HealthReporter

	done      chan struct{}
	wg        sync.WaitGroup
	stopOnce  sync.Once
	ctx       context.Context
	ctxCancel context.CancelFunc

	logger   Logger
	loggerMu sync.RWMutex

	now func() time.Time
}

// Manager is the relay controller driven by the bridge. *dispatch.Dispatcher
// implements it.
type Manager interface {
	relay.Manager
	Subscribe(l relay.Listener)
}

// MQTTClient is the subset of *mqtt.Client used by the bridge.
type MQTTClient interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	IsConnected() bool
}

// TransportHealth reports the state of the radio link. *xbee.Client
// implements it.
type TransportHealth interface {
	IsConnected() bool
	Stats() xbee.Stats
}

// Logger defines the logging interface used by the bridge.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Options holds the dependencies of a bridge.
type Options struct {
	Manager    Manager
	MQTTClient MQTTClient

	// Topics defaults to the "relay" prefix.
	Topics mqtt.Topics

	// QoS for acks, state and health. Default: 1.
	QoS byte

	// Transport is optional; without it health ignores the radio link.
	Transport TransportHealth
	Remote    xbee.Address64

	Version        string
	HealthInterval time.Duration

	Logger Logger
}

// NewBridge creates a bridge. Call Start to begin operation.
func NewBridge(opts Options) (*Bridge, error) {
	if opts.Manager == nil {
		return nil, errors.New("relay manager is required")
	}
	if opts.MQTTClient == nil {
		return nil, errors.New("MQTT client is required")
	}

	qos := opts.QoS
	if qos == 0 {
		qos = 1
	}

	ctx, cancel := context.WithCancel(context.Background())

	b := &Bridge{
		manager:   opts.Manager,
		mqtt:      opts.MQTTClient,
		topics:    opts.Topics,
		qos:       qos,
		done:      make(chan struct{}),
		ctx:       ctx,
		ctxCancel: cancel,
		logger:    opts.Logger,
		now:       time.Now,
	}

	b.health = NewHealthReporter(HealthReporterConfig{
		Version:   opts.Version,
		Interval:  opts.HealthInterval,
		Publisher: opts.MQTTClient,
		Topic:     opts.Topics.Health(),
		QoS:       qos,
		Transport: opts.Transport,
		Remote:    opts.Remote,
		Relays:    opts.Manager.Count,
	})
	if opts.Logger != nil {
		b.health.SetLogger(opts.Logger)
	}

	return b, nil
}

// Start subscribes to command topics, publishes the current state of every
// relay and starts health reporting.
func (b *Bridge) Start(ctx context.Context) error {
	if err := b.health.PublishStarting(); err != nil {
		b.logError("failed to publish starting status", err)
	}

	b.manager.Subscribe(b.handleEvent)

	topic := b.topics.AllCommands()
	if err := b.mqtt.Subscribe(topic, b.qos, b.handleCommand); err != nil {
		return fmt.Errorf("subscribe to commands: %w", err)
	}
	b.logInfo("subscribed to commands", "topic", topic)

	b.PublishAllStates()

	b.health.Start(ctx)

	b.logInfo("bridge started", "relays", b.manager.Count())
	return nil
}

// Stop cancels in-flight commands, waits for them and publishes a final
// stopping status. Events after Stop are not published.
func (b *Bridge) Stop() {
	b.stopOnce.Do(func() {
		close(b.done)
		b.ctxCancel()
		b.health.Stop()
		b.wg.Wait()
		b.logInfo("bridge stopped")
	})
}

func (b *Bridge) stopped() bool {
	select {
	case <-b.done:
		return true
	default:
		return false
	}
}

// PublishAllStates publishes the retained state of every registered relay.
func (b *Bridge) PublishAllStates() {
	at := b.now()
	for _, r := range b.manager.List() {
		b.publishState(r, at)
	}
}

// handleEvent mirrors registry events onto retained state topics. A removed
// relay has its retained message cleared.
func (b *Bridge) handleEvent(ev relay.Event) {
	if b.stopped() {
		return
	}

	switch ev.Kind {
	case relay.EventAdded, relay.EventUpdated, relay.EventStatus:
		b.publishState(ev.Relay, ev.Time)
	case relay.EventRemoved:
		topic := b.topics.State(ev.Relay.Number())
		if err := b.mqtt.Publish(topic, nil, b.qos, true); err != nil {
			b.logError("failed to clear state", err)
		}
	}
}

func (b *Bridge) publishState(r relay.Relay, at time.Time) {
	payload, err := json.Marshal(NewStateMessage(r, at))
	if err != nil {
		b.logError("failed to marshal state", err)
		return
	}
	if err := b.mqtt.Publish(b.topics.State(r.Number()), payload, b.qos, true); err != nil {
		b.logError("failed to publish state", err)
	}
}

// handleCommand parses a command and executes it in the background. The
// MQTT callback returns as soon as the command is accepted.
func (b *Bridge) handleCommand(topic string, payload []byte) error {
	target, ok := b.topics.CommandTarget(topic)
	if !ok {
		return fmt.Errorf("not a command topic: %s", topic)
	}

	var msg CommandMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		b.publishAck(b.failedAck(msg, target, ErrCodeInvalidPayload, err.Error()))
		return fmt.Errorf("parse command: %w", err)
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}

	cmd, err := relay.ParseCommand(msg.Command)
	if err != nil {
		b.publishAck(b.failedAck(msg, target, ErrCodeInvalidCommand, err.Error()))
		return err
	}

	numbers, err := commandNumbers(target, msg)
	if err != nil {
		b.publishAck(b.failedAck(msg, target, ErrCodeInvalidPayload, err.Error()))
		return err
	}

	if b.stopped() {
		return errors.New("bridge stopped")
	}

	b.logInfo("received command",
		"command_id", msg.ID,
		"target", target,
		"command", cmd.String(),
		"source", msg.Source)

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		b.executeCommand(msg, target, cmd, numbers)
	}()
	return nil
}

// commandNumbers resolves the relays addressed by a command. A single
// relay topic ignores msg.Numbers.
func commandNumbers(target string, msg CommandMessage) ([]int, error) {
	if target == mqtt.BatchTarget {
		if len(msg.Numbers) == 0 {
			return nil, errors.New("batch command has no numbers")
		}
		return msg.Numbers, nil
	}
	n, err := strconv.Atoi(target)
	if err != nil {
		return nil, fmt.Errorf("invalid relay number %q", target)
	}
	return []int{n}, nil
}

func (b *Bridge) executeCommand(msg CommandMessage, target string, cmd relay.Command, numbers []int) {
	ctx, cancel := context.WithTimeout(b.ctx, commandTimeout)
	defer cancel()

	var (
		delivery relay.Delivery
		err      error
	)
	if target == mqtt.BatchTarget {
		delivery, err = b.manager.SwitchAll(ctx, cmd, numbers)
	} else {
		delivery, err = b.manager.Switch(ctx, cmd, numbers[0])
	}

	ack := AckMessage{
		CommandID: msg.ID,
		Timestamp: b.now().UTC(),
		Target:    target,
		Command:   cmd.String(),
		Numbers:   numbers,
		Delivery:  delivery.String(),
	}
	switch {
	case err != nil:
		ack.Status = AckFailed
		ack.Error = &AckError{Code: errorCode(err), Message: err.Error()}
		b.logError("command failed", err)
	case delivery == relay.DeliveryDelivered:
		ack.Status = AckDelivered
	default:
		ack.Status = AckNotDelivered
		ack.Error = &AckError{Code: ErrCodeNotDelivered, Message: relay.ErrNotDelivered.Error()}
	}
	b.publishAck(ack)
}

func (b *Bridge) failedAck(msg CommandMessage, target, code, message string) AckMessage {
	return AckMessage{
		CommandID: msg.ID,
		Timestamp: b.now().UTC(),
		Target:    target,
		Command:   msg.Command,
		Numbers:   msg.Numbers,
		Status:    AckFailed,
		Delivery:  relay.DeliveryNotDelivered.String(),
		Error:     &AckError{Code: code, Message: message},
	}
}

func (b *Bridge) publishAck(ack AckMessage) {
	metrics.MQTTCommandsTotal.WithLabelValues(string(ack.Status)).Inc()

	payload, err := json.Marshal(ack)
	if err != nil {
		b.logError("failed to marshal ack", err)
		return
	}
	if err := b.mqtt.Publish(b.topics.Ack(ack.Target), payload, b.qos, false); err != nil {
		b.logError("failed to publish ack", err)
	}
}

// PublishHealth publishes the current health status immediately.
func (b *Bridge) PublishHealth() error {
	return b.health.PublishNow()
}

// SetLogger sets the logger for the bridge and its health reporter.
func (b *Bridge) SetLogger(logger Logger) {
	b.loggerMu.Lock()
	b.logger = logger
	b.loggerMu.Unlock()

	b.health.SetLogger(logger)
}

func (b *Bridge) getLogger() Logger {
	b.loggerMu.RLock()
	defer b.loggerMu.RUnlock()
	return b.logger
}

func (b *Bridge) logInfo(msg string, keysAndValues ...any) {
	if logger := b.getLogger(); logger != nil {
		logger.Info(msg, keysAndValues...)
	}
}

func (b *Bridge) logError(msg string, err error) {
	if logger := b.getLogger(); logger != nil {
		logger.Error(msg, "error", err)
	}
}
