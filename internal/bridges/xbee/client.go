package xbee

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"sync"
	"sync/atomic"
	"time"
)

// closeOnce wraps a channel with sync.Once to prevent double-close panics.
type closeOnce struct {
	ch   chan struct{}
	once sync.Once
}

func newCloseOnce() *closeOnce {
	return &closeOnce{ch: make(chan struct{})}
}

func (c *closeOnce) Close() {
	c.once.Do(func() { close(c.ch) })
}

func (c *closeOnce) Done() <-chan struct{} {
	return c.ch
}

// Default timeouts and limits for the local radio link.
const (
	// DefaultSendTimeout is how long SendData waits for a transmit status.
	DefaultSendTimeout = 10 * time.Second

	// DefaultMaxPayload is the RF payload limit of a ZigBee unicast
	// without fragmentation or encryption.
	DefaultMaxPayload = 72

	defaultConnectTimeout    = 10 * time.Second
	defaultWriteTimeout      = 5 * time.Second
	defaultReconnectInterval = 5 * time.Second
	maxReconnectInterval     = 2 * time.Minute

	// sampleQueueSize is the buffer size for the IO sample callback queue.
	sampleQueueSize = 100
)

// Config holds the local radio connection settings.
type Config struct {
	// Connection is the URL of the serial bridge exposing the radio.
	// Supported formats:
	//   - "tcp://localhost:2000" (ser2net or similar)
	//   - "unix:///run/xbee.sock"
	Connection string

	// Escaped selects API mode 2. The radio's AP setting must match.
	Escaped bool

	// SendTimeout bounds the wait for a transmit status. Default: 10 seconds.
	SendTimeout time.Duration

	// ConnectTimeout bounds each dial. Default: 10 seconds.
	ConnectTimeout time.Duration

	// ReconnectInterval is the initial delay between reconnection attempts.
	// Default: 5 seconds.
	ReconnectInterval time.Duration

	// MaxPayload is the largest RF payload SendData accepts. Default: 72.
	MaxPayload int
}

func (cfg *Config) applyDefaults() {
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = DefaultSendTimeout
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = defaultConnectTimeout
	}
	if cfg.ReconnectInterval <= 0 {
		cfg.ReconnectInterval = defaultReconnectInterval
	}
	if cfg.MaxPayload <= 0 {
		cfg.MaxPayload = DefaultMaxPayload
	}
}

// Stats holds operational statistics.
type Stats struct {
	FramesTx        uint64
	FramesRx        uint64
	SamplesRx       uint64
	SamplesDropped  uint64 // Samples dropped due to full callback queue
	DeliveryFailed  uint64 // Transmit statuses reporting a failure
	Timeouts        uint64
	ErrorsTotal     uint64
	ReconnectsTotal uint64
	Pending         int
	LastActivity    time.Time
	Connected       bool
	Reconnecting    bool
}

// Logger interface for optional logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// Connector is the radio link as seen by the command dispatcher.
type Connector interface {
	SendData(ctx context.Context, dest Address64, payload []byte) (TxStatus, error)
	MaxPayload() int
	SetOnSample(callback func(IOSample))
	IsConnected() bool
	Stats() Stats
	Close() error
}

var _ Connector = (*Client)(nil)

type txResult struct {
	status TxStatus
	err    error
}

// Client talks to a local XBee radio in API mode.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
//   - IO samples are delivered to the callback one at a time, in arrival order.
//
// Auto-Reconnection:
//   - Clients created with Connect redial with exponential backoff when the
//     link drops, until Close is called.
//   - Clients created with NewClient stop at the first read error.
type Client struct {
	cfg  Config
	dial func(ctx context.Context) (io.ReadWriteCloser, error)

	connMu    sync.RWMutex
	conn      io.ReadWriteCloser
	connected bool
	writeMu   sync.Mutex

	reconnecting atomic.Bool

	// Frame ID allocation and status waiters
	pendingMu sync.Mutex
	pending   map[uint8]chan txResult
	lastID    uint8

	// 16-bit network addresses learned from transmit statuses
	addrMu sync.RWMutex
	dest16 map[Address64]uint16

	onSample    func(IOSample)
	callbackMu  sync.RWMutex
	sampleQueue chan IOSample

	done *closeOnce
	wg   sync.WaitGroup

	logger   Logger
	loggerMu sync.RWMutex

	framesTx        atomic.Uint64
	framesRx        atomic.Uint64
	samplesRx       atomic.Uint64
	samplesDropped  atomic.Uint64
	deliveryFailed  atomic.Uint64
	timeouts        atomic.Uint64
	errorsTotal     atomic.Uint64
	reconnectsTotal atomic.Uint64
	lastActivity    atomic.Int64
}

// Connect dials the radio and starts the receive loop.
//
// Parameters:
//   - ctx: bounds the initial dial only; reconnections use ConnectTimeout
//   - cfg: connection URL (tcp:// or unix://), API mode and timeouts
//
// Returns:
//   - *Client: connected client; it reconnects on its own after link loss
//   - error: wraps ErrConnectionFailed if the first dial fails
func Connect(ctx context.Context, cfg Config) (*Client, error) {
	cfg.applyDefaults()

	network, address, err := parseConnectionURL(cfg.Connection)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	dial := func(ctx context.Context) (io.ReadWriteCloser, error) {
		ctx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
		defer cancel()

		var dialer net.Dialer
		conn, err := dialer.DialContext(ctx, network, address)
		if err != nil {
			return nil, fmt.Errorf("dial %s://%s: %w", network, address, err)
		}
		return conn, nil
	}

	conn, err := dial(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	c := newClient(conn, cfg)
	c.dial = dial
	c.start(conn)
	return c, nil
}

// NewClient wraps an already open link, such as a serial port. The client
// owns conn and closes it on Close. It does not reconnect.
func NewClient(conn io.ReadWriteCloser, cfg Config) *Client {
	cfg.applyDefaults()
	c := newClient(conn, cfg)
	c.start(conn)
	return c
}

func newClient(conn io.ReadWriteCloser, cfg Config) *Client {
	c := &Client{
		cfg:         cfg,
		conn:        conn,
		connected:   true,
		pending:     make(map[uint8]chan txResult),
		dest16:      make(map[Address64]uint16),
		sampleQueue: make(chan IOSample, sampleQueueSize),
		done:        newCloseOnce(),
	}
	c.lastActivity.Store(time.Now().Unix())
	return c
}

func (c *Client) start(conn io.ReadWriteCloser) {
	// A single worker keeps samples in order.
	c.wg.Add(2)
	go c.sampleWorker()
	go c.receiveLoop(conn)
}

// parseConnectionURL parses a connection URL into network and address.
func parseConnectionURL(connURL string) (network, address string, err error) {
	u, err := url.Parse(connURL)
	if err != nil {
		return "", "", fmt.Errorf("invalid URL: %w", err)
	}

	switch u.Scheme {
	case "unix":
		if u.Path == "" {
			return "", "", fmt.Errorf("unix URL %q has no path", connURL)
		}
		return "unix", u.Path, nil
	case "tcp":
		host := u.Host
		if host == "" {
			host = "localhost:2000"
		}
		return "tcp", host, nil
	default:
		return "", "", fmt.Errorf("unsupported scheme %q (use tcp or unix)", u.Scheme)
	}
}

// receiveLoop reads frames until the client closes. On link loss it fails
// every pending send and, if it can dial, reconnects.
func (c *Client) receiveLoop(conn io.ReadWriteCloser) {
	defer c.wg.Done()

	reader := NewFrameReader(conn, c.cfg.Escaped)
	for {
		data, err := reader.ReadFrame()
		if err == nil {
			c.handleFrame(data)
			continue
		}

		if isFrameError(err) {
			c.errorsTotal.Add(1)
			c.logWarn("discarding frame", "error", err)
			continue
		}

		if c.isClosed() {
			return
		}

		c.errorsTotal.Add(1)
		c.logError("read failed", err)
		c.handleDisconnect()

		if c.dial == nil {
			return
		}
		next, ok := c.reconnect()
		if !ok {
			return
		}
		reader = NewFrameReader(next, c.cfg.Escaped)
	}
}

func isFrameError(err error) bool {
	return errors.Is(err, ErrChecksum) ||
		errors.Is(err, ErrInvalidFrame) ||
		errors.Is(err, ErrFrameTooLarge)
}

// handleFrame dispatches one received frame by type.
func (c *Client) handleFrame(data []byte) {
	c.framesRx.Add(1)
	c.lastActivity.Store(time.Now().Unix())

	switch data[0] {
	case FrameTxStatus:
		status, err := ParseTxStatus(data)
		if err != nil {
			c.errorsTotal.Add(1)
			c.logWarn("bad transmit status", "error", err)
			return
		}
		c.completePending(status.FrameID, txResult{status: status})

	case FrameIOSample:
		sample, err := ParseIOSample(data)
		if err != nil {
			c.errorsTotal.Add(1)
			c.logWarn("bad io sample", "error", err)
			return
		}
		c.samplesRx.Add(1)
		c.queueSample(sample)

	case FrameRxPacket:
		// The board only reports state through IO samples; serial data it
		// sends back (boot banners, echoes) carries nothing to apply.
		c.logDebug("ignoring rf data", "bytes", len(data)-1)

	case FrameModemStatus:
		if len(data) >= 2 {
			c.logInfo("modem status", "status", ModemStatus(data[1]).String())
		}

	default:
		c.logDebug("ignoring frame", "type", fmt.Sprintf("0x%02X", data[0]))
	}
}

// queueSample hands a sample to the worker, dropping it if the queue is full.
func (c *Client) queueSample(s IOSample) {
	c.callbackMu.RLock()
	hasCallback := c.onSample != nil
	c.callbackMu.RUnlock()

	if !hasCallback {
		return
	}

	select {
	case c.sampleQueue <- s:
	default:
		c.samplesDropped.Add(1)
		c.errorsTotal.Add(1)
		c.logWarn("sample queue full, dropping sample", "source", s.Source64.String())
	}
}

func (c *Client) sampleWorker() {
	defer c.wg.Done()

	for {
		select {
		case <-c.done.Done():
			c.drainSampleQueue()
			return
		case s := <-c.sampleQueue:
			c.callbackMu.RLock()
			callback := c.onSample
			c.callbackMu.RUnlock()

			if callback != nil {
				func() {
					defer func() {
						if r := recover(); r != nil {
							c.logError("sample callback panic", fmt.Errorf("%v", r))
						}
					}()
					callback(s)
				}()
			}
		}
	}
}

func (c *Client) drainSampleQueue() {
	for {
		select {
		case <-c.sampleQueue:
		default:
			return
		}
	}
}

func (c *Client) handleDisconnect() {
	c.connMu.Lock()
	wasConnected := c.connected
	c.connected = false
	c.connMu.Unlock()

	c.failPending(ErrNotConnected)

	if wasConnected {
		c.logInfo("connection lost")
	}
}

// reconnect redials with exponential backoff. It returns false if the
// client was closed first.
func (c *Client) reconnect() (io.ReadWriteCloser, bool) {
	c.reconnecting.Store(true)
	defer c.reconnecting.Store(false)

	backoff := c.cfg.ReconnectInterval
	for attempt := 1; ; attempt++ {
		if c.isClosed() {
			return nil, false
		}

		c.closeConn()

		c.logInfo("attempting reconnection", "attempt", attempt, "backoff", backoff.String())
		conn, err := c.dial(context.Background())
		if err == nil {
			c.connMu.Lock()
			if c.isClosed() {
				c.connMu.Unlock()
				conn.Close()
				return nil, false
			}
			c.conn = conn
			c.connected = true
			c.connMu.Unlock()

			c.reconnectsTotal.Add(1)
			c.lastActivity.Store(time.Now().Unix())
			c.logInfo("reconnection successful", "total_reconnects", c.reconnectsTotal.Load())
			return conn, true
		}

		c.errorsTotal.Add(1)
		c.logError("reconnect failed", err)

		select {
		case <-c.done.Done():
			return nil, false
		case <-time.After(backoff):
		}

		backoff = time.Duration(float64(backoff) * 1.5)
		if backoff > maxReconnectInterval {
			backoff = maxReconnectInterval
		}
	}
}

func (c *Client) closeConn() {
	c.connMu.Lock()
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.connMu.Unlock()
}

func (c *Client) isClosed() bool {
	select {
	case <-c.done.Done():
		return true
	default:
		return false
	}
}

// Close stops the receive loop and closes the link. Pending sends fail
// with ErrClosed. Safe to call multiple times.
func (c *Client) Close() error {
	c.done.Close()

	c.connMu.Lock()
	c.connected = false
	c.connMu.Unlock()

	// Closing the link unblocks the pending read.
	c.closeConn()
	c.failPending(ErrClosed)

	c.wg.Wait()

	c.logInfo("connection closed")
	return nil
}

// SendData transmits payload to dest and waits for the radio's transmit status.
//
// The returned status reports whether the destination acknowledged the
// packet. An error means no status was received: ErrTimeout when none came
// within SendTimeout or before ctx ended, ErrWriteFailed when the frame
// could not be written, ErrNotConnected or ErrClosed when the link is down.
func (c *Client) SendData(ctx context.Context, dest Address64, payload []byte) (TxStatus, error) {
	if c.isClosed() {
		return TxStatus{}, ErrClosed
	}
	if len(payload) > c.cfg.MaxPayload {
		return TxStatus{}, fmt.Errorf("%w: %d bytes, limit %d", ErrPayloadTooLarge, len(payload), c.cfg.MaxPayload)
	}
	if !c.IsConnected() {
		return TxStatus{}, ErrNotConnected
	}

	id, ch, err := c.allocFrameID()
	if err != nil {
		return TxStatus{}, err
	}
	defer c.releaseFrameID(id)

	req := TxRequest{
		FrameID: id,
		Dest64:  dest,
		Dest16:  c.cachedDest16(dest),
		Data:    payload,
	}
	if err := c.writeFrame(ctx, EncodeFrame(req.Encode(), c.cfg.Escaped)); err != nil {
		return TxStatus{}, err
	}

	timer := time.NewTimer(c.cfg.SendTimeout)
	defer timer.Stop()

	select {
	case res := <-ch:
		if res.err != nil {
			return TxStatus{}, res.err
		}
		c.learnDest16(dest, res.status)
		if !res.status.Delivered() {
			c.deliveryFailed.Add(1)
		}
		return res.status, nil
	case <-timer.C:
		c.timeouts.Add(1)
		c.forgetDest16(dest)
		return TxStatus{}, fmt.Errorf("%w after %s", ErrTimeout, c.cfg.SendTimeout)
	case <-ctx.Done():
		c.timeouts.Add(1)
		return TxStatus{}, fmt.Errorf("%w: %w", ErrTimeout, ctx.Err())
	}
}

func (c *Client) writeFrame(ctx context.Context, frame []byte) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrWriteFailed, err)
	}

	c.connMu.RLock()
	conn := c.conn
	c.connMu.RUnlock()
	if conn == nil {
		return ErrNotConnected
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if dc, ok := conn.(interface{ SetWriteDeadline(time.Time) error }); ok {
		deadline := time.Now().Add(defaultWriteTimeout)
		if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
			deadline = d
		}
		if err := dc.SetWriteDeadline(deadline); err != nil {
			return fmt.Errorf("%w: set deadline: %w", ErrWriteFailed, err)
		}
	}

	if _, err := conn.Write(frame); err != nil {
		c.errorsTotal.Add(1)
		return fmt.Errorf("%w: %w", ErrWriteFailed, err)
	}

	c.framesTx.Add(1)
	c.lastActivity.Store(time.Now().Unix())
	return nil
}

// allocFrameID reserves the next free frame ID. Zero is never used because
// it tells the radio not to send a status.
func (c *Client) allocFrameID() (uint8, chan txResult, error) {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()

	for range 255 {
		c.lastID++
		if c.lastID == 0 {
			c.lastID = 1
		}
		if _, busy := c.pending[c.lastID]; !busy {
			ch := make(chan txResult, 1)
			c.pending[c.lastID] = ch
			return c.lastID, ch, nil
		}
	}
	return 0, nil, ErrBusy
}

func (c *Client) releaseFrameID(id uint8) {
	c.pendingMu.Lock()
	delete(c.pending, id)
	c.pendingMu.Unlock()
}

// completePending hands res to the sender waiting on id. Statuses for
// unknown or already completed IDs are ignored.
func (c *Client) completePending(id uint8, res txResult) {
	c.pendingMu.Lock()
	ch, ok := c.pending[id]
	if ok {
		delete(c.pending, id)
	}
	c.pendingMu.Unlock()

	if !ok {
		c.logDebug("transmit status for unknown frame", "frame_id", id)
		return
	}
	ch <- res
}

func (c *Client) failPending(err error) {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()

	for id, ch := range c.pending {
		ch <- txResult{err: err}
		delete(c.pending, id)
	}
}

func (c *Client) cachedDest16(dest Address64) uint16 {
	c.addrMu.RLock()
	defer c.addrMu.RUnlock()

	if addr, ok := c.dest16[dest]; ok {
		return addr
	}
	return Unknown16
}

// learnDest16 caches the network address after a delivery and drops it
// after a failure, since the node may have rejoined under a new one.
func (c *Client) learnDest16(dest Address64, status TxStatus) {
	if !status.Delivered() || status.Dest16 == Unknown16 {
		c.forgetDest16(dest)
		return
	}
	c.addrMu.Lock()
	c.dest16[dest] = status.Dest16
	c.addrMu.Unlock()
}

func (c *Client) forgetDest16(dest Address64) {
	c.addrMu.Lock()
	delete(c.dest16, dest)
	c.addrMu.Unlock()
}

// MaxPayload returns the largest payload SendData accepts.
func (c *Client) MaxPayload() int {
	return c.cfg.MaxPayload
}

// SetOnSample sets the callback for received IO samples.
//
// Samples are delivered on a single goroutine in arrival order.
// Panics in the callback are recovered and logged.
func (c *Client) SetOnSample(callback func(IOSample)) {
	c.callbackMu.Lock()
	c.onSample = callback
	c.callbackMu.Unlock()
}

// SetLogger sets the logger for this client.
func (c *Client) SetLogger(logger Logger) {
	c.loggerMu.Lock()
	c.logger = logger
	c.loggerMu.Unlock()
}

// IsConnected returns true if the link to the radio is up.
func (c *Client) IsConnected() bool {
	c.connMu.RLock()
	defer c.connMu.RUnlock()
	return c.connected
}

// HealthCheck reports ErrNotConnected while the link is down.
func (c *Client) HealthCheck(_ context.Context) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}
	return nil
}

// Stats returns current operational statistics.
func (c *Client) Stats() Stats {
	c.pendingMu.Lock()
	pending := len(c.pending)
	c.pendingMu.Unlock()

	return Stats{
		FramesTx:        c.framesTx.Load(),
		FramesRx:        c.framesRx.Load(),
		SamplesRx:       c.samplesRx.Load(),
		SamplesDropped:  c.samplesDropped.Load(),
		DeliveryFailed:  c.deliveryFailed.Load(),
		Timeouts:        c.timeouts.Load(),
		ErrorsTotal:     c.errorsTotal.Load(),
		ReconnectsTotal: c.reconnectsTotal.Load(),
		Pending:         pending,
		LastActivity:    time.Unix(c.lastActivity.Load(), 0),
		Connected:       c.IsConnected(),
		Reconnecting:    c.reconnecting.Load(),
	}
}

func (c *Client) getLogger() Logger {
	c.loggerMu.RLock()
	defer c.loggerMu.RUnlock()
	return c.logger
}

func (c *Client) logDebug(msg string, keysAndValues ...any) {
	if l := c.getLogger(); l != nil {
		l.Debug(msg, keysAndValues...)
	}
}

func (c *Client) logInfo(msg string, keysAndValues ...any) {
	if l := c.getLogger(); l != nil {
		l.Info(msg, keysAndValues...)
	}
}

func (c *Client) logWarn(msg string, keysAndValues ...any) {
	if l := c.getLogger(); l != nil {
		l.Warn(msg, keysAndValues...)
	}
}

func (c *Client) logError(msg string, err error) {
	if l := c.getLogger(); l != nil {
		l.Error(msg, "error", err)
	}
}
