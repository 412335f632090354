package xbee

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"net"
	"testing"
	"time"
)

var testRemote = Address64{0x00, 0x13, 0xA2, 0x00, 0x40, 0x3D, 0xB1, 0x5B}

// fakeRadio is the local radio end of a pipe.
type fakeRadio struct {
	t      *testing.T
	conn   net.Conn
	frames *FrameReader
}

func newTestClient(t *testing.T, cfg Config) (*Client, *fakeRadio) {
	t.Helper()
	clientEnd, radioEnd := net.Pipe()

	c := NewClient(clientEnd, cfg)
	t.Cleanup(func() {
		c.Close()        //nolint:errcheck // Test cleanup
		radioEnd.Close() //nolint:errcheck // Test cleanup
	})

	return c, &fakeRadio{t: t, conn: radioEnd, frames: NewFrameReader(radioEnd, cfg.Escaped)}
}

// readRequest reads the next frame and checks it is a transmit request.
func (r *fakeRadio) readRequest() TxRequest {
	r.t.Helper()
	data, err := r.frames.ReadFrame()
	if err != nil {
		r.t.Errorf("radio: read frame: %v", err)
		return TxRequest{}
	}
	if data[0] != FrameTxRequest || len(data) < txRequestHeader {
		r.t.Errorf("radio: unexpected frame % X", data)
		return TxRequest{}
	}
	req := TxRequest{
		FrameID: data[1],
		Dest16:  binary.BigEndian.Uint16(data[10:12]),
		Radius:  data[12],
		Options: data[13],
		Data:    data[14:],
	}
	copy(req.Dest64[:], data[2:10])
	return req
}

func (r *fakeRadio) send(data []byte, escaped bool) {
	r.t.Helper()
	if _, err := r.conn.Write(EncodeFrame(data, escaped)); err != nil {
		r.t.Errorf("radio: write: %v", err)
	}
}

func (r *fakeRadio) replyStatus(frameID uint8, dest16 uint16, delivery DeliveryStatus, escaped bool) {
	status := []byte{FrameTxStatus, frameID, byte(dest16 >> 8), byte(dest16), 0x00, byte(delivery), 0x00}
	r.send(status, escaped)
}

func TestParseConnectionURL(t *testing.T) {
	tests := []struct {
		name        string
		url         string
		wantNetwork string
		wantAddress string
		wantErr     bool
	}{
		{"tcp", "tcp://192.168.1.50:2000", "tcp", "192.168.1.50:2000", false},
		{"tcp default host", "tcp://", "tcp", "localhost:2000", false},
		{"unix", "unix:///run/xbee.sock", "unix", "/run/xbee.sock", false},
		{"unix without path", "unix://", "", "", true},
		{"serial scheme", "serial:///dev/ttyUSB0", "", "", true},
		{"invalid", "://bad", "", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			network, address, err := parseConnectionURL(tt.url)
			if tt.wantErr {
				if err == nil {
					t.Error("parseConnectionURL() expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("parseConnectionURL() error = %v", err)
			}
			if network != tt.wantNetwork || address != tt.wantAddress {
				t.Errorf("parseConnectionURL() = %q, %q; want %q, %q", network, address, tt.wantNetwork, tt.wantAddress)
			}
		})
	}
}

func TestClient_SendDataDelivered(t *testing.T) {
	for _, escaped := range []bool{false, true} {
		c, radio := newTestClient(t, Config{Escaped: escaped, SendTimeout: time.Second})

		go func() {
			req := radio.readRequest()
			if req.Dest64 != testRemote || req.Dest16 != Unknown16 || string(req.Data) != "CMD RON07" {
				t.Errorf("request = %+v", req)
			}
			radio.replyStatus(req.FrameID, 0x7D84, DeliverySuccess, escaped)
		}()

		status, err := c.SendData(context.Background(), testRemote, []byte("CMD RON07"))
		if err != nil {
			t.Fatalf("escaped=%v: SendData() error = %v", escaped, err)
		}
		if !status.Delivered() || status.Dest16 != 0x7D84 {
			t.Errorf("escaped=%v: status = %+v", escaped, status)
		}

		stats := c.Stats()
		if stats.FramesTx != 1 || stats.FramesRx != 1 || stats.Pending != 0 {
			t.Errorf("escaped=%v: stats = %+v", escaped, stats)
		}
	}
}

func TestClient_Dest16Cache(t *testing.T) {
	c, radio := newTestClient(t, Config{SendTimeout: time.Second})

	seen := make(chan uint16, 3)
	go func() {
		for _, delivery := range []DeliveryStatus{DeliverySuccess, DeliveryNetworkAckFailure, DeliverySuccess} {
			req := radio.readRequest()
			seen <- req.Dest16
			radio.replyStatus(req.FrameID, 0x1234, delivery, false)
		}
	}()

	ctx := context.Background()
	for i := range 3 {
		if _, err := c.SendData(ctx, testRemote, []byte{byte(i)}); err != nil {
			t.Fatalf("SendData() #%d error = %v", i, err)
		}
	}

	want := []uint16{Unknown16, 0x1234, Unknown16}
	for i, w := range want {
		if got := <-seen; got != w {
			t.Errorf("request %d Dest16 = 0x%04X, want 0x%04X", i, got, w)
		}
	}
}

func TestClient_SendDataFailedDelivery(t *testing.T) {
	c, radio := newTestClient(t, Config{SendTimeout: time.Second})

	go func() {
		req := radio.readRequest()
		radio.replyStatus(req.FrameID, Unknown16, DeliveryRouteNotFound, false)
	}()

	status, err := c.SendData(context.Background(), testRemote, []byte("CMD ROFF12"))
	if err != nil {
		t.Fatalf("SendData() error = %v", err)
	}
	if status.Delivered() || status.Delivery != DeliveryRouteNotFound {
		t.Errorf("status = %+v", status)
	}
	if c.Stats().DeliveryFailed != 1 {
		t.Errorf("DeliveryFailed = %d, want 1", c.Stats().DeliveryFailed)
	}
}

func TestClient_SendDataTimeout(t *testing.T) {
	c, radio := newTestClient(t, Config{SendTimeout: 50 * time.Millisecond})

	go radio.readRequest()

	_, err := c.SendData(context.Background(), testRemote, []byte("CMD RON01"))
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("SendData() error = %v, want ErrTimeout", err)
	}
	if c.Stats().Timeouts != 1 {
		t.Errorf("Timeouts = %d, want 1", c.Stats().Timeouts)
	}
}

func TestClient_SendDataContextEnds(t *testing.T) {
	c, radio := newTestClient(t, Config{SendTimeout: time.Minute})

	go radio.readRequest()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := c.SendData(ctx, testRemote, []byte("CMD RON01"))
	if !errors.Is(err, ErrTimeout) || !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("SendData() error = %v, want ErrTimeout wrapping DeadlineExceeded", err)
	}
}

func TestClient_PayloadTooLarge(t *testing.T) {
	c, _ := newTestClient(t, Config{MaxPayload: 8})

	if c.MaxPayload() != 8 {
		t.Errorf("MaxPayload() = %d, want 8", c.MaxPayload())
	}
	_, err := c.SendData(context.Background(), testRemote, []byte("CMD RON07"))
	if !errors.Is(err, ErrPayloadTooLarge) {
		t.Errorf("SendData() error = %v, want ErrPayloadTooLarge", err)
	}
	if c.Stats().FramesTx != 0 {
		t.Error("oversized payload must not be written")
	}
}

func TestClient_DefaultMaxPayload(t *testing.T) {
	c, _ := newTestClient(t, Config{})
	if c.MaxPayload() != DefaultMaxPayload {
		t.Errorf("MaxPayload() = %d, want %d", c.MaxPayload(), DefaultMaxPayload)
	}
}

func TestClient_DisconnectFailsPending(t *testing.T) {
	c, radio := newTestClient(t, Config{SendTimeout: time.Minute})

	go func() {
		radio.readRequest()
		radio.conn.Close()
	}()

	_, err := c.SendData(context.Background(), testRemote, []byte("CMD RON01"))
	if !errors.Is(err, ErrNotConnected) {
		t.Fatalf("SendData() error = %v, want ErrNotConnected", err)
	}

	deadline := time.Now().Add(time.Second)
	for c.IsConnected() && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if c.IsConnected() {
		t.Error("IsConnected() = true after link loss")
	}
	if _, err := c.SendData(context.Background(), testRemote, []byte("x")); !errors.Is(err, ErrNotConnected) {
		t.Errorf("SendData() after loss error = %v, want ErrNotConnected", err)
	}
}

func TestClient_Close(t *testing.T) {
	c, _ := newTestClient(t, Config{})

	if err := c.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := c.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
	if c.IsConnected() {
		t.Error("IsConnected() = true after Close")
	}
	if _, err := c.SendData(context.Background(), testRemote, []byte("x")); !errors.Is(err, ErrClosed) {
		t.Errorf("SendData() after Close error = %v, want ErrClosed", err)
	}
}

func TestClient_SamplesInOrder(t *testing.T) {
	c, radio := newTestClient(t, Config{Escaped: true})

	got := make(chan IOSample, 4)
	c.SetOnSample(func(s IOSample) { got <- s })

	for _, level := range []byte{0x04, 0x00, 0x04} {
		sample := []byte{FrameIOSample}
		sample = append(sample, testRemote[:]...)
		sample = append(sample, 0xFF, 0xFE, 0x01, 0x01, 0x00, 0x04, 0x00, 0x00, level)
		radio.send(sample, true)
	}
	// Modem status, RF data and unknown frames are not samples.
	radio.send([]byte{FrameModemStatus, 0x02}, true)
	radio.send([]byte{FrameRxPacket, 0x00}, true)
	radio.send([]byte{0x97, 0x01}, true)

	for i, want := range []bool{true, false, true} {
		select {
		case s := <-got:
			if s.Source64 != testRemote {
				t.Errorf("sample %d source = %s", i, s.Source64)
			}
			if high, ok := s.DigitalLevel(2); !ok || high != want {
				t.Errorf("sample %d DIO2 = %v, %v; want %v", i, high, ok, want)
			}
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for sample %d", i)
		}
	}
}

func TestClient_CallbackPanicRecovered(t *testing.T) {
	c, radio := newTestClient(t, Config{})

	calls := make(chan struct{}, 2)
	c.SetOnSample(func(IOSample) {
		calls <- struct{}{}
		panic("boom")
	})

	sample := append([]byte{FrameIOSample}, testRemote[:]...)
	sample = append(sample, 0xFF, 0xFE, 0x01, 0x01, 0x00, 0x00, 0x00)
	radio.send(sample, false)
	radio.send(sample, false)

	for i := range 2 {
		select {
		case <-calls:
		case <-time.After(time.Second):
			t.Fatalf("callback %d not invoked after panic", i)
		}
	}
}

func TestClient_FrameIDsSkipZero(t *testing.T) {
	c, _ := newTestClient(t, Config{})

	c.pendingMu.Lock()
	c.lastID = 254
	c.pendingMu.Unlock()

	var ids []uint8
	for range 3 {
		id, _, err := c.allocFrameID()
		if err != nil {
			t.Fatalf("allocFrameID() error = %v", err)
		}
		ids = append(ids, id)
	}
	if !bytes.Equal(ids, []uint8{255, 1, 2}) {
		t.Errorf("frame ids = %v, want [255 1 2]", ids)
	}
}

func TestClient_FrameIDsExhausted(t *testing.T) {
	c, _ := newTestClient(t, Config{})

	for i := range 255 {
		if _, _, err := c.allocFrameID(); err != nil {
			t.Fatalf("allocFrameID() #%d error = %v", i, err)
		}
	}
	if _, _, err := c.allocFrameID(); !errors.Is(err, ErrBusy) {
		t.Errorf("allocFrameID() error = %v, want ErrBusy", err)
	}

	c.releaseFrameID(7)
	if id, _, err := c.allocFrameID(); err != nil || id != 7 {
		t.Errorf("allocFrameID() after release = %d, %v; want 7, nil", id, err)
	}
}

func TestConnect_TCP(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	accepted := make(chan net.Conn, 1)
	go func() {
		conn, err := ln.Accept()
		if err == nil {
			accepted <- conn
		}
	}()

	c, err := Connect(context.Background(), Config{Connection: "tcp://" + ln.Addr().String(), SendTimeout: time.Second})
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer c.Close()

	radioConn := <-accepted
	defer radioConn.Close()
	radio := &fakeRadio{t: t, conn: radioConn, frames: NewFrameReader(radioConn, false)}

	go func() {
		req := radio.readRequest()
		radio.replyStatus(req.FrameID, 0x0001, DeliverySuccess, false)
	}()

	status, err := c.SendData(context.Background(), testRemote, []byte("CMD RON03 RON11"))
	if err != nil || !status.Delivered() {
		t.Errorf("SendData() = %+v, %v", status, err)
	}
	if err := c.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}

	// Close before the radio end drops so the client does not redial.
	c.Close() //nolint:errcheck // Idempotent, deferred again above
}

func TestConnect_Failures(t *testing.T) {
	if _, err := Connect(context.Background(), Config{Connection: "http://x"}); !errors.Is(err, ErrConnectionFailed) {
		t.Errorf("Connect(bad scheme) error = %v, want ErrConnectionFailed", err)
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := ln.Addr().String()
	ln.Close()

	_, err = Connect(context.Background(), Config{Connection: "tcp://" + addr, ConnectTimeout: time.Second})
	if !errors.Is(err, ErrConnectionFailed) {
		t.Errorf("Connect(closed port) error = %v, want ErrConnectionFailed", err)
	}
}
