package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCommandsTotal(t *testing.T) {
	c := CommandsTotal.WithLabelValues("on", "single", OutcomeDelivered)
	initial := testutil.ToFloat64(c)
	c.Inc()

	if got := testutil.ToFloat64(c); got != initial+1 {
		t.Errorf("CommandsTotal = %v, want %v", got, initial+1)
	}
}

func TestRelaysRegisteredGauge(t *testing.T) {
	RelaysRegistered.Set(0)
	RelaysRegistered.Set(4)

	if got := testutil.ToFloat64(RelaysRegistered); got != 4 {
		t.Errorf("RelaysRegistered = %v, want 4", got)
	}
}

func TestTransportConnectedGauge(t *testing.T) {
	TransportConnected.Set(1)
	if got := testutil.ToFloat64(TransportConnected); got != 1 {
		t.Errorf("TransportConnected = %v, want 1", got)
	}
	TransportConnected.Set(0)
	if got := testutil.ToFloat64(TransportConnected); got != 0 {
		t.Errorf("TransportConnected = %v, want 0", got)
	}
}

func TestSamplesTotal(t *testing.T) {
	applied := SamplesTotal.WithLabelValues("applied")
	ignored := SamplesTotal.WithLabelValues("ignored")
	a0, i0 := testutil.ToFloat64(applied), testutil.ToFloat64(ignored)

	applied.Inc()

	if got := testutil.ToFloat64(applied); got != a0+1 {
		t.Errorf("applied = %v, want %v", got, a0+1)
	}
	if got := testutil.ToFloat64(ignored); got != i0 {
		t.Errorf("ignored = %v, want %v", got, i0)
	}
}

func TestHistogramsCollect(t *testing.T) {
	CommandDuration.Observe(0.2)
	HTTPRequestDuration.WithLabelValues("/api/v1/relays").Observe(0.01)

	if n := testutil.CollectAndCount(CommandDuration); n != 1 {
		t.Errorf("CommandDuration series = %d, want 1", n)
	}
	if n := testutil.CollectAndCount(HTTPRequestDuration); n < 1 {
		t.Errorf("HTTPRequestDuration series = %d, want at least 1", n)
	}
}
