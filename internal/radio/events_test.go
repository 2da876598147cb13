package radio

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/lorawan-server/sensor-node/internal/metrics"
)

func TestEventSinkOrder(t *testing.T) {
	sink := NewEventSink(4, nil)
	sink.TxDone(TxOKAcked)
	sink.Beacon(BeaconSynchronizedSlot, -90, 7)
	sink.RxDone(DownlinkEvent{Port: 5, Payload: []byte("1")})

	var kinds []EventKind
	n := sink.Drain(func(ev Event) { kinds = append(kinds, ev.Kind) })
	if n != 3 {
		t.Fatalf("expected 3 events, got %d", n)
	}
	want := []EventKind{EventTxDone, EventBeacon, EventRxDone}
	for i := range want {
		if kinds[i] != want[i] {
			t.Fatalf("event %d: expected %s, got %s", i, want[i], kinds[i])
		}
	}
	if sink.Len() != 0 {
		t.Fatalf("expected empty queue")
	}
}

func TestEventSinkCopiesPayload(t *testing.T) {
	sink := NewEventSink(1, nil)
	buf := []byte{'1'}
	sink.RxDone(DownlinkEvent{Port: 5, Payload: buf})
	buf[0] = '0'

	sink.Drain(func(ev Event) {
		if string(ev.Downlink.Payload) != "1" {
			t.Fatalf("payload aliases radio buffer: %q", ev.Downlink.Payload)
		}
	})
}

func TestEventSinkTruncates(t *testing.T) {
	sink := NewEventSink(1, nil)
	sink.RxDone(DownlinkEvent{Port: 9, Payload: make([]byte, MaxDownlinkPayload+10)})
	sink.Drain(func(ev Event) {
		if len(ev.Downlink.Payload) != MaxDownlinkPayload {
			t.Fatalf("expected %d bytes, got %d", MaxDownlinkPayload, len(ev.Downlink.Payload))
		}
	})
}

func TestEventSinkOverflow(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	sink := NewEventSink(2, m)
	sink.TxDone(TxOK)
	sink.TxDone(TxOK)
	sink.Beacon(BeaconLost, 0, 0)

	if sink.Len() != 2 {
		t.Fatalf("expected 2 queued events, got %d", sink.Len())
	}
	expected := `
# HELP node_radio_events_dropped_total Radio notifications lost because the event queue was full.
# TYPE node_radio_events_dropped_total counter
node_radio_events_dropped_total{kind="beacon"} 1
`
	if err := testutil.GatherAndCompare(reg, strings.NewReader(expected), "node_radio_events_dropped_total"); err != nil {
		t.Fatalf("unexpected dropped events metric: %v", err)
	}
}

func TestEventSinkAttach(t *testing.T) {
	stub := NewStub(StubOptions{})
	sink := NewEventSink(4, nil)
	sink.Attach(stub)

	stub.CompleteTx(TxNotOK)
	stub.InjectBeacon(BeaconLottery1, 0, 0)
	if sink.Len() != 1 {
		t.Fatalf("beacon must not be delivered before AttachBeacon, got %d events", sink.Len())
	}

	sink.AttachBeacon(stub)
	stub.InjectBeacon(BeaconLottery1, 0, 0)
	if sink.Len() != 2 {
		t.Fatalf("expected 2 events, got %d", sink.Len())
	}
}
