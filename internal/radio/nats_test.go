package radio

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/lorawan-server/sensor-node/internal/clock"
	"github.com/lorawan-server/sensor-node/pkg/lorawan"
)

type published struct {
	subject string
	data    []byte
}

type fakePublisher struct {
	mu   sync.Mutex
	msgs []published
	err  error
}

func (p *fakePublisher) Publish(subj string, data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.msgs = append(p.msgs, published{subj, data})
	return nil
}

func newTestNATSRadio(t *testing.T) (*NATSRadio, *fakePublisher, *clock.Recorder) {
	t.Helper()
	eui, _ := lorawan.ParseEUI64("0011223344556677")
	clk := clock.NewRecorder(time.Unix(1700000000, 0))
	r := NewNATSRadio(nil, eui, "node", clk)
	pub := &fakePublisher{}
	r.pub = pub
	return r, pub, clk
}

func TestNATSRadioJoinAndSubmit(t *testing.T) {
	r, pub, clk := newTestNATSRadio(t)

	if err := r.Submit(Uplink{Port: 1, Payload: []byte{1}}); !errors.Is(err, ErrNotJoined) {
		t.Fatalf("expected ErrNotJoined, got %v", err)
	}
	if _, err := r.DeviceClass(); !errors.Is(err, ErrNotJoined) {
		t.Fatalf("expected class query to fail before join, got %v", err)
	}

	r.handleJoin(&nats.Msg{Data: []byte(`{"joined":true,"class":"C"}`)})
	class, err := r.DeviceClass()
	if err != nil || class != lorawan.ClassC {
		t.Fatalf("expected class C, got %v %v", class, err)
	}

	if err := r.Submit(Uplink{Port: 1, Payload: []byte{0x03, 0x0c, 0x01}, Priority: PriorityHigh}); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if len(pub.msgs) != 1 || pub.msgs[0].subject != "node.0011223344556677.up" {
		t.Fatalf("unexpected publishes %+v", pub.msgs)
	}
	var up uplinkMessage
	if err := json.Unmarshal(pub.msgs[0].data, &up); err != nil {
		t.Fatalf("decode uplink: %v", err)
	}
	if up.ID == "" || up.Priority != "high" || len(up.Data) != 3 {
		t.Fatalf("unexpected uplink %+v", up)
	}

	if err := r.Submit(Uplink{Port: 1, Payload: []byte{1}}); !errors.Is(err, ErrBusy) {
		t.Fatalf("expected ErrBusy while a frame is outstanding, got %v", err)
	}

	var results []TxResult
	r.OnTxDone(func(res TxResult) { results = append(results, res) })
	r.handleTxDone(&nats.Msg{Data: []byte(`{"result":"ack"}`)})
	if len(results) != 1 || results[0] != TxOKAcked {
		t.Fatalf("unexpected tx results %v", results)
	}
	if err := r.Submit(Uplink{Port: 1, Payload: []byte{1}}); err != nil {
		t.Fatalf("submit after txdone: %v", err)
	}

	// an unanswered frame stops blocking after busyTimeout
	_ = clk.Sleep(context.Background(), busyTimeout)
	if err := r.Submit(Uplink{Port: 1, Payload: []byte{1}}); err != nil {
		t.Fatalf("submit after busy timeout: %v", err)
	}
}

func TestNATSRadioPublishFailure(t *testing.T) {
	r, pub, _ := newTestNATSRadio(t)
	r.joined.Store(true)
	pub.err = errors.New("connection closed")

	if err := r.Submit(Uplink{Payload: []byte{1}}); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
	pub.err = nil
	if err := r.Submit(Uplink{Payload: []byte{1}}); err != nil {
		t.Fatalf("failed publish must not leave the radio busy: %v", err)
	}
}

func TestNATSRadioDownlinkAndBeacon(t *testing.T) {
	r, _, _ := newTestNATSRadio(t)

	var downs []DownlinkEvent
	r.OnRxDone(func(ev DownlinkEvent) { downs = append(downs, ev) })
	r.handleDown(&nats.Msg{Data: []byte(`{"port":6,"data":"MQ==","rssi":-80,"snr":9,"ack":true}`)})
	r.handleDown(&nats.Msg{Data: []byte(`not json`)})

	if len(downs) != 1 {
		t.Fatalf("expected 1 downlink, got %d", len(downs))
	}
	if downs[0].Port != 6 || string(downs[0].Payload) != "1" || downs[0].Status != RxTxAcked {
		t.Fatalf("unexpected downlink %+v", downs[0])
	}

	var states []BeaconState
	r.OnBeacon(func(s BeaconState, _ int16, _ int8) { states = append(states, s) })
	r.handleBeacon(&nats.Msg{Data: []byte(`{"state":"sps","slotEnabled":true}`)})
	r.handleBeacon(&nats.Msg{Data: []byte(`{"state":"bogus"}`)})

	if len(states) != 1 || states[0] != BeaconSynchronizedSlot {
		t.Fatalf("unexpected beacon states %v", states)
	}
	if !r.SlotEnabled() {
		t.Fatalf("slot capability not updated")
	}
}

func TestNATSRadioConfigure(t *testing.T) {
	r, pub, _ := newTestNATSRadio(t)
	eui, _ := lorawan.ParseEUI64("0011223344556677")

	err := r.Configure(Settings{
		DevEUI:     eui,
		DevAddr:    lorawan.DefaultDevAddr(eui),
		AppKey:     lorawan.DefaultAppKey(eui),
		Mode:       lorawan.ModeLoRaWAN,
		Activation: lorawan.OTAA,
		Class:      lorawan.ClassA,
	})
	if err != nil {
		t.Fatalf("configure: %v", err)
	}
	if len(pub.msgs) != 1 || pub.msgs[0].subject != "node.0011223344556677.config" {
		t.Fatalf("unexpected publishes %+v", pub.msgs)
	}
	var cfg map[string]any
	if err := json.Unmarshal(pub.msgs[0].data, &cfg); err != nil {
		t.Fatalf("decode config: %v", err)
	}
	if _, ok := cfg["appKey"]; ok {
		t.Fatalf("app key must not leave the node")
	}
	if cfg["devAddr"] != "44556677" || cfg["mode"] != "lorawan" {
		t.Fatalf("unexpected config %v", cfg)
	}
}
