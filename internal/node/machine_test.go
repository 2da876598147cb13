package node

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/lorawan-server/sensor-node/internal/clock"
	"github.com/lorawan-server/sensor-node/internal/config"
	"github.com/lorawan-server/sensor-node/internal/downlink"
	"github.com/lorawan-server/sensor-node/internal/frame"
	"github.com/lorawan-server/sensor-node/internal/output"
	"github.com/lorawan-server/sensor-node/internal/radio"
	"github.com/lorawan-server/sensor-node/internal/sensor"
	"github.com/lorawan-server/sensor-node/pkg/lorawan"
)

// hookClock runs onSleep after every recorded sleep, standing in for radio
// notifications that arrive while the loop waits.
type hookClock struct {
	*clock.Recorder
	onSleep func(d time.Duration)
}

func (h *hookClock) Sleep(ctx context.Context, d time.Duration) error {
	err := h.Recorder.Sleep(ctx, d)
	if h.onSleep != nil {
		h.onSleep(d)
	}
	return err
}

type countingSetter struct {
	calls int
	bank  *output.Bank
}

func (c *countingSetter) Set(ch int, level bool) error {
	c.calls++
	return c.bank.Set(ch, level)
}

type recordPin struct {
	levels []bool
}

func (p *recordPin) Set(level bool) error {
	p.levels = append(p.levels, level)
	return nil
}

type harness struct {
	m      *Machine
	stub   *radio.Stub
	clk    *clock.Recorder
	hook   *hookClock
	events *radio.EventSink
	store  *sensor.Store
	bank   *output.Bank
	setter *countingSetter
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Node.DevEUI = "0011223344556677"
	cfg.Node.Report = []string{"temperature", "humidity"}
	return cfg
}

func newHarness(t *testing.T, cfg *config.Config, pin output.Pin) *harness {
	t.Helper()
	rec := clock.NewRecorder(time.Unix(1700000000, 0))
	h := &harness{
		clk:    rec,
		hook:   &hookClock{Recorder: rec},
		events: radio.NewEventSink(8, nil),
		store:  sensor.NewStore(sensor.CO2FromIAQ),
		bank:   output.NewBank(),
	}
	h.setter = &countingSetter{bank: h.bank}
	h.stub = radio.NewStub(radio.StubOptions{Clock: h.hook})
	h.store.TempHum.Store(sensor.PackTempHum(2150, 4520))

	m, err := New(cfg, Deps{
		Radio:       h.stub,
		Events:      h.events,
		Store:       h.store,
		Outputs:     h.bank,
		Dispatcher:  downlink.NewDispatcher(h.setter, nil),
		Clock:       h.hook,
		LowPowerPin: pin,
	})
	if err != nil {
		t.Fatalf("new machine: %v", err)
	}
	if err := m.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	h.m = m
	return h
}

func (h *harness) step(t *testing.T) {
	t.Helper()
	if err := h.m.Step(context.Background()); err != nil {
		t.Fatalf("step: %v", err)
	}
}

func equalDurations(a, b []time.Duration) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestNewRequiresRadio(t *testing.T) {
	if _, err := New(testConfig(), Deps{}); err == nil {
		t.Fatalf("expected error without a radio")
	}
}

func TestStart(t *testing.T) {
	h := newHarness(t, testConfig(), nil)

	if h.m.State() != StateLowPower {
		t.Fatalf("expected low power after start, got %s", h.m.State())
	}
	s := h.stub.Settings()
	if s.DevAddr.String() != "44556677" || s.AppKey.String() != "00112233445566770011223344556677" {
		t.Fatalf("unexpected radio settings %+v", s)
	}
	if h.stub.RTCAutoCompensation() {
		t.Fatalf("RTC compensation is only for the slotted mode")
	}

	h.stub.InjectBeacon(radio.BeaconSynchronizedSlot, 0, 0)
	if h.events.Len() != 0 {
		t.Fatalf("beacons must not be tracked outside the slotted mode")
	}
}

func TestStartSlotted(t *testing.T) {
	cfg := testConfig()
	cfg.Node.OpMode = "vendor-slotted"
	h := newHarness(t, cfg, nil)

	if !h.stub.RTCAutoCompensation() {
		t.Fatalf("expected RTC compensation in slotted mode")
	}
	h.stub.InjectBeacon(radio.BeaconFound, 0, 0)
	if h.events.Len() != 1 {
		t.Fatalf("expected beacon to be queued, got %d events", h.events.Len())
	}
}

func TestUnsynchronizedCycle(t *testing.T) {
	h := newHarness(t, testConfig(), nil)

	h.step(t)
	if h.m.Join() != JoinJoined {
		t.Fatalf("expected joined, got %s", h.m.Join())
	}
	if h.m.State() != StateActive {
		t.Fatalf("expected active after sleeping, got %s", h.m.State())
	}
	if got := h.clk.Sleeps(); !equalDurations(got, []time.Duration{4 * time.Second, 6 * time.Second}) {
		t.Fatalf("unexpected sleeps %v", got)
	}
	if got := h.stub.DeepSleeps(); !equalDurations(got, []time.Duration{6 * time.Second}) {
		t.Fatalf("expected deep sleep of interval minus receive window, got %v", got)
	}

	h.step(t)
	if h.m.State() != StateTransmitting {
		t.Fatalf("expected transmitting, got %s", h.m.State())
	}
	ups := h.stub.Uplinks()
	if len(ups) != 1 {
		t.Fatalf("expected 1 uplink, got %d", len(ups))
	}
	want := frame.Encode(frame.Readings{Temperature: 2150, Humidity: 4520}, frame.Temperature|frame.Humidity)
	if !bytes.Equal(ups[0].Payload, want) {
		t.Fatalf("expected frame % X, got % X", want, ups[0].Payload)
	}
	if ups[0].Port != 1 || ups[0].Priority != radio.PriorityNormal {
		t.Fatalf("unexpected uplink %+v", ups[0])
	}

	h.stub.CompleteTx(radio.TxOK)
	h.m.drainEvents()
	if h.m.State() != StateLowPower {
		t.Fatalf("expected low power after tx done, got %s", h.m.State())
	}
}

func TestTxDoneAlwaysLowPower(t *testing.T) {
	results := []radio.TxResult{radio.TxOK, radio.TxNotOK, radio.TxOKAcked, radio.TxOKNotAcked}
	states := []State{StateTransmitting, StateActive, StateLowPower, StateReceiving}

	for _, res := range results {
		for _, st := range states {
			t.Run(res.String()+"/"+st.String(), func(t *testing.T) {
				h := newHarness(t, testConfig(), nil)
				h.m.setState(st)
				h.stub.CompleteTx(res)
				h.m.drainEvents()
				if h.m.State() != StateLowPower {
					t.Fatalf("expected low power, got %s", h.m.State())
				}
			})
		}
	}
}

func TestEmptyFrameNotSubmitted(t *testing.T) {
	cfg := testConfig()
	cfg.Node.Report = nil
	h := newHarness(t, cfg, nil)

	h.step(t)
	h.step(t)

	if len(h.stub.Uplinks()) != 0 {
		t.Fatalf("empty frame must not be submitted")
	}
	if h.m.State() != StateLowPower {
		t.Fatalf("expected low power, got %s", h.m.State())
	}
	if h.m.Status().Counters.Empty != 1 {
		t.Fatalf("expected one empty report")
	}
}

func TestSubmitRejected(t *testing.T) {
	h := newHarness(t, testConfig(), nil)
	h.step(t)

	h.stub.RejectSubmits(radio.ErrForbidden)
	h.step(t)
	if h.m.State() != StateLowPower {
		t.Fatalf("expected low power after rejection, got %s", h.m.State())
	}
	if len(h.stub.Uplinks()) != 0 {
		t.Fatalf("rejected frame must not be logged")
	}

	// the next step is a full sleep, not a retry
	h.clk.Reset()
	h.step(t)
	if got := h.clk.Sleeps(); !equalDurations(got, []time.Duration{4 * time.Second, 6 * time.Second}) {
		t.Fatalf("expected a full cycle before the next attempt, got %v", got)
	}
	if h.m.Status().Counters.Rejected != 1 {
		t.Fatalf("expected one rejection")
	}
}

func TestReceiveDuringWindow(t *testing.T) {
	h := newHarness(t, testConfig(), nil)
	h.hook.onSleep = func(d time.Duration) {
		if d == 4*time.Second {
			h.hook.onSleep = nil
			_ = h.stub.InjectDownlink(radio.DownlinkEvent{Port: downlink.PortOutput0, Payload: []byte("1")})
		}
	}

	h.step(t)
	if h.m.State() != StateReceiveComplete {
		t.Fatalf("expected receive complete, got %s", h.m.State())
	}
	if len(h.stub.DeepSleeps()) != 0 {
		t.Fatalf("must not deep sleep after a receive in the window")
	}

	h.step(t)
	if !h.bank.Level(0) {
		t.Fatalf("expected output 0 set")
	}
	if h.m.State() != StateLowPower {
		t.Fatalf("expected low power after dispatch, got %s", h.m.State())
	}
}

func TestReceiveDuringDeepSleep(t *testing.T) {
	h := newHarness(t, testConfig(), nil)
	h.hook.onSleep = func(d time.Duration) {
		if d == 6*time.Second {
			h.hook.onSleep = nil
			_ = h.stub.InjectDownlink(radio.DownlinkEvent{Port: downlink.PortOutput1, Payload: []byte("1")})
		}
	}

	h.step(t)
	if h.m.State() != StateReceiveComplete {
		t.Fatalf("expected receive complete instead of active, got %s", h.m.State())
	}
	h.step(t)
	if !h.bank.Level(1) {
		t.Fatalf("expected output 1 set")
	}
}

func TestDuplicateDownlinkDispatchedOnce(t *testing.T) {
	h := newHarness(t, testConfig(), nil)
	h.step(t)

	ev := radio.DownlinkEvent{Port: downlink.PortOutput0, Payload: []byte("1")}
	_ = h.stub.InjectDownlink(ev)
	_ = h.stub.InjectDownlink(ev)

	h.step(t)
	if h.setter.calls != 1 {
		t.Fatalf("expected one dispatch, got %d", h.setter.calls)
	}
	h.step(t)
	if h.setter.calls != 1 {
		t.Fatalf("downlink dispatched again: %d", h.setter.calls)
	}
}

func TestEmptyDownlinkNotDispatched(t *testing.T) {
	h := newHarness(t, testConfig(), nil)
	h.step(t)

	_ = h.stub.InjectDownlink(radio.DownlinkEvent{Port: downlink.PortOutput0})
	h.step(t)
	if h.setter.calls != 0 {
		t.Fatalf("empty downlink must not be dispatched")
	}
	if h.m.State() != StateLowPower {
		t.Fatalf("expected low power, got %s", h.m.State())
	}
}

func TestSynchronizedCounter(t *testing.T) {
	cfg := testConfig()
	cfg.Node.Class = "C"
	h := newHarness(t, cfg, nil)

	h.step(t)
	if h.m.State() != StateActive {
		t.Fatalf("counter must fire on its first tick, got %s", h.m.State())
	}
	if got := h.clk.Sleeps(); !equalDurations(got, []time.Duration{10 * time.Millisecond}) {
		t.Fatalf("expected one tick, got %v", got)
	}

	h.m.setState(StateLowPower)
	for i := 1; i < 1000; i++ {
		h.step(t)
		if h.m.State() != StateLowPower {
			t.Fatalf("counter fired early at tick %d", i)
		}
	}
	h.step(t)
	if h.m.State() != StateActive {
		t.Fatalf("expected active after interval/tick ticks, got %s", h.m.State())
	}
}

func TestSlottedBeaconDrivesReports(t *testing.T) {
	cfg := testConfig()
	cfg.Node.OpMode = "vendor-slotted"
	h := newHarness(t, cfg, nil)

	for i := 0; i < 1500; i++ {
		h.step(t)
		if h.m.State() != StateLowPower {
			t.Fatalf("slotted mode must wait for a beacon, got %s at tick %d", h.m.State(), i)
		}
	}

	h.stub.InjectBeacon(radio.BeaconSynchronizedSlot, -100, 5)
	h.step(t)
	if h.m.State() != StateTransmitting {
		t.Fatalf("expected beacon to trigger a report, got %s", h.m.State())
	}
	ups := h.stub.Uplinks()
	if len(ups) != 1 || ups[0].Priority != radio.PriorityHigh {
		t.Fatalf("expected one high-priority uplink, got %+v", ups)
	}
	if h.m.Status().Beacon != "sps" {
		t.Fatalf("unexpected beacon status %q", h.m.Status().Beacon)
	}
}

func TestBeaconTransitions(t *testing.T) {
	tests := []struct {
		beacon radio.BeaconState
		slot   bool
		want   State
	}{
		{radio.BeaconLottery1, false, StateActive},
		{radio.BeaconLottery1, true, StateLowPower},
		{radio.BeaconLottery2, false, StateActive},
		{radio.BeaconLottery2, true, StateLowPower},
		{radio.BeaconSynchronizedSlot, true, StateActive},
		{radio.BeaconScanTimeout, false, StateLowPower},
		{radio.BeaconFound, false, StateLowPower},
		{radio.BeaconLost, false, StateLowPower},
	}

	for _, tt := range tests {
		t.Run(tt.beacon.String(), func(t *testing.T) {
			cfg := testConfig()
			cfg.Node.OpMode = "vendor-slotted"
			h := newHarness(t, cfg, nil)
			h.stub.SetSlotEnabled(tt.slot)

			h.stub.InjectBeacon(tt.beacon, 0, 0)
			h.m.drainEvents()
			if h.m.State() != tt.want {
				t.Fatalf("expected %s, got %s", tt.want, h.m.State())
			}
		})
	}
}

func TestJoinGuard(t *testing.T) {
	h := newHarness(t, testConfig(), nil)
	h.stub.SetJoined(false)

	h.step(t)
	if h.m.Join() != JoinUnjoined || h.m.State() != StateLowPower {
		t.Fatalf("unexpected join %s state %s", h.m.Join(), h.m.State())
	}
	if got := h.clk.Sleeps(); !equalDurations(got, []time.Duration{time.Second}) {
		t.Fatalf("expected a 1s idle, got %v", got)
	}
	if len(h.stub.DeepSleeps()) != 0 {
		t.Fatalf("must not sleep through the interval while unjoined")
	}

	h.stub.SetClass(lorawan.ClassC, nil)
	h.stub.SetJoined(true)
	h.clk.Reset()
	h.step(t)
	if h.m.Join() != JoinJoined || h.m.Class() != lorawan.ClassC {
		t.Fatalf("expected joined class C, got %s %s", h.m.Join(), h.m.Class())
	}
	// class C polls the short tick
	if got := h.clk.Sleeps(); !equalDurations(got, []time.Duration{10 * time.Millisecond}) {
		t.Fatalf("expected synchronized tick after class change, got %v", got)
	}

	h.stub.SetJoined(false)
	h.step(t)
	if h.m.Join() != JoinUnjoined {
		t.Fatalf("expected unjoined, got %s", h.m.Join())
	}
}

func TestJoinClassQueryFailure(t *testing.T) {
	cfg := testConfig()
	cfg.Node.Class = "B"
	h := newHarness(t, cfg, nil)
	h.stub.SetClass(0, errors.New("module busy"))

	h.step(t)
	if h.m.Class() != lorawan.ClassB {
		t.Fatalf("expected configured class kept, got %s", h.m.Class())
	}
}

func TestDeepSleepDisabled(t *testing.T) {
	cfg := testConfig()
	cfg.Node.DeepSleep = false
	h := newHarness(t, cfg, nil)

	h.step(t)
	if len(h.stub.DeepSleeps()) != 0 {
		t.Fatalf("expected no RTC sleep")
	}
	if got := h.clk.Sleeps(); !equalDurations(got, []time.Duration{4 * time.Second, 6 * time.Second}) {
		t.Fatalf("unexpected sleeps %v", got)
	}
	if h.m.State() != StateActive {
		t.Fatalf("expected active, got %s", h.m.State())
	}
}

func TestDeepSleepClamped(t *testing.T) {
	cfg := testConfig()
	cfg.Node.ReportInterval = 3
	h := newHarness(t, cfg, nil)

	h.step(t)
	if got := h.stub.DeepSleeps(); !equalDurations(got, []time.Duration{0}) {
		t.Fatalf("expected clamped deep sleep, got %v", got)
	}
}

func TestLowPowerPin(t *testing.T) {
	cfg := testConfig()
	cfg.Node.OpMode = "vendor"
	pin := &recordPin{}
	h := newHarness(t, cfg, pin)

	h.step(t)
	if len(pin.levels) != 2 || pin.levels[0] || !pin.levels[1] {
		t.Fatalf("expected pin low then high around deep sleep, got %v", pin.levels)
	}

	other := &recordPin{}
	h = newHarness(t, testConfig(), other)
	h.step(t)
	if len(other.levels) != 0 {
		t.Fatalf("pin must only be driven in vendor mode, got %v", other.levels)
	}
}

func TestTransmitWatchdog(t *testing.T) {
	h := newHarness(t, testConfig(), nil)
	h.step(t)
	h.step(t)
	if h.m.State() != StateTransmitting {
		t.Fatalf("expected transmitting, got %s", h.m.State())
	}

	h.step(t)
	if h.m.State() != StateTransmitting {
		t.Fatalf("expected to keep waiting, got %s", h.m.State())
	}

	_ = h.clk.Sleep(context.Background(), 30*time.Second)
	h.step(t)
	if h.m.State() != StateLowPower {
		t.Fatalf("expected watchdog to return to low power, got %s", h.m.State())
	}
}

func TestStatus(t *testing.T) {
	h := newHarness(t, testConfig(), nil)
	h.step(t)
	h.step(t)

	s := h.m.Status()
	if s.State != "transmitting" || s.Join != "joined" || s.Class != "A" || s.Mode != "lorawan" {
		t.Fatalf("unexpected status %+v", s)
	}
	if s.Beacon != "" {
		t.Fatalf("expected no beacon, got %q", s.Beacon)
	}
	if s.Counters.Uplinks != 1 || s.LastUplink == nil {
		t.Fatalf("expected one recorded uplink, got %+v", s)
	}
	if s.LastUplink.Frame != "09 0C 01 03 00 08 66 02 02 11 A8" {
		t.Fatalf("unexpected frame %q", s.LastUplink.Frame)
	}
	if s.Readings.Temperature != 2150 || s.Readings.Humidity != 4520 {
		t.Fatalf("unexpected readings %+v", s.Readings)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	rec := clock.NewRecorder(time.Unix(0, 0))
	stub := radio.NewStub(radio.StubOptions{Clock: rec})
	m, err := New(testConfig(), Deps{Radio: stub, Clock: rec})
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := m.Run(ctx); err != nil {
		t.Fatalf("expected clean stop, got %v", err)
	}
}
