package radio

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/lorawan-server/sensor-node/internal/clock"
	"github.com/lorawan-server/sensor-node/pkg/lorawan"
)

// StubOptions configures the in-process radio
type StubOptions struct {
	// JoinDelay is how long after creation the stub reports joined
	JoinDelay   time.Duration
	Class       lorawan.DeviceClass
	SlotEnabled bool
	// AutoTxDone completes every accepted frame after TxDoneDelay
	AutoTxDone  bool
	TxDoneDelay time.Duration
	Clock       clock.Clock
}

// Stub is a host radio: it accepts frames into a log, completes them on
// request and lets callers inject downlinks and beacons.
type Stub struct {
	mu sync.Mutex

	txDone func(TxResult)
	rxDone func(DownlinkEvent)
	beacon func(BeaconState, int16, int8)

	clock       clock.Clock
	joinAt      time.Time
	joined      *bool
	class       lorawan.DeviceClass
	classErr    error
	slot        bool
	rejectErr   error
	rtcComp     bool
	autoTxDone  bool
	txDoneDelay time.Duration
	settings    Settings
	uplinks     []Uplink
	deepSleeps  []time.Duration
}

var _ Radio = (*Stub)(nil)
var _ DownlinkInjector = (*Stub)(nil)

func NewStub(opts StubOptions) *Stub {
	clk := opts.Clock
	if clk == nil {
		clk = clock.Real{}
	}
	class := opts.Class
	if class == 0 {
		class = lorawan.ClassA
	}
	return &Stub{
		clock:       clk,
		joinAt:      clk.Now().Add(opts.JoinDelay),
		class:       class,
		slot:        opts.SlotEnabled,
		autoTxDone:  opts.AutoTxDone,
		txDoneDelay: opts.TxDoneDelay,
	}
}

func (s *Stub) Configure(settings Settings) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings = settings
	if settings.Class != 0 {
		s.class = settings.Class
	}
	return nil
}

func (s *Stub) OnTxDone(fn func(TxResult)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.txDone = fn
}

func (s *Stub) OnRxDone(fn func(DownlinkEvent)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rxDone = fn
}

func (s *Stub) OnBeacon(fn func(BeaconState, int16, int8)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.beacon = fn
}

func (s *Stub) Joined() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.joinedLocked()
}

func (s *Stub) joinedLocked() bool {
	if s.joined != nil {
		return *s.joined
	}
	return !s.clock.Now().Before(s.joinAt)
}

func (s *Stub) DeviceClass() (lorawan.DeviceClass, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.classErr != nil {
		return 0, s.classErr
	}
	return s.class, nil
}

func (s *Stub) SlotEnabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.slot
}

func (s *Stub) Submit(u Uplink) error {
	s.mu.Lock()
	if s.rejectErr != nil {
		err := s.rejectErr
		s.mu.Unlock()
		return err
	}
	if !s.joinedLocked() {
		s.mu.Unlock()
		return ErrNotJoined
	}
	u.Payload = append([]byte(nil), u.Payload...)
	s.uplinks = append(s.uplinks, u)
	auto, delay := s.autoTxDone, s.txDoneDelay
	s.mu.Unlock()

	if auto {
		go func() {
			time.Sleep(delay)
			s.CompleteTx(TxOK)
		}()
	}
	return nil
}

func (s *Stub) DeepSleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.deepSleeps = append(s.deepSleeps, d)
	clk := s.clock
	s.mu.Unlock()
	return clk.Sleep(ctx, d)
}

func (s *Stub) EnableRTCAutoCompensation(enable bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rtcComp = enable
	return nil
}

// InjectDownlink delivers ev through the registered receive handler
func (s *Stub) InjectDownlink(ev DownlinkEvent) error {
	if len(ev.Payload) > MaxDownlinkPayload {
		return fmt.Errorf("%w: %d bytes", ErrPayloadTooLarge, len(ev.Payload))
	}
	s.mu.Lock()
	fn := s.rxDone
	s.mu.Unlock()
	if fn == nil {
		return fmt.Errorf("no receive handler registered")
	}
	log.Debug().Uint8("port", ev.Port).Int("len", len(ev.Payload)).Msg("Injecting downlink")
	fn(ev)
	return nil
}

// InjectBeacon delivers a beacon notification
func (s *Stub) InjectBeacon(state BeaconState, rssi int16, snr int8) {
	s.mu.Lock()
	fn := s.beacon
	s.mu.Unlock()
	if fn != nil {
		fn(state, rssi, snr)
	}
}

// CompleteTx reports the end of the current transmission
func (s *Stub) CompleteTx(result TxResult) {
	s.mu.Lock()
	fn := s.txDone
	s.mu.Unlock()
	if fn != nil {
		fn(result)
	}
}

// SetJoined overrides the join delay
func (s *Stub) SetJoined(joined bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.joined = &joined
}

// SetClass changes what DeviceClass returns; a non-nil err makes the query fail
func (s *Stub) SetClass(class lorawan.DeviceClass, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.class, s.classErr = class, err
}

// SetSlotEnabled changes the synchronized-slot capability
func (s *Stub) SetSlotEnabled(enabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.slot = enabled
}

// RejectSubmits makes Submit fail with err until called with nil
func (s *Stub) RejectSubmits(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rejectErr = err
}

// Uplinks returns the accepted frames
func (s *Stub) Uplinks() []Uplink {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Uplink, len(s.uplinks))
	copy(out, s.uplinks)
	return out
}

// DeepSleeps returns every requested RTC sleep
func (s *Stub) DeepSleeps() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]time.Duration, len(s.deepSleeps))
	copy(out, s.deepSleeps)
	return out
}

func (s *Stub) Settings() Settings {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.settings
}

func (s *Stub) RTCAutoCompensation() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rtcComp
}
