// Package node runs the duty cycle of the sensor node: it sleeps, wakes to
// report the latest readings over the radio, and applies downlink commands.
//
// The Machine is single-threaded. Radio notifications arrive on the event
// sink's channel and are applied at the start of every Step and after every
// bounded wait; nothing else writes the machine state.
package node

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/lorawan-server/sensor-node/internal/clock"
	"github.com/lorawan-server/sensor-node/internal/config"
	"github.com/lorawan-server/sensor-node/internal/downlink"
	"github.com/lorawan-server/sensor-node/internal/frame"
	"github.com/lorawan-server/sensor-node/internal/metrics"
	"github.com/lorawan-server/sensor-node/internal/output"
	"github.com/lorawan-server/sensor-node/internal/radio"
	"github.com/lorawan-server/sensor-node/internal/sensor"
	"github.com/lorawan-server/sensor-node/pkg/lorawan"
)

// Deps are the collaborators of a Machine. Only Radio is required.
type Deps struct {
	Radio      radio.Radio
	Events     *radio.EventSink
	Store      *sensor.Store
	Outputs    *output.Bank
	Dispatcher *downlink.Dispatcher
	Clock      clock.Clock
	Metrics    *metrics.Metrics
	// LowPowerPin is driven low for the duration of a deep sleep in vendor mode
	LowPowerPin output.Pin
}

type options struct {
	mode          lorawan.OperatingMode
	activation    lorawan.ActivationMode
	class         lorawan.DeviceClass
	interval      time.Duration
	rxWindow      time.Duration
	syncTick      time.Duration
	joinPoll      time.Duration
	txDoneTimeout time.Duration
	deepSleep     bool
	port          uint8
	confirmed     bool
	report        frame.Category
	maxPayload    int
}

func parseOptions(cfg *config.Config) (options, error) {
	mode, err := lorawan.ParseOperatingMode(cfg.Node.OpMode)
	if err != nil {
		return options{}, err
	}
	activation, err := lorawan.ParseActivationMode(cfg.Node.ActMode)
	if err != nil {
		return options{}, err
	}
	class, err := lorawan.ParseDeviceClass(cfg.Node.Class)
	if err != nil {
		return options{}, err
	}
	report, err := frame.ParseCategories(cfg.Node.Report)
	if err != nil {
		return options{}, err
	}

	opts := options{
		mode:          mode,
		activation:    activation,
		class:         class,
		interval:      time.Duration(cfg.Node.ReportInterval) * time.Second,
		rxWindow:      cfg.Node.RXWindow,
		syncTick:      cfg.Node.SyncTick,
		joinPoll:      cfg.Node.JoinPoll,
		txDoneTimeout: cfg.Node.TxDoneTimeout,
		deepSleep:     cfg.Node.DeepSleep,
		port:          cfg.Node.UplinkPort,
		confirmed:     cfg.Node.Confirmed,
		report:        report,
	}
	if opts.syncTick <= 0 {
		opts.syncTick = 10 * time.Millisecond
	}
	if opts.joinPoll <= 0 {
		opts.joinPoll = time.Second
	}
	if region, err := lorawan.GetRegionConfiguration(cfg.Radio.Region); err == nil {
		opts.maxPayload = region.MaxPayloadSize(cfg.Radio.DataRate)
	}
	return opts, nil
}

// Machine is the duty-cycle state machine
type Machine struct {
	cfg  *config.Config
	opts options

	radio       radio.Radio
	events      *radio.EventSink
	store       *sensor.Store
	outputs     *output.Bank
	dispatcher  *downlink.Dispatcher
	clock       clock.Clock
	metrics     *metrics.Metrics
	lowPowerPin output.Pin

	// owned by the goroutine calling Step
	state      State
	join       JoinState
	beacon     radio.BeaconState
	beaconSeen bool
	class      lorawan.DeviceClass
	pending    *radio.DownlinkEvent
	syncCount  uint64
	txSince    time.Time

	// published for Status
	stateMirror  atomic.Int32
	joinMirror   atomic.Int32
	beaconMirror atomic.Int32
	classMirror  atomic.Int32
	counters     counters
	lastUplink   atomic.Pointer[UplinkRecord]
}

// New builds a machine from cfg. Missing collaborators other than the radio
// are created with their defaults.
func New(cfg *config.Config, d Deps) (*Machine, error) {
	if d.Radio == nil {
		return nil, errors.New("radio is required")
	}
	opts, err := parseOptions(cfg)
	if err != nil {
		return nil, fmt.Errorf("node options: %w", err)
	}

	if d.Clock == nil {
		d.Clock = clock.Real{}
	}
	if d.Events == nil {
		d.Events = radio.NewEventSink(cfg.Node.EventCapacity, d.Metrics)
	}
	if d.Store == nil {
		source, err := sensor.ParseCO2Source(cfg.Sensors.CO2Source)
		if err != nil {
			return nil, err
		}
		d.Store = sensor.NewStore(source)
	}
	if d.Outputs == nil {
		d.Outputs = output.NewBank()
	}
	if d.Dispatcher == nil {
		d.Dispatcher = downlink.NewDispatcher(d.Outputs, d.Metrics)
	}

	m := &Machine{
		cfg:         cfg,
		opts:        opts,
		radio:       d.Radio,
		events:      d.Events,
		store:       d.Store,
		outputs:     d.Outputs,
		dispatcher:  d.Dispatcher,
		clock:       d.Clock,
		metrics:     d.Metrics,
		lowPowerPin: d.LowPowerPin,
	}
	m.setClass(opts.class)
	m.beaconMirror.Store(-1)
	return m, nil
}

// Start configures the radio, registers the notification handlers and
// leaves the machine in LowPower.
func (m *Machine) Start() error {
	m.setState(StateInit)

	devEUI, appKey, devAddr, derived, err := m.cfg.Keys()
	if err != nil {
		return fmt.Errorf("resolve keys: %w", err)
	}
	if derived {
		log.Warn().
			Str("devEUI", devEUI.String()).
			Msg("AppKey derived from DevEUI, set node.app_key for production")
	}

	settings := radio.Settings{
		DevEUI:     devEUI,
		DevAddr:    devAddr,
		AppKey:     appKey,
		Mode:       m.opts.mode,
		Activation: m.opts.activation,
		Class:      m.opts.class,
		Frequency:  m.cfg.Radio.Frequency,
		DataRate:   m.cfg.Radio.DataRate,
		TXPower:    m.cfg.Radio.TXPower,
	}
	if err := m.radio.Configure(settings); err != nil {
		return fmt.Errorf("configure radio: %w", err)
	}

	m.events.Attach(m.radio)
	if m.opts.mode.Synchronized() {
		log.Info().Msg("Beacon-synchronized mode, tracking beacons")
		m.events.AttachBeacon(m.radio)
		if err := m.radio.EnableRTCAutoCompensation(true); err != nil {
			log.Warn().Err(err).Msg("Failed to enable RTC auto compensation")
		}
	}

	if size := frame.Size(m.opts.report); m.opts.maxPayload > 0 && size > m.opts.maxPayload {
		log.Warn().
			Int("frameLen", size).
			Int("maxPayload", m.opts.maxPayload).
			Int("dataRate", m.cfg.Radio.DataRate).
			Msg("Report frame exceeds the region payload limit")
	}

	m.setState(StateLowPower)

	log.Info().
		Str("mode", m.opts.mode.String()).
		Str("activation", string(m.opts.activation)).
		Str("class", m.opts.class.String()).
		Dur("interval", m.opts.interval).
		Str("report", m.opts.report.String()).
		Msg("Duty cycle started")
	return nil
}

// Run starts the machine and steps it until ctx is done
func (m *Machine) Run(ctx context.Context) error {
	if err := m.Start(); err != nil {
		return err
	}
	for {
		if err := m.Step(ctx); err != nil {
			if ctx.Err() != nil {
				log.Info().Msg("Duty cycle stopped")
				return nil
			}
			return err
		}
	}
}

// Step runs one iteration of the loop. It only returns an error when ctx
// is done.
func (m *Machine) Step(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.drainEvents()

	if !m.radio.Joined() {
		if m.join != JoinUnjoined {
			log.Warn().Msg("LoRa is not joined")
		}
		m.setJoin(JoinUnjoined)
		return m.clock.Sleep(ctx, m.opts.joinPoll)
	}
	if m.join == JoinUnjoined {
		m.onJoined()
	}

	switch m.state {
	case StateLowPower:
		return m.lowPower(ctx)
	case StateActive:
		m.active()
		return nil
	case StateTransmitting:
		return m.transmitting(ctx)
	case StateReceiveComplete:
		m.receiveComplete()
		return nil
	default:
		return m.clock.Sleep(ctx, m.opts.syncTick)
	}
}

func (m *Machine) onJoined() {
	m.setJoin(JoinRecentlyJoined)

	class, err := m.radio.DeviceClass()
	if err != nil {
		log.Warn().Err(err).Str("class", m.class.String()).Msg("Device class query failed, keeping configured class")
	} else {
		m.setClass(class)
	}

	log.Info().Str("class", m.class.String()).Msg("LoRa joined")
	m.setState(StateLowPower)

	if m.opts.activation == lorawan.OTAA &&
		(m.opts.mode == lorawan.ModeVendor || m.opts.mode == lorawan.ModeVendorSlotted) {
		now := m.clock.Now()
		log.Info().
			Int64("unix", now.Unix()).
			Str("time", now.UTC().Format(time.RFC1123)).
			Msg("Network time")
	}

	m.setJoin(JoinJoined)
}

// synchronized reports whether LowPower polls a short tick instead of
// sleeping through the interval
func (m *Machine) synchronized() bool {
	return m.class == lorawan.ClassC || m.opts.mode.Synchronized()
}

func (m *Machine) lowPower(ctx context.Context) error {
	if m.synchronized() {
		if err := m.clock.Sleep(ctx, m.opts.syncTick); err != nil {
			return err
		}
		m.drainEvents()

		if m.state != StateReceiveComplete {
			period := uint64(m.opts.interval / m.opts.syncTick)
			if period == 0 {
				period = 1
			}
			// in slotted mode the beacon decides when to report
			if m.syncCount%period == 0 && !m.opts.mode.Synchronized() {
				m.setState(StateActive)
			}
		}
		m.syncCount++
		return nil
	}

	if err := m.clock.Sleep(ctx, m.opts.rxWindow); err != nil {
		return err
	}
	m.drainEvents()
	if m.state == StateReceiveComplete {
		return nil
	}

	if err := m.sleepUntilReport(ctx); err != nil {
		return err
	}
	m.drainEvents()
	if m.state == StateReceiveComplete {
		return nil
	}

	m.setState(StateActive)
	return nil
}

// sleepUntilReport covers the rest of the interval after the receive window.
// A receive during the sleep is only seen once it ends.
func (m *Machine) sleepUntilReport(ctx context.Context) error {
	d := m.opts.interval - m.opts.rxWindow
	if d < 0 {
		d = 0
	}

	if !m.opts.deepSleep {
		return m.clock.Sleep(ctx, d)
	}

	m.setLowPowerPin(false)
	err := m.radio.DeepSleep(ctx, d)
	m.setLowPowerPin(true)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		log.Warn().Err(err).Dur("duration", d).Msg("Deep sleep failed")
	}
	return nil
}

func (m *Machine) setLowPowerPin(level bool) {
	if m.lowPowerPin == nil || m.opts.mode != lorawan.ModeVendor {
		return
	}
	if err := m.lowPowerPin.Set(level); err != nil {
		log.Debug().Err(err).Bool("level", level).Msg("Low-power pin not driven")
	}
}

func (m *Machine) active() {
	r := m.store.Readings()
	levels := m.outputs.Levels()
	r.GPIO0, r.GPIO1 = levels[0], levels[1]

	payload := frame.Encode(r, m.opts.report)
	if len(payload) == 0 {
		m.counters.empty.Add(1)
		m.metrics.UplinkEmpty()
		m.setState(StateLowPower)
		return
	}

	priority := radio.PriorityNormal
	if m.beaconSeen && m.beacon == radio.BeaconSynchronizedSlot {
		priority = radio.PriorityHigh
	}

	err := m.radio.Submit(radio.Uplink{
		Port:      m.opts.port,
		Payload:   payload,
		Priority:  priority,
		Confirmed: m.opts.confirmed,
	})
	if err != nil {
		log.Warn().Err(err).Msg("TX: Forbidden")
		m.counters.rejected.Add(1)
		m.metrics.UplinkRejected()
		m.setState(StateLowPower)
		return
	}

	now := m.clock.Now()
	hexFrame := fmt.Sprintf("% X", payload)
	log.Info().
		Str("frame", hexFrame).
		Uint8("port", m.opts.port).
		Str("priority", priority.String()).
		Msg("TX")

	m.counters.uplinks.Add(1)
	m.metrics.UplinkSubmitted(len(payload))
	m.lastUplink.Store(&UplinkRecord{
		Time:     now,
		Port:     m.opts.port,
		Frame:    hexFrame,
		Priority: priority.String(),
		Readings: r,
	})

	m.txSince = now
	m.setState(StateTransmitting)
}

func (m *Machine) transmitting(ctx context.Context) error {
	if m.opts.txDoneTimeout > 0 && m.clock.Now().Sub(m.txSince) >= m.opts.txDoneTimeout {
		log.Warn().
			Dur("timeout", m.opts.txDoneTimeout).
			Msg("No transmit completion, back to low power")
		m.setState(StateLowPower)
		return nil
	}
	return m.clock.Sleep(ctx, m.opts.syncTick)
}

func (m *Machine) receiveComplete() {
	ev := m.pending
	m.pending = nil

	if ev != nil && len(ev.Payload) != 0 {
		log.Info().
			Str("data", fmt.Sprintf("% X", ev.Payload)).
			Int("len", len(ev.Payload)).
			Uint8("port", ev.Port).
			Int16("rssi", ev.RSSI).
			Int8("snr", ev.SNR).
			Msg("RX")
		m.counters.downlinks.Add(1)
		m.dispatcher.Dispatch(*ev)
	}

	m.setState(StateLowPower)
}

func (m *Machine) drainEvents() {
	m.events.Drain(m.apply)
}

func (m *Machine) apply(ev radio.Event) {
	switch ev.Kind {
	case radio.EventTxDone:
		log.Debug().Str("result", ev.TxResult.String()).Msg("TX done")
		m.counters.txDone.Add(1)
		m.metrics.TxDone(ev.TxResult.String())
		m.setState(StateLowPower)

	case radio.EventRxDone:
		// a second downlink before handling replaces the first
		d := ev.Downlink
		m.pending = &d
		m.setState(StateReceiveComplete)

	case radio.EventBeacon:
		m.beacon, m.beaconSeen = ev.Beacon, true
		m.beaconMirror.Store(int32(ev.Beacon))
		log.Debug().
			Str("beacon", ev.Beacon.String()).
			Int16("rssi", ev.RSSI).
			Int8("snr", ev.SNR).
			Msg("Beacon")

		switch ev.Beacon {
		case radio.BeaconLottery1, radio.BeaconLottery2:
			if !m.radio.SlotEnabled() {
				m.setState(StateActive)
			}
		case radio.BeaconSynchronizedSlot:
			m.setState(StateActive)
		}
	}
}

func (m *Machine) setState(s State) {
	if s != m.state {
		m.metrics.StateChanged(s.String(), int(s))
	}
	m.state = s
	m.stateMirror.Store(int32(s))
}

func (m *Machine) setJoin(j JoinState) {
	m.join = j
	m.joinMirror.Store(int32(j))
}

func (m *Machine) setClass(c lorawan.DeviceClass) {
	m.class = c
	m.classMirror.Store(int32(c))
}
