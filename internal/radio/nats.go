package radio

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"

	"github.com/lorawan-server/sensor-node/internal/clock"
	"github.com/lorawan-server/sensor-node/internal/config"
	"github.com/lorawan-server/sensor-node/pkg/lorawan"
)

// busyTimeout bounds how long an unanswered frame blocks the next submit
const busyTimeout = 30 * time.Second

type publisher interface {
	Publish(subj string, data []byte) error
}

// NATSRadio bridges the radio contract onto NATS subjects under
// <prefix>.<deveui>. A modem gateway on the other side publishes join,
// txdone, down and beacon notifications and consumes up and config.
type NATSRadio struct {
	nc     *nats.Conn
	pub    publisher
	prefix string
	clock  clock.Clock

	mu       sync.Mutex
	txDone   func(TxResult)
	rxDone   func(DownlinkEvent)
	beacon   func(BeaconState, int16, int8)
	settings Settings
	subs     []*nats.Subscription

	joined  atomic.Bool
	slot    atomic.Bool
	class   atomic.Uint32
	pending atomic.Int64
	rtcComp atomic.Bool
}

var _ Radio = (*NATSRadio)(nil)

// uplinkMessage is published on <prefix>.up
type uplinkMessage struct {
	ID        string    `json:"id"`
	DevEUI    string    `json:"devEUI"`
	Port      uint8     `json:"port"`
	Data      []byte    `json:"data"`
	Priority  string    `json:"priority"`
	Confirmed bool      `json:"confirmed"`
	Time      time.Time `json:"time"`
}

// configMessage is published on <prefix>.config; the AppKey stays local
type configMessage struct {
	DevEUI     string `json:"devEUI"`
	DevAddr    string `json:"devAddr"`
	Mode       string `json:"mode"`
	Activation string `json:"activation"`
	Class      string `json:"class"`
	Frequency  uint32 `json:"frequency"`
	DataRate   int    `json:"dataRate"`
	TXPower    int    `json:"txPower"`
	RTCComp    bool   `json:"rtcAutoCompensation"`
}

type joinMessage struct {
	Joined bool   `json:"joined"`
	Class  string `json:"class,omitempty"`
}

type txDoneMessage struct {
	Result string `json:"result"`
}

type downMessage struct {
	Port uint8  `json:"port"`
	Data []byte `json:"data"`
	RSSI int16  `json:"rssi"`
	SNR  int8   `json:"snr"`
	Ack  bool   `json:"ack"`
}

type beaconMessage struct {
	State       string `json:"state"`
	RSSI        int16  `json:"rssi"`
	SNR         int8   `json:"snr"`
	SlotEnabled *bool  `json:"slotEnabled,omitempty"`
}

// NewNATSRadio creates a radio for devEUI. nc may be nil in tests that
// only exercise the handlers.
func NewNATSRadio(nc *nats.Conn, devEUI lorawan.EUI64, prefix string, clk clock.Clock) *NATSRadio {
	if clk == nil {
		clk = clock.Real{}
	}
	r := &NATSRadio{
		nc:     nc,
		prefix: fmt.Sprintf("%s.%s", prefix, devEUI),
		clock:  clk,
	}
	if nc != nil {
		r.pub = nc
	}
	r.class.Store(uint32(lorawan.ClassA))
	return r
}

func (r *NATSRadio) subject(leaf string) string {
	return r.prefix + "." + leaf
}

// Start subscribes to the gateway notifications
func (r *NATSRadio) Start() error {
	handlers := []struct {
		leaf string
		fn   nats.MsgHandler
	}{
		{"join", r.handleJoin},
		{"txdone", r.handleTxDone},
		{"down", r.handleDown},
		{"beacon", r.handleBeacon},
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, h := range handlers {
		sub, err := r.nc.Subscribe(r.subject(h.leaf), h.fn)
		if err != nil {
			return fmt.Errorf("subscribe %s: %w", h.leaf, err)
		}
		r.subs = append(r.subs, sub)
	}

	log.Info().
		Str("prefix", r.prefix).
		Int("subscriptions", len(r.subs)).
		Msg("NATS radio started")
	return nil
}

// Close drops the subscriptions; the connection belongs to the caller
func (r *NATSRadio) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, sub := range r.subs {
		if err := sub.Unsubscribe(); err != nil {
			log.Warn().Err(err).Str("subject", sub.Subject).Msg("Unsubscribe failed")
		}
	}
	r.subs = nil
}

func (r *NATSRadio) Configure(s Settings) error {
	r.mu.Lock()
	r.settings = s
	r.mu.Unlock()
	if s.Class != 0 {
		r.class.Store(uint32(s.Class))
	}
	return r.publishConfig()
}

func (r *NATSRadio) publishConfig() error {
	r.mu.Lock()
	s := r.settings
	r.mu.Unlock()

	data, err := json.Marshal(configMessage{
		DevEUI:     s.DevEUI.String(),
		DevAddr:    s.DevAddr.String(),
		Mode:       s.Mode.String(),
		Activation: string(s.Activation),
		Class:      s.Class.String(),
		Frequency:  s.Frequency,
		DataRate:   s.DataRate,
		TXPower:    s.TXPower,
		RTCComp:    r.rtcComp.Load(),
	})
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if r.pub == nil {
		return nil
	}
	if err := r.pub.Publish(r.subject("config"), data); err != nil {
		return fmt.Errorf("publish config: %w", err)
	}
	return nil
}

func (r *NATSRadio) OnTxDone(fn func(TxResult)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.txDone = fn
}

func (r *NATSRadio) OnRxDone(fn func(DownlinkEvent)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rxDone = fn
}

func (r *NATSRadio) OnBeacon(fn func(BeaconState, int16, int8)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.beacon = fn
}

func (r *NATSRadio) Joined() bool { return r.joined.Load() }

func (r *NATSRadio) DeviceClass() (lorawan.DeviceClass, error) {
	if !r.joined.Load() {
		return 0, ErrNotJoined
	}
	return lorawan.DeviceClass(r.class.Load()), nil
}

func (r *NATSRadio) SlotEnabled() bool { return r.slot.Load() }

// Submit publishes the frame. Only one frame may be outstanding until the
// gateway reports txdone or busyTimeout passes.
func (r *NATSRadio) Submit(u Uplink) error {
	if !r.joined.Load() {
		return ErrNotJoined
	}
	if r.pub == nil {
		return fmt.Errorf("%w: no NATS connection", ErrForbidden)
	}

	now := r.clock.Now()
	prev := r.pending.Load()
	if prev != 0 && now.Sub(time.Unix(0, prev)) < busyTimeout {
		return ErrBusy
	}
	if !r.pending.CompareAndSwap(prev, now.UnixNano()) {
		return ErrBusy
	}

	r.mu.Lock()
	devEUI := r.settings.DevEUI
	r.mu.Unlock()

	msg := uplinkMessage{
		ID:        uuid.New().String(),
		DevEUI:    devEUI.String(),
		Port:      u.Port,
		Data:      u.Payload,
		Priority:  u.Priority.String(),
		Confirmed: u.Confirmed,
		Time:      now.UTC(),
	}
	data, err := json.Marshal(msg)
	if err != nil {
		r.pending.Store(0)
		return fmt.Errorf("marshal uplink: %w", err)
	}
	if err := r.pub.Publish(r.subject("up"), data); err != nil {
		r.pending.Store(0)
		return fmt.Errorf("%w: %v", ErrForbidden, err)
	}

	log.Debug().
		Str("id", msg.ID).
		Uint8("port", u.Port).
		Int("len", len(u.Payload)).
		Msg("Uplink published")
	return nil
}

func (r *NATSRadio) DeepSleep(ctx context.Context, d time.Duration) error {
	return r.clock.Sleep(ctx, d)
}

func (r *NATSRadio) EnableRTCAutoCompensation(enable bool) error {
	r.rtcComp.Store(enable)
	return r.publishConfig()
}

func (r *NATSRadio) handleJoin(msg *nats.Msg) {
	var m joinMessage
	if err := json.Unmarshal(msg.Data, &m); err != nil {
		log.Error().Err(err).Str("subject", msg.Subject).Msg("Failed to unmarshal join notification")
		return
	}
	if m.Class != "" {
		class, err := lorawan.ParseDeviceClass(m.Class)
		if err != nil {
			log.Warn().Err(err).Msg("Ignoring join class")
		} else {
			r.class.Store(uint32(class))
		}
	}
	r.joined.Store(m.Joined)
	if !m.Joined {
		r.pending.Store(0)
	}
	log.Debug().Bool("joined", m.Joined).Msg("Join notification")
}

func (r *NATSRadio) handleTxDone(msg *nats.Msg) {
	var m txDoneMessage
	if err := json.Unmarshal(msg.Data, &m); err != nil {
		log.Error().Err(err).Str("subject", msg.Subject).Msg("Failed to unmarshal txdone")
		return
	}
	result, err := ParseTxResult(m.Result)
	if err != nil {
		log.Error().Err(err).Msg("Unknown tx result")
		return
	}
	r.pending.Store(0)

	r.mu.Lock()
	fn := r.txDone
	r.mu.Unlock()
	if fn != nil {
		fn(result)
	}
}

func (r *NATSRadio) handleDown(msg *nats.Msg) {
	var m downMessage
	if err := json.Unmarshal(msg.Data, &m); err != nil {
		log.Error().Err(err).Str("subject", msg.Subject).Msg("Failed to unmarshal downlink")
		return
	}
	ev := DownlinkEvent{Port: m.Port, Payload: m.Data, RSSI: m.RSSI, SNR: m.SNR, Status: RxNormal}
	if m.Ack {
		ev.Status = RxTxAcked
	}

	r.mu.Lock()
	fn := r.rxDone
	r.mu.Unlock()
	if fn != nil {
		fn(ev)
	}
}

func (r *NATSRadio) handleBeacon(msg *nats.Msg) {
	var m beaconMessage
	if err := json.Unmarshal(msg.Data, &m); err != nil {
		log.Error().Err(err).Str("subject", msg.Subject).Msg("Failed to unmarshal beacon")
		return
	}
	state, err := ParseBeaconState(m.State)
	if err != nil {
		log.Error().Err(err).Msg("Unknown beacon state")
		return
	}
	if m.SlotEnabled != nil {
		r.slot.Store(*m.SlotEnabled)
	}

	r.mu.Lock()
	fn := r.beacon
	r.mu.Unlock()
	if fn != nil {
		fn(state, m.RSSI, m.SNR)
	}
}

// DialNATS connects with exponential backoff
func DialNATS(cfg config.NATSConfig, name string) (*nats.Conn, error) {
	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = 30 * time.Second
	retries := cfg.ConnectRetries
	if retries < 1 {
		retries = 1
	}

	var nc *nats.Conn
	err := backoff.Retry(func() error {
		var err error
		nc, err = nats.Connect(cfg.URL,
			nats.Name(name),
			nats.UserInfo(cfg.Username, cfg.Password),
			nats.ReconnectWait(cfg.ReconnectInterval),
			nats.MaxReconnects(cfg.MaxReconnects),
			nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
				if err != nil {
					log.Warn().Err(err).Msg("NATS disconnected")
				}
			}),
			nats.ReconnectHandler(func(c *nats.Conn) {
				log.Info().Str("url", c.ConnectedUrl()).Msg("NATS reconnected")
			}),
		)
		if err != nil {
			log.Warn().Err(err).Str("url", cfg.URL).Msg("Failed to connect to NATS")
		}
		return err
	}, backoff.WithMaxRetries(bo, uint64(retries-1)))
	if err != nil {
		return nil, fmt.Errorf("connect NATS after %d attempts: %w", retries, err)
	}

	log.Info().Str("url", nc.ConnectedUrl()).Msg("Connected to NATS")
	return nc, nil
}
