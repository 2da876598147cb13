package radio

import (
	"github.com/rs/zerolog/log"

	"github.com/lorawan-server/sensor-node/internal/metrics"
)

// DefaultEventCapacity bounds the notifications buffered between two polls
const DefaultEventCapacity = 32

// EventKind identifies a radio notification
type EventKind uint8

const (
	EventTxDone EventKind = iota
	EventRxDone
	EventBeacon
)

func (k EventKind) String() string {
	switch k {
	case EventTxDone:
		return "tx_done"
	case EventRxDone:
		return "rx_done"
	case EventBeacon:
		return "beacon"
	default:
		return "unknown"
	}
}

// Event is one notification queued for the state machine
type Event struct {
	Kind     EventKind
	TxResult TxResult
	Downlink DownlinkEvent
	Beacon   BeaconState
	RSSI     int16
	SNR      int8
}

// EventSink receives the radio callbacks on foreign goroutines and queues
// them on a bounded channel. The state machine is the only consumer.
type EventSink struct {
	ch      chan Event
	metrics *metrics.Metrics
}

func NewEventSink(capacity int, m *metrics.Metrics) *EventSink {
	if capacity <= 0 {
		capacity = DefaultEventCapacity
	}
	return &EventSink{ch: make(chan Event, capacity), metrics: m}
}

// Attach registers the sink's handlers with the radio
func (s *EventSink) Attach(r Radio) {
	r.OnTxDone(s.TxDone)
	r.OnRxDone(s.RxDone)
}

// AttachBeacon registers the beacon handler; only the slotted mode tracks
// beacons.
func (s *EventSink) AttachBeacon(r Radio) {
	r.OnBeacon(s.Beacon)
}

func (s *EventSink) TxDone(result TxResult) {
	s.push(Event{Kind: EventTxDone, TxResult: result})
}

// RxDone copies the payload; the radio may reuse its buffer after return
func (s *EventSink) RxDone(ev DownlinkEvent) {
	if len(ev.Payload) > MaxDownlinkPayload {
		log.Warn().Int("len", len(ev.Payload)).Uint8("port", ev.Port).Msg("Downlink larger than receive buffer, truncated")
		ev.Payload = ev.Payload[:MaxDownlinkPayload]
	}
	ev.Payload = append([]byte(nil), ev.Payload...)
	s.push(Event{Kind: EventRxDone, Downlink: ev, RSSI: ev.RSSI, SNR: ev.SNR})
}

func (s *EventSink) Beacon(state BeaconState, rssi int16, snr int8) {
	s.push(Event{Kind: EventBeacon, Beacon: state, RSSI: rssi, SNR: snr})
}

func (s *EventSink) push(ev Event) {
	select {
	case s.ch <- ev:
	default:
		log.Warn().Str("kind", ev.Kind.String()).Msg("Radio event queue full, event dropped")
		s.metrics.EventDropped(ev.Kind.String())
	}
}

// Drain hands queued events to fn without blocking and returns how many
// were handled. At most one queue's worth is taken per call.
func (s *EventSink) Drain(fn func(Event)) int {
	n := 0
	for n < cap(s.ch) {
		select {
		case ev := <-s.ch:
			fn(ev)
			n++
		default:
			return n
		}
	}
	return n
}

// Len is the number of queued events
func (s *EventSink) Len() int { return len(s.ch) }
