// Package downlink interprets received payloads by port.
package downlink

import (
	"github.com/rs/zerolog/log"

	"github.com/lorawan-server/sensor-node/internal/metrics"
	"github.com/lorawan-server/sensor-node/internal/radio"
)

const (
	// PortOutput0 drives output channel 0
	PortOutput0 uint8 = 5
	// PortOutput1 drives output channel 1
	PortOutput1 uint8 = 6
)

// Setter applies an output level
type Setter interface {
	Set(ch int, level bool) error
}

type Dispatcher struct {
	outputs Setter
	metrics *metrics.Metrics
}

func NewDispatcher(outputs Setter, m *metrics.Metrics) *Dispatcher {
	return &Dispatcher{outputs: outputs, metrics: m}
}

// Dispatch applies ev. Output commands carry exactly one byte; '1' sets the
// channel high and any other byte sets it low. Everything else is ignored.
func (d *Dispatcher) Dispatch(ev radio.DownlinkEvent) {
	d.metrics.Downlink(ev.Port)

	var ch int
	switch ev.Port {
	case PortOutput0:
		ch = 0
	case PortOutput1:
		ch = 1
	default:
		log.Debug().Uint8("port", ev.Port).Int("len", len(ev.Payload)).Msg("Downlink on unhandled port ignored")
		return
	}

	if len(ev.Payload) != 1 {
		log.Debug().Uint8("port", ev.Port).Int("len", len(ev.Payload)).Msg("Output command must be one byte, ignored")
		return
	}

	level := ev.Payload[0] == '1'
	if err := d.outputs.Set(ch, level); err != nil {
		log.Warn().Err(err).Int("channel", ch).Bool("level", level).Msg("Output sink failed")
	}
	d.metrics.OutputCommand(ch, level)

	log.Info().Int("channel", ch).Bool("level", level).Msg("Output set from downlink")
}
