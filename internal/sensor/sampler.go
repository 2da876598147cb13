// Package sensor runs the periodic transducer samplers and publishes their
// latest readings into lock-free slots read by the duty-cycle loop.
package sensor

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/lorawan-server/sensor-node/internal/clock"
	"github.com/lorawan-server/sensor-node/internal/metrics"
)

// Sampling cadences of the firmware threads
const (
	TempHumInterval = 1 * time.Second
	CO2VOCInterval  = 2 * time.Second
	GasInterval     = 1 * time.Second
)

// Sampler polls one transducer forever and publishes into its slot
type Sampler struct {
	name      string
	interval  time.Duration
	readFirst bool
	read      func(ctx context.Context) (uint32, error)
	slot      *Slot
	bus       *Bus
	clock     clock.Clock
	metrics   *metrics.Metrics
}

// NewTempHumSampler sleeps then reads, publishing PackTempHum values
func NewTempHumSampler(r TempHumReader, slot *Slot, bus *Bus, clk clock.Clock, m *metrics.Metrics) *Sampler {
	return &Sampler{
		name:     "temp_hum",
		interval: TempHumInterval,
		read: func(ctx context.Context) (uint32, error) {
			th, err := r.ReadTempHum(ctx)
			if err != nil {
				return 0, err
			}
			return PackTempHum(centi(th.Celsius), ucenti(th.RelativeHumidity)), nil
		},
		slot: slot, bus: bus, clock: clk, metrics: m,
	}
}

// NewCO2VOCSampler reads then sleeps; the iAQ part needs two seconds
// between reads
func NewCO2VOCSampler(r CO2VOCReader, slot *Slot, bus *Bus, clk clock.Clock, m *metrics.Metrics) *Sampler {
	return &Sampler{
		name:      "co2_voc",
		interval:  CO2VOCInterval,
		readFirst: true,
		read: func(ctx context.Context) (uint32, error) {
			cv, err := r.ReadCO2VOC(ctx)
			if err != nil {
				return 0, err
			}
			return PackCO2VOC(cv.CO2, cv.VOC), nil
		},
		slot: slot, bus: bus, clock: clk, metrics: m,
	}
}

// NewGasSampler publishes the gas cell's CO2 ppm; below range becomes
// GasBelowRange. The analog cell is not on the I2C bus.
func NewGasSampler(r GasReader, slot *Slot, clk clock.Clock, m *metrics.Metrics) *Sampler {
	return &Sampler{
		name:     "gas",
		interval: GasInterval,
		read: func(ctx context.Context) (uint32, error) {
			ppm, err := r.ReadGasPPM(ctx)
			if errors.Is(err, ErrBelowRange) {
				return uint32(GasBelowRange), nil
			}
			if err != nil {
				return 0, err
			}
			if ppm < 0 {
				ppm = 0
			}
			if ppm >= int(GasBelowRange) {
				ppm = int(GasBelowRange) - 1
			}
			return uint32(ppm), nil
		},
		slot: slot, clock: clk, metrics: m,
	}
}

func (s *Sampler) Name() string { return s.name }

// Run loops until ctx is done
func (s *Sampler) Run(ctx context.Context) error {
	log.Debug().Str("sensor", s.name).Dur("interval", s.interval).Msg("Sampler started")
	for {
		if !s.readFirst {
			if err := s.clock.Sleep(ctx, s.interval); err != nil {
				return nil
			}
		}

		s.SampleOnce(ctx)

		if s.readFirst {
			if err := s.clock.Sleep(ctx, s.interval); err != nil {
				return nil
			}
		}
	}
}

// SampleOnce takes one reading. A failed read leaves the slot untouched.
func (s *Sampler) SampleOnce(ctx context.Context) {
	transaction := func(ctx context.Context) error {
		v, err := s.read(ctx)
		if err != nil {
			return err
		}
		s.slot.Store(v)
		return nil
	}

	var err error
	if s.bus != nil {
		err = s.bus.Do(ctx, transaction)
	} else {
		err = transaction(ctx)
	}

	if err != nil {
		if ctx.Err() == nil {
			log.Debug().Err(err).Str("sensor", s.name).Msg("Sensor read failed")
		}
		s.metrics.SensorRead(s.name, false)
		return
	}
	s.metrics.SensorRead(s.name, true)
}
