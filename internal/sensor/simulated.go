package sensor

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"time"
)

// SimTempHum is a host stand-in for the HDC1510: a slow random walk
type SimTempHum struct {
	mu       sync.Mutex
	rnd      *rand.Rand
	celsius  float64
	humidity float64
}

func NewSimTempHum(seed int64) *SimTempHum {
	return &SimTempHum{rnd: rand.New(rand.NewSource(seed)), celsius: 22.5, humidity: 45}
}

func (s *SimTempHum) ReadTempHum(ctx context.Context) (TempHum, error) {
	if err := ctx.Err(); err != nil {
		return TempHum{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.celsius = clamp(s.celsius+s.rnd.NormFloat64()*0.05, -40, 125)
	s.humidity = clamp(s.humidity+s.rnd.NormFloat64()*0.2, 0, 100)
	return TempHum{Celsius: s.celsius, RelativeHumidity: s.humidity}, nil
}

// SimIAQ emits raw iAQ-core frames. The first warmup reads report the
// warm-up status so that DecodeIAQ rejects them like the real part.
type SimIAQ struct {
	mu     sync.Mutex
	rnd    *rand.Rand
	warmup int
	co2    float64
	voc    float64
}

func NewSimIAQ(seed int64, warmup int) *SimIAQ {
	return &SimIAQ{rnd: rand.New(rand.NewSource(seed)), warmup: warmup, co2: 600, voc: 125}
}

// Frame returns the next raw 9 byte frame
func (s *SimIAQ) Frame() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()

	status := iaqStatusOK
	if s.warmup > 0 {
		s.warmup--
		status = 0x20
	}
	s.co2 = clamp(s.co2+s.rnd.NormFloat64()*8, 450, 2000)
	s.voc = clamp(s.voc+s.rnd.NormFloat64()*3, 125, 600)

	co2, voc := uint16(s.co2), uint16(s.voc)
	return []byte{byte(co2 >> 8), byte(co2), status, 0, 0, 0, 0, byte(voc >> 8), byte(voc)}
}

func (s *SimIAQ) ReadCO2VOC(ctx context.Context) (CO2VOC, error) {
	if err := ctx.Err(); err != nil {
		return CO2VOC{}, err
	}
	return DecodeIAQ(s.Frame())
}

// SimGas stands in for the SEN0159 analog cell. Averaging over samples is
// the driver's job; the simulator sleeps sampleGap between samples.
type SimGas struct {
	mu        sync.Mutex
	rnd       *rand.Rand
	samples   int
	sampleGap time.Duration
	ppm       float64
}

func NewSimGas(seed int64, samples int, sampleGap time.Duration) *SimGas {
	if samples < 1 {
		samples = 1
	}
	return &SimGas{rnd: rand.New(rand.NewSource(seed)), samples: samples, sampleGap: sampleGap, ppm: 500}
}

func (s *SimGas) ReadGasPPM(ctx context.Context) (int, error) {
	var sum float64
	for i := 0; i < s.samples; i++ {
		if i > 0 && s.sampleGap > 0 {
			t := time.NewTimer(s.sampleGap)
			select {
			case <-ctx.Done():
				t.Stop()
				return 0, ctx.Err()
			case <-t.C:
			}
		}
		s.mu.Lock()
		s.ppm = clamp(s.ppm+s.rnd.NormFloat64()*15, 300, 5000)
		sum += s.ppm
		s.mu.Unlock()
	}

	avg := sum / float64(s.samples)
	if avg < 400 {
		return 0, ErrBelowRange
	}
	return int(math.Round(avg)), nil
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
