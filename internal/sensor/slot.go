package sensor

import (
	"math"
	"sync/atomic"
)

// Slot holds the latest packed reading of one transducer. A slot that was
// never written reads zero.
type Slot struct {
	v atomic.Uint32
}

func (s *Slot) Load() uint32 { return s.v.Load() }

func (s *Slot) Store(v uint32) { s.v.Store(v) }

// GasBelowRange is published to the gas slot when the sensor reports "<400"
const GasBelowRange uint16 = 0xFFFF

// PackTempHum stores humidity in the high half and temperature in the low half
func PackTempHum(tempCenti int16, humCenti uint16) uint32 {
	return uint32(humCenti)<<16 | uint32(uint16(tempCenti))
}

func UnpackTempHum(v uint32) (tempCenti int16, humCenti uint16) {
	return int16(uint16(v)), uint16(v >> 16)
}

// PackCO2VOC stores CO2 ppm in the high half and VOC ppb in the low half
func PackCO2VOC(co2, voc uint16) uint32 {
	return uint32(co2)<<16 | uint32(voc)
}

func UnpackCO2VOC(v uint32) (co2, voc uint16) {
	return uint16(v >> 16), uint16(v)
}

// centi converts to hundredths and saturates to the int16 range
func centi(v float64) int16 {
	c := math.Round(v * 100)
	if c > math.MaxInt16 {
		return math.MaxInt16
	}
	if c < math.MinInt16 {
		return math.MinInt16
	}
	return int16(c)
}

func ucenti(v float64) uint16 {
	c := math.Round(v * 100)
	if c > math.MaxUint16 {
		return math.MaxUint16
	}
	if c < 0 {
		return 0
	}
	return uint16(c)
}
