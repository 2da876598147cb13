package sensor

import (
	"fmt"
	"strings"

	"github.com/lorawan-server/sensor-node/internal/frame"
)

// CO2Source selects which transducer fills the CO2 record
type CO2Source string

const (
	CO2FromIAQ CO2Source = "iaq"
	CO2FromGas CO2Source = "gas"
)

func ParseCO2Source(s string) (CO2Source, error) {
	switch CO2Source(strings.ToLower(strings.TrimSpace(s))) {
	case CO2FromIAQ, "":
		return CO2FromIAQ, nil
	case CO2FromGas:
		return CO2FromGas, nil
	}
	return "", fmt.Errorf("invalid co2 source: %q", s)
}

// Store groups the reading slots of one node
type Store struct {
	TempHum Slot
	CO2VOC  Slot
	Gas     Slot

	co2Source CO2Source
}

func NewStore(co2Source CO2Source) *Store {
	return &Store{co2Source: co2Source}
}

// Readings snapshots the slots into frame units. GPIO levels are left to
// the caller.
func (s *Store) Readings() frame.Readings {
	temp, hum := UnpackTempHum(s.TempHum.Load())
	co2, voc := UnpackCO2VOC(s.CO2VOC.Load())
	if s.co2Source == CO2FromGas {
		co2 = uint16(s.Gas.Load())
	}
	return frame.Readings{
		Temperature: temp,
		Humidity:    hum,
		CO2:         co2,
		VOC:         voc,
	}
}
