package sensor

import (
	"context"
	"fmt"
)

// TempHum is one temperature/humidity measurement
type TempHum struct {
	Celsius          float64
	RelativeHumidity float64
}

// CO2VOC is one decoded iAQ measurement
type CO2VOC struct {
	CO2 uint16 // ppm
	VOC uint16 // ppb
}

// TempHumReader produces one raw temperature/humidity reading
type TempHumReader interface {
	ReadTempHum(ctx context.Context) (TempHum, error)
}

// CO2VOCReader produces one raw CO2/VOC reading
type CO2VOCReader interface {
	ReadCO2VOC(ctx context.Context) (CO2VOC, error)
}

// GasReader produces one CO2 concentration from the analog gas cell, or
// ErrBelowRange
type GasReader interface {
	ReadGasPPM(ctx context.Context) (int, error)
}

// iAQ-core status byte values that carry a valid measurement
const (
	iaqStatusOK      byte = 0x00
	iaqStatusRunning byte = 0x10

	IAQFrameLen = 9
)

// DecodeIAQ decodes the 9 byte iAQ-core frame: CO2 in bytes 0-1, status in
// byte 2, TVOC in bytes 7-8.
func DecodeIAQ(b []byte) (CO2VOC, error) {
	if len(b) < IAQFrameLen {
		return CO2VOC{}, fmt.Errorf("%w: %d of %d bytes", ErrShortRead, len(b), IAQFrameLen)
	}
	if status := b[2]; status != iaqStatusOK && status != iaqStatusRunning {
		return CO2VOC{}, fmt.Errorf("%w: 0x%02x", ErrIAQStatus, status)
	}
	return CO2VOC{
		CO2: uint16(b[0])<<8 | uint16(b[1]),
		VOC: uint16(b[7])<<8 | uint16(b[8]),
	}, nil
}
