// Package frame builds the TLV uplink payload reported every duty cycle.
package frame

// Readings is the snapshot the encoder serializes
type Readings struct {
	// Temperature in hundredths of a degree Celsius
	Temperature int16 `json:"temperature"`
	// Humidity in hundredths of a percent
	Humidity uint16 `json:"humidity"`
	CO2      uint16 `json:"co2"`
	VOC      uint16 `json:"voc"`
	GPIO0    bool   `json:"gpio0"`
	GPIO1    bool   `json:"gpio1"`
}

// Encode serializes the enabled categories in fixed tag order behind a
// (length, publish) header. It returns nil when nothing is enabled.
func Encode(r Readings, enabled Category) []byte {
	size := Size(enabled)
	if size == 0 {
		return nil
	}

	buf := make([]byte, HeaderLen, size)
	for _, o := range order {
		if !enabled.Has(o.cat) {
			continue
		}
		buf = append(buf, o.tag, byte(o.size))
		switch o.cat {
		case Temperature:
			sign, mag := signPositive, uint16(r.Temperature)
			if r.Temperature < 0 {
				sign, mag = signNegative, uint16(-int32(r.Temperature))
			}
			buf = append(buf, sign, byte(mag>>8), byte(mag))
		case Humidity:
			buf = appendUint16(buf, r.Humidity)
		case CO2:
			buf = appendUint16(buf, r.CO2)
		case VOC:
			buf = appendUint16(buf, r.VOC)
		case GPIO0:
			buf = append(buf, boolByte(r.GPIO0))
		case GPIO1:
			buf = append(buf, boolByte(r.GPIO1))
		}
	}

	buf[0] = byte(len(buf) - HeaderLen)
	buf[1] = TypePublish
	return buf
}

func appendUint16(b []byte, v uint16) []byte {
	return append(b, byte(v>>8), byte(v))
}

func boolByte(v bool) byte {
	if v {
		return 1
	}
	return 0
}
