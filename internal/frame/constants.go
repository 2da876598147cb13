package frame

// Record tags. The downlink port that drives a GPIO channel equals its tag.
const (
	TagTemperature byte = 0x01
	TagHumidity    byte = 0x02
	TagCO2         byte = 0x03
	TagVOC         byte = 0x04
	TagGPIO0       byte = 0x05
	TagGPIO1       byte = 0x06
)

const (
	// TypePublish is the second header byte of every uplink frame
	TypePublish byte = 0x0C

	HeaderLen = 2
	// MaxLen bounds a complete frame including the header
	MaxLen = 64

	signPositive byte = 0x00
	signNegative byte = 0xFF
)
