package lorawan

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownRegion is returned for region names not in the table
var ErrUnknownRegion = errors.New("unknown region")

// RegionConfiguration represents region-specific configuration
type RegionConfiguration struct {
	Name                string
	MinFrequency        uint32
	MaxFrequency        uint32
	DefaultChannels     []Channel
	DataRates           []DataRate
	MaxPayloadSizePerDR map[int]int
	MaxTXPowerDBm       int
	DefaultRX2DR        int
	DefaultRX2Freq      uint32
}

// Channel represents a LoRa channel
type Channel struct {
	Frequency uint32
	MinDR     int
	MaxDR     int
}

// DataRate represents a data rate configuration
type DataRate struct {
	SpreadFactor int
	Bandwidth    int
}

// GetRegionConfiguration returns configuration for a region
func GetRegionConfiguration(region string) (*RegionConfiguration, error) {
	switch strings.ToUpper(region) {
	case "EU868":
		return &EU868Configuration, nil
	case "US915":
		return &US915Configuration, nil
	case "AS923":
		return &AS923Configuration, nil
	case "CN470", "CN470_510":
		return &CN470Configuration, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownRegion, region)
	}
}

// ValidateFrequency checks the frequency lies inside the band
func (r *RegionConfiguration) ValidateFrequency(freq uint32) error {
	if freq < r.MinFrequency || freq > r.MaxFrequency {
		return fmt.Errorf("frequency %d Hz outside %s band (%d-%d Hz)", freq, r.Name, r.MinFrequency, r.MaxFrequency)
	}
	return nil
}

// ValidateDataRate checks the data rate index exists in the region
func (r *RegionConfiguration) ValidateDataRate(dr int) error {
	if dr < 0 || dr >= len(r.DataRates) {
		return fmt.Errorf("data rate DR%d not defined for %s (DR0-DR%d)", dr, r.Name, len(r.DataRates)-1)
	}
	return nil
}

// ValidateTXPower checks the EIRP limit
func (r *RegionConfiguration) ValidateTXPower(dBm int) error {
	if dBm < 0 || dBm > r.MaxTXPowerDBm {
		return fmt.Errorf("tx power %d dBm outside %s limit (0-%d dBm)", dBm, r.Name, r.MaxTXPowerDBm)
	}
	return nil
}

// MaxPayloadSize returns the application payload limit for a data rate, or 0
func (r *RegionConfiguration) MaxPayloadSize(dr int) int {
	return r.MaxPayloadSizePerDR[dr]
}

// EU868Configuration for EU 868MHz band
var EU868Configuration = RegionConfiguration{
	Name:         "EU868",
	MinFrequency: 863000000,
	MaxFrequency: 870000000,
	DefaultChannels: []Channel{
		{Frequency: 868100000, MinDR: 0, MaxDR: 5},
		{Frequency: 868300000, MinDR: 0, MaxDR: 5},
		{Frequency: 868500000, MinDR: 0, MaxDR: 5},
	},
	DataRates: []DataRate{
		{SpreadFactor: 12, Bandwidth: 125}, // DR0
		{SpreadFactor: 11, Bandwidth: 125}, // DR1
		{SpreadFactor: 10, Bandwidth: 125}, // DR2
		{SpreadFactor: 9, Bandwidth: 125},  // DR3
		{SpreadFactor: 8, Bandwidth: 125},  // DR4
		{SpreadFactor: 7, Bandwidth: 125},  // DR5
		{SpreadFactor: 7, Bandwidth: 250},  // DR6
	},
	MaxPayloadSizePerDR: map[int]int{
		0: 51,
		1: 51,
		2: 51,
		3: 115,
		4: 222,
		5: 222,
		6: 222,
	},
	MaxTXPowerDBm:  16,
	DefaultRX2DR:   0,
	DefaultRX2Freq: 869525000,
}

// US915Configuration for US 915MHz band
var US915Configuration = RegionConfiguration{
	Name:         "US915",
	MinFrequency: 902000000,
	MaxFrequency: 928000000,
	DataRates: []DataRate{
		{SpreadFactor: 10, Bandwidth: 125}, // DR0
		{SpreadFactor: 9, Bandwidth: 125},  // DR1
		{SpreadFactor: 8, Bandwidth: 125},  // DR2
		{SpreadFactor: 7, Bandwidth: 125},  // DR3
		{SpreadFactor: 8, Bandwidth: 500},  // DR4
	},
	MaxPayloadSizePerDR: map[int]int{
		0: 11,
		1: 53,
		2: 125,
		3: 242,
		4: 242,
	},
	MaxTXPowerDBm:  30,
	DefaultRX2DR:   8,
	DefaultRX2Freq: 923300000,
}

// AS923Configuration for AS 923MHz band; the WISE modules default to 923.3MHz
var AS923Configuration = RegionConfiguration{
	Name:         "AS923",
	MinFrequency: 915000000,
	MaxFrequency: 928000000,
	DefaultChannels: []Channel{
		{Frequency: 923200000, MinDR: 0, MaxDR: 5},
		{Frequency: 923400000, MinDR: 0, MaxDR: 5},
	},
	DataRates: []DataRate{
		{SpreadFactor: 12, Bandwidth: 125}, // DR0
		{SpreadFactor: 11, Bandwidth: 125}, // DR1
		{SpreadFactor: 10, Bandwidth: 125}, // DR2
		{SpreadFactor: 9, Bandwidth: 125},  // DR3
		{SpreadFactor: 8, Bandwidth: 125},  // DR4
		{SpreadFactor: 7, Bandwidth: 125},  // DR5
	},
	MaxPayloadSizePerDR: map[int]int{
		0: 59, 1: 59, 2: 59, 3: 123, 4: 250, 5: 250,
	},
	MaxTXPowerDBm:  20,
	DefaultRX2DR:   2,
	DefaultRX2Freq: 923200000,
}

// CN470Configuration for China 470-510MHz band
var CN470Configuration = RegionConfiguration{
	Name:            "CN470",
	MinFrequency:    470000000,
	MaxFrequency:    510000000,
	DefaultChannels: generateCN470DefaultChannels(),
	DataRates: []DataRate{
		{SpreadFactor: 12, Bandwidth: 125}, // DR0
		{SpreadFactor: 11, Bandwidth: 125}, // DR1
		{SpreadFactor: 10, Bandwidth: 125}, // DR2
		{SpreadFactor: 9, Bandwidth: 125},  // DR3
		{SpreadFactor: 8, Bandwidth: 125},  // DR4
		{SpreadFactor: 7, Bandwidth: 125},  // DR5
	},
	MaxPayloadSizePerDR: map[int]int{
		0: 51, 1: 51, 2: 51, 3: 115, 4: 222, 5: 222,
	},
	MaxTXPowerDBm:  19,
	DefaultRX2DR:   0,
	DefaultRX2Freq: 505300000,
}

// generateCN470DefaultChannels 生成CN470默认信道（前8个上行信道）
func generateCN470DefaultChannels() []Channel {
	channels := make([]Channel, 8)
	baseFreq := uint32(470300000) // 470.3 MHz
	for i := 0; i < 8; i++ {
		channels[i] = Channel{
			Frequency: baseFreq + uint32(i*200000), // 200kHz spacing
			MinDR:     0,
			MaxDR:     5,
		}
	}
	return channels
}
