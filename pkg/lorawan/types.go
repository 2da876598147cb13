package lorawan

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
)

// EUI64 represents an 8-byte Extended Unique Identifier
type EUI64 [8]byte

// String returns hex string representation
func (e EUI64) String() string {
	return hex.EncodeToString(e[:])
}

// MarshalJSON implements json.Marshaler
func (e EUI64) MarshalJSON() ([]byte, error) {
	return json.Marshal(e.String())
}

// UnmarshalJSON implements json.Unmarshaler
func (e *EUI64) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}

	parsed, err := ParseEUI64(s)
	if err != nil {
		return err
	}

	*e = parsed
	return nil
}

// ParseEUI64 parses a 16 character hex string
func ParseEUI64(s string) (EUI64, error) {
	var eui EUI64
	b, err := hex.DecodeString(strings.TrimSpace(s))
	if err != nil {
		return eui, fmt.Errorf("decode EUI64: %w", err)
	}
	if len(b) != len(eui) {
		return eui, fmt.Errorf("invalid EUI64 length %d", len(b))
	}
	copy(eui[:], b)
	return eui, nil
}

// DevAddr represents a 4-byte device address
type DevAddr [4]byte

// String returns hex string representation
func (d DevAddr) String() string {
	return hex.EncodeToString(d[:])
}

// AES128Key represents a 128-bit AES key
type AES128Key [16]byte

// String returns hex string representation
func (k AES128Key) String() string {
	return hex.EncodeToString(k[:])
}

// ParseAES128Key parses a 32 character hex string
func ParseAES128Key(s string) (AES128Key, error) {
	var key AES128Key
	b, err := hex.DecodeString(strings.TrimSpace(s))
	if err != nil {
		return key, fmt.Errorf("decode AES128 key: %w", err)
	}
	if len(b) != len(key) {
		return key, fmt.Errorf("invalid AES128 key length %d", len(b))
	}
	copy(key[:], b)
	return key, nil
}

// DeviceClass represents the LoRaWAN device class
type DeviceClass byte

const (
	ClassA DeviceClass = 1
	ClassB DeviceClass = 2
	ClassC DeviceClass = 3
)

func (c DeviceClass) String() string {
	switch c {
	case ClassA:
		return "A"
	case ClassB:
		return "B"
	case ClassC:
		return "C"
	default:
		return fmt.Sprintf("DeviceClass(%d)", byte(c))
	}
}

// ParseDeviceClass accepts "A", "B", "C" (case-insensitive) or "1".."3"
func ParseDeviceClass(s string) (DeviceClass, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "A", "1":
		return ClassA, nil
	case "B", "2":
		return ClassB, nil
	case "C", "3":
		return ClassC, nil
	}
	return 0, fmt.Errorf("invalid device class: %q", s)
}

// ActivationMode represents device activation mode
type ActivationMode string

const (
	ABP  ActivationMode = "ABP"
	OTAA ActivationMode = "OTAA"
)

// ParseActivationMode accepts "otaa" or "abp" (case-insensitive)
func ParseActivationMode(s string) (ActivationMode, error) {
	switch ActivationMode(strings.ToUpper(strings.TrimSpace(s))) {
	case OTAA:
		return OTAA, nil
	case ABP:
		return ABP, nil
	}
	return "", fmt.Errorf("invalid activation mode: %q", s)
}

// OperatingMode selects the link protocol the radio module runs
type OperatingMode int

const (
	// ModeVendor is the vendor star protocol (AdvWISE)
	ModeVendor  OperatingMode = 1
	ModeLoRaWAN OperatingMode = 2
	ModeMACLess OperatingMode = 3
	// ModeVendorSlotted is the beacon-synchronized vendor protocol
	ModeVendorSlotted OperatingMode = 4
)

var operatingModeNames = map[OperatingMode]string{
	ModeVendor:        "vendor",
	ModeLoRaWAN:       "lorawan",
	ModeMACLess:       "macless",
	ModeVendorSlotted: "vendor-slotted",
}

func (m OperatingMode) String() string {
	if name, ok := operatingModeNames[m]; ok {
		return name
	}
	return fmt.Sprintf("OperatingMode(%d)", int(m))
}

// ParseOperatingMode accepts the mode name or its numeric value
func ParseOperatingMode(s string) (OperatingMode, error) {
	v := strings.ToLower(strings.TrimSpace(s))
	for mode, name := range operatingModeNames {
		if v == name || v == fmt.Sprint(int(mode)) {
			return mode, nil
		}
	}
	return 0, fmt.Errorf("invalid operating mode: %q", s)
}

// Synchronized reports whether the mode follows network beacons
func (m OperatingMode) Synchronized() bool {
	return m == ModeVendorSlotted
}
