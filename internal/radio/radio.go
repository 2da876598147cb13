// Package radio defines the contract of the LoRa radio/MAC module and the
// event sink that turns its asynchronous notifications into state-machine
// inputs. Two implementations are provided: an in-process Stub and a
// NATS-bridged radio.
package radio

import (
	"context"
	"fmt"
	"time"

	"github.com/lorawan-server/sensor-node/pkg/lorawan"
)

// MaxDownlinkPayload is the size of the module's receive buffer
const MaxDownlinkPayload = 256

// BeaconState is reported by the beacon notification in slotted mode
type BeaconState uint8

const (
	// BeaconLottery1 is a lottery frame while the node has slots enabled
	BeaconLottery1 BeaconState = iota
	BeaconSynchronizedSlot
	// BeaconLottery2 is a lottery frame while slots are not enabled
	BeaconLottery2
	BeaconScanTimeout
	BeaconFound
	BeaconLost
)

var beaconNames = [...]string{"lottery1", "sps", "lottery2", "scan_timeout", "found", "lost"}

func (s BeaconState) String() string {
	if int(s) < len(beaconNames) {
		return beaconNames[s]
	}
	return fmt.Sprintf("BeaconState(%d)", uint8(s))
}

// ParseBeaconState is the inverse of String
func ParseBeaconState(s string) (BeaconState, error) {
	for i, name := range beaconNames {
		if name == s {
			return BeaconState(i), nil
		}
	}
	return 0, fmt.Errorf("invalid beacon state: %q", s)
}

// TxResult is the transmit completion code
type TxResult uint8

const (
	TxOK TxResult = iota
	TxNotOK
	TxOKAcked
	TxOKNotAcked
)

var txResultNames = [...]string{"ok", "nok", "ack", "nack"}

func (r TxResult) String() string {
	if int(r) < len(txResultNames) {
		return txResultNames[r]
	}
	return fmt.Sprintf("TxResult(%d)", uint8(r))
}

func ParseTxResult(s string) (TxResult, error) {
	for i, name := range txResultNames {
		if name == s {
			return TxResult(i), nil
		}
	}
	return 0, fmt.Errorf("invalid tx result: %q", s)
}

// RxStatus qualifies a received downlink
type RxStatus uint8

const (
	RxNormal RxStatus = iota
	// RxTxAcked marks a downlink that also acknowledged a confirmed uplink
	RxTxAcked
)

// Priority selects the submit primitive
type Priority uint8

const (
	PriorityNormal Priority = iota
	// PriorityHigh transmits in the synchronized slot
	PriorityHigh
)

func (p Priority) String() string {
	if p == PriorityHigh {
		return "high"
	}
	return "normal"
}

// Uplink is one frame handed to the radio
type Uplink struct {
	Port      uint8
	Payload   []byte
	Priority  Priority
	Confirmed bool
}

// DownlinkEvent is one received downlink
type DownlinkEvent struct {
	Port    uint8    `json:"port"`
	Payload []byte   `json:"payload"`
	RSSI    int16    `json:"rssi"`
	SNR     int8     `json:"snr"`
	Status  RxStatus `json:"status"`
}

// Settings is the configuration applied to the module before start
type Settings struct {
	DevEUI     lorawan.EUI64
	DevAddr    lorawan.DevAddr
	AppKey     lorawan.AES128Key
	Mode       lorawan.OperatingMode
	Activation lorawan.ActivationMode
	Class      lorawan.DeviceClass
	Frequency  uint32
	DataRate   int
	TXPower    int
}

// Radio is the asynchronous callback contract of the radio/MAC module.
// Handlers are invoked from the radio's own goroutines.
type Radio interface {
	Configure(s Settings) error

	OnTxDone(fn func(TxResult))
	OnRxDone(fn func(DownlinkEvent))
	OnBeacon(fn func(state BeaconState, rssi int16, snr int8))

	Joined() bool
	DeviceClass() (lorawan.DeviceClass, error)
	SlotEnabled() bool

	// Submit accepts or rejects the frame immediately; completion is
	// reported through OnTxDone.
	Submit(u Uplink) error

	// DeepSleep blocks until the RTC wake timer fires after d
	DeepSleep(ctx context.Context, d time.Duration) error
	EnableRTCAutoCompensation(enable bool) error
}

// DownlinkInjector is implemented by radios that can fake a reception
type DownlinkInjector interface {
	InjectDownlink(ev DownlinkEvent) error
}
