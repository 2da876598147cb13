package node

import (
	"sync/atomic"
	"time"

	"github.com/lorawan-server/sensor-node/internal/frame"
	"github.com/lorawan-server/sensor-node/internal/output"
	"github.com/lorawan-server/sensor-node/internal/radio"
	"github.com/lorawan-server/sensor-node/pkg/lorawan"
)

type counters struct {
	uplinks   atomic.Uint64
	rejected  atomic.Uint64
	empty     atomic.Uint64
	txDone    atomic.Uint64
	downlinks atomic.Uint64
}

// Counters are totals since start
type Counters struct {
	Uplinks   uint64 `json:"uplinks"`
	Rejected  uint64 `json:"rejected"`
	Empty     uint64 `json:"empty"`
	TxDone    uint64 `json:"txDone"`
	Downlinks uint64 `json:"downlinks"`
}

// UplinkRecord describes the last accepted frame
type UplinkRecord struct {
	Time     time.Time      `json:"time"`
	Port     uint8          `json:"port"`
	Frame    string         `json:"frame"`
	Priority string         `json:"priority"`
	Readings frame.Readings `json:"readings"`
}

// Status is a point-in-time view of the node, safe to take from any goroutine
type Status struct {
	State         string                `json:"state"`
	Join          string                `json:"join"`
	Beacon        string                `json:"beacon,omitempty"`
	Class         string                `json:"class"`
	Mode          string                `json:"mode"`
	Readings      frame.Readings        `json:"readings"`
	Outputs       [output.Channels]bool `json:"outputs"`
	Counters      Counters              `json:"counters"`
	PendingEvents int                   `json:"pendingEvents"`
	LastUplink    *UplinkRecord         `json:"lastUplink,omitempty"`
}

func (m *Machine) State() State { return State(m.stateMirror.Load()) }

func (m *Machine) Join() JoinState { return JoinState(m.joinMirror.Load()) }

func (m *Machine) Class() lorawan.DeviceClass { return lorawan.DeviceClass(m.classMirror.Load()) }

func (m *Machine) Status() Status {
	r := m.store.Readings()
	levels := m.outputs.Levels()
	r.GPIO0, r.GPIO1 = levels[0], levels[1]

	s := Status{
		State:    m.State().String(),
		Join:     m.Join().String(),
		Class:    m.Class().String(),
		Mode:     m.opts.mode.String(),
		Readings: r,
		Outputs:  levels,
		Counters: Counters{
			Uplinks:   m.counters.uplinks.Load(),
			Rejected:  m.counters.rejected.Load(),
			Empty:     m.counters.empty.Load(),
			TxDone:    m.counters.txDone.Load(),
			Downlinks: m.counters.downlinks.Load(),
		},
		PendingEvents: m.events.Len(),
		LastUplink:    m.lastUplink.Load(),
	}
	if b := m.beaconMirror.Load(); b >= 0 {
		s.Beacon = radio.BeaconState(b).String()
	}
	return s
}
