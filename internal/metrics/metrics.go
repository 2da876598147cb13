package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the node's Prometheus collectors. All methods accept a nil
// receiver so components can run without metrics.
type Metrics struct {
	uplinks        *prometheus.CounterVec
	txDone         *prometheus.CounterVec
	downlinks      *prometheus.CounterVec
	outputCommands *prometheus.CounterVec
	sensorReads    *prometheus.CounterVec
	eventsDropped  *prometheus.CounterVec
	transitions    *prometheus.CounterVec
	state          prometheus.Gauge
	frameBytes     prometheus.Histogram
}

// New creates the collectors and registers them with reg
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		uplinks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "node_uplinks_total",
			Help: "Uplink attempts by outcome (submitted, rejected, empty).",
		}, []string{"result"}),
		txDone: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "node_tx_done_total",
			Help: "Transmit completions reported by the radio, by result.",
		}, []string{"result"}),
		downlinks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "node_downlinks_total",
			Help: "Downlinks handed to the dispatcher, by port.",
		}, []string{"port"}),
		outputCommands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "node_output_commands_total",
			Help: "Output level changes applied from downlinks.",
		}, []string{"channel", "level"}),
		sensorReads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "node_sensor_reads_total",
			Help: "Sensor transactions by sensor and result.",
		}, []string{"sensor", "result"}),
		eventsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "node_radio_events_dropped_total",
			Help: "Radio notifications lost because the event queue was full.",
		}, []string{"kind"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "node_state_transitions_total",
			Help: "Duty-cycle state transitions by target state.",
		}, []string{"to"}),
		state: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "node_state",
			Help: "Current duty-cycle state as its numeric value.",
		}),
		frameBytes: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "node_uplink_frame_bytes",
			Help:    "Size of submitted uplink frames.",
			Buckets: prometheus.LinearBuckets(4, 6, 11),
		}),
	}

	reg.MustRegister(
		m.uplinks, m.txDone, m.downlinks, m.outputCommands, m.sensorReads,
		m.eventsDropped, m.transitions, m.state, m.frameBytes,
	)
	return m
}

func (m *Metrics) UplinkSubmitted(frameLen int) {
	if m == nil {
		return
	}
	m.uplinks.WithLabelValues("submitted").Inc()
	m.frameBytes.Observe(float64(frameLen))
}

func (m *Metrics) UplinkRejected() {
	if m == nil {
		return
	}
	m.uplinks.WithLabelValues("rejected").Inc()
}

func (m *Metrics) UplinkEmpty() {
	if m == nil {
		return
	}
	m.uplinks.WithLabelValues("empty").Inc()
}

func (m *Metrics) TxDone(result string) {
	if m == nil {
		return
	}
	m.txDone.WithLabelValues(result).Inc()
}

func (m *Metrics) Downlink(port uint8) {
	if m == nil {
		return
	}
	m.downlinks.WithLabelValues(strconv.Itoa(int(port))).Inc()
}

func (m *Metrics) OutputCommand(channel int, level bool) {
	if m == nil {
		return
	}
	m.outputCommands.WithLabelValues(strconv.Itoa(channel), strconv.FormatBool(level)).Inc()
}

func (m *Metrics) SensorRead(sensor string, ok bool) {
	if m == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "error"
	}
	m.sensorReads.WithLabelValues(sensor, result).Inc()
}

func (m *Metrics) EventDropped(kind string) {
	if m == nil {
		return
	}
	m.eventsDropped.WithLabelValues(kind).Inc()
}

func (m *Metrics) StateChanged(to string, value int) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(to).Inc()
	m.state.Set(float64(value))
}
