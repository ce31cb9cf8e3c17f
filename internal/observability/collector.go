package observability

import (
	"errors"

	"github.com/danmuck/linkctl/internal/protocol/session"
	"github.com/prometheus/client_golang/prometheus"
)

// StatsSource is the read side of a session.Link.
type StatsSource interface {
	State() session.State
	Stats() session.Stats
}

var linkStates = []session.State{
	session.StateDisconnected,
	session.StateConnecting,
	session.StateConnected,
	session.StateLeaving,
}

// LinkCollector exports link counters at scrape time, so the session package
// stays free of Prometheus.
type LinkCollector struct {
	node string
	src  StatsSource

	frames        *prometheus.Desc
	desyncs       *prometheus.Desc
	oversize      *prometheus.Desc
	writeFailures *prometheus.Desc
	state         *prometheus.Desc
}

func NewLinkCollector(node string, src StatsSource) *LinkCollector {
	labels := prometheus.Labels{"node": node}
	return &LinkCollector{
		node: node,
		src:  src,
		frames: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "link", "frames_total"),
			"Frames written and parsed, by direction and message type.",
			[]string{"direction", "type"}, labels,
		),
		desyncs: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "link", "desyncs_total"),
			"Malformed frames discarded by the receiver.",
			nil, labels,
		),
		oversize: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "link", "oversize_drops_total"),
			"Received payloads dropped for exceeding the payload limit.",
			nil, labels,
		),
		writeFailures: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "link", "write_failures_total"),
			"Failed or short writes to the transport.",
			nil, labels,
		),
		state: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "link", "state"),
			"1 for the current link state, 0 otherwise.",
			[]string{"state"}, labels,
		),
	}
}

func (c *LinkCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.frames
	ch <- c.desyncs
	ch <- c.oversize
	ch <- c.writeFailures
	ch <- c.state
}

func (c *LinkCollector) Collect(ch chan<- prometheus.Metric) {
	st := c.src.Stats()
	frames := []struct {
		direction string
		kind      string
		value     uint64
	}{
		{"sent", "join", st.JoinsSent},
		{"received", "join", st.JoinsReceived},
		{"sent", "leave", st.LeavesSent},
		{"received", "leave", st.LeavesReceived},
		{"sent", "ack", st.AcksSent},
		{"received", "ack", st.AcksReceived},
		{"sent", "data", st.PayloadsSent},
		{"received", "data", st.PayloadsReceived},
	}
	for _, f := range frames {
		ch <- prometheus.MustNewConstMetric(c.frames, prometheus.CounterValue, float64(f.value), f.direction, f.kind)
	}
	ch <- prometheus.MustNewConstMetric(c.desyncs, prometheus.CounterValue, float64(st.Desyncs))
	ch <- prometheus.MustNewConstMetric(c.oversize, prometheus.CounterValue, float64(st.OversizeDrops))
	ch <- prometheus.MustNewConstMetric(c.writeFailures, prometheus.CounterValue, float64(st.WriteFailures))

	current := c.src.State()
	for _, s := range linkStates {
		v := 0.0
		if s == current {
			v = 1
		}
		ch <- prometheus.MustNewConstMetric(c.state, prometheus.GaugeValue, v, s.String())
	}
}

// RegisterLinkCollector registers c with the default registry. Registering a
// second collector for the same node is not an error.
func RegisterLinkCollector(c *LinkCollector) error {
	if err := prometheus.Register(c); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			return nil
		}
		return err
	}
	return nil
}
