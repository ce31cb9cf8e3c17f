package session

import "code.hybscloud.com/atomix"

// Stats is a point-in-time copy of the link counters.
type Stats struct {
	JoinsSent        uint64 `json:"joins_sent"`
	JoinsReceived    uint64 `json:"joins_received"`
	LeavesSent       uint64 `json:"leaves_sent"`
	LeavesReceived   uint64 `json:"leaves_received"`
	AcksSent         uint64 `json:"acks_sent"`
	AcksReceived     uint64 `json:"acks_received"`
	PayloadsSent     uint64 `json:"payloads_sent"`
	PayloadsReceived uint64 `json:"payloads_received"`
	Desyncs          uint64 `json:"desyncs"`
	OversizeDrops    uint64 `json:"oversize_drops"`
	WriteFailures    uint64 `json:"write_failures"`
}

type counters struct {
	joinsSent        atomix.Uint64
	joinsReceived    atomix.Uint64
	leavesSent       atomix.Uint64
	leavesReceived   atomix.Uint64
	acksSent         atomix.Uint64
	acksReceived     atomix.Uint64
	payloadsSent     atomix.Uint64
	payloadsReceived atomix.Uint64
	desyncs          atomix.Uint64
	oversizeDrops    atomix.Uint64
	writeFailures    atomix.Uint64
}

func (c *counters) snapshot() Stats {
	return Stats{
		JoinsSent:        c.joinsSent.Load(),
		JoinsReceived:    c.joinsReceived.Load(),
		LeavesSent:       c.leavesSent.Load(),
		LeavesReceived:   c.leavesReceived.Load(),
		AcksSent:         c.acksSent.Load(),
		AcksReceived:     c.acksReceived.Load(),
		PayloadsSent:     c.payloadsSent.Load(),
		PayloadsReceived: c.payloadsReceived.Load(),
		Desyncs:          c.desyncs.Load(),
		OversizeDrops:    c.oversizeDrops.Load(),
		WriteFailures:    c.writeFailures.Load(),
	}
}
