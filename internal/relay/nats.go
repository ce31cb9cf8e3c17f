package relay

import (
	"fmt"

	"github.com/nats-io/nats.go"
)

// NATS publishes and subscribes over a nats.go connection.
type NATS struct {
	conn *nats.Conn
}

var (
	_ Publisher  = (*NATS)(nil)
	_ Subscriber = (*NATS)(nil)
)

func NewNATS(conn *nats.Conn) *NATS {
	return &NATS{conn: conn}
}

// DialNATS connects with unlimited reconnects, so a bus restart does not
// stop the relay.
func DialNATS(url, name string) (*NATS, error) {
	nc, err := nats.Connect(url, nats.Name(name), nats.MaxReconnects(-1))
	if err != nil {
		return nil, fmt.Errorf("relay: connect nats %s: %w", url, err)
	}
	return NewNATS(nc), nil
}

func (n *NATS) Publish(subject string, data []byte) error {
	return n.conn.Publish(subject, data)
}

func (n *NATS) Subscribe(subject string, handler func(data []byte)) (Subscription, error) {
	sub, err := n.conn.Subscribe(subject, func(msg *nats.Msg) {
		handler(msg.Data)
	})
	if err != nil {
		return nil, err
	}
	return sub, nil
}

// Close drains pending messages and closes the connection.
func (n *NATS) Close() error {
	return n.conn.Drain()
}
