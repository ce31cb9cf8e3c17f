package service

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/danmuck/linkctl/internal/protocol/session"
	"github.com/danmuck/linkctl/internal/relay"
	"github.com/danmuck/linkctl/internal/transport"
)

var (
	ErrInvalidConfig    = errors.New("service: invalid config")
	ErrUnknownTransport = errors.New("service: unknown transport kind")
)

type TransportKind string

const (
	TransportSerial    TransportKind = "serial"
	TransportTCP       TransportKind = "tcp"
	TransportTCPListen TransportKind = "tcp-listen"
)

// TransportConfig selects the medium. Serial uses Serial; tcp and tcp-listen
// use Address.
type TransportConfig struct {
	Kind     TransportKind
	Serial   transport.SerialConfig
	Address  string
	ReadPoll time.Duration
}

type BridgeConfig struct {
	// Listen enables the gRPC bridge when set.
	Listen string
}

type AdminConfig struct {
	// Listen enables the admin HTTP API when set.
	Listen      string
	CORSOrigins []string
	// Token guards the POST routes when set.
	Token string
}

type RelayConfig struct {
	// NATSURL enables the relay when set.
	NATSURL string
	// RedisAddr enables presence records when set.
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	Relay         relay.Config
}

type Config struct {
	NodeID    string
	Transport TransportConfig
	Link      session.Config
	// ConnectTimeout bounds the initial Dial. Zero keeps dialing until shutdown.
	ConnectTimeout time.Duration
	Bridge         BridgeConfig
	Admin          AdminConfig
	Relay          RelayConfig
}

func DefaultConfig() Config {
	serial := transport.DefaultSerialConfig()
	return Config{
		NodeID: "linkctl.local",
		Transport: TransportConfig{
			Kind:     TransportSerial,
			Serial:   serial,
			ReadPoll: transport.DefaultReadPoll,
		},
		Link:           session.DefaultConfig(),
		ConnectTimeout: 30 * time.Second,
		Relay: RelayConfig{
			Relay: relay.DefaultConfig(),
		},
	}
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.NodeID) == "" {
		return fmt.Errorf("%w: missing node_id", ErrInvalidConfig)
	}
	switch c.Transport.Kind {
	case TransportSerial:
		if _, err := c.Transport.Serial.Mode(); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
		}
	case TransportTCP, TransportTCPListen:
		if strings.TrimSpace(c.Transport.Address) == "" {
			return fmt.Errorf("%w: transport %s needs an address", ErrInvalidConfig, c.Transport.Kind)
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownTransport, c.Transport.Kind)
	}
	if c.Transport.ReadPoll < 0 {
		return fmt.Errorf("%w: negative read_poll", ErrInvalidConfig)
	}
	if c.ConnectTimeout < 0 {
		return fmt.Errorf("%w: negative connect_timeout", ErrInvalidConfig)
	}
	if c.Relay.NATSURL != "" {
		if err := c.Relay.Relay.Validate(); err != nil {
			return err
		}
	}
	return nil
}
