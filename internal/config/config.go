// Package config loads linkctl TOML files onto service defaults.
//
// Only keys present in the file override defaults. Durations are Go duration
// strings ("250ms") or integer milliseconds under the same key with an _ms
// suffix; the _ms form wins when both are set.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/linkctl/internal/service"
)

type fileConfig struct {
	NodeID    string          `toml:"node_id"`
	Transport transportConfig `toml:"transport"`
	Link      linkConfig      `toml:"link"`
	Bridge    bridgeConfig    `toml:"bridge"`
	Admin     adminConfig     `toml:"admin"`
	Relay     relayConfig     `toml:"relay"`
}

type transportConfig struct {
	Kind       string `toml:"kind"`
	Device     string `toml:"device"`
	Baud       int    `toml:"baud"`
	DataBits   int    `toml:"data_bits"`
	Parity     string `toml:"parity"`
	StopBits   string `toml:"stop_bits"`
	Address    string `toml:"address"`
	ReadPoll   string `toml:"read_poll"`
	ReadPollMS int64  `toml:"read_poll_ms"`
}

type linkConfig struct {
	LeaveTimeout      string  `toml:"leave_timeout"`
	LeaveTimeoutMS    int64   `toml:"leave_timeout_ms"`
	AckTimeout        string  `toml:"ack_timeout"`
	AckTimeoutMS      int64   `toml:"ack_timeout_ms"`
	ConnectTimeout    string  `toml:"connect_timeout"`
	ConnectTimeoutMS  int64   `toml:"connect_timeout_ms"`
	MaxPayloadBytes   int     `toml:"max_payload_bytes"`
	BackoffInitial    string  `toml:"backoff_initial"`
	BackoffInitialMS  int64   `toml:"backoff_initial_ms"`
	BackoffMultiplier float64 `toml:"backoff_multiplier"`
	BackoffMax        string  `toml:"backoff_max"`
	BackoffMaxMS      int64   `toml:"backoff_max_ms"`
	BackoffJitter     bool    `toml:"backoff_jitter"`
}

type bridgeConfig struct {
	GRPCListen string `toml:"grpc_listen"`
}

type adminConfig struct {
	HTTPListen  string   `toml:"http_listen"`
	CORSOrigins []string `toml:"cors_origins"`
	Token       string   `toml:"token"`
}

type relayConfig struct {
	NATSURL         string `toml:"nats_url"`
	RedisAddr       string `toml:"redis_addr"`
	RedisPassword   string `toml:"redis_password"`
	RedisDB         int    `toml:"redis_db"`
	UplinkSubject   string `toml:"uplink_subject"`
	DownlinkSubject string `toml:"downlink_subject"`
	PresenceKey     string `toml:"presence_key"`
	PresenceTTL     string `toml:"presence_ttl"`
	PresenceTTLMS   int64  `toml:"presence_ttl_ms"`
	DownlinkDepth   int    `toml:"downlink_depth"`
	SendTimeout     string `toml:"send_timeout"`
	SendTimeoutMS   int64  `toml:"send_timeout_ms"`
}

// Load reads path over service.DefaultConfig and validates the result.
func Load(path string) (service.Config, error) {
	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return service.Config{}, fmt.Errorf("config load failed (%s): %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return service.Config{}, fmt.Errorf("config parse failed (%s): unknown key %s", path, undecoded[0])
	}
	cfg, err := overlay(service.DefaultConfig(), meta, raw)
	if err != nil {
		return service.Config{}, fmt.Errorf("config parse failed (%s): %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return service.Config{}, err
	}
	return cfg, nil
}

func overlay(cfg service.Config, meta toml.MetaData, raw fileConfig) (service.Config, error) {
	d := durations{meta: meta}

	if meta.IsDefined("node_id") {
		cfg.NodeID = strings.TrimSpace(raw.NodeID)
	}

	t := raw.Transport
	if meta.IsDefined("transport", "kind") {
		cfg.Transport.Kind = service.TransportKind(strings.ToLower(strings.TrimSpace(t.Kind)))
	}
	if meta.IsDefined("transport", "device") {
		cfg.Transport.Serial.Device = strings.TrimSpace(t.Device)
	}
	if meta.IsDefined("transport", "baud") {
		cfg.Transport.Serial.BaudRate = t.Baud
	}
	if meta.IsDefined("transport", "data_bits") {
		cfg.Transport.Serial.DataBits = t.DataBits
	}
	if meta.IsDefined("transport", "parity") {
		cfg.Transport.Serial.Parity = t.Parity
	}
	if meta.IsDefined("transport", "stop_bits") {
		cfg.Transport.Serial.StopBits = t.StopBits
	}
	if meta.IsDefined("transport", "address") {
		cfg.Transport.Address = strings.TrimSpace(t.Address)
	}
	d.apply(&cfg.Transport.ReadPoll, "transport", "read_poll", t.ReadPoll, t.ReadPollMS)

	l := raw.Link
	d.apply(&cfg.Link.LeaveTimeout, "link", "leave_timeout", l.LeaveTimeout, l.LeaveTimeoutMS)
	d.apply(&cfg.Link.AckTimeout, "link", "ack_timeout", l.AckTimeout, l.AckTimeoutMS)
	d.apply(&cfg.ConnectTimeout, "link", "connect_timeout", l.ConnectTimeout, l.ConnectTimeoutMS)
	if meta.IsDefined("link", "max_payload_bytes") {
		cfg.Link.Limits.MaxPayloadBytes = l.MaxPayloadBytes
	}
	d.apply(&cfg.Link.Backoff.InitialDelay, "link", "backoff_initial", l.BackoffInitial, l.BackoffInitialMS)
	if meta.IsDefined("link", "backoff_multiplier") {
		cfg.Link.Backoff.Multiplier = l.BackoffMultiplier
	}
	d.apply(&cfg.Link.Backoff.MaxDelay, "link", "backoff_max", l.BackoffMax, l.BackoffMaxMS)
	if meta.IsDefined("link", "backoff_jitter") {
		cfg.Link.Backoff.Jitter = l.BackoffJitter
	}

	if meta.IsDefined("bridge", "grpc_listen") {
		cfg.Bridge.Listen = strings.TrimSpace(raw.Bridge.GRPCListen)
	}
	if meta.IsDefined("admin", "http_listen") {
		cfg.Admin.Listen = strings.TrimSpace(raw.Admin.HTTPListen)
	}
	if meta.IsDefined("admin", "cors_origins") {
		cfg.Admin.CORSOrigins = normalizeList(raw.Admin.CORSOrigins)
	}
	if meta.IsDefined("admin", "token") {
		cfg.Admin.Token = strings.TrimSpace(raw.Admin.Token)
	}

	r := raw.Relay
	if meta.IsDefined("relay", "nats_url") {
		cfg.Relay.NATSURL = strings.TrimSpace(r.NATSURL)
	}
	if meta.IsDefined("relay", "redis_addr") {
		cfg.Relay.RedisAddr = strings.TrimSpace(r.RedisAddr)
	}
	if meta.IsDefined("relay", "redis_password") {
		cfg.Relay.RedisPassword = r.RedisPassword
	}
	if meta.IsDefined("relay", "redis_db") {
		cfg.Relay.RedisDB = r.RedisDB
	}
	if meta.IsDefined("relay", "uplink_subject") {
		cfg.Relay.Relay.UplinkSubject = strings.TrimSpace(r.UplinkSubject)
	}
	if meta.IsDefined("relay", "downlink_subject") {
		cfg.Relay.Relay.DownlinkSubject = strings.TrimSpace(r.DownlinkSubject)
	}
	if meta.IsDefined("relay", "presence_key") {
		cfg.Relay.Relay.PresenceKey = strings.TrimSpace(r.PresenceKey)
	}
	d.apply(&cfg.Relay.Relay.PresenceTTL, "relay", "presence_ttl", r.PresenceTTL, r.PresenceTTLMS)
	if meta.IsDefined("relay", "downlink_depth") {
		cfg.Relay.Relay.DownlinkDepth = r.DownlinkDepth
	}
	d.apply(&cfg.Relay.Relay.SendTimeout, "relay", "send_timeout", r.SendTimeout, r.SendTimeoutMS)

	if d.err != nil {
		return service.Config{}, d.err
	}
	return cfg, nil
}

// durations keeps the first parse error so overlay can stay linear.
type durations struct {
	meta toml.MetaData
	err  error
}

func (d *durations) apply(dst *time.Duration, section, key, text string, ms int64) {
	if d.err != nil {
		return
	}
	if d.meta.IsDefined(section, key) {
		v, err := time.ParseDuration(strings.TrimSpace(text))
		if err != nil {
			d.err = fmt.Errorf("parse %s.%s: %w", section, key, err)
			return
		}
		*dst = v
	}
	if d.meta.IsDefined(section, key+"_ms") {
		*dst = time.Duration(ms) * time.Millisecond
	}
}

func normalizeList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, v := range in {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		out = append(out, v)
	}
	return out
}
