package config

import (
	"fmt"
	"os"
)

func Template() string {
	return linkTemplate
}

// WriteTemplate writes the annotated starter config to path.
func WriteTemplate(path string, overwrite bool) error {
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(linkTemplate), 0o600)
}

const linkTemplate = `node_id = "linkctl.local"

[transport]
# serial | tcp | tcp-listen
kind = "serial"
device = "/dev/ttyUSB0"
baud = 115200
data_bits = 8
parity = "N"
stop_bits = "1"
# address = "127.0.0.1:7300"
read_poll = "100ms"

[link]
leave_timeout = "500ms"
ack_timeout = "500ms"
connect_timeout = "30s"
max_payload_bytes = 65536
backoff_initial = "250ms"
backoff_multiplier = 2.0
backoff_max = "5s"
backoff_jitter = true

[bridge]
# grpc_listen = "127.0.0.1:7400"

[admin]
# http_listen = "127.0.0.1:7401"
cors_origins = ["http://localhost:3000"]
# token = "change-me"

[relay]
# nats_url = "nats://127.0.0.1:4222"
# redis_addr = "127.0.0.1:6379"
redis_db = 0
uplink_subject = "linkctl.uplink"
downlink_subject = "linkctl.downlink"
presence_ttl = "30s"
downlink_depth = 256
send_timeout = "2s"
`
