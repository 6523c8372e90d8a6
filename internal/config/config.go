// Package config loads and validates the YAML configuration for a
// framehub instance.
package config

import "time"

// Config is the root configuration for one instance.
type Config struct {
	Instance InstanceConfig `yaml:"instance"`
	Server   ServerConfig   `yaml:"server"`
	Pipeline PipelineConfig `yaml:"pipeline"`
	Relay    RelayConfig    `yaml:"relay"`
}

// InstanceConfig identifies this instance. The ID tags relayed frames
// so echoes from the broker can be discarded.
type InstanceConfig struct {
	ID string `yaml:"id"`
}

// ServerConfig holds the WebSocket listener settings.
type ServerConfig struct {
	ListenAddr       string        `yaml:"listen_addr"`
	WSPath           string        `yaml:"ws_path"`
	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`
	SendTimeLimit    time.Duration `yaml:"send_time_limit"`
	ReadLimit        int64         `yaml:"read_limit"`
}

// PipelineConfig sizes the three frame-processing stages. Outbound is
// sharded; the queue size applies per shard.
type PipelineConfig struct {
	InboundQueueSize  int `yaml:"inbound_queue_size"`
	InboundWorkers    int `yaml:"inbound_workers"`
	ProcessQueueSize  int `yaml:"process_queue_size"`
	ProcessWorkers    int `yaml:"process_workers"`
	OutboundQueueSize int `yaml:"outbound_queue_size"`
	OutboundShards    int `yaml:"outbound_shards"`
}

// RelayConfig holds the external broker link settings.
type RelayConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Addr        string `yaml:"addr"`
	Login       string `yaml:"login"`
	Passcode    string `yaml:"passcode"`
	VirtualHost string `yaml:"virtual_host"`

	HeartbeatSend time.Duration `yaml:"heartbeat_send"`
	HeartbeatRecv time.Duration `yaml:"heartbeat_recv"`
	GracePeriod   time.Duration `yaml:"grace_period"`

	ReconnectBaseDelay time.Duration `yaml:"reconnect_base_delay"`
	ReconnectMaxDelay  time.Duration `yaml:"reconnect_max_delay"`

	DialTimeout  time.Duration `yaml:"dial_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	QueueSize    int           `yaml:"queue_size"`
}
