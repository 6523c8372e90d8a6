package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultListenAddr       = ":8080"
	DefaultWSPath           = "/ws"
	DefaultHandshakeTimeout = 10 * time.Second
	DefaultSendTimeLimit    = 10 * time.Second
	DefaultReadLimit        = 1 << 20

	DefaultInboundQueueSize  = 1024
	DefaultInboundWorkers    = 4
	DefaultProcessQueueSize  = 1024
	DefaultProcessWorkers    = 8
	DefaultOutboundQueueSize = 256
	DefaultOutboundShards    = 8

	DefaultHeartbeatSend      = 10 * time.Second
	DefaultHeartbeatRecv      = 10 * time.Second
	DefaultGracePeriod        = 30 * time.Second
	DefaultReconnectBaseDelay = 1 * time.Second
	DefaultReconnectMaxDelay  = 60 * time.Second
	DefaultDialTimeout        = 10 * time.Second
	DefaultWriteTimeout       = 5 * time.Second
	DefaultRelayQueueSize     = 4096
)

func (c *Config) applyDefaults() {
	// Server defaults
	if c.Server.ListenAddr == "" {
		c.Server.ListenAddr = DefaultListenAddr
	}
	if c.Server.WSPath == "" {
		c.Server.WSPath = DefaultWSPath
	}
	if c.Server.HandshakeTimeout == 0 {
		c.Server.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if c.Server.SendTimeLimit == 0 {
		c.Server.SendTimeLimit = DefaultSendTimeLimit
	}
	if c.Server.ReadLimit == 0 {
		c.Server.ReadLimit = DefaultReadLimit
	}

	// Pipeline defaults
	if c.Pipeline.InboundQueueSize == 0 {
		c.Pipeline.InboundQueueSize = DefaultInboundQueueSize
	}
	if c.Pipeline.InboundWorkers == 0 {
		c.Pipeline.InboundWorkers = DefaultInboundWorkers
	}
	if c.Pipeline.ProcessQueueSize == 0 {
		c.Pipeline.ProcessQueueSize = DefaultProcessQueueSize
	}
	if c.Pipeline.ProcessWorkers == 0 {
		c.Pipeline.ProcessWorkers = DefaultProcessWorkers
	}
	if c.Pipeline.OutboundQueueSize == 0 {
		c.Pipeline.OutboundQueueSize = DefaultOutboundQueueSize
	}
	if c.Pipeline.OutboundShards == 0 {
		c.Pipeline.OutboundShards = DefaultOutboundShards
	}

	// Relay defaults
	if c.Relay.HeartbeatSend == 0 {
		c.Relay.HeartbeatSend = DefaultHeartbeatSend
	}
	if c.Relay.HeartbeatRecv == 0 {
		c.Relay.HeartbeatRecv = DefaultHeartbeatRecv
	}
	if c.Relay.GracePeriod == 0 {
		c.Relay.GracePeriod = DefaultGracePeriod
	}
	if c.Relay.ReconnectBaseDelay == 0 {
		c.Relay.ReconnectBaseDelay = DefaultReconnectBaseDelay
	}
	if c.Relay.ReconnectMaxDelay == 0 {
		c.Relay.ReconnectMaxDelay = DefaultReconnectMaxDelay
	}
	if c.Relay.DialTimeout == 0 {
		c.Relay.DialTimeout = DefaultDialTimeout
	}
	if c.Relay.WriteTimeout == 0 {
		c.Relay.WriteTimeout = DefaultWriteTimeout
	}
	if c.Relay.QueueSize == 0 {
		c.Relay.QueueSize = DefaultRelayQueueSize
	}
}
