package config

import (
	"errors"
	"fmt"
)

// Validate checks that all required fields are set and values are valid.
func (c *Config) Validate() error {
	if c.Instance.ID == "" {
		return errors.New("instance.id is required")
	}

	if c.Server.ListenAddr == "" {
		return errors.New("server.listen_addr is required")
	}
	if c.Server.SendTimeLimit <= 0 {
		return errors.New("server.send_time_limit must be > 0")
	}
	if c.Server.ReadLimit < 1 {
		return errors.New("server.read_limit must be >= 1")
	}

	if c.Pipeline.InboundQueueSize < 1 {
		return errors.New("pipeline.inbound_queue_size must be >= 1")
	}
	if c.Pipeline.InboundWorkers < 1 {
		return errors.New("pipeline.inbound_workers must be >= 1")
	}
	if c.Pipeline.ProcessQueueSize < 1 {
		return errors.New("pipeline.process_queue_size must be >= 1")
	}
	if c.Pipeline.ProcessWorkers < 1 {
		return errors.New("pipeline.process_workers must be >= 1")
	}
	if c.Pipeline.OutboundQueueSize < 1 {
		return errors.New("pipeline.outbound_queue_size must be >= 1")
	}
	if c.Pipeline.OutboundShards < 1 {
		return errors.New("pipeline.outbound_shards must be >= 1")
	}

	if c.Relay.Enabled {
		if c.Relay.Addr == "" {
			return errors.New("relay.addr is required when relay is enabled")
		}
		if c.Relay.HeartbeatSend <= 0 || c.Relay.HeartbeatRecv <= 0 {
			return errors.New("relay heartbeat intervals must be > 0")
		}
		if c.Relay.ReconnectBaseDelay > c.Relay.ReconnectMaxDelay {
			return fmt.Errorf("relay.reconnect_base_delay (%s) cannot exceed reconnect_max_delay (%s)",
				c.Relay.ReconnectBaseDelay, c.Relay.ReconnectMaxDelay)
		}
		if c.Relay.QueueSize < 1 {
			return errors.New("relay.queue_size must be >= 1")
		}
	}

	return nil
}
