// Package metrics defines the read-only observability snapshot exposed
// by the hub: queue depths, worker activity, processed-frame counters,
// relay link state, and per-connection liveness. The snapshot is plain
// data for an external monitoring collaborator to poll; no transport is
// defined here.
package metrics

import (
	"github.com/framehub/framehub/internal/pipeline"
	"github.com/framehub/framehub/internal/relay"
	"github.com/framehub/framehub/internal/routing"
)

// ConnectionInfo is the liveness view of one live session.
type ConnectionInfo struct {
	SessionID string
	Identity  string
	State     string
}

// Snapshot is the full observability surface at one point in time.
type Snapshot struct {
	Sessions      int
	Identities    int
	Subscriptions int

	Router   routing.Stats
	Pipeline pipeline.Stats
	Relay    relay.Stats

	Connections []ConnectionInfo
}
