// Package pipeline provides the three-stage channel pipeline between
// connections and the router: inbound dispatch, application processing,
// and outbound delivery. Each stage is a worker pool over a bounded
// queue; overflow applies the caller-runs policy, except outbound
// delivery which uses bounded blocking enqueue (see Pipeline).
package pipeline

import (
	"context"
	"fmt"
	"hash/fnv"
	"log/slog"

	"github.com/framehub/framehub/internal/frame"
)

// Config sizes the pipeline stages.
type Config struct {
	InboundQueueSize  int
	InboundWorkers    int
	ProcessQueueSize  int
	ProcessWorkers    int
	OutboundQueueSize int // per shard
	OutboundShards    int
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		InboundQueueSize:  1024,
		InboundWorkers:    4,
		ProcessQueueSize:  1024,
		ProcessWorkers:    8,
		OutboundQueueSize: 256,
		OutboundShards:    8,
	}
}

// Delivery is one outbound MESSAGE bound for one session.
type Delivery struct {
	SessionID string
	Frame     *frame.Frame
}

// Stats is the observability snapshot of the whole pipeline.
type Stats struct {
	Inbound  StageStats
	Process  StageStats
	Outbound []StageStats
}

// Pipeline wires the three stages. The stage handlers are injected by
// the orchestration layer; the pipeline owns only queues, workers, and
// ordering.
//
// Outbound delivery is sharded by session id with a single worker per
// shard, so one session's frames are always written by one goroutine in
// the order they were routed. Outbound overflow blocks the producer on
// the bounded shard queue rather than caller-runs: a caller-side write
// would overtake frames already queued for the same session and break
// per-session FIFO.
type Pipeline struct {
	cfg    Config
	logger *slog.Logger

	inbound  *Stage[*frame.Frame]
	process  *Stage[*frame.Frame]
	outbound []*Stage[Delivery]
}

// New creates a pipeline with the given stage handlers.
func New(cfg Config, inbound, process func(*frame.Frame), deliver func(Delivery), logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.OutboundShards < 1 {
		cfg.OutboundShards = 1
	}

	p := &Pipeline{
		cfg:    cfg,
		logger: logger,
	}
	p.inbound = NewStage("inbound", cfg.InboundQueueSize, cfg.InboundWorkers, inbound, logger)
	p.process = NewStage("process", cfg.ProcessQueueSize, cfg.ProcessWorkers, process, logger)
	p.outbound = make([]*Stage[Delivery], cfg.OutboundShards)
	for i := range p.outbound {
		name := fmt.Sprintf("outbound-%d", i)
		p.outbound[i] = NewStage(name, cfg.OutboundQueueSize, 1, deliver, logger)
	}
	return p
}

// Start launches all stage workers.
func (p *Pipeline) Start(ctx context.Context) {
	p.inbound.Start(ctx)
	p.process.Start(ctx)
	for _, shard := range p.outbound {
		shard.Start(ctx)
	}
	p.logger.Info("pipeline started",
		"inbound_workers", p.cfg.InboundWorkers,
		"process_workers", p.cfg.ProcessWorkers,
		"outbound_shards", p.cfg.OutboundShards,
	)
}

// Stop drains the stages front to back, bounded by ctx.
func (p *Pipeline) Stop(ctx context.Context) error {
	var firstErr error
	if err := p.inbound.Stop(ctx); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := p.process.Stop(ctx); err != nil && firstErr == nil {
		firstErr = err
	}
	for _, shard := range p.outbound {
		if err := shard.Stop(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	p.logger.Info("pipeline stopped")
	return firstErr
}

// SubmitInbound enqueues a raw frame from a connection.
func (p *Pipeline) SubmitInbound(f *frame.Frame) bool {
	return p.inbound.Submit(f)
}

// SubmitProcess enqueues a SEND for application processing and routing.
// Frames emitted by handlers re-enter here, never running synchronously
// on the inbound worker.
func (p *Pipeline) SubmitProcess(f *frame.Frame) bool {
	return p.process.Submit(f)
}

// SubmitDelivery enqueues one resolved delivery on its session's shard,
// blocking while the shard queue is full.
func (p *Pipeline) SubmitDelivery(d Delivery) bool {
	return p.outbound[p.shardFor(d.SessionID)].SubmitWait(d)
}

// Stats returns a snapshot of every stage.
func (p *Pipeline) Stats() Stats {
	st := Stats{
		Inbound:  p.inbound.Stats(),
		Process:  p.process.Stats(),
		Outbound: make([]StageStats, len(p.outbound)),
	}
	for i, shard := range p.outbound {
		st.Outbound[i] = shard.Stats()
	}
	return st
}

func (p *Pipeline) shardFor(sessionID string) int {
	h := fnv.New32a()
	h.Write([]byte(sessionID))
	return int(h.Sum32() % uint32(len(p.outbound)))
}
