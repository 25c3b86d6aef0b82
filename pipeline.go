package fabula

import (
	"context"
	"errors"
	"sync"

	"github.com/petrijr/fabula/internal/engine"
	"github.com/petrijr/fabula/internal/eventqueue"
	"github.com/petrijr/fabula/internal/persistence"
	"github.com/petrijr/fabula/pkg/config"
	"github.com/petrijr/fabula/pkg/publisher"
)

// LocalPipeline bundles an in-memory Runner, a bounded event queue, and
// a Publisher to provide a simple single-process pipeline for
// development and debugging.
//
// Typical usage:
//
//	pipe := fabula.NewLocalPipeline(nil)
//	graph := fabula.New().
//	    Agent("draft", draftScene).
//	    // ...
//	    MustBuild()
//
//	_ = pipe.StartPublishers(ctx, 2)
//	defer pipe.Stop()
//
//	result, err := pipe.Run(ctx, graph, fabula.NewState(fabula.NewRunID()))
type LocalPipeline struct {
	// Runner executes graphs, checkpointing into Checkpoints.
	Runner Runner

	// Checkpoints is the in-memory store backing Resume.
	Checkpoints CheckpointStore

	// Queue is the bounded event queue between the run loop and the
	// publishers.
	Queue *EventQueue

	// Publisher drains Queue into the emitter.
	Publisher *Publisher

	// Log is the in-memory event log events land in when no emitter is
	// supplied. Nil when a custom emitter is in use.
	Log *MemoryEventLog

	publishers int

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

// NewLocalPipeline constructs a LocalPipeline with default settings.
// Run events are delivered to emitter; passing nil keeps them in an
// in-memory log exposed as Log.
//
// This is intended for local development, tests, and simple
// single-process deployments.
func NewLocalPipeline(emitter Emitter) *LocalPipeline {
	return NewLocalPipelineFromConfig(nil, emitter)
}

// NewLocalPipelineFromConfig is NewLocalPipeline with the runner, queue
// and publisher settings taken from cfg. A nil cfg means defaults.
func NewLocalPipelineFromConfig(cfg *config.PipelineConfig, emitter Emitter) *LocalPipeline {
	if cfg == nil {
		cfg = config.Default()
	}

	var memLog *MemoryEventLog
	if emitter == nil {
		memLog = persistence.NewMemoryEventLog()
		emitter = memLog
	}

	store := persistence.NewMemoryCheckpointStore()
	q := eventqueue.New(cfg.Events.QueueCapacity)
	pub := publisher.New(q, emitter, nil)

	r := engine.New(cfg.Runner.Apply(engine.Config{
		Checkpoints: store,
		Events:      pub,
	}))

	return &LocalPipeline{
		Runner:      r,
		Checkpoints: store,
		Queue:       q,
		Publisher:   pub,
		Log:         memLog,
		publishers:  cfg.Events.Publishers,
	}
}

// StartPublishers starts 'concurrency' goroutines that drain the event
// queue until the context is cancelled via Stop. Zero or negative
// concurrency uses the configured publisher count.
//
// If StartPublishers is called more than once without Stop, it returns
// an error.
func (p *LocalPipeline) StartPublishers(ctx context.Context, concurrency int) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return errors.New("fabula: LocalPipeline already started")
	}

	if concurrency <= 0 {
		concurrency = p.publishers
	}
	if concurrency <= 0 {
		concurrency = 1
	}

	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.running = true

	p.wg.Add(concurrency)
	for i := 0; i < concurrency; i++ {
		go func() {
			defer p.wg.Done()
			p.Publisher.Drain(ctx)
		}()
	}

	return nil
}

// Stop cancels all publisher goroutines started by StartPublishers and
// waits for them to exit. Events still sitting in the queue stay there;
// Publisher.Backlog reports how many.
func (p *LocalPipeline) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	cancel := p.cancel
	p.running = false
	p.cancel = nil
	p.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	p.wg.Wait()
}

// Run executes a graph from its start node on the pipeline's runner.
func (p *LocalPipeline) Run(ctx context.Context, g *Graph, state *State) (*RunResult, error) {
	return p.Runner.Run(ctx, g, state)
}

// Resume restores the run from its latest in-memory checkpoint and
// continues it. Returns ErrNoCheckpoint when the run was never
// checkpointed.
func (p *LocalPipeline) Resume(ctx context.Context, g *Graph, runID string) (*RunResult, error) {
	return Resume(ctx, p.Runner, p.Checkpoints, g, runID)
}
