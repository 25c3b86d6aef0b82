// Package config loads pipeline settings from YAML.
//
// A configuration file tunes the knobs of a pipeline without touching
// its wiring: iteration caps and checkpoint cadence for the runner, the
// quality-gate threshold, the context token budget, summarizer batching
// and event delivery. Every section and field is optional; zero or
// missing values take the documented defaults.
//
//	version: 1
//	runner:
//	  max_iterations: 100
//	  checkpoint_interval: 1
//	  pause_poll_ms: 25
//	gate:
//	  threshold: 7.0
//	  max_iterations: 3
//	budget:
//	  total: 128000
//	  system_reserved: 2000
//	  output_reserved: 4000
//	  summary_reserved: 2000
//	  current_scene_reserved: 4000
//	  max_entities: 5
//	  max_facts: 20
//	summarizer:
//	  batch_after: 5
//	events:
//	  queue_capacity: 1024
//	  publishers: 1
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/petrijr/fabula/internal/engine"
	"github.com/petrijr/fabula/pkg/api"
	"github.com/petrijr/fabula/pkg/compose"
)

// Event delivery defaults.
const (
	defaultQueueCapacity = 1024
	defaultPublishers    = 1
)

// RunnerConfig tunes the run loop.
type RunnerConfig struct {
	MaxIterations      int `yaml:"max_iterations"`
	CheckpointInterval int `yaml:"checkpoint_interval"`
	PausePollMS        int `yaml:"pause_poll_ms"`
}

// GateConfig tunes quality gates built from this file.
type GateConfig struct {
	Threshold     float64 `yaml:"threshold"`
	MaxIterations int     `yaml:"max_iterations"`
}

// BudgetConfig tunes the context assembler.
type BudgetConfig struct {
	Total                int `yaml:"total"`
	SystemReserved       int `yaml:"system_reserved"`
	OutputReserved       int `yaml:"output_reserved"`
	SummaryReserved      int `yaml:"summary_reserved"`
	CurrentSceneReserved int `yaml:"current_scene_reserved"`
	MaxEntities          int `yaml:"max_entities"`
	MaxFacts             int `yaml:"max_facts"`
}

// SummarizerConfig tunes hierarchical summarization.
type SummarizerConfig struct {
	BatchAfter int `yaml:"batch_after"`
}

// EventsConfig tunes event queueing and delivery.
type EventsConfig struct {
	QueueCapacity int `yaml:"queue_capacity"`
	Publishers    int `yaml:"publishers"`
}

// PipelineConfig models a pipeline configuration file.
type PipelineConfig struct {
	Version    int              `yaml:"version"`
	Runner     RunnerConfig     `yaml:"runner"`
	Gate       GateConfig       `yaml:"gate"`
	Budget     BudgetConfig     `yaml:"budget"`
	Summarizer SummarizerConfig `yaml:"summarizer"`
	Events     EventsConfig     `yaml:"events"`
}

// Default returns a PipelineConfig with every knob at its default.
func Default() *PipelineConfig {
	var cfg PipelineConfig
	cfg.applyDefaults()
	return &cfg
}

// Load reads and parses a pipeline configuration file. A missing file
// is an error; use Default when running without one.
func Load(path string) (*PipelineConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes YAML, fills defaults for missing or zero fields, and
// validates the result.
func Parse(data []byte) (*PipelineConfig, error) {
	var cfg PipelineConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return &cfg, nil
}

// Save writes the configuration as YAML, creating or replacing path.
func (c *PipelineConfig) Save(path string) error {
	c.applyDefaults()
	if err := c.validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("config: encode: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("config: write %s: %w", path, err)
	}
	return nil
}

func (c *PipelineConfig) applyDefaults() {
	if c.Version == 0 {
		c.Version = 1
	}
	if c.Runner.MaxIterations <= 0 {
		c.Runner.MaxIterations = engine.DefaultMaxIterations
	}
	if c.Runner.CheckpointInterval <= 0 {
		c.Runner.CheckpointInterval = engine.DefaultCheckpointInterval
	}
	if c.Runner.PausePollMS <= 0 {
		c.Runner.PausePollMS = int(engine.DefaultPausePoll / time.Millisecond)
	}
	if c.Gate.Threshold <= 0 {
		c.Gate.Threshold = api.DefaultQualityThreshold
	}
	if c.Gate.MaxIterations <= 0 {
		c.Gate.MaxIterations = api.DefaultGateIterations
	}
	if c.Budget.Total <= 0 {
		c.Budget.Total = compose.DefaultTotalBudget
	}
	if c.Budget.SystemReserved <= 0 {
		c.Budget.SystemReserved = compose.DefaultSystemReserved
	}
	if c.Budget.OutputReserved <= 0 {
		c.Budget.OutputReserved = compose.DefaultOutputReserved
	}
	if c.Budget.SummaryReserved <= 0 {
		c.Budget.SummaryReserved = compose.DefaultSummaryReserved
	}
	if c.Budget.CurrentSceneReserved <= 0 {
		c.Budget.CurrentSceneReserved = compose.DefaultCurrentSceneReserved
	}
	if c.Budget.MaxEntities <= 0 {
		c.Budget.MaxEntities = compose.DefaultMaxEntities
	}
	if c.Budget.MaxFacts <= 0 {
		c.Budget.MaxFacts = compose.DefaultMaxFacts
	}
	if c.Summarizer.BatchAfter <= 0 {
		c.Summarizer.BatchAfter = compose.DefaultBatchAfter
	}
	if c.Events.QueueCapacity <= 0 {
		c.Events.QueueCapacity = defaultQueueCapacity
	}
	if c.Events.Publishers <= 0 {
		c.Events.Publishers = defaultPublishers
	}
}

func (c *PipelineConfig) validate() error {
	if c.Version < 1 {
		return fmt.Errorf("version must be >= 1")
	}
	// Quality scores are on a 0-10 scale.
	if c.Gate.Threshold > 10 {
		return fmt.Errorf("gate.threshold %.1f is off the 0-10 scale", c.Gate.Threshold)
	}
	if free := c.Budget.Budget().Free(); free <= 0 {
		return fmt.Errorf("budget: reserves leave no free context (free %d)", free)
	}
	return nil
}

// PausePoll returns the pause poll interval as a duration.
func (r RunnerConfig) PausePoll() time.Duration {
	return time.Duration(r.PausePollMS) * time.Millisecond
}

// Apply copies the runner settings onto an engine configuration. The
// wiring fields (stores, sinks, observer, control, logger) pass through
// untouched.
func (r RunnerConfig) Apply(base engine.Config) engine.Config {
	base.MaxIterations = r.MaxIterations
	base.CheckpointInterval = r.CheckpointInterval
	base.PausePoll = r.PausePoll()
	return base
}

// Gate builds the quality-gate behavior configured here, routing to the
// given revise and pass nodes.
func (g GateConfig) Gate(reviseTarget, passTarget string) *api.QualityGate {
	return &api.QualityGate{
		Threshold:     g.Threshold,
		MaxIterations: g.MaxIterations,
		ReviseTarget:  reviseTarget,
		PassTarget:    passTarget,
	}
}

// Budget converts the budget section into a token budget.
func (b BudgetConfig) Budget() compose.Budget {
	return compose.Budget{
		Total:                b.Total,
		SystemReserved:       b.SystemReserved,
		OutputReserved:       b.OutputReserved,
		SummaryReserved:      b.SummaryReserved,
		CurrentSceneReserved: b.CurrentSceneReserved,
	}
}

// Assembler builds a context assembler from the budget section.
func (b BudgetConfig) Assembler() *compose.Assembler {
	return &compose.Assembler{
		Budget:      b.Budget(),
		MaxEntities: b.MaxEntities,
		MaxFacts:    b.MaxFacts,
	}
}

// Summarizer builds a summarizer using compress, which may be nil for
// the deterministic fallback.
func (s SummarizerConfig) Summarizer(compress compose.CompressFunc) *compose.Summarizer {
	return &compose.Summarizer{
		Compress:   compress,
		BatchAfter: s.BatchAfter,
	}
}
