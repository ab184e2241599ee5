package pipeline

import (
	"firestige.xyz/dgawatch/internal/capture"
	"firestige.xyz/dgawatch/internal/config"
	"firestige.xyz/dgawatch/internal/extract"
	"firestige.xyz/dgawatch/internal/lifecycle"
	"firestige.xyz/dgawatch/internal/publish"
	"firestige.xyz/dgawatch/internal/queue"
	"firestige.xyz/dgawatch/internal/reputation"
)

// Builder provides a fluent interface for building pipelines.
// This is an alternative to using Config directly.
type Builder struct {
	config Config
}

// NewBuilder creates a builder with single-slot queues.
func NewBuilder() *Builder {
	return &Builder{
		config: Config{
			QueueKind:  queue.KindRing,
			Capacities: Capacities{Packets: 1, Domains: 1, Outcomes: 1},
		},
	}
}

// FromConfig applies the tunables of a validated configuration, including queue
// capacities derived from its memory budget.
func (b *Builder) FromConfig(cfg *config.Config) *Builder {
	kind := queue.Kind(cfg.Pipeline.QueueKind)
	b.config.Interface = cfg.Interface
	b.config.QueueKind = kind
	b.config.Capacities = Size(cfg.MemoryBudget(), cfg.Extract.BatchSize, cfg.Capture.Snaplen, kind)
	b.config.CaseSensitive = cfg.Lookup.CaseSensitive
	b.config.Extract = extract.Options{
		BatchSize:     cfg.Extract.BatchSize,
		FlushInterval: cfg.Extract.FlushInterval,
		ResponsesOnly: cfg.Extract.ResponsesOnly,
	}
	b.config.Lookup = reputation.Options{
		ForwardUnlisted: cfg.Lookup.ForwardUnlisted,
		Retry:           cfg.Lookup.Retry,
	}
	b.config.Publish = publish.Options{
		Backend: cfg.Broker.Type,
		Retry:   cfg.Broker.Retry,
	}
	b.config.PollInterval = cfg.Pipeline.PollInterval
	if cfg.Metrics.Enabled {
		b.config.StatsInterval = cfg.Metrics.CollectInterval
		b.config.SampleInterval = cfg.Metrics.CollectInterval
	}
	return b
}

// WithSource sets the capture source.
func (b *Builder) WithSource(src capture.Source) *Builder {
	b.config.Source = src
	return b
}

// WithStore sets the reputation store.
func (b *Builder) WithStore(store reputation.Store) *Builder {
	b.config.Store = store
	return b
}

// WithPublisher sets the outcome publisher.
func (b *Builder) WithPublisher(pub publish.Publisher) *Builder {
	b.config.Publisher = pub
	return b
}

// WithCapacities overrides the queue capacities.
func (b *Builder) WithCapacities(c Capacities) *Builder {
	b.config.Capacities = c
	return b
}

// Build creates the pipeline.
func (b *Builder) Build(sig *lifecycle.Signal) (*Pipeline, error) {
	return New(b.config, sig)
}
