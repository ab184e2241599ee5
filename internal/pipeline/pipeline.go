// Package pipeline wires the capture, extract, lookup and publish stages together.
package pipeline

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"firestige.xyz/dgawatch/internal/capture"
	"firestige.xyz/dgawatch/internal/core"
	"firestige.xyz/dgawatch/internal/extract"
	"firestige.xyz/dgawatch/internal/lifecycle"
	"firestige.xyz/dgawatch/internal/log"
	"firestige.xyz/dgawatch/internal/metrics"
	"firestige.xyz/dgawatch/internal/publish"
	"firestige.xyz/dgawatch/internal/queue"
	"firestige.xyz/dgawatch/internal/reputation"
)

// Pipeline runs one goroutine per stage connected by bounded queues.
type Pipeline struct {
	iface string

	packets  queue.Queue[core.PacketBuffer]
	domains  queue.Queue[core.DomainBatch]
	outcomes queue.Queue[core.OutcomeBatch]

	capture *capture.Stage
	extract *extract.Stage
	lookup  *reputation.Stage
	publish *publish.Stage

	store reputation.Store
	pub   publish.Publisher

	sig    *lifecycle.Signal
	sample time.Duration
	log    *slog.Logger

	// closed as each stage returns; consumers drain and exit once their producer is gone
	captureDone chan struct{}
	extractDone chan struct{}
	lookupDone  chan struct{}
}

// Config contains everything New needs. Source, Store and Publisher are owned by the
// pipeline once New succeeds; the source is closed by the capture stage, the store and
// publisher by Close.
type Config struct {
	Interface  string
	Source     capture.Source
	Store      reputation.Store
	Publisher  publish.Publisher
	QueueKind  queue.Kind
	Capacities Capacities

	CaseSensitive bool
	Extract       extract.Options
	Lookup        reputation.Options
	Publish       publish.Options

	PollInterval   time.Duration // bound on every blocking receive
	StatsInterval  time.Duration // capture statistics cadence
	SampleInterval time.Duration // queue depth sampling cadence; 0 disables
}

// New builds queues and stages. sig is shared with every stage.
func New(cfg Config, sig *lifecycle.Signal) (*Pipeline, error) {
	if cfg.Source == nil || cfg.Store == nil || cfg.Publisher == nil {
		return nil, fmt.Errorf("pipeline needs a source, a store and a publisher: %w", core.ErrConfigInvalid)
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 100 * time.Millisecond
	}

	packets, err := queue.New[core.PacketBuffer](cfg.QueueKind, cfg.Capacities.Packets)
	if err != nil {
		return nil, fmt.Errorf("raw packet queue: %w", err)
	}
	domains, err := queue.New[core.DomainBatch](cfg.QueueKind, cfg.Capacities.Domains)
	if err != nil {
		return nil, fmt.Errorf("domain queue: %w", err)
	}
	outcomes, err := queue.New[core.OutcomeBatch](cfg.QueueKind, cfg.Capacities.Outcomes)
	if err != nil {
		return nil, fmt.Errorf("outcome queue: %w", err)
	}

	dec, err := extract.NewDecoder(cfg.Source.LinkType(), cfg.CaseSensitive)
	if err != nil {
		return nil, err
	}

	p := &Pipeline{
		iface:       cfg.Interface,
		packets:     packets,
		domains:     domains,
		outcomes:    outcomes,
		store:       cfg.Store,
		pub:         cfg.Publisher,
		sig:         sig,
		sample:      cfg.SampleInterval,
		log:         log.Stage("pipeline"),
		captureDone: make(chan struct{}),
		extractDone: make(chan struct{}),
		lookupDone:  make(chan struct{}),
	}

	cfg.Extract.PollInterval = cfg.PollInterval
	cfg.Lookup.PollInterval = cfg.PollInterval
	cfg.Publish.PollInterval = cfg.PollInterval

	p.capture = capture.NewStage(cfg.Source, packets, sig, cfg.Interface, cfg.StatsInterval)
	p.extract = extract.NewStage(dec, cfg.Extract, packets, domains, sig, p.captureDone)
	p.lookup = reputation.NewStage(cfg.Store, cfg.Lookup, domains, outcomes, sig, p.extractDone)
	p.publish = publish.NewStage(cfg.Publisher, cfg.Publish, outcomes, sig, p.lookupDone)

	for name, c := range map[string]int{"packets": packets.Cap(), "domains": domains.Cap(), "outcomes": outcomes.Cap()} {
		metrics.QueueCapacity.WithLabelValues(name).Set(float64(c))
	}
	return p, nil
}

// Run starts every stage and blocks until all of them returned. It returns the first
// stage failure; a cancelled or drained pipeline returns nil.
func (p *Pipeline) Run() error {
	p.log.Info("pipeline starting",
		"interface", p.iface,
		"packets_cap", p.packets.Cap(),
		"domains_cap", p.domains.Cap(),
		"outcomes_cap", p.outcomes.Cap())

	var g errgroup.Group
	p.goStage(&g, "capture", p.capture.Run, p.captureDone)
	p.goStage(&g, "extract", p.extract.Run, p.extractDone)
	p.goStage(&g, "lookup", p.lookup.Run, p.lookupDone)
	p.goStage(&g, "publish", p.publish.Run, nil)

	stop := make(chan struct{})
	sampled := make(chan struct{})
	go func() {
		defer close(sampled)
		p.sampleDepths(stop)
	}()

	err := g.Wait()
	close(stop)
	<-sampled

	if err != nil {
		p.log.Error("pipeline stopped with error", "error", err)
		return err
	}
	p.log.Info("pipeline stopped")
	return nil
}

func (p *Pipeline) goStage(g *errgroup.Group, name string, run func() error, done chan struct{}) {
	g.Go(func() error {
		if done != nil {
			defer close(done)
		}
		metrics.StageStatus.WithLabelValues(name).Set(metrics.StageStatusRunning)
		err := run()
		if err != nil {
			metrics.StageStatus.WithLabelValues(name).Set(metrics.StageStatusError)
			return fmt.Errorf("%s stage: %w", name, err)
		}
		metrics.StageStatus.WithLabelValues(name).Set(metrics.StageStatusStopped)
		return nil
	})
}

// Depths reports the current element count of every queue.
func (p *Pipeline) Depths() map[string]int {
	return map[string]int{
		"packets":  p.packets.Len(),
		"domains":  p.domains.Len(),
		"outcomes": p.outcomes.Len(),
	}
}

// Capacities reports the capacity each queue was built with.
func (p *Pipeline) Capacities() Capacities {
	return Capacities{Packets: p.packets.Cap(), Domains: p.domains.Cap(), Outcomes: p.outcomes.Cap()}
}

// Close releases the store and the publisher. Call it once Run has returned.
func (p *Pipeline) Close() error {
	return errors.Join(p.pub.Close(), p.store.Close())
}
