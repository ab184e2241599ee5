package reputation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"firestige.xyz/dgawatch/internal/core"
	"firestige.xyz/dgawatch/internal/lifecycle"
	"firestige.xyz/dgawatch/internal/log"
	"firestige.xyz/dgawatch/internal/metrics"
	"firestige.xyz/dgawatch/internal/queue"
	"firestige.xyz/dgawatch/internal/retry"
)

// Options tune the lookup stage.
type Options struct {
	ForwardUnlisted bool
	Retry           retry.Policy
	PollInterval    time.Duration
}

// Stage resolves domain batches against the store and forwards actionable outcomes.
//
// Blacklisted names are audited and forwarded. Whitelisted names are dropped. Names on
// neither list are forwarded only with ForwardUnlisted. A name on both lists counts as
// blacklisted.
type Stage struct {
	store    Store
	opts     Options
	in       queue.Queue[core.DomainBatch]
	out      queue.Queue[core.OutcomeBatch]
	sig      *lifecycle.Signal
	upstream <-chan struct{}
	log      *slog.Logger
}

// NewStage creates the lookup stage. upstream is closed once the extractor exits.
func NewStage(store Store, opts Options, in queue.Queue[core.DomainBatch], out queue.Queue[core.OutcomeBatch],
	sig *lifecycle.Signal, upstream <-chan struct{}) *Stage {
	if opts.PollInterval <= 0 {
		opts.PollInterval = 100 * time.Millisecond
	}
	return &Stage{
		store:    store,
		opts:     opts,
		in:       in,
		out:      out,
		sig:      sig,
		upstream: upstream,
		log:      log.Stage("lookup"),
	}
}

// Run resolves batches until the signal is set or upstream is closed and drained.
// Store failures that survive the retry policy set the signal and are returned.
func (s *Stage) Run() error {
	s.log.Info("lookup started", "forward_unlisted", s.opts.ForwardUnlisted)
	for !s.sig.Cancelled() {
		batch, ok := s.in.Pop(s.sig.Context(), s.opts.PollInterval)
		if !ok {
			if lifecycle.Closed(s.upstream) && s.in.Len() == 0 {
				s.log.Info("upstream drained")
				return nil
			}
			continue
		}
		if batch.Len() == 0 {
			continue
		}

		if err := s.process(batch); err != nil {
			if errors.Is(err, core.ErrCancelled) {
				break
			}
			s.log.Error("lookup failed", "domains", batch.Len(), "error", err)
			s.sig.Cancel(err)
			return err
		}
	}
	s.log.Info("lookup stopped")
	return nil
}

func (s *Stage) process(batch core.DomainBatch) error {
	ctx := s.sig.Context()
	names := batch.Names()

	black, err := s.members(ctx, Blacklist, names)
	if err != nil {
		return err
	}
	white, err := s.members(ctx, Whitelist, names)
	if err != nil {
		return err
	}
	now := time.Now()

	blacklisted := make(map[string]int)
	unlisted := make(map[string]int)
	var audits []core.AuditRecord
	for _, name := range names {
		switch {
		case black[name]:
			blacklisted[name] = batch.Domains[name]
			audits = append(audits, core.AuditRecord{ID: uuid.NewString(), Domain: name, Timestamp: now})
		case white[name]:
		default:
			unlisted[name] = batch.Domains[name]
		}
	}

	if len(audits) > 0 {
		metrics.BlacklistHitsTotal.Add(float64(len(audits)))
		s.log.Warn("blacklisted domains observed", "count", len(audits), "domains", keys(blacklisted))
		err := retry.Do(ctx, s.opts.Retry, "audit", func(ctx context.Context) error {
			return s.store.Audit(ctx, audits)
		})
		if err != nil {
			metrics.AuditWritesTotal.WithLabelValues("error").Add(float64(len(audits)))
			return err
		}
		metrics.AuditWritesTotal.WithLabelValues("ok").Add(float64(len(audits)))
	}

	if len(blacklisted) > 0 {
		if err := s.forward(core.VerdictBlacklisted, blacklisted, batch.CapturedAt, now); err != nil {
			return err
		}
	}
	if s.opts.ForwardUnlisted && len(unlisted) > 0 {
		if err := s.forward(core.VerdictUnlisted, unlisted, batch.CapturedAt, now); err != nil {
			return err
		}
	}
	return nil
}

func (s *Stage) members(ctx context.Context, list List, names []string) (core.Membership, error) {
	var result core.Membership
	err := retry.Do(ctx, s.opts.Retry, "lookup "+string(list), func(ctx context.Context) error {
		start := time.Now()
		m, err := s.store.Members(ctx, list, names)
		metrics.LookupLatencySeconds.WithLabelValues(string(list)).Observe(time.Since(start).Seconds())
		if err != nil {
			return err
		}
		result = m
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%s query: %w", list, err)
	}

	hits := 0
	for _, in := range result {
		if in {
			hits++
		}
	}
	metrics.LookupsTotal.WithLabelValues(string(list), "hit").Add(float64(hits))
	metrics.LookupsTotal.WithLabelValues(string(list), "miss").Add(float64(len(result) - hits))
	return result, nil
}

func (s *Stage) forward(verdict core.Verdict, domains map[string]int, capturedAt, lookedUpAt time.Time) error {
	outcome := core.OutcomeBatch{
		Verdict:    verdict,
		Domains:    domains,
		CapturedAt: capturedAt,
		LookedUpAt: lookedUpAt,
	}
	return s.out.Emplace(s.sig.Context(), outcome)
}

func keys(m map[string]int) []string {
	b := core.DomainBatch{Domains: m}
	return b.Names()
}
