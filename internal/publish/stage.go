package publish

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"firestige.xyz/dgawatch/internal/core"
	"firestige.xyz/dgawatch/internal/lifecycle"
	"firestige.xyz/dgawatch/internal/log"
	"firestige.xyz/dgawatch/internal/metrics"
	"firestige.xyz/dgawatch/internal/queue"
	"firestige.xyz/dgawatch/internal/retry"
)

// Options tune the publisher stage.
type Options struct {
	Backend      string
	Retry        retry.Policy
	PollInterval time.Duration
}

// Stage drains the outcome queue into a Publisher.
type Stage struct {
	pub      Publisher
	opts     Options
	in       queue.Queue[core.OutcomeBatch]
	sig      *lifecycle.Signal
	upstream <-chan struct{}
	log      *slog.Logger
}

// NewStage creates the publisher stage. upstream is closed once the lookup stage exits.
func NewStage(pub Publisher, opts Options, in queue.Queue[core.OutcomeBatch], sig *lifecycle.Signal,
	upstream <-chan struct{}) *Stage {
	if opts.PollInterval <= 0 {
		opts.PollInterval = 100 * time.Millisecond
	}
	if opts.Backend == "" {
		opts.Backend = "unknown"
	}
	return &Stage{
		pub:      pub,
		opts:     opts,
		in:       in,
		sig:      sig,
		upstream: upstream,
		log:      log.Stage("publish"),
	}
}

// Run publishes outcomes until the signal is set or upstream is closed and drained.
// A batch that cannot be published within the retry policy sets the signal and the
// error is returned.
func (s *Stage) Run() error {
	s.log.Info("publisher started", "backend", s.opts.Backend)
	for !s.sig.Cancelled() {
		batch, ok := s.in.Pop(s.sig.Context(), s.opts.PollInterval)
		if !ok {
			if lifecycle.Closed(s.upstream) && s.in.Len() == 0 {
				s.log.Info("upstream drained")
				return nil
			}
			continue
		}

		if err := s.publish(batch); err != nil {
			if errors.Is(err, core.ErrCancelled) {
				break
			}
			s.log.Error("publish failed", "verdict", batch.Verdict, "domains", len(batch.Domains), "error", err)
			s.sig.Cancel(err)
			return err
		}
	}
	s.log.Info("publisher stopped")
	return nil
}

func (s *Stage) publish(batch core.OutcomeBatch) error {
	msg, err := Encode(batch, time.Now())
	if err != nil {
		return err
	}
	// The signal only gates new attempts; an attempt in flight is bounded by the
	// publisher's confirm timeout.
	err = retry.Do(s.sig.Context(), s.opts.Retry, "publish", func(ctx context.Context) error {
		err := s.pub.Publish(context.WithoutCancel(ctx), msg)
		if err != nil {
			metrics.PublishAttemptsTotal.WithLabelValues(s.opts.Backend, "error").Inc()
			return err
		}
		metrics.PublishAttemptsTotal.WithLabelValues(s.opts.Backend, "ok").Inc()
		return nil
	})
	if err != nil {
		return err
	}
	s.log.Debug("outcome published", "id", msg.ID, "verdict", batch.Verdict, "domains", len(batch.Domains))
	return nil
}
