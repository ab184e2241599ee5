package extract

import (
	"errors"
	"log/slog"
	"time"

	"firestige.xyz/dgawatch/internal/core"
	"firestige.xyz/dgawatch/internal/lifecycle"
	"firestige.xyz/dgawatch/internal/log"
	"firestige.xyz/dgawatch/internal/metrics"
	"firestige.xyz/dgawatch/internal/queue"
)

// Options tune extraction and the batch flush policy.
type Options struct {
	BatchSize     int           // flush at this many distinct names; 0 disables
	FlushInterval time.Duration // flush this long after the batch's first name; 0 disables
	ResponsesOnly bool          // ignore queries (QR=0)
	PollInterval  time.Duration // upper bound on a blocking receive
}

// Stage consumes raw packets and produces domain batches.
type Stage struct {
	dec      *Decoder
	opts     Options
	in       queue.Queue[core.PacketBuffer]
	out      queue.Queue[core.DomainBatch]
	sig      *lifecycle.Signal
	upstream <-chan struct{}
	log      *slog.Logger

	batch   core.DomainBatch
	started time.Time // when the current batch got its first name
}

// NewStage creates the extractor. upstream is closed once the capture stage stopped
// producing; the stage then drains in and exits. A nil upstream never closes.
func NewStage(dec *Decoder, opts Options, in queue.Queue[core.PacketBuffer], out queue.Queue[core.DomainBatch],
	sig *lifecycle.Signal, upstream <-chan struct{}) *Stage {
	if opts.PollInterval <= 0 {
		opts.PollInterval = 100 * time.Millisecond
	}
	return &Stage{
		dec:      dec,
		opts:     opts,
		in:       in,
		out:      out,
		sig:      sig,
		upstream: upstream,
		log:      log.Stage("extract"),
	}
}

// Run processes packets until the signal is set or upstream is closed and drained.
func (s *Stage) Run() error {
	s.reset()
	s.log.Info("extractor started", "batch_size", s.opts.BatchSize, "flush_interval", s.opts.FlushInterval)

	for {
		if s.sig.Cancelled() {
			s.flushOnCancel()
			return nil
		}

		pb, ok := s.in.Pop(s.sig.Context(), s.wait())
		if !ok {
			if lifecycle.Closed(s.upstream) {
				if pb, ok = s.in.TryPop(); !ok {
					s.log.Info("upstream drained")
					s.flush("drain")
					return nil
				}
			} else {
				if s.due() {
					s.flush("interval")
				}
				continue
			}
		}

		s.handle(&pb)

		switch {
		case s.opts.BatchSize > 0 && s.batch.Len() >= s.opts.BatchSize:
			s.flush("size")
		case s.due():
			s.flush("interval")
		}
	}
}

func (s *Stage) handle(pb *core.PacketBuffer) {
	defer pb.Reset()
	msg, err := s.dec.Decode(pb.Payload())
	switch {
	case errors.Is(err, core.ErrNotDNS):
		metrics.ExtractErrorsTotal.WithLabelValues("not_dns").Inc()
		return
	case err != nil:
		metrics.ExtractErrorsTotal.WithLabelValues("malformed").Inc()
		s.log.Debug("discarding frame", "error", err)
		return
	}
	if s.opts.ResponsesOnly && !msg.Response {
		metrics.ExtractErrorsTotal.WithLabelValues("query").Inc()
		return
	}

	if len(msg.Names) > 0 && s.batch.Len() == 0 {
		s.started = time.Now()
	}
	for _, name := range msg.Names {
		s.batch.Add(name, msg.Rcode, pb.Info.Timestamp)
	}
	metrics.ExtractedNamesTotal.Add(float64(len(msg.Names)))
}

// wait bounds the next receive so an age-triggered flush is not delayed past its due time.
func (s *Stage) wait() time.Duration {
	wait := s.opts.PollInterval
	if s.opts.FlushInterval > 0 && s.batch.Len() > 0 {
		if left := time.Until(s.started.Add(s.opts.FlushInterval)); left < wait {
			wait = max(left, time.Millisecond)
		}
	}
	return wait
}

func (s *Stage) due() bool {
	return s.opts.FlushInterval > 0 && s.batch.Len() > 0 && time.Since(s.started) >= s.opts.FlushInterval
}

// flush hands the batch downstream, blocking while the queue is full. If the signal
// fires while blocked, the batch falls back to a non-blocking hand-off.
func (s *Stage) flush(trigger string) {
	if s.batch.Len() == 0 {
		return
	}
	batch := s.batch
	s.reset()
	if err := s.out.Emplace(s.sig.Context(), batch); err != nil {
		s.offer(batch, "cancel")
		return
	}
	s.record(batch, trigger)
}

func (s *Stage) flushOnCancel() {
	if s.batch.Len() == 0 {
		return
	}
	batch := s.batch
	s.reset()
	s.offer(batch, "cancel")
}

func (s *Stage) offer(batch core.DomainBatch, trigger string) {
	if !s.out.TryEmplace(batch) {
		s.log.Warn("dropping partial batch on shutdown, queue full", "domains", batch.Len())
		return
	}
	s.record(batch, trigger)
}

func (s *Stage) record(batch core.DomainBatch, trigger string) {
	metrics.FlushedBatchesTotal.WithLabelValues(trigger).Inc()
	metrics.BatchSize.Observe(float64(batch.Len()))
	s.log.Debug("batch flushed", "trigger", trigger, "domains", batch.Len())
}

func (s *Stage) reset() {
	hint := s.opts.BatchSize
	if hint <= 0 || hint > 1024 {
		hint = 64
	}
	s.batch = core.NewDomainBatch(hint)
	s.started = time.Time{}
}
