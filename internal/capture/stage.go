package capture

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"firestige.xyz/dgawatch/internal/core"
	"firestige.xyz/dgawatch/internal/lifecycle"
	"firestige.xyz/dgawatch/internal/log"
	"firestige.xyz/dgawatch/internal/metrics"
	"firestige.xyz/dgawatch/internal/queue"
)

// Stage moves frames from a Source into the raw-packet queue.
type Stage struct {
	src           Source
	out           queue.Queue[core.PacketBuffer]
	sig           *lifecycle.Signal
	iface         string
	statsInterval time.Duration
	log           *slog.Logger
}

// NewStage creates the capture stage. iface labels metrics; statsInterval paces driver
// statistics polling (0 disables it).
func NewStage(src Source, out queue.Queue[core.PacketBuffer], sig *lifecycle.Signal, iface string, statsInterval time.Duration) *Stage {
	return &Stage{
		src:           src,
		out:           out,
		sig:           sig,
		iface:         iface,
		statsInterval: statsInterval,
		log:           log.Stage("capture"),
	}
}

// Run reads until the signal is set, the source is exhausted or the driver fails.
// Exhaustion returns nil. A driver failure sets the signal and is returned.
// Run closes the source before returning.
func (s *Stage) Run() error {
	defer func() {
		s.reportStats(true)
		if err := s.src.Close(); err != nil {
			s.log.Warn("close capture source", "error", err)
		}
	}()

	s.log.Info("capture started", "interface", s.iface, "link_type", s.src.LinkType())
	lastStats := time.Now()
	for !s.sig.Cancelled() {
		if s.statsInterval > 0 && time.Since(lastStats) >= s.statsInterval {
			s.reportStats(false)
			lastStats = time.Now()
		}

		data, ci, err := s.src.ReadPacket()
		switch {
		case err == nil:
		case errors.Is(err, ErrReadTimeout):
			continue
		case errors.Is(err, io.EOF):
			s.log.Info("capture source exhausted", "interface", s.iface)
			return nil
		default:
			err = fmt.Errorf("%w: read %s: %w", core.ErrCaptureFailed, s.iface, err)
			s.log.Error("capture failed", "interface", s.iface, "error", err)
			s.sig.Cancel(err)
			return err
		}

		pb := core.NewPacketBuffer(core.CaptureInfo{
			Timestamp:      ci.Timestamp,
			CaptureLen:     uint32(ci.CaptureLength),
			OrigLen:        uint32(ci.Length),
			InterfaceIndex: ci.InterfaceIndex,
		}, data)
		kind := pb.Kind()
		if err := s.out.Emplace(s.sig.Context(), pb); err != nil {
			break
		}
		metrics.CapturedPacketsTotal.WithLabelValues(s.iface, kind.String()).Inc()
	}

	s.log.Info("capture stopped", "interface", s.iface)
	return nil
}

func (s *Stage) reportStats(final bool) {
	st, err := s.src.Stats()
	if err != nil {
		s.log.Debug("capture stats unavailable", "error", err)
		return
	}
	metrics.CaptureDropsTotal.WithLabelValues(s.iface, "kernel").Set(float64(st.KernelDropped))
	metrics.CaptureDropsTotal.WithLabelValues(s.iface, "interface").Set(float64(st.IfaceDropped))
	if final {
		s.log.Info("capture statistics",
			"interface", s.iface,
			"received", st.Received,
			"dropped_kernel", st.KernelDropped,
			"dropped_interface", st.IfaceDropped)
	}
}
