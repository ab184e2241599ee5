package capture

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcap"

	"firestige.xyz/dgawatch/internal/config"
)

// pcapSource captures from a live device through libpcap.
type pcapSource struct {
	handle *pcap.Handle
}

// resolveDevice checks that name is a capture device libpcap knows about.
func resolveDevice(name string) error {
	devs, err := pcap.FindAllDevs()
	if err != nil {
		return fmt.Errorf("list devices: %w", err)
	}
	names := make([]string, 0, len(devs))
	for _, d := range devs {
		if d.Name == name {
			return nil
		}
		names = append(names, d.Name)
	}
	slices.Sort(names)
	return fmt.Errorf("device %q not found (available: %v)", name, names)
}

func openLive(cfg config.CaptureConfig, iface string) (*pcapSource, error) {
	if err := resolveDevice(iface); err != nil {
		return nil, err
	}

	var lastErr error
	for _, size := range bufferSizes(cfg.BufferMB) {
		handle, err := activate(cfg, iface, size)
		if err != nil {
			lastErr = err
			slog.Warn("pcap activation failed, shrinking buffer", "interface", iface, "buffer_bytes", size, "error", err)
			continue
		}
		if err := handle.SetBPFFilter(config.CaptureFilter); err != nil {
			handle.Close()
			return nil, fmt.Errorf("set filter %q: %w", config.CaptureFilter, err)
		}
		slog.Info("pcap capture opened",
			"interface", iface,
			"buffer_bytes", size,
			"snaplen", cfg.Snaplen,
			"promiscuous", cfg.Promiscuous,
			"filter", config.CaptureFilter)
		return &pcapSource{handle: handle}, nil
	}
	return nil, fmt.Errorf("activate %s: %w", iface, lastErr)
}

func activate(cfg config.CaptureConfig, iface string, bufferSize int) (*pcap.Handle, error) {
	inactive, err := pcap.NewInactiveHandle(iface)
	if err != nil {
		return nil, err
	}
	defer inactive.CleanUp()

	if err := inactive.SetSnapLen(cfg.Snaplen); err != nil {
		return nil, fmt.Errorf("snaplen: %w", err)
	}
	if err := inactive.SetPromisc(cfg.Promiscuous); err != nil {
		return nil, fmt.Errorf("promiscuous: %w", err)
	}
	if err := inactive.SetTimeout(cfg.Timeout); err != nil {
		return nil, fmt.Errorf("timeout: %w", err)
	}
	if err := inactive.SetBufferSize(bufferSize); err != nil {
		return nil, fmt.Errorf("buffer size: %w", err)
	}
	if cfg.Immediate {
		if err := inactive.SetImmediateMode(true); err != nil {
			slog.Warn("immediate mode not supported", "interface", iface, "error", err)
		}
	}
	return inactive.Activate()
}

func (s *pcapSource) ReadPacket() ([]byte, gopacket.CaptureInfo, error) {
	data, ci, err := s.handle.ReadPacketData()
	if errors.Is(err, pcap.NextErrorTimeoutExpired) {
		return nil, ci, ErrReadTimeout
	}
	return data, ci, err
}

func (s *pcapSource) LinkType() layers.LinkType { return s.handle.LinkType() }

func (s *pcapSource) Stats() (Stats, error) {
	st, err := s.handle.Stats()
	if err != nil {
		return Stats{}, err
	}
	return Stats{
		Received:      uint64(st.PacketsReceived),
		KernelDropped: uint64(st.PacketsDropped),
		IfaceDropped:  uint64(st.PacketsIfDropped),
	}, nil
}

func (s *pcapSource) Close() error {
	s.handle.Close()
	return nil
}
