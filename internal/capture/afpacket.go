//go:build linux

package capture

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/gopacket"
	"github.com/google/gopacket/afpacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcap"
	"golang.org/x/net/bpf"

	"firestige.xyz/dgawatch/internal/config"
)

// afpacketSource reads from a TPACKET_V3 mmap ring.
//
// The handle is owned by the capture goroutine; Close must only be called once the
// read loop returned, otherwise ZeroCopyReadPacketData races the ring unmap.
type afpacketSource struct {
	iface  string
	handle *afpacket.TPacket
}

func openAFPacket(cfg config.CaptureConfig, iface string) (*afpacketSource, error) {
	if iface == "" {
		return nil, fmt.Errorf("afpacket: interface is required")
	}
	handle, err := afpacket.NewTPacket(
		afpacket.OptInterface(iface),
		afpacket.OptFrameSize(cfg.FrameSize),
		afpacket.OptBlockSize(cfg.BlockSize),
		afpacket.OptNumBlocks(cfg.NumBlocks),
		afpacket.OptPollTimeout(cfg.Timeout),
		afpacket.OptTPacketVersion(afpacket.TPacketVersion3),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create TPacket handle: %w", err)
	}
	s := &afpacketSource{iface: iface, handle: handle}

	if err := s.applyBPFFilter(cfg.Snaplen, config.CaptureFilter); err != nil {
		handle.Close()
		return nil, fmt.Errorf("failed to apply BPF filter: %w", err)
	}
	if err := handle.InitSocketStats(); err != nil {
		slog.Warn("failed to init socket stats", "error", err)
	}
	if cfg.Promiscuous {
		slog.Debug("afpacket does not toggle promiscuous mode; set it on the interface", "interface", iface)
	}

	slog.Info("afpacket capture opened",
		"interface", iface,
		"frame_size", cfg.FrameSize,
		"block_size", cfg.BlockSize,
		"num_blocks", cfg.NumBlocks,
		"filter", config.CaptureFilter)
	return s, nil
}

// applyBPFFilter compiles filter with libpcap and installs it on the socket.
func (s *afpacketSource) applyBPFFilter(snaplen int, filter string) error {
	pcapInsns, err := pcap.CompileBPFFilter(layers.LinkTypeEthernet, snaplen, filter)
	if err != nil {
		return fmt.Errorf("failed to compile BPF filter %q: %w", filter, err)
	}

	// pcap.BPFInstruction and bpf.RawInstruction share layout: Code->Op, Jt, Jf, K.
	rawInsns := make([]bpf.RawInstruction, len(pcapInsns))
	for i, insn := range pcapInsns {
		rawInsns[i] = bpf.RawInstruction{
			Op: insn.Code,
			Jt: insn.Jt,
			Jf: insn.Jf,
			K:  insn.K,
		}
	}
	return s.handle.SetBPF(rawInsns)
}

func (s *afpacketSource) ReadPacket() ([]byte, gopacket.CaptureInfo, error) {
	data, ci, err := s.handle.ZeroCopyReadPacketData()
	if errors.Is(err, afpacket.ErrTimeout) || errors.Is(err, afpacket.ErrPoll) {
		return nil, ci, ErrReadTimeout
	}
	return data, ci, err
}

func (s *afpacketSource) LinkType() layers.LinkType { return layers.LinkTypeEthernet }

func (s *afpacketSource) Stats() (Stats, error) {
	_, v3, err := s.handle.SocketStats()
	if err != nil {
		return Stats{}, err
	}
	return Stats{
		Received:      uint64(v3.Packets()),
		KernelDropped: uint64(v3.Drops()),
		IfaceDropped:  uint64(v3.QueueFreezes()),
	}, nil
}

func (s *afpacketSource) Close() error {
	s.handle.Close()
	return nil
}
