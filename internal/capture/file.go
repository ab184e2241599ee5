package capture

import (
	"fmt"
	"log/slog"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcap"

	"firestige.xyz/dgawatch/internal/config"
)

// fileSource replays an offline capture. Reading past the last frame yields io.EOF.
type fileSource struct {
	path   string
	handle *pcap.Handle
	read   uint64
}

func openFile(path string) (*fileSource, error) {
	if path == "" {
		return nil, fmt.Errorf("pcap file path is required")
	}
	handle, err := pcap.OpenOffline(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open pcap file %s: %w", path, err)
	}
	if err := handle.SetBPFFilter(config.CaptureFilter); err != nil {
		handle.Close()
		return nil, fmt.Errorf("set filter %q: %w", config.CaptureFilter, err)
	}
	slog.Info("pcap file opened", "path", path, "link_type", handle.LinkType())
	return &fileSource{path: path, handle: handle}, nil
}

func (s *fileSource) ReadPacket() ([]byte, gopacket.CaptureInfo, error) {
	data, ci, err := s.handle.ReadPacketData()
	if err == nil {
		s.read++
	}
	return data, ci, err
}

func (s *fileSource) LinkType() layers.LinkType { return s.handle.LinkType() }

func (s *fileSource) Stats() (Stats, error) {
	return Stats{Received: s.read}, nil
}

func (s *fileSource) Close() error {
	s.handle.Close()
	return nil
}
