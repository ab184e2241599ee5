// Package capture taps a network device (or a pcap file) and feeds DNS frames into
// the raw-packet queue.
package capture

import (
	"errors"
	"fmt"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"

	"firestige.xyz/dgawatch/internal/config"
	"firestige.xyz/dgawatch/internal/core"
)

// ErrReadTimeout is returned by ReadPacket when the poll interval elapsed without a frame.
var ErrReadTimeout = errors.New("capture: read timeout")

// Stats are cumulative driver counters.
type Stats struct {
	Received      uint64
	KernelDropped uint64
	IfaceDropped  uint64
}

// Source reads frames from a capture driver. ReadPacket returns ErrReadTimeout when no
// frame arrived within the configured timeout and io.EOF when an offline source is
// exhausted. The returned slice may be reused by the next call.
type Source interface {
	ReadPacket() ([]byte, gopacket.CaptureInfo, error)
	LinkType() layers.LinkType
	Stats() (Stats, error)
	Close() error
}

const mib = 1 << 20

// Open creates the source selected by cfg with the DNS filter installed.
func Open(cfg config.CaptureConfig, iface string) (Source, error) {
	var (
		src Source
		err error
	)
	switch cfg.Source {
	case "pcap", "":
		src, err = openLive(cfg, iface)
	case "afpacket":
		src, err = openAFPacket(cfg, iface)
	case "file":
		src, err = openFile(cfg.PcapFile)
	default:
		return nil, fmt.Errorf("unknown capture source %q: %w", cfg.Source, core.ErrConfigInvalid)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", core.ErrCaptureFailed, err)
	}
	return src, nil
}

// bufferSizes lists the kernel buffer sizes to try, largest first: the configured size
// decremented by 5 MiB down to 1 MiB.
func bufferSizes(configuredMB int) []int {
	if configuredMB < 1 {
		configuredMB = 1
	}
	var sizes []int
	for mb := configuredMB; mb >= 1; mb -= 5 {
		sizes = append(sizes, mb*mib)
	}
	if sizes[len(sizes)-1] != mib {
		sizes = append(sizes, mib)
	}
	return sizes
}
