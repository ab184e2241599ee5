//go:build !linux

package capture

import (
	"errors"

	"firestige.xyz/dgawatch/internal/config"
)

type afpacketSource struct{ Source }

func openAFPacket(config.CaptureConfig, string) (*afpacketSource, error) {
	return nil, errors.New("afpacket capture requires linux")
}
