package pipeline

import (
	"time"

	"firestige.xyz/dgawatch/internal/metrics"
)

func (p *Pipeline) recordDepths() {
	for name, n := range p.Depths() {
		metrics.QueueDepth.WithLabelValues(name).Set(float64(n))
	}
}

// sampleDepths exports queue depths every sample interval until stop is closed.
func (p *Pipeline) sampleDepths(stop <-chan struct{}) {
	if p.sample <= 0 {
		<-stop
		p.recordDepths()
		return
	}
	ticker := time.NewTicker(p.sample)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			p.recordDepths()
			return
		case <-ticker.C:
			p.recordDepths()
		}
	}
}
