package backfill

import (
	"context"
	"log"
	"time"
)

// Sampler reports host resource usage
type Sampler interface {
	Sample() (Usage, error)
}

// Monitor periodically samples the host and adjusts a Limiter
type Monitor struct {
	limiter  *Limiter
	sampler  Sampler
	interval time.Duration
}

func NewMonitor(limiter *Limiter, sampler Sampler, interval time.Duration) *Monitor {
	return &Monitor{limiter: limiter, sampler: sampler, interval: interval}
}

// Run adjusts the limit on every tick until ctx is done
func (m *Monitor) Run(ctx context.Context) {
	if m.sampler == nil || m.interval <= 0 {
		return
	}
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Adjust()
		}
	}
}

// Adjust takes one sample and applies NextLimit to it
func (m *Monitor) Adjust() {
	usage, err := m.sampler.Sample()
	if err != nil {
		log.Printf("[monitor] failed to sample host usage: %v", err)
		return
	}

	current := m.limiter.Limit()
	floor, ceiling := m.limiter.Bounds()
	next := NextLimit(current, usage, floor, ceiling)

	log.Printf("[monitor] memory used: %.1f%%, cpu load: %.1f%%, concurrency: %d",
		usage.Memory*100, usage.Load*100, current)

	if next == current {
		return
	}
	m.limiter.set(next)
	if next < current {
		log.Printf("[monitor] reducing concurrency to %d due to high resource usage", next)
	} else {
		log.Printf("[monitor] increasing concurrency to %d due to available resources", next)
	}
}
