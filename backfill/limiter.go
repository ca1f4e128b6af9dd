package backfill

import (
	"math"
	"sync/atomic"
)

const (
	memoryThreshold = 0.8
	loadThreshold   = 0.8
	relaxedLoad     = 0.6
	shrinkFactor    = 0.8
	growFactor      = 1.2
)

// Limiter holds the current admission limit of the worker. Readers may be
// anywhere; only the Monitor changes the value.
type Limiter struct {
	limit   atomic.Int64
	floor   int
	ceiling int
}

// NewLimiter creates a limiter starting at initial, clamped to [floor, ceiling]
func NewLimiter(initial, floor, ceiling int) *Limiter {
	if floor < 1 {
		floor = 1
	}
	if ceiling < floor {
		ceiling = floor
	}
	l := &Limiter{floor: floor, ceiling: ceiling}
	l.limit.Store(int64(clamp(initial, floor, ceiling)))
	return l
}

// Limit returns the current limit
func (l *Limiter) Limit() int {
	return int(l.limit.Load())
}

// Bounds returns the floor and ceiling of the limit
func (l *Limiter) Bounds() (int, int) {
	return l.floor, l.ceiling
}

func (l *Limiter) set(n int) int {
	n = clamp(n, l.floor, l.ceiling)
	l.limit.Store(int64(n))
	return n
}

// Usage is one sample of host resource usage, both as fractions
type Usage struct {
	Memory float64
	Load   float64
}

// NextLimit applies the adjustment rule: shrink by 20% when memory or load is
// above 80%, grow by 20% when memory is below 56% and load below 60%, and
// otherwise keep the current value. The result stays within [floor, ceiling].
func NextLimit(current int, usage Usage, floor, ceiling int) int {
	next := current
	switch {
	case usage.Memory > memoryThreshold || usage.Load > loadThreshold:
		next = int(math.Floor(float64(current) * shrinkFactor))
	case usage.Memory < memoryThreshold*0.7 && usage.Load < relaxedLoad:
		next = int(math.Floor(float64(current) * growFactor))
	}
	return clamp(next, floor, ceiling)
}

func clamp(n, floor, ceiling int) int {
	if n < floor {
		return floor
	}
	if n > ceiling {
		return ceiling
	}
	return n
}
