package measure

import (
	"sync"
	"time"
)

// DefaultAlpha weights each new sample in the moving average
const DefaultAlpha = 0.2

// MovingAverage is an exponentially weighted moving average of request
// durations. It is safe for concurrent use.
type MovingAverage struct {
	mu      sync.RWMutex
	alpha   float64
	value   float64
	samples int64
}

// NewMovingAverage creates an estimator. alpha outside (0, 1] falls back to DefaultAlpha.
func NewMovingAverage(alpha float64) *MovingAverage {
	if alpha <= 0 || alpha > 1 {
		alpha = DefaultAlpha
	}
	return &MovingAverage{alpha: alpha}
}

// Observe adds one measured duration
func (m *MovingAverage) Observe(d time.Duration) {
	if d < 0 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	v := d.Seconds()
	if m.samples == 0 {
		m.value = v
	} else {
		m.value = m.alpha*v + (1-m.alpha)*m.value
	}
	m.samples++
}

// Value returns the current estimate and whether any sample was observed
func (m *MovingAverage) Value() (time.Duration, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.samples == 0 {
		return 0, false
	}
	return time.Duration(m.value * float64(time.Second)), true
}

// Samples returns the number of observed durations
func (m *MovingAverage) Samples() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.samples
}
