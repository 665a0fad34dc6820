package delegatekit

import (
	"sync/atomic"
	"time"
)

// LockMetrics provides quota-lock performance and failure statistics.
type LockMetrics struct {
	TotalAcquisitions int64         `json:"total_acquisitions"`
	GrantedCreations  int64         `json:"granted_creations"`
	RejectedCreations int64         `json:"rejected_creations"`
	AverageHeldFor    time.Duration `json:"average_held_for"`
	MaxHeldFor        time.Duration `json:"max_held_for"`
	LastReset         time.Time     `json:"last_reset"`
}

// lockMonitor tracks the quota-locked sections: how often the lock was
// taken, how long it was held, and how many creations passed the re-check.
type lockMonitor struct {
	total        atomic.Int64
	granted      atomic.Int64
	rejected     atomic.Int64
	heldForTotal atomic.Int64 // nanoseconds
	heldForMax   atomic.Int64 // nanoseconds
	lastReset    atomic.Int64 // unix nanoseconds
}

func newLockMonitor() *lockMonitor {
	m := &lockMonitor{}
	m.lastReset.Store(time.Now().UnixNano())
	return m
}

// record registers one completed locked section.
func (m *lockMonitor) record(heldFor time.Duration, granted bool) {
	m.total.Add(1)
	m.heldForTotal.Add(int64(heldFor))
	if granted {
		m.granted.Add(1)
	} else {
		m.rejected.Add(1)
	}

	held := int64(heldFor)
	for {
		current := m.heldForMax.Load()
		if held <= current || m.heldForMax.CompareAndSwap(current, held) {
			break
		}
	}
}

// metrics returns a snapshot of the counters.
func (m *lockMonitor) metrics() LockMetrics {
	total := m.total.Load()
	var avg time.Duration
	if total > 0 {
		avg = time.Duration(m.heldForTotal.Load() / total)
	}
	return LockMetrics{
		TotalAcquisitions: total,
		GrantedCreations:  m.granted.Load(),
		RejectedCreations: m.rejected.Load(),
		AverageHeldFor:    avg,
		MaxHeldFor:        time.Duration(m.heldForMax.Load()),
		LastReset:         time.Unix(0, m.lastReset.Load()),
	}
}

// reset clears all counters.
func (m *lockMonitor) reset() {
	m.total.Store(0)
	m.granted.Store(0)
	m.rejected.Store(0)
	m.heldForTotal.Store(0)
	m.heldForMax.Store(0)
	m.lastReset.Store(time.Now().UnixNano())
}
