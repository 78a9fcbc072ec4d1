// Package netmon defines the connectivity signal the sync engine consumes.
// The engine never probes the network itself; something outside (the platform
// reachability sensor, a health checker) feeds the monitor.
package netmon

import (
	"sync"
	"time"
)

// Status is a snapshot of device connectivity.
type Status struct {
	IsOnline               bool
	IsInternetReachable    bool
	ConnectionType         string
	PendingOperationsCount int
	LastOnlineTime         time.Time
}

// Monitor supplies connectivity state to the orchestrator.
type Monitor interface {
	Status() Status
}

// ManualMonitor is a Monitor whose state is set by the embedding application.
type ManualMonitor struct {
	mu     sync.RWMutex
	status Status
}

// NewManualMonitor starts offline; callers report state changes with Set.
func NewManualMonitor() *ManualMonitor {
	return &ManualMonitor{}
}

// Set replaces the connectivity snapshot. LastOnlineTime is maintained
// automatically when transitioning online.
func (m *ManualMonitor) Set(s Status) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s.IsOnline && s.LastOnlineTime.IsZero() {
		s.LastOnlineTime = time.Now().UTC()
	}
	if !s.IsOnline && m.status.IsOnline {
		s.LastOnlineTime = m.status.LastOnlineTime
	}
	m.status = s
}

// SetPendingOperations updates the queue-depth hint surfaced to the UI.
func (m *ManualMonitor) SetPendingOperations(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.status.PendingOperationsCount = n
}

func (m *ManualMonitor) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status
}
