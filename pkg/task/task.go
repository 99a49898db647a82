// Package task tracks the ingest and verify requests currently running in
// the notary, for status reporting. State is in memory only and lives for
// the duration of each request.
package task

import (
	"sort"
	"sync"
	"time"
)

// Pipeline names used as tracker services.
const (
	ServiceIngest = "ingest"
	ServiceVerify = "verify"
)

// Info describes one running task.
type Info struct {
	ID      string    `json:"id"`
	Started time.Time `json:"started"`
}

// Tracker records running tasks per service. Implementations are safe for
// concurrent use; invalid inputs are ignored.
type Tracker interface {
	Start(service, taskID string)
	End(service, taskID string)
	Snapshot() map[string][]Info
}

// InMemoryTracker is the process-local Tracker.
type InMemoryTracker struct {
	mu   sync.RWMutex
	now  func() time.Time
	data map[string]map[string]time.Time
}

// New returns an empty tracker.
func New() *InMemoryTracker {
	return &InMemoryTracker{now: time.Now, data: make(map[string]map[string]time.Time)}
}

// TryStart marks a task running and reports false if it already was.
func (t *InMemoryTracker) TryStart(service, taskID string) bool {
	if service == "" || taskID == "" {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	m := t.serviceLocked(service)
	if _, exists := m[taskID]; exists {
		return false
	}
	m[taskID] = t.now()
	return true
}

// Start marks a task running. Restarting a running task keeps its start time.
func (t *InMemoryTracker) Start(service, taskID string) {
	t.TryStart(service, taskID)
}

func (t *InMemoryTracker) serviceLocked(service string) map[string]time.Time {
	m, ok := t.data[service]
	if !ok {
		m = make(map[string]time.Time)
		t.data[service] = m
	}
	return m
}

// End removes a task; unknown tasks are a no-op.
func (t *InMemoryTracker) End(service, taskID string) {
	if service == "" || taskID == "" {
		return
	}
	t.mu.Lock()
	if m, ok := t.data[service]; ok {
		delete(m, taskID)
		if len(m) == 0 {
			delete(t.data, service)
		}
	}
	t.mu.Unlock()
}

// Running returns how many tasks are in flight for service.
func (t *InMemoryTracker) Running(service string) int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.data[service])
}

// Snapshot returns a copy of running tasks per service, oldest first.
func (t *InMemoryTracker) Snapshot() map[string][]Info {
	out := make(map[string][]Info)
	t.mu.RLock()
	for svc, m := range t.data {
		infos := make([]Info, 0, len(m))
		for id, started := range m {
			infos = append(infos, Info{ID: id, Started: started})
		}
		out[svc] = infos
	}
	t.mu.RUnlock()

	for _, infos := range out {
		sort.Slice(infos, func(i, j int) bool {
			if infos[i].Started.Equal(infos[j].Started) {
				return infos[i].ID < infos[j].ID
			}
			return infos[i].Started.Before(infos[j].Started)
		})
	}
	return out
}
