package enginestage

import (
	"sync"
)

type Stage string

const (
	Init         Stage = "Init"         // The default stage of the engine
	Starting     Stage = "Starting"     // Run was called and plugins are being resolved
	Running      Stage = "Running"      // The update loop is ticking
	ShuttingDown Stage = "ShuttingDown" // Shutdown was requested
	ShutDown     Stage = "ShutDown"     // Everything is stopped and saved
)

type Manager struct {
	mu      sync.Mutex
	current Stage
	waiters map[Stage]chan struct{}
}

func NewManager() *Manager {
	return &Manager{
		current: Init,
		waiters: make(map[Stage]chan struct{}),
	}
}

func (m *Manager) Current() Stage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

func (m *Manager) CompareAndSwap(oldStage, newStage Stage) (swapped bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current != oldStage {
		return false
	}
	m.setLocked(newStage)
	return true
}

func (m *Manager) Store(val Stage) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.setLocked(val)
}

func (m *Manager) setLocked(val Stage) {
	m.current = val
	if ch, ok := m.waiters[val]; ok {
		close(ch)
		delete(m.waiters, val)
	}
}

// NotifyOnStage returns a channel that is closed once the engine enters stage. If the engine is already in
// stage the channel is closed immediately. Stages that were passed before the call are not reported.
func (m *Manager) NotifyOnStage(stage Stage) <-chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == stage {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	ch, ok := m.waiters[stage]
	if !ok {
		ch = make(chan struct{})
		m.waiters[stage] = ch
	}
	return ch
}
