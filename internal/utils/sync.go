package utils

import (
	"sync"
)

// OptionalMutex is a sync.Mutex that does nothing unless Enabled is set. Allocators created with
// an externally synchronized flag leave it disabled.
type OptionalMutex struct {
	Mutex   sync.Mutex
	Enabled bool
}

func (m *OptionalMutex) Lock() {
	if m.Enabled {
		m.Mutex.Lock()
	}
}

func (m *OptionalMutex) Unlock() {
	if m.Enabled {
		m.Mutex.Unlock()
	}
}

// OptionalRWMutex is the read/write counterpart of OptionalMutex
type OptionalRWMutex struct {
	Mutex   sync.RWMutex
	Enabled bool
}

func (m *OptionalRWMutex) Lock() {
	if m.Enabled {
		m.Mutex.Lock()
	}
}

func (m *OptionalRWMutex) Unlock() {
	if m.Enabled {
		m.Mutex.Unlock()
	}
}

func (m *OptionalRWMutex) RLock() {
	if m.Enabled {
		m.Mutex.RLock()
	}
}

func (m *OptionalRWMutex) RUnlock() {
	if m.Enabled {
		m.Mutex.RUnlock()
	}
}
