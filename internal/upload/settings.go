package upload

import "sync/atomic"

// MemorySettings keeps the automatic sign-out preference for the life of the
// process only.
type MemorySettings struct {
	auto atomic.Bool
}

// NewMemorySettings creates MemorySettings with the given initial value.
func NewMemorySettings(autoSignOut bool) *MemorySettings {
	s := &MemorySettings{}
	s.auto.Store(autoSignOut)
	return s
}

// AutoSignOut implements Settings.
func (s *MemorySettings) AutoSignOut() bool { return s.auto.Load() }

// SetAutoSignOut implements Settings.
func (s *MemorySettings) SetAutoSignOut(enabled bool) error {
	s.auto.Store(enabled)
	return nil
}
