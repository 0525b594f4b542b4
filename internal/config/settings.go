package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/spf13/viper"
)

const autoSignOutKey = "checkout.auto_signout"

// Settings exposes the mutable, process-wide preferences that protocols read
// and write at runtime. Changes are persisted to the config file.
type Settings struct {
	mu       sync.Mutex
	v        *viper.Viper
	fallback string
}

// NewSettings wraps v. When v has no config file loaded, writes go to
// fallback (typically ConfigFile()).
func NewSettings(v *viper.Viper, fallback string) *Settings {
	return &Settings{v: v, fallback: fallback}
}

// AutoSignOut reports whether uploads may sign an element out without asking.
func (s *Settings) AutoSignOut() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.v.GetBool(autoSignOutKey)
}

// SetAutoSignOut updates the in-memory value first, so the current process
// sees it even if persisting fails.
func (s *Settings) SetAutoSignOut(enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.v.Set(autoSignOutKey, enabled)

	if used := s.v.ConfigFileUsed(); used != "" {
		if err := s.v.WriteConfig(); err != nil {
			return fmt.Errorf("failed to persist %s: %w", autoSignOutKey, err)
		}
		return nil
	}
	if s.fallback == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(s.fallback), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := s.v.WriteConfigAs(s.fallback); err != nil {
		return fmt.Errorf("failed to persist %s: %w", autoSignOutKey, err)
	}
	return nil
}
