// Package configstore implements the Configuration Store (spec.md §4.9):
// layered YAML configuration, lazily loaded on first Resolve(path) call,
// resolved by dotted path. Loading and hot-reload are grounded on the
// pack's spf13/viper + fsnotify layered-config idiom (none of the teacher's
// own config packages use a layering library — Dutt23's common/config.go
// reads flat env vars — so this is enriched from the rest of the pack
// rather than the teacher itself; see DESIGN.md).
package configstore

import (
	"fmt"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	"github.com/lyzr/planrunner/common/planerr"
)

// Store resolves dotted configuration paths against one or more layered
// YAML files, later paths overriding earlier ones.
type Store struct {
	paths []string

	once    sync.Once
	loadErr error
	v       *viper.Viper

	mu    sync.RWMutex
	cache *memoCache
}

// New constructs a Store over the given layered config file paths. No file
// is read until the first Resolve call (spec.md §4.9 "Lazily loads...").
func New(paths ...string) *Store {
	return &Store{paths: paths, cache: newMemoCache()}
}

func (s *Store) ensureLoaded() error {
	s.once.Do(func() {
		v := viper.New()
		v.SetConfigType("yaml")

		for i, p := range s.paths {
			v.SetConfigFile(p)
			var err error
			if i == 0 {
				err = v.ReadInConfig()
			} else {
				err = v.MergeInConfig()
			}
			if err != nil {
				s.loadErr = fmt.Errorf("configstore: loading %s: %w", p, err)
				return
			}
		}
		s.v = v
	})
	return s.loadErr
}

// Resolve walks the combined configuration tree by dotted path. Missing
// keys raise planerr.CodeConfigKeyMissing (spec.md §4.9).
func (s *Store) Resolve(path string) (any, error) {
	if err := s.ensureLoaded(); err != nil {
		return nil, err
	}

	if v, ok := s.cache.get(path); ok {
		return v, nil
	}

	if !s.v.IsSet(path) {
		return nil, planerr.New(planerr.CodeConfigKeyMissing, fmt.Sprintf("config key %q is not set", path))
	}
	val := s.v.Get(path)
	s.cache.set(path, val)
	return val, nil
}

// Has reports whether path is defined, without raising an error. Used by
// the Validator's static reference-resolvability check.
func (s *Store) Has(path string) bool {
	if err := s.ensureLoaded(); err != nil {
		return false
	}
	return s.v.IsSet(path)
}

// WatchAndReload enables hot-reload: viper watches a single file, the
// last path given to New, and when it changes every layer is re-read in
// order, the memoized cache is invalidated and onChange (if non-nil) is
// invoked once loading completes. Changes to earlier layers alone do not
// trigger a reload (spec.md §4.9 is silent on hot-reload; this is an
// ambient-stack addition grounded on the pack's viper+fsnotify config
// watchers). Must be called after the Store has loaded at least once.
func (s *Store) WatchAndReload(onChange func()) error {
	if err := s.ensureLoaded(); err != nil {
		return err
	}
	s.v.OnConfigChange(func(fsnotify.Event) {
		for i, p := range s.paths {
			s.v.SetConfigFile(p)
			if i == 0 {
				_ = s.v.ReadInConfig()
			} else {
				_ = s.v.MergeInConfig()
			}
		}
		s.cache.clear()
		if onChange != nil {
			onChange()
		}
	})
	s.v.WatchConfig()
	return nil
}
