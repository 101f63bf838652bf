// Package settings keeps the small set of user preferences that survive
// restarts: the selected group, which campuses to sync and the result of
// the previous update.
package settings

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sync"

	"gopkg.in/yaml.v3"

	"schedsync/internal/fsutil"
	"schedsync/internal/model"
)

// DownloadAll selects every campus for syncing.
const DownloadAll = "all"

// Settings is the persisted preference set.
type Settings struct {
	// SavedGroup scopes default queries. Empty means none selected.
	SavedGroup string `yaml:"saved_group" json:"saved_group"`

	// DownloadFor is "all" or a single campus id.
	DownloadFor string `yaml:"download_for" json:"download_for"`

	// CachingEnabled is read when the HTTP client is built; changing it
	// takes effect on the next start.
	CachingEnabled bool `yaml:"caching_enabled" json:"caching_enabled"`

	// DoNotUpdateTimes keeps already downloaded reference images.
	DoNotUpdateTimes bool `yaml:"do_not_update_times" json:"do_not_update_times"`

	// PreviousUpdateResult is the status of the last schedule sync.
	PreviousUpdateResult string `yaml:"previous_update_result" json:"previous_update_result"`
}

// Default returns the settings used on first run.
func Default() Settings {
	return Settings{
		DownloadFor:    DownloadAll,
		CachingEnabled: true,
	}
}

// Normalize replaces unknown values with defaults.
func (s *Settings) Normalize() {
	switch s.DownloadFor {
	case DownloadAll:
	case string(model.CampusFirst), string(model.CampusSecond), string(model.CampusThird):
	default:
		s.DownloadFor = DownloadAll
	}
}

// Campuses returns the campuses DownloadFor selects.
func (s Settings) Campuses() []model.Campus {
	if s.DownloadFor == "" || s.DownloadFor == DownloadAll {
		return append([]model.Campus(nil), model.Campuses...)
	}
	return []model.Campus{model.Campus(s.DownloadFor)}
}

// Store is a file-backed Settings value safe for concurrent use.
type Store struct {
	path string

	mu  sync.RWMutex
	cur Settings
}

// Open loads settings from path, writing defaults there on first run.
func Open(path string) (*Store, error) {
	if path == "" {
		return nil, errors.New("settings path is empty")
	}

	st := &Store{path: path}
	data, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("read settings: %w", err)
		}
		st.cur = Default()
		if err := st.save(st.cur); err != nil {
			return nil, err
		}
		return st, nil
	}

	cur := Default()
	if err := yaml.Unmarshal(data, &cur); err != nil {
		return nil, fmt.Errorf("parse settings: %w", err)
	}
	cur.Normalize()
	st.cur = cur
	return st, nil
}

// Get returns a copy of the current settings.
func (st *Store) Get() Settings {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.cur
}

// Update applies fn to a copy of the settings and persists the result. The
// in-memory value changes only when the write succeeds.
func (st *Store) Update(fn func(*Settings)) error {
	st.mu.Lock()
	defer st.mu.Unlock()

	next := st.cur
	fn(&next)
	next.Normalize()
	if err := st.save(next); err != nil {
		return err
	}
	st.cur = next
	return nil
}

// SavedGroup returns the selected group.
func (st *Store) SavedGroup() string {
	return st.Get().SavedGroup
}

// SetSavedGroup persists the selected group.
func (st *Store) SetSavedGroup(group string) error {
	return st.Update(func(s *Settings) { s.SavedGroup = group })
}

func (st *Store) save(s Settings) error {
	data, err := yaml.Marshal(&s)
	if err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}
	if err := fsutil.WriteFile(st.path, data, 0o600); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}
	return nil
}
