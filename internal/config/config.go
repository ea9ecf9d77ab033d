// Package config persists strip topology, display registry state,
// color calibration, the ambient-light on/off flag, display settings,
// user preferences and UI language as separate TOML files under an
// OS-specific per-user config directory, plus one-time migration of the
// legacy single-file format.
//
// Each file loads and falls back to defaults independently: a malformed
// language.toml must not prevent config_v2.toml from loading.
package config

import (
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/pelletier/go-toml/v2"
	"go.uber.org/zap"

	"github.com/ivanli-cn/ambient-light-go/internal/types"
)

// DirName is the subpath under the OS config directory.
const DirName = "cc.ivanli.ambient_light"

const (
	FileConfigV2     = "config_v2.toml"
	FileDisplays     = "displays.toml"
	FileAmbientState = "ambient_light_state.toml"
	FileUserPrefs    = "user_preferences.toml"
	FileLanguage     = "language.toml"
	fileLegacy       = "led_strip_config.toml"
)

// ConfigV2 is the contents of config_v2.toml: topology + display
// registry + calibration + timestamps.
type ConfigV2 struct {
	Version     int               `toml:"version"`
	Strips      []StripRecord     `toml:"strips"`
	Displays    []DisplayRecord   `toml:"displays"`
	Calibration CalibrationRecord `toml:"calibration"`
	UpdatedAt   time.Time         `toml:"updated_at"`
}

type StripRecord struct {
	Index             int    `toml:"index"`
	Border            string `toml:"border"`
	DisplayInternalID string `toml:"display_internal_id"`
	Len               int    `toml:"len"`
	LedType           string `toml:"led_type"`
	Reversed          bool   `toml:"reversed"`
}

type DisplayRecord struct {
	InternalID     string     `toml:"internal_id"`
	Name           string     `toml:"name"`
	Width          int        `toml:"width"`
	Height         int        `toml:"height"`
	ScaleFactor    float64    `toml:"scale_factor"`
	IsPrimary      bool       `toml:"is_primary"`
	LastSystemID   *int       `toml:"last_system_id,omitempty"`
	LastPositionX  *int       `toml:"last_position_x,omitempty"`
	LastPositionY  *int       `toml:"last_position_y,omitempty"`
	LastDetectedAt *time.Time `toml:"last_detected_at,omitempty"`
}

type CalibrationRecord struct {
	R float64 `toml:"r"`
	G float64 `toml:"g"`
	B float64 `toml:"b"`
	W float64 `toml:"w"`
}

func DefaultConfigV2() ConfigV2 {
	return ConfigV2{
		Version:     2,
		Calibration: CalibrationRecord{R: 1, G: 1, B: 1, W: 1},
	}
}

// DisplaySettings is one entry of displays.toml: per-display user
// preferences kept independent of the strip topology.
type DisplaySettings struct {
	Brightness float64 `toml:"brightness"`
	Contrast   float64 `toml:"contrast"`
	Mode       string  `toml:"mode"`
}

// DisplaysFile is the contents of displays.toml, keyed by internal_id.
type DisplaysFile struct {
	Settings map[string]DisplaySettings `toml:"settings"`
}

func DefaultDisplaysFile() DisplaysFile {
	return DisplaysFile{Settings: make(map[string]DisplaySettings)}
}

// AmbientLightState is ambient_light_state.toml.
type AmbientLightState struct {
	Enabled bool `toml:"enabled"`
}

// UserPreferences is user_preferences.toml: window/UI preferences, out
// of this package's business logic but persisted through the same
// atomic-write path.
type UserPreferences struct {
	WindowWidth  int  `toml:"window_width"`
	WindowHeight int  `toml:"window_height"`
	StartHidden  bool `toml:"start_hidden"`
}

func DefaultUserPreferences() UserPreferences {
	return UserPreferences{WindowWidth: 1280, WindowHeight: 800}
}

// Language is language.toml.
type Language struct {
	Tag string `toml:"tag"`
}

func DefaultLanguage() Language {
	return Language{Tag: "en-US"}
}

// Store is the in-memory hot state for all five files, guarded by one
// RWMutex that is held only while copying in-memory state, never across
// file I/O, so a slow disk write does not block readers. It is
// the authoritative copy between writes: a failed write leaves the
// in-memory state updated even though the file on disk is stale.
type Store struct {
	dir string
	log *zap.Logger

	mu       sync.RWMutex
	v2       ConfigV2
	displays DisplaysFile
	ambient  AmbientLightState
	prefs    UserPreferences
	lang     Language

	changed chan struct{}
}

// Dir returns the OS-specific per-user config directory for this app,
// creating it with 0700 permissions if absent.
func Dir() (string, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	dir := filepath.Join(base, DirName)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", err
	}
	return dir, nil
}

// Load reads all five files from dir, falling back to defaults for any
// file that is missing, unreadable or malformed, independently of the
// others. A missing file is not logged; an unreadable one logs a
// warning and a malformed one logs a ConfigParse warning. It then migrates the legacy
// single-file format if present.
func Load(dir string, log *zap.Logger) (*Store, error) {
	s := &Store{dir: dir, log: log, changed: make(chan struct{}, 1)}

	s.v2 = loadOrDefault(dir, FileConfigV2, DefaultConfigV2(), log)
	s.displays = loadOrDefault(dir, FileDisplays, DefaultDisplaysFile(), log)
	s.ambient = loadOrDefault(dir, FileAmbientState, AmbientLightState{Enabled: true}, log)
	s.prefs = loadOrDefault(dir, FileUserPrefs, DefaultUserPreferences(), log)
	s.lang = loadOrDefault(dir, FileLanguage, DefaultLanguage(), log)

	if err := s.migrateLegacyIfPresent(); err != nil {
		return nil, err
	}
	return s, nil
}

func loadOrDefault[T any](dir, name string, fallback T, log *zap.Logger) T {
	path := filepath.Join(dir, name)
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) && log != nil {
			log.Warn("config read failed, using defaults", zap.String("file", name), zap.Error(err))
		}
		return fallback
	}
	var v T
	if err := toml.Unmarshal(data, &v); err != nil {
		if log != nil {
			log.Warn("config parse failed, using defaults", zap.String("file", name), zap.Error(err),
				zap.NamedError("kind", types.ErrConfigParse))
		}
		return fallback
	}
	return v
}

// writeAtomic encodes v as TOML and writes it to dir/name via a
// temp-file-then-rename so a crash mid-write never leaves a partial file.
func writeAtomic(dir, name string, v any) error {
	data, err := toml.Marshal(v)
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, "."+name+".tmp-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return os.Rename(tmpPath, filepath.Join(dir, name))
}

func (s *Store) notify() {
	select {
	case s.changed <- struct{}{}:
	default:
	}
}

// Changes returns a channel signaled (coalesced) after any successful
// write.
func (s *Store) Changes() <-chan struct{} { return s.changed }

// ConfigV2 returns a copy of the current hot state.
func (s *Store) ConfigV2() ConfigV2 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.v2
}

// SaveConfigV2 updates hot state and persists it; on write failure the
// hot state is left updated and ErrConfigWrite is returned.
func (s *Store) SaveConfigV2(v ConfigV2) error {
	v.UpdatedAt = time.Now()
	s.mu.Lock()
	s.v2 = v
	s.mu.Unlock()
	if err := writeAtomic(s.dir, FileConfigV2, v); err != nil {
		if s.log != nil {
			s.log.Error("config_v2 write failed", zap.Error(err))
		}
		return wrapWrite(err)
	}
	s.notify()
	return nil
}

func (s *Store) Displays() DisplaysFile {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.displays
}

func (s *Store) SaveDisplays(v DisplaysFile) error {
	s.mu.Lock()
	s.displays = v
	s.mu.Unlock()
	if err := writeAtomic(s.dir, FileDisplays, v); err != nil {
		return wrapWrite(err)
	}
	s.notify()
	return nil
}

func (s *Store) AmbientLightEnabled() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ambient.Enabled
}

func (s *Store) SetAmbientLightEnabled(enabled bool) error {
	s.mu.Lock()
	s.ambient = AmbientLightState{Enabled: enabled}
	v := s.ambient
	s.mu.Unlock()
	if err := writeAtomic(s.dir, FileAmbientState, v); err != nil {
		return wrapWrite(err)
	}
	s.notify()
	return nil
}

func (s *Store) UserPreferences() UserPreferences {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.prefs
}

func (s *Store) SaveUserPreferences(v UserPreferences) error {
	s.mu.Lock()
	s.prefs = v
	s.mu.Unlock()
	if err := writeAtomic(s.dir, FileUserPrefs, v); err != nil {
		return wrapWrite(err)
	}
	s.notify()
	return nil
}

func (s *Store) Language() Language {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lang
}

func (s *Store) SaveLanguage(v Language) error {
	s.mu.Lock()
	s.lang = v
	s.mu.Unlock()
	if err := writeAtomic(s.dir, FileLanguage, v); err != nil {
		return wrapWrite(err)
	}
	s.notify()
	return nil
}

func wrapWrite(err error) error {
	return &writeError{err: err}
}

type writeError struct{ err error }

func (e *writeError) Error() string { return "config write failed: " + e.err.Error() }
func (e *writeError) Unwrap() error { return e.err }
func (e *writeError) Is(target error) bool {
	return target == types.ErrConfigWrite
}
