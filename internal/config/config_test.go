package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/pelletier/go-toml/v2"
)

func tempDir(t *testing.T) string {
	t.Helper()
	dir, err := os.MkdirTemp("", "ambient-light-config-*")
	if err != nil {
		t.Fatalf("mkdtemp: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })
	return dir
}

func TestLoadDefaultsOnEmptyDir(t *testing.T) {
	dir := tempDir(t)
	s, err := Load(dir, nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if s.ConfigV2().Version != 2 {
		t.Fatalf("version = %d, want 2", s.ConfigV2().Version)
	}
	if !s.AmbientLightEnabled() {
		t.Fatal("expected default ambient light enabled = true")
	}
	if s.Language().Tag != "en-US" {
		t.Fatalf("language = %q, want en-US", s.Language().Tag)
	}
}

func TestSaveConfigV2RoundTrips(t *testing.T) {
	dir := tempDir(t)
	s, err := Load(dir, nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	v2 := DefaultConfigV2()
	v2.Strips = []StripRecord{{Index: 0, Border: "top", DisplayInternalID: "d1", Len: 10, LedType: "grb"}}
	if err := s.SaveConfigV2(v2); err != nil {
		t.Fatalf("save: %v", err)
	}

	reloaded, err := Load(dir, nil)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	got := reloaded.ConfigV2()
	if len(got.Strips) != 1 || got.Strips[0].DisplayInternalID != "d1" {
		t.Fatalf("reloaded strips = %+v", got.Strips)
	}
}

func TestSaveIsAtomic_NoPartialFileOnDisk(t *testing.T) {
	dir := tempDir(t)
	s, err := Load(dir, nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	v2 := DefaultConfigV2()
	v2.Strips = []StripRecord{{Index: 0, Border: "top", DisplayInternalID: "d1", Len: 5, LedType: "grb"}}
	if err := s.SaveConfigV2(v2); err != nil {
		t.Fatalf("save: %v", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("readdir: %v", err)
	}
	for _, e := range entries {
		if filepath.Ext(e.Name()) == ".tmp" || len(e.Name()) > 0 && e.Name()[0] == '.' && e.Name() != FileConfigV2 {
			t.Fatalf("leftover temp file %q after atomic write", e.Name())
		}
	}
}

// TestMigrateLegacy checks that a legacy file with strips referencing OS
// ids {1,2} migrates to config_v2.toml with placeholder display refs,
// and the legacy file is renamed .backup.
func TestMigrateLegacy(t *testing.T) {
	dir := tempDir(t)
	legacy := legacyConfig{Strips: []legacyStrip{
		{Index: 0, Border: "top", DisplayID: 1, Len: 38, LedType: "grb"},
		{Index: 1, Border: "right", DisplayID: 1, Len: 22, LedType: "grb"},
		{Index: 2, Border: "bottom", DisplayID: 2, Len: 38, LedType: "grb"},
	}}
	data, err := toml.Marshal(legacy)
	if err != nil {
		t.Fatalf("marshal legacy: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, fileLegacy), data, 0o600); err != nil {
		t.Fatalf("write legacy: %v", err)
	}

	s, err := Load(dir, nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	v2 := s.ConfigV2()
	if len(v2.Strips) != 3 {
		t.Fatalf("migrated strip count = %d, want 3", len(v2.Strips))
	}
	if v2.Strips[0].DisplayInternalID != LegacyDisplayRef(1) {
		t.Fatalf("strip[0] display ref = %q, want %q", v2.Strips[0].DisplayInternalID, LegacyDisplayRef(1))
	}

	if _, err := os.Stat(filepath.Join(dir, fileLegacy)); !os.IsNotExist(err) {
		t.Fatal("expected legacy file to be renamed away")
	}
	if _, err := os.Stat(filepath.Join(dir, fileLegacy+".backup")); err != nil {
		t.Fatalf("expected .backup file to exist: %v", err)
	}
}

// TestPartialConfigFailureIsolated checks that a malformed language.toml
// must not prevent the other four files from loading.
func TestPartialConfigFailureIsolated(t *testing.T) {
	dir := tempDir(t)
	if err := os.WriteFile(filepath.Join(dir, FileLanguage), []byte("not valid toml === {{{"), 0o600); err != nil {
		t.Fatalf("write malformed language file: %v", err)
	}
	v2 := DefaultConfigV2()
	v2.Strips = []StripRecord{{Index: 0, Border: "top", DisplayInternalID: "d1", Len: 1, LedType: "grb"}}
	data, _ := toml.Marshal(v2)
	if err := os.WriteFile(filepath.Join(dir, FileConfigV2), data, 0o600); err != nil {
		t.Fatalf("write config_v2: %v", err)
	}

	s, err := Load(dir, nil)
	if err != nil {
		t.Fatalf("load should not fail on a malformed language file: %v", err)
	}
	if len(s.ConfigV2().Strips) != 1 {
		t.Fatalf("config_v2 should have loaded despite language.toml being malformed")
	}
	if s.Language().Tag != "en-US" {
		t.Fatalf("language should fall back to default, got %q", s.Language().Tag)
	}
}

// TestDisplaySettingsIndependentOfTopology checks that saving per-display
// settings for a display with no strips never creates strip records.
func TestDisplaySettingsIndependentOfTopology(t *testing.T) {
	dir := tempDir(t)
	s, err := Load(dir, nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	df := DefaultDisplaysFile()
	df.Settings["display-with-no-strips"] = DisplaySettings{Brightness: 0.8, Contrast: 1.1, Mode: "vivid"}
	if err := s.SaveDisplays(df); err != nil {
		t.Fatalf("save displays: %v", err)
	}

	reloaded, err := Load(dir, nil)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	got := reloaded.Displays().Settings["display-with-no-strips"]
	if got.Brightness != 0.8 || got.Mode != "vivid" {
		t.Fatalf("got %+v, want brightness=0.8 mode=vivid", got)
	}
	if len(reloaded.ConfigV2().Strips) != 0 {
		t.Fatalf("expected no strips to have been created by a displays.toml write")
	}
}
