package config

import (
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// legacyConfig mirrors the pre-v2 single-file format: strips referenced
// displays by a bare numeric OS id instead of a durable internal_id.
// led_strip_config.toml is read once on first launch and migrated to
// config_v2.toml.
type legacyConfig struct {
	Strips []legacyStrip `toml:"strips"`
}

type legacyStrip struct {
	Index     int    `toml:"index"`
	Border    string `toml:"border"`
	DisplayID int    `toml:"display_id"`
	Len       int    `toml:"len"`
	LedType   string `toml:"led_type"`
	Reversed  bool   `toml:"reversed"`
}

// migrateLegacyIfPresent reads fileLegacy if it exists, produces
// StripRecords with a placeholder display_internal_id of the form
// "legacy:<system_id>" (resolved once the daemon's Display Registry has
// detected the current displays, see cmd/ambient-lightd's
// resolveLegacyStripRecord), writes config_v2.toml, and renames the
// legacy file with a .backup suffix.
//
// It is a no-op, not an error, when the legacy file is absent.
func (s *Store) migrateLegacyIfPresent() error {
	legacyPath := filepath.Join(s.dir, fileLegacy)
	data, err := os.ReadFile(legacyPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	var legacy legacyConfig
	if err := toml.Unmarshal(data, &legacy); err != nil {
		if s.log != nil {
			s.log.Warn("legacy config parse failed, skipping migration")
		}
		return nil
	}

	v2 := s.ConfigV2()
	if len(v2.Strips) == 0 {
		v2.Strips = make([]StripRecord, 0, len(legacy.Strips))
		for _, ls := range legacy.Strips {
			v2.Strips = append(v2.Strips, StripRecord{
				Index:             ls.Index,
				Border:            ls.Border,
				DisplayInternalID: LegacyDisplayRef(ls.DisplayID),
				Len:               ls.Len,
				LedType:           ls.LedType,
				Reversed:          ls.Reversed,
			})
		}
		v2.Version = 2
		v2.UpdatedAt = time.Now()
		if err := s.SaveConfigV2(v2); err != nil {
			return err
		}
	}

	return os.Rename(legacyPath, legacyPath+".backup")
}

// LegacyDisplayRef encodes a legacy numeric OS display id as a
// placeholder DisplayInternalID string for later resolution.
func LegacyDisplayRef(systemID int) string {
	return "legacy:" + strconv.Itoa(systemID)
}
