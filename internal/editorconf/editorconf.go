// Package editorconf writes the notation editor's per-user INI settings.
package editorconf

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"gopkg.in/ini.v1"
)

// Settings selects what gets written.
type Settings struct {
	// Metronome enables the metronome during playback and audio export.
	Metronome bool
	// FullDefaults writes the complete block of playback and UI defaults
	// instead of only the metronome switch.
	FullDefaults bool
	// CloudClientID is stored in plain text when non-empty.
	CloudClientID string
}

// Entry is one managed key.
type Entry struct {
	Section string `json:"section" yaml:"section"`
	Key     string `json:"key" yaml:"key"`
	Value   string `json:"value" yaml:"value"`
}

// Entries lists the keys Write manages for s, in write order.
func Entries(s Settings) []Entry {
	entries := []Entry{
		{"application", `playback\metronome`, strconv.FormatBool(s.Metronome)},
	}
	if s.FullDefaults {
		entries = append(entries,
			Entry{"application", `playback\playRepeats`, "true"},
			Entry{"application", `playback\panPlayback`, "true"},
			Entry{"application", `playback\followSong`, "true"},
			Entry{"application", `checkUpdateStartup`, "false"},
			Entry{"application", `checkExtensionsUpdateStartup`, "false"},
			Entry{"ui", `application\startup\showStartCenter`, "false"},
			Entry{"ui", `application\startup\showTours`, "false"},
			Entry{"ui", `application\startup\showPlayPanel`, "false"},
			Entry{"ui", `application\startup\showNavigator`, "false"},
			Entry{"score", `note\warnPitchRange`, "true"},
		)
	}
	if s.CloudClientID != "" {
		entries = append(entries, Entry{"cloud", "clientId", s.CloudClientID})
	}
	return entries
}

// The editor expects key=value without alignment padding. ini.PrettyFormat is
// package-global, so it is set once here rather than per Write.
func init() {
	ini.PrettyFormat = false
}

var loadOptions = ini.LoadOptions{
	Loose:                   true,
	IgnoreInlineComment:     true,
	PreserveSurroundedQuote: true,
}

// Write merges the managed keys into the INI file at path. Keys we manage are
// overwritten; everything else already in the file is preserved.
func Write(path string, s Settings) ([]Entry, error) {
	if path == "" {
		return nil, fmt.Errorf("editor config path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create %s: %w", filepath.Dir(path), err)
	}

	f, err := ini.LoadSources(loadOptions, path)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	entries := Entries(s)
	for _, e := range entries {
		f.Section(e.Section).Key(e.Key).SetValue(e.Value)
	}

	if err := f.SaveTo(path); err != nil {
		return nil, fmt.Errorf("write %s: %w", path, err)
	}
	return entries, nil
}

// Check reports whether path exists and holds every managed key with the
// expected value.
func Check(path string, s Settings) error {
	if _, err := os.Stat(path); err != nil {
		return err
	}
	f, err := ini.LoadSources(loadOptions, path)
	if err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	for _, e := range Entries(s) {
		if !f.Section(e.Section).HasKey(e.Key) {
			return fmt.Errorf("%s: [%s] %s is not set", path, e.Section, e.Key)
		}
		if got := f.Section(e.Section).Key(e.Key).String(); got != e.Value {
			return fmt.Errorf("%s: [%s] %s = %q, want %q", path, e.Section, e.Key, got, e.Value)
		}
	}
	return nil
}
