// Package collect locates the artifacts a conversion left in the workdir.
package collect

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// ErrNoDescription is returned when no description file matches.
var ErrNoDescription = errors.New("no files found")

// Extensions of the artifact set, in delivery order.
const (
	ExtScore     = ".pdf"
	ExtSequencer = ".midi"
	ExtAudio     = ".mp3"
)

// Extensions returns the artifact extensions in delivery order.
func Extensions() []string {
	return []string{ExtScore, ExtSequencer, ExtAudio}
}

// ArtifactSet is the triplet of outputs sharing one base name.
type ArtifactSet struct {
	Workdir  string `json:"workdir" yaml:"workdir"`
	BaseName string `json:"baseName" yaml:"baseName"`
}

// Score is the engraved sheet music document.
func (a ArtifactSet) Score() string { return a.path(ExtScore) }

// Sequencer is the MIDI file.
func (a ArtifactSet) Sequencer() string { return a.path(ExtSequencer) }

// Audio is the compressed audio rendering.
func (a ArtifactSet) Audio() string { return a.path(ExtAudio) }

// Paths returns score, sequencer and audio paths in that order.
func (a ArtifactSet) Paths() []string {
	return []string{a.Score(), a.Sequencer(), a.Audio()}
}

// Missing lists the members that do not exist as regular files.
func (a ArtifactSet) Missing() []string {
	var missing []string
	for _, p := range a.Paths() {
		info, err := os.Stat(p)
		if err != nil || !info.Mode().IsRegular() {
			missing = append(missing, p)
		}
	}
	return missing
}

// Complete reports whether all three artifacts exist.
func (a ArtifactSet) Complete() bool {
	return len(a.Missing()) == 0
}

func (a ArtifactSet) path(ext string) string {
	return filepath.Join(a.Workdir, a.BaseName+ext)
}

// ResolveBaseName returns the stem of the first file in workdir matching
// pattern, in lexical order. Directories never match.
func ResolveBaseName(workdir, pattern string) (string, error) {
	matches, err := DescriptionFiles(workdir, pattern)
	if err != nil {
		return "", err
	}
	if len(matches) == 0 {
		return "", fmt.Errorf("%s in %s: %w", pattern, workdir, ErrNoDescription)
	}
	name := filepath.Base(matches[0])
	return strings.TrimSuffix(name, filepath.Ext(name)), nil
}

// DescriptionFiles lists regular files in workdir matching pattern, sorted.
// The pattern applies to bare names so workdir may hold glob metacharacters.
func DescriptionFiles(workdir, pattern string) ([]string, error) {
	if _, err := filepath.Match(pattern, ""); err != nil {
		return nil, fmt.Errorf("bad description pattern %q: %w", pattern, err)
	}
	entries, err := os.ReadDir(workdir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("list %s: %w", workdir, err)
	}
	var files []string
	for _, e := range entries {
		if ok, _ := filepath.Match(pattern, e.Name()); !ok {
			continue
		}
		path := filepath.Join(workdir, e.Name())
		info, err := os.Stat(path)
		if err != nil || info.IsDir() {
			continue
		}
		files = append(files, path)
	}
	sort.Strings(files)
	return files, nil
}

// Collect resolves the base name and returns the artifact set. The set is
// returned even when members are missing; callers decide what to do with it.
func Collect(workdir, pattern string) (ArtifactSet, error) {
	base, err := ResolveBaseName(workdir, pattern)
	if err != nil {
		return ArtifactSet{}, err
	}
	return ArtifactSet{Workdir: workdir, BaseName: base}, nil
}
