// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package quality holds the quality tier catalog, revisions and the upgrade rules
// shared by the decision pipeline and the download tracker.
package quality

import (
	"fmt"
	"strings"
)

// Quality is an ordinal tier. The numeric order is the ranking order.
type Quality int

const (
	Unknown Quality = iota
	SDTV
	DVD
	HDTV
	WEBDL
	Bluray720p
	Bluray1080p
)

var qualityNames = []string{
	Unknown:     "Unknown",
	SDTV:        "SDTV",
	DVD:         "DVD",
	HDTV:        "HDTV",
	WEBDL:       "WEBDL",
	Bluray720p:  "Bluray720p",
	Bluray1080p: "Bluray1080p",
}

// All returns every known tier in ranking order.
func All() []Quality {
	out := make([]Quality, 0, len(qualityNames))
	for i := range qualityNames {
		out = append(out, Quality(i))
	}
	return out
}

func (q Quality) String() string {
	if q < 0 || int(q) >= len(qualityNames) {
		return fmt.Sprintf("Quality(%d)", int(q))
	}
	return qualityNames[q]
}

// Parse resolves a tier by name. Matching ignores case and separators so
// "web-dl" and "bluray-720p" resolve as well.
func Parse(name string) (Quality, error) {
	key := compactName(name)
	for i, n := range qualityNames {
		if compactName(n) == key {
			return Quality(i), nil
		}
	}
	return Unknown, fmt.Errorf("unknown quality %q", name)
}

func compactName(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.NewReplacer("-", "", "_", "", " ", "", ".", "").Replace(s)
}

func (q Quality) MarshalText() ([]byte, error) {
	return []byte(q.String()), nil
}

func (q *Quality) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*q = parsed
	return nil
}

// Revision separates releases of the same tier. Version 2 marks a proper/repack.
type Revision struct {
	Version int `json:"version" yaml:"version"`
	Real    int `json:"real" yaml:"real"`
}

// Compare orders revisions by version, then real.
func (r Revision) Compare(other Revision) int {
	switch {
	case r.Version != other.Version:
		return cmpInt(r.Version, other.Version)
	default:
		return cmpInt(r.Real, other.Real)
	}
}

// Model is a tier plus the revision of the release.
type Model struct {
	Quality  Quality  `json:"quality" yaml:"quality"`
	Revision Revision `json:"revision" yaml:"revision"`
}

// NewModel builds a model with the default revision, or version 2 when proper.
func NewModel(q Quality, proper bool) Model {
	m := Model{Quality: q, Revision: Revision{Version: 1}}
	if proper {
		m.Revision.Version = 2
	}
	return m
}

func (m Model) String() string {
	if m.Revision.Version > 1 || m.Revision.Real > 0 {
		return fmt.Sprintf("%s v%d", m.Quality, m.Revision.Version)
	}
	return m.Quality.String()
}

// Compare orders models by tier, then revision version, then real count.
func Compare(a, b Model) int {
	if a.Quality != b.Quality {
		return cmpInt(int(a.Quality), int(b.Quality))
	}
	return a.Revision.Compare(b.Revision)
}

func (m Model) Less(other Model) bool  { return Compare(m, other) < 0 }
func (m Model) Equal(other Model) bool { return Compare(m, other) == 0 }

// IsUpgrade reports whether candidate should replace current under the given cutoff.
//
// Once current reaches the cutoff no tier change is an upgrade. A same-tier
// revision bump still is, as long as the tier sits exactly at the cutoff.
func IsUpgrade(current, candidate Model, cutoff Quality) bool {
	if current.Quality >= cutoff {
		if candidate.Quality != current.Quality || current.Quality > cutoff {
			return false
		}
		return candidate.Revision.Compare(current.Revision) > 0
	}

	return Compare(candidate, current) > 0
}

func cmpInt(a, b int) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}
