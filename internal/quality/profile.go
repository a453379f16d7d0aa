// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package quality

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrProfileNameRequired   = errors.New("quality profile name is required")
	ErrProfileNoQualities    = errors.New("quality profile must allow at least one quality")
	ErrProfileCutoffNotAllow = errors.New("quality profile cutoff must be one of the allowed qualities")
)

// Profile governs which tiers are admitted and where upgrades stop.
type Profile struct {
	ID      int       `json:"id"`
	Name    string    `json:"name"`
	Allowed []Quality `json:"allowed"`
	Cutoff  Quality   `json:"cutoff"`
}

// NewProfile parses tier names into a validated profile.
func NewProfile(name string, allowed []string, cutoff string) (*Profile, error) {
	p := &Profile{Name: strings.TrimSpace(name)}

	for _, raw := range allowed {
		q, err := Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("profile %q: %w", name, err)
		}
		p.Allowed = append(p.Allowed, q)
	}

	c, err := Parse(cutoff)
	if err != nil {
		return nil, fmt.Errorf("profile %q cutoff: %w", name, err)
	}
	p.Cutoff = c

	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Profile) Validate() error {
	if strings.TrimSpace(p.Name) == "" {
		return ErrProfileNameRequired
	}
	if len(p.Allowed) == 0 {
		return ErrProfileNoQualities
	}
	if !p.Allows(p.Cutoff) {
		return ErrProfileCutoffNotAllow
	}
	return nil
}

func (p *Profile) Allows(q Quality) bool {
	for _, allowed := range p.Allowed {
		if allowed == q {
			return true
		}
	}
	return false
}

// CutoffMet reports whether m already satisfies the profile ceiling.
func (p *Profile) CutoffMet(m Model) bool {
	return m.Quality >= p.Cutoff
}

// IsUpgrade applies the profile cutoff to IsUpgrade.
func (p *Profile) IsUpgrade(current, candidate Model) bool {
	return IsUpgrade(current, candidate, p.Cutoff)
}

var ErrProfileNotFound = errors.New("quality profile not found")

// Profiles is a read-only catalog of profiles keyed by id.
type Profiles struct {
	byID map[int]*Profile
}

// NewProfiles assigns ids in order, starting at 1, to profiles without one.
func NewProfiles(list ...*Profile) *Profiles {
	p := &Profiles{byID: make(map[int]*Profile, len(list))}
	for i, profile := range list {
		if profile.ID == 0 {
			profile.ID = i + 1
		}
		p.byID[profile.ID] = profile
	}
	return p
}

func (p *Profiles) Profile(_ context.Context, id int) (*Profile, error) {
	profile, ok := p.byID[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrProfileNotFound, id)
	}
	return profile, nil
}

// ByName looks a profile up by case-insensitive name.
func (p *Profiles) ByName(name string) (*Profile, bool) {
	for _, profile := range p.byID {
		if strings.EqualFold(profile.Name, name) {
			return profile, true
		}
	}
	return nil, false
}
