// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package specs

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/autobrr/autobrr/pkg/ttlcache"
	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"github.com/rs/zerolog/log"

	"github.com/autobrr/grabd/internal/decision"
	"github.com/autobrr/grabd/internal/releases"
)

const programCacheTTL = 5 * time.Minute

// Restriction limits which releases may be grabbed. Terms match the title
// case-insensitively. Expression must evaluate to true over RestrictionEnv.
type Restriction struct {
	Name       string
	Required   []string
	Ignored    []string
	Expression string
	// SeriesIDs scopes the restriction. Empty applies it to every series.
	SeriesIDs []int
}

func (r Restriction) appliesTo(seriesID int) bool {
	return len(r.SeriesIDs) == 0 || slices.Contains(r.SeriesIDs, seriesID)
}

// RestrictionEnv is the variable set visible to restriction expressions.
type RestrictionEnv struct {
	Title        string
	Indexer      string
	Protocol     string
	Size         int64
	Seeders      int
	AgeHours     float64
	Quality      string
	Proper       bool
	SeriesID     int
	SeriesTitle  string
	SeasonNumber int
	FullSeason   bool
}

// CompileRestriction checks that an expression is valid before it reaches the evaluator.
func CompileRestriction(expression string) (*vm.Program, error) {
	return expr.Compile(expression, expr.Env(RestrictionEnv{}), expr.AsBool())
}

// ReleaseRestrictions applies the configured restrictions. The list is read on
// every evaluation, compiled expressions are cached by source.
type ReleaseRestrictions struct {
	restrictions func() []Restriction
	programs     *ttlcache.Cache[string, *vm.Program]
	now          func() time.Time
}

func NewReleaseRestrictions(restrictions func() []Restriction, now func() time.Time) *ReleaseRestrictions {
	if now == nil {
		now = time.Now
	}
	return &ReleaseRestrictions{
		restrictions: restrictions,
		programs:     ttlcache.New(ttlcache.Options[string, *vm.Program]{}.SetDefaultTTL(programCacheTTL)),
		now:          now,
	}
}

func (s *ReleaseRestrictions) Name() string                 { return "ReleaseRestrictions" }
func (s *ReleaseRestrictions) Priority() decision.Priority  { return decision.PriorityDefault }
func (s *ReleaseRestrictions) Type() decision.RejectionType { return decision.Permanent }

func (s *ReleaseRestrictions) IsSatisfiedBy(_ context.Context, candidate *releases.RemoteEpisode, _ releases.SearchCriteria) decision.Decision {
	title := candidate.Release.Title
	lower := strings.ToLower(title)

	for _, r := range s.restrictions() {
		if !r.appliesTo(candidate.Series.ID) {
			continue
		}

		if len(r.Required) > 0 && len(containedTerms(lower, r.Required)) == 0 {
			return decision.Reject("%s does not contain one of the required terms: %s", title, strings.Join(r.Required, ", "))
		}
		if found := containedTerms(lower, r.Ignored); len(found) > 0 {
			return decision.Reject("%s contains these ignored terms: %s", title, strings.Join(found, ", "))
		}

		if r.Expression == "" {
			continue
		}
		ok, err := s.match(r.Expression, s.env(candidate))
		if err != nil {
			log.Error().Err(err).Str("restriction", r.Name).Str("expr", r.Expression).Msg("Failed to evaluate restriction expression")
			return decision.Reject("Unable to evaluate restriction %q", r.Name)
		}
		if !ok {
			return decision.Reject("Release does not match restriction %q", r.Name)
		}
	}
	return decision.Accept()
}

func (s *ReleaseRestrictions) match(expression string, env RestrictionEnv) (bool, error) {
	program, ok := s.programs.Get(expression)
	if !ok {
		var err error
		program, err = CompileRestriction(expression)
		if err != nil {
			return false, err
		}
		s.programs.Set(expression, program, ttlcache.DefaultTTL)
	}

	result, err := expr.Run(program, env)
	if err != nil {
		return false, err
	}
	matched, ok := result.(bool)
	if !ok {
		return false, fmt.Errorf("expression returned %T, want bool", result)
	}
	return matched, nil
}

func (s *ReleaseRestrictions) env(candidate *releases.RemoteEpisode) RestrictionEnv {
	rel := candidate.Release
	info := candidate.ParsedEpisodeInfo
	env := RestrictionEnv{
		Title:        rel.Title,
		Indexer:      rel.Indexer,
		Protocol:     string(rel.Protocol),
		Size:         rel.Size,
		Seeders:      -1,
		AgeHours:     rel.AgeHours(s.now()),
		Quality:      info.Quality.Quality.String(),
		Proper:       info.Quality.Revision.Version > 1,
		SeriesID:     candidate.Series.ID,
		SeriesTitle:  candidate.Series.Title,
		SeasonNumber: info.SeasonNumber,
		FullSeason:   info.FullSeason,
	}
	if rel.Seeders != nil {
		env.Seeders = *rel.Seeders
	}
	return env
}

func containedTerms(lowerTitle string, terms []string) []string {
	var found []string
	for _, term := range terms {
		t := strings.ToLower(strings.TrimSpace(term))
		if t != "" && strings.Contains(lowerTitle, t) {
			found = append(found, term)
		}
	}
	return found
}
