// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package decision

import (
	"context"
	"fmt"
	"sort"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/autobrr/grabd/internal/quality"
	"github.com/autobrr/grabd/internal/releases"
)

const defaultConcurrency = 8

// Observer receives every finished evaluation. Used for metrics.
type Observer func(candidate *releases.RemoteEpisode, d Decision, rejectedBy string)

type Evaluator struct {
	specs       []Specification
	concurrency int
	observer    Observer
}

type Option func(*Evaluator)

func WithConcurrency(n int) Option {
	return func(e *Evaluator) {
		if n > 0 {
			e.concurrency = n
		}
	}
}

func WithObserver(fn Observer) Option {
	return func(e *Evaluator) { e.observer = fn }
}

// NewEvaluator sorts specs by priority once. Equal priorities keep registration order.
func NewEvaluator(specs []Specification, opts ...Option) *Evaluator {
	sorted := append([]Specification(nil), specs...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Priority() < sorted[j].Priority()
	})

	e := &Evaluator{specs: sorted, concurrency: defaultConcurrency}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Specifications returns the evaluation order.
func (e *Evaluator) Specifications() []Specification {
	return append([]Specification(nil), e.specs...)
}

// Evaluate stops at the first rejection.
func (e *Evaluator) Evaluate(ctx context.Context, candidate *releases.RemoteEpisode, criteria releases.SearchCriteria) (Decision, error) {
	if err := candidate.Validate(); err != nil {
		return Decision{}, fmt.Errorf("%w: %w", ErrMalformedCandidate, err)
	}

	for _, spec := range e.specs {
		if err := ctx.Err(); err != nil {
			return Decision{}, err
		}

		d := spec.IsSatisfiedBy(ctx, candidate, criteria)
		if d.Accepted() {
			continue
		}

		rejection := d.Rejections[0]
		if rejection.Type == typeUnset {
			rejection.Type = spec.Type()
		}

		log.Debug().
			Str("title", candidate.Release.Title).
			Str("specification", spec.Name()).
			Str("reason", rejection.Reason).
			Msg("Release rejected")

		out := Decision{RemoteEpisode: candidate, Rejections: []Rejection{rejection}}
		e.observe(candidate, out, spec.Name())
		return out, nil
	}

	out := Decision{RemoteEpisode: candidate}
	e.observe(candidate, out, "")
	return out, nil
}

func (e *Evaluator) observe(candidate *releases.RemoteEpisode, d Decision, rejectedBy string) {
	if e.observer != nil {
		e.observer(candidate, d, rejectedBy)
	}
}

// GetDecisions evaluates candidates in parallel and returns decisions in input order.
func (e *Evaluator) GetDecisions(ctx context.Context, candidates []*releases.RemoteEpisode, criteria releases.SearchCriteria) ([]Decision, error) {
	decisions := make([]Decision, len(candidates))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.concurrency)
	for i, candidate := range candidates {
		g.Go(func() error {
			d, err := e.Evaluate(gctx, candidate, criteria)
			if err != nil {
				return err
			}
			decisions[i] = d
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return decisions, nil
}

// PrioritizeDecisions orders accepted decisions first, then by quality, then by seeders.
func PrioritizeDecisions(decisions []Decision) []Decision {
	out := append([]Decision(nil), decisions...)
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Accepted() != b.Accepted() {
			return a.Accepted()
		}
		if a.RemoteEpisode == nil || b.RemoteEpisode == nil {
			return false
		}
		if c := quality.Compare(a.RemoteEpisode.Quality(), b.RemoteEpisode.Quality()); c != 0 {
			return c > 0
		}
		return seeders(a.RemoteEpisode) > seeders(b.RemoteEpisode)
	})
	return out
}

func seeders(r *releases.RemoteEpisode) int {
	if r.Release.Seeders == nil {
		return -1
	}
	return *r.Release.Seeders
}
