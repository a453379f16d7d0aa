// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package releases

import (
	"context"
	"math"
	"sort"
	"sync"

	"github.com/lithammer/fuzzysearch/fuzzy"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/autobrr/grabd/internal/quality"
	"github.com/autobrr/grabd/pkg/cluster"
	"github.com/autobrr/grabd/pkg/stringutils"
)

// DefaultDuplicateThreshold groups releases whose titles differ by a few
// separator or case changes and whose sizes are within a few percent.
const DefaultDuplicateThreshold = 0.15

const (
	titleWeight = 0.8
	sizeWeight  = 0.2
)

// Distance scores how different two candidates look, from 0 (same release) to 1.
// Candidates on different protocols or for different series are never duplicates.
func Distance(a, b *RemoteEpisode) float64 {
	if a.Release.Protocol != b.Release.Protocol {
		return 1
	}
	if a.Series != nil && b.Series != nil && a.Series.ID != b.Series.ID {
		return 1
	}
	return titleWeight*titleDistance(a.Release.Title, b.Release.Title) + sizeWeight*sizeDistance(a.Release.Size, b.Release.Size)
}

func titleDistance(a, b string) float64 {
	na, nb := stringutils.NormalizeTitle(a), stringutils.NormalizeTitle(b)
	longest := max(len(na), len(nb))
	if longest == 0 {
		return 0
	}
	return float64(fuzzy.LevenshteinDistance(na, nb)) / float64(longest)
}

func sizeDistance(a, b int64) float64 {
	if a <= 0 || b <= 0 {
		return 0
	}
	largest := math.Max(float64(a), float64(b))
	return math.Abs(float64(a)-float64(b)) / largest
}

// GroupDuplicates clusters candidates and cuts the tree at threshold.
func GroupDuplicates(candidates []*RemoteEpisode, threshold float64) [][]*RemoteEpisode {
	root := cluster.New(Distance, cluster.CompleteLinkage).Cluster(candidates)
	return root.Cut(threshold)
}

// Representative picks the candidate to keep from a duplicate group: best quality,
// then most seeders, then the one seen first.
func Representative(group []*RemoteEpisode) *RemoteEpisode {
	if len(group) == 0 {
		return nil
	}
	best := group[0]
	for _, c := range group[1:] {
		if betterRepresentative(c, best) {
			best = c
		}
	}
	return best
}

func betterRepresentative(a, b *RemoteEpisode) bool {
	if cmp := quality.Compare(a.Quality(), b.Quality()); cmp != 0 {
		return cmp > 0
	}
	return seeders(a) > seeders(b)
}

func seeders(r *RemoteEpisode) int {
	if r.Release.Seeders == nil {
		return -1
	}
	return *r.Release.Seeders
}

// Dedupe keeps one representative per duplicate group. Series are clustered
// independently and in parallel. The output keeps the input order.
func Dedupe(ctx context.Context, candidates []*RemoteEpisode, threshold float64) ([]*RemoteEpisode, error) {
	bySeries := make(map[int][]*RemoteEpisode)
	position := make(map[*RemoteEpisode]int, len(candidates))
	for i, c := range candidates {
		if err := c.Validate(); err != nil {
			return nil, err
		}
		bySeries[c.Series.ID] = append(bySeries[c.Series.ID], c)
		position[c] = i
	}

	var (
		mu   sync.Mutex
		kept []*RemoteEpisode
	)

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for seriesID, batch := range bySeries {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			groups := GroupDuplicates(batch, threshold)
			reps := make([]*RemoteEpisode, 0, len(groups))
			for _, group := range groups {
				rep := Representative(group)
				if len(group) > 1 {
					log.Debug().
						Int("seriesID", seriesID).
						Int("duplicates", len(group)-1).
						Str("title", rep.Release.Title).
						Msg("Collapsed duplicate releases")
				}
				reps = append(reps, rep)
			}

			mu.Lock()
			kept = append(kept, reps...)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	sort.Slice(kept, func(i, j int) bool { return position[kept[i]] < position[kept[j]] })
	return kept, nil
}
