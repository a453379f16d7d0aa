// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package specs

import (
	"context"

	"github.com/dustin/go-humanize"

	"github.com/autobrr/grabd/internal/decision"
	"github.com/autobrr/grabd/internal/releases"
)

// AcceptableSize rejects releases larger than the configured maximum. Zero disables the check.
type AcceptableSize struct {
	maximum func() int64
}

func NewAcceptableSize(maximum func() int64) *AcceptableSize {
	return &AcceptableSize{maximum: maximum}
}

func (s *AcceptableSize) Name() string                 { return "AcceptableSize" }
func (s *AcceptableSize) Priority() decision.Priority  { return decision.PriorityDefault }
func (s *AcceptableSize) Type() decision.RejectionType { return decision.Permanent }

func (s *AcceptableSize) IsSatisfiedBy(_ context.Context, candidate *releases.RemoteEpisode, _ releases.SearchCriteria) decision.Decision {
	limit := s.maximum()
	if limit <= 0 {
		return decision.Accept()
	}

	size := candidate.Release.Size
	if size > limit {
		return decision.Reject("%s is too big, maximum size is %s", humanize.IBytes(uint64(size)), humanize.IBytes(uint64(limit)))
	}
	return decision.Accept()
}
