// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package decision runs candidates through an ordered list of specifications.
package decision

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/autobrr/grabd/internal/releases"
)

// ErrMalformedCandidate marks candidates that are missing fields the pipeline needs.
var ErrMalformedCandidate = errors.New("malformed candidate")

type RejectionType int

const (
	// Permanent rejections will not change without a configuration change.
	Permanent RejectionType = iota
	// Temporary rejections may pass on a later evaluation.
	Temporary

	typeUnset RejectionType = -1
)

func (t RejectionType) String() string {
	if t == Temporary {
		return "temporary"
	}
	return "permanent"
}

func (t RejectionType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

func (t *RejectionType) UnmarshalText(text []byte) error {
	switch string(text) {
	case "permanent":
		*t = Permanent
	case "temporary":
		*t = Temporary
	default:
		return fmt.Errorf("unknown rejection type %q", text)
	}
	return nil
}

// Priority orders specifications. Lower runs first.
type Priority int

const (
	PriorityParsing  Priority = -1
	PriorityDefault  Priority = 0
	PriorityProfile  Priority = 1
	PriorityDisk     Priority = 2
	PriorityDatabase Priority = 3
)

type Rejection struct {
	Reason string        `json:"reason"`
	Type   RejectionType `json:"type"`
}

func (r Rejection) String() string {
	return fmt.Sprintf("[%s] %s", r.Type, r.Reason)
}

// Decision is the outcome for one candidate. It is accepted when it holds no rejections.
type Decision struct {
	RemoteEpisode *releases.RemoteEpisode `json:"remoteEpisode,omitempty"`
	Rejections    []Rejection             `json:"rejections,omitempty"`
}

func Accept() Decision {
	return Decision{}
}

// Reject returns a decision with a single rejection. The evaluator fills in
// the specification's type when none is given.
func Reject(reason string, args ...any) Decision {
	if len(args) > 0 {
		reason = fmt.Sprintf(reason, args...)
	}
	return Decision{Rejections: []Rejection{{Reason: reason, Type: typeUnset}}}
}

// RejectTemporarily is Reject with an explicit temporary type.
func RejectTemporarily(reason string, args ...any) Decision {
	d := Reject(reason, args...)
	d.Rejections[0].Type = Temporary
	return d
}

func (d Decision) Accepted() bool {
	return len(d.Rejections) == 0
}

// TemporarilyRejected is true when every rejection may clear on its own.
func (d Decision) TemporarilyRejected() bool {
	if d.Accepted() {
		return false
	}
	for _, r := range d.Rejections {
		if r.Type != Temporary {
			return false
		}
	}
	return true
}

func (d Decision) String() string {
	if d.Accepted() {
		return "accepted"
	}
	parts := make([]string, 0, len(d.Rejections))
	for _, r := range d.Rejections {
		parts = append(parts, r.String())
	}
	return "rejected: " + strings.Join(parts, "; ")
}

// Specification is one predicate of the pipeline. Implementations must not have
// side effects because later specifications are skipped after a rejection.
type Specification interface {
	Name() string
	Priority() Priority
	Type() RejectionType
	IsSatisfiedBy(ctx context.Context, candidate *releases.RemoteEpisode, criteria releases.SearchCriteria) Decision
}
