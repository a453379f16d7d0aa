// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package stringutils

import (
	"strings"
	"time"
	"unicode"

	"github.com/autobrr/autobrr/pkg/ttlcache"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

const defaultNormalizerTTL = 5 * time.Minute

// Normalizer caches transformed results so repeated release titles are only transformed once.
type Normalizer[K comparable, V any] struct {
	cache     *ttlcache.Cache[K, V]
	transform func(K) V
}

func NewNormalizer[K comparable, V any](ttl time.Duration, transform func(K) V) *Normalizer[K, V] {
	return &Normalizer[K, V]{
		cache:     ttlcache.New(ttlcache.Options[K, V]{}.SetDefaultTTL(ttl)),
		transform: transform,
	}
}

func (n *Normalizer[K, V]) Normalize(key K) V {
	if cached, ok := n.cache.Get(key); ok {
		return cached
	}

	transformed := n.transform(key)
	n.cache.Set(key, transformed, ttlcache.DefaultTTL)
	return transformed
}

var titleNormalizer = NewNormalizer(defaultNormalizerTTL, normalizeTitle)

// NormalizeTitle folds a release title for comparison:
//   - "Shōgun.S01E01.720p" → "shogun s01e01 720p"
//   - "Bob's_Burgers-S02E03" → "bobs burgers s02e03"
func NormalizeTitle(s string) string {
	return titleNormalizer.Normalize(s)
}

func normalizeTitle(s string) string {
	t := transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)))
	if folded, _, err := transform.String(t, s); err == nil {
		s = folded
	}

	s = strings.ToLower(s)
	s = strings.NewReplacer("'", "", "’", "", "`", "").Replace(s)

	s = strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return r
		}
		return ' '
	}, s)

	return strings.Join(strings.Fields(s), " ")
}
