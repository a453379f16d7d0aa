// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package cluster implements agglomerative hierarchical clustering over arbitrary items.
package cluster

import "math"

// DistanceFunc returns the distance between two items. It must be symmetric.
type DistanceFunc[T any] func(a, b T) float64

// LinkageFunc combines the distances of two merged clusters to a third one.
type LinkageFunc func(d1, d2 float64) float64

// CompleteLinkage uses the farthest pair between clusters.
func CompleteLinkage(d1, d2 float64) float64 { return math.Max(d1, d2) }

// SingleLinkage uses the nearest pair between clusters.
func SingleLinkage(d1, d2 float64) float64 { return math.Min(d1, d2) }

// Cluster is a node of the merge tree. Leaves carry an Instance, internal nodes
// carry the Left and Right subtrees and the distance at which they merged.
type Cluster[T any] struct {
	Left     *Cluster[T]
	Right    *Cluster[T]
	Distance float64
	Instance T
	Index    int
	Leaf     bool
}

// Empty is returned for an empty input.
func Empty[T any]() *Cluster[T] {
	return &Cluster[T]{Index: -1}
}

func (c *Cluster[T]) IsEmpty() bool {
	return c == nil || (!c.Leaf && c.Left == nil && c.Right == nil)
}

// Leaves returns the leaf instances in left to right order.
func (c *Cluster[T]) Leaves() []T {
	if c.IsEmpty() {
		return nil
	}
	if c.Leaf {
		return []T{c.Instance}
	}
	return append(c.Left.Leaves(), c.Right.Leaves()...)
}

// Merges counts the internal nodes of the tree.
func (c *Cluster[T]) Merges() int {
	if c.IsEmpty() || c.Leaf {
		return 0
	}
	return 1 + c.Left.Merges() + c.Right.Merges()
}

// Depth is the longest path from c to a leaf.
func (c *Cluster[T]) Depth() int {
	if c.IsEmpty() || c.Leaf {
		return 0
	}
	return 1 + max(c.Left.Depth(), c.Right.Depth())
}

// Cut flattens the tree into groups whose merge distance does not exceed threshold.
func (c *Cluster[T]) Cut(threshold float64) [][]T {
	if c.IsEmpty() {
		return nil
	}
	if c.Leaf || c.Distance <= threshold {
		return [][]T{c.Leaves()}
	}
	return append(c.Left.Cut(threshold), c.Right.Cut(threshold)...)
}

// HierarchicalClustering builds a merge tree from a distance and a linkage function.
type HierarchicalClustering[T any] struct {
	distance DistanceFunc[T]
	linkage  LinkageFunc
}

func New[T any](distance DistanceFunc[T], linkage LinkageFunc) *HierarchicalClustering[T] {
	if linkage == nil {
		linkage = CompleteLinkage
	}
	return &HierarchicalClustering[T]{distance: distance, linkage: linkage}
}

// Cluster merges items until a single root remains. Ties on the minimum distance
// go to the first pair found, scanning column by column.
func (h *HierarchicalClustering[T]) Cluster(items []T) *Cluster[T] {
	switch len(items) {
	case 0:
		return Empty[T]()
	case 1:
		return &Cluster[T]{Instance: items[0], Index: 0, Leaf: true}
	}

	n := len(items)
	matrix := make([][]float64, n)
	for i := range matrix {
		matrix[i] = make([]float64, n)
	}
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			d := h.distance(items[i], items[j])
			matrix[i][j] = d
			matrix[j][i] = d
		}
	}

	active := make([]*Cluster[T], n)
	for i, item := range items {
		active[i] = &Cluster[T]{Instance: item, Index: i, Leaf: true}
	}

	for len(active) > 1 {
		var left, right *Cluster[T]
		minDistance := math.Inf(1)
		for y := 1; y < len(active); y++ {
			for x := 0; x < y; x++ {
				d := matrix[active[x].Index][active[y].Index]
				if d < minDistance {
					minDistance = d
					left, right = active[x], active[y]
				}
			}
		}

		// all remaining distances are +Inf or NaN
		if left == nil {
			left, right = active[0], active[1]
			minDistance = matrix[left.Index][right.Index]
		}

		merged := &Cluster[T]{
			Left:     left,
			Right:    right,
			Distance: minDistance,
			Index:    left.Index,
		}

		for _, other := range active {
			if other == left || other == right {
				continue
			}
			d := h.linkage(matrix[left.Index][other.Index], matrix[right.Index][other.Index])
			matrix[merged.Index][other.Index] = d
			matrix[other.Index][merged.Index] = d
		}

		next := make([]*Cluster[T], 0, len(active)-1)
		for _, c := range active {
			if c != left && c != right {
				next = append(next, c)
			}
		}
		active = append(next, merged)
	}

	return active[0]
}
