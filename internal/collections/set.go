// Copyright (c) wsudo Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package collections contains small generic container types shared across
// the broker, adapted from tailscale.com/util/set.
package collections

// Set is a set of T.
type Set[T comparable] map[T]struct{}

// NewSet returns a new, empty Set.
func NewSet[T comparable]() Set[T] {
	return make(Set[T])
}

// Add adds e to the set.
func (s Set[T]) Add(e T) { s[e] = struct{}{} }

// Delete removes e from the set.
func (s Set[T]) Delete(e T) { delete(s, e) }

// Contains reports whether s contains e.
func (s Set[T]) Contains(e T) bool {
	_, ok := s[e]
	return ok
}

// Len reports the number of items in s.
func (s Set[T]) Len() int { return len(s) }

// Slice returns the elements of s in no particular order.
func (s Set[T]) Slice() []T {
	es := make([]T, 0, s.Len())
	for k := range s {
		es = append(es, k)
	}
	return es
}
