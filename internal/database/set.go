package database

import (
	"cmp"
	"slices"
)

// Set is an unordered id set.
type Set[T cmp.Ordered] map[T]struct{}

func NewSet[T cmp.Ordered](items ...T) Set[T] {
	s := make(Set[T], len(items))
	for _, item := range items {
		s[item] = struct{}{}
	}
	return s
}

func (s Set[T]) Add(item T) { s[item] = struct{}{} }

func (s Set[T]) Remove(item T) { delete(s, item) }

func (s Set[T]) Contains(item T) bool {
	_, ok := s[item]
	return ok
}

func (s Set[T]) Len() int { return len(s) }

// Slice returns the items in ascending order.
func (s Set[T]) Slice() []T {
	out := make([]T, 0, len(s))
	for item := range s {
		out = append(out, item)
	}
	slices.Sort(out)
	return out
}

// Intersect returns the items present in both sets.
func (s Set[T]) Intersect(other Set[T]) Set[T] {
	small, large := s, other
	if len(large) < len(small) {
		small, large = large, small
	}
	out := make(Set[T], len(small))
	for item := range small {
		if large.Contains(item) {
			out.Add(item)
		}
	}
	return out
}

func (s Set[T]) clone() Set[T] {
	out := make(Set[T], len(s))
	for item := range s {
		out.Add(item)
	}
	return out
}

// setIndex maps a key to a set, creating sets on demand.
type setIndex[K comparable, T cmp.Ordered] map[K]Set[T]

func (idx setIndex[K, T]) add(key K, item T) {
	set, ok := idx[key]
	if !ok {
		set = make(Set[T])
		idx[key] = set
	}
	set.Add(item)
}

func (idx setIndex[K, T]) get(key K) Set[T] {
	if set, ok := idx[key]; ok {
		return set
	}
	return Set[T]{}
}
