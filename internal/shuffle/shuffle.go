// Package shuffle provides the deterministic-from-seed permutation
// source used to order tests. The same seed and the same input always
// produce the same permutation, so any run can be reproduced by
// re-supplying the seed it reported.
package shuffle

import (
	"math/rand"
	"time"
)

// Source generates reproducible permutations from a seed.
type Source struct {
	seed int64
	rng  *rand.Rand
}

// New creates a source from an explicit seed.
func New(seed int64) *Source {
	return &Source{seed: seed, rng: rand.New(rand.NewSource(seed))}
}

// FromEntropy creates a source with a fresh time-based seed. The seed
// is exposed via Seed so it can be logged for later reproduction.
func FromEntropy() *Source {
	return New(time.Now().UnixNano())
}

// Seed returns the seed this source was created with.
func (s *Source) Seed() int64 {
	return s.seed
}

// Shuffle permutes items in place using Fisher-Yates.
func Shuffle[T any](s *Source, items []T) {
	s.rng.Shuffle(len(items), func(i, j int) {
		items[i], items[j] = items[j], items[i]
	})
}
