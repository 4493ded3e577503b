// Package selection samples the bounded store subset for a run and answers
// membership checks for the ingestion filters.
package selection

import (
	"math/rand/v2"

	"github.com/JakeFAU/storefront-coordinator/internal/coord"
)

// Sample returns an unbiased random sample without replacement of
// min(count, len(candidates)) items. The input slice is never mutated.
func Sample(candidates []coord.Candidate, count int) []coord.Candidate {
	if count <= 0 || len(candidates) == 0 {
		return nil
	}
	pool := make([]coord.Candidate, len(candidates))
	copy(pool, candidates)
	rand.Shuffle(len(pool), func(i, j int) {
		pool[i], pool[j] = pool[j], pool[i]
	})
	if count > len(pool) {
		count = len(pool)
	}
	return pool[:count]
}
