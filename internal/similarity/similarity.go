// Package similarity ranks candidate labels against a keyword using the
// cosine similarity of their character-frequency vectors.
package similarity

import "math"

type vector struct {
	counts map[rune]int
	norm   float64
}

func newVector(s string) vector {
	counts := make(map[rune]int)
	for _, r := range s {
		counts[r]++
	}
	var sum float64
	for _, c := range counts {
		sum += float64(c * c)
	}
	return vector{counts: counts, norm: math.Sqrt(sum)}
}

func (v vector) cosine(o vector) float64 {
	if v.norm == 0 || o.norm == 0 {
		return 0
	}
	small, large := v.counts, o.counts
	if len(small) > len(large) {
		small, large = large, small
	}
	var dot float64
	for r, c := range small {
		if oc, ok := large[r]; ok {
			dot += float64(c * oc)
		}
	}
	return dot / (v.norm * o.norm)
}

// Score returns the similarity of a and b in [0, 1]. Either string being
// empty yields 0.
func Score(a, b string) float64 {
	return newVector(a).cosine(newVector(b))
}

// Best returns the index and score of the candidate most similar to target.
// Empty candidates are never chosen. When several candidates share the
// maximum score the first one in slice order wins. ok is false when there is
// no non-empty candidate.
func Best(target string, candidates []string) (index int, score float64, ok bool) {
	tv := newVector(target)
	index = -1
	for i, c := range candidates {
		if len(c) == 0 {
			continue
		}
		s := tv.cosine(newVector(c))
		if index == -1 || s > score {
			index, score = i, s
		}
	}
	return index, score, index != -1
}
