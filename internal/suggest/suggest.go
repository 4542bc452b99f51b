// Package suggest provides fuzzy matching for "did you mean" hints on
// mistyped list and item references using Levenshtein distance.
package suggest

import (
	"sort"
	"strings"
)

// levenshtein calculates the edit distance between two strings
func levenshtein(a, b string) int {
	if len(a) == 0 {
		return len(b)
	}
	if len(b) == 0 {
		return len(a)
	}

	matrix := make([][]int, len(a)+1)
	for i := range matrix {
		matrix[i] = make([]int, len(b)+1)
		matrix[i][0] = i
	}
	for j := range matrix[0] {
		matrix[0][j] = j
	}

	for i := 1; i <= len(a); i++ {
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			matrix[i][j] = min(
				matrix[i-1][j]+1,      // deletion
				matrix[i][j-1]+1,      // insertion
				matrix[i-1][j-1]+cost, // substitution
			)
		}
	}

	return matrix[len(a)][len(b)]
}

// Candidate is something a reference might have meant: an id and a
// human-readable label (list or item title).
type Candidate struct {
	ID    string
	Label string
}

// Closest returns up to three candidates whose id or label is near
// unknown, best first. Matching is case-insensitive; a candidate whose id
// has unknown as a prefix always qualifies.
func Closest(unknown string, candidates []Candidate) []Candidate {
	unknown = strings.ToLower(strings.TrimSpace(unknown))
	if unknown == "" {
		return nil
	}

	type scored struct {
		c     Candidate
		score int
	}
	var hits []scored

	// Only suggest if reasonably close (within 3 edits or 50% of length)
	maxDist := max(3, len(unknown)/2)
	for _, c := range candidates {
		id := strings.ToLower(c.ID)
		if strings.HasPrefix(id, unknown) {
			hits = append(hits, scored{c, 0})
			continue
		}
		dist := levenshtein(unknown, id)
		if c.Label != "" {
			dist = min(dist, levenshtein(unknown, strings.ToLower(c.Label)))
		}
		if dist <= maxDist {
			hits = append(hits, scored{c, dist})
		}
	}

	sort.SliceStable(hits, func(i, j int) bool { return hits[i].score < hits[j].score })

	var result []Candidate
	for i := 0; i < len(hits) && i < 3; i++ {
		result = append(result, hits[i].c)
	}
	return result
}

// Hint formats matches as a one-line "did you mean" message, or "" when
// there are none.
func Hint(matches []Candidate) string {
	if len(matches) == 0 {
		return ""
	}
	parts := make([]string, len(matches))
	for i, m := range matches {
		if m.Label != "" {
			parts[i] = m.ID + " (" + m.Label + ")"
		} else {
			parts[i] = m.ID
		}
	}
	return "did you mean " + strings.Join(parts, ", ") + "?"
}
