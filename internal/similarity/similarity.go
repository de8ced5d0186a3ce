// Package similarity implements cosine similarity and nearest-neighbour
// retrieval over contact vectors.
package similarity

import (
	"fmt"
	"math"
	"sort"
)

// DimensionMismatchError is returned when two vectors of different length
// are compared.
type DimensionMismatchError struct {
	Left  int
	Right int
}

func (e *DimensionMismatchError) Error() string {
	return fmt.Sprintf("similarity: dimension mismatch (%d vs %d)", e.Left, e.Right)
}

// Cosine returns the cosine similarity of a and b.
// The result is 0 if either vector has zero norm.
func Cosine(a, b []float64) (float64, error) {
	if len(a) != len(b) {
		return 0, &DimensionMismatchError{Left: len(a), Right: len(b)}
	}

	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0, nil
	}

	sim := dot / (math.Sqrt(normA) * math.Sqrt(normB))
	// Clamp floating point drift so identical vectors compare as exactly 1.
	if sim > 1 {
		sim = 1
	} else if sim < -1 {
		sim = -1
	}
	return sim, nil
}

// Candidate is a vector that may be returned as a match.
type Candidate struct {
	ID     string
	Vector []float64
}

// Match is a candidate together with its similarity to the query.
type Match struct {
	ID    string  `json:"id"`
	Score float64 `json:"score"`
}

// Query describes a similarity search.
type Query struct {
	Vector    []float64
	Threshold float64             // Candidates scoring below this are discarded
	Exclude   map[string]struct{} // Candidate ids never returned
}

func (q Query) excluded(id string) bool {
	if q.Exclude == nil {
		return false
	}
	_, ok := q.Exclude[id]
	return ok
}

// TopMatch returns the highest scoring candidate at or above the threshold,
// or nil when none qualifies. Ties keep the candidate scanned first.
func TopMatch(q Query, candidates []Candidate) (*Match, error) {
	var best *Match
	for _, c := range candidates {
		if q.excluded(c.ID) {
			continue
		}
		score, err := Cosine(q.Vector, c.Vector)
		if err != nil {
			return nil, fmt.Errorf("candidate %s: %w", c.ID, err)
		}
		if score < q.Threshold {
			continue
		}
		if best == nil || score > best.Score {
			best = &Match{ID: c.ID, Score: score}
		}
	}
	return best, nil
}

// RankMatches returns every candidate at or above the threshold sorted by
// descending similarity and truncated to limit. A limit <= 0 means no limit.
func RankMatches(q Query, candidates []Candidate, limit int) ([]Match, error) {
	ranked := make([]Match, 0, len(candidates))
	for _, c := range candidates {
		if q.excluded(c.ID) {
			continue
		}
		score, err := Cosine(q.Vector, c.Vector)
		if err != nil {
			return nil, fmt.Errorf("candidate %s: %w", c.ID, err)
		}
		if score < q.Threshold {
			continue
		}
		ranked = append(ranked, Match{ID: c.ID, Score: score})
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Score > ranked[j].Score
	})

	if limit > 0 && len(ranked) > limit {
		ranked = ranked[:limit]
	}
	return ranked, nil
}

// ExcludeSet builds an exclusion set from ids, skipping empty ones.
func ExcludeSet(ids ...string) map[string]struct{} {
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if id != "" {
			set[id] = struct{}{}
		}
	}
	return set
}
