package similarity

import (
	"math"
	"sort"

	"github.com/aimi/goalgraph/internal/goal"
)

// Match is one similar goal.
type Match struct {
	GoalID string  `json:"goal_id"`
	Score  float64 `json:"score"`
}

// Query selects which candidates Search returns.
type Query struct {
	Vector    []float32
	Exclude   string
	TopK      int
	Threshold float64
}

// Cosine returns the cosine similarity of a and b, or 0 when the lengths
// differ or either vector is zero.
func Cosine(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// Search scores candidates against q.Vector and returns at most q.TopK
// matches with score >= q.Threshold, best first. Equal scores order by goal id.
func Search(q Query, candidates []goal.Embedding) []Match {
	if q.TopK <= 0 {
		return []Match{}
	}
	matches := make([]Match, 0, len(candidates))
	for _, c := range candidates {
		if c.GoalID == q.Exclude || !c.Active {
			continue
		}
		score := Cosine(q.Vector, c.Vector)
		if score < q.Threshold {
			continue
		}
		matches = append(matches, Match{GoalID: c.GoalID, Score: score})
	}
	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return matches[i].GoalID < matches[j].GoalID
	})
	if len(matches) > q.TopK {
		matches = matches[:q.TopK]
	}
	return matches
}
