package nutrition

import (
	"encoding/json"
	"strings"
)

// NutriScore is the A-E nutrition grade of a product or a whole basket. A is best.
type NutriScore string

const (
	ScoreA NutriScore = "A"
	ScoreB NutriScore = "B"
	ScoreC NutriScore = "C"
	ScoreD NutriScore = "D"
	ScoreE NutriScore = "E"
)

// scoreOrder is the explicit best-to-worst order used for points and cycling.
var scoreOrder = [...]NutriScore{ScoreA, ScoreB, ScoreC, ScoreD, ScoreE}

// neutralScore is used for empty baskets and unrecognized grades.
const neutralScore = ScoreC

// ParseNutriScore reads a grade case-insensitively. Unknown values yield C and false.
func ParseNutriScore(value string) (NutriScore, bool) {
	s := NutriScore(strings.ToUpper(strings.TrimSpace(value)))
	if s.index() < 0 {
		return neutralScore, false
	}
	return s, true
}

func (s NutriScore) index() int {
	for i, v := range scoreOrder {
		if v == s {
			return i
		}
	}
	return -1
}

// Valid reports whether s is one of A-E.
func (s NutriScore) Valid() bool {
	return s.index() >= 0
}

// Points maps the grade to its quality points: A=4, B=3, C=2, D=1, E=0.
// Anything else counts as C.
func (s NutriScore) Points() int {
	idx := s.index()
	if idx < 0 {
		idx = neutralScore.index()
	}
	return len(scoreOrder) - 1 - idx
}

// Next returns the grade after s in the cycle A -> B -> C -> D -> E -> A.
func (s NutriScore) Next() NutriScore {
	idx := s.index()
	if idx < 0 {
		idx = neutralScore.index()
	}
	return scoreOrder[(idx+1)%len(scoreOrder)]
}

// Better reports whether s is a strictly better grade than other.
func (s NutriScore) Better(other NutriScore) bool {
	return s.Points() > other.Points()
}

// ScoreFromPoints converts a mean point value to a grade using the midpoints
// between adjacent grades as lower bounds.
func ScoreFromPoints(mean float64) NutriScore {
	switch {
	case mean >= 3.5:
		return ScoreA
	case mean >= 2.5:
		return ScoreB
	case mean >= 1.5:
		return ScoreC
	case mean >= 0.5:
		return ScoreD
	default:
		return ScoreE
	}
}

func (s NutriScore) String() string {
	return string(s)
}

// UnmarshalJSON accepts any string or null; unrecognized grades become C.
func (s *NutriScore) UnmarshalJSON(data []byte) error {
	var raw *string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if raw == nil {
		*s = neutralScore
		return nil
	}
	*s, _ = ParseNutriScore(*raw)
	return nil
}
