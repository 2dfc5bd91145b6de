package match

import (
	"strings"

	"github.com/pmezard/go-difflib/difflib"
)

// Fixed scores for the cheap comparisons that precede the sequence ratio.
const (
	exactScore             = 1.0
	questionContainedScore = 0.95
	optionContainedScore   = 0.9
)

// Ratio is the Ratcliff/Obershelp similarity of a and b: twice the number of
// matching runes divided by the total rune count. Two empty strings score 1.
func Ratio(a, b string) float64 {
	if a == b {
		return 1
	}
	return difflib.NewMatcher(splitRunes(a), splitRunes(b)).Ratio()
}

// ratioUpperBound is a cheap bound on Ratio computed from lengths alone.
func ratioUpperBound(a, b string) float64 {
	la, lb := len([]rune(a)), len([]rune(b))
	if la+lb == 0 {
		return 1
	}
	return 2 * float64(min(la, lb)) / float64(la+lb)
}

// QuestionSimilarity scores two normalized question stems.
func QuestionSimilarity(a, b string) float64 {
	return similarity(a, b, questionContainedScore)
}

// OptionSimilarity scores two normalized option contents.
func OptionSimilarity(a, b string) float64 {
	return similarity(a, b, optionContainedScore)
}

func similarity(a, b string, containedScore float64) float64 {
	if a == b {
		return exactScore
	}
	if a == "" || b == "" {
		return 0
	}
	if strings.Contains(a, b) || strings.Contains(b, a) {
		return containedScore
	}
	return Ratio(a, b)
}

func splitRunes(s string) []string {
	out := make([]string, 0, len(s))
	for _, r := range s {
		out = append(out, string(r))
	}
	return out
}
