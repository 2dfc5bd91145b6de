package bank

import (
	"sort"
	"unicode/utf8"

	"github.com/agnivade/levenshtein"
)

// DuplicatePair is two bank questions whose normalized stems are within the
// lint distance of each other. Such pairs can only be told apart by their
// options at match time.
type DuplicatePair struct {
	A, B     *Question
	Distance int
	// SameAnswers is true when both questions mark the same option contents
	// correct, i.e. the pair is redundant rather than ambiguous.
	SameAnswers bool
}

// FindNearDuplicates reports question pairs whose normalized stems differ by
// at most maxDistance edits. Pairs are ordered by distance, then bank order.
func FindNearDuplicates(questions []*Question, maxDistance int) []DuplicatePair {
	if maxDistance < 0 {
		maxDistance = 0
	}
	lengths := make([]int, len(questions))
	for i, q := range questions {
		lengths[i] = utf8.RuneCountInString(q.DescriptionNormalized)
	}

	var pairs []DuplicatePair
	for i := 0; i < len(questions); i++ {
		for j := i + 1; j < len(questions); j++ {
			if abs(lengths[i]-lengths[j]) > maxDistance {
				continue
			}
			d := levenshtein.ComputeDistance(questions[i].DescriptionNormalized, questions[j].DescriptionNormalized)
			if d > maxDistance {
				continue
			}
			pairs = append(pairs, DuplicatePair{
				A:           questions[i],
				B:           questions[j],
				Distance:    d,
				SameAnswers: sameAnswers(questions[i], questions[j]),
			})
		}
	}
	sort.SliceStable(pairs, func(i, j int) bool { return pairs[i].Distance < pairs[j].Distance })
	return pairs
}

func sameAnswers(a, b *Question) bool {
	ca, cb := a.CorrectOptions(), b.CorrectOptions()
	if len(ca) != len(cb) {
		return false
	}
	set := make(map[string]struct{}, len(ca))
	for _, o := range ca {
		set[o.Normalized] = struct{}{}
	}
	for _, o := range cb {
		if _, ok := set[o.Normalized]; !ok {
			return false
		}
	}
	return true
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
