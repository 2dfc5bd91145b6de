package match

import (
	"errors"
	"fmt"
	"strings"

	"exambridge/internal/bank"
	"exambridge/internal/logging"
	"exambridge/internal/textnorm"
)

// Validation failures. A match rejected with any of these is treated exactly
// like no match.
var (
	ErrOptionCountMismatch = errors.New("scraped and bank option counts differ")
	ErrSingleAnswerCount   = errors.New("single-selection question must resolve to exactly one option")
	ErrNoResolvedAnswer    = errors.New("multiple-selection question resolved to no option")
	ErrUnknownOptionID     = errors.New("resolved option id is not among the scraped options")
)

// ResolveCorrectOptionIDs maps the correct options of matched onto the live
// option ids of the scraped question. IDs are returned in bank option order.
// Exact content matches win over containment so that e.g. "4" does not
// resolve to "14" when both are offered.
func ResolveCorrectOptionIDs(scraped []ScrapedOption, matched *bank.Question) []int {
	if matched == nil {
		return nil
	}
	norms := make([]string, len(scraped))
	for i, o := range scraped {
		norms[i] = textnorm.Normalize(o.Content)
	}

	used := make(map[int]bool, len(scraped))
	var ids []int
	for _, bo := range matched.Options {
		if !bo.Correct || bo.Normalized == "" {
			continue
		}
		idx := -1
		for i, n := range norms {
			if !used[i] && n == bo.Normalized {
				idx = i
				break
			}
		}
		if idx < 0 {
			for i, n := range norms {
				if !used[i] && n != "" && (strings.Contains(n, bo.Normalized) || strings.Contains(bo.Normalized, n)) {
					idx = i
					break
				}
			}
		}
		if idx < 0 {
			continue
		}
		used[idx] = true
		ids = append(ids, scraped[idx].ID)
	}
	return ids
}

// Validate checks a resolved answer set against the matched bank question.
func (e *Engine) Validate(scraped []ScrapedOption, matched *bank.Question, ids []int) error {
	if diff := len(scraped) - len(matched.Options); diff > e.cfg.OptionCountTolerance || -diff > e.cfg.OptionCountTolerance {
		return fmt.Errorf("%w: scraped %d, bank %d", ErrOptionCountMismatch, len(scraped), len(matched.Options))
	}
	switch matched.Type {
	case bank.TypeMultiple:
		if len(ids) < 1 {
			return ErrNoResolvedAnswer
		}
	default:
		if len(ids) != 1 {
			return fmt.Errorf("%w: got %d", ErrSingleAnswerCount, len(ids))
		}
	}
	known := make(map[int]struct{}, len(scraped))
	for _, o := range scraped {
		known[o.ID] = struct{}{}
	}
	for _, id := range ids {
		if _, ok := known[id]; !ok {
			return fmt.Errorf("%w: %d", ErrUnknownOptionID, id)
		}
	}
	return nil
}

// Resolve runs the full pipeline for one scraped question: find the best bank
// question, map its correct options onto live ids and validate the result.
// When ok is false the returned Result carries the best confidence seen and,
// for rejected matches, the rejected bank question.
func (e *Engine) Resolve(sq ScrapedQuestion, questions []*bank.Question) (Result, bool) {
	q, confidence, ok := e.FindBestMatch(sq.Description, questions, sq.OptionTexts())
	if !ok {
		logging.MatchDebug("subject %d: no match (best %.3f)", sq.SubjectID, confidence)
		return Result{Confidence: confidence}, false
	}
	ids := ResolveCorrectOptionIDs(sq.Options, q)
	if err := e.Validate(sq.Options, q, ids); err != nil {
		logging.MatchDebug("subject %d: match %s rejected: %v", sq.SubjectID, q.Label(), err)
		return Result{Question: q, Confidence: confidence}, false
	}
	logging.MatchDebug("subject %d: matched %s confidence=%.3f answers=%v", sq.SubjectID, q.Label(), confidence, ids)
	return Result{Question: q, Confidence: confidence, CorrectOptionIDs: ids}, true
}
