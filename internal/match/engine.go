// Package match resolves scraped exam questions against the question bank.
//
// Matching runs in two stages. Candidate filtering keeps every bank question
// whose stem is similar enough to the scraped stem. When more than one
// candidate survives (the bank contains many near-identical stems that differ
// only in their options) the option sets decide.
package match

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"exambridge/internal/bank"
	"exambridge/internal/logging"
	"exambridge/internal/textnorm"
)

// Config holds the tunable matching parameters.
type Config struct {
	// Threshold is the minimum confidence for accepting a match.
	Threshold float64 `yaml:"threshold" json:"threshold"`
	// QuestionWeight and OptionWeight combine stem and option similarity
	// when several candidates survive filtering.
	QuestionWeight float64 `yaml:"question_weight" json:"question_weight"`
	OptionWeight   float64 `yaml:"option_weight" json:"option_weight"`
	// OptionMatchFloor is the best-match score at which a scraped option
	// counts as present in a candidate.
	OptionMatchFloor float64 `yaml:"option_match_floor" json:"option_match_floor"`
	// OptionCountTolerance is the allowed difference between the scraped and
	// bank option counts.
	OptionCountTolerance int `yaml:"option_count_tolerance" json:"option_count_tolerance"`
}

// DefaultConfig returns the empirically tuned defaults.
func DefaultConfig() Config {
	return Config{
		Threshold:            0.85,
		QuestionWeight:       0.4,
		OptionWeight:         0.6,
		OptionMatchFloor:     0.8,
		OptionCountTolerance: 1,
	}
}

// Validate checks that the parameters are usable.
func (c Config) Validate() error {
	if c.Threshold <= 0 || c.Threshold > 1 {
		return fmt.Errorf("matching threshold must be in (0,1], got %v", c.Threshold)
	}
	if c.QuestionWeight < 0 || c.OptionWeight < 0 {
		return errors.New("matching weights must not be negative")
	}
	if sum := c.QuestionWeight + c.OptionWeight; sum < 0.999 || sum > 1.001 {
		return fmt.Errorf("matching weights must sum to 1, got %v", sum)
	}
	if c.OptionMatchFloor < 0 || c.OptionMatchFloor > 1 {
		return fmt.Errorf("option match floor must be in [0,1], got %v", c.OptionMatchFloor)
	}
	if c.OptionCountTolerance < 0 {
		return errors.New("option count tolerance must not be negative")
	}
	return nil
}

// ScrapedOption is one option as served by the live exam service.
type ScrapedOption struct {
	ID      int    `json:"id"`
	Content string `json:"content"`
}

// ScrapedQuestion is one subject as served by the live exam service.
type ScrapedQuestion struct {
	SubjectID   int             `json:"id"`
	Description string          `json:"description"`
	Options     []ScrapedOption `json:"options"`
	// UpdatedAt is the service's last-updated marker for the subject, echoed
	// back on submission. Kept raw so its representation survives.
	UpdatedAt json.RawMessage `json:"updated_at,omitempty"`
}

// OptionTexts returns the option contents in served order.
func (sq ScrapedQuestion) OptionTexts() []string {
	out := make([]string, len(sq.Options))
	for i, o := range sq.Options {
		out[i] = o.Content
	}
	return out
}

// Result is an accepted match for one scraped question.
type Result struct {
	Question         *bank.Question `json:"-"`
	Confidence       float64        `json:"confidence"`
	CorrectOptionIDs []int          `json:"correct_option_ids"`
}

// Engine matches scraped questions against bank questions. It holds no
// mutable state and is safe for concurrent use.
type Engine struct {
	cfg Config
}

// NewEngine creates an engine. Invalid configs fall back to DefaultConfig.
func NewEngine(cfg Config) *Engine {
	if err := cfg.Validate(); err != nil {
		logging.Get(logging.CategoryMatch).Warn("invalid matching config (%v), using defaults", err)
		cfg = DefaultConfig()
	}
	return &Engine{cfg: cfg}
}

// Config returns the engine's parameters.
func (e *Engine) Config() Config { return e.cfg }

type candidate struct {
	q     *bank.Question
	score float64
}

// FindBestMatch returns the bank question that best matches scrapedText.
// scrapedOptions may be nil. When ok is false, confidence is the best score
// that was seen (0 when no candidate passed filtering).
func (e *Engine) FindBestMatch(scrapedText string, questions []*bank.Question, scrapedOptions []string) (*bank.Question, float64, bool) {
	norm := textnorm.Normalize(scrapedText)
	if norm == "" || len(questions) == 0 {
		return nil, 0, false
	}

	candidates := e.filterCandidates(norm, questions)
	switch {
	case len(candidates) == 0:
		return nil, 0, false
	case len(candidates) == 1:
		return candidates[0].q, candidates[0].score, true
	}

	normOptions := make([]string, 0, len(scrapedOptions))
	for _, o := range scrapedOptions {
		if n := textnorm.Normalize(o); n != "" {
			normOptions = append(normOptions, n)
		}
	}

	if len(normOptions) == 0 {
		best := candidates[0]
		for _, c := range candidates[1:] {
			if c.score > best.score {
				best = c
			}
		}
		return best.q, best.score, true
	}

	var best *bank.Question
	bestScore := -1.0
	for _, c := range candidates {
		optScore, matched := optionSetSimilarity(normOptions, c.q, e.cfg.OptionMatchFloor)
		combined := e.cfg.QuestionWeight*c.score + e.cfg.OptionWeight*optScore
		logging.MatchDebug("candidate %s: question=%.3f options=%.3f (%d/%d matched) combined=%.3f",
			c.q.Label(), c.score, optScore, matched, len(normOptions), combined)
		if combined > bestScore {
			best, bestScore = c.q, combined
		}
	}
	if bestScore < e.cfg.Threshold {
		return nil, bestScore, false
	}
	return best, bestScore, true
}

func (e *Engine) filterCandidates(norm string, questions []*bank.Question) []candidate {
	var out []candidate
	for _, q := range questions {
		stem := q.DescriptionNormalized
		if stem != norm && ratioUpperBound(norm, stem) < e.cfg.Threshold &&
			!containsEither(norm, stem) {
			continue
		}
		if s := QuestionSimilarity(norm, stem); s >= e.cfg.Threshold {
			out = append(out, candidate{q: q, score: s})
		}
	}
	return out
}

func containsEither(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	return strings.Contains(a, b) || strings.Contains(b, a)
}

// optionSetSimilarity averages, over the scraped options, the best
// OptionSimilarity against any option of q. It also reports how many scraped
// options reached floor.
func optionSetSimilarity(normOptions []string, q *bank.Question, floor float64) (float64, int) {
	if len(normOptions) == 0 {
		return 0, 0
	}
	total := 0.0
	matched := 0
	for _, so := range normOptions {
		best := 0.0
		for _, bo := range q.Options {
			if s := OptionSimilarity(so, bo.Normalized); s > best {
				best = s
				if best == exactScore {
					break
				}
			}
		}
		if best >= floor {
			matched++
		}
		total += best
	}
	return total / float64(len(normOptions)), matched
}
