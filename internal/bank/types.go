// Package bank holds the static answer-key corpus: every question the exam
// service is known to serve, with its options and which of them are correct.
//
// A Bank is loaded once at startup and then read concurrently by the matching
// engine. Reloads build a complete new snapshot and swap it in atomically, so
// readers never observe a half-loaded corpus.
package bank

import (
	"errors"
	"fmt"
	"strings"
)

// QuestionType distinguishes single- from multiple-selection questions.
type QuestionType string

const (
	TypeSingle   QuestionType = "single"
	TypeMultiple QuestionType = "multiple"
)

// ParseQuestionType maps the service's type strings onto QuestionType.
// Anything mentioning "multiple" is a multiple-selection question; everything
// else (single_selection, true_or_false, judgement, ...) selects one option.
func ParseQuestionType(s string) QuestionType {
	if strings.Contains(strings.ToLower(s), "multiple") {
		return TypeMultiple
	}
	return TypeSingle
}

// Option is one answer option of a bank question.
type Option struct {
	ID         string `json:"id,omitempty"` // as given by the source, empty when absent
	Content    string `json:"content"`      // plain text, markup stripped
	Correct    bool   `json:"correct"`
	Sort       int    `json:"sort"`
	Normalized string `json:"-"`
}

// Question is an immutable bank entry.
type Question struct {
	BankID                string       `json:"bank_id,omitempty"`
	DescriptionHTML       string       `json:"description_html"`
	DescriptionText       string       `json:"description"`
	DescriptionNormalized string       `json:"-"`
	Type                  QuestionType `json:"type"`
	Category              string       `json:"category,omitempty"`
	Options               []Option     `json:"options"`
	Source                string       `json:"source,omitempty"`
}

// CorrectOptions returns the options flagged correct, in bank order.
func (q *Question) CorrectOptions() []Option {
	out := make([]Option, 0, 1)
	for _, o := range q.Options {
		if o.Correct {
			out = append(out, o)
		}
	}
	return out
}

// Label is a short human-readable identifier for logs.
func (q *Question) Label() string {
	if q.BankID != "" {
		return "#" + q.BankID
	}
	text := []rune(q.DescriptionText)
	if len(text) > 24 {
		return string(text[:24]) + "..."
	}
	return string(text)
}

// Record-level parse failures. A record failing with one of these is dropped
// and loading continues.
var (
	ErrEmptyDescription = errors.New("record has no description")
	ErrNoOptions        = errors.New("record has no options")
	ErrNoCorrectOption  = errors.New("record has no option flagged as answer")
)

// RecordError describes a dropped record.
type RecordError struct {
	Source string
	Index  int
	Err    error
}

func (e *RecordError) Error() string {
	return fmt.Sprintf("%s: record %d: %v", e.Source, e.Index, e.Err)
}

func (e *RecordError) Unwrap() error { return e.Err }
