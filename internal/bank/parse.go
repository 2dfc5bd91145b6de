package bank

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"exambridge/internal/textnorm"
)

// rawRecord is one question record as exported from the exam service.
type rawRecord struct {
	ID          flexString  `json:"id"`
	Description string      `json:"description"`
	Type        string      `json:"type"`
	Category    flexString  `json:"category"`
	Options     []rawOption `json:"options"`
}

type rawOption struct {
	ID       flexString `json:"id"`
	Content  string     `json:"content"`
	IsAnswer flexBool   `json:"is_answer"`
	Sort     int        `json:"sort"`
}

// page is the paginated export wrapper.
type page struct {
	Subjects    []json.RawMessage `json:"subjects"`
	Description *string           `json:"description"`
}

// flexString accepts a JSON string or number.
type flexString string

func (f *flexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*f = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("expected string or number: %w", err)
	}
	*f = flexString(n.String())
	return nil
}

// flexBool accepts true/false, 0/1 and their quoted forms.
type flexBool bool

func (f *flexBool) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(bytes.TrimSpace(data)), `"`)
	switch strings.ToLower(s) {
	case "true", "1", "yes":
		*f = true
	case "false", "0", "no", "", "null":
		*f = false
	default:
		return fmt.Errorf("invalid boolean %q", s)
	}
	return nil
}

// Parse decodes one bank source. It accepts a flat array of question records,
// an array of paginated wrappers ([{"subjects": [...]}, ...]) or a single
// wrapper object. Records that fail to decode or validate are reported in errs
// and skipped; a structural failure of the document itself returns no
// questions and a single error.
func Parse(data []byte, source string) (questions []*Question, errs []error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, nil
	}

	var records []json.RawMessage
	switch data[0] {
	case '[':
		var items []json.RawMessage
		if err := json.Unmarshal(data, &items); err != nil {
			return nil, []error{fmt.Errorf("%s: %w", source, err)}
		}
		for _, item := range items {
			if subs, ok := asPage(item); ok {
				records = append(records, subs...)
				continue
			}
			records = append(records, item)
		}
	case '{':
		if subs, ok := asPage(data); ok {
			records = subs
		} else {
			records = []json.RawMessage{data}
		}
	default:
		return nil, []error{fmt.Errorf("%s: expected JSON array or object", source)}
	}

	questions = make([]*Question, 0, len(records))
	for i, raw := range records {
		q, err := parseRecord(raw)
		if err != nil {
			errs = append(errs, &RecordError{Source: source, Index: i, Err: err})
			continue
		}
		q.Source = source
		questions = append(questions, q)
	}
	return questions, errs
}

// asPage reports whether raw is a {"subjects": [...]} wrapper rather than a
// question record.
func asPage(raw json.RawMessage) ([]json.RawMessage, bool) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, false
	}
	var p page
	if err := json.Unmarshal(trimmed, &p); err != nil {
		return nil, false
	}
	if p.Subjects == nil || p.Description != nil {
		return nil, false
	}
	return p.Subjects, true
}

func parseRecord(raw json.RawMessage) (*Question, error) {
	var rec rawRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, err
	}
	text := textnorm.PlainText(rec.Description)
	if text == "" {
		return nil, ErrEmptyDescription
	}
	if len(rec.Options) == 0 {
		return nil, ErrNoOptions
	}

	q := &Question{
		BankID:                string(rec.ID),
		DescriptionHTML:       rec.Description,
		DescriptionText:       text,
		DescriptionNormalized: textnorm.Normalize(rec.Description),
		Type:                  ParseQuestionType(rec.Type),
		Category:              string(rec.Category),
		Options:               make([]Option, 0, len(rec.Options)),
	}
	correct := 0
	for _, ro := range rec.Options {
		opt := Option{
			ID:         string(ro.ID),
			Content:    textnorm.PlainText(ro.Content),
			Correct:    bool(ro.IsAnswer),
			Sort:       ro.Sort,
			Normalized: textnorm.Normalize(ro.Content),
		}
		if opt.Correct {
			correct++
		}
		q.Options = append(q.Options, opt)
	}
	if correct == 0 {
		return nil, ErrNoCorrectOption
	}
	return q, nil
}
