// Package mutate injects resolved answers into an outgoing submission body.
//
// The body is edited as raw JSON: only the answer fields of matched subjects
// and the progress counters are rewritten. Every other value keeps its exact
// bytes, so fields the service adds later survive untouched.
package mutate

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"exambridge/internal/session"
)

// Submission field names.
const (
	fieldSubjects         = "subjects"
	fieldSubjectID        = "subject_id"
	fieldAnswerOptionIDs  = "answer_option_ids"
	fieldSubjectUpdatedAt = "subject_updated_at"
	fieldProgress         = "progress"
	fieldAnsweredNum      = "answered_num"
	fieldTotalSubjects    = "total_subjects"
)

// ErrNoSubjects is returned when the body has no subjects array.
var ErrNoSubjects = errors.New("submission has no subjects array")

// subjectHead is the part of a submission subject the mutator reads.
type subjectHead struct {
	SubjectID json.Number `json:"subject_id"`
}

// Mutate rewrites body with the answers stored in state and reports how many
// subjects were injected. When nothing is injected, or on error, body is
// returned unchanged.
func Mutate(body []byte, state *session.State) ([]byte, int, error) {
	if state == nil || len(state.Matches) == 0 {
		return body, 0, nil
	}

	obj, err := parseObject(body)
	if err != nil {
		return body, 0, fmt.Errorf("parse submission: %w", err)
	}
	rawSubjects, ok := obj.get(fieldSubjects)
	if !ok {
		return body, 0, ErrNoSubjects
	}
	subjects, err := parseArray(rawSubjects)
	if err != nil {
		return body, 0, fmt.Errorf("parse subjects: %w", err)
	}

	injected := 0
	for i, raw := range subjects {
		out, ok := injectSubject(raw, state)
		if !ok {
			continue
		}
		subjects[i] = out
		injected++
	}
	if injected == 0 {
		return body, 0, nil
	}
	obj.set(fieldSubjects, encodeArray(subjects))

	if rawProgress, ok := obj.get(fieldProgress); ok {
		if progress, err := parseObject(rawProgress); err == nil {
			progress.set(fieldAnsweredNum, encodeInt(injected))
			progress.set(fieldTotalSubjects, encodeInt(len(subjects)))
			obj.set(fieldProgress, progress.encode())
		}
	}
	return obj.encode(), injected, nil
}

// injectSubject returns raw with the stored answers applied, or false when the
// subject has no accepted match or cannot be read.
func injectSubject(raw json.RawMessage, state *session.State) (json.RawMessage, bool) {
	var head subjectHead
	if err := json.Unmarshal(raw, &head); err != nil || head.SubjectID == "" {
		return nil, false
	}
	id, err := strconv.Atoi(head.SubjectID.String())
	if err != nil {
		return nil, false
	}
	res, ok := state.Match(id)
	if !ok || len(res.CorrectOptionIDs) == 0 {
		return nil, false
	}

	sub, err := parseObject(raw)
	if err != nil {
		return nil, false
	}
	ids, err := json.Marshal(res.CorrectOptionIDs)
	if err != nil {
		return nil, false
	}
	sub.set(fieldAnswerOptionIDs, ids)
	if sq, ok := state.Subject(id); ok && len(sq.UpdatedAt) > 0 && string(sq.UpdatedAt) != "null" {
		sub.set(fieldSubjectUpdatedAt, sq.UpdatedAt)
	}
	return sub.encode(), true
}
