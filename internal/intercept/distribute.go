package intercept

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"

	"exambridge/internal/match"
)

var errNoSubjects = errors.New("distribute response has no subjects")

// distributeResponse is the part of the distribute payload the interceptor
// reads. Ids are kept raw because the service sends them as numbers or
// strings depending on the endpoint version.
type distributeResponse struct {
	ExamPaperInstanceID json.RawMessage         `json:"exam_paper_instance_id"`
	ExamSubmissionID    json.RawMessage         `json:"exam_submission_id"`
	Subjects            []match.ScrapedQuestion `json:"subjects"`
}

// envelope is the optional {"data": {...}} wrapper some gateways add.
type envelope struct {
	Data json.RawMessage `json:"data"`
}

func parseDistribute(body []byte) (*distributeResponse, error) {
	var resp distributeResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, err
	}
	if resp.Subjects == nil {
		var env envelope
		if err := json.Unmarshal(body, &env); err == nil && len(env.Data) > 0 && env.Data[0] == '{' {
			if err := json.Unmarshal(env.Data, &resp); err != nil {
				return nil, err
			}
		}
	}
	if resp.Subjects == nil {
		return nil, errNoSubjects
	}
	return &resp, nil
}

// ParseSubjects extracts the scraped questions from a captured distribute
// response body, with or without the data envelope.
func ParseSubjects(body []byte) ([]match.ScrapedQuestion, error) {
	resp, err := parseDistribute(body)
	if err != nil {
		return nil, err
	}
	return resp.Subjects, nil
}

// rawID renders a raw JSON id as plain text: strings are unquoted, numbers
// kept as written, null and absent become empty.
func rawID(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return strings.TrimSpace(string(raw))
}
