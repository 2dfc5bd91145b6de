package intercept

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"exambridge/internal/journal"
	"exambridge/internal/session"
)

const examBase = "https://exam.example.com/api/v1/exams/42"

const bankJSON = `[
  {"id": 1, "description": "<p>What is 2+2?</p>", "type": "single_selection",
   "options": [
     {"content": "3", "is_answer": false, "sort": 0},
     {"content": "4", "is_answer": true, "sort": 1},
     {"content": "5", "is_answer": false, "sort": 2}
   ]},
  {"id": 2, "description": "Pick the primes", "type": "multiple_selection",
   "options": [
     {"content": "2", "is_answer": true, "sort": 0},
     {"content": "3", "is_answer": true, "sort": 1},
     {"content": "4", "is_answer": false, "sort": 2}
   ]}
]`

type fakeFlow struct {
	method, url string

	mu      sync.Mutex
	body    []byte
	setBody int
}

func newFlow(method, url, body string) *fakeFlow {
	return &fakeFlow{method: method, url: url, body: []byte(body)}
}

func (f *fakeFlow) Method() string { return f.method }
func (f *fakeFlow) URL() string    { return f.url }

func (f *fakeFlow) Body() []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.body
}

func (f *fakeFlow) SetBody(b []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.body = b
	f.setBody++
}

type panicFlow struct{ fakeFlow }

func (f *panicFlow) Body() []byte { panic("body exploded") }

type fakeRecorder struct {
	mu      sync.Mutex
	entries []journal.Entry
}

func (r *fakeRecorder) Record(e journal.Entry) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, e)
	return true
}

func newInterceptor(t *testing.T, opts ...Option) *FlowInterceptor {
	t.Helper()
	path := filepath.Join(t.TempDir(), "bank.json")
	require.NoError(t, os.WriteFile(path, []byte(bankJSON), 0o644))

	fi := New(nil, nil, nil, opts...)
	n, err := fi.LoadBank(path)
	require.NoError(t, err)
	require.Equal(t, 2, n)
	return fi
}

// =============================================================================
// END TO END
// =============================================================================

func TestInterceptor_EndToEnd(t *testing.T) {
	t.Parallel()
	fi := newInterceptor(t)

	fi.OnResponse(newFlow("GET", examBase+"/distribute",
		`{"exam_paper_instance_id": 9001, "exam_submission_id": "77", "subjects": [
		  {"id": 1, "description": "What is 2+2?", "options": [
		    {"id": 101, "content": "3"}, {"id": 102, "content": "4"}, {"id": 103, "content": "5"}]}
		]}`))

	require.Equal(t, session.PhaseAwaiting, fi.Store().Phase("42"))

	req := newFlow("POST", examBase+"/submissions",
		`{"subjects":[{"subject_id":1,"answer_option_ids":[]}],"progress":{"answered_num":0,"total_subjects":1}}`)
	fi.OnRequest(req)

	assert.Equal(t,
		`{"subjects":[{"subject_id":1,"answer_option_ids":[102]}],"progress":{"answered_num":1,"total_subjects":1}}`,
		string(req.Body()))
	assert.Equal(t, session.PhaseConsumed, fi.Store().Phase("42"))

	st := fi.Stats()
	assert.Equal(t, int64(1), st.Distributes)
	assert.Equal(t, int64(1), st.SubjectsMatched)
	assert.Equal(t, int64(1), st.SubjectsInjected)
}

func TestInterceptor_StoresStateDetails(t *testing.T) {
	t.Parallel()
	fi := newInterceptor(t)

	fi.OnResponse(newFlow("GET", examBase+"/distribute",
		`{"exam_paper_instance_id": 9001, "exam_submission_id": "77", "subjects": [
		  {"id": 5, "description": "Pick the primes", "updated_at": "2024-06-01 10:00:00", "options": [
		    {"id": 51, "content": "4"}, {"id": 52, "content": "3"}, {"id": 53, "content": "2"}]},
		  {"id": 6, "description": "Unknown question", "options": [{"id": 61, "content": "x"}]}
		]}`))

	st, ok := fi.Store().Take("42")
	require.True(t, ok)
	assert.Equal(t, "9001", st.ExamPaperInstanceID)
	assert.Equal(t, "77", st.ExamSubmissionID)
	require.Len(t, st.Subjects, 2)
	require.Len(t, st.Matches, 1, "unmatched subjects are absent")

	res, ok := st.Match(5)
	require.True(t, ok)
	assert.Equal(t, []int{53, 52}, res.CorrectOptionIDs)
	_, ok = st.Match(6)
	assert.False(t, ok)
}

func TestInterceptor_PartialInjection(t *testing.T) {
	t.Parallel()
	fi := newInterceptor(t)

	fi.OnResponse(newFlow("GET", examBase+"/distribute",
		`{"subjects": [
		  {"id": 1, "description": "What is 2+2?", "options": [{"id": 101, "content": "3"}, {"id": 102, "content": "4"}, {"id": 103, "content": "5"}]},
		  {"id": 2, "description": "Who wrote Hamlet?", "options": [{"id": 201, "content": "Shakespeare"}]},
		  {"id": 3, "description": "Pick the primes", "updated_at": 1717236000, "options": [{"id": 301, "content": "2"}, {"id": 302, "content": "3"}, {"id": 303, "content": "4"}]}
		]}`))

	req := newFlow("POST", examBase+"/submissions", `{"subjects": [
	  {"subject_id": 1, "answer_option_ids": []},
	  {"subject_id": 2, "answer_option_ids": [201]},
	  {"subject_id": 3, "answer_option_ids": []}
	], "progress": {"answered_num": 1, "total_subjects": 3}}`)
	fi.OnRequest(req)

	var got struct {
		Subjects []struct {
			SubjectID        int             `json:"subject_id"`
			AnswerOptionIDs  []int           `json:"answer_option_ids"`
			SubjectUpdatedAt json.RawMessage `json:"subject_updated_at"`
		} `json:"subjects"`
		Progress struct {
			AnsweredNum   int `json:"answered_num"`
			TotalSubjects int `json:"total_subjects"`
		} `json:"progress"`
	}
	require.NoError(t, json.Unmarshal(req.Body(), &got))
	require.Len(t, got.Subjects, 3)
	assert.Equal(t, []int{102}, got.Subjects[0].AnswerOptionIDs)
	assert.Equal(t, []int{201}, got.Subjects[1].AnswerOptionIDs, "unmatched subject keeps the user's answer")
	assert.Equal(t, []int{301, 302}, got.Subjects[2].AnswerOptionIDs)
	assert.Equal(t, "1717236000", string(got.Subjects[2].SubjectUpdatedAt))
	assert.Equal(t, 2, got.Progress.AnsweredNum)
	assert.Equal(t, 3, got.Progress.TotalSubjects)
}

// =============================================================================
// PASSTHROUGH
// =============================================================================

func TestInterceptor_UnknownSessionPassesThrough(t *testing.T) {
	t.Parallel()
	fi := newInterceptor(t)

	body := `{"subjects":[{"subject_id":1,"answer_option_ids":[]}],"progress":{"answered_num":0,"total_subjects":1}}`
	req := newFlow("POST", "https://exam.example.com/api/v1/exams/7/submissions", body)
	fi.OnRequest(req)

	assert.Equal(t, body, string(req.Body()))
	assert.Zero(t, req.setBody)
	assert.Equal(t, int64(1), fi.Stats().Passthrough)
}

func TestInterceptor_DuplicateSubmissionPassesThrough(t *testing.T) {
	t.Parallel()
	fi := newInterceptor(t)

	fi.OnResponse(newFlow("GET", examBase+"/distribute",
		`{"subjects": [{"id": 1, "description": "What is 2+2?", "options": [{"id": 101, "content": "3"}, {"id": 102, "content": "4"}, {"id": 103, "content": "5"}]}]}`))

	body := `{"subjects":[{"subject_id":1,"answer_option_ids":[]}]}`
	first := newFlow("POST", examBase+"/submissions", body)
	fi.OnRequest(first)
	assert.Equal(t, 1, first.setBody)

	retry := newFlow("POST", examBase+"/submissions", body)
	fi.OnRequest(retry)
	assert.Zero(t, retry.setBody)
	assert.Equal(t, body, string(retry.Body()))
}

func TestInterceptor_MalformedDistributeLeavesNoState(t *testing.T) {
	t.Parallel()
	fi := newInterceptor(t)

	for _, body := range []string{`{"subjects": [`, `[]`, `{"message": "ok"}`, ``} {
		fi.OnResponse(newFlow("GET", examBase+"/distribute", body))
	}
	assert.Equal(t, session.PhaseAbsent, fi.Store().Phase("42"))
	assert.Equal(t, int64(4), fi.Stats().Failures)

	body := `{"subjects":[{"subject_id":1,"answer_option_ids":[]}]}`
	req := newFlow("POST", examBase+"/submissions", body)
	fi.OnRequest(req)
	assert.Equal(t, body, string(req.Body()))
}

func TestInterceptor_MalformedSubmissionPassesThrough(t *testing.T) {
	t.Parallel()
	fi := newInterceptor(t)

	fi.OnResponse(newFlow("GET", examBase+"/distribute",
		`{"subjects": [{"id": 1, "description": "What is 2+2?", "options": [{"id": 101, "content": "3"}, {"id": 102, "content": "4"}, {"id": 103, "content": "5"}]}]}`))

	req := newFlow("POST", examBase+"/submissions", `not json`)
	fi.OnRequest(req)
	assert.Equal(t, "not json", string(req.Body()))
	assert.Zero(t, req.setBody)
}

func TestInterceptor_IgnoresOtherTraffic(t *testing.T) {
	t.Parallel()
	fi := newInterceptor(t)

	flows := []*fakeFlow{
		newFlow("GET", "https://exam.example.com/api/v1/profile", `{"subjects": []}`),
		newFlow("POST", examBase+"/distribute", `{"subjects": []}`),
		newFlow("GET", examBase+"/submissions", `{"subjects": []}`),
	}
	for _, f := range flows {
		fi.OnResponse(f)
		fi.OnRequest(f)
		assert.Zero(t, f.setBody)
	}
	assert.Equal(t, 0, fi.Store().Len())
	assert.Equal(t, Stats{}, fi.Stats())
}

func TestInterceptor_RecoversFromPanics(t *testing.T) {
	t.Parallel()
	fi := newInterceptor(t)

	f := &panicFlow{fakeFlow: fakeFlow{method: "GET", url: examBase + "/distribute"}}
	assert.NotPanics(t, func() { fi.OnResponse(f) })

	f.method = "POST"
	f.url = examBase + "/submissions"
	fi.Store().Put("42", &session.State{Key: "42"})
	assert.NotPanics(t, func() { fi.OnRequest(f) })
	assert.Equal(t, int64(2), fi.Stats().Failures)
}

func TestInterceptor_EmptyBank(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "empty.json")
	require.NoError(t, os.WriteFile(path, []byte(`[]`), 0o644))

	fi := New(nil, nil, nil)
	n, err := fi.LoadBank(path)
	require.NoError(t, err)
	assert.Zero(t, n)

	fi.OnResponse(newFlow("GET", examBase+"/distribute",
		`{"subjects": [{"id": 1, "description": "What is 2+2?", "options": [{"id": 102, "content": "4"}]}]}`))
	body := `{"subjects":[{"subject_id":1,"answer_option_ids":[]}]}`
	req := newFlow("POST", examBase+"/submissions", body)
	fi.OnRequest(req)
	assert.Equal(t, body, string(req.Body()))
}

// =============================================================================
// JOURNAL
// =============================================================================

func TestInterceptor_RecordsUnmatchedSubjects(t *testing.T) {
	t.Parallel()
	rec := &fakeRecorder{}
	fi := newInterceptor(t, WithRecorder(rec))

	fi.OnResponse(newFlow("GET", examBase+"/distribute",
		`{"subjects": [
		  {"id": 1, "description": "What is 2+2?", "options": [{"id": 101, "content": "3"}, {"id": 102, "content": "4"}, {"id": 103, "content": "5"}]},
		  {"id": 2, "description": "<p>Who wrote Hamlet?</p>", "options": [{"id": 201, "content": "Shakespeare"}, {"id": 202, "content": "Marlowe"}]}
		]}`))

	rec.mu.Lock()
	defer rec.mu.Unlock()
	require.Len(t, rec.entries, 1)
	e := rec.entries[0]
	assert.Equal(t, "42", e.ExamID)
	assert.Equal(t, 2, e.SubjectID)
	assert.Equal(t, "<p>Who wrote Hamlet?</p>", e.Description)
	assert.Equal(t, []string{"Shakespeare", "Marlowe"}, e.Options)
	assert.False(t, e.SeenAt.IsZero())
}

// =============================================================================
// CLASSIFICATION
// =============================================================================

func TestClassify(t *testing.T) {
	t.Parallel()

	tests := []struct {
		method, url string
		route       Route
		key         string
	}{
		{"GET", "https://x.test/api/exams/42/distribute", RouteDistribute, "42"},
		{"GET", "https://x.test/api/exams/42/distribute?ts=1", RouteDistribute, "42"},
		{"GET", "https://x.test/api/exams/42/distribute/", RouteDistribute, "42"},
		{"POST", "https://x.test/api/exams/42/submissions", RouteSubmission, "42"},
		{"POST", "https://x.test/exams/1/submissions#frag", RouteSubmission, "1"},
		{"POST", "https://x.test/api/exams/42/distribute", RouteNone, ""},
		{"GET", "https://x.test/api/exams/42/submissions", RouteNone, ""},
		{"GET", "https://x.test/api/exams/abc/distribute", RouteNone, ""},
		{"GET", "https://x.test/api/exams/42/distribute/extra", RouteNone, ""},
		{"GET", "https://x.test/api/exams/42", RouteNone, ""},
		{"GET", "://bad url", RouteNone, ""},
	}
	for _, tt := range tests {
		route, key := Classify(tt.method, tt.url)
		assert.Equal(t, tt.route, route, "%s %s", tt.method, tt.url)
		assert.Equal(t, tt.key, key, "%s %s", tt.method, tt.url)
	}
}

func TestRouteString(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "distribute", RouteDistribute.String())
	assert.Equal(t, "submission", RouteSubmission.String())
	assert.Equal(t, "none", RouteNone.String())
}

func TestParseDistribute_Envelope(t *testing.T) {
	t.Parallel()
	resp, err := parseDistribute([]byte(`{"code": 0, "data": {"exam_submission_id": 5, "subjects": [{"id": 1, "description": "Q"}]}}`))
	require.NoError(t, err)
	require.Len(t, resp.Subjects, 1)
	assert.Equal(t, "5", rawID(resp.ExamSubmissionID))
}

func TestParseSubjects(t *testing.T) {
	t.Parallel()
	subs, err := ParseSubjects([]byte(`{"subjects": [{"id": 3, "description": "Q", "options": [{"id": 30, "content": "a"}]}]}`))
	require.NoError(t, err)
	require.Len(t, subs, 1)
	assert.Equal(t, 3, subs[0].SubjectID)
	assert.Equal(t, []string{"a"}, subs[0].OptionTexts())

	_, err = ParseSubjects([]byte(`{"exam_paper_instance_id": 1}`))
	assert.ErrorIs(t, err, errNoSubjects)
}

func TestRawID(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "12", rawID(json.RawMessage(`12`)))
	assert.Equal(t, "ab-1", rawID(json.RawMessage(`"ab-1"`)))
	assert.Equal(t, "", rawID(json.RawMessage(`null`)))
	assert.Equal(t, "", rawID(nil))
}
