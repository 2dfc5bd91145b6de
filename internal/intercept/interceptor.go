// Package intercept hooks the exam traffic seen by a proxy or browser host.
//
// The host calls OnResponse for every response and OnRequest for every
// request before forwarding it. Flows that are not exam traffic pass through
// untouched, and no hook ever fails a flow: on any error the flow is
// forwarded as it came.
package intercept

import (
	"fmt"
	"runtime/debug"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"exambridge/internal/bank"
	"exambridge/internal/journal"
	"exambridge/internal/logging"
	"exambridge/internal/match"
	"exambridge/internal/mutate"
	"exambridge/internal/session"
)

// hookBudget is the duration above which a hook logs a slow warning.
const hookBudget = 50 * time.Millisecond

// Flow is one intercepted HTTP message as exposed by the host.
type Flow interface {
	Method() string
	URL() string
	Body() []byte
	SetBody([]byte)
}

// Interceptor is the pair of hooks a host drives.
type Interceptor interface {
	OnRequest(Flow)
	OnResponse(Flow)
}

// Recorder receives subjects that could not be matched. Record must not block.
type Recorder interface {
	Record(journal.Entry) bool
}

// Stats tracks hook activity.
type Stats struct {
	Distributes      int64 `json:"distributes"`
	Submissions      int64 `json:"submissions"`
	SubjectsSeen     int64 `json:"subjects_seen"`
	SubjectsMatched  int64 `json:"subjects_matched"`
	SubjectsInjected int64 `json:"subjects_injected"`
	Passthrough      int64 `json:"passthrough"`
	Failures         int64 `json:"failures"`
}

// FlowInterceptor correlates distribute responses with submission requests
// and injects resolved answers.
type FlowInterceptor struct {
	bank     *bank.Bank
	engine   *match.Engine
	store    *session.Store
	recorder Recorder
	now      func() time.Time

	distributes, submissions             atomic.Int64
	subjectsSeen, subjectsMatched        atomic.Int64
	subjectsInjected, passthrough, fails atomic.Int64
}

var _ Interceptor = (*FlowInterceptor)(nil)

// Option configures a FlowInterceptor.
type Option func(*FlowInterceptor)

// WithRecorder sets where unmatched subjects are reported.
func WithRecorder(r Recorder) Option {
	return func(fi *FlowInterceptor) { fi.recorder = r }
}

// New creates an interceptor. A nil engine uses the default matching config
// and a nil store a default session store.
func New(b *bank.Bank, engine *match.Engine, store *session.Store, opts ...Option) *FlowInterceptor {
	if b == nil {
		b = bank.New()
	}
	if engine == nil {
		engine = match.NewEngine(match.DefaultConfig())
	}
	if store == nil {
		store = session.NewStore(session.DefaultConfig())
	}
	fi := &FlowInterceptor{bank: b, engine: engine, store: store, now: time.Now}
	for _, opt := range opts {
		opt(fi)
	}
	return fi
}

// LoadBank loads the question bank from path and returns the question count.
// An empty bank is not an error; every subject will simply stay unmatched.
func (fi *FlowInterceptor) LoadBank(path string) (int, error) {
	n, err := fi.bank.Load(path)
	if err != nil {
		return n, err
	}
	if n == 0 {
		logging.BootWarn("question bank at %s is empty, no answers will be injected", path)
	} else {
		logging.Boot("question bank loaded: %d questions from %s", n, path)
	}
	return n, nil
}

// Bank returns the bank the interceptor matches against.
func (fi *FlowInterceptor) Bank() *bank.Bank { return fi.bank }

// Store returns the session store.
func (fi *FlowInterceptor) Store() *session.Store { return fi.store }

// Stats returns the hook counters.
func (fi *FlowInterceptor) Stats() Stats {
	return Stats{
		Distributes:      fi.distributes.Load(),
		Submissions:      fi.submissions.Load(),
		SubjectsSeen:     fi.subjectsSeen.Load(),
		SubjectsMatched:  fi.subjectsMatched.Load(),
		SubjectsInjected: fi.subjectsInjected.Load(),
		Passthrough:      fi.passthrough.Load(),
		Failures:         fi.fails.Load(),
	}
}

// OnResponse handles distribute responses: it resolves every subject against
// the bank and stores the session state for the later submission.
func (fi *FlowInterceptor) OnResponse(f Flow) {
	defer fi.recoverHook("response", f)

	route, key := Classify(f.Method(), f.URL())
	if route != RouteDistribute {
		return
	}
	fi.distributes.Add(1)
	log := logging.Get(logging.CategoryIntercept).With("flow", flowID(), "exam", key)
	timer := logging.StartTimer(logging.CategoryIntercept, "distribute "+key)
	defer timer.StopWithThreshold(hookBudget)

	resp, err := parseDistribute(f.Body())
	if err != nil {
		fi.fails.Add(1)
		log.Warn("unreadable distribute response, no answers for this exam: %v", err)
		return
	}

	st := &session.State{
		Key:                 key,
		ExamPaperInstanceID: rawID(resp.ExamPaperInstanceID),
		ExamSubmissionID:    rawID(resp.ExamSubmissionID),
		Subjects:            resp.Subjects,
		Matches:             make(map[int]match.Result, len(resp.Subjects)),
		CreatedAt:           fi.now(),
	}
	questions := fi.bank.AllQuestions()
	for _, sq := range resp.Subjects {
		res, ok := fi.engine.Resolve(sq, questions)
		if !ok {
			fi.recordUnmatched(key, sq, res.Confidence)
			continue
		}
		st.Matches[sq.SubjectID] = res
	}
	fi.subjectsSeen.Add(int64(len(resp.Subjects)))
	fi.subjectsMatched.Add(int64(len(st.Matches)))

	fi.store.Put(key, st)
	log.Info("distribute: %d/%d subjects matched", len(st.Matches), len(resp.Subjects))
}

// OnRequest handles submission requests: it consumes the session state and
// rewrites the body with the resolved answers.
func (fi *FlowInterceptor) OnRequest(f Flow) {
	defer fi.recoverHook("request", f)

	route, key := Classify(f.Method(), f.URL())
	if route != RouteSubmission {
		return
	}
	fi.submissions.Add(1)
	log := logging.Get(logging.CategoryIntercept).With("flow", flowID(), "exam", key)

	st, ok := fi.store.Take(key)
	if !ok {
		fi.passthrough.Add(1)
		log.Info("submission without pending answers, forwarding untouched")
		return
	}

	body, n, err := mutate.Mutate(f.Body(), st)
	if err != nil {
		fi.fails.Add(1)
		log.Warn("cannot rewrite submission, forwarding untouched: %v", err)
		return
	}
	if n == 0 {
		fi.passthrough.Add(1)
		log.Info("submission: no matched subjects to inject")
		return
	}
	f.SetBody(body)
	fi.subjectsInjected.Add(int64(n))
	log.Info("submission: injected answers for %d subjects", n)
}

func (fi *FlowInterceptor) recordUnmatched(key string, sq match.ScrapedQuestion, confidence float64) {
	if fi.recorder == nil {
		return
	}
	fi.recorder.Record(journal.Entry{
		ExamID:         key,
		SubjectID:      sq.SubjectID,
		Description:    sq.Description,
		Options:        sq.OptionTexts(),
		BestConfidence: confidence,
		SeenAt:         fi.now(),
	})
}

// recoverHook keeps a panic in a hook from reaching the host. The flow body
// is whatever it was when the panic happened, which is the original body
// unless SetBody already ran.
func (fi *FlowInterceptor) recoverHook(hook string, f Flow) {
	if r := recover(); r != nil {
		fi.fails.Add(1)
		logging.Get(logging.CategoryIntercept).Error("panic in %s hook for %s %s: %v\n%s",
			hook, f.Method(), f.URL(), fmt.Sprint(r), debug.Stack())
	}
}

func flowID() string {
	return uuid.NewString()[:8]
}
