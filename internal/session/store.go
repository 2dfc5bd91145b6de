// Package session correlates distribute responses with later submission
// requests of the same exam.
//
// Each session key moves through absent → awaiting → consumed → evicted.
// Entries are immutable; every transition replaces the entry with a
// compare-and-swap on a sync.Map, so unrelated keys never contend and a
// session's answers are consumed at most once.
package session

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"exambridge/internal/logging"
	"exambridge/internal/match"
)

// Phase is the lifecycle phase of a session key.
type Phase int32

const (
	PhaseAbsent Phase = iota
	PhaseAwaiting
	PhaseConsumed
)

func (p Phase) String() string {
	switch p {
	case PhaseAbsent:
		return "absent"
	case PhaseAwaiting:
		return "awaiting"
	case PhaseConsumed:
		return "consumed"
	default:
		return "unknown"
	}
}

// State is what was learned from one distribute response.
type State struct {
	Key                 string
	ExamPaperInstanceID string
	ExamSubmissionID    string
	Subjects            []match.ScrapedQuestion
	// Matches holds accepted results by subject id. Unmatched subjects are absent.
	Matches   map[int]match.Result
	CreatedAt time.Time
}

// Match returns the accepted result for a subject.
func (s *State) Match(subjectID int) (match.Result, bool) {
	r, ok := s.Matches[subjectID]
	return r, ok
}

// Subject returns the scraped subject with the given id.
func (s *State) Subject(subjectID int) (match.ScrapedQuestion, bool) {
	for _, sq := range s.Subjects {
		if sq.SubjectID == subjectID {
			return sq, true
		}
	}
	return match.ScrapedQuestion{}, false
}

type entry struct {
	state   *State
	phase   Phase
	touched time.Time
}

// Config holds store parameters.
type Config struct {
	// TTL is how long an entry may sit idle before Sweep evicts it.
	TTL time.Duration
	// SweepInterval is the period of the background sweeper.
	SweepInterval time.Duration
}

// DefaultConfig returns sensible defaults for an exam that may take a couple
// of hours between distribute and submission.
func DefaultConfig() Config {
	return Config{
		TTL:           3 * time.Hour,
		SweepInterval: time.Minute,
	}
}

// Stats tracks store activity.
type Stats struct {
	Puts       int64 `json:"puts"`
	Replaced   int64 `json:"replaced"`
	Takes      int64 `json:"takes"`
	Duplicates int64 `json:"duplicates"`
	Evictions  int64 `json:"evictions"`
}

// Info describes one entry for status reporting.
type Info struct {
	Key       string        `json:"key"`
	Phase     string        `json:"phase"`
	Subjects  int           `json:"subjects"`
	Matched   int           `json:"matched"`
	CreatedAt time.Time     `json:"created_at"`
	Idle      time.Duration `json:"idle_ns"`
}

// Store holds session state keyed by exam id.
type Store struct {
	entries sync.Map // string -> *entry
	cfg     Config
	now     func() time.Time

	puts, replaced, takes, duplicates, evictions atomic.Int64

	mu      sync.Mutex
	stopCh  chan struct{}
	doneCh  chan struct{}
	running bool
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the time source. Used by tests.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// NewStore creates an empty store. Non-positive config values fall back to
// DefaultConfig.
func NewStore(cfg Config, opts ...Option) *Store {
	def := DefaultConfig()
	if cfg.TTL <= 0 {
		cfg.TTL = def.TTL
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = def.SweepInterval
	}
	s := &Store{cfg: cfg, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Put stores st under key in the awaiting phase, replacing any previous entry
// for the key. A repeated distribute response for the same exam wins over an
// earlier one.
func (s *Store) Put(key string, st *State) {
	if key == "" || st == nil {
		return
	}
	s.puts.Add(1)
	e := &entry{state: st, phase: PhaseAwaiting, touched: s.now()}
	if prev, loaded := s.entries.Swap(key, e); loaded {
		s.replaced.Add(1)
		logging.SessionDebug("session %s: replaced %s entry", key, prev.(*entry).phase)
	}
	logging.SessionDebug("session %s: awaiting submission (%d subjects, %d matched)",
		key, len(st.Subjects), len(st.Matches))
}

// Take moves key from awaiting to consumed and returns its state. It returns
// false when the key is unknown, already consumed or evicted. For any one Put,
// at most one Take succeeds.
func (s *Store) Take(key string) (*State, bool) {
	for {
		v, ok := s.entries.Load(key)
		if !ok {
			return nil, false
		}
		e := v.(*entry)
		if e.phase != PhaseAwaiting {
			s.duplicates.Add(1)
			logging.Session("session %s: submission after consumption, forwarding untouched", key)
			return nil, false
		}
		consumed := &entry{state: e.state, phase: PhaseConsumed, touched: s.now()}
		if s.entries.CompareAndSwap(key, e, consumed) {
			s.takes.Add(1)
			return e.state, true
		}
		// Lost a race with Put, Take or Sweep. Look again.
	}
}

// Phase reports the current phase of key.
func (s *Store) Phase(key string) Phase {
	v, ok := s.entries.Load(key)
	if !ok {
		return PhaseAbsent
	}
	return v.(*entry).phase
}

// Sweep evicts entries idle longer than the TTL and returns how many were
// removed. Consumed entries are kept until then as tombstones so a duplicate
// submission is recognized.
func (s *Store) Sweep() int {
	now := s.now()
	evicted := 0
	s.entries.Range(func(k, v any) bool {
		e := v.(*entry)
		if now.Sub(e.touched) > s.cfg.TTL && s.entries.CompareAndDelete(k, e) {
			evicted++
			logging.SessionDebug("session %v: evicted %s entry", k, e.phase)
		}
		return true
	})
	if evicted > 0 {
		s.evictions.Add(int64(evicted))
		logging.Session("session sweep evicted %d entries", evicted)
	}
	return evicted
}

// Len returns the number of entries, tombstones included.
func (s *Store) Len() int {
	n := 0
	s.entries.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

// Snapshot describes every entry, ordered by key.
func (s *Store) Snapshot() []Info {
	now := s.now()
	var out []Info
	s.entries.Range(func(k, v any) bool {
		e := v.(*entry)
		out = append(out, Info{
			Key:       k.(string),
			Phase:     e.phase.String(),
			Subjects:  len(e.state.Subjects),
			Matched:   len(e.state.Matches),
			CreatedAt: e.state.CreatedAt,
			Idle:      now.Sub(e.touched),
		})
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// Stats returns the activity counters.
func (s *Store) Stats() Stats {
	return Stats{
		Puts:       s.puts.Load(),
		Replaced:   s.replaced.Load(),
		Takes:      s.takes.Load(),
		Duplicates: s.duplicates.Load(),
		Evictions:  s.evictions.Load(),
	}
}

// Start runs Sweep every SweepInterval until ctx is done or Stop is called.
// This method is non-blocking.
func (s *Store) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.running = true
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	go s.sweepLoop(ctx, s.stopCh, s.doneCh)
}

// Stop stops the sweeper and waits for it to exit.
func (s *Store) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	stopCh, doneCh := s.stopCh, s.doneCh
	s.mu.Unlock()

	close(stopCh)
	<-doneCh
}

func (s *Store) sweepLoop(ctx context.Context, stopCh <-chan struct{}, doneCh chan<- struct{}) {
	defer close(doneCh)

	ticker := time.NewTicker(s.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case <-ticker.C:
			s.Sweep()
		}
	}
}
