// Package journal records scraped questions that could not be matched against
// the bank, so the operator can grow the bank from real exams.
//
// Recording never blocks the caller: entries go through a buffered channel to
// a single writer goroutine and are dropped when the buffer is full.
package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"exambridge/internal/logging"
)

// DefaultBuffer is the channel capacity used when Open is given none.
const DefaultBuffer = 256

const writeTimeout = 5 * time.Second

// timeLayout is fixed-width so seen_at sorts as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Entry is one unmatched scraped question.
type Entry struct {
	ID             string    `json:"id"`
	ExamID         string    `json:"exam_id"`
	SubjectID      int       `json:"subject_id"`
	Description    string    `json:"description"`
	Options        []string  `json:"options"`
	BestConfidence float64   `json:"best_confidence"`
	SeenAt         time.Time `json:"seen_at"`
	// SeenCount is how often the same exam subject went unmatched.
	SeenCount int `json:"seen_count"`
}

// Stats tracks writer activity.
type Stats struct {
	Written int64 `json:"written"`
	Dropped int64 `json:"dropped"`
	Failed  int64 `json:"failed"`
}

// Journal is the SQLite-backed unmatched-question journal.
type Journal struct {
	db   *sql.DB
	path string

	mu     sync.RWMutex // guards closed against sends on ch
	closed bool
	ch     chan Entry
	doneCh chan struct{}

	written, dropped, failed atomic.Int64
}

// Open creates or opens the journal at path and starts its writer.
func Open(path string, buffer int) (*Journal, error) {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One writer connection avoids SQLITE_BUSY between the writer and readers.
	db.SetMaxOpenConns(1)

	j := &Journal{
		db:     db,
		path:   path,
		ch:     make(chan Entry, buffer),
		doneCh: make(chan struct{}),
	}
	if err := j.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	go j.writeLoop()
	logging.Journal("journal opened at %s", path)
	return j, nil
}

// Path returns the database file path.
func (j *Journal) Path() string {
	return j.path
}

func (j *Journal) initSchema() error {
	schema := `
	PRAGMA journal_mode = WAL;
	PRAGMA busy_timeout = 5000;

	CREATE TABLE IF NOT EXISTS unmatched_questions (
		id TEXT PRIMARY KEY,
		exam_id TEXT NOT NULL,
		subject_id INTEGER NOT NULL,
		description TEXT NOT NULL,
		options_json TEXT NOT NULL,
		best_confidence REAL NOT NULL,
		seen_at TEXT NOT NULL,
		seen_count INTEGER NOT NULL DEFAULT 1,
		UNIQUE (exam_id, subject_id)
	);
	CREATE INDEX IF NOT EXISTS idx_unmatched_seen_at ON unmatched_questions(seen_at);
	`
	_, err := j.db.Exec(schema)
	return err
}

// Record queues e for writing. It returns false when the entry was dropped
// because the buffer is full or the journal is closed.
func (j *Journal) Record(e Entry) bool {
	j.mu.RLock()
	defer j.mu.RUnlock()
	if j.closed {
		j.dropped.Add(1)
		return false
	}
	select {
	case j.ch <- e:
		return true
	default:
		j.dropped.Add(1)
		logging.JournalWarn("journal buffer full, dropping subject %d of exam %s", e.SubjectID, e.ExamID)
		return false
	}
}

// Close stops accepting entries, writes everything already queued and closes
// the database. It is safe to call more than once.
func (j *Journal) Close() error {
	j.mu.Lock()
	if j.closed {
		j.mu.Unlock()
		return nil
	}
	j.closed = true
	close(j.ch)
	j.mu.Unlock()

	<-j.doneCh
	return j.db.Close()
}

// Stats returns the writer counters.
func (j *Journal) Stats() Stats {
	return Stats{
		Written: j.written.Load(),
		Dropped: j.dropped.Load(),
		Failed:  j.failed.Load(),
	}
}

func (j *Journal) writeLoop() {
	defer close(j.doneCh)
	for e := range j.ch {
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		err := j.insert(ctx, e)
		cancel()
		if err != nil {
			j.failed.Add(1)
			logging.JournalError("failed to journal subject %d of exam %s: %v", e.SubjectID, e.ExamID, err)
			continue
		}
		j.written.Add(1)
	}
}

// =============================================================================
// WRITES
// =============================================================================

func (j *Journal) insert(ctx context.Context, e Entry) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.SeenAt.IsZero() {
		e.SeenAt = time.Now()
	}
	options := e.Options
	if options == nil {
		options = []string{}
	}
	optionsJSON, err := json.Marshal(options)
	if err != nil {
		return err
	}

	_, err = j.db.ExecContext(ctx, `
		INSERT INTO unmatched_questions (id, exam_id, subject_id, description, options_json,
			best_confidence, seen_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(exam_id, subject_id) DO UPDATE SET
			description = excluded.description,
			options_json = excluded.options_json,
			best_confidence = excluded.best_confidence,
			seen_at = excluded.seen_at,
			seen_count = seen_count + 1
	`, e.ID, e.ExamID, e.SubjectID, e.Description, string(optionsJSON),
		e.BestConfidence, e.SeenAt.UTC().Format(timeLayout))
	if err != nil {
		return fmt.Errorf("failed to insert entry: %w", err)
	}
	return nil
}

// =============================================================================
// READS
// =============================================================================

// List returns up to limit entries, most recently seen first. A non-positive
// limit returns everything.
func (j *Journal) List(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := j.db.QueryContext(ctx, `
		SELECT id, exam_id, subject_id, description, options_json, best_confidence, seen_at, seen_count
		FROM unmatched_questions
		ORDER BY seen_at DESC, id
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list entries: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var optionsJSON, seenAt string
		if err := rows.Scan(&e.ID, &e.ExamID, &e.SubjectID, &e.Description, &optionsJSON,
			&e.BestConfidence, &seenAt, &e.SeenCount); err != nil {
			return nil, fmt.Errorf("failed to scan entry: %w", err)
		}
		if err := json.Unmarshal([]byte(optionsJSON), &e.Options); err != nil {
			return nil, fmt.Errorf("entry %s: bad options: %w", e.ID, err)
		}
		if e.SeenAt, err = time.Parse(timeLayout, seenAt); err != nil {
			return nil, fmt.Errorf("entry %s: bad timestamp: %w", e.ID, err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Count returns the number of journaled questions.
func (j *Journal) Count(ctx context.Context) (int, error) {
	var n int
	if err := j.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM unmatched_questions`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count entries: %w", err)
	}
	return n, nil
}
