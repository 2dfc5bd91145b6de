package bank

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"exambridge/internal/logging"

	"golang.org/x/sync/errgroup"
)

// maxParallelReads bounds concurrent file reads during a load.
const maxParallelReads = 4

// snapshot is one fully loaded corpus. Never mutated after publication.
type snapshot struct {
	questions []*Question
	sources   []string
	skipped   int
	loadedAt  time.Time
}

// Bank is the question bank. The zero value is not usable; call New.
type Bank struct {
	snap atomic.Pointer[snapshot]

	loadMu   sync.Mutex // serializes Load/Reload
	paths    []string
	readFile func(string) ([]byte, error)
}

// Stats summarizes the current snapshot.
type Stats struct {
	Questions  int            `json:"questions"`
	Single     int            `json:"single"`
	Multiple   int            `json:"multiple"`
	Skipped    int            `json:"skipped"`
	Sources    []string       `json:"sources"`
	Categories map[string]int `json:"categories,omitempty"`
	LoadedAt   time.Time      `json:"loaded_at"`
}

// New returns an empty bank. Matching against it always yields no match.
func New() *Bank {
	b := &Bank{readFile: os.ReadFile}
	b.snap.Store(&snapshot{})
	return b
}

// LoadBank creates a bank from path (a file or a directory of *.json files).
func LoadBank(path string) (*Bank, int, error) {
	b := New()
	n, err := b.Load(path)
	return b, n, err
}

// Load replaces the bank's contents with the questions found in paths.
// Each path is a JSON file or a directory whose *.json files are read.
// Records that fail to parse are dropped with a warning. If any file cannot
// be read the previous contents stay in place and the error is returned.
// The returned count is the number of questions now in the bank.
func (b *Bank) Load(paths ...string) (int, error) {
	b.loadMu.Lock()
	defer b.loadMu.Unlock()

	files, err := expandPaths(paths)
	if err != nil {
		return b.Len(), err
	}

	timer := logging.StartTimer(logging.CategoryBank, "bank load")
	defer timer.Stop()

	results := make([][]*Question, len(files))
	skipped := make([]int, len(files))

	g, ctx := errgroup.WithContext(context.Background())
	g.SetLimit(maxParallelReads)
	for i, file := range files {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			data, err := b.readFile(file)
			if err != nil {
				return fmt.Errorf("failed to read bank file: %w", err)
			}
			qs, errs := Parse(data, file)
			for _, e := range errs {
				logging.BankWarn("skipping bank record: %v", e)
			}
			results[i] = qs
			skipped[i] = len(errs)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return b.Len(), err
	}

	next := &snapshot{sources: files, loadedAt: time.Now()}
	for i := range files {
		next.questions = append(next.questions, results[i]...)
		next.skipped += skipped[i]
	}
	b.snap.Store(next)
	b.paths = append([]string(nil), paths...)

	if len(next.questions) == 0 {
		logging.BankWarn("question bank is empty after loading %d file(s); every subject will be left unanswered", len(files))
	} else {
		logging.Bank("loaded %d questions from %d file(s), skipped %d record(s)", len(next.questions), len(files), next.skipped)
	}
	return len(next.questions), nil
}

// LoadFile is Load for a single file.
func (b *Bank) LoadFile(path string) (int, error) {
	return b.Load(path)
}

// Reload re-reads the paths of the last successful Load.
func (b *Bank) Reload() (int, error) {
	b.loadMu.Lock()
	paths := append([]string(nil), b.paths...)
	b.loadMu.Unlock()
	if len(paths) == 0 {
		return b.Len(), errors.New("bank has not been loaded")
	}
	return b.Load(paths...)
}

// Paths returns the paths of the last successful Load.
func (b *Bank) Paths() []string {
	b.loadMu.Lock()
	defer b.loadMu.Unlock()
	return append([]string(nil), b.paths...)
}

// AllQuestions returns the current snapshot. The slice and the questions it
// points to must be treated as read-only; they stay valid after a reload.
func (b *Bank) AllQuestions() []*Question {
	return b.snap.Load().questions
}

// Len returns the number of questions currently loaded.
func (b *Bank) Len() int {
	return len(b.snap.Load().questions)
}

// Stats summarizes the current snapshot.
func (b *Bank) Stats() Stats {
	s := b.snap.Load()
	st := Stats{
		Questions:  len(s.questions),
		Skipped:    s.skipped,
		Sources:    append([]string(nil), s.sources...),
		Categories: make(map[string]int),
		LoadedAt:   s.loadedAt,
	}
	for _, q := range s.questions {
		switch q.Type {
		case TypeMultiple:
			st.Multiple++
		default:
			st.Single++
		}
		if q.Category != "" {
			st.Categories[q.Category]++
		}
	}
	return st
}

// expandPaths resolves directories to their *.json files, sorted by name.
func expandPaths(paths []string) ([]string, error) {
	if len(paths) == 0 {
		return nil, errors.New("no bank paths given")
	}
	var files []string
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return nil, fmt.Errorf("bank path %s: %w", p, err)
		}
		if !info.IsDir() {
			files = append(files, p)
			continue
		}
		entries, err := os.ReadDir(p)
		if err != nil {
			return nil, fmt.Errorf("bank directory %s: %w", p, err)
		}
		var found []string
		for _, e := range entries {
			if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), ".json") {
				continue
			}
			found = append(found, filepath.Join(p, e.Name()))
		}
		sort.Strings(found)
		files = append(files, found...)
	}
	return files, nil
}
