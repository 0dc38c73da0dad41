// Package journal persists an append-only trade audit trail to a JSON file.
// Every executed backspread and every position close is recorded so a restart
// or a crash never loses track of what the service did.
package journal

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"backspread-webhook/internal/models"
)

// EntryKind discriminates journal entries.
type EntryKind string

const (
	KindEntry EntryKind = "entry"
	KindClose EntryKind = "close"
)

// Entry is one journaled event. Exactly one of Plan or Close is set,
// matching Kind.
type Entry struct {
	ID         string                 `json:"id"`
	Kind       EntryKind              `json:"kind"`
	Timestamp  time.Time              `json:"timestamp"`
	Command    string                 `json:"command"`
	Underlying string                 `json:"underlying"`
	Plan       *models.BackspreadPlan `json:"plan,omitempty"`
	Close      *models.ClosedSummary  `json:"close,omitempty"`
}

type journalData struct {
	Entries     []Entry   `json:"entries"`
	LastUpdated time.Time `json:"last_updated"`
}

// Journal is a file-backed event log. Safe for concurrent use.
type Journal struct {
	mu       sync.RWMutex
	filepath string
	data     *journalData
}

// Open loads the journal at file, creating an empty one (and its parent
// directory) if nothing exists yet.
func Open(file string) (*Journal, error) {
	if dir := filepath.Dir(file); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("creating journal directory: %w", err)
		}
	}

	j := &Journal{
		filepath: file,
		data:     &journalData{},
	}

	if _, err := os.Stat(file); err == nil {
		raw, err := os.ReadFile(file) // #nosec G304 -- path comes from operator configuration
		if err != nil {
			return nil, fmt.Errorf("loading journal: %w", err)
		}
		if err := json.Unmarshal(raw, j.data); err != nil {
			return nil, fmt.Errorf("parsing journal %s: %w", file, err)
		}
	}

	return j, nil
}

// RecordPlan appends an executed backspread to the journal.
func (j *Journal) RecordPlan(command string, plan *models.BackspreadPlan) (Entry, error) {
	if plan == nil {
		return Entry{}, fmt.Errorf("nil plan")
	}

	entry := Entry{
		ID:         uuid.NewString(),
		Kind:       KindEntry,
		Timestamp:  time.Now().UTC(),
		Command:    command,
		Underlying: plan.Underlying,
		Plan:       plan,
	}
	return entry, j.append(entry)
}

// RecordClose appends a position-close summary to the journal.
func (j *Journal) RecordClose(command string, summary *models.ClosedSummary) (Entry, error) {
	if summary == nil {
		return Entry{}, fmt.Errorf("nil close summary")
	}

	entry := Entry{
		ID:         uuid.NewString(),
		Kind:       KindClose,
		Timestamp:  time.Now().UTC(),
		Command:    command,
		Underlying: summary.Underlying,
		Close:      summary,
	}
	return entry, j.append(entry)
}

// Recent returns up to n entries, newest first.
func (j *Journal) Recent(n int) []Entry {
	j.mu.RLock()
	defer j.mu.RUnlock()

	total := len(j.data.Entries)
	if n <= 0 || n > total {
		n = total
	}

	out := make([]Entry, 0, n)
	for i := total - 1; i >= total-n; i-- {
		out = append(out, j.data.Entries[i])
	}
	return out
}

// Len returns the number of journaled entries.
func (j *Journal) Len() int {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return len(j.data.Entries)
}

func (j *Journal) append(entry Entry) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	j.data.Entries = append(j.data.Entries, entry)
	if err := j.saveLocked(); err != nil {
		// Roll back so memory and disk stay consistent.
		j.data.Entries = j.data.Entries[:len(j.data.Entries)-1]
		return err
	}
	return nil
}

// saveLocked writes the journal atomically. Callers must hold j.mu.
func (j *Journal) saveLocked() error {
	j.data.LastUpdated = time.Now().UTC()

	raw, err := json.MarshalIndent(j.data, "", "  ")
	if err != nil {
		return err
	}

	// Write to temp file first, then rename into place.
	tmpFile := j.filepath + ".tmp"
	if err := os.WriteFile(tmpFile, raw, 0o600); err != nil {
		return err
	}
	return os.Rename(tmpFile, j.filepath)
}
