// Package journal remembers the ids each publish produced, keyed by document.
package journal

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/harrisonrobin/sprintplanner/pkg/model"
)

// maxEntries bounds the history kept per document.
const maxEntries = 20

type TaskEntry struct {
	Line  int    `json:"line"`
	Title string `json:"title"`
	ID    int    `json:"id"`
}

type Entry struct {
	Prefix    string      `json:"prefix"`
	ID        int         `json:"id"`
	Title     string      `json:"title"`
	Created   bool        `json:"created"`
	Tasks     []TaskEntry `json:"tasks"`
	Published time.Time   `json:"published"`
}

type Journal struct {
	Documents map[string][]Entry `json:"documents"`
	Path      string             `json:"-"`
	mu        sync.RWMutex
	dirty     bool
	now       func() time.Time
}

// DefaultPath is the journal location inside configDir.
func DefaultPath(configDir string) string {
	return filepath.Join(configDir, "journal.json")
}

// Open loads the journal at path, or starts an empty one when the file is missing.
func Open(path string) (*Journal, error) {
	j := &Journal{
		Documents: make(map[string][]Entry),
		Path:      path,
		now:       time.Now,
	}
	if _, err := os.Stat(path); err == nil {
		if err := j.Load(); err != nil {
			return nil, err
		}
	}
	return j, nil
}

func (j *Journal) Load() error {
	f, err := os.Open(j.Path)
	if err != nil {
		return err
	}
	defer f.Close()
	if err := json.NewDecoder(f).Decode(j); err != nil {
		return fmt.Errorf("failed to decode journal %s: %w", j.Path, err)
	}
	if j.Documents == nil {
		j.Documents = make(map[string][]Entry)
	}
	return nil
}

// Save writes the journal if anything changed since the last save.
func (j *Journal) Save() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if !j.dirty {
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(j.Path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(j.Path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	defer f.Close()

	encoder := json.NewEncoder(f)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(j); err != nil {
		return err
	}
	j.dirty = false
	return nil
}

// Add appends an entry for doc, dropping the oldest beyond the history limit.
func (j *Journal) Add(doc string, e Entry) {
	j.mu.Lock()
	defer j.mu.Unlock()
	entries := append(j.Documents[doc], e)
	if len(entries) > maxEntries {
		entries = entries[len(entries)-maxEntries:]
	}
	j.Documents[doc] = entries
	j.dirty = true
}

// Entries returns the history of doc, oldest first.
func (j *Journal) Entries(doc string) []Entry {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return append([]Entry(nil), j.Documents[doc]...)
}

// Last returns the most recent entry for doc.
func (j *Journal) Last(doc string) (Entry, bool) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	entries := j.Documents[doc]
	if len(entries) == 0 {
		return Entry{}, false
	}
	return entries[len(entries)-1], true
}

// Remove forgets everything recorded for doc.
func (j *Journal) Remove(doc string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if _, exists := j.Documents[doc]; exists {
		delete(j.Documents, doc)
		j.dirty = true
	}
}

// Recorder returns a recorder that adds entries for doc and saves immediately.
func (j *Journal) Recorder(doc string) *Recorder {
	return &Recorder{journal: j, doc: doc}
}

type Recorder struct {
	journal *Journal
	doc     string
}

func (r *Recorder) Record(wi *model.WorkItem, id int, taskIDs []int) error {
	e := Entry{
		Prefix:    wi.Prefix.Token,
		ID:        id,
		Title:     wi.Title,
		Created:   !wi.HasID(),
		Published: r.journal.now(),
	}
	for i, t := range wi.Tasks {
		if i < len(taskIDs) {
			e.Tasks = append(e.Tasks, TaskEntry{Line: t.Line, Title: t.Title, ID: taskIDs[i]})
		}
	}
	r.journal.Add(r.doc, e)
	return r.journal.Save()
}
