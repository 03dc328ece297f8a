// Package notify is a durable local notification queue. Entries are keyed by
// id, fire at most once and are removed when delivered.
package notify

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/harrisonrobin/tasksync/pkg/filelock"
)

// DefaultLimit caps pending notifications, like a mobile OS queue does.
const DefaultLimit = 64

var (
	ErrQueueFull     = errors.New("notification queue is full")
	ErrTriggerInPast = errors.New("notification trigger is in the past")
)

type Entry struct {
	ID        string    `json:"id"`
	TriggerAt time.Time `json:"trigger_at"`
	Title     string    `json:"title"`
	Body      string    `json:"body"`
}

// Queue holds pending notifications. With an empty Path it is memory only.
// A file-backed queue is shared with other processes: every call reloads
// Entries from disk under a file lock before reading or changing them.
type Queue struct {
	Entries map[string]Entry `json:"entries"`
	Path    string           `json:"-"`
	Limit   int              `json:"-"`
	Now     func() time.Time `json:"-"`
	mu      sync.Mutex
}

// NewQueue opens the queue stored at path, or an in-memory queue if path is "".
func NewQueue(path string) (*Queue, error) {
	q := &Queue{
		Entries: make(map[string]Entry),
		Path:    path,
		Limit:   DefaultLimit,
		Now:     time.Now,
	}
	if err := q.view(func() {}); err != nil {
		return nil, err
	}
	return q, nil
}

// load replaces Entries with the document on disk. Caller holds q.mu and
// the file lock.
func (q *Queue) load() error {
	q.Entries = make(map[string]Entry)
	f, err := os.Open(q.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer f.Close()
	if err := json.NewDecoder(f).Decode(q); err != nil {
		return fmt.Errorf("failed to decode notification queue: %w", err)
	}
	if q.Entries == nil {
		q.Entries = make(map[string]Entry)
	}
	return nil
}

// save persists the queue. Caller holds q.mu and the exclusive file lock.
func (q *Queue) save() error {
	if err := os.MkdirAll(filepath.Dir(q.Path), 0700); err != nil {
		return err
	}

	tmpPath := q.Path + ".tmp"
	f, err := os.Create(tmpPath)
	if err != nil {
		return err
	}
	encoder := json.NewEncoder(f)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(q); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return os.Rename(tmpPath, q.Path)
}

// view runs fn against the latest entries.
func (q *Queue) view(fn func()) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.Path != "" {
		lock, err := filelock.Shared(q.Path)
		if err != nil {
			return err
		}
		defer lock.Release()
		if err := q.load(); err != nil {
			return err
		}
	}
	fn()
	return nil
}

// update runs change against the latest entries and persists them when it
// reports a change. A failed save leaves the in-memory entries as loaded.
func (q *Queue) update(change func() (bool, error)) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.Path == "" {
		_, err := change()
		return err
	}

	lock, err := filelock.Exclusive(q.Path)
	if err != nil {
		return err
	}
	defer lock.Release()
	if err := q.load(); err != nil {
		return err
	}

	changed, err := change()
	if err != nil || !changed {
		return err
	}
	if err := q.save(); err != nil {
		q.load()
		return err
	}
	return nil
}

// Schedule installs a notification for id, replacing any pending one.
func (q *Queue) Schedule(id string, triggerAt time.Time, title, body string) error {
	err := q.update(func() (bool, error) {
		if !triggerAt.After(q.Now()) {
			return false, ErrTriggerInPast
		}
		if _, exists := q.Entries[id]; !exists && q.Limit > 0 && len(q.Entries) >= q.Limit {
			return false, ErrQueueFull
		}
		q.Entries[id] = Entry{ID: id, TriggerAt: triggerAt, Title: title, Body: body}
		return true, nil
	})
	if err != nil && !errors.Is(err, ErrTriggerInPast) && !errors.Is(err, ErrQueueFull) {
		return fmt.Errorf("failed to persist notification %s: %w", id, err)
	}
	return err
}

// Cancel drops the pending notification for id, if any.
func (q *Queue) Cancel(id string) error {
	return q.update(func() (bool, error) {
		if _, exists := q.Entries[id]; !exists {
			return false, nil
		}
		delete(q.Entries, id)
		return true, nil
	})
}

// CancelAll drops every pending notification.
func (q *Queue) CancelAll() error {
	return q.update(func() (bool, error) {
		if len(q.Entries) == 0 {
			return false, nil
		}
		q.Entries = make(map[string]Entry)
		return true, nil
	})
}

// Pending returns the notification pending for id.
func (q *Queue) Pending(id string) (Entry, bool) {
	var e Entry
	var ok bool
	if err := q.view(func() { e, ok = q.Entries[id] }); err != nil {
		log.Printf("Warning: could not read notification queue: %v", err)
	}
	return e, ok
}

// List returns all pending notifications ordered by trigger time.
func (q *Queue) List() []Entry {
	var out []Entry
	if err := q.view(func() { out = sortedEntries(q.Entries) }); err != nil {
		log.Printf("Warning: could not read notification queue: %v", err)
	}
	return out
}

// Due removes and returns the notifications whose trigger time is not after
// now. Entries scheduled by other processes are seen and kept.
func (q *Queue) Due(now time.Time) ([]Entry, error) {
	var due []Entry
	err := q.update(func() (bool, error) {
		for id, e := range q.Entries {
			if !e.TriggerAt.After(now) {
				due = append(due, e)
				delete(q.Entries, id)
			}
		}
		return len(due) > 0, nil
	})
	if err != nil || len(due) == 0 {
		return nil, err
	}
	return sortEntries(due), nil
}

func sortedEntries(m map[string]Entry) []Entry {
	out := make([]Entry, 0, len(m))
	for _, e := range m {
		out = append(out, e)
	}
	return sortEntries(out)
}

func sortEntries(out []Entry) []Entry {
	sort.Slice(out, func(i, j int) bool {
		if out[i].TriggerAt.Equal(out[j].TriggerAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].TriggerAt.Before(out[j].TriggerAt)
	})
	return out
}
