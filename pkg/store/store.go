// Package store persists Task records. It is the authoritative copy of every
// task; calendar and reminder state are derived from it.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/harrisonrobin/tasksync/pkg/model"
)

var (
	ErrEncodingFailed = errors.New("task encoding failed")
	ErrDecodingFailed = errors.New("task decoding failed")
)

// Store is a durable key-value store of tasks keyed by id.
type Store interface {
	// LoadAll returns every task ordered by due date ascending.
	LoadAll(ctx context.Context) ([]model.Task, error)
	// Find returns the task with id, or false when there is none.
	Find(ctx context.Context, id string) (model.Task, bool, error)
	// Save inserts or replaces the task with the same id.
	Save(ctx context.Context, task model.Task) error
	// Delete removes the task. Deleting a missing id is not an error.
	Delete(ctx context.Context, id string) error
	Close() error
}

func sortByDue(tasks []model.Task) {
	sort.SliceStable(tasks, func(i, j int) bool {
		if tasks[i].DueDate.Equal(tasks[j].DueDate) {
			return tasks[i].ID < tasks[j].ID
		}
		return tasks[i].DueDate.Before(tasks[j].DueDate)
	})
}

func encodeTask(task model.Task) ([]byte, error) {
	b, err := json.Marshal(task)
	if err != nil {
		return nil, fmt.Errorf("%w: task %s: %v", ErrEncodingFailed, task.ID, err)
	}
	return b, nil
}

func decodeTask(b []byte) (model.Task, error) {
	var task model.Task
	if err := json.Unmarshal(b, &task); err != nil {
		return model.Task{}, fmt.Errorf("%w: %v", ErrDecodingFailed, err)
	}
	return task, nil
}

// KeyedMutex serializes read-modify-write cycles per task id.
type KeyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyedEntry
}

type keyedEntry struct {
	mu   sync.Mutex
	refs int
}

func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{locks: make(map[string]*keyedEntry)}
}

// Lock blocks until id is free and returns the matching unlock func.
func (k *KeyedMutex) Lock(id string) func() {
	k.mu.Lock()
	e, ok := k.locks[id]
	if !ok {
		e = &keyedEntry{}
		k.locks[id] = e
	}
	e.refs++
	k.mu.Unlock()

	e.mu.Lock()
	return func() {
		e.mu.Unlock()
		k.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(k.locks, id)
		}
		k.mu.Unlock()
	}
}
