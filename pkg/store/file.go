package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"

	"github.com/harrisonrobin/tasksync/pkg/filelock"
	"github.com/harrisonrobin/tasksync/pkg/model"
)

// FileStore keeps all tasks in one JSON document keyed by task id. Other
// processes may write the same document, so every call re-reads it from disk
// under an advisory file lock instead of trusting an in-memory copy.
type FileStore struct {
	Path string
	mu   sync.RWMutex
}

// NewFileStore opens the document at path. A missing file is an empty store;
// a corrupt one is moved aside to path+".corrupt" and the store starts empty.
func NewFileStore(path string) (*FileStore, error) {
	fs := &FileStore{Path: path}

	lock, err := filelock.Exclusive(path)
	if err != nil {
		return nil, err
	}
	defer lock.Release()

	if _, err := fs.read(); err != nil {
		if !errors.Is(err, ErrDecodingFailed) {
			return nil, err
		}
		log.Printf("Warning: task file %s is corrupt, starting empty: %v", path, err)
		if err := os.Rename(path, path+".corrupt"); err != nil {
			return nil, fmt.Errorf("%w: could not quarantine %s: %v", ErrDecodingFailed, path, err)
		}
	}
	return fs, nil
}

// read loads the current document. A missing file is an empty store.
// Caller holds the file lock.
func (fs *FileStore) read() (map[string]json.RawMessage, error) {
	tasks := make(map[string]json.RawMessage)
	b, err := os.ReadFile(fs.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return tasks, nil
		}
		return nil, err
	}
	if err := json.Unmarshal(b, &tasks); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecodingFailed, err)
	}
	return tasks, nil
}

// snapshot reads the document under a shared lock.
func (fs *FileStore) snapshot() (map[string]json.RawMessage, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	lock, err := filelock.Shared(fs.Path)
	if err != nil {
		return nil, err
	}
	defer lock.Release()
	return fs.read()
}

// modify applies change to the latest document and writes it back, all
// under the exclusive lock so concurrent writers never lose each other's work.
func (fs *FileStore) modify(change func(tasks map[string]json.RawMessage) bool) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	lock, err := filelock.Exclusive(fs.Path)
	if err != nil {
		return err
	}
	defer lock.Release()

	tasks, err := fs.read()
	if err != nil {
		return err
	}
	if !change(tasks) {
		return nil
	}
	return fs.persist(tasks)
}

// persist writes the whole document through a temp file so a failed write
// never leaves a truncated document behind. Caller holds the exclusive lock.
func (fs *FileStore) persist(tasks map[string]json.RawMessage) error {
	data, err := json.MarshalIndent(tasks, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: %v", ErrEncodingFailed, err)
	}

	if err := os.MkdirAll(filepath.Dir(fs.Path), 0700); err != nil {
		return fmt.Errorf("failed to create store directory: %w", err)
	}

	tmpPath := fs.Path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write task file: %w", err)
	}
	if err := os.Rename(tmpPath, fs.Path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to rename task file: %w", err)
	}
	return nil
}

func (fs *FileStore) LoadAll(ctx context.Context) ([]model.Task, error) {
	raws, err := fs.snapshot()
	if err != nil {
		return nil, err
	}

	tasks := make([]model.Task, 0, len(raws))
	for id, raw := range raws {
		task, err := decodeTask(raw)
		if err != nil {
			log.Printf("Warning: skipping unreadable task %s: %v", id, err)
			continue
		}
		tasks = append(tasks, task)
	}
	sortByDue(tasks)
	return tasks, nil
}

func (fs *FileStore) Find(ctx context.Context, id string) (model.Task, bool, error) {
	raws, err := fs.snapshot()
	if err != nil {
		return model.Task{}, false, err
	}

	raw, ok := raws[id]
	if !ok {
		return model.Task{}, false, nil
	}
	task, err := decodeTask(raw)
	if err != nil {
		log.Printf("Warning: treating unreadable task %s as missing: %v", id, err)
		return model.Task{}, false, nil
	}
	return task, true, nil
}

func (fs *FileStore) Save(ctx context.Context, task model.Task) error {
	raw, err := encodeTask(task)
	if err != nil {
		return err
	}
	return fs.modify(func(tasks map[string]json.RawMessage) bool {
		tasks[task.ID] = raw
		return true
	})
}

func (fs *FileStore) Delete(ctx context.Context, id string) error {
	return fs.modify(func(tasks map[string]json.RawMessage) bool {
		if _, exists := tasks[id]; !exists {
			return false
		}
		delete(tasks, id)
		return true
	})
}

func (fs *FileStore) Close() error {
	return nil
}
