// Package retention purges attached advice text once it is past retention.
package retention

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/harrisonrobin/tasksync/pkg/store"
)

type Sweeper struct {
	store store.Store
	locks *store.KeyedMutex
}

// NewSweeper returns a sweeper sharing locks with the writers of s.
func NewSweeper(s store.Store, locks *store.KeyedMutex) *Sweeper {
	if locks == nil {
		locks = store.NewKeyedMutex()
	}
	return &Sweeper{store: s, locks: locks}
}

// Sweep clears the advice fields of every task whose advice was generated
// before now minus the retention window, and returns how many it cleared.
// Each task is reloaded under its lock before being written back, so a
// concurrent update is never overwritten with a stale copy.
func (s *Sweeper) Sweep(ctx context.Context, now time.Time) (int, error) {
	tasks, err := s.store.LoadAll(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to load tasks for sweep: %w", err)
	}

	cleared := 0
	for _, candidate := range tasks {
		if !candidate.AdviceExpired(now) {
			continue
		}
		ok, err := s.sweepOne(ctx, candidate.ID, now)
		if err != nil {
			return cleared, err
		}
		if ok {
			cleared++
		}
	}
	if cleared > 0 {
		log.Printf("Sweep: cleared expired advice on %d task(s)", cleared)
	}
	return cleared, nil
}

func (s *Sweeper) sweepOne(ctx context.Context, id string, now time.Time) (bool, error) {
	unlock := s.locks.Lock(id)
	defer unlock()

	task, found, err := s.store.Find(ctx, id)
	if err != nil {
		return false, fmt.Errorf("failed to reload task %s: %w", id, err)
	}
	if !found || !task.AdviceExpired(now) {
		return false, nil
	}

	task.ClearAdvice()
	if err := s.store.Save(ctx, task); err != nil {
		return false, fmt.Errorf("failed to save swept task %s: %w", id, err)
	}
	return true, nil
}

// Run sweeps immediately and then every interval until ctx is done.
func (s *Sweeper) Run(ctx context.Context, interval time.Duration, now func() time.Time) {
	if now == nil {
		now = time.Now
	}
	if _, err := s.Sweep(ctx, now()); err != nil {
		log.Printf("Sweep: %v", err)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.Sweep(ctx, now()); err != nil {
				log.Printf("Sweep: %v", err)
			}
		}
	}
}

