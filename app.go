package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/harrisonrobin/tasksync/pkg/auth"
	"github.com/harrisonrobin/tasksync/pkg/calsync"
	"github.com/harrisonrobin/tasksync/pkg/config"
	"github.com/harrisonrobin/tasksync/pkg/google"
	"github.com/harrisonrobin/tasksync/pkg/notify"
	"github.com/harrisonrobin/tasksync/pkg/reminder"
	"github.com/harrisonrobin/tasksync/pkg/store"
	"github.com/harrisonrobin/tasksync/pkg/syncer"
)

const (
	taskFile   = "tasks.json"
	taskDB     = "tasks.db"
	notifyFile = "notifications.json"
)

// app is everything one command invocation needs, wired from the config.
type app struct {
	cfg        *config.Config
	authorizer *auth.Authorizer
	store      store.Store
	queue      *notify.Queue
	reminders  *reminder.Scheduler
	orch       *syncer.Orchestrator
}

func openApp(cmd *cobra.Command) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	// Priority: flag > config > default.
	if name, _ := cmd.Flags().GetString("calendar"); name != "" {
		cfg.Calendar = name
	}

	configDir, err := config.Dir()
	if err != nil {
		return nil, fmt.Errorf("could not find path to configuration directory: %w", err)
	}
	if err := os.MkdirAll(cfg.DataDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	var s store.Store
	switch cfg.Store {
	case config.StoreSQLite:
		s, err = store.NewSQLiteStore(filepath.Join(cfg.DataDir, taskDB))
	default:
		s, err = store.NewFileStore(filepath.Join(cfg.DataDir, taskFile))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open task store: %w", err)
	}

	queue, err := notify.NewQueue(filepath.Join(cfg.DataDir, notifyFile))
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to open notification queue: %w", err)
	}
	queue.Limit = cfg.NotifyLimit

	authorizer := auth.NewAuthorizer(configDir)
	adapter := calsync.NewAdapter(google.NewService(authorizer, cfg.Calendar))
	reminders := reminder.NewScheduler(queue, time.Now)

	return &app{
		cfg:        cfg,
		authorizer: authorizer,
		store:      s,
		queue:      queue,
		reminders:  reminders,
		orch:       syncer.New(s, adapter, reminders, store.NewKeyedMutex()),
	}, nil
}

func (a *app) Close() error {
	return a.store.Close()
}

// withApp opens the app for the duration of fn.
func withApp(fn func(cmd *cobra.Command, args []string, a *app) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()
		return fn(cmd, args, a)
	}
}
