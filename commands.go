package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/harrisonrobin/tasksync/pkg/config"
	"github.com/harrisonrobin/tasksync/pkg/model"
	"github.com/harrisonrobin/tasksync/pkg/notify"
	"github.com/harrisonrobin/tasksync/pkg/syncer"
	"github.com/harrisonrobin/tasksync/pkg/taskwarrior"
)

var dueLayouts = []string{time.RFC3339, "2006-01-02 15:04", "2006-01-02T15:04", "2006-01-02"}

func parseDue(s string) (time.Time, error) {
	for _, layout := range dueLayouts {
		if t, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid due date %q, expected YYYY-MM-DD [HH:MM]", s)
}

// reportWarnings shows what did not reach the calendar or the reminders. The
// local change has already been saved, so these never fail the command.
func reportWarnings(w io.Writer, res syncer.Result) {
	for _, warning := range res.Warnings {
		fmt.Fprintf(w, "Warning: %v\n", warning)
	}
}

func authCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "auth",
		Short: "Ask for calendar access, discarding any previous decision",
		RunE: withApp(func(cmd *cobra.Command, args []string, a *app) error {
			if err := a.authorizer.Reset(); err != nil {
				return fmt.Errorf("could not reset previous grant: %w", err)
			}
			status, err := a.authorizer.RequestAccess(cmd.Context())
			if err != nil {
				return fmt.Errorf("authentication failed: %w", err)
			}
			fmt.Printf("Calendar access: %s\n", status)
			return nil
		}),
	}
}

func setCalendarCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set-calendar <name>",
		Short: "Set the default Google Calendar name",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			cfg.Calendar = args[0]
			if err := config.Save(cfg); err != nil {
				return fmt.Errorf("error saving config: %w", err)
			}
			fmt.Printf("Default calendar set to: %s\n", args[0])
			return nil
		},
	}
}

func addCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "add <title>",
		Short: "Add a task",
		Args:  cobra.MinimumNArgs(1),
		RunE: withApp(func(cmd *cobra.Command, args []string, a *app) error {
			dueFlag, _ := cmd.Flags().GetString("due")
			due, err := parseDue(dueFlag)
			if err != nil {
				return err
			}
			notes, _ := cmd.Flags().GetString("notes")
			priority, _ := cmd.Flags().GetInt("priority")

			res, err := a.orch.Add(cmd.Context(), model.Draft{
				Title:    strings.Join(args, " "),
				DueDate:  due,
				Notes:    notes,
				Priority: priority,
			})
			if err != nil {
				return err
			}
			fmt.Println(res.Task.ID)
			reportWarnings(os.Stderr, res)
			return nil
		}),
	}
	cmd.Flags().StringP("due", "d", "", "Due date, YYYY-MM-DD [HH:MM]")
	cmd.Flags().StringP("notes", "n", "", "Free-form notes")
	cmd.Flags().IntP("priority", "p", model.PriorityLow, "Priority 0 (low) to 2 (high)")
	cmd.MarkFlagRequired("due")
	return cmd
}

func listCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks ordered by due date",
		RunE: withApp(func(cmd *cobra.Command, args []string, a *app) error {
			tasks, err := a.orch.List(cmd.Context())
			if err != nil {
				return err
			}
			if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(tasks)
			}
			printTasks(os.Stdout, tasks)
			return nil
		}),
	}
	cmd.Flags().BoolP("json", "j", false, "Output as JSON")
	return cmd
}

func printTasks(w io.Writer, tasks []model.Task) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tDUE\tPRI\tDONE\tCAL\tTITLE")
	for _, t := range tasks {
		done := ""
		if t.IsCompleted {
			done = "✓"
		}
		cal := ""
		if t.HasCalendarRef() {
			cal = "•"
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\t%s\n",
			t.ID, t.DueDate.Local().Format("2006-01-02 15:04"), t.Priority, done, cal, t.Title)
	}
	tw.Flush()
}

func updateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Edit a task's title, due date, notes or priority",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(cmd *cobra.Command, args []string, a *app) error {
			task, err := a.orch.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			flags := cmd.Flags()
			if flags.Changed("title") {
				task.Title, _ = flags.GetString("title")
			}
			if flags.Changed("due") {
				s, _ := flags.GetString("due")
				if task.DueDate, err = parseDue(s); err != nil {
					return err
				}
			}
			if flags.Changed("notes") {
				task.Notes, _ = flags.GetString("notes")
			}
			if flags.Changed("priority") {
				task.Priority, _ = flags.GetInt("priority")
			}

			res, err := a.orch.Update(cmd.Context(), task)
			if err != nil {
				return err
			}
			reportWarnings(os.Stderr, res)
			return nil
		}),
	}
	cmd.Flags().StringP("title", "t", "", "New title")
	cmd.Flags().StringP("due", "d", "", "New due date, YYYY-MM-DD [HH:MM]")
	cmd.Flags().StringP("notes", "n", "", "New notes")
	cmd.Flags().IntP("priority", "p", 0, "New priority 0 (low) to 2 (high)")
	return cmd
}

func doneCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "done <id>",
		Short: "Toggle a task between pending and completed",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(cmd *cobra.Command, args []string, a *app) error {
			res, err := a.orch.ToggleCompletion(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			state := "pending"
			if res.Task.IsCompleted {
				state = "completed"
			}
			fmt.Printf("%s is now %s\n", res.Task.Title, state)
			reportWarnings(os.Stderr, res)
			return nil
		}),
	}
}

func deleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a task and its calendar event",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(cmd *cobra.Command, args []string, a *app) error {
			res, err := a.orch.Delete(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			reportWarnings(os.Stderr, res)
			return nil
		}),
	}
}

func adviseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "advise <id> <advice>...",
		Short: "Attach generated advice to a task",
		Args:  cobra.MinimumNArgs(2),
		RunE: withApp(func(cmd *cobra.Command, args []string, a *app) error {
			res, err := a.orch.SetAdvice(cmd.Context(), args[0], args[1:], time.Now())
			if err != nil {
				return err
			}
			reportWarnings(os.Stderr, res)
			return nil
		}),
	}
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create calendar events for open tasks that have none",
		RunE: withApp(func(cmd *cobra.Command, args []string, a *app) error {
			report, err := a.orch.MigrateUnlinked(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Printf("Migrated %d task(s)\n", report.Migrated)
			for _, e := range report.Errors {
				fmt.Fprintf(os.Stderr, "Warning: %v\n", e)
			}
			return nil
		}),
	}
}

func importCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import [filter]...",
		Short: "Import tasks from Taskwarrior",
		Long: `Import tasks from Taskwarrior.

By default runs "task <filter> export". With --stdin the export JSON is read
from standard input instead. Tasks without a due or scheduled date are skipped.`,
		RunE: withApp(func(cmd *cobra.Command, args []string, a *app) error {
			client := taskwarrior.NewClient()
			var twTasks []taskwarrior.Task
			var err error
			if fromStdin, _ := cmd.Flags().GetBool("stdin"); fromStdin {
				twTasks, err = client.ParseTasks(os.Stdin)
			} else {
				twTasks, err = client.GetTasks(args)
			}
			if err != nil {
				return err
			}

			imported := 0
			for _, tw := range twTasks {
				draft, err := taskwarrior.ToDraft(tw)
				if err != nil {
					log.Printf("Import: skipping %s: %v", tw.UUID, err)
					continue
				}
				res, err := a.orch.Add(cmd.Context(), draft)
				if err != nil {
					return fmt.Errorf("import of %s failed: %w", tw.UUID, err)
				}
				if tw.IsCompleted() {
					if _, err := a.orch.ToggleCompletion(cmd.Context(), res.Task.ID); err != nil {
						return fmt.Errorf("import of %s failed: %w", tw.UUID, err)
					}
				}
				imported++
			}
			fmt.Printf("Imported %d of %d task(s)\n", imported, len(twTasks))
			return nil
		}),
	}
	cmd.Flags().Bool("stdin", false, "Read Taskwarrior export JSON from standard input")
	return cmd
}

func sweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Clear advice older than the retention window",
		RunE: withApp(func(cmd *cobra.Command, args []string, a *app) error {
			n, err := a.orch.Sweeper().Sweep(cmd.Context(), time.Now())
			if err != nil {
				return err
			}
			fmt.Printf("Cleared advice on %d task(s)\n", n)
			return nil
		}),
	}
}

func rescheduleCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reschedule",
		Short: "Rebuild every reminder from the stored tasks",
		RunE: withApp(func(cmd *cobra.Command, args []string, a *app) error {
			tasks, err := a.orch.List(cmd.Context())
			if err != nil {
				return err
			}
			errs := a.reminders.RescheduleAll(tasks)
			fmt.Printf("Scheduled %d reminder(s)\n", len(a.queue.List()))
			return errors.Join(errs...)
		}),
	}
}

func remindCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remind",
		Short: "Deliver reminders that are due",
		RunE: withApp(func(cmd *cobra.Command, args []string, a *app) error {
			return deliver(os.Stdout, a.queue, time.Now())
		}),
	}
}

func deliver(w io.Writer, q *notify.Queue, now time.Time) error {
	due, err := q.Due(now)
	if err != nil {
		return err
	}
	for _, e := range due {
		fmt.Fprintf(w, "🔔 %s: %s\n", e.Title, e.Body)
	}
	return nil
}

func daemonCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "daemon",
		Short: "Run startup maintenance, then sweep and deliver reminders periodically",
		RunE: withApp(func(cmd *cobra.Command, args []string, a *app) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if err := a.orch.Startup(ctx, time.Now()); err != nil {
				log.Printf("Warning: startup maintenance: %v", err)
			}
			go a.orch.Sweeper().Run(ctx, a.cfg.SweepInterval, time.Now)

			ticker := time.NewTicker(a.cfg.DeliverInterval)
			defer ticker.Stop()
			for {
				if err := deliver(os.Stdout, a.queue, time.Now()); err != nil {
					log.Printf("Remind: %v", err)
				}
				select {
				case <-ctx.Done():
					if errors.Is(ctx.Err(), context.Canceled) {
						return nil
					}
					return ctx.Err()
				case <-ticker.C:
				}
			}
		}),
	}
}
