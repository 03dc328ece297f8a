package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var Version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:           "tasksync",
		Short:         "Keep a local task list in sync with a calendar and reminders",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().String("calendar", "", "Google Calendar name to sync with (overrides config)")

	rootCmd.AddCommand(authCmd())
	rootCmd.AddCommand(setCalendarCmd())
	rootCmd.AddCommand(addCmd())
	rootCmd.AddCommand(listCmd())
	rootCmd.AddCommand(updateCmd())
	rootCmd.AddCommand(doneCmd())
	rootCmd.AddCommand(deleteCmd())
	rootCmd.AddCommand(adviseCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(importCmd())
	rootCmd.AddCommand(sweepCmd())
	rootCmd.AddCommand(rescheduleCmd())
	rootCmd.AddCommand(remindCmd())
	rootCmd.AddCommand(daemonCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
