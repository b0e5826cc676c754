package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"habitsync/internal/app"
	"habitsync/internal/cli"
	"habitsync/internal/store"
	"habitsync/internal/utils"

	"github.com/spf13/cobra"
)

func newHabitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "habit",
		Short: "Manage habits",
		Long: `Add, list, log and end habits. Every change is picked up by the next
sync; with auto_sync enabled a background sync starts right away.`,
	}

	cmd.AddCommand(newHabitAddCmd())
	cmd.AddCommand(newHabitListCmd())
	cmd.AddCommand(newHabitLogCmd())
	cmd.AddCommand(newHabitEndCmd())
	return cmd
}

func newHabitAddCmd() *cobra.Command {
	var h store.NewHabit
	var started string

	cmd := &cobra.Command{
		Use:   "add <name>",
		Short: "Add a habit",
		Example: `  habitsync habit add "Read" --target 5 --period weekly
  habitsync habit add "Stretch" --description "10 minutes" --started 2025-01-01`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			h.Name = args[0]
			startedAt, err := utils.ParseDateFlag(started)
			if err != nil {
				return err
			}
			if startedAt != nil {
				h.StartedAt = *startedAt
			}

			return withApp(cmd.Context(), func(a *app.App) error {
				if existing, err := a.Store().FindHabit(cmd.Context(), h.Name); err != nil {
					return err
				} else if existing != nil {
					return fmt.Errorf("a habit named %q already exists", existing.Template.Name)
				}

				added, err := a.Store().AddHabit(cmd.Context(), h)
				if err != nil {
					return err
				}
				fmt.Printf("✓ Added %s (%d/%s)\n", added.Template.Name, added.Instance.TargetPerPeriod, added.Instance.Period)
				a.NotifyDataChanged()
				return nil
			})
		},
	}

	cmd.Flags().IntVarP(&h.Target, "target", "t", 1, "completions per period (1-99)")
	cmd.Flags().StringVarP(&h.Period, "period", "p", "daily", "period: "+strings.Join(utils.ValidPeriods, ", "))
	cmd.Flags().StringVarP(&h.Description, "description", "d", "", "description")
	cmd.Flags().StringVar(&h.Color, "color", "", "display color")
	cmd.Flags().StringVar(&started, "started", "", "start date (YYYY-MM-DD, default today)")
	return cmd
}

func newHabitListCmd() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List habits",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(a *app.App) error {
				habits, err := a.Store().ListHabits(cmd.Context())
				if err != nil {
					return err
				}
				if asJSON {
					return utils.Encode(cmd.OutOrStdout(), utils.FormatJSON, habits)
				}
				cli.ShowHabits(habits, a.Config().GetDateFormat())
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "output as JSON")
	return cmd
}

func newHabitLogCmd() *cobra.Command {
	var note, date string

	cmd := &cobra.Command{
		Use:               "log <name>",
		Short:             "Record a completion",
		Args:              cobra.ExactArgs(1),
		ValidArgsFunction: cli.HabitCompletion(habitNames),
		RunE: func(cmd *cobra.Command, args []string) error {
			due := time.Now()
			if parsed, err := utils.ParseDateFlag(date); err != nil {
				return err
			} else if parsed != nil {
				due = *parsed
			}

			return withApp(cmd.Context(), func(a *app.App) error {
				h, err := findHabit(cmd.Context(), a, args[0])
				if err != nil {
					return err
				}
				if _, err := a.Store().LogCompletion(cmd.Context(), h, due, note); err != nil {
					return err
				}
				fmt.Printf("✓ Logged %s for %s\n", h.Template.Name, due.Format(a.Config().GetDateFormat()))
				a.NotifyDataChanged()
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&note, "note", "n", "", "note for this completion")
	cmd.Flags().StringVar(&date, "date", "", "date of the completion (YYYY-MM-DD, default today)")
	return cmd
}

func newHabitEndCmd() *cobra.Command {
	return &cobra.Command{
		Use:               "end <name>",
		Short:             "Stop tracking a habit, keeping its history",
		Args:              cobra.ExactArgs(1),
		ValidArgsFunction: cli.HabitCompletion(habitNames),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(a *app.App) error {
				h, err := findHabit(cmd.Context(), a, args[0])
				if err != nil {
					return err
				}
				if err := a.Store().EndHabit(cmd.Context(), h); err != nil {
					return err
				}
				fmt.Printf("✓ Ended %s\n", h.Template.Name)
				a.NotifyDataChanged()
				return nil
			})
		},
	}
}

// withApp opens the app for the duration of fn
func withApp(ctx context.Context, fn func(a *app.App) error) error {
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Shutdown()
	return fn(a)
}

func findHabit(ctx context.Context, a *app.App, name string) (*store.Habit, error) {
	h, err := a.Store().FindHabit(ctx, name)
	if err != nil {
		return nil, err
	}
	if h == nil {
		return nil, utils.ErrHabitNotFound(name)
	}
	return h, nil
}

func habitNames() ([]string, error) {
	var names []string
	err := withApp(context.Background(), func(a *app.App) error {
		habits, err := a.Store().ListHabits(context.Background())
		if err != nil {
			return err
		}
		for _, h := range habits {
			names = append(names, h.Template.Name)
		}
		return nil
	})
	return names, err
}
