package main

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/diagnosis/tutoring-appointments/pkg/config"
	"github.com/diagnosis/tutoring-appointments/pkg/database"
	"github.com/diagnosis/tutoring-appointments/services/appointments/internal/availability"
	"github.com/diagnosis/tutoring-appointments/services/appointments/internal/domain"
	"github.com/diagnosis/tutoring-appointments/services/appointments/internal/repository"
)

func slotsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "slots",
		Short: "Print the weekly calendar, or free slots for --date",
		RunE: func(cmd *cobra.Command, args []string) error {
			date, _ := cmd.Flags().GetString("date")
			cfg := config.Load()
			cal, err := loadCalendar(cfg)
			if err != nil {
				return err
			}
			if date == "" {
				printCalendar(cmd.OutOrStdout(), cal)
				return nil
			}

			ctx := context.Background()
			pool, err := database.Connect(ctx, cfg.Database)
			if err != nil {
				return err
			}
			defer pool.Close()

			engine := availability.NewEngine(cal, repository.NewAppointmentRepository(pool, cfg.Database.QueryTimeout), nil)
			res := engine.Check(ctx, date)
			if res.Reason != "" {
				fmt.Fprintf(cmd.OutOrStdout(), "%s: no slots (%s)\n", res.Date, res.Reason)
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", res.Date, strings.Join(res.Slots, ", "))
			return nil
		},
	}
	cmd.Flags().String("date", "", "Date to check (YYYY-MM-DD)")
	return cmd
}

func printCalendar(w io.Writer, cal *domain.Calendar) {
	for _, day := range cal.Days() {
		fmt.Fprintf(w, "%-10s %s\n", day, strings.Join(cal.SlotsFor(day), ", "))
	}
}
