package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/diagnosis/tutoring-appointments/pkg/database"
)

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the database schema",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx := context.Background()
			pool, err := database.Connect(ctx, cfg.Database)
			if err != nil {
				return err
			}
			defer pool.Close()

			count, err := database.Migrate(ctx, pool)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Applied %d migration(s) successfully.\n", count)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx := context.Background()
			pool, err := database.Connect(ctx, cfg.Database)
			if err != nil {
				return err
			}
			defer pool.Close()

			statuses, err := database.Status(ctx, pool)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%-40s %s\n", "NAME", "STATUS")
			for _, s := range statuses {
				status := "pending"
				if s.Applied {
					status = "applied"
				}
				fmt.Fprintf(out, "%-40s %s\n", s.Name, status)
			}
			return nil
		},
	})

	return cmd
}
