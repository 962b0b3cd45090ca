package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/diagnosis/tutoring-appointments/pkg/auth"
	"github.com/diagnosis/tutoring-appointments/pkg/config"
)

func tokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint an admin bearer token for the day-sheet endpoint",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()
			email, _ := cmd.Flags().GetString("email")
			if email == "" {
				email = cfg.Email.AdminEmail
			}
			ttl, _ := cmd.Flags().GetDuration("ttl")
			if ttl <= 0 {
				ttl = cfg.Auth.AdminTokenTTL
			}

			token, err := auth.NewAdminToken(email, cfg.Auth.JWTSecret, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().String("email", "", "Admin email (defaults to ADMIN_EMAIL)")
	cmd.Flags().Duration("ttl", 0, "Token lifetime (defaults to ADMIN_TOKEN_TTL)")
	return cmd
}
