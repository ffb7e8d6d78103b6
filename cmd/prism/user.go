package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/xiaot623/prism/internal/auth"
	"github.com/xiaot623/prism/internal/config"
	"github.com/xiaot623/prism/internal/domain"
	"github.com/xiaot623/prism/internal/repository"
)

func userCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "User account management",
	}

	var (
		email    string
		fullName string
		username string
		inactive bool
	)

	// prism user add <user_id>
	addCmd := &cobra.Command{
		Use:   "add <user_id>",
		Short: "Create or update a user account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()
			store, err := repository.Open(cfg.DatabaseDriver, cfg.DatabaseURL)
			if err != nil {
				return fmt.Errorf("initialize store: %w", err)
			}
			defer store.Close()

			user := &domain.User{
				UserID:   args[0],
				Email:    email,
				FullName: fullName,
				Username: username,
				IsActive: !inactive,
			}
			if err := store.UpsertUser(cmd.Context(), user); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "user %s saved (active=%t)\n", user.UserID, user.IsActive)
			return nil
		},
	}
	addCmd.Flags().StringVar(&email, "email", "", "Email address")
	addCmd.Flags().StringVar(&fullName, "full-name", "", "Full name used to address the user")
	addCmd.Flags().StringVar(&username, "username", "", "Username, used when no full name is set")
	addCmd.Flags().BoolVar(&inactive, "inactive", false, "Create the account disabled")

	cmd.AddCommand(addCmd)
	return cmd
}

func tokenCmd() *cobra.Command {
	var check bool

	cmd := &cobra.Command{
		Use:   "token <user_id>",
		Short: "Issue an access token for a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()
			if check {
				if err := requireUser(cmd.Context(), cfg, args[0]); err != nil {
					return err
				}
			}
			verifier, err := auth.NewVerifier(cfg.JWTSecret, cfg.APIKey, cfg.TokenTTL)
			if err != nil {
				return err
			}
			token, err := verifier.Issue(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().BoolVar(&check, "check", true, "Refuse to issue a token for an unknown or inactive user")
	return cmd
}

func requireUser(ctx context.Context, cfg *config.Config, userID string) error {
	store, err := repository.Open(cfg.DatabaseDriver, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("initialize store: %w", err)
	}
	defer store.Close()

	user, err := store.GetUser(ctx, userID)
	if err != nil {
		return err
	}
	if !user.IsActive {
		return fmt.Errorf("user %s is not active", userID)
	}
	return nil
}
