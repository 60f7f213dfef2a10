package main

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/campfire/backend/internal/auth"
	"github.com/campfire/backend/internal/models"
	"github.com/campfire/backend/internal/repository"
)

var tokenCmd = &cobra.Command{
	Use:   "token <user-id>",
	Short: "Issue a bearer token for an existing user",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := uuid.Parse(args[0])
		if err != nil {
			return fmt.Errorf("invalid user id: %w", err)
		}
		cfg, db, err := openDB(cmd.Context())
		if err != nil {
			return err
		}
		defer db.Close()

		role, err := repository.NewUserRepo(db.Pool).GetRole(cmd.Context(), id)
		if err != nil {
			return err
		}
		tok, err := auth.NewTokenService(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL).Issue(models.Actor{ID: id, Role: role})
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), tok)
		return nil
	},
}
