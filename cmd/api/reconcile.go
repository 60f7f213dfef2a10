package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/campfire/backend/internal/ledger"
)

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Check every ledger account against its transaction log, freezing mismatches",
	RunE: func(cmd *cobra.Command, args []string) error {
		_, db, err := openDB(cmd.Context())
		if err != nil {
			return err
		}
		defer db.Close()

		svc := ledger.NewService(db, ledger.NewRepository(db.Pool), slog.Default())
		checked, violations, err := svc.ReconcileAll(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "checked %d accounts, %d frozen\n", checked, violations)
		if violations > 0 {
			return fmt.Errorf("%d accounts failed reconciliation", violations)
		}
		return nil
	},
}
