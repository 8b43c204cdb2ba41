package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/aihub/gemini-bot/internal/di"
	"github.com/aihub/gemini-bot/internal/quota"
)

func newQuotaCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "quota",
		Short: "Inspect or replenish a user's remaining requests",
	}
	cmd.PersistentFlags().Int64("user", 0, "Telegram user id")
	_ = cmd.MarkPersistentFlagRequired("user")

	get := &cobra.Command{
		Use:   "get",
		Short: "Print the remaining quota of a user",
		RunE: func(cmd *cobra.Command, _ []string) error {
			userID, _ := cmd.Flags().GetInt64("user")
			return withQuota(func(store quota.Store) error {
				n, err := store.Get(cmd.Context(), userID)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "user %d: %d\n", userID, n)
				return nil
			})
		},
	}

	set := &cobra.Command{
		Use:   "set",
		Short: "Set the remaining quota of a user",
		RunE: func(cmd *cobra.Command, _ []string) error {
			userID, _ := cmd.Flags().GetInt64("user")
			amount, _ := cmd.Flags().GetInt64("amount")
			if amount < 0 {
				return fmt.Errorf("amount must not be negative")
			}
			return withQuota(func(store quota.Store) error {
				if err := store.Set(cmd.Context(), userID, amount); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "user %d: %d\n", userID, amount)
				return nil
			})
		},
	}
	set.Flags().Int64("amount", 0, "New remaining quota")
	_ = set.MarkFlagRequired("amount")

	cmd.AddCommand(get, set)
	return cmd
}

func withQuota(fn func(quota.Store) error) error {
	container, _, _, err := bootstrap()
	if err != nil {
		return err
	}
	return container.Invoke(func(store quota.Store, cleanup *di.Cleanup) error {
		defer cleanup.Run()
		return fn(store)
	})
}
