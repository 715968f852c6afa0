package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func (a *app) locksCommand() *cobra.Command {
	var (
		active bool
		unlock string
	)
	cmd := &cobra.Command{
		Use:   "locks",
		Short: "List poisoned or active locks, or clear a poisoned lock",
		Long: `Without flags, locks lists the locks poisoned by failed tasks. Tasks that need
one of them stay queued until it is cleared with --unlock.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := a.client(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()

			switch {
			case unlock != "":
				if err := client.UnlockLock(cmd.Context(), unlock); err != nil {
					return fmt.Errorf("failed to unlock %s: %w", unlock, err)
				}
				fmt.Fprintf(out, "lock %s cleared\n", unlock)
			case active:
				locks, err := client.GetLocks(cmd.Context(), false)
				if err != nil {
					return err
				}
				printLocks(out, locks)
			default:
				locks, err := client.GetPoisonedLocks(cmd.Context())
				if err != nil {
					return err
				}
				printPoisonedLocks(out, locks)
			}
			return nil
		},
	}
	cmd.Flags().Bool("poisoned", true, "List the locks poisoned by failed tasks")
	cmd.Flags().BoolVarP(&active, "active", "a", false, "List the locks held by running tasks and the poisoned ones")
	cmd.Flags().StringVarP(&unlock, "unlock", "u", "", "Clear the poisoned lock with this ID")
	cmd.MarkFlagsMutuallyExclusive("poisoned", "active", "unlock")
	return cmd
}
