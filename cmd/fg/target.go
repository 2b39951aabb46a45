package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"fg-go/internal/app"
)

var targetCmd = &cobra.Command{
	Use:     "target",
	Aliases: []string{"t"},
	Short:   "Manage freeze targets",
}

var targetAddCmd = &cobra.Command{
	Use:   "add PATH",
	Short: "Register a directory or partition as a freeze target",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), "add", func(a *app.FGApp) error {
			t, err := a.AddTarget(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Printf("Added %s (%s) as %s\n", t.Path, formatBytes(t.SizeBytes), shortID(t.ID))
			return nil
		})
	},
}

var targetRemoveCmd = &cobra.Command{
	Use:     "rm TARGET",
	Aliases: []string{"remove"},
	Short:   "Stop managing a target and delete its snapshot",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), "remove", func(a *app.FGApp) error {
			if err := a.RemoveTarget(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Printf("Removed %s\n", args[0])
			return nil
		})
	},
}

var targetListCmd = &cobra.Command{
	Use:     "ls",
	Aliases: []string{"list"},
	Short:   "List targets",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), "list", func(a *app.FGApp) error {
			targets := a.Targets()
			if len(targets) == 0 {
				fmt.Println("No targets registered.")
				return nil
			}
			rows := make([][]string, 0, len(targets))
			for _, t := range targets {
				rows = append(rows, targetRow(t))
			}
			renderTable(cmd.OutOrStdout(), targetHeader, rows)
			return nil
		})
	},
}

var targetShowCmd = &cobra.Command{
	Use:   "show TARGET",
	Short: "Show one target",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), "show", func(a *app.FGApp) error {
			t, err := a.ResolveTarget(args[0])
			if err != nil {
				return err
			}
			printTarget(cmd.OutOrStdout(), t)
			return nil
		})
	},
}

var targetFreezeCmd = &cobra.Command{
	Use:   "freeze TARGET",
	Short: "Capture the target so it can be restored later",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), "freeze", func(a *app.FGApp) error {
			t, err := a.FreezeTarget(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Printf("Frozen %s as snapshot %s\n", t.Path, t.SnapshotRef)
			return nil
		})
	},
}

var targetRestoreCmd = &cobra.Command{
	Use:   "restore TARGET",
	Short: "Roll the target back to its frozen snapshot",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), "restore", func(a *app.FGApp) error {
			if a.NeedsUnlock() {
				passphrase, err := readPassphrase("Passphrase: ")
				if err != nil {
					return err
				}
				if err := a.Unlock(passphrase); err != nil {
					return fmt.Errorf("unlocking snapshot key: %w", err)
				}
			}
			t, err := a.RestoreTarget(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Printf("Restored %s (%s)\n", t.Path, t.Status)
			return nil
		})
	},
}

var targetRecoverCmd = &cobra.Command{
	Use:   "recover TARGET",
	Short: "Clear the error state so the target can be frozen again",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), "recover", func(a *app.FGApp) error {
			t, err := a.RecoverTarget(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Printf("%s is %s\n", t.Path, t.Status)
			return nil
		})
	},
}

// withApp runs fn against a one-shot app and closes it afterwards.
func withApp(ctx context.Context, command string, fn func(a *app.FGApp) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	a, err := newApp(ctx, command, false)
	if err != nil {
		return err
	}
	defer a.Close()
	return describe(fn(a))
}

func init() {
	targetCmd.AddCommand(targetAddCmd)
	targetCmd.AddCommand(targetRemoveCmd)
	targetCmd.AddCommand(targetListCmd)
	targetCmd.AddCommand(targetShowCmd)
	targetCmd.AddCommand(targetFreezeCmd)
	targetCmd.AddCommand(targetRestoreCmd)
	targetCmd.AddCommand(targetRecoverCmd)
}
