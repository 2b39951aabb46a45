package main

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"fg-go/internal/app"
	"fg-go/internal/fs"
)

var snapshotsCmd = &cobra.Command{
	Use:   "snapshots",
	Short: "List stored snapshots",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), "snapshots", func(a *app.FGApp) error {
			snaps, err := a.Snapshots()
			if err != nil {
				return err
			}
			if len(snaps) == 0 {
				fmt.Println("No snapshots.")
				return nil
			}
			rows := make([][]string, 0, len(snaps))
			for _, s := range snaps {
				created := s.CreatedAt
				rows = append(rows, []string{
					s.ID,
					s.TargetPath,
					formatTime(&created),
					formatBytes(s.SizeBytes),
					fmt.Sprint(s.FileCount),
					s.Transform,
				})
			}
			renderTable(cmd.OutOrStdout(), []string{"ID", "Target", "Created", "Size", "Files", "Transform"}, rows)
			return nil
		})
	},
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "View operation history",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		return withApp(cmd.Context(), "history", func(a *app.FGApp) error {
			ops, err := a.History(limit)
			if err != nil {
				return err
			}
			if len(ops) == 0 {
				fmt.Println("No operations recorded.")
				return nil
			}

			rows := make([][]string, 0, len(ops))
			for _, op := range ops {
				duration := ""
				if op.FinishedAt != nil {
					duration = op.FinishedAt.Sub(op.StartedAt).Truncate(time.Millisecond).String()
				}
				started := op.StartedAt
				rows = append(rows, []string{
					fmt.Sprintf("#%d", op.ID),
					shortID(op.TargetID),
					string(op.Kind),
					formatTime(&started),
					string(op.Status),
					duration,
					op.Error,
				})
			}
			renderTable(cmd.OutOrStdout(), []string{"#", "Target", "Operation", "Started", "Status", "Duration", "Error"}, rows)
			return nil
		})
	},
}

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Delete expired, orphaned and incomplete snapshots",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), "cleanup", func(a *app.FGApp) error {
			report, err := a.Cleanup(cmd.Context())
			if report != nil {
				fmt.Printf("Expired:    %s\n", joinOrDash(report.Expired))
				fmt.Printf("Orphaned:   %s\n", joinOrDash(report.Orphaned))
				fmt.Printf("Incomplete: %s\n", joinOrDash(report.Incomplete))
				fmt.Printf("Kept %d snapshot(s), pruned %d journal row(s)\n", report.Kept, report.JournalPruned)
			}
			return err
		})
	},
}

func joinOrDash(ids []string) string {
	if len(ids) == 0 {
		return "-"
	}
	return strings.Join(ids, ", ")
}

var drivesCmd = &cobra.Command{
	Use:   "drives",
	Short: "List mount points that can be added as targets",
	RunE: func(cmd *cobra.Command, args []string) error {
		for _, d := range fs.CandidateRoots() {
			fmt.Fprintln(cmd.OutOrStdout(), d)
		}
		return nil
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Watch targets and serve the local HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		listen, _ := cmd.Flags().GetString("listen")

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a, err := newApp(ctx, "serve", true)
		if err != nil {
			return err
		}
		defer a.Close()

		if listen == "" {
			listen = a.Config().Server.Listen
		}
		fmt.Fprintf(os.Stderr, "fg %s serving on http://%s\n", version, listen)
		return a.Serve(ctx, listen)
	},
}

func init() {
	historyCmd.Flags().IntP("limit", "n", 50, "Maximum number of operations to show")
	serveCmd.Flags().String("listen", "", "Address to listen on (default from server.listen)")
}
