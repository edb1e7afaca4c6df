package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"reelvault/internal/api"
)

func newHistoryCommand(ctx *commandContext) *cobra.Command {
	var (
		fileID string
		limit  int
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show journaled transcode attempts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *api.Client) error {
				entries, err := client.History(cmd.Context(), fileID, limit)
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, entries)
				}
				if len(entries) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No transcode attempts recorded")
					return nil
				}
				fmt.Fprint(cmd.OutOrStdout(), renderTable(
					[]string{"File", "Try", "Encoder", "Outcome", "Duration", "Finished", "Reason"},
					buildHistoryRows(entries),
					[]columnAlignment{alignLeft, alignRight, alignLeft, alignLeft, alignRight, alignLeft, alignLeft},
				))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&fileID, "file", "", "Only show attempts for this file id")
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum number of attempts to show")
	return cmd
}

func buildHistoryRows(entries []api.HistoryEntry) [][]string {
	rows := make([][]string, 0, len(entries))
	for _, e := range entries {
		rows = append(rows, []string{
			e.FileID,
			strconv.Itoa(e.Attempt),
			e.EncoderKind,
			e.Outcome,
			(time.Duration(e.DurationMS) * time.Millisecond).Round(100 * time.Millisecond).String(),
			e.FinishedAt,
			orDash(e.Reason),
		})
	}
	return rows
}
