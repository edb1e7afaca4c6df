package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"reelvault/internal/daemonrun"
	"reelvault/internal/logs"
)

const logFollowWait = time.Second

func newLogsCommand(ctx *commandContext) *cobra.Command {
	var (
		follow bool
		lines  int
	)
	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Display daemon logs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			follower := logs.NewFollower(daemonrun.CurrentLogPath(cfg))

			initial, err := follower.Last(lines)
			if err != nil {
				return fmt.Errorf("read logs: %w", err)
			}
			for _, line := range initial {
				fmt.Fprintln(out, line)
			}
			if !follow {
				if len(initial) == 0 {
					fmt.Fprintln(out, "No log entries available")
				}
				return nil
			}
			for {
				next, err := follower.Next(cmd.Context(), logFollowWait)
				if err != nil {
					if errors.Is(err, cmd.Context().Err()) {
						return nil
					}
					return fmt.Errorf("follow logs: %w", err)
				}
				for _, line := range next {
					fmt.Fprintln(out, line)
				}
			}
		},
	}
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "Keep printing new log lines")
	cmd.Flags().IntVarP(&lines, "lines", "n", 50, "Number of trailing lines to show")
	return cmd
}
