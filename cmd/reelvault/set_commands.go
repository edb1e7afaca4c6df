package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"reelvault/internal/api"
)

func newAssociateCommand(ctx *commandContext) *cobra.Command {
	var setName string
	cmd := &cobra.Command{
		Use:   "associate --set <name> <id>...",
		Short: "Tag stored files with a set name",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(setName) == "" {
				return errors.New("--set is required")
			}
			return ctx.withClient(func(client *api.Client) error {
				updated, err := client.Associate(cmd.Context(), args, setName)
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, api.AssociateResponse{Updated: updated})
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Tagged %d of %d file(s) with set %q\n", updated, len(args), setName)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&setName, "set", "", "Set name to apply")
	return cmd
}

func newPurgeCommand(ctx *commandContext) *cobra.Command {
	var (
		setName string
		all     bool
	)
	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Remove every file in a set, or every file with --all",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			setName = strings.TrimSpace(setName)
			if setName == "" && !all {
				return errors.New("specify --set <name> or --all")
			}
			if setName != "" && all {
				return errors.New("--set and --all are mutually exclusive")
			}
			return ctx.withClient(func(client *api.Client) error {
				removed, err := client.Purge(cmd.Context(), setName)
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, api.PurgeResponse{Removed: removed})
				}
				scope := "all sets"
				if setName != "" {
					scope = fmt.Sprintf("set %q", setName)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Removed %d file(s) from %s\n", removed, scope)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&setName, "set", "", "Only remove files in this set")
	cmd.Flags().BoolVar(&all, "all", false, "Remove every stored file")
	return cmd
}
