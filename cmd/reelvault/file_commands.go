package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"reelvault/internal/api"
	"reelvault/internal/config"
	"reelvault/internal/lifecycle"
	"reelvault/internal/transcode"
)

const waitPollInterval = 500 * time.Millisecond

func newFilesCommand(ctx *commandContext) *cobra.Command {
	filesCmd := &cobra.Command{
		Use:     "files",
		Aliases: []string{"ls"},
		Short:   "List and inspect stored files",
	}
	filesCmd.AddCommand(newFilesListCommand(ctx))
	filesCmd.AddCommand(newFilesShowCommand(ctx))
	filesCmd.AddCommand(newFilesStatusCommand(ctx))
	return filesCmd
}

func newFilesListCommand(ctx *commandContext) *cobra.Command {
	var setName string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List stored files",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *api.Client) error {
				files, err := client.ListFiles(cmd.Context(), setName)
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, files)
				}
				if len(files) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No files stored")
					return nil
				}
				fmt.Fprint(cmd.OutOrStdout(), renderTable(
					[]string{"ID", "Name", "Size", "Set", "Status", "HLS"},
					buildFileRows(files),
					[]columnAlignment{alignLeft, alignLeft, alignRight, alignLeft, alignLeft, alignLeft},
				))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&setName, "set", "", "Only list files in this set")
	return cmd
}

func newFilesShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show details for one file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *api.Client) error {
				file, err := client.GetFile(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, file)
				}
				renderFileDetail(cmd.OutOrStdout(), client.BaseURL(), file)
				return nil
			})
		},
	}
}

func newFilesStatusCommand(ctx *commandContext) *cobra.Command {
	var wait bool
	cmd := &cobra.Command{
		Use:   "status <id>",
		Short: "Show the transcode status of one file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *api.Client) error {
				var (
					status api.JobStatus
					err    error
				)
				if wait {
					status, err = waitForJob(cmd.Context(), client, args[0])
				} else {
					status, err = client.JobStatus(cmd.Context(), args[0])
				}
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, status)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", status.FileID, jobLabel(status.Status, status.Progress, status.Reason))
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&wait, "wait", false, "Block until the job finishes")
	return cmd
}

func newUploadCommand(ctx *commandContext) *cobra.Command {
	var (
		name        string
		setName     string
		contentType string
		wait        bool
	)
	cmd := &cobra.Command{
		Use:   "upload <path>",
		Short: "Upload a file to the daemon",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := config.ExpandPath(args[0])
			if err != nil {
				return err
			}
			f, err := os.Open(path)
			if err != nil {
				return fmt.Errorf("open %s: %w", path, err)
			}
			defer f.Close()
			info, err := f.Stat()
			if err != nil {
				return fmt.Errorf("stat %s: %w", path, err)
			}
			if info.IsDir() {
				return fmt.Errorf("%s is a directory", path)
			}
			if strings.TrimSpace(name) == "" {
				name = filepath.Base(path)
			}

			return ctx.withClient(func(client *api.Client) error {
				resp, err := client.Upload(cmd.Context(), api.UploadRequest{
					Name:        name,
					SetName:     setName,
					ContentType: contentType,
					Size:        info.Size(),
					Body:        f,
				})
				if err != nil {
					return err
				}
				var final *api.JobStatus
				if wait && resp.Transcoding {
					status, err := waitForJob(cmd.Context(), client, resp.ID)
					if err != nil {
						return err
					}
					final = &status
				}
				if ctx.jsonOutput() {
					if final != nil {
						return writeJSON(cmd, struct {
							api.UploadResponse
							Job *api.JobStatus `json:"job"`
						}{resp, final})
					}
					return writeJSON(cmd, resp)
				}

				out := cmd.OutOrStdout()
				verb := "Uploaded"
				if resp.Existing {
					verb = "Already stored"
				}
				fmt.Fprintf(out, "%s %s as %s\n", verb, name, resp.ID)
				fmt.Fprintf(out, "  original: %s%s\n", client.BaseURL(), resp.URL)
				switch {
				case resp.DerivedReady:
					fmt.Fprintf(out, "  hls:      %s%s\n", client.BaseURL(), api.DerivedURL(resp.ID))
				case final != nil:
					fmt.Fprintf(out, "  transcode: %s\n", jobLabel(final.Status, final.Progress, final.Reason))
				case resp.Transcoding:
					fmt.Fprintln(out, "  transcode: queued")
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "Display name (defaults to the file's base name)")
	cmd.Flags().StringVar(&setName, "set", "", "Associate the upload with a set")
	cmd.Flags().StringVar(&contentType, "content-type", "", "Declared content type (inferred from the name when empty)")
	cmd.Flags().BoolVar(&wait, "wait", false, "Block until the transcode finishes")
	return cmd
}

func newDeleteCommand(ctx *commandContext) *cobra.Command {
	var scope string
	cmd := &cobra.Command{
		Use:   "delete <id>...",
		Short: "Delete files or parts of them",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *api.Client) error {
				var failed []string
				for _, id := range args {
					if err := client.Delete(cmd.Context(), id, scope); err != nil {
						if api.IsAPIUnavailable(err) {
							return err
						}
						fmt.Fprintf(cmd.ErrOrStderr(), "%s: %v\n", id, err)
						failed = append(failed, id)
						continue
					}
					fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s (%s)\n", id, scope)
				}
				if len(failed) > 0 {
					return fmt.Errorf("delete failed for %s", strings.Join(failed, ", "))
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&scope, "scope", "all", "What to remove: all, original, or derived")
	return cmd
}

func newTranscodeCommand(ctx *commandContext) *cobra.Command {
	var wait bool
	cmd := &cobra.Command{
		Use:   "transcode <id>",
		Short: "Queue an HLS transcode for a stored file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *api.Client) error {
				resp, err := client.Trigger(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if wait && resp.Queued {
					status, err := waitForJob(cmd.Context(), client, args[0])
					if err != nil {
						return err
					}
					if ctx.jsonOutput() {
						return writeJSON(cmd, status)
					}
					fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", args[0], jobLabel(status.Status, status.Progress, status.Reason))
					return nil
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, resp)
				}
				switch {
				case resp.Status == lifecycle.TriggerAlreadyReady:
					fmt.Fprintf(cmd.OutOrStdout(), "%s already has HLS output\n", args[0])
				case resp.Queued:
					fmt.Fprintf(cmd.OutOrStdout(), "Queued transcode for %s\n", args[0])
				default:
					fmt.Fprintf(cmd.OutOrStdout(), "%s is already queued or transcoding\n", args[0])
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&wait, "wait", false, "Block until the transcode finishes")
	return cmd
}

// waitForJob polls until the job leaves the queued and transcoding states.
func waitForJob(ctx context.Context, client *api.Client, id string) (api.JobStatus, error) {
	for {
		status, err := client.JobStatus(ctx, id)
		if err != nil {
			return api.JobStatus{}, err
		}
		switch status.Status {
		case string(transcode.StatusQueued), string(transcode.StatusTranscoding):
		default:
			return status, nil
		}
		select {
		case <-ctx.Done():
			return status, ctx.Err()
		case <-time.After(waitPollInterval):
		}
	}
}

func buildFileRows(files []api.FileView) [][]string {
	rows := make([][]string, 0, len(files))
	for _, f := range files {
		rows = append(rows, []string{
			f.ID,
			f.DisplayName,
			humanBytes(f.ByteSize),
			orDash(f.SetName),
			jobLabel(f.Status, f.Progress, ""),
			yesNo(f.DerivedReady),
		})
	}
	return rows
}

func renderFileDetail(w io.Writer, baseURL string, f api.FileView) {
	fmt.Fprintf(w, "ID:           %s\n", f.ID)
	fmt.Fprintf(w, "Name:         %s\n", f.DisplayName)
	fmt.Fprintf(w, "Size:         %s (%d bytes)\n", humanBytes(f.ByteSize), f.ByteSize)
	fmt.Fprintf(w, "Content type: %s\n", orDash(f.ContentType))
	fmt.Fprintf(w, "Created:      %s\n", orDash(f.CreatedAt))
	fmt.Fprintf(w, "Set:          %s\n", orDash(f.SetName))
	if f.OriginalRemoved {
		fmt.Fprintln(w, "Original:     removed")
	} else {
		fmt.Fprintf(w, "Original:     %s%s\n", baseURL, f.OriginalURL)
	}
	if f.DerivedReady {
		fmt.Fprintf(w, "HLS:          %s%s\n", baseURL, f.DerivedURL)
	} else {
		fmt.Fprintln(w, "HLS:          not ready")
	}
	fmt.Fprintf(w, "Transcode:    %s\n", jobLabel(f.Status, f.Progress, f.Reason))
	if f.EncoderKind != "" {
		fmt.Fprintf(w, "Encoder:      %s\n", f.EncoderKind)
	}
}

func jobLabel(status string, progress int, reason string) string {
	label := status
	if status == string(transcode.StatusTranscoding) {
		label = fmt.Sprintf("transcoding %d%%", progress)
	}
	if reason != "" {
		label += " (" + reason + ")"
	}
	return label
}
